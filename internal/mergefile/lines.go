package mergefile

import (
	"os"
	"strings"

	"github.com/ovitrac/AdservioToolbox/internal/fileutil"
)

// EnsureLines appends each line not already present in the file at path,
// creating the file when missing. Existing content is never reordered.
func EnsureLines(path string, lines []string) (Result, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is controlled by the caller, not user input
	if err != nil && !os.IsNotExist(err) {
		return Unchanged, err
	}
	existed := err == nil

	content := string(data)
	present := make(map[string]bool)
	for _, line := range strings.Split(content, "\n") {
		present[strings.TrimSpace(line)] = true
	}

	var missing []string
	for _, line := range lines {
		if !present[strings.TrimSpace(line)] {
			missing = append(missing, line)
		}
	}
	if len(missing) == 0 {
		return Unchanged, nil
	}

	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += strings.Join(missing, "\n") + "\n"

	if werr := fileutil.AtomicWriteFile(path, []byte(content)); werr != nil {
		return Unchanged, werr
	}
	if existed {
		return Added, nil
	}
	return Created, nil
}

// RemoveLines deletes each exact-match line from the file at path. Lines
// the user wrote themselves (anything not in the list) survive untouched.
// A file emptied by removal is deleted.
func RemoveLines(path string, lines []string) (Result, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is controlled by the caller, not user input
	if os.IsNotExist(err) {
		return Absent, nil
	}
	if err != nil {
		return Absent, err
	}

	drop := make(map[string]bool, len(lines))
	for _, line := range lines {
		drop[strings.TrimSpace(line)] = true
	}

	src := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	var kept []string
	changed := false
	for _, line := range src {
		if drop[strings.TrimSpace(line)] {
			changed = true
			continue
		}
		kept = append(kept, line)
	}
	if !changed {
		return Absent, nil
	}

	if len(kept) == 0 || strings.TrimSpace(strings.Join(kept, "\n")) == "" {
		if rerr := os.Remove(path); rerr != nil {
			return Absent, rerr
		}
		return Removed, nil
	}

	next := strings.Join(kept, "\n") + "\n"
	if werr := fileutil.AtomicWriteFile(path, []byte(next)); werr != nil {
		return Absent, werr
	}
	return Removed, nil
}
