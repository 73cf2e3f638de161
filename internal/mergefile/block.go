// Package mergefile implements the file-surgery primitives used by the
// wiring layer: marker-delimited block upserts in Markdown documents,
// provenance-tagged merges into JSON settings documents, and line-set
// union for ignore files.
//
// Every mutating operation writes through an atomic temp-file rename and
// is idempotent: re-applying the same change reports Unchanged and leaves
// the file byte-identical. Bytes outside the managed region are never
// altered.
package mergefile

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ovitrac/AdservioToolbox/internal/fileutil"
)

// SourceTag is the provenance value stamped on every JSON entry this tool
// owns. Uninstall removes exactly the entries carrying it.
const SourceTag = "adservio-toolbox"

// Markers delimits one managed region inside a user-owned document.
type Markers struct {
	Begin string
	End   string
}

// GlobalMarkers delimits the GLOBAL instructions block in ~/.claude/CLAUDE.md.
var GlobalMarkers = Markers{
	Begin: "<!-- ADSERVIO_TOOLBOX BEGIN — managed by toolboxctl, do not edit manually -->",
	End:   "<!-- ADSERVIO_TOOLBOX END -->",
}

// ProjectMarkers delimits the PROJECT block in a project's CLAUDE.md.
var ProjectMarkers = Markers{
	Begin: "<!-- ADSERVIO_TOOLBOX PROJECT BEGIN — managed by toolboxctl, do not edit manually -->",
	End:   "<!-- ADSERVIO_TOOLBOX PROJECT END -->",
}

// legacyMarkers are marker pairs written by older releases. They are
// detected so doctor can warn, but never rewritten or migrated.
var legacyMarkers = []Markers{
	{Begin: "<!-- ADSERVIO-TOOLBOX BEGIN -->", End: "<!-- ADSERVIO-TOOLBOX END -->"},
	{Begin: "<!-- toolbox:begin -->", End: "<!-- toolbox:end -->"},
}

// Result classifies what a merge operation did to the target file.
type Result int

const (
	// Unchanged: the file already had the desired content; nothing written.
	Unchanged Result = iota
	// Created: the file did not exist and was created.
	Created
	// Added: the managed region was appended to an existing file.
	Added
	// Updated: the managed region existed and its body was replaced.
	Updated
	// Removed: the managed region (or entries) were stripped.
	Removed
	// Absent: nothing to remove.
	Absent
	// LegacyDetected: only legacy markers exist; the file was left untouched.
	LegacyDetected
)

func (r Result) String() string {
	switch r {
	case Unchanged:
		return "unchanged"
	case Created:
		return "created"
	case Added:
		return "added"
	case Updated:
		return "updated"
	case Removed:
		return "removed"
	case Absent:
		return "absent"
	case LegacyDetected:
		return "legacy-detected"
	}
	return fmt.Sprintf("Result(%d)", int(r))
}

// MarshalJSON renders the result as its string form for report output.
func (r Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// Mutated reports whether the operation wrote the file.
func (r Result) Mutated() bool {
	switch r {
	case Created, Added, Updated, Removed:
		return true
	}
	return false
}

// HasBlock reports whether data contains a complete marker pair.
func HasBlock(data []byte, m Markers) bool {
	s := string(data)
	return strings.Contains(s, m.Begin) && strings.Contains(s, m.End)
}

// HasLegacyBlock reports whether data carries markers from an older release.
func HasLegacyBlock(data []byte) bool {
	s := string(data)
	for _, m := range legacyMarkers {
		if strings.Contains(s, m.Begin) {
			return true
		}
	}
	return false
}

// renderBlock assembles the full managed region, markers included, with a
// guaranteed trailing newline on the body.
func renderBlock(m Markers, body string) string {
	body = strings.TrimRight(body, "\n")
	if body == "" {
		return m.Begin + "\n" + m.End + "\n"
	}
	return m.Begin + "\n" + body + "\n" + m.End + "\n"
}

// UpsertBlock installs or refreshes the managed region delimited by m in
// the document at path.
//
//   - Missing file: created containing only the block.
//   - Markers present: body replaced in place, everything else untouched.
//   - No markers but legacy markers present: file left alone, LegacyDetected.
//   - No markers at all: block appended after a blank-line separator.
func UpsertBlock(path string, m Markers, body string) (Result, error) {
	block := renderBlock(m, body)

	data, err := os.ReadFile(path) // #nosec G304 -- path is controlled by the caller, not user input
	if os.IsNotExist(err) {
		if werr := fileutil.AtomicWriteFile(path, []byte(block)); werr != nil {
			return Unchanged, werr
		}
		return Created, nil
	}
	if err != nil {
		return Unchanged, err
	}

	content := string(data)
	beginIdx := strings.Index(content, m.Begin)
	if beginIdx >= 0 {
		// The end marker must follow the begin marker; one stranded before
		// it would splice overlapping slices.
		endIdx := strings.Index(content[beginIdx:], m.End)
		if endIdx < 0 {
			return Unchanged, fmt.Errorf("%s: begin marker without end marker", path)
		}
		endIdx += beginIdx
		before := content[:beginIdx]
		after := content[endIdx+len(m.End):]
		after = strings.TrimPrefix(after, "\n")
		next := before + block + after
		if next == content {
			return Unchanged, nil
		}
		if werr := fileutil.AtomicWriteFile(path, []byte(next)); werr != nil {
			return Unchanged, werr
		}
		return Updated, nil
	}

	if HasLegacyBlock(data) {
		return LegacyDetected, nil
	}

	sep := ""
	if content != "" && !strings.HasSuffix(content, "\n") {
		sep = "\n"
	}
	if strings.TrimSpace(content) != "" && !strings.HasSuffix(content, "\n\n") {
		sep += "\n"
	}
	next := content + sep + block
	if werr := fileutil.AtomicWriteFile(path, []byte(next)); werr != nil {
		return Unchanged, werr
	}
	return Added, nil
}

// StripBlock removes the managed region, markers included, restoring the
// surrounding content. The blank-line separator UpsertBlock added is
// collapsed so strip-after-add reproduces the original bytes. When nothing
// but the block remains, the file is deleted.
func StripBlock(path string, m Markers) (Result, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is controlled by the caller, not user input
	if os.IsNotExist(err) {
		return Absent, nil
	}
	if err != nil {
		return Absent, err
	}

	content := string(data)
	beginIdx := strings.Index(content, m.Begin)
	if beginIdx < 0 {
		return Absent, nil
	}
	endIdx := strings.Index(content[beginIdx:], m.End)
	if endIdx < 0 {
		return Absent, fmt.Errorf("%s: begin marker without end marker", path)
	}
	endIdx += beginIdx

	before := content[:beginIdx]
	after := content[endIdx+len(m.End):]
	after = strings.TrimPrefix(after, "\n")

	// Undo the separator added on append.
	if strings.HasSuffix(before, "\n\n") && strings.TrimSpace(before) != "" {
		before = before[:len(before)-1]
	}

	next := before + after
	if strings.TrimSpace(next) == "" {
		if rerr := os.Remove(path); rerr != nil {
			return Absent, rerr
		}
		return Removed, nil
	}
	if next == content {
		return Unchanged, nil
	}
	if werr := fileutil.AtomicWriteFile(path, []byte(next)); werr != nil {
		return Absent, werr
	}
	return Removed, nil
}
