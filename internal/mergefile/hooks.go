package mergefile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/ovitrac/AdservioToolbox/internal/fileutil"
)

// CorruptTargetError reports a settings document that failed to parse.
// The operation aborts before any write; the file stays byte-identical.
type CorruptTargetError struct {
	Path string
	Err  error
}

func (e *CorruptTargetError) Error() string {
	return fmt.Sprintf("corrupt target file %s: %v", e.Path, e.Err)
}

func (e *CorruptTargetError) Unwrap() error { return e.Err }

// IsCorruptTarget reports whether err is a corrupt-document failure.
func IsCorruptTarget(err error) bool {
	var ce *CorruptTargetError
	return errors.As(err, &ce)
}

// HookCommand is a single command entry inside a hook group.
type HookCommand struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	Timeout int    `json:"timeout,omitempty"`
}

// HookGroup is one entry in a hook event's list. Source carries the
// provenance tag; entries without our tag are never touched.
type HookGroup struct {
	Matcher string        `json:"matcher,omitempty"`
	Hooks   []HookCommand `json:"hooks"`
	Source  string        `json:"_source"`
}

// loadJSONDoc reads path as a JSON object. Missing file yields an empty
// document; anything unparsable is a *CorruptTargetError.
func loadJSONDoc(path string) (map[string]any, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is controlled by the caller, not user input
	if os.IsNotExist(err) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]any{}, nil
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &CorruptTargetError{Path: path, Err: err}
	}
	return doc, nil
}

// saveJSONDoc writes doc back atomically when its serialized form differs
// from what is on disk, reporting whether a write happened. Output is
// deterministic: two-space indent, sorted object keys, trailing newline.
func saveJSONDoc(path string, doc map[string]any) (bool, error) {
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return false, err
	}
	out = append(out, '\n')

	prev, rerr := os.ReadFile(path) // #nosec G304 -- path is controlled by the caller, not user input
	if rerr == nil && bytes.Equal(prev, out) {
		return false, nil
	}
	if werr := fileutil.AtomicWriteFile(path, out); werr != nil {
		return false, werr
	}
	return true, nil
}

func groupSource(entry any) string {
	m, ok := entry.(map[string]any)
	if !ok {
		return ""
	}
	s, _ := m["_source"].(string)
	return s
}

// MergeHooks installs the given hook groups per event into the settings
// document at path. Every existing entry carrying SourceTag is removed
// first, across all events, so a profile switch cannot leave stale entries
// behind in events the new profile no longer uses. Entries from the user
// or other tools survive untouched, in order.
func MergeHooks(path string, hooks map[string][]HookGroup) (Result, error) {
	doc, err := loadJSONDoc(path)
	if err != nil {
		return Unchanged, err
	}
	existed := fileutil.FileExists(path)

	hooksVal, ok := doc["hooks"]
	if !ok {
		hooksVal = map[string]any{}
	}
	events, ok := hooksVal.(map[string]any)
	if !ok {
		return Unchanged, &CorruptTargetError{Path: path, Err: fmt.Errorf("hooks is not an object")}
	}

	for event, v := range events {
		cur, ok := v.([]any)
		if !ok {
			continue
		}
		var kept []any
		for _, entry := range cur {
			if groupSource(entry) != SourceTag {
				kept = append(kept, entry)
			}
		}
		if len(kept) == 0 && len(hooks[event]) == 0 {
			delete(events, event)
		} else {
			events[event] = kept
		}
	}

	for event, groups := range hooks {
		kept, _ := events[event].([]any)
		for _, g := range groups {
			g.Source = SourceTag
			kept = append(kept, toJSONValue(g))
		}
		events[event] = kept
	}
	doc["hooks"] = events

	wrote, err := saveJSONDoc(path, doc)
	if err != nil {
		return Unchanged, err
	}
	switch {
	case !wrote:
		return Unchanged, nil
	case !existed:
		return Created, nil
	default:
		return Updated, nil
	}
}

// RemoveHooks strips every hook entry carrying SourceTag from the settings
// document at path. Empty event lists and an empty hooks object are pruned.
func RemoveHooks(path string) (Result, error) {
	if !fileutil.FileExists(path) {
		return Absent, nil
	}
	doc, err := loadJSONDoc(path)
	if err != nil {
		return Absent, err
	}

	events, ok := doc["hooks"].(map[string]any)
	if !ok {
		return Absent, nil
	}

	changed := false
	for event, v := range events {
		cur, ok := v.([]any)
		if !ok {
			continue
		}
		var kept []any
		for _, entry := range cur {
			if groupSource(entry) == SourceTag {
				changed = true
				continue
			}
			kept = append(kept, entry)
		}
		if len(kept) == 0 {
			delete(events, event)
		} else {
			events[event] = kept
		}
	}
	if len(events) == 0 {
		delete(doc, "hooks")
	}
	if !changed {
		return Absent, nil
	}

	if _, err := saveJSONDoc(path, doc); err != nil {
		return Absent, err
	}
	return Removed, nil
}

// MergePermissions unions the given allow rules into permissions.allow,
// preserving existing order and appending new rules at the end.
func MergePermissions(path string, allow []string) (Result, error) {
	doc, err := loadJSONDoc(path)
	if err != nil {
		return Unchanged, err
	}
	existed := fileutil.FileExists(path)

	permsVal, ok := doc["permissions"]
	if !ok {
		permsVal = map[string]any{}
	}
	perms, ok := permsVal.(map[string]any)
	if !ok {
		return Unchanged, &CorruptTargetError{Path: path, Err: fmt.Errorf("permissions is not an object")}
	}

	var current []any
	if cur, ok := perms["allow"].([]any); ok {
		current = cur
	}
	seen := make(map[string]bool, len(current))
	for _, v := range current {
		if s, ok := v.(string); ok {
			seen[s] = true
		}
	}
	for _, rule := range allow {
		if !seen[rule] {
			current = append(current, rule)
			seen[rule] = true
		}
	}
	perms["allow"] = current
	doc["permissions"] = perms

	wrote, err := saveJSONDoc(path, doc)
	if err != nil {
		return Unchanged, err
	}
	switch {
	case !wrote:
		return Unchanged, nil
	case !existed:
		return Created, nil
	default:
		return Updated, nil
	}
}

// RemovePermissions deletes exactly the given rules from permissions.allow.
// Rules the user added independently of this tool are left in place.
func RemovePermissions(path string, allow []string) (Result, error) {
	if !fileutil.FileExists(path) {
		return Absent, nil
	}
	doc, err := loadJSONDoc(path)
	if err != nil {
		return Absent, err
	}

	perms, ok := doc["permissions"].(map[string]any)
	if !ok {
		return Absent, nil
	}
	current, ok := perms["allow"].([]any)
	if !ok {
		return Absent, nil
	}

	drop := make(map[string]bool, len(allow))
	for _, rule := range allow {
		drop[rule] = true
	}
	var kept []any
	changed := false
	for _, v := range current {
		if s, ok := v.(string); ok && drop[s] {
			changed = true
			continue
		}
		kept = append(kept, v)
	}
	if !changed {
		return Absent, nil
	}

	if len(kept) == 0 {
		delete(perms, "allow")
	} else {
		perms["allow"] = kept
	}
	if len(perms) == 0 {
		delete(doc, "permissions")
	}

	if _, err := saveJSONDoc(path, doc); err != nil {
		return Absent, err
	}
	return Removed, nil
}

// toJSONValue round-trips a typed struct into the generic map shape used
// by the merged document.
func toJSONValue(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
