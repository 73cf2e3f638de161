package wiring

import (
	"encoding/json"
	"sort"

	"github.com/ovitrac/AdservioToolbox/internal/mergefile"
)

// countTaggedHooks counts provenance-tagged hook entries in a settings
// document and lists the events carrying them. Unparsable input counts as
// zero; inspection never fails hard.
func countTaggedHooks(data []byte) (int, []string) {
	var doc struct {
		Hooks map[string][]struct {
			Source string `json:"_source"`
		} `json:"hooks"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return 0, nil
	}

	count := 0
	eventSet := map[string]bool{}
	for event, entries := range doc.Hooks {
		for _, entry := range entries {
			if entry.Source == mergefile.SourceTag {
				count++
				eventSet[event] = true
			}
		}
	}
	events := make([]string, 0, len(eventSet))
	for e := range eventSet {
		events = append(events, e)
	}
	sort.Strings(events)
	return count, events
}

// hasAllPermissions reports whether every rule appears in permissions.allow.
func hasAllPermissions(data []byte, rules []string) bool {
	var doc struct {
		Permissions struct {
			Allow []string `json:"allow"`
		} `json:"permissions"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return false
	}
	present := make(map[string]bool, len(doc.Permissions.Allow))
	for _, rule := range doc.Permissions.Allow {
		present[rule] = true
	}
	for _, rule := range rules {
		if !present[rule] {
			return false
		}
	}
	return true
}
