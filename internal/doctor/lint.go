package doctor

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ovitrac/AdservioToolbox/internal/fileutil"
	"github.com/ovitrac/AdservioToolbox/internal/manifest"
	"github.com/ovitrac/AdservioToolbox/internal/mergefile"
	"github.com/ovitrac/AdservioToolbox/internal/wiring"
)

// memoryGuidanceMarkers betray memory-tool usage instructions. Those
// belong in .claude/eco/ECO.md, not in the global document.
var memoryGuidanceMarkers = []string{
	"memory_recall",
	"memory_inspect",
	"memctl search",
}

// securityRuleMarkers identify the global CloakMCP rules. A project
// document should reference them, never restate them.
var securityRuleMarkers = []string{
	"Do not attempt to bypass",
	"restored at session end",
}

// lintChecks runs the doctrine lint over the global and project documents.
// Every violation is a warning; strict mode promotes them at exit time.
func lintChecks(opts Options) []Check {
	var checks []Check

	globalDoc, _ := os.ReadFile(opts.GlobalPaths.ClaudeMD) // #nosec G304 -- fixed layout under the claude dir
	projectDoc, _ := os.ReadFile(filepath.Join(opts.ProjectDir, "CLAUDE.md"))

	// Legacy markers: detected, never rewritten.
	legacyIn := []string{}
	if mergefile.HasLegacyBlock(globalDoc) {
		legacyIn = append(legacyIn, "global CLAUDE.md")
	}
	if mergefile.HasLegacyBlock(projectDoc) {
		legacyIn = append(legacyIn, "project CLAUDE.md")
	}
	if len(legacyIn) > 0 {
		checks = append(checks, Check{
			Name: "lint-legacy-markers", Status: StatusWarning,
			Message: "legacy markers in " + strings.Join(legacyIn, ", "),
			Fix:     "remove the old block manually, then rerun toolboxctl update",
			Category: "lint",
		})
	} else {
		checks = append(checks, Check{
			Name: "lint-legacy-markers", Status: StatusOK, Message: "none", Category: "lint",
		})
	}

	// Memory-tool guidance in the global document.
	if containsAny(string(globalDoc), memoryGuidanceMarkers) {
		checks = append(checks, Check{
			Name: "lint-global-memory-guidance", Status: StatusWarning,
			Message: "memory-tool guidance found in global CLAUDE.md",
			Fix:     "move it to .claude/eco/ECO.md; toolboxctl update --global refreshes the block",
			Category: "lint",
		})
	} else {
		checks = append(checks, Check{
			Name: "lint-global-memory-guidance", Status: StatusOK, Message: "none", Category: "lint",
		})
	}

	// Security rules restated in the project document.
	if containsAny(string(projectDoc), securityRuleMarkers) {
		checks = append(checks, Check{
			Name: "lint-project-security-rules", Status: StatusWarning,
			Message: "project CLAUDE.md restates global security rules",
			Fix:     "reference ~/.claude/CLAUDE.md instead of duplicating it",
			Category: "lint",
		})
	} else {
		checks = append(checks, Check{
			Name: "lint-project-security-rules", Status: StatusOK, Message: "none", Category: "lint",
		})
	}

	checks = append(checks, companionDocCheck(opts))
	checks = append(checks, cloakPolicyCheck(opts))
	return checks
}

// companionDocCheck verifies the profile's expected companion document.
func companionDocCheck(opts Options) Check {
	m, err := manifest.Load(opts.ProjectDir)
	if err != nil || m.Profile != wiring.ProfileDev {
		return Check{Name: "lint-companion-doc", Status: StatusOK, Message: "n/a", Category: "lint"}
	}
	if fileutil.FileExists(filepath.Join(opts.ProjectDir, ".claude", "PROJECT.md")) {
		return Check{Name: "lint-companion-doc", Status: StatusOK, Message: "present", Category: "lint"}
	}
	return Check{
		Name: "lint-companion-doc", Status: StatusWarning,
		Message: "dev profile without .claude/PROJECT.md",
		Fix:     "toolboxctl init --force --profile dev", Category: "lint",
	}
}

// cloakPolicyCheck lint-parses the configured cloak policy when present.
func cloakPolicyCheck(opts Options) Check {
	path := opts.CloakPolicyPath
	if path == "" {
		return Check{Name: "lint-cloak-policy", Status: StatusOK, Message: "n/a", Category: "lint"}
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(opts.ProjectDir, path)
	}
	data, err := os.ReadFile(path) // #nosec G304 -- path from resolved config
	if err != nil {
		return Check{Name: "lint-cloak-policy", Status: StatusOK, Message: "no policy file", Category: "lint"}
	}
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Check{
			Name: "lint-cloak-policy", Status: StatusWarning,
			Message: "policy file does not parse as YAML",
			Detail:  err.Error(),
			Fix:     "fix " + opts.CloakPolicyPath + " or regenerate it with cloak init",
			Category: "lint",
		}
	}
	return Check{Name: "lint-cloak-policy", Status: StatusOK, Message: "parses", Category: "lint"}
}

func containsAny(s string, markers []string) bool {
	for _, marker := range markers {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}
