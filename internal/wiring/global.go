// Package wiring installs and removes the host-app integration surface:
// global hooks/permissions/instructions under ~/.claude/, and per-project
// slash commands, MCP servers, config, and the PROJECT instructions block.
//
// Every operation is idempotent and reversible. The package mutates only
// the documents it is told to; user content outside managed regions and
// provenance-tagged entries is never touched.
package wiring

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ovitrac/AdservioToolbox/internal/extrun"
	"github.com/ovitrac/AdservioToolbox/internal/fileutil"
	"github.com/ovitrac/AdservioToolbox/internal/mergefile"
)

// Stub point for tests.
var userHomeDir = os.UserHomeDir

// GlobalPaths locates the user-level host-app files.
type GlobalPaths struct {
	ClaudeDir         string
	SettingsJSON      string
	SettingsLocalJSON string
	ClaudeMD          string
}

// DefaultGlobalPaths resolves the standard ~/.claude/ layout.
func DefaultGlobalPaths() (GlobalPaths, error) {
	home, err := userHomeDir()
	if err != nil {
		return GlobalPaths{}, fmt.Errorf("resolving home directory: %w", err)
	}
	return GlobalPathsIn(filepath.Join(home, ".claude")), nil
}

// GlobalPathsIn builds the layout rooted at an explicit directory.
func GlobalPathsIn(claudeDir string) GlobalPaths {
	return GlobalPaths{
		ClaudeDir:         claudeDir,
		SettingsJSON:      filepath.Join(claudeDir, "settings.json"),
		SettingsLocalJSON: filepath.Join(claudeDir, "settings.local.json"),
		ClaudeMD:          filepath.Join(claudeDir, "CLAUDE.md"),
	}
}

// GlobalPermissions are the allow rules pre-authorizing the toolbox CLIs.
var GlobalPermissions = []string{
	"Bash(cloak *)",
	"Bash(memctl *)",
	"Bash(toolboxctl *)",
	"Read",
	"Grep",
}

// Global hook profiles. "secrets" is the full secrets-redaction wiring;
// "minimal" keeps only the session lifecycle and prompt guard.
const (
	HookProfileSecrets = "secrets"
	HookProfileMinimal = "minimal"
)

type hookSpec struct {
	event   string
	script  string
	matcher string
	timeout int
}

var secretsHooks = []hookSpec{
	{event: "SessionStart", script: "cloak-session-start.sh", matcher: "startup", timeout: 60000},
	{event: "SessionEnd", script: "cloak-session-end.sh", timeout: 60000},
	{event: "UserPromptSubmit", script: "cloak-prompt-guard.sh", timeout: 10000},
	{event: "PreToolUse", script: "cloak-guard-write.sh", matcher: "Write|Edit", timeout: 10000},
	{event: "PostToolUse", script: "cloak-audit-logger.sh", matcher: "Write|Edit|Bash", timeout: 5000},
}

var minimalHooks = secretsHooks[:3]

func hooksForProfile(profile string) ([]hookSpec, error) {
	switch profile {
	case "", HookProfileSecrets:
		return secretsHooks, nil
	case HookProfileMinimal:
		return minimalHooks, nil
	}
	return nil, fmt.Errorf("unknown hook profile %q", profile)
}

// Memory-tool usage guidance deliberately lives in .claude/eco/ECO.md, not
// here; doctor flags global documents that still carry it.
const globalClaudeMDBody = `## Adservio Toolbox Conventions

- **CloakMCP** is active globally. Secrets are redacted to ` + "`TAG-xxxx`" + ` placeholders
  at session start and restored at session end.
  Do not attempt to bypass, decode, or reconstruct original secret values.
- When ` + "`TAG-xxxx`" + ` placeholders appear in files, they are CloakMCP redaction tags.
  Treat them as opaque identifiers. Do not modify or remove them.
- ` + "`cloak`, `memctl`, and `toolboxctl`" + ` CLI commands are pre-authorized (no confirmation needed).
- For projects with eco mode enabled, follow ` + "`.claude/eco/ECO.md`" + ` for the
  memory recall strategy.
- Run ` + "`toolboxctl doctor`" + ` to verify the toolbox installation at any time.`

// GlobalOptions tunes InstallGlobal.
type GlobalOptions struct {
	// Profile selects the hook set; defaults to HookProfileSecrets.
	Profile string
	// ScriptsDir overrides hook script resolution. Empty means ask cloak.
	ScriptsDir string
}

// GlobalReport records what each global artifact operation did.
type GlobalReport struct {
	Permissions mergefile.Result `json:"permissions"`
	Hooks       mergefile.Result `json:"hooks"`
	Block       mergefile.Result `json:"block"`
}

// Changed reports whether any artifact was written.
func (r *GlobalReport) Changed() bool {
	return r.Permissions.Mutated() || r.Hooks.Mutated() || r.Block.Mutated()
}

// resolveScriptsDir asks cloak where its hook scripts live.
func resolveScriptsDir(ctx context.Context) (string, error) {
	res, err := extrun.Run(ctx, "cloak", "scripts-path")
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("cloak scripts-path exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	dir := strings.TrimSpace(res.Stdout)
	if !fileutil.DirExists(dir) {
		return "", fmt.Errorf("cloak scripts path %q is not a directory", dir)
	}
	return dir, nil
}

// resolveHookScript finds the absolute path for a hook script, falling back
// to the project-relative location when the packaged script is absent.
func resolveHookScript(scriptsDir, name string) string {
	for _, candidate := range []string{
		filepath.Join(scriptsDir, "hooks", name),
		filepath.Join(scriptsDir, name),
	} {
		if fileutil.FileExists(candidate) {
			return candidate
		}
	}
	return ".claude/hooks/" + name
}

func buildHookGroups(specs []hookSpec, scriptsDir string) map[string][]mergefile.HookGroup {
	groups := make(map[string][]mergefile.HookGroup, len(specs))
	for _, spec := range specs {
		groups[spec.event] = append(groups[spec.event], mergefile.HookGroup{
			Matcher: spec.matcher,
			Hooks: []mergefile.HookCommand{{
				Type:    "command",
				Command: resolveHookCommand(resolveHookScript(scriptsDir, spec.script)),
				Timeout: spec.timeout,
			}},
		})
	}
	return groups
}

// InstallGlobal wires permissions, hooks, and the GLOBAL instructions block
// under paths. A corrupt settings document aborts before any write.
func InstallGlobal(ctx context.Context, paths GlobalPaths, opts GlobalOptions) (*GlobalReport, error) {
	specs, err := hooksForProfile(opts.Profile)
	if err != nil {
		return nil, err
	}

	scriptsDir := opts.ScriptsDir
	if scriptsDir == "" {
		scriptsDir, err = resolveScriptsDir(ctx)
		if err != nil {
			return nil, err
		}
	}

	if err := fileutil.EnsureDir(paths.ClaudeDir, 0o755); err != nil {
		return nil, err
	}

	report := &GlobalReport{}
	report.Permissions, err = mergefile.MergePermissions(paths.SettingsLocalJSON, GlobalPermissions)
	if err != nil {
		return nil, err
	}
	report.Hooks, err = mergefile.MergeHooks(paths.SettingsJSON, buildHookGroups(specs, scriptsDir))
	if err != nil {
		return nil, err
	}
	report.Block, err = mergefile.UpsertBlock(paths.ClaudeMD, mergefile.GlobalMarkers, globalClaudeMDBody)
	if err != nil {
		return nil, err
	}
	return report, nil
}

// InstallGlobalPermissions grants the toolbox permission rules without
// touching hooks or the instructions block. Install without --global
// stops here.
func InstallGlobalPermissions(paths GlobalPaths) (mergefile.Result, error) {
	if err := fileutil.EnsureDir(paths.ClaudeDir, 0o755); err != nil {
		return mergefile.Unchanged, err
	}
	return mergefile.MergePermissions(paths.SettingsLocalJSON, GlobalPermissions)
}

// UninstallGlobal reverses InstallGlobal: removes provenance-tagged hook
// entries, the toolbox permission rules, and the GLOBAL block.
func UninstallGlobal(paths GlobalPaths) (*GlobalReport, error) {
	report := &GlobalReport{}
	var err error

	report.Hooks, err = mergefile.RemoveHooks(paths.SettingsJSON)
	if err != nil {
		return nil, err
	}
	report.Permissions, err = mergefile.RemovePermissions(paths.SettingsLocalJSON, GlobalPermissions)
	if err != nil {
		return nil, err
	}
	report.Block, err = mergefile.StripBlock(paths.ClaudeMD, mergefile.GlobalMarkers)
	if err != nil {
		return nil, err
	}
	return report, nil
}

// RefreshGlobalBlock re-renders the GLOBAL block without touching hooks or
// permissions. Legacy markers are reported, never rewritten.
func RefreshGlobalBlock(paths GlobalPaths) (mergefile.Result, error) {
	return mergefile.UpsertBlock(paths.ClaudeMD, mergefile.GlobalMarkers, globalClaudeMDBody)
}

// GlobalStatus summarizes the installed global wiring for doctor/status.
type GlobalStatus struct {
	HooksInstalled       bool     `json:"hooks_installed"`
	HookCount            int      `json:"hook_count"`
	HookEvents           []string `json:"hook_events"`
	PermissionsInstalled bool     `json:"permissions_installed"`
	BlockInstalled       bool     `json:"block_installed"`
	LegacyMarkers        bool     `json:"legacy_markers"`
}

// CheckGlobal inspects the global wiring without mutating anything.
func CheckGlobal(paths GlobalPaths) GlobalStatus {
	status := GlobalStatus{}

	if data, err := os.ReadFile(paths.SettingsJSON); err == nil { // #nosec G304 -- fixed layout under the claude dir
		status.HookCount, status.HookEvents = countTaggedHooks(data)
		status.HooksInstalled = status.HookCount > 0
	}
	if data, err := os.ReadFile(paths.SettingsLocalJSON); err == nil { // #nosec G304 -- fixed layout under the claude dir
		status.PermissionsInstalled = hasAllPermissions(data, GlobalPermissions)
	}
	if data, err := os.ReadFile(paths.ClaudeMD); err == nil { // #nosec G304 -- fixed layout under the claude dir
		status.BlockInstalled = mergefile.HasBlock(data, mergefile.GlobalMarkers)
		status.LegacyMarkers = mergefile.HasLegacyBlock(data)
	}
	return status
}
