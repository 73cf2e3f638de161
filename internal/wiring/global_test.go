package wiring

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/ovitrac/AdservioToolbox/internal/mergefile"
)

// fakeScriptsDir lays out hook scripts the way the cloak package ships them.
func fakeScriptsDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	hooks := filepath.Join(dir, "hooks")
	if err := os.MkdirAll(hooks, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, spec := range secretsHooks {
		path := filepath.Join(hooks, spec.script)
		if err := os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func installOpts(t *testing.T) (GlobalPaths, GlobalOptions) {
	t.Helper()
	paths := GlobalPathsIn(filepath.Join(t.TempDir(), ".claude"))
	return paths, GlobalOptions{ScriptsDir: fakeScriptsDir(t)}
}

func readJSONFile(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("decoding %s: %v", path, err)
	}
	return doc
}

func TestInstallGlobalSecretsProfile(t *testing.T) {
	paths, opts := installOpts(t)

	report, err := InstallGlobal(context.Background(), paths, opts)
	if err != nil {
		t.Fatalf("InstallGlobal() error = %v", err)
	}
	if !report.Changed() {
		t.Error("Changed() = false on fresh install")
	}

	settings := readJSONFile(t, paths.SettingsJSON)
	events := settings["hooks"].(map[string]any)
	for _, event := range []string{"SessionStart", "SessionEnd", "UserPromptSubmit", "PreToolUse", "PostToolUse"} {
		entries, ok := events[event].([]any)
		if !ok || len(entries) != 1 {
			t.Errorf("event %s entries = %v, want 1", event, events[event])
			continue
		}
		entry := entries[0].(map[string]any)
		if entry["_source"] != mergefile.SourceTag {
			t.Errorf("event %s _source = %v", event, entry["_source"])
		}
	}

	local := readJSONFile(t, paths.SettingsLocalJSON)
	allow := local["permissions"].(map[string]any)["allow"].([]any)
	if len(allow) != len(GlobalPermissions) {
		t.Errorf("allow = %v, want %v", allow, GlobalPermissions)
	}

	md, err := os.ReadFile(paths.ClaudeMD)
	if err != nil {
		t.Fatalf("reading CLAUDE.md: %v", err)
	}
	if !mergefile.HasBlock(md, mergefile.GlobalMarkers) {
		t.Error("CLAUDE.md missing managed block")
	}
}

func TestInstallGlobalMinimalProfile(t *testing.T) {
	paths, opts := installOpts(t)
	opts.Profile = HookProfileMinimal

	if _, err := InstallGlobal(context.Background(), paths, opts); err != nil {
		t.Fatalf("InstallGlobal() error = %v", err)
	}

	settings := readJSONFile(t, paths.SettingsJSON)
	events := settings["hooks"].(map[string]any)
	if len(events) != 3 {
		t.Errorf("events = %d, want 3 for minimal profile", len(events))
	}
	for _, event := range []string{"PreToolUse", "PostToolUse"} {
		if _, ok := events[event]; ok {
			t.Errorf("event %s present in minimal profile", event)
		}
	}
}

func TestInstallGlobalProfileSwitch(t *testing.T) {
	paths, opts := installOpts(t)
	ctx := context.Background()

	opts.Profile = HookProfileSecrets
	if _, err := InstallGlobal(ctx, paths, opts); err != nil {
		t.Fatal(err)
	}

	opts.Profile = HookProfileMinimal
	if _, err := InstallGlobal(ctx, paths, opts); err != nil {
		t.Fatalf("InstallGlobal() profile switch error = %v", err)
	}

	settings := readJSONFile(t, paths.SettingsJSON)
	events := settings["hooks"].(map[string]any)
	if len(events) != 3 {
		t.Errorf("events after switch = %d, want 3", len(events))
	}
	for _, event := range []string{"PreToolUse", "PostToolUse"} {
		if _, ok := events[event]; ok {
			t.Errorf("stale %s entry survived the switch to minimal", event)
		}
	}
}

func TestInstallGlobalUnknownProfile(t *testing.T) {
	paths, opts := installOpts(t)
	opts.Profile = "everything"

	if _, err := InstallGlobal(context.Background(), paths, opts); err == nil {
		t.Fatal("InstallGlobal() with unknown profile succeeded, want error")
	}
}

func TestInstallGlobalIdempotent(t *testing.T) {
	paths, opts := installOpts(t)
	ctx := context.Background()

	if _, err := InstallGlobal(ctx, paths, opts); err != nil {
		t.Fatal(err)
	}
	settingsBefore, _ := os.ReadFile(paths.SettingsJSON)
	mdBefore, _ := os.ReadFile(paths.ClaudeMD)

	report, err := InstallGlobal(ctx, paths, opts)
	if err != nil {
		t.Fatalf("InstallGlobal() second run error = %v", err)
	}
	if report.Changed() {
		t.Errorf("Changed() = true on repeat install: %+v", report)
	}
	settingsAfter, _ := os.ReadFile(paths.SettingsJSON)
	mdAfter, _ := os.ReadFile(paths.ClaudeMD)
	if string(settingsBefore) != string(settingsAfter) {
		t.Error("settings.json changed on repeat install")
	}
	if string(mdBefore) != string(mdAfter) {
		t.Error("CLAUDE.md changed on repeat install")
	}
}

func TestUninstallGlobalReverses(t *testing.T) {
	paths, opts := installOpts(t)
	ctx := context.Background()

	if _, err := InstallGlobal(ctx, paths, opts); err != nil {
		t.Fatal(err)
	}
	report, err := UninstallGlobal(paths)
	if err != nil {
		t.Fatalf("UninstallGlobal() error = %v", err)
	}
	if !report.Changed() {
		t.Error("Changed() = false after uninstall of installed wiring")
	}

	status := CheckGlobal(paths)
	if status.HooksInstalled || status.PermissionsInstalled || status.BlockInstalled {
		t.Errorf("wiring still detected after uninstall: %+v", status)
	}
}

func TestUninstallGlobalNothingToDo(t *testing.T) {
	paths := GlobalPathsIn(filepath.Join(t.TempDir(), ".claude"))

	report, err := UninstallGlobal(paths)
	if err != nil {
		t.Fatalf("UninstallGlobal() error = %v", err)
	}
	if report.Changed() {
		t.Errorf("Changed() = true with nothing installed: %+v", report)
	}
}

func TestCheckGlobal(t *testing.T) {
	paths, opts := installOpts(t)
	ctx := context.Background()

	status := CheckGlobal(paths)
	if status.HooksInstalled || status.BlockInstalled {
		t.Errorf("fresh dir reports wiring: %+v", status)
	}

	if _, err := InstallGlobal(ctx, paths, opts); err != nil {
		t.Fatal(err)
	}
	status = CheckGlobal(paths)
	if !status.HooksInstalled || status.HookCount != 5 {
		t.Errorf("HookCount = %d, want 5", status.HookCount)
	}
	if !status.PermissionsInstalled {
		t.Error("PermissionsInstalled = false after install")
	}
	if !status.BlockInstalled {
		t.Error("BlockInstalled = false after install")
	}
	if status.LegacyMarkers {
		t.Error("LegacyMarkers = true on fresh install")
	}
}

func TestCheckGlobalLegacyMarkers(t *testing.T) {
	paths := GlobalPathsIn(filepath.Join(t.TempDir(), ".claude"))
	if err := os.MkdirAll(paths.ClaudeDir, 0o755); err != nil {
		t.Fatal(err)
	}
	legacy := "<!-- ADSERVIO-TOOLBOX BEGIN -->\nold\n<!-- ADSERVIO-TOOLBOX END -->\n"
	if err := os.WriteFile(paths.ClaudeMD, []byte(legacy), 0o644); err != nil {
		t.Fatal(err)
	}

	status := CheckGlobal(paths)
	if !status.LegacyMarkers {
		t.Error("LegacyMarkers = false for legacy document")
	}
	if status.BlockInstalled {
		t.Error("BlockInstalled = true for legacy-only document")
	}
}

func TestInstallGlobalCorruptSettings(t *testing.T) {
	paths, opts := installOpts(t)
	if err := os.MkdirAll(paths.ClaudeDir, 0o755); err != nil {
		t.Fatal(err)
	}
	corrupt := `{"hooks": [`
	if err := os.WriteFile(paths.SettingsJSON, []byte(corrupt), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := InstallGlobal(context.Background(), paths, opts)
	if err == nil {
		t.Fatal("InstallGlobal() on corrupt settings succeeded, want error")
	}
	if !mergefile.IsCorruptTarget(err) {
		t.Errorf("error = %v, want CorruptTargetError", err)
	}
	data, _ := os.ReadFile(paths.SettingsJSON)
	if string(data) != corrupt {
		t.Error("corrupt settings.json was modified")
	}
}

func TestResolveHookScriptFallback(t *testing.T) {
	scripts := fakeScriptsDir(t)

	got := resolveHookScript(scripts, "cloak-session-start.sh")
	if got != filepath.Join(scripts, "hooks", "cloak-session-start.sh") {
		t.Errorf("resolved = %q, want packaged path", got)
	}

	got = resolveHookScript(scripts, "does-not-exist.sh")
	if got != ".claude/hooks/does-not-exist.sh" {
		t.Errorf("fallback = %q, want project-relative path", got)
	}
}
