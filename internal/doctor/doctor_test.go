package doctor

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/ovitrac/AdservioToolbox/internal/update"
	"github.com/ovitrac/AdservioToolbox/internal/wiring"
)

// stubTools fakes the external tool surface: versions per command and
// PATH availability.
func stubTools(t *testing.T, versions map[string]string) {
	t.Helper()
	origVersion, origTrack, origAvailable := toolVersion, toolTrack, toolAvailable
	toolVersion = func(_ context.Context, tool string) string {
		return versions[tool]
	}
	toolTrack = func(tool string) update.Track {
		if versions[tool] == "" {
			return update.TrackMissing
		}
		return update.TrackPipx
	}
	toolAvailable = func(tool string) bool {
		return versions[tool] != ""
	}
	t.Cleanup(func() {
		toolVersion, toolTrack, toolAvailable = origVersion, origTrack, origAvailable
	})
}

func healthyTools() map[string]string {
	return map[string]string{
		"python3": "Python 3.12.1",
		"pipx":    "1.4.3",
		"claude":  "2.1.0",
		"memctl":  "0.17.0",
		"cloak":   "1.2.0",
	}
}

func baseOptions(t *testing.T) Options {
	t.Helper()
	return Options{
		ProjectDir:  t.TempDir(),
		GlobalPaths: wiring.GlobalPathsIn(filepath.Join(t.TempDir(), ".claude")),
		Version:     "0.4.0",
	}
}

func findCheck(t *testing.T, report *Report, name string) Check {
	t.Helper()
	for _, check := range report.Checks {
		if check.Name == name {
			return check
		}
	}
	t.Fatalf("check %q missing from report", name)
	return Check{}
}

func TestRunHealthyUnwiredState(t *testing.T) {
	stubTools(t, healthyTools())
	report := Run(context.Background(), baseOptions(t))

	// Tools green, wiring not yet installed: warnings, nothing missing.
	if got := report.ExitCode(); got != 1 {
		t.Errorf("ExitCode() = %d, want 1 (wiring warnings)", got)
	}
	for _, name := range []string{"python", "pipx", "claude-code", "memctl", "cloakmcp", "toolboxctl"} {
		if check := findCheck(t, report, name); check.Status != StatusOK {
			t.Errorf("%s status = %v, want ok", name, check.Status)
		}
	}
	for _, name := range []string{"global-hooks", "global-permissions", "global-block"} {
		if check := findCheck(t, report, name); check.Status != StatusWarning {
			t.Errorf("%s status = %v, want warning", name, check.Status)
		}
	}
}

func TestRunMissingTools(t *testing.T) {
	versions := healthyTools()
	delete(versions, "memctl")
	delete(versions, "cloak")
	stubTools(t, versions)

	report := Run(context.Background(), baseOptions(t))
	if got := report.ExitCode(); got != 2 {
		t.Errorf("ExitCode() = %d, want 2 with tools missing", got)
	}
	if check := findCheck(t, report, "memctl"); check.Status != StatusMissing {
		t.Errorf("memctl status = %v, want missing", check.Status)
	}
	if check := findCheck(t, report, "path"); check.Status != StatusWarning {
		t.Errorf("path status = %v, want warning", check.Status)
	}
}

func TestRunDeterministic(t *testing.T) {
	stubTools(t, healthyTools())
	opts := baseOptions(t)

	first := Run(context.Background(), opts)
	second := Run(context.Background(), opts)
	if !reflect.DeepEqual(first, second) {
		t.Error("repeated runs on unchanged state differ")
	}
}

func TestStrictPromotesWarnings(t *testing.T) {
	stubTools(t, healthyTools())
	opts := baseOptions(t)

	plain := Run(context.Background(), opts)
	opts.Strict = true
	strict := Run(context.Background(), opts)

	if plain.ExitCode() != 1 {
		t.Fatalf("plain exit = %d, want 1", plain.ExitCode())
	}
	if strict.ExitCode() != 2 {
		t.Errorf("strict exit = %d, want 2", strict.ExitCode())
	}
	if strict.ExitCode() < plain.ExitCode() {
		t.Error("strict exit below plain exit for identical state")
	}
}

func TestProjectWiringCheck(t *testing.T) {
	stubTools(t, healthyTools())
	opts := baseOptions(t)

	if _, err := wiring.Init(opts.ProjectDir, wiring.InitOptions{Profile: wiring.ProfileDev, Version: "0.4.0"}); err != nil {
		t.Fatal(err)
	}
	report := Run(context.Background(), opts)
	check := findCheck(t, report, "project-wiring")
	if check.Status != StatusOK {
		t.Errorf("project-wiring = %v, want ok after init", check.Status)
	}
	if check.Message != "profile dev" {
		t.Errorf("message = %q, want profile dev", check.Message)
	}
}

func TestLintLegacyMarkers(t *testing.T) {
	stubTools(t, healthyTools())
	opts := baseOptions(t)

	legacy := "<!-- ADSERVIO-TOOLBOX BEGIN -->\nold\n<!-- ADSERVIO-TOOLBOX END -->\n"
	if err := os.WriteFile(filepath.Join(opts.ProjectDir, "CLAUDE.md"), []byte(legacy), 0o644); err != nil {
		t.Fatal(err)
	}

	report := Run(context.Background(), opts)
	check := findCheck(t, report, "lint-legacy-markers")
	if check.Status != StatusWarning {
		t.Errorf("lint-legacy-markers = %v, want warning", check.Status)
	}
}

func TestLintGlobalMemoryGuidance(t *testing.T) {
	stubTools(t, healthyTools())
	opts := baseOptions(t)

	if err := os.MkdirAll(opts.GlobalPaths.ClaudeDir, 0o755); err != nil {
		t.Fatal(err)
	}
	doc := "# Rules\n\nUse memory_recall before reading files.\n"
	if err := os.WriteFile(opts.GlobalPaths.ClaudeMD, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	report := Run(context.Background(), opts)
	check := findCheck(t, report, "lint-global-memory-guidance")
	if check.Status != StatusWarning {
		t.Errorf("lint-global-memory-guidance = %v, want warning", check.Status)
	}
}

func TestLintCleanAfterOwnInstall(t *testing.T) {
	// Our own installed wiring must not trip our own lint.
	stubTools(t, healthyTools())
	opts := baseOptions(t)

	scripts := t.TempDir()
	if _, err := wiring.InstallGlobal(context.Background(), opts.GlobalPaths, wiring.GlobalOptions{ScriptsDir: scripts}); err != nil {
		t.Fatal(err)
	}
	if _, err := wiring.Init(opts.ProjectDir, wiring.InitOptions{Version: "0.4.0"}); err != nil {
		t.Fatal(err)
	}

	report := Run(context.Background(), opts)
	for _, name := range []string{
		"lint-legacy-markers",
		"lint-global-memory-guidance",
		"lint-project-security-rules",
		"lint-companion-doc",
	} {
		if check := findCheck(t, report, name); check.Status != StatusOK {
			t.Errorf("%s = %v (%s), want ok on our own install", name, check.Status, check.Message)
		}
	}
	if got := report.ExitCode(); got != 0 {
		t.Errorf("ExitCode() = %d, want 0 for fully wired healthy state", got)
	}
}

func TestLintProjectSecurityDuplication(t *testing.T) {
	stubTools(t, healthyTools())
	opts := baseOptions(t)

	doc := "# Project\n\nSecrets are redacted and restored at session end.\n"
	if err := os.WriteFile(filepath.Join(opts.ProjectDir, "CLAUDE.md"), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	report := Run(context.Background(), opts)
	check := findCheck(t, report, "lint-project-security-rules")
	if check.Status != StatusWarning {
		t.Errorf("lint-project-security-rules = %v, want warning", check.Status)
	}
}

func TestLintCompanionDocMissing(t *testing.T) {
	stubTools(t, healthyTools())
	opts := baseOptions(t)

	if _, err := wiring.Init(opts.ProjectDir, wiring.InitOptions{Profile: wiring.ProfileDev, Version: "0.4.0"}); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(opts.ProjectDir, ".claude", "PROJECT.md")); err != nil {
		t.Fatal(err)
	}

	report := Run(context.Background(), opts)
	check := findCheck(t, report, "lint-companion-doc")
	if check.Status != StatusWarning {
		t.Errorf("lint-companion-doc = %v, want warning", check.Status)
	}
}

func TestLintCloakPolicy(t *testing.T) {
	stubTools(t, healthyTools())
	opts := baseOptions(t)

	policy := filepath.Join(opts.ProjectDir, ".cloak", "policy.yaml")
	if err := os.MkdirAll(filepath.Dir(policy), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(policy, []byte("rules:\n  - pattern: secret\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	opts.CloakPolicyPath = filepath.Join(".cloak", "policy.yaml")

	report := Run(context.Background(), opts)
	if check := findCheck(t, report, "lint-cloak-policy"); check.Status != StatusOK {
		t.Errorf("lint-cloak-policy = %v, want ok for valid YAML", check.Status)
	}

	if err := os.WriteFile(policy, []byte("rules: [unclosed\n  nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	report = Run(context.Background(), opts)
	if check := findCheck(t, report, "lint-cloak-policy"); check.Status != StatusWarning {
		t.Errorf("lint-cloak-policy = %v, want warning for invalid YAML", check.Status)
	}
}
