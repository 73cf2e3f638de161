package rescue

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ovitrac/AdservioToolbox/internal/extrun"
)

// fakeRunner answers invocations keyed by "tool arg arg...".
type fakeRunner struct {
	out   map[string]extrun.Result
	calls []string
}

func (f *fakeRunner) run(_ context.Context, tool string, args ...string) (extrun.Result, error) {
	key := strings.Join(append([]string{tool}, args...), " ")
	f.calls = append(f.calls, key)
	return f.out[key], nil
}

func (f *fakeRunner) called(prefix string) bool {
	for _, call := range f.calls {
		if strings.HasPrefix(call, prefix) {
			return true
		}
	}
	return false
}

func stubRescue(t *testing.T, f *fakeRunner, available ...string) {
	t.Helper()
	origRun, origRunIn, origAvailable := runCmd, runInDir, toolAvailable
	runCmd = f.run
	runInDir = func(ctx context.Context, _, tool string, args ...string) (extrun.Result, error) {
		return f.run(ctx, tool, args...)
	}
	toolAvailable = func(tool string) bool {
		for _, name := range available {
			if name == tool {
				return true
			}
		}
		return false
	}
	t.Cleanup(func() {
		runCmd, runInDir, toolAvailable = origRun, origRunIn, origAvailable
	})
}

func TestSeverity(t *testing.T) {
	tests := []struct {
		name string
		sit  Situation
		want Severity
	}{
		{"clean", Situation{}, SeverityClean},
		{"stale only", Situation{SessionStale: true}, SeverityStale},
		{"tags only", Situation{ResidualTags: 2}, SeverityTags},
		{"stale and tags", Situation{SessionStale: true, ResidualTags: 1}, SeverityCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sit.Severity(); got != tt.want {
				t.Errorf("Severity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDiagnoseFromStatus(t *testing.T) {
	dir := t.TempDir()
	f := &fakeRunner{out: map[string]extrun.Result{
		"cloak status --dir " + dir + " --json": {
			Stdout: `{"session_active":true,"vault_exists":true,"vault_entries":4}`,
		},
		"cloak verify --dir " + dir: {
			ExitCode: 1,
			Stdout:   "src/app.py: TAG-a1b2 found\nsrc/app.py: TAG-c3d4 found\nREADME.md: TAG-e5f6 found\n",
		},
		"cloak restore --list --dir " + dir: {
			Stdout: "# backups\nbk-001 2026-08-01\nbk-002 2026-08-15\n",
		},
	}}
	stubRescue(t, f, "cloak")

	sit, err := Diagnose(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	if !sit.SessionStale || !sit.VaultExists || sit.VaultEntries != 4 {
		t.Errorf("status fields = %+v", sit)
	}
	if sit.ResidualTags != 3 {
		t.Errorf("ResidualTags = %d, want 3", sit.ResidualTags)
	}
	wantFiles := []string{"src/app.py", "README.md"}
	if len(sit.FilesWithTags) != 2 || sit.FilesWithTags[0] != wantFiles[0] || sit.FilesWithTags[1] != wantFiles[1] {
		t.Errorf("FilesWithTags = %v, want %v", sit.FilesWithTags, wantFiles)
	}
	if sit.BackupCount != 2 {
		t.Errorf("BackupCount = %d, want 2", sit.BackupCount)
	}
	if got := sit.Severity(); got != SeverityCritical {
		t.Errorf("Severity() = %v, want critical", got)
	}
}

func TestDiagnoseFileFallback(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, sessionStateFile), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	vault := filepath.Join(dir, ".cloak", "vault")
	if err := os.MkdirAll(vault, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"e1", "e2"} {
		if err := os.WriteFile(filepath.Join(vault, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	// status command fails, forcing the on-disk fallback
	f := &fakeRunner{out: map[string]extrun.Result{
		"cloak status --dir " + dir + " --json": {ExitCode: 1},
	}}
	stubRescue(t, f, "cloak")

	sit, err := Diagnose(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	if !sit.SessionStale {
		t.Error("SessionStale = false, want true from marker file")
	}
	if !sit.VaultExists || sit.VaultEntries != 2 {
		t.Errorf("vault = %v/%d, want true/2", sit.VaultExists, sit.VaultEntries)
	}
	if sit.ResidualTags != 0 {
		t.Errorf("ResidualTags = %d, want 0 for clean verify", sit.ResidualTags)
	}
}

func TestDiagnoseTargetMissing(t *testing.T) {
	stubRescue(t, &fakeRunner{}, "cloak")
	_, err := Diagnose(context.Background(), filepath.Join(t.TempDir(), "nope"))
	if !IsTargetDirError(err) {
		t.Errorf("err = %v, want TargetDirError", err)
	}
}

func TestDiagnoseCloakMissing(t *testing.T) {
	stubRescue(t, &fakeRunner{})
	_, err := Diagnose(context.Background(), t.TempDir())
	if !extrun.IsMissingTool(err) {
		t.Errorf("err = %v, want MissingToolError", err)
	}
}

func TestRecoverDryRunExecutesNothing(t *testing.T) {
	f := &fakeRunner{}
	stubRescue(t, f, "cloak")
	sit := &Situation{Directory: "/p", SessionStale: true, ResidualTags: 2, VaultExists: true}

	result := Recover(context.Background(), sit, RecoverOptions{DryRun: true})
	if result.Outcome != OutcomeDryRun {
		t.Errorf("Outcome = %v, want dry-run", result.Outcome)
	}
	want := []string{string(ActionRecoverSession), string(ActionRestoreTags)}
	if len(result.Actions) != 2 || result.Actions[0] != want[0] || result.Actions[1] != want[1] {
		t.Errorf("Actions = %v, want %v", result.Actions, want)
	}
	if len(f.calls) != 0 {
		t.Errorf("dry run invoked %v", f.calls)
	}
}

func TestRecoverStaleAndTags(t *testing.T) {
	f := &fakeRunner{out: map[string]extrun.Result{}}
	stubRescue(t, f, "cloak")
	sit := &Situation{Directory: "/p", SessionStale: true, ResidualTags: 1, VaultExists: true}

	result := Recover(context.Background(), sit, RecoverOptions{})
	if result.Outcome != OutcomeRecovered {
		t.Errorf("Outcome = %v, want recovered (errors: %v)", result.Outcome, result.Errors)
	}
	if !result.Verified {
		t.Error("Verified = false")
	}
	wantCalls := []string{
		"cloak recover --dir /p",
		"cloak restore --dir /p",
		"cloak verify --dir /p",
	}
	if len(f.calls) != len(wantCalls) {
		t.Fatalf("calls = %v, want %v", f.calls, wantCalls)
	}
	for i, want := range wantCalls {
		if f.calls[i] != want {
			t.Errorf("call[%d] = %q, want %q", i, f.calls[i], want)
		}
	}
}

func TestRecoverFromBackup(t *testing.T) {
	f := &fakeRunner{}
	stubRescue(t, f, "cloak")
	sit := &Situation{Directory: "/p", ResidualTags: 3, VaultExists: true}

	result := Recover(context.Background(), sit, RecoverOptions{FromBackup: "bk-001"})
	if len(result.Actions) != 1 || result.Actions[0] != "restore-from-backup:bk-001" {
		t.Errorf("Actions = %v", result.Actions)
	}
	if !f.called("cloak restore --from-backup --backup-id bk-001") {
		t.Errorf("backup restore not invoked: %v", f.calls)
	}
	if f.called("cloak recover") {
		t.Error("standard recovery ran alongside backup restore")
	}
}

func TestRecoverVerificationFails(t *testing.T) {
	f := &fakeRunner{out: map[string]extrun.Result{
		"cloak verify --dir /p": {ExitCode: 1, Stdout: "src/a.py: TAG-dead found\n"},
	}}
	stubRescue(t, f, "cloak")
	sit := &Situation{Directory: "/p", SessionStale: true}

	result := Recover(context.Background(), sit, RecoverOptions{})
	if result.Outcome != OutcomeFailed {
		t.Errorf("Outcome = %v, want failed", result.Outcome)
	}
	if result.Verified {
		t.Error("Verified = true after failing verify")
	}
}

func TestRecoverNoTagRestoreWithoutVault(t *testing.T) {
	f := &fakeRunner{}
	stubRescue(t, f, "cloak")
	sit := &Situation{Directory: "/p", ResidualTags: 2, VaultExists: false}

	result := Recover(context.Background(), sit, RecoverOptions{DryRun: true})
	if len(result.Actions) != 0 {
		t.Errorf("Actions = %v, want none without a vault", result.Actions)
	}
}

func TestWriteReport(t *testing.T) {
	dir := t.TempDir()
	sit := &Situation{Directory: dir, SessionStale: true}
	result := &Result{Situation: sit, Actions: []string{string(ActionRecoverSession)}, Verified: true, Outcome: OutcomeRecovered}

	path, err := WriteReport(sit, result)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != ReportFile {
		t.Errorf("path = %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var report IncidentReport
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatal(err)
	}
	if report.Severity != SeverityStale {
		t.Errorf("Severity = %v, want stale-session", report.Severity)
	}
	if report.Outcome != OutcomeRecovered || !report.Verified {
		t.Errorf("outcome/verify = %v/%v", report.Outcome, report.Verified)
	}
	if report.Timestamp == "" {
		t.Error("empty timestamp")
	}
}

func TestWriteReportCleanRunHasEmptyActions(t *testing.T) {
	dir := t.TempDir()
	sit := &Situation{Directory: dir}
	result := &Result{Situation: sit, Verified: true, Outcome: OutcomeClean}

	path, err := WriteReport(sit, result)
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"actions": []`) {
		t.Errorf("actions not an empty array:\n%s", data)
	}
}
