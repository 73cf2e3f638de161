package extrun

import (
	"context"
	"runtime"
	"testing"
	"time"
)

func requireSh(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" || !Available("sh") {
		t.Skip("requires a POSIX shell")
	}
}

func TestRunCapturesOutput(t *testing.T) {
	requireSh(t)

	res, err := Run(context.Background(), "sh", "-c", "echo out; echo err >&2")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got, want := res.Stdout, "out\n"; got != want {
		t.Errorf("Stdout = %q, want %q", got, want)
	}
	if got, want := res.Stderr, "err\n"; got != want {
		t.Errorf("Stderr = %q, want %q", got, want)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}
}

func TestRunNonZeroExitIsNotError(t *testing.T) {
	requireSh(t)

	res, err := Run(context.Background(), "sh", "-c", "exit 3")
	if err != nil {
		t.Fatalf("Run() error = %v, want nil for non-zero exit", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
}

func TestRunMissingTool(t *testing.T) {
	_, err := Run(context.Background(), "definitely-not-a-real-tool-xyz")
	if err == nil {
		t.Fatal("Run() for missing tool succeeded, want error")
	}
	if !IsMissingTool(err) {
		t.Errorf("error = %v, want MissingToolError", err)
	}
}

func TestRunTimeout(t *testing.T) {
	requireSh(t)

	start := time.Now()
	_, err := RunTimeout(context.Background(), 100*time.Millisecond, "sh", "-c", "sleep 5")
	if err == nil {
		t.Fatal("RunTimeout() succeeded, want timeout error")
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("timeout took %s, bound not applied", elapsed)
	}
}

func TestRunJSON(t *testing.T) {
	requireSh(t)

	var out struct {
		State string `json:"state"`
		Tags  int    `json:"tags"`
	}
	code, err := RunJSON(context.Background(), &out, "sh", "-c", `echo '{"state":"clean","tags":0}'`)
	if err != nil {
		t.Fatalf("RunJSON() error = %v", err)
	}
	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if out.State != "clean" || out.Tags != 0 {
		t.Errorf("decoded = %+v, want state=clean tags=0", out)
	}
}

func TestRunJSONBadOutput(t *testing.T) {
	requireSh(t)

	var out map[string]any
	if _, err := RunJSON(context.Background(), &out, "sh", "-c", "echo not-json"); err == nil {
		t.Fatal("RunJSON() on non-JSON output succeeded, want error")
	}
	if _, err := RunJSON(context.Background(), &out, "sh", "-c", "true"); err == nil {
		t.Fatal("RunJSON() on empty output succeeded, want error")
	}
}

func TestAvailable(t *testing.T) {
	if Available("definitely-not-a-real-tool-xyz") {
		t.Error("Available() = true for nonexistent tool")
	}
}
