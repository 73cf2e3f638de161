// Package extrun runs the external tools this orchestrator drives (cloak,
// memctl, pip, pipx) with bounded timeouts. All entry points go through
// package-level stub vars so tests can run without the tools installed.
package extrun

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds a single external invocation. Nothing here is
// allowed to hang: a stuck subprocess degrades to an error, never a wait.
const DefaultTimeout = 30 * time.Second

// Stub points for tests.
var (
	lookPath       = exec.LookPath
	commandContext = exec.CommandContext
)

// MissingToolError reports an external tool absent from PATH. Fatal on
// operational paths, a WARN on purely diagnostic ones.
type MissingToolError struct {
	Tool string
}

func (e *MissingToolError) Error() string {
	return fmt.Sprintf("required tool %q not found on PATH", e.Tool)
}

// IsMissingTool reports whether err is a missing-tool failure.
func IsMissingTool(err error) bool {
	var me *MissingToolError
	return errors.As(err, &me)
}

// Result captures one finished invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Available reports whether tool resolves on PATH.
func Available(tool string) bool {
	_, err := lookPath(tool)
	return err == nil
}

// ResolvePath returns the absolute path tool resolves to.
func ResolvePath(tool string) (string, error) {
	path, err := lookPath(tool)
	if err != nil {
		return "", &MissingToolError{Tool: tool}
	}
	return path, nil
}

// Run executes tool with args under ctx plus DefaultTimeout, capturing
// output. A non-zero exit is not an error; callers branch on ExitCode.
func Run(ctx context.Context, tool string, args ...string) (Result, error) {
	return run(ctx, DefaultTimeout, "", tool, args...)
}

// RunIn is Run with the subprocess working directory set to dir.
func RunIn(ctx context.Context, dir, tool string, args ...string) (Result, error) {
	return run(ctx, DefaultTimeout, dir, tool, args...)
}

// RunTimeout is Run with an explicit timeout bound.
func RunTimeout(ctx context.Context, timeout time.Duration, tool string, args ...string) (Result, error) {
	return run(ctx, timeout, "", tool, args...)
}

func run(ctx context.Context, timeout time.Duration, dir, tool string, args ...string) (Result, error) {
	if _, err := lookPath(tool); err != nil {
		return Result{}, &MissingToolError{Tool: tool}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := commandContext(ctx, tool, args...) // #nosec G204 -- tool names come from a fixed internal set
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		if ctx.Err() != nil {
			return res, fmt.Errorf("%s timed out after %s", tool, timeout)
		}
		return res, fmt.Errorf("running %s: %w", tool, err)
	}
	return res, nil
}

// RunJSON executes tool and decodes its stdout into v. A non-zero exit
// with decodable output still decodes; callers get the exit code back.
func RunJSON(ctx context.Context, v any, tool string, args ...string) (int, error) {
	res, err := Run(ctx, tool, args...)
	if err != nil {
		return 0, err
	}
	out := strings.TrimSpace(res.Stdout)
	if out == "" {
		return res.ExitCode, fmt.Errorf("%s produced no output", tool)
	}
	if err := json.Unmarshal([]byte(out), v); err != nil {
		return res.ExitCode, fmt.Errorf("decoding %s output: %w", tool, err)
	}
	return res.ExitCode, nil
}
