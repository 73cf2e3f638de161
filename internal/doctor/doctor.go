// Package doctor diagnoses the toolbox installation: runtime, package
// manager, the orchestrated tools, PATH visibility, global and project
// wiring, plus doctrine lint. Checks are read-only and deterministic:
// identical state always yields the identical report and exit code.
package doctor

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/ovitrac/AdservioToolbox/internal/extrun"
	"github.com/ovitrac/AdservioToolbox/internal/update"
	"github.com/ovitrac/AdservioToolbox/internal/wiring"
)

// Status classifies one check.
type Status string

const (
	StatusOK      Status = "ok"
	StatusWarning Status = "warning"
	StatusMissing Status = "missing"
)

// Check is one diagnostic result.
type Check struct {
	Name     string `json:"name"`
	Status   Status `json:"status"`
	Message  string `json:"message"`
	Detail   string `json:"detail,omitempty"`
	Fix      string `json:"fix,omitempty"`
	Category string `json:"category"`
}

// Report is a full doctor run.
type Report struct {
	Checks []Check `json:"checks"`
	Strict bool    `json:"strict"`
}

// Exit codes: 0 all green, 1 warnings, 2 critical missing. Strict mode
// promotes every warning to a failure.
func (r *Report) ExitCode() int {
	worst := 0
	for _, check := range r.Checks {
		switch check.Status {
		case StatusMissing:
			worst = 2
		case StatusWarning:
			if r.Strict {
				worst = 2
			} else if worst < 1 {
				worst = 1
			}
		}
	}
	return worst
}

// Options configures a doctor run.
type Options struct {
	// ProjectDir is inspected for project wiring and lint.
	ProjectDir string
	// GlobalPaths locates the user-level wiring.
	GlobalPaths wiring.GlobalPaths
	// Version is this binary's own version.
	Version string
	// CloakPolicyPath is the resolved cloak policy location, lint-parsed
	// when present.
	CloakPolicyPath string
	// Strict promotes warnings to failures (--strict / --ci).
	Strict bool
}

// Stub points for tests.
var (
	toolVersion   = update.InstalledVersion
	toolTrack     = update.DetectTrack
	toolAvailable = extrun.Available
)

// Run executes every check in fixed order.
func Run(ctx context.Context, opts Options) *Report {
	report := &Report{Strict: opts.Strict}
	add := func(c Check) {
		report.Checks = append(report.Checks, c)
	}

	// Python runtime: the orchestrated tools are pip-distributed.
	if pyVer := pythonVersion(ctx); pyVer != "" {
		add(Check{Name: "python", Status: StatusOK, Message: pyVer, Category: "runtime"})
	} else {
		add(Check{
			Name: "python", Status: StatusMissing, Message: "not found",
			Fix: "install Python 3.10+", Category: "runtime",
		})
	}

	if toolAvailable("pipx") {
		add(Check{Name: "pipx", Status: StatusOK, Message: pipxVersion(ctx), Category: "runtime"})
	} else {
		add(Check{
			Name: "pipx", Status: StatusWarning, Message: "not found",
			Fix: "recommended for isolated installs", Category: "runtime",
		})
	}

	if ver := toolVersion(ctx, "claude"); ver != "" {
		add(Check{Name: "claude-code", Status: StatusOK, Message: ver, Category: "host"})
	} else {
		add(Check{
			Name: "claude-code", Status: StatusWarning, Message: "not found",
			Fix: "npm i -g @anthropic-ai/claude-code", Category: "host",
		})
	}

	for _, tool := range []struct{ name, cmd string }{
		{"memctl", "memctl"},
		{"cloakmcp", "cloak"},
	} {
		if ver := toolVersion(ctx, tool.cmd); ver != "" {
			add(Check{
				Name: tool.name, Status: StatusOK, Message: ver,
				Detail: string(toolTrack(tool.cmd)), Category: "tools",
			})
		} else {
			add(Check{
				Name: tool.name, Status: StatusMissing, Message: "not installed",
				Fix: "toolboxctl install", Category: "tools",
			})
		}
	}

	add(Check{
		Name: "toolboxctl", Status: StatusOK, Message: opts.Version,
		Detail: runtime.GOOS + "/" + runtime.GOARCH, Category: "tools",
	})

	var missingPath []string
	for _, cmd := range []string{"cloak", "memctl"} {
		if !toolAvailable(cmd) {
			missingPath = append(missingPath, cmd)
		}
	}
	if len(missingPath) == 0 {
		add(Check{Name: "path", Status: StatusOK, Message: "cloak, memctl resolvable", Category: "runtime"})
	} else {
		add(Check{
			Name: "path", Status: StatusWarning,
			Message: strings.Join(missingPath, ", ") + " missing",
			Fix:     "check pipx ensurepath", Category: "runtime",
		})
	}

	addGlobalChecks(report, opts)
	addProjectChecks(report, opts)
	report.Checks = append(report.Checks, lintChecks(opts)...)

	return report
}

func addGlobalChecks(report *Report, opts Options) {
	status := wiring.CheckGlobal(opts.GlobalPaths)

	if status.HooksInstalled {
		report.Checks = append(report.Checks, Check{
			Name: "global-hooks", Status: StatusOK,
			Message:  fmt.Sprintf("%d hooks", status.HookCount),
			Detail:   strings.Join(status.HookEvents, ", "),
			Category: "global",
		})
	} else {
		report.Checks = append(report.Checks, Check{
			Name: "global-hooks", Status: StatusWarning, Message: "not configured",
			Fix: "toolboxctl install --global", Category: "global",
		})
	}

	if status.PermissionsInstalled {
		report.Checks = append(report.Checks, Check{
			Name: "global-permissions", Status: StatusOK, Message: "configured", Category: "global",
		})
	} else {
		report.Checks = append(report.Checks, Check{
			Name: "global-permissions", Status: StatusWarning, Message: "incomplete",
			Fix: "toolboxctl install --global", Category: "global",
		})
	}

	if status.BlockInstalled {
		report.Checks = append(report.Checks, Check{
			Name: "global-block", Status: StatusOK, Message: "managed block present", Category: "global",
		})
	} else {
		report.Checks = append(report.Checks, Check{
			Name: "global-block", Status: StatusWarning, Message: "no managed block",
			Fix: "toolboxctl install --global", Category: "global",
		})
	}
}

func addProjectChecks(report *Report, opts Options) {
	status := wiring.CheckProject(opts.ProjectDir)

	if !status.ManifestPresent {
		report.Checks = append(report.Checks, Check{
			Name: "project-wiring", Status: StatusOK, Message: "not initialized",
			Detail: "run toolboxctl init to wire this project", Category: "project",
		})
		return
	}

	if status.BlockInstalled {
		report.Checks = append(report.Checks, Check{
			Name: "project-wiring", Status: StatusOK,
			Message:  fmt.Sprintf("profile %s", status.Profile),
			Detail:   fmt.Sprintf("version %s", status.ToolboxVersion),
			Category: "project",
		})
	} else {
		report.Checks = append(report.Checks, Check{
			Name: "project-wiring", Status: StatusWarning,
			Message: "manifest present but managed block missing",
			Fix:     "toolboxctl update --project", Category: "project",
		})
	}
}

func pythonVersion(ctx context.Context) string {
	for _, cmd := range []string{"python3", "python"} {
		if ver := toolVersion(ctx, cmd); ver != "" {
			return ver
		}
	}
	return ""
}

func pipxVersion(ctx context.Context) string {
	if ver := toolVersion(ctx, "pipx"); ver != "" {
		return ver
	}
	return "found"
}
