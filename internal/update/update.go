// Package update compares installed vs published versions of the
// orchestrated tools and upgrades them through whichever package-manager
// track each was installed with. The network is optional: an unreachable
// index degrades to "unknown", never to a failure or a hang.
package update

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ovitrac/AdservioToolbox/internal/extrun"
)

// Package describes one orchestrated tool.
type Package struct {
	Name    string
	PipName string
	Cmd     string
}

// Packages is the fixed registry of tools this orchestrator manages.
var Packages = []Package{
	{Name: "memctl", PipName: "memctl", Cmd: "memctl"},
	{Name: "cloakmcp", PipName: "cloakmcp", Cmd: "cloak"},
	{Name: "adservio-toolbox", PipName: "adservio-toolbox", Cmd: "toolboxctl"},
}

// Track identifies the package-manager track a tool was installed with.
type Track string

const (
	TrackPipx    Track = "pipx"
	TrackPip     Track = "pip/venv"
	TrackSystem  Track = "system"
	TrackMissing Track = "not found"
)

// Stub points for tests.
var (
	runCmd      = extrun.Run
	resolvePath = extrun.ResolvePath
)

// DetectTrack inspects the resolved binary path for a tool. The path, not
// a guess: a tool reinstalled under a different manager follows its new
// location.
func DetectTrack(tool string) Track {
	path, err := resolvePath(tool)
	if err != nil {
		return TrackMissing
	}
	return trackFromPath(path)
}

func trackFromPath(path string) Track {
	switch {
	case strings.Contains(path, "pipx"):
		return TrackPipx
	case strings.Contains(path, "site-packages"), strings.Contains(path, ".venv"), strings.Contains(path, "/venv/"):
		return TrackPip
	}
	return TrackSystem
}

// InstalledVersion asks a tool for its own version ("" when the tool is
// missing or uncooperative). Never guesses from file paths.
func InstalledVersion(ctx context.Context, tool string) string {
	res, err := runCmd(ctx, tool, "--version")
	if err != nil || res.ExitCode != 0 {
		return ""
	}
	line := strings.TrimSpace(res.Stdout)
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	// "memctl 0.17.0" or "v0.17.0" → "0.17.0"
	lower := strings.ToLower(line)
	if strings.HasPrefix(lower, strings.ToLower(tool)+" ") {
		line = strings.TrimSpace(line[len(tool)+1:])
	}
	line = strings.TrimPrefix(line, "v")
	return strings.TrimSpace(line)
}

// latestQueryTimeout bounds one index query; retries stay within it.
const latestQueryTimeout = 20 * time.Second

// LatestVersion queries the package index via `pip index versions`,
// retrying transient failures with exponential backoff. Returns "" when
// the index is unreachable.
func LatestVersion(ctx context.Context, pipName string) string {
	ctx, cancel := context.WithTimeout(ctx, latestQueryTimeout)
	defer cancel()

	var version string
	query := func() error {
		res, err := runCmd(ctx, "pip", "index", "versions", pipName)
		if err != nil {
			if extrun.IsMissingTool(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		if res.ExitCode != 0 {
			return backoff.Permanent(&indexError{pipName: pipName})
		}
		version = parseIndexVersion(res.Stdout)
		return nil
	}

	policy := backoff.WithContext(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(500*time.Millisecond),
		backoff.WithMaxElapsedTime(latestQueryTimeout),
	), ctx)
	if err := backoff.Retry(query, policy); err != nil {
		return ""
	}
	return version
}

type indexError struct {
	pipName string
}

func (e *indexError) Error() string {
	return "package index query failed for " + e.pipName
}

// parseIndexVersion extracts the version from output shaped like
// "memctl (0.17.0)\n  Available versions: ...".
func parseIndexVersion(out string) string {
	line := strings.TrimSpace(out)
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	open := strings.IndexByte(line, '(')
	closeIdx := strings.IndexByte(line, ')')
	if open < 0 || closeIdx < open {
		return ""
	}
	return strings.TrimSpace(line[open+1 : closeIdx])
}

// CompareVersions orders two dotted version strings numerically.
// Returns -1, 0, or 1. Non-numeric segments compare lexically.
func CompareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var sa, sb string
		if i < len(as) {
			sa = as[i]
		}
		if i < len(bs) {
			sb = bs[i]
		}
		na, errA := strconv.Atoi(sa)
		nb, errB := strconv.Atoi(sb)
		switch {
		case errA == nil && errB == nil:
			if na != nb {
				if na < nb {
					return -1
				}
				return 1
			}
		default:
			if sa != sb {
				if sa < sb {
					return -1
				}
				return 1
			}
		}
	}
	return 0
}

// CheckEntry is one package's version comparison.
type CheckEntry struct {
	Package   string `json:"package"`
	Installed string `json:"installed,omitempty"`
	Latest    string `json:"latest,omitempty"`
	Track     Track  `json:"track"`
	UpToDate  *bool  `json:"up_to_date,omitempty"`
}

// Check reports installed vs latest for every registered package without
// upgrading anything. Latest is "" when the index is unreachable.
func Check(ctx context.Context) []CheckEntry {
	entries := make([]CheckEntry, 0, len(Packages))
	for _, pkg := range Packages {
		entry := CheckEntry{
			Package:   pkg.Name,
			Installed: InstalledVersion(ctx, pkg.Cmd),
			Track:     DetectTrack(pkg.Cmd),
		}
		entry.Latest = LatestVersion(ctx, pkg.PipName)
		if entry.Installed != "" && entry.Latest != "" {
			upToDate := CompareVersions(entry.Installed, entry.Latest) >= 0
			entry.UpToDate = &upToDate
		}
		entries = append(entries, entry)
	}
	return entries
}

// Action classifies what Upgrade did for one package.
type Action string

const (
	ActionUpgraded     Action = "upgraded"
	ActionNotInstalled Action = "not_installed"
	ActionError        Action = "error"
)

// UpgradeResult is one package's upgrade outcome.
type UpgradeResult struct {
	Package    string `json:"package"`
	OldVersion string `json:"old_version,omitempty"`
	NewVersion string `json:"new_version,omitempty"`
	Track      Track  `json:"track"`
	Action     Action `json:"action"`
	Error      string `json:"error,omitempty"`
}

// Upgrade runs the track-appropriate upgrade for one package.
func Upgrade(ctx context.Context, pkg Package) UpgradeResult {
	result := UpgradeResult{
		Package:    pkg.Name,
		OldVersion: InstalledVersion(ctx, pkg.Cmd),
		Track:      DetectTrack(pkg.Cmd),
	}
	result.NewVersion = result.OldVersion

	if result.Track == TrackMissing {
		result.Action = ActionNotInstalled
		return result
	}

	var res extrun.Result
	var err error
	switch result.Track {
	case TrackPipx:
		res, err = runCmd(ctx, "pipx", "upgrade", pkg.PipName)
	default:
		res, err = runCmd(ctx, "pip", "install", "--upgrade", pkg.PipName)
	}
	if err != nil {
		result.Action = ActionError
		result.Error = err.Error()
		return result
	}
	if res.ExitCode != 0 {
		result.Action = ActionError
		result.Error = strings.TrimSpace(res.Stderr)
		if result.Error == "" {
			result.Error = "upgrade failed"
		}
		return result
	}

	result.Action = ActionUpgraded
	result.NewVersion = InstalledVersion(ctx, pkg.Cmd)
	return result
}

// UpgradeAll upgrades every registered package in order.
func UpgradeAll(ctx context.Context) []UpgradeResult {
	results := make([]UpgradeResult, 0, len(Packages))
	for _, pkg := range Packages {
		results = append(results, Upgrade(ctx, pkg))
	}
	return results
}
