// Package rescue diagnoses and repairs a crashed cloak session:
// diagnose, report, confirm, recover, verify. Every run leaves an
// incident report behind, clean runs included.
package rescue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/ovitrac/AdservioToolbox/internal/extrun"
	"github.com/ovitrac/AdservioToolbox/internal/fileutil"
)

// ReportFile is the incident report artifact, written into the target
// directory on every run.
const ReportFile = ".cloak-rescue-report.json"

// sessionStateFile marks an unfinished cloak session when status
// reporting is unavailable.
const sessionStateFile = ".cloak-session-state"

// Stub points for tests.
var (
	runCmd        = extrun.Run
	runInDir      = extrun.RunIn
	toolAvailable = extrun.Available
)

// Severity classifies a diagnosed situation, ordered from harmless to
// critical.
type Severity string

const (
	SeverityClean    Severity = "clean"
	SeverityStale    Severity = "stale-session"
	SeverityTags     Severity = "residual-tags"
	SeverityCritical Severity = "vault-integrity-critical"
)

// TargetDirError reports a rescue target that is not a directory.
type TargetDirError struct {
	Dir string
}

func (e *TargetDirError) Error() string {
	return fmt.Sprintf("target directory does not exist: %s", e.Dir)
}

// IsTargetDirError reports whether err is a missing-target failure.
func IsTargetDirError(err error) bool {
	var te *TargetDirError
	return errors.As(err, &te)
}

// Situation is the aggregated diagnostic state for a target directory.
type Situation struct {
	Directory     string   `json:"directory"`
	SessionStale  bool     `json:"session_stale"`
	VaultExists   bool     `json:"vault_exists"`
	VaultEntries  int      `json:"vault_entries"`
	ResidualTags  int      `json:"residual_tags"`
	FilesWithTags []string `json:"files_with_tags"`
	BackupCount   int      `json:"backup_count"`
}

// NeedsRecovery reports whether anything is left to repair.
func (s *Situation) NeedsRecovery() bool {
	return s.SessionStale || s.ResidualTags > 0
}

// Severity ranks the situation. A stale session combined with residual
// tags means the vault can no longer be trusted as-is.
func (s *Situation) Severity() Severity {
	switch {
	case !s.NeedsRecovery():
		return SeverityClean
	case s.SessionStale && s.ResidualTags > 0:
		return SeverityCritical
	case s.ResidualTags > 0:
		return SeverityTags
	default:
		return SeverityStale
	}
}

// cloakStatus is the subset of cloak's status report rescue reads.
type cloakStatus struct {
	SessionActive bool `json:"session_active"`
	VaultExists   bool `json:"vault_exists"`
	VaultEntries  int  `json:"vault_entries"`
}

// Diagnose inspects dir through cloak's status and verify interfaces.
// Falls back to on-disk markers when status reporting fails.
func Diagnose(ctx context.Context, dir string) (*Situation, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if info, err := os.Stat(abs); err != nil || !info.IsDir() {
		return nil, &TargetDirError{Dir: abs}
	}
	if !toolAvailable("cloak") {
		return nil, &extrun.MissingToolError{Tool: "cloak"}
	}

	sit := &Situation{Directory: abs}

	if st := queryStatus(ctx, abs); st != nil {
		sit.SessionStale = st.SessionActive
		sit.VaultExists = st.VaultExists
		sit.VaultEntries = st.VaultEntries
	} else {
		sit.SessionStale = fileutil.FileExists(filepath.Join(abs, sessionStateFile))
		sit.VaultEntries = countVaultEntries(abs)
		sit.VaultExists = sit.VaultEntries > 0
	}

	sit.ResidualTags, sit.FilesWithTags = scanTags(ctx, abs)
	sit.BackupCount = len(ListBackups(ctx, abs))
	return sit, nil
}

func queryStatus(ctx context.Context, dir string) *cloakStatus {
	res, err := runCmd(ctx, "cloak", "status", "--dir", dir, "--json")
	if err != nil || res.ExitCode != 0 {
		return nil
	}
	var st cloakStatus
	if err := json.Unmarshal([]byte(res.Stdout), &st); err != nil {
		return nil
	}
	return &st
}

func countVaultEntries(dir string) int {
	entries, err := os.ReadDir(filepath.Join(dir, ".cloak", "vault"))
	if err != nil {
		return 0
	}
	return len(entries)
}

// scanTags runs cloak verify and counts residual TAG- placeholders.
// A clean verify or a broken invocation both count as zero.
func scanTags(ctx context.Context, dir string) (int, []string) {
	res, err := runCmd(ctx, "cloak", "verify", "--dir", dir)
	if err != nil || res.ExitCode == 0 {
		return 0, nil
	}
	count := 0
	var files []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !strings.Contains(line, "TAG-") {
			continue
		}
		count++
		if name, _, found := strings.Cut(line, ":"); found {
			name = strings.TrimSpace(name)
			if name != "" && !slices.Contains(files, name) {
				files = append(files, name)
			}
		}
	}
	if len(files) > count {
		count = len(files)
	}
	return count, files
}

// ListBackups returns the backup IDs cloak knows for dir.
func ListBackups(ctx context.Context, dir string) []string {
	res, err := runCmd(ctx, "cloak", "restore", "--list", "--dir", dir)
	if err != nil || res.ExitCode != 0 {
		return nil
	}
	var ids []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
			continue
		}
		ids = append(ids, strings.Fields(line)[0])
	}
	return ids
}

// Action names one remediation step, in execution order.
type Action string

const (
	ActionRecoverSession Action = "recover-stale-session"
	ActionRestoreTags    Action = "restore-residual-tags"
	ActionRestoreBackup  Action = "restore-from-backup"
)

// Outcome classifies a finished run.
type Outcome string

const (
	OutcomeClean     Outcome = "clean"
	OutcomeRecovered Outcome = "recovered"
	OutcomeDryRun    Outcome = "dry-run"
	OutcomeFailed    Outcome = "failed"
)

// RecoverOptions configures Recover.
type RecoverOptions struct {
	// FromBackup restores the named backup instead of the standard
	// recover/restore pair.
	FromBackup string
	// DryRun plans the actions without executing anything.
	DryRun bool
}

// Result is the outcome of one rescue run.
type Result struct {
	Situation *Situation `json:"situation"`
	Actions   []string   `json:"actions"`
	Verified  bool       `json:"verified"`
	Outcome   Outcome    `json:"outcome"`
	// Errors collects per-action failures; the run continues past them.
	Errors []string `json:"errors,omitempty"`
}

// Recover executes the remediation the situation calls for, then
// re-verifies. Confirmation is the caller's job; by the time Recover
// runs, the operator has already said yes.
func Recover(ctx context.Context, sit *Situation, opts RecoverOptions) *Result {
	result := &Result{Situation: sit}

	plan := planActions(sit, opts)
	for _, step := range plan {
		result.Actions = append(result.Actions, step.label)
	}

	if opts.DryRun {
		result.Verified = true
		result.Outcome = OutcomeDryRun
		return result
	}

	ok := true
	for _, step := range plan {
		res, err := runCmd(ctx, "cloak", step.args...)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", step.label, err))
			ok = false
			continue
		}
		if res.ExitCode != 0 {
			msg := fmt.Sprintf("%s: exit %d", step.label, res.ExitCode)
			if detail := strings.TrimSpace(res.Stderr); detail != "" {
				msg += ": " + detail
			}
			result.Errors = append(result.Errors, msg)
			ok = false
		}
	}

	// Re-diagnose: verify must come back clean after remediation.
	verify, err := runCmd(ctx, "cloak", "verify", "--dir", sit.Directory)
	result.Verified = err == nil && verify.ExitCode == 0
	if !result.Verified {
		ok = false
	}

	switch {
	case len(plan) == 0 && result.Verified:
		result.Outcome = OutcomeClean
	case ok:
		result.Outcome = OutcomeRecovered
	default:
		result.Outcome = OutcomeFailed
	}
	return result
}

type planStep struct {
	label string
	args  []string
}

func planActions(sit *Situation, opts RecoverOptions) []planStep {
	if opts.FromBackup != "" {
		return []planStep{{
			label: string(ActionRestoreBackup) + ":" + opts.FromBackup,
			args: []string{
				"restore", "--from-backup", "--backup-id", opts.FromBackup,
				"--force", "--dir", sit.Directory,
			},
		}}
	}
	var plan []planStep
	if sit.SessionStale {
		plan = append(plan, planStep{
			label: string(ActionRecoverSession),
			args:  []string{"recover", "--dir", sit.Directory},
		})
	}
	if sit.ResidualTags > 0 && sit.VaultExists {
		plan = append(plan, planStep{
			label: string(ActionRestoreTags),
			args:  []string{"restore", "--dir", sit.Directory},
		})
	}
	return plan
}

// IncidentReport is the audit artifact, one per run.
type IncidentReport struct {
	Timestamp string     `json:"timestamp"`
	Directory string     `json:"directory"`
	Severity  Severity   `json:"severity"`
	Situation *Situation `json:"situation"`
	Actions   []string   `json:"actions"`
	Verified  bool       `json:"verify"`
	Outcome   Outcome    `json:"outcome"`
}

// WriteReport persists the incident report into the target directory.
func WriteReport(sit *Situation, result *Result) (string, error) {
	report := IncidentReport{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Directory: sit.Directory,
		Severity:  sit.Severity(),
		Situation: sit,
		Actions:   result.Actions,
		Verified:  result.Verified,
		Outcome:   result.Outcome,
	}
	if report.Actions == nil {
		report.Actions = []string{}
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(sit.Directory, ReportFile)
	if err := fileutil.AtomicWriteFile(path, append(data, '\n')); err != nil {
		return "", fmt.Errorf("writing incident report: %w", err)
	}
	return path, nil
}
