package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ovitrac/AdservioToolbox/internal/extrun"
	"github.com/ovitrac/AdservioToolbox/internal/rescue"
	"github.com/ovitrac/AdservioToolbox/internal/ui"
)

var (
	rescueDir        string
	rescueDryRun     bool
	rescueFromBackup string
	rescueWithMemory bool
	rescueMemoryOnly bool
	rescueForce      bool
)

var rescueCmd = &cobra.Command{
	Use:   "rescue",
	Short: "Diagnose and repair a crashed cloak session",
	Long: `Diagnosis-first recovery: classify the situation (clean, stale
session, residual tags, critical), confirm, run the matching cloak
recover/restore, then verify. An incident report is written to the
target directory on every run.

--with-memory appends a read-only memctl health advisory; --memory-only
skips the cloak diagnosis entirely. --from-backup list shows available
backups; --from-backup <ID> restores one.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		if rescueMemoryOnly {
			runMemoryOnly(ctx)
			return
		}

		sit, err := rescue.Diagnose(ctx, rescueDir)
		if err != nil {
			switch {
			case rescue.IsTargetDirError(err):
				fatal(1, "%v", err)
			case extrun.IsMissingTool(err):
				fatal(2, "cloak not found on PATH. Install CloakMCP: pipx install cloakmcp")
			default:
				fatal(1, "diagnosis failed: %v", err)
			}
		}

		if !jsonOutput {
			printSituation(sit)
		}

		if rescueFromBackup == "list" {
			result := &rescue.Result{Situation: sit, Verified: !sit.NeedsRecovery(), Outcome: rescue.OutcomeClean}
			writeIncidentReport(sit, result)
			printBackupList(ctx, sit)
			return
		}

		if !sit.NeedsRecovery() && rescueFromBackup == "" {
			result := &rescue.Result{Situation: sit, Verified: true, Outcome: rescue.OutcomeClean}
			writeIncidentReport(sit, result)
			finishRescue(ctx, sit, result)
			return
		}

		if !rescueDryRun && !rescueForce && !jsonOutput {
			if !askConfirm(fmt.Sprintf("Severity %s. Proceed with recovery?", sit.Severity())) {
				info("Aborted.")
				return
			}
		}

		result := rescue.Recover(ctx, sit, rescue.RecoverOptions{
			FromBackup: backupID(),
			DryRun:     rescueDryRun,
		})
		writeIncidentReport(sit, result)
		finishRescue(ctx, sit, result)
	},
}

func backupID() string {
	if rescueFromBackup == "list" {
		return ""
	}
	return rescueFromBackup
}

func runMemoryOnly(ctx context.Context) {
	adv := rescue.DiagnoseMemory(ctx, rescueDir)
	if jsonOutput {
		outputJSON(map[string]any{"memory": adv})
	} else {
		printMemoryAdvisory(adv)
	}
	switch {
	case !adv.MemctlOK:
		os.Exit(2)
	case adv.HasIssues():
		os.Exit(1)
	}
}

func writeIncidentReport(sit *rescue.Situation, result *rescue.Result) {
	path, err := rescue.WriteReport(sit, result)
	if err != nil {
		warnMsg("could not write incident report: %v", err)
		return
	}
	if !jsonOutput {
		info("Incident report written to %s", path)
	}
}

// finishRescue prints the combined summary and applies the exit contract.
func finishRescue(ctx context.Context, sit *rescue.Situation, result *rescue.Result) {
	var adv *rescue.MemoryAdvisory
	if rescueWithMemory {
		adv = rescue.DiagnoseMemory(ctx, sit.Directory)
	}

	if jsonOutput {
		combined := map[string]any{"rescue": result}
		if adv != nil {
			combined["memory"] = adv
		}
		outputJSON(combined)
	} else {
		switch result.Outcome {
		case rescue.OutcomeClean:
			info("%s", ui.RenderPass("No recovery needed, project is clean."))
		case rescue.OutcomeDryRun:
			info("Dry run complete, no changes were made.")
			for _, action := range result.Actions {
				info("  would run: %s", action)
			}
		case rescue.OutcomeRecovered:
			info("%s", ui.RenderPass("Recovery complete, project is clean."))
		case rescue.OutcomeFailed:
			warnMsg("Issues remain, manual inspection may be needed.")
			for _, e := range result.Errors {
				errorMsg("%s", e)
			}
			info("Try: cloak status --dir . && cloak verify --dir .")
		}
		if adv != nil {
			printMemoryAdvisory(adv)
		}
	}

	if result.Outcome == rescue.OutcomeFailed {
		if !result.Verified {
			os.Exit(3)
		}
		os.Exit(1)
	}
}

func printSituation(sit *rescue.Situation) {
	severity := string(sit.Severity())
	switch sit.Severity() {
	case rescue.SeverityClean:
		severity = ui.RenderPass(severity)
	case rescue.SeverityCritical:
		severity = ui.RenderFail(severity)
	default:
		severity = ui.RenderWarn(severity)
	}

	info("%s", ui.RenderBold("Rescue diagnostic: "+sit.Directory))
	rows := []struct{ label, value string }{
		{"Session stale", yesNo(sit.SessionStale)},
		{"Vault exists", yesNo(sit.VaultExists)},
		{"Vault entries", fmt.Sprintf("%d", sit.VaultEntries)},
		{"Residual tags", fmt.Sprintf("%d", sit.ResidualTags)},
		{"Backups available", fmt.Sprintf("%d", sit.BackupCount)},
		{"Severity", severity},
	}
	for _, row := range rows {
		fmt.Fprintf(os.Stderr, "  %-18s  %s\n", row.label, row.value)
	}
	if len(sit.FilesWithTags) > 0 {
		info("Files with residual tags:")
		limit := len(sit.FilesWithTags)
		if limit > 20 {
			limit = 20
		}
		for _, file := range sit.FilesWithTags[:limit] {
			fmt.Fprintf(os.Stderr, "    %s\n", file)
		}
		if rest := len(sit.FilesWithTags) - limit; rest > 0 {
			fmt.Fprintf(os.Stderr, "    and %d more\n", rest)
		}
	}
}

func printBackupList(ctx context.Context, sit *rescue.Situation) {
	backups := rescue.ListBackups(ctx, sit.Directory)
	if jsonOutput {
		outputJSON(map[string]any{"backups": backups})
		return
	}
	if len(backups) == 0 {
		info("No backups found.")
		return
	}
	info("Available backups (%d):", len(backups))
	for _, id := range backups {
		fmt.Fprintf(os.Stderr, "    %s\n", id)
	}
	info("Restore with: toolboxctl rescue --from-backup <BACKUP_ID>")
}

func printMemoryAdvisory(adv *rescue.MemoryAdvisory) {
	info("%s", ui.RenderBold("Memory health advisory (read-only)"))
	if !adv.MemctlOK {
		fmt.Fprintf(os.Stderr, "  %-18s  %s\n", "memctl", ui.RenderFail("not found"))
	} else {
		fmt.Fprintf(os.Stderr, "  %-18s  %s\n", "memctl", orDefault(adv.MemctlVersion, "unknown"))
		fmt.Fprintf(os.Stderr, "  %-18s  %s\n", "DB path", orDefault(adv.DBPath, "n/a"))
		fmt.Fprintf(os.Stderr, "  %-18s  %s\n", "DB exists", yesNo(adv.DBExists))
		fmt.Fprintf(os.Stderr, "  %-18s  %s\n", "Eco mode", orDefault(adv.EcoMode, "unknown"))
		if adv.DBExists {
			fmt.Fprintf(os.Stderr, "  %-18s  %d\n", "Items", adv.TotalItems)
		}
		fts := ui.RenderPass("available")
		if !adv.FTS5Available {
			fts = ui.RenderWarn("not available")
		}
		fmt.Fprintf(os.Stderr, "  %-18s  %s\n", "FTS5", fts)
	}
	if adv.HasIssues() {
		info("Recommended:")
		for _, line := range adv.Advice {
			fmt.Fprintf(os.Stderr, "    %s\n", line)
		}
	}
}

func init() {
	rescueCmd.Flags().StringVar(&rescueDir, "dir", ".", "Target project directory")
	rescueCmd.Flags().BoolVar(&rescueDryRun, "dry-run", false, "Plan the recovery without executing anything")
	rescueCmd.Flags().StringVar(&rescueFromBackup, "from-backup", "", "Restore from a backup ID, or \"list\" to enumerate")
	rescueCmd.Flags().BoolVar(&rescueWithMemory, "with-memory", false, "Append a read-only memory health advisory")
	rescueCmd.Flags().BoolVar(&rescueMemoryOnly, "memory-only", false, "Run only the memory advisory")
	rescueCmd.Flags().BoolVar(&rescueForce, "force", false, "Skip confirmation")
	rootCmd.AddCommand(rescueCmd)
}
