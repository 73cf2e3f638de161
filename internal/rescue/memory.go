package rescue

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/ovitrac/AdservioToolbox/internal/update"
)

// doctorMinVersion is the first memctl release with a doctor command.
const doctorMinVersion = "0.18.0"

// MemoryAdvisory is a read-only memory health diagnostic. Nothing in
// this file mutates state: every memctl invocation is a query or a
// dry run.
type MemoryAdvisory struct {
	MemctlOK              bool             `json:"memctl_ok"`
	MemctlVersion         string           `json:"memctl_version"`
	DoctorAvailable       bool             `json:"doctor_available"`
	DoctorStatus          string           `json:"doctor_status"`
	DoctorChecks          []map[string]any `json:"doctor_checks"`
	DBPath                string           `json:"db_path"`
	DBExists              bool             `json:"db_exists"`
	EcoMode               string           `json:"eco_mode"`
	TotalItems            int              `json:"total_items"`
	Tiers                 map[string]int   `json:"tiers"`
	FTS5Available         bool             `json:"fts5_available"`
	FTSTokenizerMismatch  bool             `json:"fts_tokenizer_mismatch"`
	ConsolidationClusters int              `json:"consolidation_clusters"`
	ConsolidationMerges   int              `json:"consolidation_merges"`
	Advice                []string         `json:"advice"`
}

// HasIssues reports whether the advisory has anything to recommend.
func (a *MemoryAdvisory) HasIssues() bool {
	return len(a.Advice) > 0
}

var versionPattern = regexp.MustCompile(`\d+(?:\.\d+)+`)

// DiagnoseMemory builds a memory health advisory for dir. Always
// returns an advisory; a missing memctl becomes advice, not an error.
func DiagnoseMemory(ctx context.Context, dir string) *MemoryAdvisory {
	adv := &MemoryAdvisory{Tiers: map[string]int{}}

	if !toolAvailable("memctl") {
		adv.Advice = append(adv.Advice, "memctl not found on PATH. Install: pipx install memctl[mcp,docs]")
		return adv
	}
	adv.MemctlOK = true

	if res, err := runCmd(ctx, "memctl", "--version"); err == nil && res.ExitCode == 0 {
		adv.MemctlVersion = versionPattern.FindString(res.Stdout)
	}
	if adv.MemctlVersion != "" {
		adv.DoctorAvailable = update.CompareVersions(adv.MemctlVersion, doctorMinVersion) >= 0
	}

	if adv.DoctorAvailable {
		readDoctor(ctx, dir, adv)
	}
	readStatus(ctx, dir, adv)
	if !adv.DoctorAvailable && adv.DBExists {
		readStats(ctx, dir, adv)
	}
	if adv.DBExists {
		readConsolidation(ctx, dir, adv)
	}

	advise(adv)
	return adv
}

// memctlJSON runs a memctl query in dir and decodes its JSON output.
// okExits lists exit codes that still carry usable output.
func memctlJSON(ctx context.Context, dir string, v any, okExits []int, args ...string) bool {
	res, err := runInDir(ctx, dir, "memctl", args...)
	if err != nil {
		return false
	}
	accepted := false
	for _, code := range okExits {
		if res.ExitCode == code {
			accepted = true
			break
		}
	}
	if !accepted {
		return false
	}
	return json.Unmarshal([]byte(strings.TrimSpace(res.Stdout)), v) == nil
}

func readDoctor(ctx context.Context, dir string, adv *MemoryAdvisory) {
	var doc struct {
		Status string           `json:"status"`
		Checks []map[string]any `json:"checks"`
	}
	// memctl doctor exits 1 on warnings; the output is still valid.
	if !memctlJSON(ctx, dir, &doc, []int{0, 1}, "doctor", "--json") {
		return
	}
	adv.DoctorStatus = doc.Status
	adv.DoctorChecks = doc.Checks
	for _, check := range doc.Checks {
		name, _ := check["name"].(string)
		detail, _ := check["detail"].(string)
		status, _ := check["status"].(string)
		switch name {
		case "db_exists":
			adv.DBExists = status == "pass"
			adv.DBPath = detail
		case "fts5_support":
			adv.FTS5Available = status == "pass"
		case "eco_config":
			adv.EcoMode = detail
		}
	}
}

func readStatus(ctx context.Context, dir string, adv *MemoryAdvisory) {
	var st struct {
		DBPath               string         `json:"db_path"`
		DBExists             bool           `json:"db_exists"`
		EcoMode              string         `json:"eco_mode"`
		TotalItems           int            `json:"total_items"`
		Tiers                map[string]int `json:"tiers"`
		FTSTokenizerMismatch bool           `json:"fts_tokenizer_mismatch"`
	}
	if !memctlJSON(ctx, dir, &st, []int{0}, "status", "--json") {
		return
	}
	if adv.DBPath == "" {
		adv.DBPath = st.DBPath
	}
	if !adv.DoctorAvailable {
		adv.DBExists = st.DBExists
		adv.EcoMode = st.EcoMode
	}
	adv.TotalItems = st.TotalItems
	if len(st.Tiers) > 0 {
		adv.Tiers = st.Tiers
	}
	adv.FTSTokenizerMismatch = st.FTSTokenizerMismatch
}

func readStats(ctx context.Context, dir string, adv *MemoryAdvisory) {
	var stats struct {
		FTS5Available bool `json:"fts5_available"`
	}
	if memctlJSON(ctx, dir, &stats, []int{0}, "stats", "--json") {
		adv.FTS5Available = stats.FTS5Available
	}
}

func readConsolidation(ctx context.Context, dir string, adv *MemoryAdvisory) {
	var cons struct {
		Clusters int `json:"clusters"`
		Merges   int `json:"merges"`
	}
	if memctlJSON(ctx, dir, &cons, []int{0}, "consolidate", "--dry-run", "--json") {
		adv.ConsolidationClusters = cons.Clusters
		adv.ConsolidationMerges = cons.Merges
	}
}

func advise(adv *MemoryAdvisory) {
	switch {
	case !adv.DBExists && adv.DBPath != "":
		adv.Advice = append(adv.Advice, fmt.Sprintf("Memory database not found at %s. Run: memctl init", adv.DBPath))
	case !adv.DBExists:
		adv.Advice = append(adv.Advice, "Memory database not found. Run: memctl init")
	}
	if adv.DBExists && adv.TotalItems == 0 {
		adv.Advice = append(adv.Advice, "Memory is empty. Run: memctl push or /scan")
	}
	if adv.EcoMode == "" || adv.EcoMode == "not installed" {
		adv.Advice = append(adv.Advice, "Eco mode is not installed. Run: toolboxctl eco on")
	}
	if adv.FTSTokenizerMismatch {
		adv.Advice = append(adv.Advice, "FTS tokenizer mismatch detected. Run: memctl reindex --dry-run")
	}
	if adv.ConsolidationClusters > 0 {
		adv.Advice = append(adv.Advice, fmt.Sprintf(
			"Consolidation suggested (%d clusters, %d potential merges). Run: memctl consolidate --dry-run",
			adv.ConsolidationClusters, adv.ConsolidationMerges))
	}
	if adv.DBExists && !adv.FTS5Available {
		adv.Advice = append(adv.Advice, "FTS5 not available, search and recall will be degraded")
	}
	for _, check := range adv.DoctorChecks {
		if status, _ := check["status"].(string); status != "fail" {
			continue
		}
		msg, _ := check["message"].(string)
		if msg == "" {
			msg, _ = check["name"].(string)
		}
		adv.Advice = append(adv.Advice, "memctl doctor: "+msg)
		if name, _ := check["name"].(string); name == "integrity_check" {
			adv.Advice = append(adv.Advice, "Database integrity check failed, consider backup + reset")
		}
	}
}
