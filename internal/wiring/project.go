package wiring

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ovitrac/AdservioToolbox/internal/config"
	"github.com/ovitrac/AdservioToolbox/internal/fileutil"
	"github.com/ovitrac/AdservioToolbox/internal/manifest"
	"github.com/ovitrac/AdservioToolbox/internal/mergefile"
)

// Project profiles. The set is closed: anything else is rejected up front.
const (
	ProfileMinimal    = "minimal"
	ProfileDev        = "dev"
	ProfilePlayground = "playground"
)

// ValidProfile reports whether name is a known project profile.
func ValidProfile(name string) bool {
	switch name {
	case ProfileMinimal, ProfileDev, ProfilePlayground:
		return true
	}
	return false
}

// AlreadyInitializedError: init without --force on an initialized project.
type AlreadyInitializedError struct {
	Dir string
}

func (e *AlreadyInitializedError) Error() string {
	return fmt.Sprintf("%s is already initialized (use --force to re-init)", e.Dir)
}

// NotInitializedError: deinit on a project without a manifest.
type NotInitializedError struct {
	Dir string
}

func (e *NotInitializedError) Error() string {
	return fmt.Sprintf("%s is not initialized (no %s/%s)", e.Dir, manifest.Dir, manifest.ManifestFile)
}

// MCPServers are the servers init registers in .claude/settings.json.
var MCPServers = map[string]mergefile.MCPServer{
	"memctl":   {Command: "memctl", Args: []string{"mcp"}},
	"cloakmcp": {Command: "cloak", Args: []string{"mcp"}},
}

var mcpServerNames = []string{"cloakmcp", "memctl"}

// gitignoreEntries are the untracked toolbox files.
var gitignoreEntries = []string{
	".claude/settings.local.json",
	".toolbox/state.json",
}

// deinitAllowlist holds path prefixes deinit never deletes, whatever the
// ledger says. Second safety net behind the ledger itself.
var deinitAllowlist = []string{
	".memory",
	filepath.Join(".claude", "hooks"),
}

const projectBlockBase = `## Adservio Toolbox — Project Conventions

- CloakMCP safety rules are defined globally (see ` + "`~/.claude/CLAUDE.md`" + `).
  Do not paste raw secrets into prompts.
- This repo may enable eco mode; see ` + "`.claude/eco/ECO.md`" + ` when present.
- Run ` + "`toolboxctl doctor`" + ` to verify the installation at any time.`

const projectBlockDevAddendum = `
- Build, test, lint, and format instructions are in ` + "`.claude/PROJECT.md`" + `.`

const projectBlockPlaygroundAddendum = `
- This is a playground project. See ` + "`CHALLENGE.md`" + ` for interactive tests.`

const projectMDTemplate = `# Project — Build, Test, Lint, Format

## Build
` + "```bash" + `
# e.g. pip install -e ".[dev]"
` + "```" + `

## Test
` + "```bash" + `
# e.g. pytest -x --tb=short
` + "```" + `

## Lint
` + "```bash" + `
# e.g. ruff check .
` + "```" + `

## Format
` + "```bash" + `
# e.g. black . && isort .
` + "```" + `
`

// ProjectBlockBody assembles the PROJECT block for a profile. The base
// references the GLOBAL rules instead of restating them.
func ProjectBlockBody(profile string) string {
	switch profile {
	case ProfileDev:
		return projectBlockBase + projectBlockDevAddendum
	case ProfilePlayground:
		return projectBlockBase + projectBlockPlaygroundAddendum
	}
	return projectBlockBase
}

//go:embed templates/commands/*.md
var commandTemplates embed.FS

// InitOptions tunes Init.
type InitOptions struct {
	// Profile defaults to ProfileMinimal.
	Profile string
	// Force re-initializes an already-initialized project, overwriting
	// toolbox-owned files and rebuilding the state ledger from scratch.
	Force bool
	// FTS overrides the memctl tokenizer written into a fresh config file.
	FTS string
	// Version is stamped into the manifest.
	Version string
}

// ArtifactAction records what happened to one artifact.
type ArtifactAction struct {
	Path   string                `json:"path"`
	Result mergefile.Result      `json:"result"`
	Mode   manifest.CreationMode `json:"mode,omitempty"`
}

// InitReport summarizes an init run.
type InitReport struct {
	Profile string           `json:"profile"`
	Actions []ArtifactAction `json:"actions"`
	// LegacyMarkers is set when CLAUDE.md carries old-generation markers;
	// the file was left untouched and doctor will flag it.
	LegacyMarkers bool `json:"legacy_markers,omitempty"`
}

// Init wires the project at dir: slash commands, MCP servers, config file,
// PROJECT block, profile artifacts, gitignore, manifest and ledger.
//
// Re-running without Force fails AlreadyInitialized. With Force the ledger
// is rebuilt from scratch so entries from a prior profile never leak
// forward.
func Init(dir string, opts InitOptions) (*InitReport, error) {
	profile := opts.Profile
	if profile == "" {
		profile = ProfileMinimal
	}
	if !ValidProfile(profile) {
		return nil, fmt.Errorf("unknown profile %q (want minimal, dev, or playground)", profile)
	}
	var prior manifest.StateLedger
	if manifest.Exists(dir) {
		if !opts.Force {
			return nil, &AlreadyInitializedError{Dir: dir}
		}
		var err error
		prior, err = manifest.LoadState(dir)
		if err != nil {
			return nil, err
		}
	}

	report := &InitReport{Profile: profile}
	ledger := manifest.StateLedger{}
	record := func(rel string, res mergefile.Result, mode manifest.CreationMode) {
		report.Actions = append(report.Actions, ArtifactAction{Path: rel, Result: res, Mode: mode})
		if res != mergefile.LegacyDetected {
			ledger.Record(rel, mode)
		}
	}

	// Slash commands from the embedded templates.
	entries, err := fs.ReadDir(commandTemplates, "templates/commands")
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		rel := filepath.Join(".claude", "commands", entry.Name())
		dst := filepath.Join(dir, rel)
		if fileutil.FileExists(dst) && !opts.Force {
			report.Actions = append(report.Actions, ArtifactAction{Path: rel, Result: mergefile.Unchanged})
			continue
		}
		data, err := commandTemplates.ReadFile("templates/commands/" + entry.Name())
		if err != nil {
			return nil, err
		}
		if err := fileutil.EnsureDir(filepath.Dir(dst), 0o755); err != nil {
			return nil, err
		}
		if err := fileutil.AtomicWriteFile(dst, data); err != nil {
			return nil, err
		}
		record(rel, mergefile.Created, manifest.ModeNew)
	}

	// MCP servers merged into .claude/settings.json.
	settingsRel := filepath.Join(".claude", "settings.json")
	settingsPath := filepath.Join(dir, settingsRel)
	if err := fileutil.EnsureDir(filepath.Dir(settingsPath), 0o755); err != nil {
		return nil, err
	}
	res, err := mergefile.MergeMCPServers(settingsPath, MCPServers, opts.Force)
	if err != nil {
		return nil, err
	}
	if res == mergefile.Created {
		record(settingsRel, res, manifest.ModeNew)
	} else {
		record(settingsRel, res, manifest.ModeMerged)
	}

	// Config file, only when absent (or forced).
	configPath := filepath.Join(dir, config.ConfigFileName)
	if !fileutil.FileExists(configPath) || opts.Force {
		cfg := config.Defaults()
		if opts.FTS != "" {
			cfg.Memctl.FTS = opts.FTS
		}
		if err := config.WriteFile(configPath, &cfg); err != nil {
			return nil, err
		}
		record(config.ConfigFileName, mergefile.Created, manifest.ModeNew)
	} else {
		report.Actions = append(report.Actions, ArtifactAction{Path: config.ConfigFileName, Result: mergefile.Unchanged})
	}

	// PROJECT block in CLAUDE.md.
	claudeMD := filepath.Join(dir, "CLAUDE.md")
	existed := fileutil.FileExists(claudeMD)
	res, err = mergefile.UpsertBlock(claudeMD, mergefile.ProjectMarkers, ProjectBlockBody(profile))
	if err != nil {
		return nil, err
	}
	switch {
	case res == mergefile.LegacyDetected:
		report.LegacyMarkers = true
		report.Actions = append(report.Actions, ArtifactAction{Path: "CLAUDE.md", Result: res})
	case !existed:
		record("CLAUDE.md", res, manifest.ModeNew)
	default:
		record("CLAUDE.md", res, manifest.ModeMerged)
	}

	// Build/test template, dev profile only.
	if profile == ProfileDev {
		rel := filepath.Join(".claude", "PROJECT.md")
		dst := filepath.Join(dir, rel)
		if fileutil.FileExists(dst) && !opts.Force {
			report.Actions = append(report.Actions, ArtifactAction{Path: rel, Result: mergefile.Unchanged})
		} else {
			if err := fileutil.EnsureDir(filepath.Dir(dst), 0o755); err != nil {
				return nil, err
			}
			if err := fileutil.AtomicWriteFile(dst, []byte(projectMDTemplate)); err != nil {
				return nil, err
			}
			record(rel, mergefile.Created, manifest.ModeNew)
		}
	}

	// Untracked files into .gitignore.
	gitignore := filepath.Join(dir, ".gitignore")
	res, err = mergefile.EnsureLines(gitignore, gitignoreEntries)
	if err != nil {
		return nil, err
	}
	if res == mergefile.Created {
		record(".gitignore", res, manifest.ModeNew)
	} else {
		record(".gitignore", res, manifest.ModeMerged)
	}

	// Forced re-init: prior-profile artifacts the new profile does not
	// re-create must not outlive the rebuilt ledger.
	for _, rel := range prior.Paths() {
		if prior[rel] != manifest.ModeNew || allowlisted(rel) {
			continue
		}
		if _, ok := ledger[rel]; ok {
			continue
		}
		err := os.Remove(filepath.Join(dir, rel))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		removeEmptyParents(dir, filepath.Dir(rel))
		report.Actions = append(report.Actions, ArtifactAction{Path: rel, Result: mergefile.Removed, Mode: manifest.ModeNew})
	}

	m := manifest.New(opts.Version, profile, ledger.Paths())
	if err := m.Save(dir); err != nil {
		return nil, err
	}
	if err := ledger.Save(dir); err != nil {
		return nil, err
	}
	return report, nil
}

// allowlisted reports whether rel sits inside a protected prefix.
func allowlisted(rel string) bool {
	rel = filepath.ToSlash(rel)
	for _, prefix := range deinitAllowlist {
		p := filepath.ToSlash(prefix)
		if rel == p || strings.HasPrefix(rel, p+"/") {
			return true
		}
	}
	return false
}

// DeinitReport summarizes a deinit run.
type DeinitReport struct {
	Actions []ArtifactAction `json:"actions"`
}

// Deinit reverses Init using the state ledger: ledger paths are walked
// deepest-first, "new" artifacts deleted, "merged" artifacts stripped of
// only the managed region. Allowlisted paths are never deleted. Fails
// NotInitialized, with zero writes, when no manifest exists.
func Deinit(dir string) (*DeinitReport, error) {
	if !manifest.Exists(dir) {
		return nil, &NotInitializedError{Dir: dir}
	}
	ledger, err := manifest.LoadState(dir)
	if err != nil {
		return nil, err
	}

	report := &DeinitReport{}
	if len(ledger) == 0 {
		// Ledger lost (untracked file). Fall back to the reversals that are
		// safe without it: strips and provenance-based removals.
		fallbacks := []struct {
			rel string
			fn  func() (mergefile.Result, error)
		}{
			{"CLAUDE.md", func() (mergefile.Result, error) {
				return mergefile.StripBlock(filepath.Join(dir, "CLAUDE.md"), mergefile.ProjectMarkers)
			}},
			{filepath.Join(".claude", "settings.json"), func() (mergefile.Result, error) {
				return mergefile.RemoveMCPServers(filepath.Join(dir, ".claude", "settings.json"), mcpServerNames)
			}},
			{".gitignore", func() (mergefile.Result, error) {
				return mergefile.RemoveLines(filepath.Join(dir, ".gitignore"), gitignoreEntries)
			}},
		}
		for _, fb := range fallbacks {
			res, err := fb.fn()
			if err != nil {
				return nil, err
			}
			report.Actions = append(report.Actions, ArtifactAction{Path: fb.rel, Result: res})
		}
	}

	for _, rel := range ledger.Paths() {
		mode := ledger[rel]
		if allowlisted(rel) {
			report.Actions = append(report.Actions, ArtifactAction{Path: rel, Result: mergefile.Unchanged, Mode: mode})
			continue
		}
		path := filepath.Join(dir, rel)

		switch mode {
		case manifest.ModeNew:
			// Shared documents get a strip even when we created them: the
			// user may have added their own content since init, and strip
			// deletes the file anyway once only our region remains.
			switch filepath.ToSlash(rel) {
			case "CLAUDE.md", ".gitignore", ".claude/settings.json":
				res, err := stripMerged(dir, rel)
				if err != nil {
					return nil, err
				}
				if filepath.ToSlash(rel) == ".claude/settings.json" {
					if err := removeIfEmptyJSON(path); err != nil {
						return nil, err
					}
				}
				report.Actions = append(report.Actions, ArtifactAction{Path: rel, Result: res, Mode: mode})
				removeEmptyParents(dir, filepath.Dir(rel))
				continue
			}

			err := os.Remove(path)
			if os.IsNotExist(err) {
				report.Actions = append(report.Actions, ArtifactAction{Path: rel, Result: mergefile.Absent, Mode: mode})
				continue
			}
			if err != nil {
				return nil, err
			}
			removeEmptyParents(dir, filepath.Dir(rel))
			report.Actions = append(report.Actions, ArtifactAction{Path: rel, Result: mergefile.Removed, Mode: mode})

		case manifest.ModeMerged:
			res, err := stripMerged(dir, rel)
			if err != nil {
				return nil, err
			}
			report.Actions = append(report.Actions, ArtifactAction{Path: rel, Result: res, Mode: mode})
		}
	}

	if err := manifest.RemoveState(dir); err != nil {
		return nil, err
	}
	if err := manifest.RemoveManifest(dir); err != nil {
		return nil, err
	}
	removeEmptyParents(dir, manifest.Dir)
	return report, nil
}

// stripMerged reverses a merged-into-existing artifact by type.
func stripMerged(dir, rel string) (mergefile.Result, error) {
	path := filepath.Join(dir, rel)
	switch filepath.ToSlash(rel) {
	case "CLAUDE.md":
		return mergefile.StripBlock(path, mergefile.ProjectMarkers)
	case ".gitignore":
		return mergefile.RemoveLines(path, gitignoreEntries)
	case ".claude/settings.json":
		return mergefile.RemoveMCPServers(path, mcpServerNames)
	}
	// Unknown merged artifact: leave the user's file alone.
	return mergefile.Unchanged, nil
}

// removeIfEmptyJSON deletes a JSON document that is down to an empty
// object. Anything else, including unparsable content, is left alone.
func removeIfEmptyJSON(path string) error {
	data, err := os.ReadFile(path) // #nosec G304 -- path derived from project dir
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var doc map[string]any
	if jsonErr := json.Unmarshal(data, &doc); jsonErr != nil || len(doc) > 0 {
		return nil
	}
	return os.Remove(path)
}

// removeEmptyParents prunes now-empty directories up to, not including,
// the project root.
func removeEmptyParents(root, rel string) {
	for rel != "." && rel != "" {
		path := filepath.Join(root, rel)
		entries, err := os.ReadDir(path)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(path); err != nil {
			return
		}
		rel = filepath.Dir(rel)
	}
}

// RefreshProjectBlock re-renders the PROJECT block from the profile the
// manifest recorded, without touching other artifacts.
func RefreshProjectBlock(dir string) (mergefile.Result, error) {
	m, err := manifest.Load(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return mergefile.Absent, &NotInitializedError{Dir: dir}
		}
		return mergefile.Absent, err
	}
	profile := m.Profile
	if !ValidProfile(profile) {
		profile = ProfileMinimal
	}
	return mergefile.UpsertBlock(filepath.Join(dir, "CLAUDE.md"), mergefile.ProjectMarkers, ProjectBlockBody(profile))
}

// ProjectStatus summarizes project wiring for doctor/status.
type ProjectStatus struct {
	ManifestPresent bool     `json:"manifest_present"`
	ToolboxVersion  string   `json:"toolbox_version,omitempty"`
	Profile         string   `json:"profile,omitempty"`
	BlockInstalled  bool     `json:"block_installed"`
	LegacyMarkers   bool     `json:"legacy_markers"`
	EcoActive       bool     `json:"eco_active"`
	HasProjectMD    bool     `json:"has_project_md"`
	Commands        []string `json:"commands"`
}

// CheckProject inspects project wiring without mutating anything.
func CheckProject(dir string) ProjectStatus {
	status := ProjectStatus{}

	if m, err := manifest.Load(dir); err == nil {
		status.ManifestPresent = true
		status.ToolboxVersion = m.ToolboxVersion
		status.Profile = m.Profile
	}
	if data, err := os.ReadFile(filepath.Join(dir, "CLAUDE.md")); err == nil { // #nosec G304 -- fixed name under project dir
		status.BlockInstalled = mergefile.HasBlock(data, mergefile.ProjectMarkers)
		status.LegacyMarkers = mergefile.HasLegacyBlock(data)
	}

	// Eco is active when the strategy doc exists and is not disabled.
	ecoMD := filepath.Join(dir, ".claude", "eco", "ECO.md")
	ecoDisabled := filepath.Join(dir, ".claude", "eco", ".disabled")
	status.EcoActive = fileutil.FileExists(ecoMD) && !fileutil.FileExists(ecoDisabled)

	status.HasProjectMD = fileutil.FileExists(filepath.Join(dir, ".claude", "PROJECT.md"))

	if entries, err := os.ReadDir(filepath.Join(dir, ".claude", "commands")); err == nil {
		for _, entry := range entries {
			if strings.HasSuffix(entry.Name(), ".md") {
				status.Commands = append(status.Commands, strings.TrimSuffix(entry.Name(), ".md"))
			}
		}
	}
	return status
}
