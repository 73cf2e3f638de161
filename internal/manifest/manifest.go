// Package manifest persists project wiring state under .toolbox/.
//
// Two files, deliberately split:
//
//	manifest.json: tracked in version control; the authoritative "this
//	  project is initialized" marker (version, profile, artifact list).
//	state.json: untracked; per-artifact creation mode so deinit knows
//	  whether to delete a file or only strip the managed region from it.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ovitrac/AdservioToolbox/internal/fileutil"
)

const (
	// Dir is the project-local state directory.
	Dir = ".toolbox"
	// ManifestFile is the tracked manifest, relative to Dir.
	ManifestFile = "manifest.json"
	// StateFile is the untracked ledger, relative to Dir.
	StateFile = "state.json"

	schemaVersion = 1
)

// CreationMode records how init produced an artifact.
type CreationMode string

const (
	// ModeNew: the artifact did not exist; deinit deletes it outright.
	ModeNew CreationMode = "new"
	// ModeMerged: init merged into a pre-existing file; deinit strips only
	// the managed region and leaves the rest of the file alone.
	ModeMerged CreationMode = "merged-into-existing"
)

// Manifest is the tracked record of a project initialization.
type Manifest struct {
	SchemaVersion    int      `json:"schema_version"`
	ToolboxVersion   string   `json:"toolbox_version"`
	Profile          string   `json:"profile"`
	InitTimestamp    string   `json:"init_timestamp"`
	UpdatedTimestamp string   `json:"updated_timestamp"`
	Features         []string `json:"features"`
	Artifacts        []string `json:"artifacts"`
}

// StateLedger maps artifact paths (relative to the project root) to how
// they were created. Serialized as a flat JSON object.
type StateLedger map[string]CreationMode

// defaultFeatures lists the wiring features every init installs.
var defaultFeatures = []string{
	"claude_md_block",
	"slash_commands",
	"mcp_servers",
	"permissions",
	"config",
}

func ManifestPath(projectDir string) string {
	return filepath.Join(projectDir, Dir, ManifestFile)
}

func StatePath(projectDir string) string {
	return filepath.Join(projectDir, Dir, StateFile)
}

// Exists reports whether the project at projectDir carries a manifest.
func Exists(projectDir string) bool {
	return fileutil.FileExists(ManifestPath(projectDir))
}

// New builds a fresh manifest for the given profile and artifact set.
func New(version, profile string, artifacts []string) *Manifest {
	now := time.Now().UTC().Format(time.RFC3339)
	sorted := append([]string(nil), artifacts...)
	sort.Strings(sorted)
	return &Manifest{
		SchemaVersion:    schemaVersion,
		ToolboxVersion:   version,
		Profile:          profile,
		InitTimestamp:    now,
		UpdatedTimestamp: now,
		Features:         append([]string(nil), defaultFeatures...),
		Artifacts:        sorted,
	}
}

// Load reads the manifest for projectDir.
func Load(projectDir string) (*Manifest, error) {
	path := ManifestPath(projectDir)
	data, err := os.ReadFile(path) // #nosec G304 -- path derived from project dir
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &m, nil
}

// Save writes the manifest atomically, refreshing UpdatedTimestamp.
func (m *Manifest) Save(projectDir string) error {
	m.UpdatedTimestamp = time.Now().UTC().Format(time.RFC3339)
	if err := fileutil.EnsureDir(filepath.Join(projectDir, Dir), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return fileutil.AtomicWriteFile(ManifestPath(projectDir), append(data, '\n'))
}

// LoadState reads the ledger for projectDir, returning an empty ledger
// when the file is missing.
func LoadState(projectDir string) (StateLedger, error) {
	path := StatePath(projectDir)
	data, err := os.ReadFile(path) // #nosec G304 -- path derived from project dir
	if os.IsNotExist(err) {
		return StateLedger{}, nil
	}
	if err != nil {
		return nil, err
	}
	var s StateLedger
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return s, nil
}

// Save writes the ledger atomically.
func (s StateLedger) Save(projectDir string) error {
	if err := fileutil.EnsureDir(filepath.Join(projectDir, Dir), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return fileutil.AtomicWriteFile(StatePath(projectDir), append(data, '\n'))
}

// Record notes how an artifact was created. Later records win so a forced
// re-init rebuilds the ledger entry by entry.
func (s StateLedger) Record(path string, mode CreationMode) {
	s[path] = mode
}

// Paths returns the ledger's artifact paths in reverse-sorted order, the
// order deinit walks them (deepest paths first).
func (s StateLedger) Paths() []string {
	paths := make([]string, 0, len(s))
	for p := range s {
		paths = append(paths, p)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(paths)))
	return paths
}

// Remove deletes the state file. Missing file is fine.
func RemoveState(projectDir string) error {
	err := os.Remove(StatePath(projectDir))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// RemoveManifest deletes the manifest file. Missing file is fine.
func RemoveManifest(projectDir string) error {
	err := os.Remove(ManifestPath(projectDir))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
