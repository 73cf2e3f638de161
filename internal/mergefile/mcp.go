package mergefile

import (
	"fmt"

	"github.com/ovitrac/AdservioToolbox/internal/fileutil"
)

// MCPServer is one entry under mcpServers in a settings document.
type MCPServer struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// MergeMCPServers registers the given servers in the settings document at
// path. An already-registered name is kept as-is unless force is set;
// permissions, hooks, and other user configuration are never touched.
func MergeMCPServers(path string, servers map[string]MCPServer, force bool) (Result, error) {
	doc, err := loadJSONDoc(path)
	if err != nil {
		return Unchanged, err
	}
	existed := fileutil.FileExists(path)

	mcpVal, ok := doc["mcpServers"]
	if !ok {
		mcpVal = map[string]any{}
	}
	mcp, ok := mcpVal.(map[string]any)
	if !ok {
		return Unchanged, &CorruptTargetError{Path: path, Err: fmt.Errorf("mcpServers is not an object")}
	}

	for name, server := range servers {
		if _, present := mcp[name]; present && !force {
			continue
		}
		mcp[name] = toJSONValue(server)
	}
	doc["mcpServers"] = mcp

	wrote, err := saveJSONDoc(path, doc)
	if err != nil {
		return Unchanged, err
	}
	switch {
	case !wrote:
		return Unchanged, nil
	case !existed:
		return Created, nil
	default:
		return Updated, nil
	}
}

// RemoveMCPServers unregisters the named servers. Servers registered by
// the user under other names survive.
func RemoveMCPServers(path string, names []string) (Result, error) {
	if !fileutil.FileExists(path) {
		return Absent, nil
	}
	doc, err := loadJSONDoc(path)
	if err != nil {
		return Absent, err
	}

	mcp, ok := doc["mcpServers"].(map[string]any)
	if !ok {
		return Absent, nil
	}

	changed := false
	for _, name := range names {
		if _, present := mcp[name]; present {
			delete(mcp, name)
			changed = true
		}
	}
	if !changed {
		return Absent, nil
	}
	if len(mcp) == 0 {
		delete(doc, "mcpServers")
	}

	if _, err := saveJSONDoc(path, doc); err != nil {
		return Absent, err
	}
	return Removed, nil
}
