package mergefile

import (
	"os"
	"path/filepath"
	"testing"
)

func toolboxServers() map[string]MCPServer {
	return map[string]MCPServer{
		"memctl":   {Command: "memctl", Args: []string{"mcp"}},
		"cloakmcp": {Command: "cloak", Args: []string{"mcp"}},
	}
}

func TestMergeMCPServersCreates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")

	res, err := MergeMCPServers(path, toolboxServers(), false)
	if err != nil {
		t.Fatalf("MergeMCPServers() error = %v", err)
	}
	if res != Created {
		t.Errorf("result = %v, want Created", res)
	}

	doc := decodeDoc(t, path)
	mcp := doc["mcpServers"].(map[string]any)
	for _, name := range []string{"memctl", "cloakmcp"} {
		if _, ok := mcp[name]; !ok {
			t.Errorf("server %q not registered", name)
		}
	}
}

func TestMergeMCPServersKeepsExistingWithoutForce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	initial := `{"mcpServers": {"memctl": {"command": "custom-memctl"}}}`
	if err := os.WriteFile(path, []byte(initial), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := MergeMCPServers(path, toolboxServers(), false); err != nil {
		t.Fatal(err)
	}
	doc := decodeDoc(t, path)
	mcp := doc["mcpServers"].(map[string]any)
	memctl := mcp["memctl"].(map[string]any)
	if got := memctl["command"]; got != "custom-memctl" {
		t.Errorf("memctl command = %v, want user's custom-memctl kept", got)
	}
	if _, ok := mcp["cloakmcp"]; !ok {
		t.Error("cloakmcp not added alongside user entry")
	}
}

func TestMergeMCPServersForceOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	initial := `{"mcpServers": {"memctl": {"command": "custom-memctl"}}}`
	if err := os.WriteFile(path, []byte(initial), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := MergeMCPServers(path, toolboxServers(), true); err != nil {
		t.Fatal(err)
	}
	doc := decodeDoc(t, path)
	memctl := doc["mcpServers"].(map[string]any)["memctl"].(map[string]any)
	if got := memctl["command"]; got != "memctl" {
		t.Errorf("memctl command = %v, want overwritten memctl", got)
	}
}

func TestRemoveMCPServersKeepsUserServers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if _, err := MergeMCPServers(path, toolboxServers(), false); err != nil {
		t.Fatal(err)
	}
	// User registers their own server afterwards.
	doc := decodeDoc(t, path)
	doc["mcpServers"].(map[string]any)["my-server"] = map[string]any{"command": "mine"}
	if _, err := saveJSONDoc(path, doc); err != nil {
		t.Fatal(err)
	}

	res, err := RemoveMCPServers(path, []string{"memctl", "cloakmcp"})
	if err != nil {
		t.Fatalf("RemoveMCPServers() error = %v", err)
	}
	if res != Removed {
		t.Errorf("result = %v, want Removed", res)
	}

	doc = decodeDoc(t, path)
	mcp := doc["mcpServers"].(map[string]any)
	if len(mcp) != 1 {
		t.Fatalf("mcpServers = %v, want only my-server", mcp)
	}
	if _, ok := mcp["my-server"]; !ok {
		t.Error("user server removed")
	}
}

func TestRemoveMCPServersAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	res, err := RemoveMCPServers(path, []string{"memctl"})
	if err != nil {
		t.Fatalf("RemoveMCPServers() error = %v", err)
	}
	if res != Absent {
		t.Errorf("result = %v, want Absent", res)
	}
}
