package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestShellQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "''"},
		{"plain", "plain"},
		{".memory/memory.db", ".memory/memory.db"},
		{"has space", "'has space'"},
		{"dollar$var", "'dollar$var'"},
		{"it's", `'it'\''s'`},
	}
	for _, tt := range tests {
		if got := shellQuote(tt.in); got != tt.want {
			t.Errorf("shellQuote(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestInstalledCommands(t *testing.T) {
	dir := t.TempDir()
	commands := filepath.Join(dir, ".claude", "commands")
	if err := os.MkdirAll(commands, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"toolbox.md", "recall.md", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(commands, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	got := installedCommands(dir)
	want := []string{"/recall", "/toolbox"}
	if len(got) != len(want) {
		t.Fatalf("installedCommands() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("command[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestInstalledCommandsNoDir(t *testing.T) {
	if got := installedCommands(t.TempDir()); got != nil {
		t.Errorf("installedCommands() = %v, want nil", got)
	}
}
