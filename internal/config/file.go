package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/ovitrac/AdservioToolbox/internal/fileutil"
)

// fileConfig is the on-disk TOML shape. Kept separate from EffectiveConfig
// so the file only ever carries the three declared sections.
type fileConfig struct {
	Eco    EcoConfig    `toml:"eco"`
	Memctl MemctlConfig `toml:"memctl"`
	Cloak  CloakConfig  `toml:"cloak"`
}

const fileHeader = "# adservio-toolbox configuration\n# Managed by toolboxctl; edit freely, keys not listed here keep their defaults.\n\n"

// WriteFile serializes cfg's three sections to path atomically.
func WriteFile(path string, cfg *EffectiveConfig) error {
	fc := fileConfig{Eco: cfg.Eco, Memctl: cfg.Memctl, Cloak: cfg.Cloak}

	var buf bytes.Buffer
	buf.WriteString(fileHeader)
	enc := toml.NewEncoder(&buf)
	enc.Indent = ""
	if err := enc.Encode(fc); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return fileutil.AtomicWriteFile(path, buf.Bytes())
}

// SetEco flips eco.enabled_global in the config file at path, creating the
// file from defaults when it does not exist. Other sections are preserved.
func SetEco(path string, enabled bool) error {
	fc := fileConfig{}
	defaults := Defaults()
	fc.Eco = defaults.Eco
	fc.Memctl = defaults.Memctl
	fc.Cloak = defaults.Cloak

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &fc); err != nil {
			return &ParseError{Path: path, Err: err}
		}
	}

	fc.Eco.EnabledGlobal = enabled

	var buf bytes.Buffer
	buf.WriteString(fileHeader)
	enc := toml.NewEncoder(&buf)
	enc.Indent = ""
	if err := enc.Encode(fc); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return fileutil.AtomicWriteFile(path, buf.Bytes())
}
