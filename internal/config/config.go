// Package config resolves the effective toolbox configuration.
//
// Precedence (highest → lowest):
//
//	CLI flags > env vars > .adservio-toolbox.toml > compiled defaults
//
// Resolution is pure and recomputed per invocation; nothing here touches
// cloak or memctl directly.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// ConfigFileName is the declarative config file discovered by walking up
// from the working directory.
const ConfigFileName = ".adservio-toolbox.toml"

// EffectiveConfig is the fully-resolved configuration record. Whole-field
// selection only: each field comes entirely from one precedence layer.
type EffectiveConfig struct {
	Eco    EcoConfig    `json:"eco"`
	Memctl MemctlConfig `json:"memctl"`
	Cloak  CloakConfig  `json:"cloak"`

	// Source is the config file the file layer came from ("" if none).
	Source string `json:"source,omitempty"`
}

type EcoConfig struct {
	EnabledGlobal bool `json:"enabled_global" toml:"enabled_global"`
}

type MemctlConfig struct {
	DB     string `json:"db" toml:"db"`
	FTS    string `json:"fts" toml:"fts"`
	Budget int    `json:"budget" toml:"budget"`
	Tier   string `json:"tier" toml:"tier"`
}

type CloakConfig struct {
	Policy     string `json:"policy" toml:"policy"`
	Mode       string `json:"mode" toml:"mode"`
	FailClosed bool   `json:"fail_closed" toml:"fail_closed"`
}

// Defaults returns the compiled default configuration.
func Defaults() EffectiveConfig {
	return EffectiveConfig{
		Eco: EcoConfig{EnabledGlobal: false},
		Memctl: MemctlConfig{
			DB:     ".memory/memory.db",
			FTS:    "fr",
			Budget: 2200,
			Tier:   "stm",
		},
		Cloak: CloakConfig{
			Policy:     ".cloak/policy.yaml",
			Mode:       "enforce",
			FailClosed: false,
		},
	}
}

// envTable is the fixed config-key → env-var mapping. No magic prefixes:
// every bridged variable is listed explicitly.
var envTable = map[string]string{
	"eco.enabled_global": "ADSERVIO_ECO",
	"memctl.db":          "MEMCTL_DB",
	"memctl.fts":         "MEMCTL_FTS",
	"memctl.budget":      "MEMCTL_BUDGET",
	"memctl.tier":        "MEMCTL_TIER",
	"cloak.policy":       "CLOAK_POLICY",
	"cloak.mode":         "CLOAK_MODE",
	"cloak.fail_closed":  "CLOAK_FAIL_CLOSED",
}

// ParseError reports a malformed config file. It is always fatal: a parse
// error silently degraded to defaults could reconfigure security-relevant
// fields behind the user's back.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// FindConfig walks up from start looking for ConfigFileName.
// Returns "" if no config file exists anywhere up the tree.
func FindConfig(start string) string {
	dir, err := filepath.Abs(start)
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ConfigFileName)
		if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// Resolve builds the EffectiveConfig for the given config file path (may be
// "" for defaults-only) and CLI overrides keyed by config key, e.g.
// {"memctl.budget": "1500"}. Missing file is soft; malformed file is a
// *ParseError.
func Resolve(path string, cliOverrides map[string]string) (*EffectiveConfig, error) {
	v := viper.New()

	defaults := Defaults()
	v.SetDefault("eco.enabled_global", defaults.Eco.EnabledGlobal)
	v.SetDefault("memctl.db", defaults.Memctl.DB)
	v.SetDefault("memctl.fts", defaults.Memctl.FTS)
	v.SetDefault("memctl.budget", defaults.Memctl.Budget)
	v.SetDefault("memctl.tier", defaults.Memctl.Tier)
	v.SetDefault("cloak.policy", defaults.Cloak.Policy)
	v.SetDefault("cloak.mode", defaults.Cloak.Mode)
	v.SetDefault("cloak.fail_closed", defaults.Cloak.FailClosed)

	source := ""
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			v.SetConfigType("toml")
			if err := v.ReadInConfig(); err != nil {
				return nil, &ParseError{Path: path, Err: err}
			}
			source = path
		}
	}

	for key, envVar := range envTable {
		_ = v.BindEnv(key, envVar)
	}

	// CLI flags overlay last (viper.Set beats env and file).
	for key, value := range cliOverrides {
		if _, ok := envTable[key]; !ok {
			return nil, fmt.Errorf("unknown config key %q", key)
		}
		v.Set(key, value)
	}

	cfg := &EffectiveConfig{
		Eco: EcoConfig{
			EnabledGlobal: parseBool(v.GetString("eco.enabled_global")),
		},
		Memctl: MemctlConfig{
			DB:     v.GetString("memctl.db"),
			FTS:    v.GetString("memctl.fts"),
			Budget: v.GetInt("memctl.budget"),
			Tier:   v.GetString("memctl.tier"),
		},
		Cloak: CloakConfig{
			Policy:     v.GetString("cloak.policy"),
			Mode:       v.GetString("cloak.mode"),
			FailClosed: parseBool(v.GetString("cloak.fail_closed")),
		},
		Source: source,
	}
	return cfg, nil
}

// ResolveFromCwd discovers the config file upward from the working directory
// and resolves with it.
func ResolveFromCwd(cliOverrides map[string]string) (*EffectiveConfig, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return Resolve(FindConfig(cwd), cliOverrides)
}

// parseBool accepts the shell-friendly spellings used by the env bridge.
func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// EnvMap flattens the resolved config into the fixed {ENV_VAR: value}
// mapping consumed by `toolboxctl env` and the hook environment.
func (c *EffectiveConfig) EnvMap() map[string]string {
	boolStr := func(b bool) string {
		if b {
			return "1"
		}
		return "0"
	}
	return map[string]string{
		"ADSERVIO_ECO":      boolStr(c.Eco.EnabledGlobal),
		"MEMCTL_DB":         c.Memctl.DB,
		"MEMCTL_FTS":        c.Memctl.FTS,
		"MEMCTL_BUDGET":     fmt.Sprintf("%d", c.Memctl.Budget),
		"MEMCTL_TIER":       c.Memctl.Tier,
		"CLOAK_POLICY":      c.Cloak.Policy,
		"CLOAK_MODE":        c.Cloak.Mode,
		"CLOAK_FAIL_CLOSED": boolStr(c.Cloak.FailClosed),
	}
}

// IsParseError reports whether err is a config parse failure.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}
