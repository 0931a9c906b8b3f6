// Package config loads the server configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr       string `yaml:"listen_addr"`
	WorldID          string `yaml:"world_id"`
	ConfigsDir       string `yaml:"configs_dir"`
	StructuresDir    string `yaml:"structures_dir"`
	DataDir          string `yaml:"data_dir"`
	WorldSnapshot    string `yaml:"world_snapshot"`
	IndexDB          string `yaml:"index_db"`
	AuditDir         string `yaml:"audit_dir"`
	DefaultNamespace string `yaml:"default_namespace"`

	// PreviewAlpha is the opacity clients should draw previews with.
	PreviewAlpha float64 `yaml:"preview_alpha"`

	Overlay OverlayConfig `yaml:"overlay"`
}

type OverlayConfig struct {
	DecayTicks         int64 `yaml:"decay_ticks"`
	ProgressIntervalMs int   `yaml:"progress_interval_ms"`
	MaxPerSession      int   `yaml:"max_per_session"`
}

// Load reads path over the defaults. An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := defaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		ListenAddr:       ":8080",
		WorldID:          "overworld",
		ConfigsDir:       "./configs",
		DataDir:          "./data",
		DefaultNamespace: "minecraft",
		PreviewAlpha:     0.5,
		Overlay: OverlayConfig{
			DecayTicks:         60,
			ProgressIntervalMs: 500,
			MaxPerSession:      32,
		},
	}
}

// Normalize fills paths that were left empty from ConfigsDir and DataDir.
func (c *Config) Normalize() {
	if c == nil {
		return
	}
	c.ListenAddr = strings.TrimSpace(c.ListenAddr)
	c.DefaultNamespace = strings.ToLower(strings.TrimSpace(c.DefaultNamespace))
	if c.DefaultNamespace == "" {
		c.DefaultNamespace = "minecraft"
	}
	if strings.TrimSpace(c.StructuresDir) == "" {
		c.StructuresDir = filepath.Join(c.ConfigsDir, "structures")
	}
	if strings.TrimSpace(c.WorldSnapshot) == "" {
		c.WorldSnapshot = filepath.Join(c.DataDir, "world.snap.zst")
	}
	if strings.TrimSpace(c.IndexDB) == "" {
		c.IndexDB = filepath.Join(c.DataDir, "index.sqlite")
	}
	if strings.TrimSpace(c.AuditDir) == "" {
		c.AuditDir = filepath.Join(c.DataDir, "audit")
	}
}

func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if strings.TrimSpace(c.WorldID) == "" {
		return fmt.Errorf("world_id is required")
	}
	if strings.TrimSpace(c.ConfigsDir) == "" {
		return fmt.Errorf("configs_dir is required")
	}
	if strings.ContainsAny(c.DefaultNamespace, ":/ ") {
		return fmt.Errorf("default_namespace %q is not a namespace", c.DefaultNamespace)
	}
	if c.PreviewAlpha < 0 || c.PreviewAlpha > 1 {
		return fmt.Errorf("preview_alpha must be in [0,1], got %v", c.PreviewAlpha)
	}
	if c.Overlay.DecayTicks < 0 {
		return fmt.Errorf("overlay.decay_ticks must be >= 0")
	}
	if c.Overlay.ProgressIntervalMs <= 0 {
		return fmt.Errorf("overlay.progress_interval_ms must be > 0")
	}
	if c.Overlay.MaxPerSession < 0 {
		return fmt.Errorf("overlay.max_per_session must be >= 0")
	}
	return nil
}
