// Package config loads replay's project configuration: defaults overlaid
// with the optional .replay/config.yml in the project root.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "500ms" or "2m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config holds project-level settings. WorkDir is set by the caller,
// never from the file: the config lives under the work dir, so a file
// pointing elsewhere would contradict the path used to find it.
type Config struct {
	WorkDir      string   `yaml:"-"`             // project root (default ".")
	LogLevel     string   `yaml:"log_level"`     // debug, info, warn, error
	LogFormat    string   `yaml:"log_format"`    // text, json
	PollInterval Duration `yaml:"poll_interval"` // idle worker poll interval
	StageTarget  string   `yaml:"stage_target"`  // artifact destination: "", file://..., s3://...
	ServerAddr   string   `yaml:"server_addr"`   // status API listen address
}

// Default returns sensible defaults.
func Default() Config {
	return Config{
		WorkDir:      ".",
		LogLevel:     "info",
		LogFormat:    "text",
		PollInterval: Duration(time.Second),
		ServerAddr:   ":8471",
	}
}

// Load reads the config file at path over the defaults. A missing file
// yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = Default().PollInterval
	}
	return cfg, nil
}

// LoadFromDir loads the config stored under root's state directory.
func LoadFromDir(root string) (Config, error) {
	cfg, err := Load(filepath.Join(root, ".replay", "config.yml"))
	if err != nil {
		return Config{}, err
	}
	cfg.WorkDir = root
	return cfg, nil
}
