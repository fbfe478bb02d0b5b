package runner

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the optional run configuration file. Command line flags take
// precedence over every field.
type Config struct {
	Entry     string        `yaml:"entry"`
	MaxDepth  int           `yaml:"max_depth"`
	MaxSteps  int           `yaml:"max_steps"`
	MaxMemory int           `yaml:"max_memory"`
	Timeout   time.Duration `yaml:"timeout"`
	Libs      []string      `yaml:"libs"`
	Overrides []string      `yaml:"overrides"`
}

// LoadConfig reads a YAML configuration. Unknown keys are an error.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var cfg Config
	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &cfg, nil
}

// merge fills every option the command line left unset from cfg.
func (opts *Options) merge(cfg *Config) {
	if opts.Entry == "" {
		opts.Entry = cfg.Entry
	}
	if opts.MaxDepth == 0 {
		opts.MaxDepth = cfg.MaxDepth
	}
	if opts.MaxSteps == 0 {
		opts.MaxSteps = cfg.MaxSteps
	}
	if opts.MaxMemory == 0 {
		opts.MaxMemory = cfg.MaxMemory
	}
	if opts.Timeout == 0 {
		opts.Timeout = cfg.Timeout
	}
	opts.Libs = append(cfg.Libs, opts.Libs...)
	opts.Overrides = append(cfg.Overrides, opts.Overrides...)
}
