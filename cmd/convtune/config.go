package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/samcharles93/convtune/internal/api"
	"github.com/samcharles93/convtune/internal/conv"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the convtune configuration file (~/.config/convtune/config.yaml).
// All fields are pointers so we can distinguish "not set" from zero values.
type Config struct {
	// Backend
	Backend        string `yaml:"backend"`
	SM             *int64 `yaml:"sm"`
	DeviceMemoryMB *int64 `yaml:"device_memory_mb"`

	// Selection defaults
	Tune            string `yaml:"tune"`
	WorkspaceMB     *int64 `yaml:"workspace_mb"`
	WorkerStreams   *int64 `yaml:"worker_streams"`
	AllowTensorCore *bool  `yaml:"allow_tensor_core"`
	Verbose         *int64 `yaml:"verbose"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

var fileConfig Config

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "convtune", "config.yaml")
}

// LoadConfig reads the config file at path, or the default location when
// path is empty. A missing default file yields a zero Config.
func LoadConfig(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = configPath()
	}
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func applyLoggingConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyEngineConfig applies config file defaults to the engine flag
// variables when the corresponding CLI flag was not explicitly set.
func applyEngineConfig(c *cli.Command, cfg Config) {
	if cfg.Backend != "" && !c.IsSet("backend") {
		backendName = cfg.Backend
	}
	if cfg.SM != nil && !c.IsSet("sm") {
		deviceSM = *cfg.SM
	}
	if cfg.DeviceMemoryMB != nil && !c.IsSet("device-memory-mb") {
		deviceMemMB = *cfg.DeviceMemoryMB
	}
	if cfg.Tune != "" && !c.IsSet("tune") {
		tuneMode = cfg.Tune
	}
	if cfg.WorkspaceMB != nil && !c.IsSet("workspace-mb") {
		workspaceMB = *cfg.WorkspaceMB
	}
	if cfg.WorkerStreams != nil && !c.IsSet("worker-streams") {
		workerStreams = *cfg.WorkerStreams
	}
	if cfg.AllowTensorCore != nil && !c.IsSet("allow-tensor-core") {
		allowTC = *cfg.AllowTensorCore
	}
	if cfg.Verbose != nil && !c.IsSet("verbose") {
		verbose = *cfg.Verbose
	}
}

// resolveConfig layers the process configuration: environment, then the
// config file, then flags.
func resolveConfig(c *cli.Command, cfg Config) (conv.Config, error) {
	out := conv.ConfigFromEnv()
	if tuneMode != "" {
		mode, err := conv.ParseTuneMode(tuneMode)
		if err != nil {
			return out, err
		}
		out.Tune = mode
	}
	if c.IsSet("worker-streams") || cfg.WorkerStreams != nil {
		out.WorkerStreams = int(workerStreams)
	}
	if c.IsSet("allow-tensor-core") || cfg.AllowTensorCore != nil {
		out.AllowAccelerated = allowTC
	}
	if c.IsSet("verbose") || cfg.Verbose != nil {
		out.Verbose = int(verbose)
	}
	return out, nil
}

// layersFile is the YAML document read by --layers.
type layersFile struct {
	Policy *api.PolicyRequest   `yaml:"policy"`
	Layers []api.ProblemRequest `yaml:"layers"`
}

// loadLayers reads a layers file. A file-level policy applies to layers
// that do not carry their own.
func loadLayers(path string) ([]api.ProblemRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read layers: %w", err)
	}
	var doc layersFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse layers %s: %w", path, err)
	}
	if len(doc.Layers) == 0 {
		return nil, fmt.Errorf("layers file %s lists no layers", path)
	}
	for i := range doc.Layers {
		if doc.Layers[i].Policy == nil {
			doc.Layers[i].Policy = doc.Policy
		}
		if doc.Layers[i].Name == "" {
			doc.Layers[i].Name = fmt.Sprintf("layer%d", i)
		}
	}
	return doc.Layers, nil
}
