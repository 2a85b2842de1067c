package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config is the quantrace configuration file
// (~/.config/quantrace/config.yaml). Pointer fields distinguish "not set"
// from zero values.
type Config struct {
	// Calibration defaults
	Passes *int64 `yaml:"passes"`
	Batch  *int64 `yaml:"batch"`
	Seed   *int64 `yaml:"seed"`

	// Conversion defaults
	WeightScheme string `yaml:"weight_scheme"`
	WeightDType  string `yaml:"weight_dtype"`

	// Artifact location
	ArtifactPath string `yaml:"artifact_path"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "quantrace", "config.yaml")
}

// LoadConfig reads the config file. Returns a zero Config if the file
// doesn't exist or doesn't parse.
func LoadConfig() Config {
	path := configPath()
	if path == "" {
		return Config{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}

// applyCommonConfig fills logging defaults when the corresponding flag was
// not explicitly set.
func applyCommonConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyCalibrateConfig fills calibration defaults from the config file.
func applyCalibrateConfig(c *cli.Command, cfg Config, artifactPath *string) {
	applyCommonConfig(c, cfg)
	if cfg.Passes != nil && !c.IsSet("passes") && !c.IsSet("n") {
		passes = *cfg.Passes
	}
	if cfg.Batch != nil && !c.IsSet("batch") && !c.IsSet("b") {
		batch = *cfg.Batch
	}
	if cfg.Seed != nil && !c.IsSet("seed") {
		seed = *cfg.Seed
	}
	if cfg.ArtifactPath != "" && !c.IsSet("out") {
		*artifactPath = cfg.ArtifactPath
	}
}

// applyConvertConfig fills conversion defaults from the config file.
func applyConvertConfig(c *cli.Command, cfg Config, scheme, dtype *string) {
	applyCommonConfig(c, cfg)
	if cfg.WeightScheme != "" && !c.IsSet("scheme") {
		*scheme = cfg.WeightScheme
	}
	if cfg.WeightDType != "" && !c.IsSet("dtype") {
		*dtype = cfg.WeightDType
	}
}

// applyServeConfig fills server defaults from the config file.
func applyServeConfig(c *cli.Command, cfg Config, addr, artifactPath *string) {
	applyCommonConfig(c, cfg)
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
	if cfg.ArtifactPath != "" && !c.IsSet("artifact") {
		*artifactPath = cfg.ArtifactPath
	}
}
