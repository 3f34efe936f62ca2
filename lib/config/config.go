// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the config file used when no --config flag
// is given.
const EnvironmentVariable = "PFEX_CONFIG"

// Config is the complete pfex configuration.
type Config struct {
	Ingest  IngestConfig  `yaml:"ingest"`
	Run     RunConfig     `yaml:"run"`
	Output  OutputConfig  `yaml:"output"`
	Observe ObserveConfig `yaml:"observe"`
	Metrics MetricsConfig `yaml:"metrics"`
	Notify  NotifyConfig  `yaml:"notify"`
	Archive ArchiveConfig `yaml:"archive"`
	Ledger  LedgerConfig  `yaml:"ledger"`
}

// IngestConfig configures the instrument-facing TCP endpoint.
type IngestConfig struct {
	// Address is the host:port instruments connect to.
	// Default: 127.0.0.1:7676
	Address string `yaml:"address"`

	// BindAttempts bounds how often binding is tried when the port is
	// still held by the previous iteration.
	BindAttempts int `yaml:"bind_attempts"`

	// BindBackoff is the delay before the second attempt; it doubles
	// after each failure.
	BindBackoff time.Duration `yaml:"bind_backoff"`
}

// RunConfig configures one run iteration.
type RunConfig struct {
	// Interpreter runs the acquisition script. Empty executes the
	// script path directly.
	Interpreter string `yaml:"interpreter"`

	// InterpreterArgs precede the script path. Default: ["-u"] so that
	// Python does not buffer the output pfex logs.
	InterpreterArgs []string `yaml:"interpreter_args"`

	ReportInterval  time.Duration `yaml:"report_interval"`
	PersistInterval time.Duration `yaml:"persist_interval"`

	// GracePeriod is how long each component keeps working after the
	// run is cancelled.
	GracePeriod time.Duration `yaml:"grace_period"`

	// KillGrace is the delay between SIGTERM and SIGKILL when the
	// acquisition process has to be stopped.
	KillGrace time.Duration `yaml:"kill_grace"`

	// TracebackMarker starts an escalated block of process output.
	TracebackMarker string `yaml:"traceback_marker"`
}

// OutputConfig configures where snapshots are written.
type OutputConfig struct {
	// Directory receives the per-run TOML files. Default: ".".
	Directory string `yaml:"directory"`

	// LatestPath is the atomically replaced copy of the most recent
	// snapshot. Empty means <Directory>/.pfex_latest.toml.
	LatestPath string `yaml:"latest_path"`
}

// ObserveConfig configures the observation stream pfex-view connects to.
type ObserveConfig struct {
	// Address is the listen address. Empty disables the stream.
	// Default: DefaultObserveAddress, the address pfex-view dials
	// when given none.
	Address string `yaml:"address"`

	// Interval between snapshot frames.
	Interval time.Duration `yaml:"interval"`

	// MaxPoints bounds each single-valued series in a frame.
	MaxPoints int `yaml:"max_points"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Address is the listen address for /metrics. Empty disables it.
	Address string `yaml:"address"`
}

// NotifyConfig configures e-mail notification.
type NotifyConfig struct {
	SMTPHost string `yaml:"smtp_host"`
	SMTPPort int    `yaml:"smtp_port"`
	From     string `yaml:"from"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// TLS is one of "starttls", "tls" or "none".
	TLS string `yaml:"tls"`
}

// ArchiveConfig configures upload of the final snapshot to an
// S3-compatible object store. Empty Endpoint disables archiving.
type ArchiveConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// LedgerConfig configures the SQLite run ledger. Empty Path disables it.
type LedgerConfig struct {
	Path string `yaml:"path"`
}

// DefaultObserveAddress is where the observation stream listens unless
// configured otherwise.
const DefaultObserveAddress = "127.0.0.1:7677"

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Ingest: IngestConfig{
			Address:      "127.0.0.1:7676",
			BindAttempts: 5,
			BindBackoff:  100 * time.Millisecond,
		},
		Run: RunConfig{
			Interpreter:     "python3",
			InterpreterArgs: []string{"-u"},
			ReportInterval:  5 * time.Second,
			PersistInterval: 5 * time.Second,
			GracePeriod:     3 * time.Second,
			KillGrace:       5 * time.Second,
			TracebackMarker: "Traceback (most recent call last):",
		},
		Output: OutputConfig{
			Directory: ".",
		},
		Observe: ObserveConfig{
			Address:   DefaultObserveAddress,
			Interval:  time.Second,
			MaxPoints: 100,
		},
		Notify: NotifyConfig{
			SMTPHost: "localhost",
			SMTPPort: 587,
			From:     "pfex@localhost",
			TLS:      "starttls",
		},
		Archive: ArchiveConfig{
			Bucket: "pfex-runs",
			UseSSL: true,
		},
	}
}

// Load returns the defaults overlaid with the file named by PFEX_CONFIG,
// or just the defaults when the variable is unset.
func Load() (*Config, error) {
	path := os.Getenv(EnvironmentVariable)
	if path == "" {
		cfg := Default()
		cfg.expandVariables()
		return cfg, nil
	}
	return LoadFile(path)
}

// LoadFile returns the defaults overlaid with the YAML file at path.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

// LatestPath resolves the latest-snapshot path.
func (c *Config) LatestPath() string {
	if c.Output.LatestPath != "" {
		return c.Output.LatestPath
	}
	return filepath.Join(c.Output.Directory, ".pfex_latest.toml")
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.Output.Directory = expandVars(c.Output.Directory, vars)
	vars["PFEX_OUTPUT"] = c.Output.Directory

	c.Output.LatestPath = expandVars(c.Output.LatestPath, vars)
	c.Ledger.Path = expandVars(c.Ledger.Path, vars)
	c.Notify.Username = expandVars(c.Notify.Username, vars)
	c.Notify.Password = expandVars(c.Notify.Password, vars)
	c.Archive.AccessKey = expandVars(c.Archive.AccessKey, vars)
	c.Archive.SecretKey = expandVars(c.Archive.SecretKey, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars replaces ${VAR} and ${VAR:-default}. Values in vars win over
// the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, defaultValue := parts[1], parts[2]

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate reports every problem in the configuration at once.
func (c *Config) Validate() error {
	var errs []error

	if _, _, err := net.SplitHostPort(c.Ingest.Address); err != nil {
		errs = append(errs, fmt.Errorf("ingest.address: %w", err))
	}
	if c.Ingest.BindAttempts < 1 {
		errs = append(errs, fmt.Errorf("ingest.bind_attempts must be at least 1"))
	}
	if c.Ingest.BindBackoff < 0 {
		errs = append(errs, fmt.Errorf("ingest.bind_backoff must not be negative"))
	}

	if c.Run.ReportInterval <= 0 {
		errs = append(errs, fmt.Errorf("run.report_interval must be positive"))
	}
	if c.Run.PersistInterval <= 0 {
		errs = append(errs, fmt.Errorf("run.persist_interval must be positive"))
	}
	if c.Run.GracePeriod < 0 {
		errs = append(errs, fmt.Errorf("run.grace_period must not be negative"))
	}
	if c.Run.KillGrace < 0 {
		errs = append(errs, fmt.Errorf("run.kill_grace must not be negative"))
	}

	if c.Output.Directory == "" {
		errs = append(errs, fmt.Errorf("output.directory is required"))
	}

	if c.Observe.Address != "" {
		if _, _, err := net.SplitHostPort(c.Observe.Address); err != nil {
			errs = append(errs, fmt.Errorf("observe.address: %w", err))
		}
		if c.Observe.Interval <= 0 {
			errs = append(errs, fmt.Errorf("observe.interval must be positive"))
		}
		if c.Observe.MaxPoints < 1 {
			errs = append(errs, fmt.Errorf("observe.max_points must be at least 1"))
		}
	}

	if c.Metrics.Address != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Address); err != nil {
			errs = append(errs, fmt.Errorf("metrics.address: %w", err))
		}
	}

	if c.Notify.SMTPPort < 1 || c.Notify.SMTPPort > 65535 {
		errs = append(errs, fmt.Errorf("notify.smtp_port %d out of range", c.Notify.SMTPPort))
	}
	switch c.Notify.TLS {
	case "starttls", "tls", "none":
	default:
		errs = append(errs, fmt.Errorf("notify.tls must be one of: starttls, tls, none"))
	}

	if c.Archive.Endpoint != "" && c.Archive.Bucket == "" {
		errs = append(errs, fmt.Errorf("archive.bucket is required when archive.endpoint is set"))
	}

	return errors.Join(errs...)
}
