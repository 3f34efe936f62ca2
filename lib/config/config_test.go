// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Ingest.Address != "127.0.0.1:7676" {
		t.Errorf("ingest.address = %q, want 127.0.0.1:7676", cfg.Ingest.Address)
	}
	if cfg.Run.ReportInterval != 5*time.Second || cfg.Run.PersistInterval != 5*time.Second {
		t.Errorf("intervals = %v/%v, want 5s/5s", cfg.Run.ReportInterval, cfg.Run.PersistInterval)
	}
	if cfg.Run.GracePeriod != 3*time.Second {
		t.Errorf("grace_period = %v, want 3s", cfg.Run.GracePeriod)
	}
	if cfg.Run.Interpreter != "python3" {
		t.Errorf("interpreter = %q, want python3", cfg.Run.Interpreter)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
}

func TestLoadFileOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pfex.yaml")
	content := `
ingest:
  address: 0.0.0.0:9000
run:
  persist_interval: 250ms
output:
  directory: /data/runs
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.Ingest.Address != "0.0.0.0:9000" {
		t.Errorf("ingest.address = %q", cfg.Ingest.Address)
	}
	if cfg.Run.PersistInterval != 250*time.Millisecond {
		t.Errorf("persist_interval = %v, want 250ms", cfg.Run.PersistInterval)
	}
	// Untouched keys keep their defaults.
	if cfg.Ingest.BindAttempts != 5 {
		t.Errorf("bind_attempts = %d, want default 5", cfg.Ingest.BindAttempts)
	}
	if cfg.Run.ReportInterval != 5*time.Second {
		t.Errorf("report_interval = %v, want default 5s", cfg.Run.ReportInterval)
	}
	if got := cfg.LatestPath(); got != "/data/runs/.pfex_latest.toml" {
		t.Errorf("LatestPath() = %q", got)
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("LoadFile of a missing file succeeded")
	}
}

func TestLoadFileMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pfex.yaml")
	if err := os.WriteFile(path, []byte("run: [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatal("LoadFile of malformed YAML succeeded")
	}
}

func TestLoadUsesEnvironmentVariable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pfex.yaml")
	if err := os.WriteFile(path, []byte("ledger:\n  path: /var/lib/pfex/runs.db\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvironmentVariable, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Ledger.Path != "/var/lib/pfex/runs.db" {
		t.Errorf("ledger.path = %q", cfg.Ledger.Path)
	}
}

func TestLoadWithoutEnvironmentVariable(t *testing.T) {
	t.Setenv(EnvironmentVariable, "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Ingest.Address != Default().Ingest.Address {
		t.Errorf("Load without a file did not return defaults: %+v", cfg.Ingest)
	}
}

func TestExpandVariables(t *testing.T) {
	t.Setenv("HOME", "/home/operator")
	t.Setenv("PFEX_TEST_SECRET", "s3cret")

	path := filepath.Join(t.TempDir(), "pfex.yaml")
	content := `
output:
  directory: ${HOME}/runs
  latest_path: ${PFEX_OUTPUT}/latest.toml
archive:
  endpoint: minio.lab:9000
  secret_key: ${PFEX_TEST_SECRET}
  access_key: ${PFEX_TEST_UNSET:-anonymous}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	tests := []struct {
		name, got, want string
	}{
		{"output.directory", cfg.Output.Directory, "/home/operator/runs"},
		{"output.latest_path", cfg.Output.LatestPath, "/home/operator/runs/latest.toml"},
		{"archive.secret_key", cfg.Archive.SecretKey, "s3cret"},
		{"archive.access_key", cfg.Archive.AccessKey, "anonymous"},
	}
	for _, test := range tests {
		if test.got != test.want {
			t.Errorf("%s = %q, want %q", test.name, test.got, test.want)
		}
	}
}

func TestValidateAggregatesErrors(t *testing.T) {
	cfg := Default()
	cfg.Ingest.Address = "no-port"
	cfg.Run.PersistInterval = 0
	cfg.Notify.TLS = "maybe"
	cfg.Archive.Endpoint = "minio.lab:9000"
	cfg.Archive.Bucket = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate accepted an invalid config")
	}
	for _, want := range []string{"ingest.address", "run.persist_interval", "notify.tls", "archive.bucket"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate error %q does not mention %s", err, want)
		}
	}
}

func TestValidateObserveOnlyWhenEnabled(t *testing.T) {
	cfg := Default()
	cfg.Observe.Address = ""
	cfg.Observe.MaxPoints = 0
	if err := cfg.Validate(); err != nil {
		t.Errorf("disabled observe section was validated: %v", err)
	}

	cfg.Observe.Address = DefaultObserveAddress
	if err := cfg.Validate(); err == nil {
		t.Error("enabled observe section with max_points 0 validated")
	}
}

func TestObserveEnabledByDefault(t *testing.T) {
	if got := Default().Observe.Address; got != DefaultObserveAddress {
		t.Errorf("default observe address = %q, want %q", got, DefaultObserveAddress)
	}

	path := filepath.Join(t.TempDir(), "pfex.yaml")
	if err := os.WriteFile(path, []byte("observe:\n  address: \"\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Observe.Address != "" {
		t.Errorf("observe address = %q after an explicit empty value, want disabled", cfg.Observe.Address)
	}
}
