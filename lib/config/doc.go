// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads pfex's YAML configuration.
//
// [Default] supplies every value, so a bare `pfex --path run.py` needs no
// file at all. A file named by --config (or the PFEX_CONFIG environment
// variable) is decoded on top of the defaults: keys it omits keep their
// default values. Command-line flags are applied by the caller after
// loading and win over both.
//
// Path and credential fields support ${VAR} and ${VAR:-default}
// expansion, so a checked-in config can reference $HOME or pull an
// object-store secret from the environment without containing it.
package config
