// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the CBOR configuration shared by pfex's binary
// protocols.
//
// The instrument wire protocol is newline-delimited JSON because the
// acquisition scripts write it by hand. Everything pfex speaks to itself
// (the observation stream between the collector and pfex-view) is CBOR,
// encoded through this package so both ends agree on options:
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// Frame types carry `cbor` struct tags. Map keys are sorted on encode,
// so identical frames produce identical bytes.
package codec
