// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens the SQLite databases pfex keeps on disk.
//
// It wraps zombiezen.com/go/sqlite's sqlitex.Pool and applies one set of
// pragmas to every connection: WAL journaling so a reader (an operator
// running sqlite3 against the ledger mid-run) never blocks the writer,
// synchronous=FULL because each row records a finished experiment run,
// and a busy timeout for the rare overlap of two pfex processes sharing
// one ledger file.
//
// Callers write SQL directly with sqlitex.Execute and wrap multi-statement
// writes in sqlitex.ImmediateTransaction. [Pool.With] covers the common
// take/use/put sequence:
//
//	err := pool.With(ctx, func(conn *sqlite.Conn) error {
//	    return sqlitex.Execute(conn, "SELECT ...", &sqlitex.ExecOptions{...})
//	})
package sqlitepool
