// Copyright (c) Ensemble Authors.
// Licensed under the MIT License.

// Package migration applies the versioned schema migrations embedded under
// migrations/ to the server databases (PostgreSQL, MySQL).
//
// SQLite deployments do not use this package at runtime: the GORM store
// auto-migrates its own schema there, and the glebarez driver it links
// registers the same database/sql name as the modernc driver that
// golang-migrate's sqlite support pulls in, so the two cannot share a
// binary. The sqlite dialect files still ship to keep the three dialects in
// lockstep; the package tests apply them through the modernc driver, and
// a standalone migrate CLI can do the same.
package migration
