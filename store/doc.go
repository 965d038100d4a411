// Copyright (c) Ensemble Authors.
// Licensed under the MIT License.

// Package store persists run outcomes, workflow definitions, and mid-run
// context snapshots.
//
// Two implementations back the Store interface: MemoryStore keeps everything
// in process for development and tests, and GormStore maps the records onto
// SQLite, MySQL, or PostgreSQL through GORM. Open selects between them from
// config.StoreConfig. Rows hold pre-serialized JSON payloads so the schema
// stays stable while the in-memory types evolve; schema management for the
// server databases lives in store/migration.
package store
