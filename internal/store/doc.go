// Package store provides SQLite-backed storage for the provenance graph.
//
// The same schema serves live profiles and archive snapshots:
//   - db_dbuser, db_dbcomputer, db_dbauthinfo: ownership and configuration
//   - db_dbnode: graph vertices with JSON attributes, extras and
//     repository metadata
//   - db_dblink: typed, labelled edges between nodes
//   - db_dbgroup, db_dbgroup_dbnodes: node collections
//   - db_dbcomment, db_dblog: per-node annotations
//
// # Reads
//
// Every read goes through package query, so each statement is
// parameterized and ordered by id. Large reads are batched on two axes:
// FilterSize bounds the ids bound into one IN clause, BatchSize bounds the
// rows delivered to a callback. Pages are fully materialized before the
// callback runs, so callbacks may query the same store.
//
// # Writes
//
// BulkInsert validates rows against the entity.TableSpec column set and
// inserts them in one transaction. InTransaction exposes the transaction
// as a Store so pipelines can compose reads and writes atomically.
//
// # Database Configuration
//
//   - WAL mode (DELETE for archive snapshots)
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON
package store
