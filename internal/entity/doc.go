// Package entity defines the provenance data model shared by the live
// storage backend, the archive format and the import/export pipelines.
//
// The model has seven entity kinds (users, computers, authinfos, groups,
// nodes, comments, logs) plus two join kinds (links and group-node
// memberships). Each kind has a TableSpec that names its SQL table and
// its ordered column set; rows travel between layers as Row values so
// the same bulk-insert and batched-read code serves every kind.
//
// Nodes are classified by the prefix of their node_type string into
// Data, Calculation and Workflow classes. Links between nodes carry a
// LinkType whose compatibility and degree rules live in package links.
//
// Canonical JSON (RFC 8785 key ordering, NFC-normalized strings) and
// domain-separated SHA-256 hashing are used wherever a content hash must
// be stable across runs, for example repository directory hashes.
package entity
