// Package journal persists a local record of pipeline runs: which recipes
// were planned, how each attempt went, and which artifacts were published.
// Storage is a single SQLite file in WAL mode with embedded migrations.
package journal
