// Package mysql persists pipeline run history. A JSONL-backed repository serves
// local development; the SQL repository stores the same records in MySQL, or
// in a single-file SQLite database, and applies the embedded schema migrations
// for its dialect on startup.
package mysql
