// Package memory holds in-process implementations of the dispatch stores.
// They back the "memory" database driver and stand in for Postgres in
// service tests. Every type is safe for concurrent use and returns copies,
// never pointers into its own maps.
package memory
