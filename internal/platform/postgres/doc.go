// Package postgres provides PostgreSQL implementations of the persistence
// interfaces defined in the store package. Writes are idempotent upserts so
// that interrupted runs and concurrent worker processes converge on the same
// state instead of conflicting.
package postgres
