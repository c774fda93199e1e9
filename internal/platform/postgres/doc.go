// Package postgres provides the PostgreSQL implementations of the storage
// interfaces defined in internal/store. It owns the SQL for the jobs queue,
// including the single-statement FOR UPDATE SKIP LOCKED claim, and for the
// run, scene, and image attempt tables.
package postgres
