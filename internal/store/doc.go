// Package store defines the persistence interfaces for the illustration
// pipeline (jobs, runs, scenes, and image attempts) together with the
// sentinel errors and the transaction helper shared by all implementations.
// Concrete implementations live in internal/platform/postgres.
package store
