// Package store provides access to the PostgreSQL database holding
// review state (hitl_reviews) and service API keys.
package store

import "database/sql"

// Store wraps the database connection pool.
type Store struct {
	db *sql.DB
}

// New creates a Store backed by the given connection pool.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}
