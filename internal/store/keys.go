package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ServiceKey is a row in the service_keys table. Callers authenticate
// with keys of the form wsk_<random>; only the bcrypt hash is stored.
type ServiceKey struct {
	ID        string
	Name      string
	KeyPrefix string
	KeyHash   string
	Disabled  bool
	CreatedAt time.Time
}

// LookupKeyByPrefix finds a service key by its prefix (first 8 chars).
// Used by auth to narrow candidates before bcrypt verify. Returns nil
// if not found.
func (s *Store) LookupKeyByPrefix(ctx context.Context, prefix string) (*ServiceKey, error) {
	var k ServiceKey
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, key_prefix, key_hash, disabled, created_at
		FROM service_keys
		WHERE key_prefix = $1`, prefix,
	).Scan(&k.ID, &k.Name, &k.KeyPrefix, &k.KeyHash, &k.Disabled, &k.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("LookupKeyByPrefix: %w", err)
	}
	return &k, nil
}
