// Package credentials stores username to credential-record mappings.
//
// The Store interface is the only thing the authenticator depends on; the
// in-memory and SQL implementations are interchangeable.
package credentials

import (
	"context"
	"maps"
	"time"
)

// Record is the stored credential of one user. PasswordHash is opaque to this
// package.
type Record struct {
	Username     string
	PasswordHash string
	Profile      map[string]string
	CreatedAt    time.Time
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	out := r
	if r.Profile != nil {
		out.Profile = maps.Clone(r.Profile)
	}
	return out
}

// Store is a unique-keyed credential store.
type Store interface {
	// Put inserts rec. It fails with common.ErrDuplicateUsername when the
	// username already exists.
	Put(ctx context.Context, rec Record) error

	// Get returns the record for username or common.ErrNotFound.
	Get(ctx context.Context, username string) (Record, error)
}
