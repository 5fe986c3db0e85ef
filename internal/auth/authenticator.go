package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Tyrowin/pushgate/internal/common"
	"github.com/Tyrowin/pushgate/internal/credentials"
	"github.com/Tyrowin/pushgate/internal/logging"
	"github.com/Tyrowin/pushgate/internal/session"
)

// SessionActivator installs a fresh Authenticated session. session.Registry
// implements it.
type SessionActivator interface {
	Activate(username string) session.Session
}

// Authenticator validates credentials against the store and opens sessions.
type Authenticator struct {
	store    credentials.Store
	hasher   Hasher
	sessions SessionActivator
	log      logging.Logger
}

func NewAuthenticator(store credentials.Store, hasher Hasher, sessions SessionActivator, log logging.Logger) *Authenticator {
	return &Authenticator{store: store, hasher: hasher, sessions: sessions, log: log}
}

// MaxUsernameLen matches the width of the username column.
const MaxUsernameLen = 64

// Register stores a new credential record for username.
func (a *Authenticator) Register(ctx context.Context, username, rawPassword string, fields map[string]string) error {
	if strings.TrimSpace(username) == "" || rawPassword == "" {
		return fmt.Errorf("%w: username and password are required", common.ErrValidation)
	}
	if utf8.RuneCountInString(username) > MaxUsernameLen {
		return common.ErrUsernameTooLong
	}

	// cheap duplicate check before paying for the hash; Put still enforces it
	if _, err := a.store.Get(ctx, username); err == nil {
		return common.ErrDuplicateUsername
	} else if !errors.Is(err, common.ErrNotFound) {
		return fmt.Errorf("auth: lookup %q: %w", username, err)
	}

	hash, err := a.hasher.Hash(rawPassword)
	if err != nil {
		return fmt.Errorf("auth: hash password: %w", err)
	}

	rec := credentials.Record{Username: username, PasswordHash: hash, Profile: fields}
	if err := a.store.Put(ctx, rec); err != nil {
		if errors.Is(err, common.ErrDuplicateUsername) {
			return err
		}
		return fmt.Errorf("auth: store %q: %w", username, err)
	}

	a.log.Info(ctx, "user registered", "user", username, "fields", len(fields))
	return nil
}

// Login verifies the password and returns the new session. Any previous
// session of the user is invalidated by the activator.
func (a *Authenticator) Login(ctx context.Context, username, rawPassword string) (session.Session, error) {
	rec, err := a.store.Get(ctx, username)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return session.Session{}, common.ErrUnknownUser
		}
		return session.Session{}, fmt.Errorf("auth: lookup %q: %w", username, err)
	}

	if !a.hasher.Verify(rawPassword, rec.PasswordHash) {
		a.log.Warn(ctx, "login rejected", "user", username, "reason", "bad credential")
		return session.Session{}, common.ErrBadCredential
	}

	return a.sessions.Activate(username), nil
}

// Profile returns the stored profile fields of username.
func (a *Authenticator) Profile(ctx context.Context, username string) (map[string]string, error) {
	rec, err := a.store.Get(ctx, username)
	if err != nil {
		return nil, err
	}
	if rec.Profile == nil {
		return map[string]string{}, nil
	}
	return rec.Profile, nil
}
