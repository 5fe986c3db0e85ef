package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/pushgate/internal/common"
)

func TestTokenIssuer_IssueAndParse(t *testing.T) {
	t.Parallel()
	ti := NewTokenIssuer([]byte("super-secret"), time.Hour)

	tok, err := ti.Issue("alice", "sess-1")
	require.NoError(t, err)

	user, sid, err := ti.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, "alice", user)
	assert.Equal(t, "sess-1", sid)
}

func TestTokenIssuer_Expired(t *testing.T) {
	t.Parallel()
	ti := NewTokenIssuer([]byte("secret"), time.Minute)
	ti.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	tok, err := ti.Issue("alice", "s")
	require.NoError(t, err)

	_, _, err = NewTokenIssuer([]byte("secret"), time.Minute).Parse(tok)
	require.ErrorIs(t, err, common.ErrTokenExpired)
}

func TestTokenIssuer_WrongSecret(t *testing.T) {
	t.Parallel()
	tok, err := NewTokenIssuer([]byte("right"), time.Hour).Issue("alice", "s")
	require.NoError(t, err)

	_, _, err = NewTokenIssuer([]byte("wrong"), time.Hour).Parse(tok)
	require.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestTokenIssuer_Malformed(t *testing.T) {
	t.Parallel()
	_, _, err := NewTokenIssuer([]byte("k"), time.Hour).Parse("not.a.jwt")
	require.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestTokenIssuer_RejectsOtherAlgorithms(t *testing.T) {
	t.Parallel()
	secret := []byte("k")
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			ID:        "s",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(secret)
	require.NoError(t, err)

	_, _, err = NewTokenIssuer(secret, time.Hour).Parse(tok)
	require.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestTokenIssuer_RequiresSubjectAndID(t *testing.T) {
	t.Parallel()
	ti := NewTokenIssuer([]byte("k"), time.Hour)
	tok, err := ti.Issue("", "s")
	require.NoError(t, err)

	_, _, err = ti.Parse(tok)
	require.ErrorIs(t, err, common.ErrInvalidToken)
}
