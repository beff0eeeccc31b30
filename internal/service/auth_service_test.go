package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPassword(t *testing.T) {
	a := HashPassword("hunter22", "salt-a")
	assert.Equal(t, a, HashPassword("hunter22", "salt-a"))
	assert.NotEqual(t, a, HashPassword("hunter22", "salt-b"))
	assert.Len(t, a, 64)

	s1, err := NewSalt()
	require.NoError(t, err)
	s2, err := NewSalt()
	require.NoError(t, err)
	assert.NotEqual(t, s1, s2)
}

func TestReferralCodeAlphabet(t *testing.T) {
	code, err := newReferralCode()
	require.NoError(t, err)
	assert.Len(t, code, 8)
	for _, r := range code {
		assert.Contains(t, referralAlphabet, string(r))
	}
}

func TestRegister(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	u, err := env.auth.Register(ctx, " alice ", "Alice@Example.com", "secret123")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, "alice@example.com", u.Email)
	assert.Len(t, u.ReferralCode, 8)
	assert.NotEqual(t, "secret123", u.PasswordHash)

	_, err = env.auth.Register(ctx, "alice", "other@example.com", "secret123")
	assert.ErrorIs(t, err, ErrUsernameTaken)
	_, err = env.auth.Register(ctx, "bob", "ALICE@example.com", "secret123")
	assert.ErrorIs(t, err, ErrEmailTaken)
	_, err = env.auth.Register(ctx, "", "x@example.com", "secret123")
	assert.ErrorIs(t, err, ErrMissingFields)
	_, err = env.auth.Register(ctx, "carol", "carol@example.com", "short")
	assert.ErrorIs(t, err, ErrWeakPassword)
}

func TestLoginAndSessions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.register(t, "dave")

	_, err := env.auth.Login(ctx, "dave", "wrong-pass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = env.auth.Login(ctx, "nobody", "secret123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	res, err := env.auth.Login(ctx, "dave@example.com", "secret123")
	require.NoError(t, err)
	assert.Equal(t, u.ID, res.User.ID)
	assert.Equal(t, env.clock.t.Add(7*24*time.Hour), res.ExpiresAt)

	got, err := env.auth.ValidateSession(ctx, res.Token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = env.auth.ValidateSession(ctx, "bogus")
	assert.ErrorIs(t, err, ErrInvalidSession)

	require.NoError(t, env.auth.Logout(ctx, res.Token))
	_, err = env.auth.ValidateSession(ctx, res.Token)
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestSessionExpiry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "erin")

	first, err := env.auth.Login(ctx, "erin", "secret123")
	require.NoError(t, err)
	env.clock.advance(24 * time.Hour)
	second, err := env.auth.Login(ctx, "erin", "secret123")
	require.NoError(t, err)

	env.clock.advance(6*24*time.Hour + time.Minute)
	_, err = env.auth.ValidateSession(ctx, first.Token)
	assert.ErrorIs(t, err, ErrSessionExpired)
	// The expired session was deleted on access.
	_, err = env.auth.ValidateSession(ctx, first.Token)
	assert.ErrorIs(t, err, ErrInvalidSession)

	_, err = env.auth.ValidateSession(ctx, second.Token)
	require.NoError(t, err)

	env.clock.advance(24 * time.Hour)
	n, err := env.auth.CleanupExpiredSessions(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}
