package auth_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	auth "github.com/goliatone/go-taskauth"
)

func TestBcryptHasher(t *testing.T) {
	ctx := context.Background()
	hasher := auth.NewBcryptHasher(bcrypt.MinCost, 2)
	assert.Equal(t, bcrypt.MinCost, hasher.Cost())

	hash, err := hasher.HashPassword(ctx, "secret1")
	require.NoError(t, err)
	assert.NotEqual(t, "secret1", hash)

	assert.NoError(t, hasher.ComparePasswordAndHash(ctx, "secret1", hash))
	assert.ErrorIs(t, hasher.ComparePasswordAndHash(ctx, "wrong", hash), auth.ErrInvalidCredentials)

	_, err = hasher.HashPassword(ctx, "")
	assert.ErrorIs(t, err, auth.ErrNoEmptyString)

	_, err = hasher.HashPassword(ctx, strings.Repeat("x", 73))
	assert.True(t, auth.HasTextCode(err, auth.TextCodeValidation))

	dummy := hasher.DummyHash()
	assert.NotEmpty(t, dummy)
	assert.Equal(t, dummy, hasher.DummyHash())
}

func TestBcryptHasher_DummyHashFallback(t *testing.T) {
	// bcrypt rejects the cost, so generation fails on every call
	hasher := auth.NewBcryptHasher(bcrypt.MaxCost+1, 1)

	dummy := hasher.DummyHash()
	require.NotEmpty(t, dummy)

	cost, err := bcrypt.Cost([]byte(dummy))
	require.NoError(t, err)
	assert.Equal(t, 10, cost)
	assert.ErrorIs(t, bcrypt.CompareHashAndPassword([]byte(dummy), []byte("secret1")), bcrypt.ErrMismatchedHashAndPassword)
}

func TestBcryptHasher_HonoursCancellation(t *testing.T) {
	hasher := auth.NewBcryptHasher(bcrypt.MinCost, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := hasher.HashPassword(ctx, "secret1")
	assert.Error(t, err)
}

func TestBcryptHasher_Defaults(t *testing.T) {
	hasher := auth.NewBcryptHasher(0, 0)
	assert.GreaterOrEqual(t, hasher.Cost(), bcrypt.MinCost)

	hash, err := auth.HashPassword("secret1")
	require.NoError(t, err)
	assert.NoError(t, auth.ComparePasswordAndHash("secret1", hash))
}
