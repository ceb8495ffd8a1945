package services

import (
	"testing"
	"time"

	"parley/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthService_IssueAndVerify(t *testing.T) {
	svc := NewAuthService("test-secret", time.Hour)

	token, err := svc.IssueToken("alice", "alice")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	user, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("alice"), user)
}

func TestAuthService_VerifyRejectsGarbage(t *testing.T) {
	svc := NewAuthService("test-secret", time.Hour)

	_, err := svc.Verify("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.Verify("")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthService_VerifyRejectsWrongSecret(t *testing.T) {
	issuer := NewAuthService("secret-a", time.Hour)
	verifier := NewAuthService("secret-b", time.Hour)

	token, err := issuer.IssueToken("alice", "alice")
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthService_VerifyRejectsExpired(t *testing.T) {
	svc := NewAuthService("test-secret", -time.Minute)

	token, err := svc.IssueToken("alice", "alice")
	require.NoError(t, err)

	_, err = svc.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}
