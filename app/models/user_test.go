package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateUserDefaults(t *testing.T) {
	user, err := CreateUser("Ada Lovelace", "ada@example.com", "secret123")
	require.NoError(t, err)

	assert.Equal(t, ROLE_USER, user.Role)
	assert.Equal(t, STATUS_ACTIVE, user.Status)
	assert.True(t, user.IsActive())
	// The password is stored hashed, never verbatim.
	assert.NotEqual(t, "secret123", user.Password)
	assert.True(t, user.CheckPassword("secret123"))
	assert.False(t, user.CheckPassword("wrong"))
}

func TestCreateUserValidation(t *testing.T) {
	_, err := CreateUser("Ada", "not-an-email", "secret123")
	assert.Error(t, err)

	_, err = CreateUser("Al", "ada@example.com", "secret123")
	assert.Error(t, err, "name below minimum length")
}

func TestSetPasswordRotates(t *testing.T) {
	user, err := CreateUser("Ada Lovelace", "ada@example.com", "secret123")
	require.NoError(t, err)

	require.NoError(t, user.SetPassword("different456"))
	assert.False(t, user.CheckPassword("secret123"))
	assert.True(t, user.CheckPassword("different456"))
}

func TestIssueAPIKey(t *testing.T) {
	user := &User{}
	raw, err := user.IssueAPIKey()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(raw, "ss_"))
	assert.Equal(t, raw[:16], user.APIKeyPrefix)
	assert.Equal(t, HashAPIKey(raw), user.APIKeyHash)
	require.NotNil(t, user.APIKeyCreatedAt)
	assert.Nil(t, user.APIKeyLastUsedAt)
	assert.True(t, user.HasActiveAPIKey())

	// Reissuing replaces the key; the old secret no longer matches.
	second, err := user.IssueAPIKey()
	require.NoError(t, err)
	assert.NotEqual(t, raw, second)
	assert.NotEqual(t, HashAPIKey(raw), user.APIKeyHash)
}

func TestRevokeAPIKey(t *testing.T) {
	user := &User{}
	_, err := user.IssueAPIKey()
	require.NoError(t, err)
	require.True(t, user.HasActiveAPIKey())

	user.RevokeAPIKey()
	assert.False(t, user.HasActiveAPIKey())
	assert.Empty(t, user.APIKeyHash)
	assert.Empty(t, user.APIKeyPrefix)
	require.NotNil(t, user.APIKeyRevokedAt)

	// Issuing again clears the revocation.
	_, err = user.IssueAPIKey()
	require.NoError(t, err)
	assert.True(t, user.HasActiveAPIKey())
	assert.Nil(t, user.APIKeyRevokedAt)
}

func TestTouchAPIKeyUsage(t *testing.T) {
	user := &User{}
	assert.Nil(t, user.APIKeyLastUsedAt)
	user.TouchAPIKeyUsage()
	require.NotNil(t, user.APIKeyLastUsedAt)
}

func TestHashAPIKeyTrimsWhitespace(t *testing.T) {
	assert.Equal(t, HashAPIKey("ss_abc"), HashAPIKey("  ss_abc \n"))
	assert.NotEqual(t, HashAPIKey("ss_abc"), HashAPIKey("ss_abd"))
}
