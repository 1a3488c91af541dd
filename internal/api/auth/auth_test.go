package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTManager(t *testing.T) {
	manager := NewManager("test-secret-key", "test-issuer", time.Hour)

	t.Run("GenerateAndValidateToken", func(t *testing.T) {
		token, err := manager.GenerateToken("operator")
		require.NoError(t, err)
		assert.NotEmpty(t, token)

		claims, err := manager.ValidateToken(token)
		require.NoError(t, err)
		assert.Equal(t, "operator", claims.Subject)
		assert.Equal(t, "test-issuer", claims.Issuer)
	})

	t.Run("InvalidToken", func(t *testing.T) {
		_, err := manager.ValidateToken("not-a-token")
		assert.Error(t, err)
	})

	t.Run("WrongSecret", func(t *testing.T) {
		other := NewManager("other-secret", "test-issuer", time.Hour)
		token, err := other.GenerateToken("operator")
		require.NoError(t, err)

		_, err = manager.ValidateToken(token)
		assert.Error(t, err)
	})

	t.Run("ExpiredToken", func(t *testing.T) {
		short := NewManager("test-secret-key", "test-issuer", -time.Second)
		token, err := short.GenerateToken("operator")
		require.NoError(t, err)

		_, err = manager.ValidateToken(token)
		assert.Error(t, err)
	})
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2", hash)

	assert.True(t, CheckPassword(hash, "hunter2"))
	assert.False(t, CheckPassword(hash, "hunter3"))
	assert.False(t, CheckPassword("", "hunter2"))
}
