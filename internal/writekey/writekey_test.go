package writekey

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	keys, err := New("s3cret", "collector")
	require.NoError(t, err)

	t.Run("Issue and validate", func(t *testing.T) {
		key, err := keys.Issue("shop", time.Hour)
		require.NoError(t, err)

		claims, err := keys.Validate(key)
		require.NoError(t, err)
		assert.Equal(t, "shop", claims.Project)
		assert.Equal(t, "collector", claims.Issuer)
		assert.NotEmpty(t, claims.ID)
	})

	t.Run("Key without expiry", func(t *testing.T) {
		key, err := keys.Issue("shop", 0)
		require.NoError(t, err)

		claims, err := keys.Validate(key)
		require.NoError(t, err)
		assert.Nil(t, claims.ExpiresAt)
	})

	t.Run("Expired key", func(t *testing.T) {
		key, err := keys.Issue("shop", time.Minute)
		require.NoError(t, err)

		later := *keys
		later.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
		_, err = later.Validate(key)
		assert.ErrorIs(t, err, ErrKeyExpired)
	})

	t.Run("Wrong secret", func(t *testing.T) {
		other, err := New("other", "collector")
		require.NoError(t, err)
		key, err := other.Issue("shop", 0)
		require.NoError(t, err)

		_, err = keys.Validate(key)
		assert.ErrorIs(t, err, ErrInvalidKey)
	})

	t.Run("Wrong issuer", func(t *testing.T) {
		other, err := New("s3cret", "somebody-else")
		require.NoError(t, err)
		key, err := other.Issue("shop", 0)
		require.NoError(t, err)

		_, err = keys.Validate(key)
		assert.ErrorIs(t, err, ErrInvalidKey)
	})

	t.Run("Unsigned key", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
			Project:          "shop",
			RegisteredClaims: jwt.RegisteredClaims{Issuer: "collector"},
		})
		key, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = keys.Validate(key)
		assert.ErrorIs(t, err, ErrInvalidKey)
	})

	t.Run("Garbage", func(t *testing.T) {
		_, err := keys.Validate("not-a-key")
		assert.ErrorIs(t, err, ErrInvalidKey)
	})

	t.Run("Missing project", func(t *testing.T) {
		_, err := keys.Issue("", 0)
		assert.Error(t, err)
	})

	t.Run("Missing secret", func(t *testing.T) {
		_, err := New("", "collector")
		assert.Error(t, err)
	})
}
