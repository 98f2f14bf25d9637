package identity

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crenshan/experiment-factory/internal/experiment"
)

const testSecret = "a-very-long-test-secret-of-at-least-32-bytes"

func TestTokenVerifier(t *testing.T) {
	t.Parallel()

	verifier := NewTokenVerifier(testSecret, "factory-test", "factory")

	t.Run("Should round-trip a signed token", func(t *testing.T) {
		token, err := verifier.Sign("uid-1", " Admin@Example.com ", time.Minute)
		require.NoError(t, err)

		got, err := verifier.Verify(token)
		require.NoError(t, err)
		assert.Equal(t, Authenticated{UID: "uid-1", Email: "Admin@Example.com"}, got)
	})

	t.Run("Should reject an expired token", func(t *testing.T) {
		token, err := verifier.Sign("uid-1", "", -time.Minute)
		require.NoError(t, err)

		_, err = verifier.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("Should reject a token signed with another secret", func(t *testing.T) {
		other := NewTokenVerifier("another-secret-that-is-also-long-enough", "factory-test", "factory")
		token, err := other.Sign("uid-1", "", time.Minute)
		require.NoError(t, err)

		_, err = verifier.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("Should reject a token from another issuer", func(t *testing.T) {
		other := NewTokenVerifier(testSecret, "someone-else", "factory")
		token, err := other.Sign("uid-1", "", time.Minute)
		require.NoError(t, err)

		_, err = verifier.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("Should reject a token without expiry", func(t *testing.T) {
		claims := Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "uid-1", Issuer: "factory-test", Audience: jwt.ClaimStrings{"factory"}}}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		require.NoError(t, err)

		_, err = verifier.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("Should reject garbage", func(t *testing.T) {
		_, err := verifier.Verify("not-a-jwt")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("Should report a disabled verifier", func(t *testing.T) {
		_, err := NewTokenVerifier("", "", "").Verify("x")
		assert.ErrorIs(t, err, ErrVerifierDisabled)
	})
}

func TestResolver_Resolve(t *testing.T) {
	t.Parallel()

	verifier := NewTokenVerifier(testSecret, "", "")
	valid, err := verifier.Sign("uid-7", "user@example.com", time.Minute)
	require.NoError(t, err)

	resolver := NewResolver(verifier)

	tests := []struct {
		name      string
		token     string
		anonymous string
		want      Identity
	}{
		{
			name:  "Should prefer a valid token",
			token: valid, anonymous: "anon-1",
			want: Authenticated{UID: "uid-7", Email: "user@example.com"},
		},
		{
			name:  "Should fall back to the anonymous key when the token is invalid",
			token: "broken", anonymous: "anon-1",
			want: Anonymous{Key: "anon-1"},
		},
		{
			name:      "Should use the anonymous key when no token is sent",
			anonymous: " anon-2 ",
			want:      Anonymous{Key: "anon-2"},
		},
		{
			name: "Should return nil when nothing identifies the caller",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolver.Resolve(tt.token, tt.anonymous)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("Should ignore tokens when verification is disabled", func(t *testing.T) {
		got := NewResolver(nil).Resolve(valid, "anon-3")
		assert.Equal(t, Anonymous{Key: "anon-3"}, got)
	})
}

func TestAllowlist(t *testing.T) {
	t.Parallel()

	list := NewAllowlist([]string{" Admin@Example.com", "", "ops@example.com"})
	assert.Equal(t, 2, list.Len())

	t.Run("Should accept a listed email case-insensitively", func(t *testing.T) {
		assert.NoError(t, list.RequireAdmin(Authenticated{UID: "u", Email: "admin@EXAMPLE.com"}))
	})

	t.Run("Should refuse an authenticated non-admin", func(t *testing.T) {
		err := list.RequireAdmin(Authenticated{UID: "u", Email: "intruder@example.com"})
		assert.ErrorIs(t, err, experiment.ErrNotAuthorized)
	})

	t.Run("Should require authentication for anonymous callers", func(t *testing.T) {
		err := list.RequireAdmin(Anonymous{Key: "anon"})
		assert.ErrorIs(t, err, experiment.ErrUnauthenticated)
	})

	t.Run("Should require authentication when identity is missing", func(t *testing.T) {
		err := list.RequireAdmin(nil)
		assert.ErrorIs(t, err, experiment.ErrUnauthenticated)
	})
}

func TestContextAndHelpers(t *testing.T) {
	t.Parallel()

	ctx := WithContext(context.Background(), Anonymous{Key: "k"})
	assert.Equal(t, Anonymous{Key: "k"}, FromContext(ctx))
	assert.Nil(t, FromContext(context.Background()))
	assert.Nil(t, FromContext(WithContext(context.Background(), nil)))

	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Equal(t, "abc", BearerToken("bearer  abc "))
	assert.Equal(t, "", BearerToken("Basic abc"))

	assert.Equal(t, "authenticated", Kind(Authenticated{}))
	assert.Equal(t, "anonymous", Kind(Anonymous{}))
	assert.Equal(t, "none", Kind(nil))
}
