package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/memvault/internal/profile"
)

func signToken(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	require.NoError(t, err)
	return signed
}

func TestJWTVerifier(t *testing.T) {
	secret := []byte("test-secret")
	v := NewJWTVerifier(secret)
	ctx := context.Background()

	t.Run("valid token", func(t *testing.T) {
		token := signToken(t, secret, jwt.MapClaims{
			"sub": "user:alice",
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		identity, err := v.Verify(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, "user:alice", identity.Subject)
		assert.False(t, identity.Anonymous)
	})

	t.Run("expired token", func(t *testing.T) {
		token := signToken(t, secret, jwt.MapClaims{
			"sub": "user:alice",
			"exp": time.Now().Add(-time.Hour).Unix(),
		})
		_, err := v.Verify(ctx, token)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		token := signToken(t, []byte("other-secret"), jwt.MapClaims{
			"sub": "user:alice",
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		_, err := v.Verify(ctx, token)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("missing subject", func(t *testing.T) {
		token := signToken(t, secret, jwt.MapClaims{
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		_, err := v.Verify(ctx, token)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("missing expiry", func(t *testing.T) {
		token := signToken(t, secret, jwt.MapClaims{"sub": "user:alice"})
		_, err := v.Verify(ctx, token)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage token", func(t *testing.T) {
		_, err := v.Verify(ctx, "not-a-jwt")
		require.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestIntrospectionVerifier(t *testing.T) {
	ctx := context.Background()

	t.Run("active token", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "tok-1", r.Form.Get("token"))
			w.Write([]byte(`{"active":true,"sub":"user:bob","exp":` + timeUnixIn(time.Hour) + `}`))
		}))
		defer srv.Close()

		identity, err := NewIntrospectionVerifier(srv.URL).Verify(ctx, "tok-1")
		require.NoError(t, err)
		assert.Equal(t, "user:bob", identity.Subject)
	})

	t.Run("inactive token", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"active":false}`))
		}))
		defer srv.Close()

		_, err := NewIntrospectionVerifier(srv.URL).Verify(ctx, "tok-1")
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired token", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"active":true,"sub":"user:bob","exp":` + timeUnixIn(-time.Hour) + `}`))
		}))
		defer srv.Close()

		_, err := NewIntrospectionVerifier(srv.URL).Verify(ctx, "tok-1")
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("provider error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		_, err := NewIntrospectionVerifier(srv.URL).Verify(ctx, "tok-1")
		require.Error(t, err)
	})
}

func timeUnixIn(d time.Duration) string {
	return strconv.FormatInt(time.Now().Add(d).Unix(), 10)
}

func TestNewVerifierFromProfile(t *testing.T) {
	v, err := NewVerifierFromProfile(&profile.Profile{AuthMode: "jwt", AuthJWTSecret: "s"})
	require.NoError(t, err)
	assert.IsType(t, &JWTVerifier{}, v)

	v, err = NewVerifierFromProfile(&profile.Profile{AuthMode: "introspect", AuthIntrospURL: "http://idp/introspect"})
	require.NoError(t, err)
	assert.IsType(t, &IntrospectionVerifier{}, v)

	_, err = NewVerifierFromProfile(&profile.Profile{AuthMode: "mtls"})
	require.Error(t, err)
}
