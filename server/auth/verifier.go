// Package auth delegates bearer-token verification to the external identity
// provider. The memory subsystem never issues tokens; it only extracts a
// caller identity and expiry from tokens the provider vouches for.
package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"github.com/hrygo/memvault/internal/profile"
)

// ErrInvalidToken covers missing, malformed, expired and rejected tokens.
// The distinction is logged, never surfaced.
var ErrInvalidToken = errors.New("invalid or expired token")

// Identity is the verified caller.
type Identity struct {
	// Subject is the external identity string the tenant handle derives from.
	Subject   string
	ExpiresAt time.Time
	Anonymous bool
}

// IdentityVerifier verifies a bearer token with the external provider.
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// NewVerifierFromProfile selects the verifier implementation.
func NewVerifierFromProfile(p *profile.Profile) (IdentityVerifier, error) {
	switch p.AuthMode {
	case "jwt":
		return NewJWTVerifier([]byte(p.AuthJWTSecret)), nil
	case "introspect":
		return NewIntrospectionVerifier(p.AuthIntrospURL), nil
	default:
		return nil, errors.Errorf("unknown auth mode: %s", p.AuthMode)
	}
}

// JWTVerifier validates HMAC-signed tokens issued by an identity provider
// that shares its signing secret with this service. Claims are trusted only
// after signature and expiry checks; issuance stays with the provider.
type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

func (v *JWTVerifier) Verify(ctx context.Context, tokenString string) (*Identity, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return nil, errors.WithStack(ErrInvalidToken)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.WithStack(ErrInvalidToken)
	}
	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return nil, errors.WithStack(ErrInvalidToken)
	}
	expiry, err := claims.GetExpirationTime()
	if err != nil || expiry == nil {
		return nil, errors.WithStack(ErrInvalidToken)
	}

	return &Identity{Subject: subject, ExpiresAt: expiry.Time}, nil
}

// IntrospectionVerifier posts the token to the provider's introspection
// endpoint (RFC 7662 shape).
type IntrospectionVerifier struct {
	client   *http.Client
	endpoint string
}

func NewIntrospectionVerifier(endpoint string) *IntrospectionVerifier {
	return &IntrospectionVerifier{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

func (v *IntrospectionVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build introspection request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "introspection request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.WithStack(ErrInvalidToken)
	}

	var payload struct {
		Active bool   `json:"active"`
		Sub    string `json:"sub"`
		Exp    int64  `json:"exp"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, errors.Wrap(err, "malformed introspection response")
	}
	if !payload.Active || payload.Sub == "" {
		return nil, errors.WithStack(ErrInvalidToken)
	}

	identity := &Identity{Subject: payload.Sub}
	if payload.Exp > 0 {
		identity.ExpiresAt = time.Unix(payload.Exp, 0)
		if time.Now().After(identity.ExpiresAt) {
			return nil, errors.WithStack(ErrInvalidToken)
		}
	}
	return identity, nil
}
