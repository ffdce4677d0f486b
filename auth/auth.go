// Package auth verifies caller identity tokens and extracts the principal.
//
// The service treats identity as an external concern: tokens are minted by a
// separate issuer and this package only verifies them and extracts the
// subject. The Verifier interface is the boundary; HSVerifier implements it
// for HS256-signed JWTs, which is what the issuer produces.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/adreel/adreel"
)

// Identity represents an authenticated caller. Subject is the principal
// used as the partition key for ledger and limiter state.
type Identity struct {
	Subject string `json:"subject"`
	Email   string `json:"email,omitempty"`
}

// Verifier validates a bearer token and returns the caller's identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// HSVerifier verifies HS256-signed JWTs against a shared secret.
type HSVerifier struct {
	secret []byte
	now    func() time.Time
}

// Option configures an HSVerifier.
type Option func(*HSVerifier)

// WithClock overrides the time source used for expiry checks (testing).
func WithClock(now func() time.Time) Option {
	return func(v *HSVerifier) { v.now = now }
}

// NewHSVerifier creates a verifier for tokens signed with the given secret.
func NewHSVerifier(secret string, opts ...Option) *HSVerifier {
	v := &HSVerifier{secret: []byte(secret), now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

type claims struct {
	Sub    string `json:"sub"`
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Exp    int64  `json:"exp"`
}

// Verify checks the token's signature and expiry and extracts the subject.
// The subject claim is "sub", falling back to "user_id". All failures map
// to adreel.ErrUnauthorized; callers get no detail about why a token was
// rejected.
func (v *HSVerifier) Verify(_ context.Context, token string) (Identity, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return Identity{}, fmt.Errorf("%w: malformed token", adreel.ErrUnauthorized)
	}

	var header struct {
		Alg string `json:"alg"`
	}
	if err := decodeSegment(parts[0], &header); err != nil {
		return Identity{}, fmt.Errorf("%w: bad header", adreel.ErrUnauthorized)
	}
	if header.Alg != "HS256" {
		return Identity{}, fmt.Errorf("%w: unsupported algorithm %q", adreel.ErrUnauthorized, header.Alg)
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(parts[0] + "." + parts[1]))
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil || !hmac.Equal(sig, mac.Sum(nil)) {
		return Identity{}, fmt.Errorf("%w: bad signature", adreel.ErrUnauthorized)
	}

	var c claims
	if err := decodeSegment(parts[1], &c); err != nil {
		return Identity{}, fmt.Errorf("%w: bad claims", adreel.ErrUnauthorized)
	}
	if c.Exp != 0 && v.now().After(time.Unix(c.Exp, 0)) {
		return Identity{}, fmt.Errorf("%w: token expired", adreel.ErrUnauthorized)
	}

	sub := c.Sub
	if sub == "" {
		sub = c.UserID
	}
	if sub == "" {
		return Identity{}, fmt.Errorf("%w: token carries no subject", adreel.ErrUnauthorized)
	}

	return Identity{Subject: sub, Email: c.Email}, nil
}

func decodeSegment(seg string, v any) error {
	raw, err := base64.RawURLEncoding.DecodeString(seg)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// BearerToken extracts the token from an "Authorization: Bearer ..." header
// value. Returns "" if the header is missing or not a bearer scheme.
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
