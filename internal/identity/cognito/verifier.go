package cognito

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/coreos/go-oidc/v3/oidc"
)

// Claims are the id token claims the provider reads.
type Claims struct {
	Subject       string
	Username      string
	Email         string
	EmailVerified bool
}

// Verifier checks a raw id token and returns its claims.
type Verifier interface {
	Verify(ctx context.Context, rawIDToken string) (Claims, error)
}

// OIDCVerifier verifies id tokens against the user pool's published keys.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier discovers the pool issuer and builds a verifier for the
// app client.
func NewOIDCVerifier(ctx context.Context, cfg Config) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, cfg.Issuer())
	if err != nil {
		return nil, fmt.Errorf("oidc provider: %w", err)
	}
	return &OIDCVerifier{
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
	}, nil
}

// Verify checks the signature, issuer, audience and expiry of rawIDToken.
func (v *OIDCVerifier) Verify(ctx context.Context, rawIDToken string) (Claims, error) {
	if rawIDToken == "" {
		return Claims{}, fmt.Errorf("no id_token")
	}
	idToken, err := v.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return Claims{}, fmt.Errorf("verify id_token: %w", err)
	}

	var raw idTokenClaims
	if err := idToken.Claims(&raw); err != nil {
		return Claims{}, fmt.Errorf("parse claims: %w", err)
	}
	return raw.claims(idToken.Subject), nil
}

type idTokenClaims struct {
	Username      string          `json:"cognito:username"`
	Email         string          `json:"email"`
	EmailVerified json.RawMessage `json:"email_verified"`
}

// claims normalizes email_verified, which the pool emits either as a JSON
// boolean or as the string "true".
func (c idTokenClaims) claims(subject string) Claims {
	verified := false
	if len(c.EmailVerified) > 0 {
		var b bool
		if err := json.Unmarshal(c.EmailVerified, &b); err == nil {
			verified = b
		} else {
			var s string
			if err := json.Unmarshal(c.EmailVerified, &s); err == nil {
				verified, _ = strconv.ParseBool(s)
			}
		}
	}
	return Claims{
		Subject:       subject,
		Username:      c.Username,
		Email:         c.Email,
		EmailVerified: verified,
	}
}
