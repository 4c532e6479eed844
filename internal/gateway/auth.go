package gateway

import (
	"context"
	"crypto/subtle"
	"fmt"
)

// AuthResult is the outcome of validating a connect token.
type AuthResult struct {
	OK       bool
	User     string
	Metadata map[string]any
	Reason   string
}

// Authenticator validates the token presented on the connect frame.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) AuthResult
}

// AuthConfig selects the auth variant.
type AuthConfig struct {
	// Type is "none", "token", or "custom". Empty means none.
	Type string `yaml:"type"`

	// Token is the shared secret for the token variant.
	Token string `yaml:"token"`
}

// NewAuthenticator builds the configured variant. The custom variant has
// no YAML form; integrators install it programmatically.
func NewAuthenticator(cfg AuthConfig) (Authenticator, error) {
	switch cfg.Type {
	case "", "none":
		return NoneAuth{}, nil
	case "token":
		if cfg.Token == "" {
			return nil, fmt.Errorf("gateway: token auth requires a token")
		}
		return TokenAuth{Token: cfg.Token}, nil
	default:
		return nil, fmt.Errorf("gateway: unknown auth type %q", cfg.Type)
	}
}

// NoneAuth accepts every client.
type NoneAuth struct{}

// Authenticate implements Authenticator.
func (NoneAuth) Authenticate(ctx context.Context, token string) AuthResult {
	return AuthResult{OK: true}
}

// TokenAuth accepts clients presenting the shared secret. The compare is
// constant-time.
type TokenAuth struct {
	Token string
}

// Authenticate implements Authenticator.
func (a TokenAuth) Authenticate(ctx context.Context, token string) AuthResult {
	if subtle.ConstantTimeCompare([]byte(token), []byte(a.Token)) == 1 {
		return AuthResult{OK: true}
	}
	return AuthResult{Reason: "invalid token"}
}

// CustomAuth delegates validation to an integrator-supplied function.
type CustomAuth func(ctx context.Context, token string) AuthResult

// Authenticate implements Authenticator.
func (f CustomAuth) Authenticate(ctx context.Context, token string) AuthResult {
	return f(ctx, token)
}
