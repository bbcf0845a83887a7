package auth

import (
	"context"

	"github.com/pkg/errors"
)

// Principal is the authenticated user of a request.
type Principal struct {
	// ID names the principal below the ACL principal collection.
	ID string
}

// Credentials are the username and password taken from an Authorization
// header.
type Credentials struct {
	Username string
	Password string
}

var (
	// ErrMalformedCredentials is returned for an Authorization header that
	// cannot be decoded.
	ErrMalformedCredentials = errors.New("malformed credentials")
	// ErrInvalidCredentials is returned by an Authenticator that rejects a
	// username and password.
	ErrInvalidCredentials = errors.New("invalid username or password")
)

// Authenticator checks credentials against a user store.
type Authenticator interface {
	Authenticate(ctx context.Context, creds Credentials) (*Principal, error)
}

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal stored by WithPrincipal, or nil
// for anonymous requests.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}
