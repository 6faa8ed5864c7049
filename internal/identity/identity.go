package identity

import (
	"context"
	"errors"
	"strings"
)

// ErrUnauthenticated is returned when no acting user is known. It is an
// authorization failure, never a validation one.
var ErrUnauthenticated = errors.New("authentication required")

// Principal is the authenticated caller.
type Principal struct {
	UserID string
	Source string
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok && p.UserID != ""
}

// Provider answers who is acting for a request.
type Provider interface {
	CurrentUserID(ctx context.Context) (string, error)
}

// FromContext reads the principal the HTTP auth middleware attached.
type FromContext struct{}

func (FromContext) CurrentUserID(ctx context.Context) (string, error) {
	p, ok := PrincipalFrom(ctx)
	if !ok {
		return "", ErrUnauthenticated
	}
	return p.UserID, nil
}

// Static always acts as one user. The CLI uses it with --user-id. A context
// principal, when present, still wins.
type Static string

func (s Static) CurrentUserID(ctx context.Context) (string, error) {
	if p, ok := PrincipalFrom(ctx); ok {
		return p.UserID, nil
	}
	id := strings.TrimSpace(string(s))
	if id == "" {
		return "", ErrUnauthenticated
	}
	return id, nil
}
