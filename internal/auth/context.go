package auth

import (
	"context"
	"errors"
)

// Identity is the caller resolved from a verified access token.
//
// Business-scoped tokens (owners, analysts) always carry a BusinessID.
// Platform tokens are issued to the worker and operators by dialerctl, carry
// no business and set Platform; handlers that need a tenant take it from the
// request instead.
type Identity struct {
	UserID     string
	BusinessID string
	Role       string
	Platform   bool
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}

func UserID(ctx context.Context) (string, error) {
	if id, ok := IdentityFrom(ctx); ok && id.UserID != "" {
		return id.UserID, nil
	}
	return "", errors.New("user_id not in context")
}

// BusinessID fails for platform identities: they act on no tenant by default.
func BusinessID(ctx context.Context) (string, error) {
	if id, ok := IdentityFrom(ctx); ok && id.BusinessID != "" {
		return id.BusinessID, nil
	}
	return "", errors.New("business_id not in context")
}

func Role(ctx context.Context) (string, error) {
	if id, ok := IdentityFrom(ctx); ok && id.Role != "" {
		return id.Role, nil
	}
	return "", errors.New("role not in context")
}

func IsPlatform(ctx context.Context) bool {
	id, ok := IdentityFrom(ctx)
	return ok && id.Platform
}
