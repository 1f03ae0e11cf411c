package rest

import (
	"context"

	"github.com/baechuer/fcfs-booking/internal/security"
)

type ctxKeyIdentity struct{}

func withIdentity(ctx context.Context, ident security.Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity{}, ident)
}

// GetAuth returns the authenticated caller bound by AuthMiddleware.
func GetAuth(ctx context.Context) (security.Identity, bool) {
	ident, ok := ctx.Value(ctxKeyIdentity{}).(security.Identity)
	return ident, ok
}
