package middleware

import "context"

type contextKey string

const (
	ctxActorID  contextKey = "actor_id"
	ctxRole     contextKey = "actor_role"
	ctxVendorID contextKey = "vendor_id"
)

func ActorIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxActorID).(string); ok {
		return v
	}
	return ""
}

func RoleFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxRole).(string); ok {
		return v
	}
	return ""
}

// VendorIDFromContext returns the vendor a token is scoped to, or "" for
// admin tokens.
func VendorIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxVendorID).(string); ok {
		return v
	}
	return ""
}

// WithActor seeds the context for tests and internal callers.
func WithActor(ctx context.Context, actorID, role, vendorID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, ctxActorID, actorID)
	ctx = context.WithValue(ctx, ctxRole, role)
	if vendorID != "" {
		ctx = context.WithValue(ctx, ctxVendorID, vendorID)
	}
	return ctx
}
