package web

import (
	"context"
	"net/http"

	"github.com/fieldserve/roster-import/internal/core"
	"github.com/google/uuid"
)

type contextKey string

const ctxKeyTenant contextKey = "tenant_id"

// apiContext extracts the tenant and request metadata for all API routes.
// Every API call must carry X-Tenant-ID; the import pipeline is scoped to
// one tenant per request and never crosses that boundary.
func (s *Server) apiContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("X-Tenant-ID")
		if raw == "" {
			writeError(w, http.StatusBadRequest, "missing X-Tenant-ID header", "AUTH_MISSING_TENANT")
			return
		}
		tenantID, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid X-Tenant-ID header", "AUTH_INVALID_TENANT")
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyTenant, tenantID)
		ctx = WithRequestMetadata(ctx, r)
		if actor := actorFromHeaders(r); actor != (core.Actor{}) {
			ctx = core.ContextWithActor(ctx, actor)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// tenantFromContext returns the tenant set by apiContext.
func tenantFromContext(ctx context.Context) uuid.UUID {
	if v, ok := ctx.Value(ctxKeyTenant).(uuid.UUID); ok {
		return v
	}
	return uuid.Nil
}

// WithRequestMetadata adds IP and User-Agent to context for audit logging.
func WithRequestMetadata(ctx context.Context, r *http.Request) context.Context {
	ip := r.RemoteAddr // Already processed by the real-IP middleware
	ua := r.Header.Get("User-Agent")
	ctx = core.ContextWithIPAddress(ctx, ip)
	ctx = core.ContextWithUserAgent(ctx, ua)
	return ctx
}

// actorFromHeaders builds the acting user from the identity headers set by
// the platform gateway. All three are optional.
func actorFromHeaders(r *http.Request) core.Actor {
	return core.Actor{
		UserID: r.Header.Get("X-User-ID"),
		Email:  r.Header.Get("X-User-Email"),
		Name:   r.Header.Get("X-User-Name"),
	}
}
