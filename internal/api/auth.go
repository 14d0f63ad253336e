package api

import (
	"context"
	"net/http"
)

// Identity is the resolved caller, produced by the external session
// resolver upstream of this service and carried on trusted headers.
type Identity struct {
	UserID string
	Admin  bool
}

type ctxKey int

const identityKey ctxKey = iota

// IdentityFrom extracts the authenticated identity from the request context.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// Authenticate resolves the caller's identity or rejects the request.
func Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-ID")
		if userID == "" {
			respondWithError(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		id := Identity{UserID: userID, Admin: r.Header.Get("X-Admin") == "true"}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, id)))
	})
}

// requireAdmin guards admin-only handlers.
func requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFrom(r.Context())
		if !ok || !id.Admin {
			respondWithError(w, http.StatusForbidden, "Admin privileges required")
			return
		}
		next(w, r)
	}
}
