package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"

	"github.com/hazyhaar/cablesync/kit"
)

type claimsKey struct{}

// Middleware extracts a Bearer JWT from the Authorization header. Valid
// claims are put in the request context along with kit.UserIDKey and
// kit.RoleKey. Missing or invalid tokens pass through unauthenticated; use
// RequireAuth to enforce.
func Middleware(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := r.Header.Get("Authorization")
			if len(secret) == 0 || !strings.HasPrefix(h, "Bearer ") {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := ValidateToken(secret, strings.TrimPrefix(h, "Bearer "))
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey{}, claims)
			ctx = kit.WithUserID(ctx, claims.Actor())
			ctx = kit.WithRole(ctx, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func claimsFrom(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsKey{}).(*Claims)
	return c
}

// RequireAuth rejects requests without valid claims with 401. Roles, when
// non-empty, restrict access to claims carrying one of them (403 otherwise).
func RequireAuth(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c := claimsFrom(r.Context())
			if c == nil {
				deny(w, http.StatusUnauthorized, "authentication required")
				return
			}
			if len(roles) > 0 && !slices.Contains(roles, c.Role) {
				deny(w, http.StatusForbidden, "role not allowed to import")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func deny(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": msg})
}
