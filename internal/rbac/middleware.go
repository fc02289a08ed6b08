package rbac

import (
	"encoding/json"
	"net/http"
)

var defaultChecker = NewChecker(nil)

// Require enforces a single permission.
func Require(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := RoleFromContext(r.Context())
			if role == "" || !defaultChecker.Has(role, perm) {
				deny(w, perm)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAny enforces that the role has at least one of the permissions.
func RequireAny(perms ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := RoleFromContext(r.Context())
			if role == "" || !defaultChecker.Any(role, perms...) {
				deny(w, perms...)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Can reports whether the role in the request context holds perm.
func Can(r *http.Request, perm string) bool {
	return defaultChecker.Has(RoleFromContext(r.Context()), perm)
}

func deny(w http.ResponseWriter, perms ...string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"code":    "forbidden",
		"message": "missing permission",
		"data":    map[string]any{"required": perms},
	})
}
