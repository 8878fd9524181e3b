package middleware

import (
	"errors"
	"net/http"

	"github.com/MrEthical07/guardian"
	"github.com/MrEthical07/guardian/authz"
)

// ResourceID extracts the id of the protected resource from a request,
// typically a router path parameter.
type ResourceID func(r *http.Request) string

// Authorize asks the engine whether the caller may perform action on the
// resource of class named by id. Deny answers 403, NotFound answers 404 and
// an unavailable dependency answers 503. It must run after RequireAccess.
func Authorize(engine *guardian.Engine, class string, action guardian.Action, id ResourceID) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok || engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ref := guardian.ResourceRef{Class: class, ID: id(r)}
			d, err := engine.Authorize(r.Context(), claims, ref, action)
			if err != nil {
				if errors.Is(err, guardian.ErrDependencyUnavailable) {
					http.Error(w, "service unavailable", http.StatusServiceUnavailable)
					return
				}
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}

			switch d.Effect {
			case authz.Allow:
				next.ServeHTTP(w, r)
			case authz.NotFound:
				http.Error(w, "not found", http.StatusNotFound)
			default:
				http.Error(w, "forbidden", http.StatusForbidden)
			}
		})
	}
}
