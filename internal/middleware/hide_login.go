package middleware

import (
	"net/http"

	"github.com/BradenHooton/gatehouse/internal/models"
)

// HideLogin conceals the canonical login path behind a slug. Requests to
// loginPath that do not carry the configured slug in the query string are
// answered per the configured redirect target; everything else passes
// through. When hide-login is disabled the middleware is a no-op.
//
// The configuration is fetched per request so runtime updates apply
// without restarting the server.
func HideLogin(getConfig func() models.SecurityConfig, loginPath string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cfg := getConfig()
			if !cfg.HideLoginEnabled || r.URL.Path != loginPath {
				next.ServeHTTP(w, r)
				return
			}

			if r.URL.Query().Has(cfg.LoginSlug) {
				next.ServeHTTP(w, r)
				return
			}

			switch cfg.RedirectTarget {
			case models.RedirectHome:
				http.Redirect(w, r, "/", http.StatusFound)
			default:
				http.NotFound(w, r)
			}
		})
	}
}
