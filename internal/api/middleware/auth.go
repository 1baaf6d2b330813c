package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/quantlark/tracer/internal/api/response"
	"github.com/quantlark/tracer/internal/core"
)

// APIKeyAuth returns middleware that validates the X-API-Key header.
// An empty configured key disables authentication.
func APIKeyAuth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			provided := r.Header.Get("X-API-Key")
			if provided == "" {
				response.Error(w, http.StatusUnauthorized,
					core.WrapErrorf(core.ErrConfigMissing, "missing X-API-Key header"))
				return
			}

			// Constant-time comparison to prevent timing attacks.
			if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
				response.Error(w, http.StatusUnauthorized,
					core.WrapErrorf(core.ErrConfigInvalid, "invalid API key"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
