package httpserver

import (
	"net/http"

	apierrors "github.com/kiku-jw/kikuai-gateway/internal/errors"
)

// adminMetricsAuth protects the /metrics endpoint with a static bearer
// token. If no key is configured, the endpoint is open.
func adminMetricsAuth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			if r.Header.Get("Authorization") != "Bearer "+apiKey {
				apierrors.WriteError(w, apierrors.ErrCodeUnauthenticated, "invalid or missing admin api key", "")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
