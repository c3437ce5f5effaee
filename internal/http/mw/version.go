package mw

import (
	"net/http"
	"strings"

	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/version"
)

// noStorePrefixes carry payment secrets or one-time download links.
var noStorePrefixes = []string{
	"/api/v1/payments/",
	"/api/v1/licenses/",
	"/api/v1/files/",
	"/api/v1/subscriptions",
}

// ResponseHeaders sets X-API-Version on every response and marks payment and
// download responses as non-cacheable.
func ResponseHeaders() func(http.Handler) http.Handler {
	apiVersion := version.Get().Short()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-API-Version", apiVersion)
			if noStore(r.URL.Path) {
				w.Header().Set("Cache-Control", "no-store")
			}
			next.ServeHTTP(w, r)
		})
	}
}

func noStore(path string) bool {
	if strings.HasSuffix(path, "/download") {
		return true
	}
	for _, p := range noStorePrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
