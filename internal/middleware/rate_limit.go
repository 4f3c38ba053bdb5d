package middleware

import (
	"net/http"
	"time"

	pkghttp "github.com/AyushPandey003/quantcal-auth/pkg/http"
	"github.com/go-chi/httprate"
)

// BurstLimitConfig holds the router-wide burst limit. This is a crude
// per-process backstop against floods; the per-purpose quotas in the
// security gate do the real policy work.
type BurstLimitConfig struct {
	RequestsPerMinute int
}

// BurstLimitByIP rate limits all requests by client IP
func BurstLimitByIP(config BurstLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		time.Minute,
		httprate.WithKeyByRealIP(),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			pkghttp.WriteRateLimited(w, "Too many requests",
				int64(config.RequestsPerMinute), 0, time.Now().Add(time.Minute))
		}),
	)
}
