package gateway

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// legacyPrefixes are the unversioned routes that moved under /v1.
var legacyPrefixes = []string{"/auth", "/horoscope", "/chat"}

// LegacySunset is when the unversioned routes stop answering.
var LegacySunset = time.Date(2027, time.March, 31, 0, 0, 0, 0, time.UTC)

// LegacyRedirect answers permanent redirects for the pre-v1 route prefixes,
// carrying the deprecation headers clients use to plan their migration.
func LegacyRedirect(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			prefix := ""
			for _, candidate := range legacyPrefixes {
				if r.URL.Path == candidate || strings.HasPrefix(r.URL.Path, candidate+"/") {
					prefix = candidate
					break
				}
			}
			if prefix == "" {
				next.ServeHTTP(w, r)
				return
			}

			metrics.LegacyHits.WithLabelValues(prefix).Inc()
			target := "/v1" + r.URL.Path
			if r.URL.RawQuery != "" {
				target += "?" + r.URL.RawQuery
			}
			w.Header().Set("Deprecation", "true")
			w.Header().Set("Sunset", LegacySunset.Format(http.TimeFormat))
			w.Header().Set("Link", fmt.Sprintf("<%s>; rel=\"successor-version\"", "/v1"+r.URL.Path))
			http.Redirect(w, r, target, http.StatusPermanentRedirect)
		})
	}
}
