package authapi

import (
	"net/http"
	"strconv"
	"time"
)

// writeRateLimited rounds Retry-After up so clients never retry early.
func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64((retryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts, retry later")
}
