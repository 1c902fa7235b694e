package authapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestWriteRateLimited_RetryAfter(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{in: 0, want: ""},
		{in: 1500 * time.Millisecond, want: "2"},
		{in: 15 * time.Minute, want: "900"},
	}
	for _, tc := range tests {
		rr := httptest.NewRecorder()
		writeRateLimited(rr, tc.in)

		if rr.Code != http.StatusTooManyRequests {
			t.Fatalf("status=%d", rr.Code)
		}
		if got := rr.Header().Get("Retry-After"); got != tc.want {
			t.Fatalf("Retry-After(%v)=%q, want %q", tc.in, got, tc.want)
		}
		var body errorResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Error.Code != "rate_limited" {
			t.Fatalf("code=%q", body.Error.Code)
		}
	}
}
