package api

import (
    "net/http"
    "os"
    "strconv"

    "golang.org/x/time/rate"
)

// RateLimitMiddleware applies a global token-bucket limit from RATE_RPS and
// RATE_BURST. Unset or zero RATE_RPS disables limiting.
func RateLimitMiddleware(next http.Handler) http.Handler {
    rps := 0.0
    if v := os.Getenv("RATE_RPS"); v != "" {
        if f, err := strconv.ParseFloat(v, 64); err == nil { rps = f }
    }
    if rps <= 0 {
        return next
    }
    burst := int(rps)
    if v := os.Getenv("RATE_BURST"); v != "" {
        if n, err := strconv.Atoi(v); err == nil && n > 0 { burst = n }
    }
    if burst <= 0 { burst = 1 }
    lim := rate.NewLimiter(rate.Limit(rps), burst)
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if !lim.Allow() {
            writeProblem(w, http.StatusTooManyRequests, "Rate limit exceeded", "", r.URL.Path)
            return
        }
        next.ServeHTTP(w, r)
    })
}
