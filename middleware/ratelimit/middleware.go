package ratelimit

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"n8n-relay/logging"
	"n8n-relay/middleware/ratelimit/application"
	"n8n-relay/middleware/ratelimit/domain"
)

type KeyFunc func(r *http.Request) string

type Options struct {
	Store  domain.WindowStore
	Policy domain.Policy
	// Global é opcional (nil desliga o limite global).
	Global              domain.Limiter
	Stats               domain.StatsStore
	KeyFn               KeyFunc
	TrustXForwardedFor  bool
	AddRateLimitHeaders bool
	Now                 func() time.Time
}

// DefaultKeyFunc identifica o cliente pelo IP.
func DefaultKeyFunc(trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if trustXFF {
			// primeiro IP do X-Forwarded-For (cliente original)
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				if ip := strings.TrimSpace(first); ip != "" {
					return ip
				}
			}
		}

		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}

// rejection é o corpo do 429, no mesmo formato do @fastify/rate-limit que o
// frontend já trata.
type rejection struct {
	StatusCode int    `json:"statusCode"`
	Error      string `json:"error"`
	Message    string `json:"message"`
}

func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.TrustXForwardedFor)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	svc := application.Service{
		Store:  opts.Store,
		Policy: opts.Policy,
		Global: opts.Global,
		Now:    now,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := opts.KeyFn(r)
			log := logging.FromContext(r.Context())

			dec, err := svc.Decide(r.Context(), domain.Key(key))
			if err != nil {
				log.Warn("rate limit store failed, allowing request", "client", key, "error", err)
			}

			if opts.Stats != nil {
				if err := opts.Stats.Record(r.Context(), domain.StatsEvent{
					Key:    domain.Key(key),
					Reason: dec.Reason,
					At:     now(),
				}); err != nil {
					log.Debug("rate limit stats not recorded", "error", err)
				}
			}

			if opts.AddRateLimitHeaders && dec.Limit > 0 {
				w.Header().Set("X-RateLimit-Limit", formatInt(dec.Limit))
				w.Header().Set("X-RateLimit-Remaining", formatInt(dec.Remaining))
				w.Header().Set("X-RateLimit-Reset", formatInt(ceilSeconds(dec.ResetAt.Sub(now()))))
			}

			if !dec.Allowed {
				secs := ceilSeconds(dec.RetryAfter)
				log.Info("rate limit exceeded", "client", key, "reason", string(dec.Reason), "retry_after_s", secs)

				w.Header().Set("Retry-After", formatInt(secs))
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(rejection{
					StatusCode: http.StatusTooManyRequests,
					Error:      http.StatusText(http.StatusTooManyRequests),
					Message:    "Rate limit exceeded, retry in " + formatWait(dec.RetryAfter),
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
