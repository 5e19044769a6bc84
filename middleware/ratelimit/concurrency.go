package ratelimit

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"n8n-relay/logging"
	"n8n-relay/middleware/ratelimit/application"
	"n8n-relay/middleware/ratelimit/domain"
	"n8n-relay/middleware/ratelimit/infra"
)

// MsgBusy volta no 503 quando não há vaga para chamar o webhook.
const MsgBusy = "Service momentanément indisponible"

type ConcurrencyOptions struct {
	Max            int
	RejectStatus   int
	AcquireTimeout time.Duration
	// Observer recebe espera e ocupação das vagas (métricas).
	Observer domain.SlotObserver
}

// ConcurrencyMiddleware limita quantas requisições chegam ao next ao mesmo
// tempo. Max <= 0 desliga o limite.
func ConcurrencyMiddleware(opts ConcurrencyOptions) func(next http.Handler) http.Handler {
	if opts.Max <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusServiceUnavailable
	}

	pool := infra.NewChanPool(opts.Max)
	svc := application.ConcurrencyService{
		Pool:           pool,
		AcquireTimeout: opts.AcquireTimeout,
		Observer:       opts.Observer,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			release, err := svc.Acquire(r.Context())
			if err != nil {
				log := logging.FromContext(r.Context())
				if errors.Is(err, domain.ErrNoSlot) {
					log.Warn("no relay slot available", "max", pool.Cap(), "in_flight", pool.InFlight())
				} else {
					log.Debug("client left while waiting for a relay slot", "error", err)
				}
				w.Header().Set("Retry-After", "1")
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.WriteHeader(opts.RejectStatus)
				_ = json.NewEncoder(w).Encode(struct {
					Error string `json:"error"`
				}{Error: MsgBusy})
				return
			}
			defer release()

			next.ServeHTTP(w, r)
		})
	}
}
