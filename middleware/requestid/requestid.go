// Package requestid dá um id a cada requisição, coloca no context um logger
// que já carrega esse id e registra uma linha de acesso ao fim de cada
// requisição.
package requestid

import (
	"log/slog"
	"net/http"

	"n8n-relay/logging"

	"github.com/felixge/httpsnoop"
	"github.com/google/uuid"
)

const Header = "X-Request-Id"

// Middleware reaproveita um X-Request-Id recebido quando ele é um UUID válido;
// caso contrário gera um novo. O id volta no header da resposta.
func Middleware(base *slog.Logger) func(next http.Handler) http.Handler {
	if base == nil {
		base = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(Header)
			if _, err := uuid.Parse(id); err != nil {
				id = uuid.NewString()
			}
			w.Header().Set(Header, id)

			log := base.With("request_id", id)
			ctx := logging.WithLogger(r.Context(), log)
			m := httpsnoop.CaptureMetrics(next, w, r.WithContext(ctx))

			log.Info("request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", m.Code,
				"duration", m.Duration,
				"bytes", m.Written,
			)
		})
	}
}
