package relay

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"n8n-relay/logging"
	"n8n-relay/middleware/requestid"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultBodyLimit é o limite padrão de corpo (1 MiB), o mesmo do Fastify.
const DefaultBodyLimit int64 = 1 << 20

type Middleware = func(http.Handler) http.Handler

type RouterOptions struct {
	Relay *Handler
	// Guard envolve todas as rotas (responde preflights).
	Guard Middleware
	// SendMiddlewares envolvem só POST /api/send, na ordem dada
	// (o primeiro é o mais externo).
	SendMiddlewares []Middleware
	BodyLimit       int64
	Metrics         *Metrics
	// MetricsPath vazio desliga /metrics.
	MetricsPath string
	Logger      *slog.Logger
}

// NewRouter monta: request id -> otelhttp -> guarda de origem -> rotas.
func NewRouter(o RouterOptions) http.Handler {
	if o.BodyLimit <= 0 {
		o.BodyLimit = DefaultBodyLimit
	}

	var send http.Handler = &sendHandler{relay: o.Relay, limit: o.BodyLimit, metrics: o.Metrics}
	for i := len(o.SendMiddlewares) - 1; i >= 0; i-- {
		send = o.SendMiddlewares[i](send)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /healthz", Health())
	// o mux responde 405 (com Allow) aos outros métodos antes do rate limit.
	mux.Handle("POST /api/send", send)
	if o.MetricsPath != "" && o.Metrics != nil {
		mux.Handle("GET "+o.MetricsPath, o.Metrics.Handler())
	}

	var h http.Handler = mux
	if o.Guard != nil {
		h = o.Guard(h)
	}
	h = otelhttp.NewHandler(h, "n8n-relay")
	return requestid.Middleware(o.Logger)(h)
}

// Health responde sempre 200 {"status":"ok"}; não depende do webhook.
func Health() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, struct {
			Status string `json:"status"`
		}{Status: "ok"})
	})
}

type sendHandler struct {
	relay   *Handler
	limit   int64
	metrics *Metrics
}

func (s *sendHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.limit))
	if err != nil {
		s.metrics.RecordOutcome(OutcomeBadRequest)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: MsgBodyTooLarge})
			return
		}
		logging.FromContext(r.Context()).Warn("read request body failed", "error", err)
		writeJSON(w, http.StatusBadRequest, errorBody{Error: MsgInvalidJSON})
		return
	}
	// sem validação de schema: só exige JSON bem formado, como o parser
	// JSON do Fastify.
	if !json.Valid(payload) {
		s.metrics.RecordOutcome(OutcomeBadRequest)
		writeJSON(w, http.StatusBadRequest, errorBody{Error: MsgInvalidJSON})
		return
	}

	res := s.relay.Handle(r.Context(), payload)
	writeJSON(w, res.Status, res.Body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
