package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"n8n-relay/logging"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Mensagens devolvidas ao frontend. Nunca carregam detalhe do erro.
const (
	MsgUpstreamError = "Erreur de n8n"
	MsgInternalError = "Erreur interne du serveur"
	MsgInvalidJSON   = "Corps JSON invalide"
	MsgBodyTooLarge  = "Corps de requête trop volumineux"
)

// Resultados registrados em relay_requests_total.
const (
	OutcomeRelayed       = "relayed"
	OutcomeUpstreamError = "upstream_error"
	OutcomeInternalError = "internal_error"
	OutcomeBadRequest    = "bad_request"
)

const DefaultTimeout = 10 * time.Second

// TokenIssuer emite o Bearer de cada chamada ao webhook.
type TokenIssuer interface {
	Issue() (string, error)
}

type successBody struct {
	Success bool `json:"success"`
}

type errorBody struct {
	Error string `json:"error"`
}

// Result é a resposta normalizada de um repasse.
type Result struct {
	Status  int
	Body    any
	Outcome string
}

type Config struct {
	Issuer      TokenIssuer
	UpstreamURL string
	// Client é opcional; o padrão usa o transporte instrumentado com otelhttp.
	Client *http.Client
	// Timeout limita a chamada ao webhook. <= 0 usa DefaultTimeout.
	Timeout time.Duration
	Metrics *Metrics
}

// Handler faz exatamente uma chamada ao webhook por Handle, sem retry.
type Handler struct {
	issuer   TokenIssuer
	upstream string
	client   *http.Client
	timeout  time.Duration
	metrics  *Metrics
}

func NewHandler(cfg Config) (*Handler, error) {
	if cfg.Issuer == nil {
		return nil, errors.New("relay: token issuer is required")
	}
	u, err := url.Parse(cfg.UpstreamURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("relay: invalid upstream url %q", cfg.UpstreamURL)
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Handler{
		issuer:   cfg.Issuer,
		upstream: u.String(),
		client:   client,
		timeout:  timeout,
		metrics:  cfg.Metrics,
	}, nil
}

// Handle repassa payload ao webhook, byte a byte, com um token novo.
func (h *Handler) Handle(ctx context.Context, payload []byte) Result {
	log := logging.FromContext(ctx)

	res, err := h.forward(ctx, payload)
	if err != nil {
		log.Error("relay to webhook failed", "error", err)
		res = Result{
			Status:  http.StatusInternalServerError,
			Body:    errorBody{Error: MsgInternalError},
			Outcome: OutcomeInternalError,
		}
	}
	h.metrics.RecordOutcome(res.Outcome)
	return res
}

func (h *Handler) forward(ctx context.Context, payload []byte) (Result, error) {
	tok, err := h.issuer.Issue()
	if err != nil {
		return Result{}, fmt.Errorf("issue token: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.upstream, bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok)

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		h.metrics.ObserveUpstream("error", time.Since(start))
		return Result{}, fmt.Errorf("call upstream: %w", err)
	}
	defer resp.Body.Close()
	// o corpo do n8n nunca vai para o cliente; só drena para reaproveitar a conexão.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	h.metrics.ObserveUpstream(statusClass(resp.StatusCode), time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logging.FromContext(ctx).Warn("webhook answered with non-success status", "status", resp.StatusCode)
		return Result{
			Status:  resp.StatusCode,
			Body:    errorBody{Error: MsgUpstreamError},
			Outcome: OutcomeUpstreamError,
		}, nil
	}
	return Result{
		Status:  http.StatusOK,
		Body:    successBody{Success: true},
		Outcome: OutcomeRelayed,
	}, nil
}

func statusClass(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}
