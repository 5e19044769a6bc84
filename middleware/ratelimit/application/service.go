package application

import (
	"context"
	"fmt"
	"time"

	"n8n-relay/middleware/ratelimit/domain"
)

// Service concentra a regra de aplicação do rate limit por janela fixa.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna uma decisão.
type Service struct {
	Store  domain.WindowStore
	Policy domain.Policy
	// Global é opcional: um limite compartilhado por todos os clientes.
	Global domain.Limiter
	// GlobalRetryAfter é a recomendação quando o bloqueio vem do limite global
	// e o Limiter não sabe dizer quanto falta.
	GlobalRetryAfter time.Duration
	Now              func() time.Time
}

// Decide contabiliza a requisição de key e decide se ela pode seguir.
//
// Em caso de erro do store a decisão é Allowed=true junto com o erro: o rate
// limit protege contra abuso, não é fronteira de segurança.
//
// O token global é reservado antes da janela da Key: uma recusa global não
// gasta a cota do cliente, e uma recusa da Key devolve o token global.
func (s Service) Decide(ctx context.Context, key domain.Key) (domain.Decision, error) {
	if s.Store == nil || !s.Policy.Valid() {
		return domain.Decision{Allowed: true, Reason: domain.ReasonAllowed}, nil
	}
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}

	release := func() {}
	if s.Global != nil {
		ok, wait, rel := s.Global.Take()
		if !ok {
			// Limit=0: a janela da Key não foi tocada, não há Remaining a informar.
			return domain.Decision{Reason: domain.ReasonGlobal, RetryAfter: s.globalRetry(wait)}, nil
		}
		release = rel
	}

	st, err := s.Store.Hit(ctx, key, now)
	if err != nil {
		return domain.Decision{Allowed: true, Reason: domain.ReasonFailOpen, Limit: s.Policy.Max, Remaining: s.Policy.Max},
			fmt.Errorf("rate limit store: %w", err)
	}

	resetAt := st.Start.Add(s.Policy.Window)
	dec := domain.Decision{
		Allowed:   st.Count <= s.Policy.Max,
		Reason:    domain.ReasonAllowed,
		Limit:     s.Policy.Max,
		Remaining: max(s.Policy.Max-st.Count, 0),
		ResetAt:   resetAt,
	}
	if !dec.Allowed {
		release()
		dec.Reason = domain.ReasonClientWindow
		dec.RetryAfter = max(resetAt.Sub(now), time.Second)
	}
	return dec, nil
}

func (s Service) globalRetry(wait time.Duration) time.Duration {
	if wait <= 0 {
		wait = s.GlobalRetryAfter
	}
	return max(wait, time.Second)
}
