package domain

import (
	"context"
	"time"
)

// StatsEvent é uma decisão do rate limit sobre uma chamada ao relay.
//
// Key só deve virar chave/label em stores que controlam cardinalidade.
type StatsEvent struct {
	Key    Key
	Reason Reason
	At     time.Time
}

// Allowed indica se a requisição seguiu para o webhook.
func (ev StatsEvent) Allowed() bool {
	return ev.Reason == ReasonAllowed || ev.Reason == ReasonFailOpen
}

// StatsStore recebe as decisões do rate limit. Erros são best-effort: o
// middleware só loga.
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}

// MultiStats envia o mesmo evento para vários StatsStore e devolve o primeiro erro.
type MultiStats []StatsStore

func (m MultiStats) Record(ctx context.Context, ev StatsEvent) error {
	var first error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
