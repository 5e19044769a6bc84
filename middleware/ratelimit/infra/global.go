package infra

import (
	"time"

	"golang.org/x/time/rate"
)

// GlobalLimiter é um token bucket (x/time/rate) compartilhado por todos os
// clientes. Ele limita a vazão total que chega ao webhook, independente de
// quantos IPs diferentes estão enviando.
type GlobalLimiter struct {
	lim *rate.Limiter
}

// NewGlobalLimiter devolve nil quando rps <= 0 (limite global desligado).
func NewGlobalLimiter(rps float64, burst int) *GlobalLimiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &GlobalLimiter{lim: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Take implementa domain.Limiter com uma Reservation: se o token não está
// disponível agora a reserva é cancelada na hora, senão Cancel fica como
// release.
func (g *GlobalLimiter) Take() (bool, time.Duration, func()) {
	r := g.lim.Reserve()
	if !r.OK() {
		return false, 0, func() {}
	}
	if wait := r.Delay(); wait > 0 {
		r.Cancel()
		return false, wait, func() {}
	}
	return true, 0, r.Cancel
}

func (g *GlobalLimiter) RPS() float64 { return float64(g.lim.Limit()) }
func (g *GlobalLimiter) Burst() int   { return g.lim.Burst() }
