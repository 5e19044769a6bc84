package application

import (
	"context"
	"time"

	"n8n-relay/middleware/ratelimit/domain"
)

// ConcurrencyService decide se uma chamada ao webhook ganha vaga, sem saber
// nada sobre HTTP.
type ConcurrencyService struct {
	Pool domain.SlotPool
	// AcquireTimeout <= 0 espera enquanto o ctx da requisição viver.
	AcquireTimeout time.Duration
	Observer       domain.SlotObserver
	Now            func() time.Time
}

// Acquire devolve release quando conseguiu vaga. Os erros distinguem quem
// desistiu: domain.ErrNoSlot quando o timeout de aquisição venceu, ou o erro
// do ctx quando o cliente foi embora antes.
func (s ConcurrencyService) Acquire(ctx context.Context) (func(), error) {
	if s.Pool == nil {
		return func() {}, nil
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}

	acqCtx := ctx
	if s.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		acqCtx, cancel = context.WithTimeout(ctx, s.AcquireTimeout)
		defer cancel()
	}

	start := now()
	release, ok := s.Pool.Acquire(acqCtx)
	if s.Observer != nil {
		s.Observer.ObserveSlotWait(now().Sub(start), ok)
	}
	if !ok {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, domain.ErrNoSlot
	}

	if s.Observer == nil {
		return release, nil
	}
	s.Observer.SlotAcquired()
	return func() {
		release()
		s.Observer.SlotReleased()
	}, nil
}
