package infra

import (
	"context"
	"sync"

	"n8n-relay/middleware/ratelimit/domain"
)

// ChanPool é o semáforo das chamadas em voo para o webhook: cada vaga é um
// slot no channel.
type ChanPool struct {
	sem chan struct{}
}

var _ domain.SlotPool = (*ChanPool)(nil)

// NewChanPool cria um pool com size vagas (mínimo 1).
func NewChanPool(size int) *ChanPool {
	if size < 1 {
		size = 1
	}
	return &ChanPool{sem: make(chan struct{}, size)}
}

// Acquire tenta primeiro sem bloquear, para que um ctx já encerrado não
// perca uma vaga livre na corrida do select.
func (p *ChanPool) Acquire(ctx context.Context) (func(), bool) {
	select {
	case p.sem <- struct{}{}:
		return p.releaseOnce(), true
	default:
	}

	select {
	case p.sem <- struct{}{}:
		return p.releaseOnce(), true
	case <-ctx.Done():
		return nil, false
	}
}

// releaseOnce tolera release duplicado: um segundo <-p.sem roubaria a vaga
// de outra chamada.
func (p *ChanPool) releaseOnce() func() {
	var once sync.Once
	return func() { once.Do(func() { <-p.sem }) }
}

func (p *ChanPool) InFlight() int { return len(p.sem) }
func (p *ChanPool) Cap() int      { return cap(p.sem) }
