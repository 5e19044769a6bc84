package infra

import (
	"context"
	"sync"
	"time"

	"n8n-relay/middleware/ratelimit/domain"
)

// MemoryStore é a janela fixa em memória: identidade -> (contador, início).
//
// Chaves cuja janela expirou são recriadas no próximo Hit (despejo preguiçoso).
// StartJanitor é opcional e só existe para devolver memória de clientes que
// nunca mais voltaram.
type MemoryStore struct {
	mu           sync.Mutex
	entries      map[string]*window
	window       time.Duration
	cleanupEvery time.Duration
	now          func() time.Time
}

type window struct {
	count int
	start time.Time
}

type StoreOption func(*MemoryStore)

// WithCleanupEvery define o intervalo do janitor. <= 0 desliga o janitor e
// deixa só o despejo preguiçoso.
func WithCleanupEvery(d time.Duration) StoreOption {
	return func(s *MemoryStore) { s.cleanupEvery = d }
}

// WithClock troca o relógio usado pelo Cleanup (testes).
func WithClock(now func() time.Time) StoreOption {
	return func(s *MemoryStore) { s.now = now }
}

func NewMemoryStore(windowSize time.Duration, opts ...StoreOption) *MemoryStore {
	s := &MemoryStore{
		entries:      make(map[string]*window),
		window:       windowSize,
		cleanupEvery: 2 * time.Minute,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Window() time.Duration       { return s.window }
func (s *MemoryStore) CleanupEvery() time.Duration { return s.cleanupEvery }

// Hit implementa domain.WindowStore.
func (s *MemoryStore) Hit(_ context.Context, key domain.Key, now time.Time) (domain.WindowState, error) {
	k := string(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.entries[k]
	if !ok || !now.Before(w.start.Add(s.window)) {
		w = &window{start: now}
		s.entries[k] = w
	}
	w.count++
	return domain.WindowState{Count: w.count, Start: w.start}, nil
}

// Len devolve quantas identidades estão sendo contabilizadas.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Cleanup remove as janelas já expiradas.
func (s *MemoryStore) Cleanup() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, w := range s.entries {
		if !now.Before(w.start.Add(s.window)) {
			delete(s.entries, k)
		}
	}
}

// StartJanitor inicia uma goroutine que chama Cleanup periodicamente.
// Pare cancelando o contexto.
func (s *MemoryStore) StartJanitor(ctx context.Context) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}
