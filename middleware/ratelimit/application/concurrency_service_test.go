package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"n8n-relay/middleware/ratelimit/domain"
)

type blockingPool struct{}

func (p *blockingPool) Acquire(ctx context.Context) (func(), bool) {
	<-ctx.Done()
	return nil, false
}
func (p *blockingPool) InFlight() int { return 1 }
func (p *blockingPool) Cap() int      { return 1 }

type immediatePool struct {
	acquired int
	released int
}

func (p *immediatePool) Acquire(context.Context) (func(), bool) {
	p.acquired++
	return func() { p.released++ }, true
}
func (p *immediatePool) InFlight() int { return p.acquired - p.released }
func (p *immediatePool) Cap() int      { return 10 }

type slotEvents struct {
	waits    []bool
	inFlight int
}

func (o *slotEvents) ObserveSlotWait(_ time.Duration, acquired bool) {
	o.waits = append(o.waits, acquired)
}
func (o *slotEvents) SlotAcquired() { o.inFlight++ }
func (o *slotEvents) SlotReleased() { o.inFlight-- }

func TestConcurrencyService_Acquire_AllowsWhenNoPool(t *testing.T) {
	svc := ConcurrencyService{}
	release, err := svc.Acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	release()
}

func TestConcurrencyService_Acquire_TimeoutIsNoSlot(t *testing.T) {
	svc := ConcurrencyService{Pool: &blockingPool{}, AcquireTimeout: 10 * time.Millisecond}

	_, err := svc.Acquire(context.Background())
	if !errors.Is(err, domain.ErrNoSlot) {
		t.Fatalf("expected ErrNoSlot, got %v", err)
	}
}

func TestConcurrencyService_Acquire_ClientGoneIsContextError(t *testing.T) {
	svc := ConcurrencyService{Pool: &blockingPool{}, AcquireTimeout: time.Minute}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Acquire(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if errors.Is(err, domain.ErrNoSlot) {
		t.Fatalf("client disconnect must not look like a full pool")
	}
}

func TestConcurrencyService_Acquire_ObserverTracksInFlight(t *testing.T) {
	pool := &immediatePool{}
	obs := &slotEvents{}
	svc := ConcurrencyService{Pool: pool, Observer: obs}

	release, err := svc.Acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obs.inFlight != 1 {
		t.Fatalf("expected 1 in flight, got %d", obs.inFlight)
	}
	release()
	if obs.inFlight != 0 || pool.released != 1 {
		t.Fatalf("expected slot released, in flight=%d released=%d", obs.inFlight, pool.released)
	}
	if len(obs.waits) != 1 || !obs.waits[0] {
		t.Fatalf("expected one successful wait, got %v", obs.waits)
	}
}

func TestConcurrencyService_Acquire_ObserverSeesFailedWait(t *testing.T) {
	obs := &slotEvents{}
	svc := ConcurrencyService{Pool: &blockingPool{}, AcquireTimeout: time.Millisecond, Observer: obs}

	_, _ = svc.Acquire(context.Background())
	if len(obs.waits) != 1 || obs.waits[0] {
		t.Fatalf("expected one failed wait, got %v", obs.waits)
	}
	if obs.inFlight != 0 {
		t.Fatalf("failed acquire must not count as in flight")
	}
}
