package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"n8n-relay/middleware/ratelimit/domain"
)

// fakeLimiter conta reservas e devoluções de token.
type fakeLimiter struct {
	allow    bool
	wait     time.Duration
	taken    int
	released int
}

func (f *fakeLimiter) Take() (bool, time.Duration, func()) {
	if !f.allow {
		return false, f.wait, func() {}
	}
	f.taken++
	return true, 0, func() { f.released++ }
}

// fakeStore devolve sempre o mesmo estado (ou erro).
type fakeStore struct {
	st   domain.WindowState
	err  error
	hits *int
}

func (s fakeStore) Hit(context.Context, domain.Key, time.Time) (domain.WindowState, error) {
	if s.hits != nil {
		*s.hits++
	}
	return s.st, s.err
}

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func fixedNow(d time.Duration) func() time.Time {
	return func() time.Time { return t0.Add(d) }
}

func TestService_Decide_AllowsWhenNoStore(t *testing.T) {
	svc := Service{}
	dec, err := svc.Decide(context.Background(), "k")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !dec.Allowed {
		t.Fatalf("expected allowed")
	}
	if dec.RetryAfter != 0 {
		t.Fatalf("expected RetryAfter=0 when allowed, got %s", dec.RetryAfter)
	}
}

func TestService_Decide_AllowsUpToMax(t *testing.T) {
	svc := Service{
		Store:  fakeStore{st: domain.WindowState{Count: 5, Start: t0}},
		Policy: domain.Policy{Max: 5, Window: 10 * time.Minute},
		Now:    fixedNow(time.Minute),
	}
	dec, err := svc.Decide(context.Background(), "k")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !dec.Allowed {
		t.Fatalf("expected 5th request to be allowed")
	}
	if dec.Remaining != 0 {
		t.Fatalf("expected Remaining=0, got %d", dec.Remaining)
	}
	if !dec.ResetAt.Equal(t0.Add(10 * time.Minute)) {
		t.Fatalf("unexpected ResetAt %s", dec.ResetAt)
	}
}

func TestService_Decide_BlocksAboveMaxUntilWindowEnds(t *testing.T) {
	svc := Service{
		Store:  fakeStore{st: domain.WindowState{Count: 6, Start: t0}},
		Policy: domain.Policy{Max: 5, Window: 10 * time.Minute},
		Now:    fixedNow(4 * time.Minute),
	}
	dec, _ := svc.Decide(context.Background(), "k")
	if dec.Allowed {
		t.Fatalf("expected blocked")
	}
	if dec.RetryAfter != 6*time.Minute {
		t.Fatalf("expected RetryAfter=6m, got %s", dec.RetryAfter)
	}
}

func TestService_Decide_RetryAfterHasFloorOfOneSecond(t *testing.T) {
	svc := Service{
		Store:  fakeStore{st: domain.WindowState{Count: 9, Start: t0}},
		Policy: domain.Policy{Max: 5, Window: 10 * time.Minute},
		Now:    fixedNow(10*time.Minute - 10*time.Millisecond),
	}
	dec, _ := svc.Decide(context.Background(), "k")
	if dec.RetryAfter != time.Second {
		t.Fatalf("expected RetryAfter=1s, got %s", dec.RetryAfter)
	}
}

func TestService_Decide_FailsOpenOnStoreError(t *testing.T) {
	boom := errors.New("boom")
	svc := Service{
		Store:  fakeStore{err: boom},
		Policy: domain.Policy{Max: 5, Window: time.Minute},
	}
	dec, err := svc.Decide(context.Background(), "k")
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
	if !dec.Allowed || dec.Reason != domain.ReasonFailOpen {
		t.Fatalf("expected fail-open decision, got %+v", dec)
	}
}

func TestService_Decide_GlobalLimiterBlocksWithoutCountingKey(t *testing.T) {
	hits := 0
	svc := Service{
		Store:            fakeStore{st: domain.WindowState{Count: 1, Start: t0}, hits: &hits},
		Policy:           domain.Policy{Max: 5, Window: time.Minute},
		Global:           &fakeLimiter{allow: false},
		GlobalRetryAfter: 2500 * time.Millisecond,
		Now:              fixedNow(0),
	}
	dec, err := svc.Decide(context.Background(), "k")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dec.Allowed {
		t.Fatalf("expected blocked by global limiter")
	}
	if dec.RetryAfter != 2500*time.Millisecond {
		t.Fatalf("expected RetryAfter=2.5s, got %s", dec.RetryAfter)
	}
	if hits != 0 {
		t.Fatalf("expected key window untouched, got %d hits", hits)
	}
	if dec.Reason != domain.ReasonGlobal {
		t.Fatalf("expected reason global, got %q", dec.Reason)
	}
	if dec.Limit != 0 || dec.Remaining != 0 {
		t.Fatalf("expected no window info on global denial, got limit=%d remaining=%d", dec.Limit, dec.Remaining)
	}
}

func TestService_Decide_GlobalWaitBecomesRetryAfter(t *testing.T) {
	svc := Service{
		Store:            fakeStore{st: domain.WindowState{Count: 1, Start: t0}},
		Policy:           domain.Policy{Max: 5, Window: time.Minute},
		Global:           &fakeLimiter{allow: false, wait: 7 * time.Second},
		GlobalRetryAfter: time.Second,
		Now:              fixedNow(0),
	}
	dec, _ := svc.Decide(context.Background(), "k")
	if dec.RetryAfter != 7*time.Second {
		t.Fatalf("expected RetryAfter=7s, got %s", dec.RetryAfter)
	}
}

func TestService_Decide_KeyBlockedReturnsGlobalToken(t *testing.T) {
	global := &fakeLimiter{allow: true}
	svc := Service{
		Store:  fakeStore{st: domain.WindowState{Count: 6, Start: t0}},
		Policy: domain.Policy{Max: 5, Window: time.Minute},
		Global: global,
		Now:    fixedNow(0),
	}
	dec, _ := svc.Decide(context.Background(), "k")
	if dec.Allowed || dec.Reason != domain.ReasonClientWindow {
		t.Fatalf("expected key to be blocked by its window, got %+v", dec)
	}
	if global.taken != 1 || global.released != 1 {
		t.Fatalf("expected token taken and released once, got taken=%d released=%d", global.taken, global.released)
	}
}

func TestService_Decide_AllowedKeepsGlobalToken(t *testing.T) {
	global := &fakeLimiter{allow: true}
	svc := Service{
		Store:  fakeStore{st: domain.WindowState{Count: 2, Start: t0}},
		Policy: domain.Policy{Max: 5, Window: time.Minute},
		Global: global,
		Now:    fixedNow(0),
	}
	dec, _ := svc.Decide(context.Background(), "k")
	if !dec.Allowed {
		t.Fatalf("expected allowed")
	}
	if global.released != 0 {
		t.Fatalf("expected token kept, got %d releases", global.released)
	}
}
