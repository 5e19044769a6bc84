package domain

import (
	"context"
	"errors"
	"time"
)

// ErrNoSlot indica que a espera por vaga estourou o timeout de aquisição.
var ErrNoSlot = errors.New("no relay slot available")

// SlotPool limita quantas chamadas ao webhook ficam em voo ao mesmo tempo.
//
// Acquire bloqueia até conseguir uma vaga ou até o ctx encerrar. Com ok=true,
// release deve ser chamado exatamente uma vez.
type SlotPool interface {
	Acquire(ctx context.Context) (release func(), ok bool)
	InFlight() int
	Cap() int
}

// SlotObserver acompanha o pool: tempo de espera de cada aquisição (com ou
// sem sucesso) e entrada/saída de chamadas em voo.
type SlotObserver interface {
	ObserveSlotWait(d time.Duration, acquired bool)
	SlotAcquired()
	SlotReleased()
}
