package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"context"
	"time"
)

// Key identifica o cliente (normalmente o IP de origem).
type Key string

// Policy é a regra de janela fixa: no máximo Max requisições aceitas por Key
// a cada Window.
type Policy struct {
	Max    int
	Window time.Duration
}

// Valid indica se a política consegue limitar alguma coisa.
func (p Policy) Valid() bool { return p.Max > 0 && p.Window > 0 }

// WindowState é o estado da janela corrente de uma Key depois de contabilizar
// uma requisição.
type WindowState struct {
	// Count já inclui a requisição que acabou de ser contabilizada.
	Count int
	Start time.Time
}

// WindowStore contabiliza uma requisição para a Key e devolve o estado da janela.
//
// A implementação decide quando a janela expira (a partir da Policy que recebeu
// na construção) e pode despejar chaves expiradas de forma preguiçosa.
type WindowStore interface {
	Hit(ctx context.Context, key Key, now time.Time) (WindowState, error)
}

// Limiter é o limite global (token bucket via golang.org/x/time/rate).
//
// Take reserva um token agora. Sem token, ok=false e wait diz quanto falta
// para o próximo. Com token, release devolve a reserva ao bucket quando a
// requisição acaba não seguindo adiante.
type Limiter interface {
	Take() (ok bool, wait time.Duration, release func())
}

// Reason diz por que uma Decision saiu como saiu.
type Reason string

const (
	ReasonAllowed Reason = "allowed"
	// ReasonClientWindow: a Key esgotou a janela dela.
	ReasonClientWindow Reason = "client_window"
	// ReasonGlobal: o limite global recusou; a janela da Key não foi tocada.
	ReasonGlobal Reason = "global"
	// ReasonFailOpen: o store falhou e a requisição seguiu mesmo assim.
	ReasonFailOpen Reason = "fail_open"
)

type Decision struct {
	Allowed   bool
	Reason    Reason
	Limit     int
	Remaining int
	// RetryAfter é o valor a ser retornado em Retry-After quando bloquear.
	// Se 0, não há recomendação.
	RetryAfter time.Duration
	ResetAt    time.Time
}
