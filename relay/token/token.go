// Package token emite os JWT de curta duração que autenticam o relay junto ao
// webhook do n8n.
//
// Cada chamada a Issue gera um token novo (HS256, iat, exp = iat + 2 min e um
// jti aleatório). Tokens nunca são reaproveitados, guardados ou logados.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwt"
)

// TTL é a validade de todo token emitido.
const TTL = 2 * time.Minute

// ErrMissingKey indica que o segredo de assinatura está vazio.
var ErrMissingKey = errors.New("token: signing key is empty")

// Issuer assina tokens com o segredo compartilhado com o webhook.
type Issuer struct {
	key []byte
	now func() time.Time
}

type Option func(*Issuer)

// WithClock troca o relógio usado para iat/exp.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

func NewIssuer(secret []byte, opts ...Option) (*Issuer, error) {
	if len(secret) == 0 {
		return nil, ErrMissingKey
	}
	i := &Issuer{
		key: append([]byte(nil), secret...),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Issue devolve um JWS compacto novo. Qualquer falha de assinatura volta como
// erro: sem token válido o webhook recusa a chamada.
func (i *Issuer) Issue() (string, error) {
	if i == nil || len(i.key) == 0 {
		return "", ErrMissingKey
	}

	iat := i.now().Truncate(time.Second)
	tok, err := jwt.NewBuilder().
		IssuedAt(iat).
		Expiration(iat.Add(TTL)).
		JwtID(uuid.NewString()).
		Build()
	if err != nil {
		return "", fmt.Errorf("token: build claims: %w", err)
	}

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256(), i.key))
	if err != nil {
		return "", fmt.Errorf("token: sign: %w", err)
	}
	return string(signed), nil
}

// Verify confere assinatura HS256 e validade (exp/iat) de raw no instante now.
// É o que o webhook faz do outro lado; aqui serve para testes e para o
// cmd/webhook-echo.
func Verify(raw string, secret []byte, now time.Time) (jwt.Token, error) {
	if len(secret) == 0 {
		return nil, ErrMissingKey
	}
	tok, err := jwt.Parse([]byte(raw),
		jwt.WithKey(jwa.HS256(), secret),
		jwt.WithValidate(true),
		jwt.WithClock(jwt.ClockFunc(func() time.Time { return now })),
	)
	if err != nil {
		return nil, fmt.Errorf("token: verify: %w", err)
	}
	return tok, nil
}
