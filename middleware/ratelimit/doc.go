// Package ratelimit fornece os middlewares net/http que protegem a rota de
// envio do relay: janela fixa por cliente, limite global opcional e limite de
// concorrência.
//
// Camadas:
//
//   - domain: contratos e tipos (sem net/http)
//   - application: decisão (com motivo) e acquire com timeout (sem net/http)
//   - infra: janela em memória/Redis, token bucket global, semáforo, estatísticas
//   - ratelimit (este pacote): extração da chave do cliente + tradução para status/headers
//
// Fluxo:
//
//  1. Extrai a chave do cliente (RemoteAddr ou primeiro IP do X-Forwarded-For)
//  2. Pede a decisão à camada application
//  3. Se bloqueado, responde 429 com Retry-After (ou 503 no limite de concorrência)
//  4. Se permitido, chama o próximo handler
//
// O estado em memória é local ao processo e se perde no restart.
package ratelimit
