// Package infra contém implementações concretas para os contratos do pacote
// domain:
//   - MemoryStore: janela fixa por cliente em memória (padrão)
//   - RedisStore: janela fixa compartilhada via Redis (RATE_STORE=redis)
//   - GlobalLimiter: token bucket global via golang.org/x/time/rate
//   - ChanPool: semáforo das chamadas em voo ao webhook
//   - RedisStatsStore: contadores de decisões por motivo no Redis
package infra
