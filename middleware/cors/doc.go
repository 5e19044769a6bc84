// Package cors é o guarda de origem do relay.
//
// Uma única origem permitida, comparada por igualdade exata (sem curingas).
// Quando o header Origin bate, a resposta recebe Access-Control-Allow-Origin;
// quando não bate, a resposta sai sem nenhum header permissivo e quem bloqueia
// é o navegador.
//
// Limitação: o guarda não bloqueia nada na rede. Clientes que não são
// navegadores (curl, scripts) ignoram CORS e chegam ao handler com qualquer
// Origin ou sem Origin. A proteção contra esses clientes é o rate limit, não
// este pacote.
//
// Preflights (OPTIONS com Access-Control-Request-Method) são respondidos aqui
// com 204 e não chegam ao rate limit nem ao relay.
package cors
