// Package application contém os casos de uso do rate limit e do limite de
// concorrência do relay.
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: Service.Decide(ctx, key) retorna uma Decision (allow/deny + retry-after).
package application
