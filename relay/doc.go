// Package relay recebe o formulário do frontend e repassa ao webhook do n8n.
//
// Rotas:
//
//	GET  /healthz   200 {"status":"ok"}, sem rate limit
//	POST /api/send  repassa o corpo JSON ao webhook com um Bearer novo
//	GET  /metrics   métricas Prometheus (opcional)
//
// Respostas de /api/send:
//
//	200                {"success":true}
//	<status do n8n>    {"error":"Erreur de n8n"}
//	429                corpo do rate limit
//	500                {"error":"Erreur interne du serveur"}
//
// Detalhes de erro (corpo do n8n, falha de rede, falha de assinatura) ficam só
// no log do servidor.
package relay
