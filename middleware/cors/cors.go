package cors

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

type Options struct {
	// AllowedOrigin é obrigatório; vazio nunca casa com nada.
	AllowedOrigin string
	// Methods anunciados no preflight. Padrão: GET, HEAD, POST.
	Methods []string
	// MaxAge do preflight. 0 omite o header.
	MaxAge time.Duration
}

// Guard decide se a resposta recebe os headers CORS permissivos.
type Guard struct {
	origin  string
	methods string
	maxAge  string
}

func New(opts Options) *Guard {
	methods := opts.Methods
	if len(methods) == 0 {
		methods = []string{http.MethodGet, http.MethodHead, http.MethodPost}
	}
	g := &Guard{
		origin:  opts.AllowedOrigin,
		methods: strings.Join(methods, ", "),
	}
	if opts.MaxAge > 0 {
		g.maxAge = strconv.Itoa(int(opts.MaxAge / time.Second))
	}
	return g
}

// Allowed indica se origin é exatamente a origem configurada.
func (g *Guard) Allowed(origin string) bool {
	return g.origin != "" && origin == g.origin
}

func isPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
}

func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Add("Vary", "Origin")

		origin := r.Header.Get("Origin")
		allowed := g.Allowed(origin)
		if allowed {
			h.Set("Access-Control-Allow-Origin", origin)
		}

		if !isPreflight(r) {
			next.ServeHTTP(w, r)
			return
		}

		h.Add("Vary", "Access-Control-Request-Headers")
		if allowed {
			h.Set("Access-Control-Allow-Methods", g.methods)
			if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
				h.Set("Access-Control-Allow-Headers", reqHeaders)
			}
			if g.maxAge != "" {
				h.Set("Access-Control-Max-Age", g.maxAge)
			}
		}
		h.Set("Content-Length", "0")
		w.WriteHeader(http.StatusNoContent)
	})
}
