package relay

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"n8n-relay/middleware/cors"
	"n8n-relay/middleware/ratelimit"
	"n8n-relay/middleware/ratelimit/domain"
	"n8n-relay/middleware/ratelimit/infra"
	"n8n-relay/relay/token"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

const frontOrigin = "https://forms.example.fr"

type fixture struct {
	router   http.Handler
	upstream *capture
	metrics  *Metrics
}

func newFixture(t *testing.T, status int) *fixture {
	t.Helper()
	c := &capture{status: status}
	up := httptest.NewServer(c.handler())
	t.Cleanup(up.Close)

	metrics := NewMetrics()
	h := newTestHandler(t, up.URL, func(cfg *Config) { cfg.Metrics = metrics })

	router := NewRouter(RouterOptions{
		Relay: h,
		Guard: cors.New(cors.Options{AllowedOrigin: frontOrigin}).Middleware,
		SendMiddlewares: []Middleware{
			ratelimit.Middleware(ratelimit.Options{
				Store:  infra.NewMemoryStore(10 * time.Minute),
				Policy: domain.Policy{Max: 5, Window: 10 * time.Minute},
				Stats:  metrics,
			}),
			ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{Max: 4, Observer: metrics}),
		},
		Metrics:     metrics,
		MetricsPath: "/metrics",
	})
	return &fixture{router: router, upstream: c, metrics: metrics}
}

func (f *fixture) do(method, path, origin, body string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, "http://relay"+path, strings.NewReader(body))
	r.RemoteAddr = "203.0.113.7:40000"
	if origin != "" {
		r.Header.Set("Origin", origin)
	}
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestRouter_SendSuccess(t *testing.T) {
	f := newFixture(t, http.StatusOK)

	w := f.do(http.MethodPost, "/api/send", frontOrigin, `{"email":"a@b.fr"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]any{"success": true}, decode(t, w))
	assert.Equal(t, frontOrigin, w.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
	assert.Equal(t, `{"email":"a@b.fr"}`, string(f.upstream.snapshot().body))
}

func TestRouter_OtherOriginGetsNoCORSHeaders(t *testing.T) {
	f := newFixture(t, http.StatusOK)

	w := f.do(http.MethodPost, "/api/send", "https://evil.example", `{}`)

	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_UpstreamErrorIsGeneric(t *testing.T) {
	f := newFixture(t, http.StatusServiceUnavailable)

	w := f.do(http.MethodPost, "/api/send", frontOrigin, `{}`)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, map[string]any{"error": "Erreur de n8n"}, decode(t, w))
	assert.NotContains(t, w.Body.String(), "stack trace")
}

func TestRouter_SixthRequestIsRateLimited(t *testing.T) {
	f := newFixture(t, http.StatusOK)

	for i := 1; i <= 5; i++ {
		w := f.do(http.MethodPost, "/api/send", frontOrigin, `{}`)
		require.Equal(t, http.StatusOK, w.Code, "request %d", i)
	}

	w := f.do(http.MethodPost, "/api/send", frontOrigin, `{}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, 5, f.upstream.snapshot().calls)

	// healthz fica fora do rate limit.
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/healthz", "", "").Code)
}

func TestRouter_PreflightDoesNotReachRelay(t *testing.T) {
	f := newFixture(t, http.StatusOK)

	r := httptest.NewRequest(http.MethodOptions, "http://relay/api/send", nil)
	r.Header.Set("Origin", frontOrigin)
	r.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, r)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, frontOrigin, w.Header().Get("Access-Control-Allow-Origin"))
	assert.Zero(t, f.upstream.snapshot().calls)
}

func TestRouter_InvalidJSONRejected(t *testing.T) {
	f := newFixture(t, http.StatusOK)

	w := f.do(http.MethodPost, "/api/send", frontOrigin, `{"nom":`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, map[string]any{"error": MsgInvalidJSON}, decode(t, w))
	assert.Zero(t, f.upstream.snapshot().calls)
}

func TestRouter_BodyLimit(t *testing.T) {
	c := &capture{}
	up := httptest.NewServer(c.handler())
	defer up.Close()

	router := NewRouter(RouterOptions{Relay: newTestHandler(t, up.URL), BodyLimit: 16})
	r := httptest.NewRequest(http.MethodPost, "http://relay/api/send", strings.NewReader(`{"message":"`+strings.Repeat("x", 64)+`"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Zero(t, c.snapshot().calls)
}

func TestRouter_SendRequiresPost(t *testing.T) {
	f := newFixture(t, http.StatusOK)

	w := f.do(http.MethodGet, "/api/send", frontOrigin, "")

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, http.MethodPost, w.Header().Get("Allow"))
}

func TestRouter_WrongMethodDoesNotSpendQuota(t *testing.T) {
	f := newFixture(t, http.StatusOK)

	for i := 0; i < 6; i++ {
		require.Equal(t, http.StatusMethodNotAllowed, f.do(http.MethodGet, "/api/send", frontOrigin, "").Code)
	}
	for i := 1; i <= 5; i++ {
		w := f.do(http.MethodPost, "/api/send", frontOrigin, `{}`)
		require.Equal(t, http.StatusOK, w.Code, "request %d", i)
	}
	assert.Equal(t, 5, f.upstream.snapshot().calls)
}

func TestRouter_HealthzIgnoresUpstream(t *testing.T) {
	up := httptest.NewServer(http.NotFoundHandler())
	url := up.URL
	up.Close()

	router := NewRouter(RouterOptions{Relay: newTestHandler(t, url)})
	for i := 0; i < 10; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://relay/healthz", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	}
}

func TestRouter_UnreachableUpstream(t *testing.T) {
	up := httptest.NewServer(http.NotFoundHandler())
	url := up.URL
	up.Close()

	router := NewRouter(RouterOptions{Relay: newTestHandler(t, url)})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "http://relay/api/send", strings.NewReader(`{}`)))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"Erreur interne du serveur"}`, w.Body.String())
}

func TestRouter_MetricsExposed(t *testing.T) {
	f := newFixture(t, http.StatusOK)
	f.do(http.MethodPost, "/api/send", frontOrigin, `{}`)

	w := f.do(http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	body, _ := io.ReadAll(w.Body)
	assert.Contains(t, string(body), `relay_requests_total{outcome="relayed"} 1`)
	assert.Contains(t, string(body), `relay_ratelimit_decisions_total{decision="allowed"} 1`)
	assert.Contains(t, string(body), `relay_slot_wait_seconds_count{acquired="true"} 1`)
	assert.Contains(t, string(body), "relay_inflight_requests 0")
}

func TestRouter_MetricsCountDenialsByReason(t *testing.T) {
	f := newFixture(t, http.StatusOK)
	for i := 0; i < 7; i++ {
		f.do(http.MethodPost, "/api/send", frontOrigin, `{}`)
	}

	body := f.do(http.MethodGet, "/metrics", "", "").Body.String()
	assert.Contains(t, body, `relay_ratelimit_decisions_total{decision="allowed"} 5`)
	assert.Contains(t, body, `relay_ratelimit_decisions_total{decision="client_window"} 2`)
	assert.Contains(t, body, `relay_slot_wait_seconds_count{acquired="true"} 5`)
}

// Para qualquer JSON aceito, o webhook recebe exatamente os mesmos bytes e um
// token válido.
func TestRouter_PayloadPassThroughProperty(t *testing.T) {
	c := &capture{}
	up := httptest.NewServer(c.handler())
	defer up.Close()

	router := NewRouter(RouterOptions{Relay: newTestHandler(t, up.URL)})

	rapid.Check(t, func(rt *rapid.T) {
		fields := rapid.MapOf(
			rapid.StringMatching(`[a-zA-Z_][a-zA-Z0-9_]{0,12}`),
			rapid.OneOf(
				rapid.Map(rapid.String(), func(s string) any { return s }),
				rapid.Map(rapid.Int(), func(i int) any { return i }),
				rapid.Map(rapid.Bool(), func(b bool) any { return b }),
			),
		).Draw(rt, "fields")
		payload, err := json.Marshal(fields)
		if err != nil {
			rt.Fatalf("marshal: %v", err)
		}
		if rapid.Bool().Draw(rt, "indent") {
			payload, _ = json.MarshalIndent(fields, "", "  ")
		}

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "http://relay/api/send", strings.NewReader(string(payload))))
		if w.Code != http.StatusOK {
			rt.Fatalf("status %d", w.Code)
		}

		got := c.snapshot()
		if string(got.body) != string(payload) {
			rt.Fatalf("upstream body %q, sent %q", got.body, payload)
		}
		if _, err := token.Verify(strings.TrimPrefix(got.auth, "Bearer "), testSecret, time.Now()); err != nil {
			rt.Fatalf("invalid bearer: %v", err)
		}
	})
}
