// Package config lê a configuração do relay das variáveis de ambiente.
//
// A Config é montada uma vez na inicialização e passada por valor para cada
// componente; nada no caminho da requisição lê o ambiente.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrMissing é devolvido (embrulhado) quando falta variável obrigatória.
var ErrMissing = errors.New("missing required configuration")

type Config struct {
	WebhookURL     string
	JWTSecret      []byte
	AllowedOrigin  string
	Host           string
	Port           int
	BodyLimit      int64
	MetricsEnabled bool
	LogLevel       string
	LogFormat      string

	Upstream    Upstream
	RateLimit   RateLimit
	Concurrency Concurrency
	Redis       Redis
}

type Upstream struct {
	Timeout time.Duration
}

type RateLimit struct {
	Max        int
	Window     time.Duration
	Store      string // "memory" ou "redis"
	TrustXFF   bool
	AddHeaders bool
	// GlobalRPS <= 0 desliga o limite global.
	GlobalRPS   float64
	GlobalBurst int
	RedisPrefix string

	StatsEnabled   bool
	StatsPrefix    string
	StatsTTL       time.Duration
	StatsBucket    string
	StatsTrackKeys bool
}

type Concurrency struct {
	Max     int
	Timeout time.Duration
}

type Redis struct {
	Addr     string
	Password string
	DB       int
}

// Addr é o endereço de escuta host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// NeedsRedis indica se algum componente configurado usa o Redis.
func (c Config) NeedsRedis() bool {
	return c.RateLimit.Store == "redis" || c.RateLimit.StatsEnabled
}

// FromEnv lê a configuração do ambiente do processo.
func FromEnv() (Config, error) {
	return Load(os.LookupEnv)
}

// Load lê a configuração usando lookup (os.LookupEnv em produção).
func Load(lookup func(string) (string, bool)) (Config, error) {
	e := env{lookup: lookup}

	cfg := Config{
		WebhookURL:    e.str("N8N_WEBHOOK_URL", ""),
		JWTSecret:     e.secret("N8N_JWT_SECRET"),
		AllowedOrigin: e.str("FRONTEND_URL", ""),
	}

	var missing []string
	if cfg.WebhookURL == "" {
		missing = append(missing, "N8N_WEBHOOK_URL")
	}
	if len(cfg.JWTSecret) == 0 {
		missing = append(missing, "N8N_JWT_SECRET")
	}
	if cfg.AllowedOrigin == "" {
		missing = append(missing, "FRONTEND_URL")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("%w: %s", ErrMissing, strings.Join(missing, ", "))
	}

	if u, err := url.Parse(cfg.WebhookURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Config{}, fmt.Errorf("N8N_WEBHOOK_URL must be an absolute http(s) url, got %q", cfg.WebhookURL)
	}

	cfg.Host = e.str("HOST", "0.0.0.0")
	cfg.Port = e.integer("PORT", 3000)
	cfg.BodyLimit = int64(e.integer("BODY_LIMIT", 1<<20))
	cfg.MetricsEnabled = e.boolean("METRICS_ENABLED", true)
	cfg.LogLevel = e.str("LOG_LEVEL", "info")
	cfg.LogFormat = e.str("LOG_FORMAT", "json")

	cfg.Upstream.Timeout = e.duration("UPSTREAM_TIMEOUT", 10*time.Second)

	cfg.RateLimit = RateLimit{
		Max:         e.integer("RATE_MAX", 5),
		Window:      e.duration("RATE_WINDOW", 10*time.Minute),
		Store:       strings.ToLower(e.str("RATE_STORE", "memory")),
		TrustXFF:    e.boolean("TRUST_XFF", false),
		AddHeaders:  e.boolean("ADD_RATELIMIT_HEADERS", true),
		GlobalRPS:   e.number("GLOBAL_RPS", 0),
		GlobalBurst: e.integer("GLOBAL_BURST", 10),
		RedisPrefix: e.str("RATE_REDIS_PREFIX", "relay:ratelimit"),

		StatsEnabled:   e.boolean("RATE_STATS_ENABLED", false),
		StatsPrefix:    e.str("RATE_STATS_PREFIX", "relay:ratelimit:stats"),
		StatsTTL:       e.duration("RATE_STATS_TTL", 24*time.Hour),
		StatsBucket:    e.str("RATE_STATS_BUCKET", "minute"),
		StatsTrackKeys: e.boolean("RATE_STATS_TRACK_KEYS", false),
	}

	cfg.Concurrency = Concurrency{
		Max:     e.integer("CONCURRENCY_MAX", 100),
		Timeout: e.duration("CONCURRENCY_TIMEOUT", 0),
	}

	cfg.Redis = Redis{
		Addr:     e.str("REDIS_ADDR", ""),
		Password: e.str("REDIS_PASSWORD", ""),
		DB:       e.integer("REDIS_DB", 0),
	}

	if err := errors.Join(e.errs...); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var errs []error
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be between 0 and 65535, got %d", c.Port))
	}
	if c.BodyLimit <= 0 {
		errs = append(errs, errors.New("BODY_LIMIT must be > 0"))
	}
	if c.RateLimit.Max <= 0 {
		errs = append(errs, errors.New("RATE_MAX must be > 0"))
	}
	if c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("RATE_WINDOW must be > 0"))
	}
	if c.RateLimit.Store != "memory" && c.RateLimit.Store != "redis" {
		errs = append(errs, fmt.Errorf("RATE_STORE must be memory or redis, got %q", c.RateLimit.Store))
	}
	if c.Upstream.Timeout <= 0 {
		errs = append(errs, errors.New("UPSTREAM_TIMEOUT must be > 0"))
	}
	if c.Concurrency.Max < 0 {
		errs = append(errs, errors.New("CONCURRENCY_MAX must be >= 0"))
	}
	if c.NeedsRedis() && strings.TrimSpace(c.Redis.Addr) == "" {
		errs = append(errs, errors.New("REDIS_ADDR is required when RATE_STORE=redis or RATE_STATS_ENABLED=true"))
	}
	return errors.Join(errs...)
}

// env acumula erros de parse: valor presente e inválido é erro, nunca default.
type env struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *env) raw(k string) (string, bool) {
	v, ok := e.lookup(k)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

// secret devolve o valor exatamente como configurado: é material de chave,
// espaços e quebras de linha fazem parte dele.
func (e *env) secret(k string) []byte {
	v, ok := e.lookup(k)
	if !ok || v == "" {
		return nil
	}
	return []byte(v)
}

func (e *env) str(k, def string) string {
	if v, ok := e.raw(k); ok {
		return v
	}
	return def
}

func (e *env) integer(k string, def int) int {
	v, ok := e.raw(k)
	if !ok {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid integer %q", k, v))
		return def
	}
	return i
}

func (e *env) number(k string, def float64) float64 {
	v, ok := e.raw(k)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid number %q", k, v))
		return def
	}
	return f
}

func (e *env) boolean(k string, def bool) bool {
	v, ok := e.raw(k)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid boolean %q", k, v))
		return def
	}
	return b
}

func (e *env) duration(k string, def time.Duration) time.Duration {
	v, ok := e.raw(k)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid duration %q", k, v))
		return def
	}
	return d
}
