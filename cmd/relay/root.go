package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"n8n-relay/config"
	"n8n-relay/logging"
	"n8n-relay/middleware/cors"
	"n8n-relay/middleware/ratelimit"
	"n8n-relay/middleware/ratelimit/domain"
	"n8n-relay/middleware/ratelimit/infra"
	"n8n-relay/relay"
	"n8n-relay/relay/token"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type flags struct {
	host string
	port int
}

func newRootCmd() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Relays frontend form submissions to an n8n webhook",
		Long: `relay accepts POST /api/send from the configured frontend origin,
signs a short-lived HS256 token and forwards the JSON body to the n8n webhook.

Required environment: N8N_WEBHOOK_URL, N8N_JWT_SECRET, FRONTEND_URL.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				cfg.Host = f.host
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = f.port
			}
			return run(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&f.host, "host", "", "listen host (overrides HOST)")
	cmd.Flags().IntVar(&f.port, "port", 0, "listen port (overrides PORT)")
	cmd.CompletionOptions.DisableDefaultCmd = true
	return cmd
}

func run(ctx context.Context, cfg config.Config) error {
	logger, err := logging.Setup(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	issuer, err := token.NewIssuer(cfg.JWTSecret)
	if err != nil {
		return err
	}

	var metrics *relay.Metrics
	metricsPath := ""
	if cfg.MetricsEnabled {
		metrics = relay.NewMetrics()
		metricsPath = "/metrics"
	}

	handler, err := relay.NewHandler(relay.Config{
		Issuer:      issuer,
		UpstreamURL: cfg.WebhookURL,
		Client:      &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		Timeout:     cfg.Upstream.Timeout,
		Metrics:     metrics,
	})
	if err != nil {
		return err
	}

	var rdb *redis.Client
	if cfg.NeedsRedis() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
		}
	}

	limiter := rateLimitOptions(ctx, cfg, rdb, metrics)

	router := relay.NewRouter(relay.RouterOptions{
		Relay: handler,
		Guard: cors.New(cors.Options{AllowedOrigin: cfg.AllowedOrigin, MaxAge: 10 * time.Minute}).Middleware,
		SendMiddlewares: []relay.Middleware{
			ratelimit.Middleware(limiter),
			ratelimit.ConcurrencyMiddleware(concurrencyOptions(cfg, metrics)),
		},
		BodyLimit:   cfg.BodyLimit,
		Metrics:     metrics,
		MetricsPath: metricsPath,
		Logger:      logger,
	})

	srv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// maior que UPSTREAM_TIMEOUT para a resposta de erro ainda sair.
		WriteTimeout: cfg.Upstream.Timeout + 20*time.Second,
		IdleTimeout:  90 * time.Second,
	}

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Addr(), err)
	}

	logger.Info("relay listening",
		"addr", ln.Addr().String(),
		"webhook_host", hostOf(cfg.WebhookURL),
		"allowed_origin", cfg.AllowedOrigin,
		"rate_max", cfg.RateLimit.Max,
		"rate_window", cfg.RateLimit.Window.String(),
		"rate_store", cfg.RateLimit.Store,
		"upstream_timeout", cfg.Upstream.Timeout.String(),
		"concurrency_max", cfg.Concurrency.Max,
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func rateLimitOptions(ctx context.Context, cfg config.Config, rdb *redis.Client, metrics *relay.Metrics) ratelimit.Options {
	rl := cfg.RateLimit
	opts := ratelimit.Options{
		Policy:              domain.Policy{Max: rl.Max, Window: rl.Window},
		TrustXForwardedFor:  rl.TrustXFF,
		AddRateLimitHeaders: rl.AddHeaders,
	}

	if rl.Store == "redis" {
		opts.Store = infra.NewRedisStore(rdb, rl.Window, infra.WithRedisPrefix(rl.RedisPrefix))
	} else {
		store := infra.NewMemoryStore(rl.Window)
		store.StartJanitor(ctx)
		opts.Store = store
	}

	// NewGlobalLimiter devolve nil quando desligado; não pode virar interface não-nil.
	if g := infra.NewGlobalLimiter(rl.GlobalRPS, rl.GlobalBurst); g != nil {
		opts.Global = g
	}

	var stats domain.MultiStats
	if metrics != nil {
		stats = append(stats, metrics)
	}
	if rl.StatsEnabled {
		stats = append(stats, infra.NewRedisStatsStore(rdb,
			infra.WithStatsPrefix(rl.StatsPrefix),
			infra.WithStatsTTL(rl.StatsTTL),
			infra.WithStatsBucket(rl.StatsBucket),
			infra.WithStatsTrackKeys(rl.StatsTrackKeys),
		))
	}
	if len(stats) > 0 {
		opts.Stats = stats
	}
	return opts
}

func concurrencyOptions(cfg config.Config, metrics *relay.Metrics) ratelimit.ConcurrencyOptions {
	opts := ratelimit.ConcurrencyOptions{
		Max:            cfg.Concurrency.Max,
		AcquireTimeout: cfg.Concurrency.Timeout,
	}
	if metrics != nil {
		opts.Observer = metrics
	}
	return opts
}

// hostOf evita logar path/query do webhook, que podem conter segredos.
func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}
