// webhook-echo faz o papel do webhook do n8n em desenvolvimento: confere o
// Bearer emitido pelo relay e loga o corpo recebido.
//
//	N8N_JWT_SECRET=dev webhook-echo --addr :5678
//	N8N_WEBHOOK_URL=http://localhost:5678/webhook N8N_JWT_SECRET=dev FRONTEND_URL=http://localhost:5173 relay
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"n8n-relay/logging"
	"n8n-relay/relay/token"

	"github.com/spf13/cobra"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "webhook-echo: %v\n", err)
		cancel()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		addr       string
		failStatus int
	)
	cmd := &cobra.Command{
		Use:           "webhook-echo",
		Short:         "Fake n8n webhook that verifies relay tokens",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := []byte(os.Getenv("N8N_JWT_SECRET"))
			if len(secret) == 0 {
				return errors.New("N8N_JWT_SECRET is required")
			}
			logger, err := logging.Setup("debug", "text", os.Stderr)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), addr, newWebhook(secret, failStatus, logger))
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":5678", "listen address")
	cmd.Flags().IntVar(&failStatus, "fail-status", 0, "answer every verified call with this status (simulates n8n errors)")
	return cmd
}

type webhook struct {
	secret     []byte
	failStatus int
	log        *slog.Logger
	now        func() time.Time
}

func newWebhook(secret []byte, failStatus int, log *slog.Logger) *webhook {
	return &webhook{secret: secret, failStatus: failStatus, log: log, now: time.Now}
}

func (h *webhook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		http.Error(w, "missing bearer", http.StatusUnauthorized)
		return
	}
	if _, err := token.Verify(raw, h.secret, h.now()); err != nil {
		h.log.Warn("rejected token", "error", err)
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	h.log.Info("webhook call", "bytes", len(body), "body", string(body))

	if h.failStatus != 0 {
		http.Error(w, "simulated failure", h.failStatus)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, `{"ok":true}`+"\n")
}

func serve(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("webhook-echo listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
