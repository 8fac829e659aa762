// Command dispatcher runs the yolo-cage Git Dispatcher: an HTTP service
// that receives git invocations from sandboxed coding agents and enforces
// per-pod branch restrictions before running them as git subprocesses.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/yolocage/gatekeeper/internal/dispatch"
	"github.com/yolocage/gatekeeper/internal/localdb"
	"github.com/yolocage/gatekeeper/internal/secrets"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := dispatch.LoadConfig()
	if err != nil {
		log.Fatalf("dispatcher: config: %v", err)
	}

	history, err := localdb.Open(cfg.StateDir, "dispatcher.sqlite")
	if err != nil {
		log.Fatalf("dispatcher: open history store: %v", err)
	}
	defer history.Close()

	tokenBox, err := dispatch.NewTokenBox(mustManager(cfg.MasterKey), cfg.AccessToken)
	if err != nil {
		log.Fatalf("dispatcher: seal access token: %v", err)
	}

	reg := dispatch.NewRegistry()
	handler := dispatch.NewHandler(cfg, reg, tokenBox, history)

	ln, closeListener, err := dispatch.Listen(ctx, cfg)
	if err != nil {
		log.Fatalf("dispatcher: listen: %v", err)
	}
	defer closeListener()

	srv := &http.Server{
		Handler:      dispatch.Router(handler),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 320 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	log.Printf("dispatcher: listening on %s", cfg.ListenAddr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("dispatcher: server error: %v", err)
		}
	}
}

func mustManager(masterKey string) *secrets.Manager {
	mgr, err := secrets.New(masterKey)
	if err != nil {
		log.Fatalf("dispatcher: init secrets manager: %v", err)
	}
	return mgr
}
