// Command egressproxy runs the yolo-cage Egress Policy Proxy: a
// TLS-intercepting HTTP proxy that applies a GitHub-API policy, a
// destination-host blocklist, and a remote secret scan to every outbound
// request from a sandboxed coding agent.
package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/yolocage/gatekeeper/internal/egress"
	"github.com/yolocage/gatekeeper/internal/localdb"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := egress.LoadConfig()
	if err != nil {
		log.Fatalf("egressproxy: config: %v", err)
	}

	index, err := localdb.Open(cfg.StateDir, "egress.sqlite")
	if err != nil {
		log.Fatalf("egressproxy: open audit index: %v", err)
	}
	defer index.Close()

	audit, err := egress.NewAuditLogger(cfg.AuditLogPath, index)
	if err != nil {
		log.Fatalf("egressproxy: open audit log: %v", err)
	}
	defer audit.Close()

	ca, err := egress.NewCA(cfg.CAName)
	if err != nil {
		log.Fatalf("egressproxy: init CA: %v", err)
	}

	detector := egress.NewDetector(cfg.DetectorURL, cfg.DetectorToken)
	engine := egress.NewEngine(detector)
	interceptor := egress.NewInterceptor(ca, engine, audit)

	ln, closeListener, err := egress.Listen(ctx, cfg)
	if err != nil {
		log.Fatalf("egressproxy: listen: %v", err)
	}
	defer closeListener()

	proxySrv := &http.Server{
		Handler: interceptor,
		// CONNECT tunnels are long-lived; unlike the dispatcher there is no
		// fixed upper bound on how long an agent keeps a proxy connection
		// open, so timeouts are left to the per-RoundTrip detector/upstream
		// deadlines instead of the server's own read/write timeouts.
	}

	diagLn, err := net.Listen("tcp", cfg.DiagAddr)
	if err != nil {
		log.Fatalf("egressproxy: diagnostic listen: %v", err)
	}
	diagSrv := &http.Server{
		Handler:      egress.DiagRouter(audit),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // the audit tail is a long-lived streaming response
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() { errCh <- proxySrv.Serve(ln) }()
	go func() { errCh <- diagSrv.Serve(diagLn) }()
	log.Printf("egressproxy: proxy listening on %s, diagnostics on %s", cfg.ListenAddr, cfg.DiagAddr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = proxySrv.Shutdown(shutdownCtx)
		_ = diagSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("egressproxy: server error: %v", err)
		}
	}
}
