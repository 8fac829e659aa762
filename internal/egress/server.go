package egress

import (
	"context"
	"log"
	"net"
	"net/http"
	"strconv"

	"github.com/yolocage/gatekeeper/internal/httpx"
	"github.com/yolocage/gatekeeper/internal/metrics"
	"github.com/yolocage/gatekeeper/internal/ts"
)

// HandleHealthz answers GET /healthz on the diagnostic mux.
func HandleHealthz(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// HandleMetrics answers GET /metrics on the diagnostic mux.
func HandleMetrics(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, metrics.ExportProxy())
}

// HandleAuditRecent answers GET /audit/recent?limit=N from the sqlite
// index. Never the authoritative source: see AuditLogger.Recent.
func HandleAuditRecent(al *AuditLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}
		entries, err := al.Recent(limit)
		if err != nil {
			httpx.JSON(w, http.StatusOK, []AuditEntry{})
			return
		}
		httpx.JSON(w, http.StatusOK, entries)
	}
}

// DiagRouter wires the egress proxy's diagnostic HTTP surface: health,
// metrics, the recent-audit index, and the live audit tail. This is
// served on a separate address from the proxy listener itself so operators
// can reach it without routing through the intercepting proxy.
func DiagRouter(al *AuditLogger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", HandleHealthz)
	mux.HandleFunc("/metrics", HandleMetrics)
	mux.HandleFunc("/audit/recent", HandleAuditRecent(al))
	mux.HandleFunc("/audit/stream", al.TailHandler)
	return httpx.Logging(httpx.RequestID(mux))
}

// Listen binds the egress proxy's main listener: a tsnet node on a private
// tailnet when a tailnet auth key is configured, otherwise a plain TCP
// listener, matching the dispatcher's fallback behavior.
func Listen(ctx context.Context, cfg *Config) (net.Listener, func(), error) {
	if cfg.TSAuthKey == "" {
		ln, err := net.Listen("tcp", cfg.ListenAddr)
		return ln, func() {}, err
	}

	srv, err := ts.StartServer(ctx, ts.Options{
		StateDir: cfg.StateDir,
		Hostname: cfg.TSHostname,
		LoginURL: cfg.TSLoginServer,
		AuthKey:  cfg.TSAuthKey,
	})
	if err != nil {
		log.Printf("egressproxy: tsnet start failed, falling back to plain tcp: %v", err)
		ln, lerr := net.Listen("tcp", cfg.ListenAddr)
		return ln, func() {}, lerr
	}
	ln, err := ts.Listen(ctx, srv, "tcp", cfg.ListenAddr)
	if err != nil {
		srv.Close()
		return nil, func() {}, err
	}
	if info, ierr := ts.Info(ctx, srv); ierr == nil {
		log.Printf("egressproxy: tailnet identity ip=%s fqdn=%s", info.IP, info.FQDN)
	}
	return ln, func() { srv.Close() }, nil
}
