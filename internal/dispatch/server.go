package dispatch

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

// HandleHealth answers GET /health. The commit-footer and version are
// surfaced here purely for operator visibility (open-question
// decision); neither is ever spliced into a commit by this system.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"version":       h.Config.Version,
		"commit_footer": h.Config.CommitFooter,
	})
}

// HandleRegister answers POST /register?branch=B.
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	branch := r.URL.Query().Get("branch")
	if branch == "" {
		httpx.JSONError(w, http.StatusBadRequest, "branch is required", "bad_request")
		return
	}
	addr := callerAddress(r)
	h.Registry.Put(addr, branch)
	h.Logger.Printf("req_id=%s event=registered caller=%s branch=%s", httpx.ReqIDFromCtx(r.Context()), addr, branch)
	httpx.JSON(w, http.StatusOK, map[string]any{"status": "registered", "ip": addr, "branch": branch})
}

// HandleDeregister answers DELETE /register.
func (h *Handler) HandleDeregister(w http.ResponseWriter, r *http.Request) {
	addr := callerAddress(r)
	if _, existed := h.Registry.Delete(addr); existed {
		h.Logger.Printf("req_id=%s event=deregistered caller=%s", httpx.ReqIDFromCtx(r.Context()), addr)
		httpx.JSON(w, http.StatusOK, map[string]any{"status": "deregistered", "ip": addr})
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": "not_found", "ip": addr})
}

// HandleRegistryList answers GET /registry.
func (h *Handler) HandleRegistryList(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]any{"registry": h.Registry.List()})
}

// HandleMetrics answers GET /metrics.
func (h *Handler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, metrics.ExportDispatch())
}

// HandleHooksRecent answers GET /hooks/recent?limit=N.
func (h *Handler) HandleHooksRecent(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	records, err := RecentHookRuns(h.History, limit)
	if err != nil {
		httpx.JSON(w, http.StatusOK, []HookRunRecord{})
		return
	}
	httpx.JSON(w, http.StatusOK, records)
}

func registerRoute(w http.ResponseWriter, r *http.Request, h *Handler) {
	switch r.Method {
	case http.MethodPost:
		h.HandleRegister(w, r)
	case http.MethodDelete:
		h.HandleDeregister(w, r)
	default:
		httpx.JSONError(w, http.StatusMethodNotAllowed, "method not allowed", "method_not_allowed")
	}
}

// Router wires the dispatcher's full HTTP surface.
func Router(h *Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.HandleHealth)
	mux.HandleFunc("/register", func(w http.ResponseWriter, r *http.Request) { registerRoute(w, r, h) })
	mux.HandleFunc("/registry", h.HandleRegistryList)
	mux.HandleFunc("/git", h.HandleGit)
	mux.HandleFunc("/metrics", h.HandleMetrics)
	mux.HandleFunc("/hooks/recent", h.HandleHooksRecent)
	return httpx.Logging(httpx.RequestID(mux))
}

// Listen binds the dispatcher's listener: a tsnet node on a private
// tailnet when a tailnet auth key is configured, otherwise a plain TCP
// listener. A tsnet start failure falls back to plain TCP with a logged
// warning rather than failing startup.
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
		log.Printf("dispatcher: tsnet start failed, falling back to plain tcp: %v", err)
		ln, lerr := net.Listen("tcp", cfg.ListenAddr)
		return ln, func() {}, lerr
	}
	ln, err := ts.Listen(ctx, srv, "tcp", cfg.ListenAddr)
	if err != nil {
		srv.Close()
		return nil, func() {}, err
	}
	if info, ierr := ts.Info(ctx, srv); ierr == nil {
		log.Printf("dispatcher: tailnet identity ip=%s fqdn=%s", info.IP, info.FQDN)
	}
	return ln, func() { srv.Close() }, nil
}
