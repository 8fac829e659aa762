package egress

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestInterceptor(t *testing.T) *Interceptor {
	t.Helper()
	ca, err := NewCA("test-ca")
	if err != nil {
		t.Fatalf("NewCA: %v", err)
	}
	engine := NewEngine(&Detector{BaseURL: ""})
	return NewInterceptor(ca, engine, nil)
}

func TestInterceptorBlocksForbiddenHost(t *testing.T) {
	ic := newTestInterceptor(t)

	req := httptest.NewRequest(http.MethodGet, "https://pastebin.com/raw/x", nil)
	req.Host = "pastebin.com"
	rec := httptest.NewRecorder()
	ic.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if rec.Body.String() != "Blocked: destination is on blocklist" {
		t.Errorf("body = %q, want the blocklist denial text", rec.Body.String())
	}
}

func TestInterceptorForwardsAllowedRequest(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	ic := newTestInterceptor(t)
	req := httptest.NewRequest(http.MethodGet, upstream.URL+"/", nil)
	rec := httptest.NewRecorder()
	ic.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Upstream") != "yes" {
		t.Errorf("expected the upstream response header to be forwarded")
	}
	if rec.Body.String() != "ok" {
		t.Errorf("body = %q, want ok", rec.Body.String())
	}
}

func TestInterceptorBlocksGitHubAPIPolicy(t *testing.T) {
	ic := newTestInterceptor(t)
	req := httptest.NewRequest(http.MethodDelete, "https://api.github.com/repos/acme/widgets", nil)
	req.Host = "api.github.com"
	rec := httptest.NewRecorder()
	ic.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if rec.Body.String() != "Blocked: this GitHub API operation is not permitted in yolo-cage" {
		t.Errorf("body = %q, want the GitHub API denial text", rec.Body.String())
	}
}
