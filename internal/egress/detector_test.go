package egress

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDetectorScanNoSecretsFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/healthz":
			w.WriteHeader(http.StatusOK)
		case "/analyze/prompt":
			_ = json.NewEncoder(w).Encode(analyzeResponse{
				IsValid:  true,
				Scanners: map[string]float64{"secrets": 1.0},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	d := NewDetector(srv.URL, "")
	flagged, items := d.Scan("hello world, nothing sensitive here")
	if flagged {
		t.Errorf("expected no secrets flagged, got items %v", items)
	}
}

func TestDetectorScanFindsFlaggedScanner(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/healthz":
			w.WriteHeader(http.StatusOK)
		case "/analyze/prompt":
			_ = json.NewEncoder(w).Encode(analyzeResponse{
				IsValid:  false,
				Scanners: map[string]float64{"secrets": 0.2, "toxicity": 1.0},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	d := NewDetector(srv.URL, "")
	flagged, items := d.Scan("some text containing what looks like a token")
	if !flagged {
		t.Fatalf("expected secrets to be flagged")
	}
	if len(items) != 1 || items[0] != "secrets" {
		t.Errorf("flagged items = %v, want [secrets]", items)
	}
}

func TestDetectorScanIgnoresScoresWhenVerdictValid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/healthz":
			w.WriteHeader(http.StatusOK)
		case "/analyze/prompt":
			_ = json.NewEncoder(w).Encode(analyzeResponse{
				IsValid:  true,
				Scanners: map[string]float64{"secrets": 0.4},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	d := NewDetector(srv.URL, "")
	flagged, items := d.Scan("borderline text the detector still passes overall")
	if flagged || len(items) != 0 {
		t.Errorf("Scan = (%v, %v); a positive overall verdict must not flag sub-threshold scanners", flagged, items)
	}
}

func TestDetectorScanFailsClosedWhenUnreachable(t *testing.T) {
	d := NewDetector("http://127.0.0.1:1", "")
	flagged, items := d.Scan("anything")
	if !flagged {
		t.Fatalf("expected fail-closed behavior when the detector is unreachable")
	}
	if len(items) != 1 || items[0] != "scanner_unavailable" {
		t.Errorf("items = %v, want [scanner_unavailable]", items)
	}
}

func TestDetectorScanEmptyBaseURLFailsClosed(t *testing.T) {
	d := NewDetector("", "")
	flagged, items := d.Scan("anything")
	if !flagged || len(items) != 1 || items[0] != "scanner_unavailable" {
		t.Errorf("Scan with no detector configured = (%v, %v), want (true, [scanner_unavailable])", flagged, items)
	}
}

func TestDetectorSendsBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/analyze/prompt" {
			gotAuth = r.Header.Get("Authorization")
			_ = json.NewEncoder(w).Encode(analyzeResponse{IsValid: true})
		}
	}))
	defer srv.Close()

	d := NewDetector(srv.URL, "test-token")
	d.Scan("hello")
	if gotAuth != "Bearer test-token" {
		t.Errorf("Authorization header = %q, want Bearer test-token", gotAuth)
	}
}
