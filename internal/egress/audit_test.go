package egress

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/yolocage/gatekeeper/internal/localdb"
)

func newTestAuditLogger(t *testing.T) (*AuditLogger, string) {
	t.Helper()
	dir := t.TempDir()
	index, err := localdb.Open(dir, "egress-test.sqlite")
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	t.Cleanup(func() { index.Close() })

	logPath := filepath.Join(dir, "audit.jsonl")
	al, err := NewAuditLogger(logPath, index)
	if err != nil {
		t.Fatalf("NewAuditLogger: %v", err)
	}
	t.Cleanup(func() { al.Close() })
	return al, logPath
}

func TestAuditLoggerWritesJSONLLine(t *testing.T) {
	al, logPath := newTestAuditLogger(t)
	al.Log(AuditEntry{CallerAddress: "10.0.0.1", Method: "GET", URL: "https://example.com/", Host: "example.com", Blocked: false})

	waitForLine(t, logPath)

	f, err := os.Open(logPath)
	if err != nil {
		t.Fatalf("open audit log: %v", err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		t.Fatalf("expected at least one line in the audit log")
	}
	line := scanner.Bytes()
	var entry AuditEntry
	if err := json.Unmarshal(line, &entry); err != nil {
		t.Fatalf("unmarshal audit line: %v", err)
	}
	if entry.Host != "example.com" || entry.Method != "GET" {
		t.Errorf("decoded entry = %+v, want host example.com method GET", entry)
	}
	if entry.ID == "" {
		t.Errorf("expected Log to assign an ID")
	}
	if entry.Timestamp == "" {
		t.Errorf("expected Log to assign a timestamp")
	}

	// An allowed entry still carries the full record shape, with explicit
	// nulls for reason and detected_secrets.
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(line, &raw); err != nil {
		t.Fatalf("unmarshal raw audit line: %v", err)
	}
	for _, key := range []string{"timestamp", "method", "url", "host", "blocked", "reason", "detected_secrets", "request_size"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("audit line missing key %q", key)
		}
	}
	if string(raw["reason"]) != "null" {
		t.Errorf("reason = %s, want null for an allowed entry", raw["reason"])
	}
	if string(raw["detected_secrets"]) != "null" {
		t.Errorf("detected_secrets = %s, want null for an allowed entry", raw["detected_secrets"])
	}
}

func TestAuditLoggerRecentReflectsIndex(t *testing.T) {
	al, logPath := newTestAuditLogger(t)
	reason := "blocked_domain:a.example.com"
	al.Log(AuditEntry{Host: "a.example.com", Reason: &reason, Blocked: true})
	al.Log(AuditEntry{Host: "b.example.com", Blocked: false})
	waitForLine(t, logPath)

	var entries []AuditEntry
	for i := 0; i < 50; i++ {
		var err error
		entries, err = al.Recent(10)
		if err != nil {
			t.Fatalf("Recent: %v", err)
		}
		if len(entries) >= 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(entries) < 2 {
		t.Fatalf("Recent returned %d entries, want at least 2", len(entries))
	}
}

func TestAuditLoggerSubscribeReceivesEntries(t *testing.T) {
	al, _ := newTestAuditLogger(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, unsubscribe := al.Subscribe(ctx)
	defer unsubscribe()

	al.Log(AuditEntry{Host: "example.com"})

	select {
	case entry := <-ch:
		if entry.Host != "example.com" {
			t.Errorf("tailed entry host = %q, want example.com", entry.Host)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for a tailed audit entry")
	}
}

func TestAuditLoggerSubscribeUnsubscribeClosesChannel(t *testing.T) {
	al, _ := newTestAuditLogger(t)
	ctx, cancel := context.WithCancel(context.Background())
	ch, unsubscribe := al.Subscribe(ctx)
	cancel()
	unsubscribe()

	select {
	case _, ok := <-ch:
		if ok {
			t.Errorf("expected channel to be closed after unsubscribe")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for channel close")
	}
}

func waitForLine(t *testing.T, path string) {
	t.Helper()
	for i := 0; i < 100; i++ {
		info, err := os.Stat(path)
		if err == nil && info.Size() > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for the audit log file to receive a write")
}
