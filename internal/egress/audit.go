package egress

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yolocage/gatekeeper/internal/httpx"
	"github.com/yolocage/gatekeeper/internal/localdb"
)

// auditQueueCap bounds the audit writer's pending-entry channel. A full
// queue applies backpressure to the intercepted flows that produce
// entries; the audit trail records every request, so a saturated writer
// slows producers rather than dropping records.
const auditQueueCap = 256

// AuditEntry is one JSONL line in the egress proxy's audit log. Reason and
// DetectedSecrets serialize as null when absent; RequestSize is the byte
// length of the request body the policy engine saw.
type AuditEntry struct {
	ID              string   `json:"request_id"`
	Timestamp       string   `json:"timestamp"`
	CallerAddress   string   `json:"caller_address"`
	Method          string   `json:"method"`
	URL             string   `json:"url"`
	Host            string   `json:"host"`
	Blocked         bool     `json:"blocked"`
	Reason          *string  `json:"reason"`
	DetectedSecrets []string `json:"detected_secrets"`
	RequestSize     int      `json:"request_size"`
}

const auditCollection = "audit_entries"

// AuditLogger appends whole audit-log lines to a JSONL file from a single
// writer goroutine, and mirrors each entry into a disposable sqlite index
// (and, when a subscriber is attached, a live-tail fan-out). The file is
// the authoritative record; the sqlite index exists only for the
// /audit/recent diagnostic endpoint and can always be rebuilt from the
// file.
type AuditLogger struct {
	queue  chan AuditEntry
	done   chan struct{}
	file   *os.File
	writer *bufio.Writer
	index  *localdb.DB // optional
	logger *log.Logger

	mu   sync.Mutex
	subs map[chan AuditEntry]struct{}
}

// NewAuditLogger opens logPath for appending, creating its directory on
// demand, and starts the writer goroutine. index may be nil, in which case
// entries are logged to the file but not indexed.
func NewAuditLogger(logPath string, index *localdb.DB) (*AuditLogger, error) {
	if dir := filepath.Dir(logPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create audit log dir: %w", err)
		}
	}
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	al := &AuditLogger{
		queue:  make(chan AuditEntry, auditQueueCap),
		done:   make(chan struct{}),
		file:   f,
		writer: bufio.NewWriter(f),
		index:  index,
		logger: httpx.Logger(),
		subs:   map[chan AuditEntry]struct{}{},
	}
	go al.run()
	return al, nil
}

// Log enqueues entry for writing, filling in ID and Timestamp if unset.
// Blocks when the queue is full: one entry is written per intercepted
// request, so backpressure lands on the producing flow, never on the
// record.
func (al *AuditLogger) Log(entry AuditEntry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	al.queue <- entry
}

func (al *AuditLogger) run() {
	defer close(al.done)
	for entry := range al.queue {
		al.writeLine(entry)
		al.emit(entry)
		if al.index != nil {
			_ = al.index.Append(auditCollection, entry)
		}
		al.publish(entry)
	}
	_ = al.writer.Flush()
}

// emit mirrors every decision onto standard log output: warn when blocked,
// info when allowed.
func (al *AuditLogger) emit(entry AuditEntry) {
	reason := ""
	if entry.Reason != nil {
		reason = *entry.Reason
	}
	if entry.Blocked {
		al.logger.Printf("level=warn event=egress_blocked method=%s host=%s url=%q reason=%s detected=%v",
			entry.Method, entry.Host, entry.URL, reason, entry.DetectedSecrets)
		return
	}
	al.logger.Printf("level=info event=egress_allowed method=%s host=%s url=%q", entry.Method, entry.Host, entry.URL)
}

func (al *AuditLogger) writeLine(entry AuditEntry) {
	b, err := json.Marshal(entry)
	if err != nil {
		al.logger.Printf("level=error event=audit_marshal_failed err=%v", err)
		return
	}
	b = append(b, '\n')
	if _, err := al.writer.Write(b); err != nil {
		al.logger.Printf("level=error event=audit_write_failed err=%v", err)
		return
	}
	_ = al.writer.Flush()
}

// Close stops accepting new entries and waits for the writer goroutine to
// drain the queue and flush.
func (al *AuditLogger) Close() error {
	close(al.queue)
	<-al.done
	return al.file.Close()
}

// Recent returns up to limit of the most recently logged entries, newest
// first, from the sqlite index. Returns an empty slice (not an error) if
// no index is configured.
func (al *AuditLogger) Recent(limit int) ([]AuditEntry, error) {
	if al.index == nil {
		return nil, nil
	}
	var out []AuditEntry
	if err := al.index.Recent(auditCollection, limit, &out); err != nil {
		return nil, err
	}
	return out, nil
}
