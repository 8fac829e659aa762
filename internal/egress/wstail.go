package egress

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// tailQueueCap bounds each live-tail subscriber's buffer. A subscriber
// that reads slower than entries arrive loses entries rather than
// stalling the writer goroutine.
const tailQueueCap = 64

// Subscribe registers a new live-tail channel and returns it along with a
// cancel func that unregisters and closes it.
func (al *AuditLogger) Subscribe(ctx context.Context) (<-chan AuditEntry, func()) {
	ch := make(chan AuditEntry, tailQueueCap)
	var once sync.Once
	closeCh := func() { once.Do(func() { close(ch) }) }

	al.mu.Lock()
	al.subs[ch] = struct{}{}
	al.mu.Unlock()

	cancel := func() {
		al.mu.Lock()
		delete(al.subs, ch)
		al.mu.Unlock()
		closeCh()
	}

	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ch, cancel
}

// publish fans entry out to every live-tail subscriber. A full subscriber
// channel drops the entry rather than blocking: the tail is best-effort,
// never a decision input.
func (al *AuditLogger) publish(entry AuditEntry) {
	al.mu.Lock()
	defer al.mu.Unlock()
	for ch := range al.subs {
		select {
		case ch <- entry:
		default:
		}
	}
}

// TailHandler upgrades to a websocket connection and streams audit entries
// as they're logged, one JSON object per message, until the client
// disconnects or the logger is closed.
func (al *AuditLogger) TailHandler(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{})
	if err != nil {
		return
	}
	defer c.Close(websocket.StatusNormalClosure, "bye")

	ch, cancel := al.Subscribe(r.Context())
	defer cancel()

	const writeDeadline = 10 * time.Second
	for entry := range ch {
		b, err := json.Marshal(entry)
		if err != nil {
			continue
		}
		ctx, wcancel := context.WithTimeout(r.Context(), writeDeadline)
		err = c.Write(ctx, websocket.MessageText, b)
		wcancel()
		if err != nil {
			return
		}
	}
}
