package admin

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/getmockd/mockctl/pkg/control"
	"github.com/getmockd/mockctl/pkg/httputil"
	"github.com/getmockd/mockctl/pkg/reconcile"
)

// Event types.
const (
	EventStatus   = "status"
	EventRollback = "rollback"
)

// Event is one message on GET /events.
type Event struct {
	Type     string              `json:"type"`
	Time     time.Time           `json:"time"`
	Status   *control.Status     `json:"status,omitempty"`
	Rollback *reconcile.Rollback `json:"rollback,omitempty"`
}

const (
	subscriberBuffer = 16
	writeTimeout     = 5 * time.Second
)

// hub fans events out to websocket subscribers. A subscriber that cannot
// keep up loses events rather than stalling the publisher.
type hub struct {
	log *slog.Logger

	mu     sync.Mutex
	subs   map[chan Event]struct{}
	closed bool
}

func newHub(log *slog.Logger) *hub {
	return &hub{log: log, subs: make(map[chan Event]struct{})}
}

func (h *hub) subscribe() (chan Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	ch := make(chan Event, subscriberBuffer)
	h.subs[ch] = struct{}{}
	return ch, true
}

func (h *hub) unsubscribe(ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
}

func (h *hub) publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.log.Warn("event subscriber too slow, dropping event", "type", ev.Type)
		}
	}
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}

// handleEvents handles GET /events. The current status is sent first.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	events, ok := a.hub.subscribe()
	if !ok {
		httputil.WriteError(w, http.StatusServiceUnavailable, "shutting_down", ErrMsgShuttingDown)
		return
	}
	defer a.hub.unsubscribe(events)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		a.log.Debug("websocket accept failed", "error", err)
		return
	}
	defer func() { _ = conn.CloseNow() }()

	// Clients never send; CloseRead handles control frames and cancels ctx
	// when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	st := a.surface.Status()
	if err := writeEvent(ctx, conn, Event{Type: EventStatus, Time: time.Now(), Status: &st}); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "daemon shutting down")
				return
			}
			if err := writeEvent(ctx, conn, ev); err != nil {
				a.log.Debug("websocket write failed", "error", err)
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
