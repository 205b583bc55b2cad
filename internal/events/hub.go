// Package events is an in-memory pub/sub of run lifecycle events with a
// small replay ring for late subscribers.
package events

import (
	"encoding/json"
	"slices"
	"sort"
	"sync"
	"time"
)

// Event types.
const (
	RunStarted    = "run.started"
	RunFinished   = "run.finished"
	BatchStarted  = "batch.started"
	BatchFinished = "batch.finished"
)

const subscriberBuffer = 128

type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// Publisher accepts events. Publish must not block.
type Publisher interface {
	Publish(eventType string, data any)
}

// RunStartedData is the payload of RunStarted.
type RunStartedData struct {
	RunID      string `json:"run_id"`
	SessionID  string `json:"session_id"`
	Subcommand string `json:"subcommand"`
	Input      string `json:"input,omitempty"`
}

// RunFinishedData is the payload of RunFinished.
type RunFinishedData struct {
	RunID        string `json:"run_id"`
	SessionID    string `json:"session_id"`
	Subcommand   string `json:"subcommand"`
	Outcome      string `json:"outcome"`
	ExitCode     int    `json:"exit_code"`
	DurationMS   int64  `json:"duration_ms"`
	ArtifactPath string `json:"artifact_path,omitempty"`
	Error        string `json:"error,omitempty"`
}

// BatchData is the payload of BatchStarted and BatchFinished.
type BatchData struct {
	SessionID string `json:"session_id"`
	Evidence  string `json:"evidence"`
	RunDir    string `json:"run_dir"`
	Steps     int    `json:"steps,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Hub fans events out to subscribers and retains the most recent ones so a
// reconnecting client can catch up.
type Hub struct {
	mu       sync.Mutex
	seq      int64
	retained []Event
	limit    int
	subs     map[*subscriber]struct{}
}

type subscriber struct {
	ch chan Event
}

// NewHub creates a Hub that retains up to limit events. A non-positive limit
// means 100.
func NewHub(limit int) *Hub {
	if limit <= 0 {
		limit = 100
	}
	return &Hub{
		retained: make([]Event, 0, limit),
		limit:    limit,
		subs:     make(map[*subscriber]struct{}),
	}
}

// Publish assigns the next ID to an event and hands it to every subscriber
// with room for it. It never blocks on a slow subscriber.
func (h *Hub) Publish(eventType string, data any) {
	payload, err := json.Marshal(data)
	if err != nil || data == nil {
		payload = []byte("{}")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	ev := Event{ID: h.seq, Type: eventType, At: time.Now().UTC(), Data: payload}

	if len(h.retained) == h.limit {
		n := copy(h.retained, h.retained[1:])
		h.retained = h.retained[:n]
	}
	h.retained = append(h.retained, ev)

	for sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

// Subscribe returns a channel of events published from now on. The returned
// func unsubscribes and closes the channel; calling it again is a no-op.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, sub)
			h.mu.Unlock()
			close(sub.ch)
		})
	}
}

// SnapshotSince returns retained events with ID > lastID, oldest first.
func (h *Hub) SnapshotSince(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	i := sort.Search(len(h.retained), func(i int) bool { return h.retained[i].ID > lastID })
	return slices.Clone(h.retained[i:])
}
