package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/mattjoyce/hbrun/internal/events"
)

const keepAliveInterval = 15 * time.Second

// eventFilter narrows the stream to some event types and/or one subcommand.
type eventFilter struct {
	types      []string
	subcommand string
}

func filterFromQuery(r *http.Request) eventFilter {
	q := r.URL.Query()
	var f eventFilter
	if raw := q.Get("types"); raw != "" {
		f.types = lo.Compact(lo.Map(strings.Split(raw, ","), func(s string, _ int) string {
			return strings.TrimSpace(s)
		}))
	}
	f.subcommand = strings.TrimSpace(q.Get("subcommand"))
	return f
}

func (f eventFilter) match(ev events.Event) bool {
	if len(f.types) > 0 && !lo.Contains(f.types, ev.Type) {
		return false
	}
	if f.subcommand == "" {
		return true
	}
	var payload struct {
		Subcommand string `json:"subcommand"`
	}
	if err := json.Unmarshal(ev.Data, &payload); err != nil {
		return false
	}
	return payload.Subcommand == f.subcommand
}

// handleEvents streams run and batch events as server-sent events. Events
// newer than Last-Event-ID still in the hub's ring are sent first.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	filter := filterFromQuery(r)

	// Subscribing first means nothing published during replay is missed.
	live, unsubscribe := s.events.Subscribe()
	defer unsubscribe()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	seen := parseLastEventID(r.Header.Get("Last-Event-ID"))
	send := func(ev events.Event) bool {
		if ev.ID <= seen {
			return true
		}
		seen = ev.ID
		if !filter.match(ev) {
			return true
		}
		return writeSSE(w, ev) == nil
	}

	for _, ev := range s.events.SnapshotSince(seen) {
		if !send(ev) {
			return
		}
	}
	flusher.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-live:
			if !open || !send(ev) {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func parseLastEventID(v string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// writeSSE writes one frame. Data is compact JSON, so it fits one data line.
func writeSSE(w io.Writer, ev events.Event) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, ev.Data)
	return err
}
