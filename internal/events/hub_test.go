package events

import (
	"encoding/json"
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	h := NewHub(10)
	ch, cancel := h.Subscribe()
	defer cancel()

	h.Publish(RunStarted, RunStartedData{RunID: "r1", Subcommand: "search"})

	select {
	case ev := <-ch:
		if ev.Type != RunStarted || ev.ID != 1 {
			t.Fatalf("unexpected event: %+v", ev)
		}
		var data RunStartedData
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			t.Fatalf("bad payload: %v", err)
		}
		if data.RunID != "r1" || data.Subcommand != "search" {
			t.Fatalf("unexpected payload: %+v", data)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSnapshotSinceWrapsRing(t *testing.T) {
	h := NewHub(3)
	for i := 0; i < 5; i++ {
		h.Publish(RunFinished, nil)
	}

	all := h.SnapshotSince(0)
	if len(all) != 3 {
		t.Fatalf("expected 3 buffered events, got %d", len(all))
	}
	if all[0].ID != 3 || all[2].ID != 5 {
		t.Fatalf("expected IDs 3..5, got %d..%d", all[0].ID, all[2].ID)
	}
	if string(all[0].Data) != "{}" {
		t.Fatalf("nil payload should be {}, got %s", all[0].Data)
	}

	since := h.SnapshotSince(4)
	if len(since) != 1 || since[0].ID != 5 {
		t.Fatalf("unexpected snapshot: %+v", since)
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub(4)
	_, cancel := h.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer+10; i++ {
			h.Publish(RunStarted, nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	h := NewHub(1)
	ch, cancel := h.Subscribe()
	cancel()
	cancel()

	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel")
	}
	h.Publish(RunStarted, nil)
}
