package session

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/hbrun/internal/events"
	"github.com/mattjoyce/hbrun/internal/history"
)

func decode[T any](t *testing.T, ev events.Event) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(ev.Data, &out))
	return out
}

func TestExecutePublishesLifecycle(t *testing.T) {
	exe := writeFakeBinary(t, "echo ok\n")
	hub := events.NewHub(16)
	f := newFixture(t, exe, WithEvents(hub))

	report, err := f.session.Execute(context.Background(), Request{Subcommand: "list-profiles", Persist: true})
	require.NoError(t, err)

	evs := hub.SnapshotSince(0)
	require.Len(t, evs, 2)
	assert.Equal(t, events.RunStarted, evs[0].Type)
	assert.Equal(t, events.RunFinished, evs[1].Type)

	started := decode[events.RunStartedData](t, evs[0])
	assert.Equal(t, report.RunID, started.RunID)
	assert.Equal(t, f.session.ID(), started.SessionID)

	finished := decode[events.RunFinishedData](t, evs[1])
	assert.Equal(t, report.RunID, finished.RunID)
	assert.Equal(t, string(history.OutcomeSucceeded), finished.Outcome)
	assert.Equal(t, report.Artifact.Path, finished.ArtifactPath)
	assert.Empty(t, finished.Error)
}

func TestExecuteRejectedPublishesError(t *testing.T) {
	exe := writeFakeBinary(t, "echo ok\n")
	hub := events.NewHub(16)
	f := newFixture(t, exe, WithEvents(hub))

	_, err := f.session.Execute(context.Background(), Request{Subcommand: "search"})
	require.Error(t, err)

	evs := hub.SnapshotSince(0)
	require.Len(t, evs, 2)
	finished := decode[events.RunFinishedData](t, evs[1])
	assert.Equal(t, string(history.OutcomeRejected), finished.Outcome)
	assert.Contains(t, finished.Error, "invalid invocation")
}

func TestBatchPublishesBracketingEvents(t *testing.T) {
	exe := writeFakeBinary(t, "echo ok\n")
	hub := events.NewHub(64)
	f := newFixture(t, exe, WithEvents(hub))

	_, err := f.session.Batch(context.Background(), "/evidence/notes.txt")
	require.Error(t, err)

	evs := hub.SnapshotSince(0)
	require.GreaterOrEqual(t, len(evs), 4)
	assert.Equal(t, events.BatchStarted, evs[0].Type)
	last := evs[len(evs)-1]
	assert.Equal(t, events.BatchFinished, last.Type)

	data := decode[events.BatchData](t, last)
	assert.Equal(t, 1, data.Steps)
	assert.Contains(t, data.Error, "unsupported evidence type")
}
