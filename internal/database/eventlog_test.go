package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestRecorder(t *testing.T) *Recorder {
	t.Helper()

	db, err := NewDB(Config{Path: filepath.Join(t.TempDir(), "test.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewRecorder(db.GetDB())
}

// TestSessionLifecycle covers opening, logging into and closing a session.
func TestSessionLifecycle(t *testing.T) {
	r := newTestRecorder(t)

	session, err := r.StartSession(1, "manchester")
	require.NoError(t, err)
	require.NotEmpty(t, session.ID)
	require.Nil(t, session.EndedAt)

	require.NoError(t, r.RecordSend(2, 12, 0, false))
	require.NoError(t, r.RecordSend(2, 12, 5, true))
	require.NoError(t, r.RecordDelivery(2, 40))

	events, err := r.SessionEvents(session.ID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, DirectionTx, events[0].Direction)
	require.Equal(t, OutcomeAcked, events[0].Outcome)
	require.Equal(t, OutcomeFailed, events[1].Outcome)
	require.Equal(t, 5, events[1].Retries)
	require.Equal(t, OutcomeDelivered, events[2].Outcome)

	require.NoError(t, r.EndSession())

	sessions, err := r.Sessions(10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.NotNil(t, sessions[0].EndedAt)
}

// TestRecordWithoutSession verifies events need an open session.
func TestRecordWithoutSession(t *testing.T) {
	r := newTestRecorder(t)
	require.Error(t, r.RecordDelivery(2, 1))
	require.Error(t, r.EndSession())
}

// TestCountByOutcome verifies the per-session aggregation.
func TestCountByOutcome(t *testing.T) {
	r := newTestRecorder(t)

	session, err := r.StartSession(1, "4b5b")
	require.NoError(t, err)

	require.NoError(t, r.RecordSend(2, 1, 0, false))
	require.NoError(t, r.RecordSend(2, 1, 1, false))
	require.NoError(t, r.RecordSend(3, 1, 5, true))
	require.NoError(t, r.RecordDelivery(2, 8))

	counts, err := r.CountByOutcome(session.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2), counts[OutcomeAcked])
	require.Equal(t, int64(1), counts[OutcomeFailed])
	require.Equal(t, int64(1), counts[OutcomeDelivered])
}

// TestEventValidation covers the model-level checks.
func TestEventValidation(t *testing.T) {
	valid := LinkEvent{SessionID: "s", Direction: DirectionRx, Outcome: OutcomeDelivered}
	require.True(t, valid.IsValid())

	require.False(t, LinkEvent{Direction: DirectionRx, Outcome: OutcomeDelivered}.IsValid())
	require.False(t, LinkEvent{SessionID: "s", Direction: "up", Outcome: OutcomeDelivered}.IsValid())
	require.False(t, LinkEvent{SessionID: "s", Direction: DirectionTx, Outcome: "lost"}.IsValid())
}
