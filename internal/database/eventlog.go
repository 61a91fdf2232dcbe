package database

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Recorder provides database operations for link sessions and events
type Recorder struct {
	db      *gorm.DB
	session *LinkSession
}

// NewRecorder creates a new recorder instance
func NewRecorder(db *gorm.DB) *Recorder {
	return &Recorder{db: db}
}

// StartSession opens a new session row with a fresh UUID and makes it the
// target for subsequent events.
func (r *Recorder) StartSession(nodeAddr uint8, lineCoding string) (*LinkSession, error) {
	session := &LinkSession{
		ID:         uuid.NewString(),
		NodeAddr:   nodeAddr,
		LineCoding: lineCoding,
		StartedAt:  time.Now(),
	}

	if err := r.db.Create(session).Error; err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	r.session = session
	return session, nil
}

// EndSession stamps the active session closed
func (r *Recorder) EndSession() error {
	if r.session == nil {
		return fmt.Errorf("no active session")
	}

	now := time.Now()
	r.session.EndedAt = &now
	if err := r.db.Save(r.session).Error; err != nil {
		return fmt.Errorf("end session: %w", err)
	}

	r.session = nil
	return nil
}

// RecordSend logs the outcome of an outbound exchange
func (r *Recorder) RecordSend(peer uint8, bytes, retries int, failed bool) error {
	outcome := OutcomeAcked
	if failed {
		outcome = OutcomeFailed
	}
	return r.record(&LinkEvent{
		Direction: DirectionTx,
		Peer:      peer,
		Bytes:     bytes,
		Retries:   retries,
		Outcome:   outcome,
	})
}

// RecordDelivery logs an inbound payload handed to the application
func (r *Recorder) RecordDelivery(peer uint8, bytes int) error {
	return r.record(&LinkEvent{
		Direction: DirectionRx,
		Peer:      peer,
		Bytes:     bytes,
		Outcome:   OutcomeDelivered,
	})
}

func (r *Recorder) record(event *LinkEvent) error {
	if r.session == nil {
		return fmt.Errorf("no active session")
	}

	event.SessionID = r.session.ID
	event.CreatedAt = time.Now()
	if !event.IsValid() {
		return fmt.Errorf("event is not valid: direction=%s, outcome=%s", event.Direction, event.Outcome)
	}

	return r.db.Create(event).Error
}

// SessionEvents returns all events of one session, oldest first
func (r *Recorder) SessionEvents(sessionID string) ([]LinkEvent, error) {
	var events []LinkEvent
	err := r.db.Where("session_id = ?", sessionID).Order("id ASC").Find(&events).Error
	return events, err
}

// RecentEvents returns the newest events across all sessions
func (r *Recorder) RecentEvents(limit int) ([]LinkEvent, error) {
	var events []LinkEvent
	err := r.db.Order("id DESC").Limit(limit).Find(&events).Error
	return events, err
}

// Sessions returns the newest sessions
func (r *Recorder) Sessions(limit int) ([]LinkSession, error) {
	var sessions []LinkSession
	err := r.db.Order("started_at DESC").Limit(limit).Find(&sessions).Error
	return sessions, err
}

// CountByOutcome aggregates event counts for one session
func (r *Recorder) CountByOutcome(sessionID string) (map[string]int64, error) {
	type row struct {
		Outcome string
		Count   int64
	}

	var rows []row
	err := r.db.Model(&LinkEvent{}).
		Select("outcome, count(*) as count").
		Where("session_id = ?", sessionID).
		Group("outcome").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Outcome] = row.Count
	}
	return counts, nil
}
