package database

import (
	"fmt"
	"time"
)

// Event directions
const (
	DirectionTx = "tx"
	DirectionRx = "rx"
)

// Event outcomes
const (
	OutcomeAcked     = "acked"
	OutcomeFailed    = "failed"
	OutcomeDelivered = "delivered"
)

// LinkSession represents one run of the modem daemon
type LinkSession struct {
	ID         string     `gorm:"primarykey;size:36" json:"id"`
	NodeAddr   uint8      `gorm:"index;not null" json:"node_addr"`
	LineCoding string     `gorm:"size:16" json:"line_coding"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at"`
}

// TableName specifies the table name for GORM
func (LinkSession) TableName() string {
	return "link_sessions"
}

// String returns a formatted string representation
func (s LinkSession) String() string {
	result := fmt.Sprintf("session %s node %d (%s)", s.ID, s.NodeAddr, s.LineCoding)
	if s.EndedAt != nil {
		result += fmt.Sprintf(" ended after %s", s.EndedAt.Sub(s.StartedAt).Round(time.Second))
	}
	return result
}

// LinkEvent represents one MAC exchange outcome within a session
type LinkEvent struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	SessionID string    `gorm:"index;size:36;not null" json:"session_id"`
	Direction string    `gorm:"size:2;not null" json:"direction"`
	Peer      uint8     `json:"peer"`
	Bytes     int       `json:"bytes"`
	Retries   int       `json:"retries"`
	Outcome   string    `gorm:"index;size:12;not null" json:"outcome"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for GORM
func (LinkEvent) TableName() string {
	return "link_events"
}

// IsValid checks if the event has a known direction and outcome
func (e LinkEvent) IsValid() bool {
	if e.SessionID == "" {
		return false
	}
	if e.Direction != DirectionTx && e.Direction != DirectionRx {
		return false
	}
	switch e.Outcome {
	case OutcomeAcked, OutcomeFailed, OutcomeDelivered:
		return true
	}
	return false
}
