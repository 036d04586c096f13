// Package notification defines the outbound patient notification
// collaborator. Delivery transport (email/SMS/push) lives outside this
// service; clinical operations only enqueue through the Sender interface and
// never fail because a notification could not be sent.
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Priority orders notifications for the delivery transport.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Notification is one outbound patient notification.
type Notification struct {
	ID        string     `json:"id"`
	PatientID string     `json:"patient_id"`
	Category  string     `json:"category"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	Priority  Priority   `json:"priority"`
	Link      string     `json:"link,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
}

// Sender is the collaborator interface consumed by clinical services.
type Sender interface {
	Notify(ctx context.Context, patientID, category, title, body string, priority Priority, link string) error
}

// LogSender emits notifications as structured log events. It is the default
// when no transport is configured.
type LogSender struct {
	Logger zerolog.Logger
}

func (s *LogSender) Notify(_ context.Context, patientID, category, title, body string, priority Priority, link string) error {
	s.Logger.Info().
		Str("patient_id", patientID).
		Str("category", category).
		Str("title", title).
		Str("priority", string(priority)).
		Str("link", link).
		Msg("notification")
	return nil
}

// MemorySender stores notifications in memory; used in development and
// tests to assert on emitted notifications.
type MemorySender struct {
	mu   sync.Mutex
	sent []*Notification
}

func NewMemorySender() *MemorySender {
	return &MemorySender{}
}

func (s *MemorySender) Notify(_ context.Context, patientID, category, title, body string, priority Priority, link string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	s.sent = append(s.sent, &Notification{
		ID:        uuid.NewString(),
		PatientID: patientID,
		Category:  category,
		Title:     title,
		Body:      body,
		Priority:  priority,
		Link:      link,
		CreatedAt: now,
		SentAt:    &now,
	})
	return nil
}

// Sent returns a copy of everything notified so far.
func (s *MemorySender) Sent() []*Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Notification, len(s.sent))
	copy(out, s.sent)
	return out
}

// SentTo returns notifications addressed to one patient.
func (s *MemorySender) SentTo(patientID string) []*Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Notification
	for _, n := range s.sent {
		if n.PatientID == patientID {
			out = append(out, n)
		}
	}
	return out
}
