// Package audit appends domain events to the event_log table so that
// enrollment and grading activity stays reconstructable after the fact.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"sync"
	"time"
)

const (
	EventEnrollmentCreated = "enrollment.created"
	EventEnrollmentRemoved = "enrollment.removed"
	EventRatingChanged     = "rating.changed"
	EventSubmissionGraded  = "submission.graded"
	EventDriftCorrected    = "aggregate.drift_corrected"
)

type Event struct {
	Offset    int64
	Type      string
	Key       string // natural key: enrollmentID, submissionID, courseID
	DataJSON  string
	CreatedAt int64
}

// Recorder is satisfied by the SQL-backed log and the in-memory one used
// in tests. Recording is best-effort: callers log failures but do not
// fail the triggering operation over a missing audit row.
type Recorder interface {
	Append(ctx context.Context, typ, key string, data any) error
}

type EventLog struct{ db *sql.DB }

func NewEventLog(db *sql.DB) *EventLog { return &EventLog{db: db} }

func (l *EventLog) Append(ctx context.Context, typ, key string, data any) error {
	buf, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = l.db.ExecContext(ctx,
		`INSERT INTO event_log (typ, key, data, created_at) VALUES ($1,$2,$3,$4)`,
		typ, key, string(buf), time.Now().Unix())
	return err
}

// MemoryLog collects events in memory for tests and offline wiring.
type MemoryLog struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryLog() *MemoryLog { return &MemoryLog{} }

func (l *MemoryLog) Append(_ context.Context, typ, key string, data any) error {
	buf, err := json.Marshal(data)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, Event{
		Offset:    int64(len(l.events) + 1),
		Type:      typ,
		Key:       key,
		DataJSON:  string(buf),
		CreatedAt: time.Now().Unix(),
	})
	return nil
}

func (l *MemoryLog) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Record appends and logs on failure instead of propagating.
func Record(ctx context.Context, r Recorder, typ, key string, data any) {
	if r == nil {
		return
	}
	if err := r.Append(ctx, typ, key, data); err != nil {
		log.Printf("audit: append %s %s: %v", typ, key, err)
	}
}
