package history

import (
	"context"
	"database/sql"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart   EventType = "start"
	EventExit    EventType = "exit"
	EventRestart EventType = "restart"
	EventErrored EventType = "errored"
	EventStop    EventType = "stop"
	EventWatch   EventType = "watch"
)

// Record is the app state an event captures.
type Record struct {
	Name      string    `json:"name"`
	PID       int       `json:"pid"`
	State     string    `json:"state"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at"`
	ExitCode  int       `json:"exit_code"`
	ExitErr   string    `json:"exit_error,omitempty"`
	Restarts  int       `json:"restarts"`
	Reason    string    `json:"reason,omitempty"`
}

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}

// Reader is implemented by sinks that can list what they stored.
type Reader interface {
	// Recent returns up to limit events, newest first. An empty name
	// matches every app.
	Recent(ctx context.Context, name string, limit int) ([]Event, error)
}

// NullTime maps the zero time to SQL NULL.
func NullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

// NullString maps "" to SQL NULL.
func NullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Columns is the column list shared by the SQL sinks, in scan order.
const Columns = "occurred_at, event, name, pid, state, started_at, stopped_at, exit_code, exit_err, restarts, reason"

// Args returns the insert arguments for e in Columns order.
func Args(e Event) []any {
	r := e.Record
	return []any{
		e.OccurredAt.UTC(), string(e.Type), r.Name, r.PID, r.State,
		NullTime(r.StartedAt), NullTime(r.StoppedAt), r.ExitCode,
		NullString(r.ExitErr), r.Restarts, NullString(r.Reason),
	}
}

// ScanEvents reads rows selected with Columns.
func ScanEvents(rows *sql.Rows) ([]Event, error) {
	defer func() { _ = rows.Close() }()
	var out []Event
	for rows.Next() {
		var (
			e                Event
			typ              string
			started, stopped sql.NullTime
			exitErr, reason  sql.NullString
		)
		if err := rows.Scan(&e.OccurredAt, &typ, &e.Record.Name, &e.Record.PID, &e.Record.State,
			&started, &stopped, &e.Record.ExitCode, &exitErr, &e.Record.Restarts, &reason); err != nil {
			return nil, err
		}
		e.Type = EventType(typ)
		e.Record.StartedAt = started.Time
		e.Record.StoppedAt = stopped.Time
		e.Record.ExitErr = exitErr.String
		e.Record.Reason = reason.String
		out = append(out, e)
	}
	return out, rows.Err()
}
