package clickhouse

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/loykin/appvisor/internal/history"
)

// DefaultTable receives events when the DSN names none.
const DefaultTable = "app_history"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Config locates the ClickHouse server and table.
type Config struct {
	Addr     string // host:port of the native protocol
	Database string
	Username string
	Password string
	Table    string
}

// Sink sends events to ClickHouse using the official ClickHouse Go client.
type Sink struct {
	conn  driver.Conn
	table string
}

// New connects, pings and creates the table when it does not exist.
func New(cfg Config) (*Sink, error) {
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if !tableName.MatchString(cfg.Table) {
		return nil, fmt.Errorf("invalid ClickHouse table name %q", cfg.Table)
	}
	if cfg.Database == "" {
		cfg.Database = "default"
	}
	if cfg.Username == "" {
		cfg.Username = "default"
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	s := &Sink{conn: conn, table: cfg.Table}
	if err := s.ensureSchema(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create ClickHouse table: %w", err)
	}
	return s, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	return s.conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+s.table+` (
		occurred_at DateTime64(3),
		event String,
		name String,
		pid Int64,
		state String,
		started_at Nullable(DateTime64(3)),
		stopped_at Nullable(DateTime64(3)),
		exit_code Int64,
		exit_err Nullable(String),
		restarts Int64,
		reason Nullable(String)
	) ENGINE = MergeTree()
	ORDER BY (name, occurred_at)`)
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table, history.Columns)
	if err := s.conn.Exec(ctx, query, history.Args(e)...); err != nil {
		return fmt.Errorf("failed to insert event into ClickHouse: %w", err)
	}
	return nil
}

func (s *Sink) Recent(ctx context.Context, name string, limit int) ([]history.Event, error) {
	if limit <= 0 {
		limit = 20
	}
	query := fmt.Sprintf(`SELECT %s FROM %s`, history.Columns, s.table)
	args := []any{}
	if name != "" {
		query += ` WHERE name = ?`
		args = append(args, name)
	}
	query += fmt.Sprintf(` ORDER BY occurred_at DESC LIMIT %d`, limit)

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []history.Event
	for rows.Next() {
		var (
			e                       history.Event
			typ                     string
			pid, exitCode, restarts int64
			started, stopped        *time.Time
			exitErr, reason         *string
		)
		if err := rows.Scan(&e.OccurredAt, &typ, &e.Record.Name, &pid, &e.Record.State,
			&started, &stopped, &exitCode, &exitErr, &restarts, &reason); err != nil {
			return nil, err
		}
		e.Type = history.EventType(typ)
		e.Record.PID, e.Record.ExitCode, e.Record.Restarts = int(pid), int(exitCode), int(restarts)
		if started != nil {
			e.Record.StartedAt = *started
		}
		if stopped != nil {
			e.Record.StoppedAt = *stopped
		}
		if exitErr != nil {
			e.Record.ExitErr = *exitErr
		}
		if reason != nil {
			e.Record.Reason = *reason
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
