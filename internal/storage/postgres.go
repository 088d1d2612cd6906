package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/xaenox/triage-bot/internal/models"
)

//go:embed migrations.sql
var migrations embed.FS

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// ConnString renders the config as a lib/pq connection string.
func (c DatabaseConfig) ConnString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, sslMode)
}

// PostgresStorage is the analytics event sink and dead-letter table.
type PostgresStorage struct {
	db *sql.DB
}

func NewPostgresStorage(ctx context.Context, config DatabaseConfig) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", config.ConnString())
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	storage := &PostgresStorage{db: db}

	// Initialize database schema
	if err := storage.initializeSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	return storage, nil
}

func (s *PostgresStorage) initializeSchema(ctx context.Context) error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, string(migrationSQL)); err != nil {
		return fmt.Errorf("error executing migrations: %w", err)
	}
	return nil
}

// WriteEvents bulk-loads one group of events with COPY inside a
// transaction, so a group is written entirely or not at all.
func (s *PostgresStorage) WriteEvents(ctx context.Context, typ models.EventType, events []models.AnalyticsEvent) error {
	if len(events) == 0 {
		return nil
	}

	txn, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer txn.Rollback()

	stmt, err := txn.PrepareContext(ctx, pq.CopyIn("analytics_events",
		"id", "event_type", "user_id", "session_id", "occurred_at", "data"))
	if err != nil {
		return fmt.Errorf("error preparing copy: %w", err)
	}

	for _, ev := range events {
		data, err := json.Marshal(ev.Data)
		if err != nil {
			stmt.Close()
			return fmt.Errorf("error encoding event %s: %w", ev.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, ev.ID, string(typ), ev.UserID, ev.SessionID, ev.Timestamp, string(data)); err != nil {
			stmt.Close()
			return fmt.Errorf("error copying event %s: %w", ev.ID, err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("error flushing copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("error closing copy: %w", err)
	}

	if err := txn.Commit(); err != nil {
		return fmt.Errorf("error committing events: %w", err)
	}
	return nil
}

func (s *PostgresStorage) StoreDeadLetter(ctx context.Context, dl models.DeadLetter) error {
	events, err := json.Marshal(dl.Events)
	if err != nil {
		return fmt.Errorf("error encoding dead letter: %w", err)
	}

	query := `
		INSERT INTO analytics_dead_letters (id, event_type, events, attempts, last_error, failed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`

	failedAt := dl.FailedAt
	if failedAt.IsZero() {
		failedAt = time.Now()
	}
	if _, err := s.db.ExecContext(ctx, query, dl.ID, string(dl.Type), string(events), dl.Attempts, dl.LastErr, failedAt); err != nil {
		return fmt.Errorf("error storing dead letter: %w", err)
	}
	return nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}
