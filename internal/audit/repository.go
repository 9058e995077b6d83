package audit

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const schema = `
CREATE TABLE IF NOT EXISTS ngsi_exchange_log (
	id             TEXT PRIMARY KEY,
	correlation_id TEXT NOT NULL,
	service        TEXT NOT NULL DEFAULT '',
	subservice     TEXT NOT NULL DEFAULT '',
	entity_id      TEXT NOT NULL,
	entity_type    TEXT NOT NULL DEFAULT '',
	model          TEXT NOT NULL,
	method         TEXT NOT NULL,
	status_code    INTEGER NOT NULL DEFAULT 0,
	outcome        TEXT NOT NULL DEFAULT '',
	error_kind     TEXT NOT NULL DEFAULT '',
	payload_digest TEXT NOT NULL DEFAULT '',
	duration_ms    BIGINT NOT NULL DEFAULT 0,
	created_at     TIMESTAMPTZ NOT NULL
)`

// Repository writes exchange logs.
type Repository struct {
	db *sql.DB
}

// NewRepository constructs an audit repository.
func NewRepository(db *sql.DB) *Repository {
	if db == nil {
		return nil
	}
	return &Repository{db: db}
}

// EnsureSchema creates the exchange log table when missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if r == nil || r.db == nil {
		return errors.New("audit repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

// Log writes an audit entry.
func (r *Repository) Log(ctx context.Context, entry Entry) error {
	if r == nil || r.db == nil {
		return errors.New("audit repo: nil db")
	}
	if entry.ID == "" {
		entry.ID = NewID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
INSERT INTO ngsi_exchange_log (
	id, correlation_id, service, subservice, entity_id, entity_type, model, method,
	status_code, outcome, error_kind, payload_digest, duration_ms, created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
)`, entry.ID, entry.CorrelationID, entry.Service, entry.Subservice, entry.EntityID, entry.EntityType, entry.Model, entry.Method,
		entry.StatusCode, entry.Outcome, entry.ErrorKind, entry.PayloadDigest, entry.Duration.Milliseconds(), entry.CreatedAt)
	return err
}

// CountByCorrelation returns how many exchanges share a correlation id.
func (r *Repository) CountByCorrelation(ctx context.Context, correlationID string) (int, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("audit repo: nil db")
	}
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ngsi_exchange_log WHERE correlation_id = $1`, correlationID).Scan(&n)
	return n, err
}
