package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"codelink/backend/internal/audit/domain"
)

type auditRow struct {
	ID        string         `db:"id"`
	Action    string         `db:"action"`
	Source    string         `db:"source"`
	RecordID  sql.NullString `db:"record_id"`
	Reason    sql.NullString `db:"reason"`
	RequestID sql.NullString `db:"request_id"`
	Metadata  sql.NullString `db:"metadata"`
	CreatedAt time.Time      `db:"created_at"`
}

type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository returns an audit log repository that uses the given db for persistence.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create persists the audit log. The audit log must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO handshake_audit (id, action, source, record_id, reason, request_id, metadata, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.Action, a.Source, nullString(a.RecordID), nullString(a.Reason), nullString(a.RequestID), nullString(a.Metadata), a.CreatedAt,
	)
	return err
}

// ListByRecord returns up to limit entries for recordID, newest first.
// Returns (nil, error) only on database errors.
func (r *PostgresRepository) ListByRecord(ctx context.Context, recordID string, limit int) ([]*domain.AuditLog, error) {
	var rows []auditRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT id, action, source, record_id, reason, request_id, metadata, created_at FROM handshake_audit WHERE record_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		recordID, normalizeLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.AuditLog, len(rows))
	for i := range rows {
		out[i] = rowToDomain(&rows[i])
	}
	return out, nil
}

func rowToDomain(row *auditRow) *domain.AuditLog {
	return &domain.AuditLog{
		ID:        row.ID,
		Action:    row.Action,
		Source:    row.Source,
		RecordID:  row.RecordID.String,
		Reason:    row.Reason.String,
		RequestID: row.RequestID.String,
		Metadata:  row.Metadata.String,
		CreatedAt: row.CreatedAt,
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
