package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"codelink/backend/internal/handshake/domain"
)

const pgUniqueViolation = "23505"

const selectColumns = `SELECT id, login_code, fingerprint, hash_and_salt, created_at, expires_at, approved_at, redeemed_at, code_released_at FROM authentication`

type authenticationRow struct {
	ID             string         `db:"id"`
	LoginCode      string         `db:"login_code"`
	Fingerprint    string         `db:"fingerprint"`
	HashAndSalt    sql.NullString `db:"hash_and_salt"`
	CreatedAt      time.Time      `db:"created_at"`
	ExpiresAt      time.Time      `db:"expires_at"`
	ApprovedAt     sql.NullTime   `db:"approved_at"`
	RedeemedAt     sql.NullTime   `db:"redeemed_at"`
	CodeReleasedAt sql.NullTime   `db:"code_released_at"`
}

type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository returns an authentication repository that uses the given db for persistence.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create releases stale holders of rec.LoginCode and inserts rec in one transaction.
func (r *PostgresRepository) Create(ctx context.Context, rec *domain.AuthenticationRecord, releaseBefore time.Time) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`UPDATE authentication SET code_released_at = $1 WHERE login_code = $2 AND code_released_at IS NULL AND expires_at <= $3`,
		rec.CreatedAt, rec.LoginCode, releaseBefore,
	)
	if err != nil {
		return fmt.Errorf("release login code: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO authentication (id, login_code, fingerprint, hash_and_salt, created_at, expires_at) VALUES ($1, $2, $3, NULL, $4, $5)`,
		rec.ID, rec.LoginCode, rec.Fingerprint, rec.CreatedAt, rec.ExpiresAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrLoginCodeTaken
		}
		return fmt.Errorf("insert authentication: %w", err)
	}
	return tx.Commit()
}

// GetActiveByLoginCode returns the record holding loginCode, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetActiveByLoginCode(ctx context.Context, loginCode string) (*domain.AuthenticationRecord, error) {
	return r.getOne(ctx, selectColumns+` WHERE login_code = $1 AND code_released_at IS NULL`, loginCode)
}

// GetByLoginCodeAndFingerprint returns the active record bound to both values, or nil if not found.
func (r *PostgresRepository) GetByLoginCodeAndFingerprint(ctx context.Context, loginCode, fingerprint string) (*domain.AuthenticationRecord, error) {
	return r.getOne(ctx, selectColumns+` WHERE login_code = $1 AND fingerprint = $2 AND code_released_at IS NULL`, loginCode, fingerprint)
}

// GetByFingerprint returns the record for fingerprint, or nil if not found. Released records
// are still returned: a token issued before the code was recycled stays verifiable.
func (r *PostgresRepository) GetByFingerprint(ctx context.Context, fingerprint string) (*domain.AuthenticationRecord, error) {
	return r.getOne(ctx, selectColumns+` WHERE fingerprint = $1`, fingerprint)
}

// SetHashAndSalt writes hash once. The conditional update makes the first approval win.
func (r *PostgresRepository) SetHashAndSalt(ctx context.Context, id, hash string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE authentication SET hash_and_salt = $1, approved_at = $2 WHERE id = $3 AND hash_and_salt IS NULL AND code_released_at IS NULL AND expires_at > $2`,
		hash, at, id,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ClearHashAndSalt resets an approval whose token never reached the TTL store.
func (r *PostgresRepository) ClearHashAndSalt(ctx context.Context, id, hash string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE authentication SET hash_and_salt = NULL, approved_at = NULL WHERE id = $1 AND hash_and_salt = $2 AND redeemed_at IS NULL`,
		id, hash,
	)
	return err
}

// MarkRedeemed sets redeemed_at unless already set.
func (r *PostgresRepository) MarkRedeemed(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE authentication SET redeemed_at = $1 WHERE id = $2 AND redeemed_at IS NULL`,
		at, id,
	)
	return err
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, args ...any) (*domain.AuthenticationRecord, error) {
	var row authenticationRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rowToDomain(&row), nil
}

func rowToDomain(row *authenticationRow) *domain.AuthenticationRecord {
	rec := &domain.AuthenticationRecord{
		ID:          row.ID,
		LoginCode:   row.LoginCode,
		Fingerprint: row.Fingerprint,
		CreatedAt:   row.CreatedAt,
		ExpiresAt:   row.ExpiresAt,
	}
	if row.HashAndSalt.Valid {
		rec.HashAndSalt = row.HashAndSalt.String
	}
	if row.ApprovedAt.Valid {
		t := row.ApprovedAt.Time
		rec.ApprovedAt = &t
	}
	if row.RedeemedAt.Valid {
		t := row.RedeemedAt.Time
		rec.RedeemedAt = &t
	}
	if row.CodeReleasedAt.Valid {
		t := row.CodeReleasedAt.Time
		rec.CodeReleasedAt = &t
	}
	return rec
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
