package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"zippytrip.org/internal/adminreset"
	"zippytrip.org/internal/audit"
)

var ErrDuplicateEntry = errors.New("pg: duplicate entry")

// Store serves the admin API: role records from profiles and the
// password_reset_logs audit table.
type Store struct {
	db *sql.DB
}

var (
	_ adminreset.RoleLookup = (*Store)(nil)
	_ audit.Sink            = (*Store)(nil)
)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// RoleOf returns the profile role, or "" when the user has no profile.
func (s *Store) RoleOf(ctx context.Context, userID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `select role from profiles where id=$1`, strings.TrimSpace(userID)).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("pg: role lookup: %w", err)
	}
	return strings.TrimSpace(role), nil
}

// Append inserts one password_reset_logs row.
func (s *Store) Append(ctx context.Context, e audit.Entry) error {
	_, err := s.db.ExecContext(ctx, `
		insert into password_reset_logs(id, user_id, reset_by, ip_address, created_at)
		values ($1,$2,$3,$4,$5)
	`, e.ID, e.TargetUserID, e.PerformedBy, nullIfEmpty(e.SourceAddress), e.OccurredAt.UTC())
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == "23505" {
			return fmt.Errorf("%w: %s", ErrDuplicateEntry, e.ID)
		}
		return fmt.Errorf("pg: append reset log: %w", err)
	}
	return nil
}

// ResetLogs returns the most recent entries for a target user, newest first.
func (s *Store) ResetLogs(ctx context.Context, userID string, limit int) ([]audit.Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, user_id, reset_by, coalesce(ip_address, ''), created_at
		from password_reset_logs
		where user_id=$1
		order by created_at desc
		limit $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []audit.Entry
	for rows.Next() {
		var e audit.Entry
		if err := rows.Scan(&e.ID, &e.TargetUserID, &e.PerformedBy, &e.SourceAddress, &e.OccurredAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpsertProfile sets the role record for a user.
func (s *Store) UpsertProfile(ctx context.Context, userID, role string) error {
	userID, role = strings.TrimSpace(userID), strings.TrimSpace(role)
	if userID == "" || role == "" {
		return errors.New("pg: profile id and role are required")
	}
	_, err := s.db.ExecContext(ctx, `
		insert into profiles(id, role, updated_at) values ($1,$2, now())
		on conflict (id) do update set role = excluded.role, updated_at = now()
	`, userID, role)
	return err
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
