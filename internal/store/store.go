package store

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrRecordNotFound is returned by UpdateFields when no record exists for the
// given subscription ID.
var ErrRecordNotFound = errors.New("subscription record not found")

// SubscriptionStore provides durable keyed storage for subscription records,
// backed by SQLite. A single writer connection serializes concurrent writes
// for the same subscription ID.
type SubscriptionStore struct {
	db *sql.DB
}

// NewSubscriptionStore opens (or creates) the subscription database in dir.
func NewSubscriptionStore(dir string) (*SubscriptionStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	dbPath := filepath.Join(dir, "subscriptions.db")
	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open subscription db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SubscriptionStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SubscriptionStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS subscriptions (
		stripe_subscription_id TEXT PRIMARY KEY,
		user_id                TEXT NOT NULL,
		stripe_customer_id     TEXT NOT NULL DEFAULT '',
		status                 TEXT NOT NULL,
		current_period_start   INTEGER NOT NULL DEFAULT 0,
		current_period_end     INTEGER NOT NULL DEFAULT 0,
		cancel_at_period_end   INTEGER NOT NULL DEFAULT 0,
		created_at             INTEGER NOT NULL,
		updated_at             INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_subscriptions_user_id ON subscriptions(user_id);
	CREATE INDEX IF NOT EXISTS idx_subscriptions_status ON subscriptions(status);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init subscription schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity (used for readiness probes).
func (s *SubscriptionStore) Ping() error {
	return s.db.Ping()
}

// Close closes the underlying database connection.
func (s *SubscriptionStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Upsert inserts a record keyed by subscription ID, or overwrites the mutable
// fields of an existing one. The stored user_id is set on first insert and
// never changed. A conflicting write whose UpdatedAt is strictly older than
// the stored record is discarded; applied reports whether the write landed.
func (s *SubscriptionStore) Upsert(r *SubscriptionRecord) (applied bool, err error) {
	if r == nil {
		return false, fmt.Errorf("subscription record is nil")
	}
	if err := r.Validate(); err != nil {
		return false, err
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = now
	}

	res, err := s.db.Exec(`
		INSERT INTO subscriptions (
			stripe_subscription_id, user_id, stripe_customer_id, status,
			current_period_start, current_period_end, cancel_at_period_end,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(stripe_subscription_id) DO UPDATE SET
			stripe_customer_id   = excluded.stripe_customer_id,
			status               = excluded.status,
			current_period_start = excluded.current_period_start,
			current_period_end   = excluded.current_period_end,
			cancel_at_period_end = excluded.cancel_at_period_end,
			updated_at           = excluded.updated_at
		WHERE excluded.updated_at >= subscriptions.updated_at`,
		r.StripeSubscriptionID, r.UserID, r.StripeCustomerID, string(r.Status),
		periodUnix(r.CurrentPeriodStart), periodUnix(r.CurrentPeriodEnd), boolToInt(r.CancelAtPeriodEnd),
		r.CreatedAt.Unix(), r.UpdatedAt.Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("upsert subscription: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

// UpdateFields applies a partial update to the record matched by subscription
// ID. It returns ErrRecordNotFound when no record exists. A write whose
// ObservedAt is strictly older than the stored record's updated_at is
// discarded and reported as applied=false.
func (s *SubscriptionStore) UpdateFields(subscriptionID string, u SubscriptionUpdate) (applied bool, err error) {
	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		return false, fmt.Errorf("subscription id is empty")
	}
	observedAt := u.ObservedAt
	if observedAt.IsZero() {
		observedAt = time.Now().UTC()
	}

	sets := []string{"updated_at = ?"}
	args := []any{observedAt.Unix()}
	if u.Status != nil {
		if !IsKnownStatus(*u.Status) {
			return false, fmt.Errorf("unknown subscription status %q", *u.Status)
		}
		sets = append(sets, "status = ?")
		args = append(args, string(*u.Status))
	}
	if u.CurrentPeriodStart != nil {
		sets = append(sets, "current_period_start = ?")
		args = append(args, periodUnix(*u.CurrentPeriodStart))
	}
	if u.CurrentPeriodEnd != nil {
		sets = append(sets, "current_period_end = ?")
		args = append(args, periodUnix(*u.CurrentPeriodEnd))
	}
	if u.CancelAtPeriodEnd != nil {
		sets = append(sets, "cancel_at_period_end = ?")
		args = append(args, boolToInt(*u.CancelAtPeriodEnd))
	}
	args = append(args, subscriptionID, observedAt.Unix())

	res, err := s.db.Exec(
		"UPDATE subscriptions SET "+strings.Join(sets, ", ")+
			" WHERE stripe_subscription_id = ? AND updated_at <= ?",
		args...,
	)
	if err != nil {
		return false, fmt.Errorf("update subscription: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected > 0 {
		return true, nil
	}

	// Zero rows means either the record does not exist or the write was stale.
	existing, err := s.GetBySubscriptionID(subscriptionID)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, ErrRecordNotFound
	}
	return false, nil
}

// GetBySubscriptionID retrieves a record by processor subscription ID.
// Returns nil without error when no record exists.
func (s *SubscriptionStore) GetBySubscriptionID(subscriptionID string) (*SubscriptionRecord, error) {
	row := s.db.QueryRow(selectColumns+" WHERE stripe_subscription_id = ?", subscriptionID)
	return scanRecord(row)
}

// GetByUserID retrieves the user's current record: the most recently created
// one when historical records exist. Returns nil without error when the user
// has no record.
func (s *SubscriptionStore) GetByUserID(userID string) (*SubscriptionRecord, error) {
	row := s.db.QueryRow(selectColumns+`
		WHERE user_id = ?
		ORDER BY created_at DESC, stripe_subscription_id DESC
		LIMIT 1`, userID)
	return scanRecord(row)
}

// CountByStatus returns a map of status -> record count.
func (s *SubscriptionStore) CountByStatus() (map[SubscriptionStatus]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM subscriptions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count subscriptions by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[SubscriptionStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[SubscriptionStatus(status)] = count
	}
	return counts, rows.Err()
}

// CountLapsed returns how many records are past their paid period while the
// stored status still grants access. Used by the stale-record auditor.
func (s *SubscriptionStore) CountLapsed(now time.Time) (int, error) {
	var count int
	row := s.db.QueryRow(`SELECT COUNT(*) FROM subscriptions
		WHERE current_period_end > 0 AND current_period_end < ?
		AND status IN (?, ?, ?)`,
		now.Unix(), string(StatusActive), string(StatusTrialing), string(StatusPastDue))
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count lapsed subscriptions: %w", err)
	}
	return count, nil
}

const selectColumns = `SELECT
	stripe_subscription_id, user_id, stripe_customer_id, status,
	current_period_start, current_period_end, cancel_at_period_end,
	created_at, updated_at
	FROM subscriptions`

// scanner is an interface satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*SubscriptionRecord, error) {
	var r SubscriptionRecord
	var status string
	var periodStart, periodEnd, createdAt, updatedAt int64
	var cancelAtEnd int

	err := s.Scan(
		&r.StripeSubscriptionID, &r.UserID, &r.StripeCustomerID, &status,
		&periodStart, &periodEnd, &cancelAtEnd,
		&createdAt, &updatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan subscription: %w", err)
	}

	r.Status = SubscriptionStatus(status)
	if periodStart > 0 {
		r.CurrentPeriodStart = time.Unix(periodStart, 0).UTC()
	}
	if periodEnd > 0 {
		r.CurrentPeriodEnd = time.Unix(periodEnd, 0).UTC()
	}
	r.CancelAtPeriodEnd = cancelAtEnd != 0
	r.CreatedAt = time.Unix(createdAt, 0).UTC()
	r.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &r, nil
}

func periodUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
