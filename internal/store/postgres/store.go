package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jwalitptl/campaignsched/internal/model"
	"github.com/jwalitptl/campaignsched/internal/store"
	"github.com/jwalitptl/campaignsched/pkg/metrics"
)

const schemaSQL = `
CREATE SEQUENCE IF NOT EXISTS email_send_tracking_lease_seq;
CREATE TABLE IF NOT EXISTS email_send_tracking (
	id                 BIGSERIAL PRIMARY KEY,
	org_id             INTEGER NOT NULL,
	contact_id         TEXT NOT NULL,
	email_type         TEXT NOT NULL,
	scheduled_date     TIMESTAMPTZ NOT NULL,
	send_status        TEXT NOT NULL,
	send_mode          TEXT NOT NULL,
	test_email         TEXT,
	send_attempt_count INTEGER NOT NULL DEFAULT 0,
	last_attempt_date  TIMESTAMPTZ,
	last_error         TEXT,
	batch_id           TEXT NOT NULL,
	message_id         TEXT,
	delivery_status    TEXT,
	status_checked_at  TIMESTAMPTZ,
	status_details     TEXT,
	lease_id           BIGINT,
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL,
	UNIQUE (contact_id, email_type, scheduled_date)
);
CREATE INDEX IF NOT EXISTS idx_est_batch_id        ON email_send_tracking (batch_id);
CREATE INDEX IF NOT EXISTS idx_est_send_status      ON email_send_tracking (send_status);
CREATE INDEX IF NOT EXISTS idx_est_send_mode        ON email_send_tracking (send_mode);
CREATE INDEX IF NOT EXISTS idx_est_contact_id       ON email_send_tracking (contact_id);
CREATE INDEX IF NOT EXISTS idx_est_contact_type     ON email_send_tracking (contact_id, email_type);
CREATE INDEX IF NOT EXISTS idx_est_status_scheduled ON email_send_tracking (send_status, scheduled_date);
CREATE INDEX IF NOT EXISTS idx_est_message_id       ON email_send_tracking (message_id);
CREATE INDEX IF NOT EXISTS idx_est_delivery_status  ON email_send_tracking (delivery_status);
`

// Store is the Postgres-backed Tracking Store, using
// "SELECT ... FOR UPDATE SKIP LOCKED" to let multiple pipeline workers
// claim disjoint chunks of the same batch concurrently, grounded on the
// teacher's outboxRepository.GetPendingEventsWithLock.
type Store struct {
	db *sqlx.DB
	m  *metrics.Metrics
}

// New wraps an already-connected *sqlx.DB (see NewDB) as a store.Store.
// m may be nil, in which case no metrics are recorded.
func New(db *sqlx.DB, m *metrics.Metrics) *Store {
	return &Store{db: db, m: m}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaSQL)
	return err
}

func (s *Store) Ping(ctx context.Context) error {
	if s.m != nil {
		stats := s.db.Stats()
		s.m.DatabaseConnections.Set(float64(stats.OpenConnections))
	}
	return s.db.PingContext(ctx)
}

// observe records a database_operations_total/database_operation_duration_seconds
// sample for op, classifying err as "success" or "error".
func (s *Store) observe(op string, start time.Time, err error) {
	if s.m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	s.m.DatabaseOperations.WithLabelValues(op, status).Inc()
	s.m.DatabaseLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) InsertBatch(ctx context.Context, rows []model.TrackingRow) (err error) {
	if len(rows) == 0 {
		return nil
	}
	defer func(start time.Time) { s.observe("insert_batch", start, err) }(time.Now())
	now := time.Now().UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert batch: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const stmt = `
		INSERT INTO email_send_tracking (
			org_id, contact_id, email_type, scheduled_date, send_status, send_mode,
			test_email, send_attempt_count, batch_id, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,0,$8,$9,$9)
	`
	for i := range rows {
		rows[i].CreatedAt, rows[i].UpdatedAt = now, now
		_, err := tx.ExecContext(ctx, stmt,
			rows[i].OrganizationID, rows[i].ContactID, rows[i].EmailType, rows[i].ScheduledDate,
			rows[i].SendStatus, rows[i].SendMode, rows[i].TestEmail, rows[i].BatchID, now,
		)
		if isUniqueViolation(err) {
			return store.ErrDuplicateRow
		}
		if err != nil {
			return fmt.Errorf("insert tracking row: %w", err)
		}
	}
	return tx.Commit()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// ClaimChunk draws its lease identifier from email_send_tracking_lease_seq,
// so every claim across every worker sees a strictly increasing value even
// under concurrent FOR UPDATE SKIP LOCKED claims.
func (s *Store) ClaimChunk(ctx context.Context, batchID string, n int) (rows []model.TrackingRow, leaseID int64, err error) {
	defer func(start time.Time) { s.observe("claim_chunk", start, err) }(time.Now())
	const stmt = `
		WITH lease AS (
			SELECT nextval('email_send_tracking_lease_seq') AS id
		),
		claimed AS (
			SELECT id FROM email_send_tracking
			WHERE batch_id = $1 AND send_status = 'pending'
			ORDER BY scheduled_date ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $2
		)
		UPDATE email_send_tracking AS t
		SET send_status = 'processing', updated_at = now(), lease_id = (SELECT id FROM lease)
		FROM claimed
		WHERE t.id = claimed.id
		RETURNING t.id, t.org_id, t.contact_id, t.email_type, t.scheduled_date, t.send_status,
			t.send_mode, t.test_email, t.send_attempt_count, t.last_attempt_date, t.last_error,
			t.batch_id, t.message_id, t.delivery_status, t.status_checked_at, t.status_details,
			t.lease_id, t.created_at, t.updated_at
	`
	if err = s.db.SelectContext(ctx, &rows, stmt, batchID, n); err != nil {
		return nil, 0, fmt.Errorf("claim chunk: %w", err)
	}
	if len(rows) > 0 && rows[0].LeaseID != nil {
		leaseID = *rows[0].LeaseID
	}
	return rows, leaseID, nil
}

func (s *Store) Finalize(ctx context.Context, rowID int64, outcome store.FinalizeOutcome) (err error) {
	defer func(start time.Time) { s.observe("finalize", start, err) }(time.Now())
	const stmt = `
		UPDATE email_send_tracking
		SET send_status = $1,
			send_attempt_count = send_attempt_count + 1,
			last_attempt_date = $2,
			last_error = $3,
			message_id = COALESCE($4, message_id),
			delivery_status = COALESCE($5, delivery_status),
			status_details = COALESCE($6, status_details),
			updated_at = $2
		WHERE id = $7 AND send_status = 'processing'
	`
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, stmt, outcome.Status, now, outcome.Error,
		outcome.MessageID, outcome.DeliveryStatus, outcome.StatusDetails, rowID)
	if err != nil {
		return fmt.Errorf("finalize row %d: %w", rowID, err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return store.ErrInvalidTransition
	}
	return nil
}

func (s *Store) MarkFailedAsRetryable(ctx context.Context, batchID string, n int) (int, error) {
	const stmt = `
		UPDATE email_send_tracking
		SET send_status = 'pending', updated_at = now()
		WHERE id IN (
			SELECT id FROM email_send_tracking
			WHERE batch_id = $1 AND send_status = 'failed' AND send_attempt_count < $3
			ORDER BY scheduled_date ASC
			LIMIT $2
		)
	`
	res, err := s.db.ExecContext(ctx, stmt, batchID, n, model.MaxAttempts)
	if err != nil {
		return 0, fmt.Errorf("mark failed as retryable: %w", err)
	}
	affected, _ := res.RowsAffected()
	return int(affected), nil
}

func (s *Store) ListStaleDeliveries(ctx context.Context, batchID string, staleBefore time.Time) ([]model.TrackingRow, error) {
	const stmt = `
		SELECT id, org_id, contact_id, email_type, scheduled_date, send_status, send_mode,
			test_email, send_attempt_count, last_attempt_date, last_error, batch_id, message_id,
			delivery_status, status_checked_at, status_details, created_at, updated_at
		FROM email_send_tracking
		WHERE batch_id = $1
			AND send_status IN ('sent', 'deferred')
			AND (status_checked_at IS NULL OR status_checked_at < $2)
	`
	var rows []model.TrackingRow
	if err := s.db.SelectContext(ctx, &rows, stmt, batchID, staleBefore); err != nil {
		return nil, fmt.Errorf("list stale deliveries: %w", err)
	}
	return rows, nil
}

func (s *Store) UpdateDeliveryStatus(ctx context.Context, rowID int64, status string, details *string, checkedAt time.Time) error {
	const stmt = `
		UPDATE email_send_tracking
		SET delivery_status = $1, status_details = COALESCE($2, status_details), status_checked_at = $3, updated_at = $3
		WHERE id = $4
	`
	_, err := s.db.ExecContext(ctx, stmt, status, details, checkedAt, rowID)
	return err
}

func (s *Store) FindByMessageID(ctx context.Context, messageID string) (model.TrackingRow, error) {
	const stmt = `
		SELECT id, org_id, contact_id, email_type, scheduled_date, send_status, send_mode,
			test_email, send_attempt_count, last_attempt_date, last_error, batch_id, message_id,
			delivery_status, status_checked_at, status_details, created_at, updated_at
		FROM email_send_tracking
		WHERE message_id = $1
	`
	var row model.TrackingRow
	if err := s.db.GetContext(ctx, &row, stmt, messageID); err != nil {
		if err == sql.ErrNoRows {
			return model.TrackingRow{}, store.ErrNotFound
		}
		return model.TrackingRow{}, fmt.Errorf("find by message id %s: %w", messageID, err)
	}
	return row, nil
}

func (s *Store) GetBatch(ctx context.Context, batchID string) (model.BatchSummary, error) {
	const stmt = `
		SELECT send_mode,
			COUNT(*)                                             AS total,
			COUNT(*) FILTER (WHERE send_status = 'pending')       AS pending,
			COUNT(*) FILTER (WHERE send_status IN ('sent','delivered')) AS sent,
			COUNT(*) FILTER (WHERE send_status = 'failed')        AS failed,
			COUNT(*) FILTER (WHERE send_status = 'deferred')      AS deferred,
			COUNT(*) FILTER (WHERE send_status = 'bounced')       AS bounced,
			COUNT(*) FILTER (WHERE send_status = 'dropped')       AS dropped,
			COUNT(*) FILTER (WHERE send_status = 'skipped')       AS skipped
		FROM email_send_tracking
		WHERE batch_id = $1
		GROUP BY send_mode
	`
	var row struct {
		SendMode model.SendMode `db:"send_mode"`
		Total    int            `db:"total"`
		Pending  int            `db:"pending"`
		Sent     int            `db:"sent"`
		Failed   int            `db:"failed"`
		Deferred int            `db:"deferred"`
		Bounced  int            `db:"bounced"`
		Dropped  int            `db:"dropped"`
		Skipped  int            `db:"skipped"`
	}
	if err := s.db.GetContext(ctx, &row, stmt, batchID); err != nil {
		if err == sql.ErrNoRows {
			return model.BatchSummary{}, store.ErrNotFound
		}
		return model.BatchSummary{}, fmt.Errorf("get batch %s: %w", batchID, err)
	}

	counts := model.BatchCounts{
		Total: row.Total, Pending: row.Pending, Sent: row.Sent, Failed: row.Failed,
		Deferred: row.Deferred, Bounced: row.Bounced, Dropped: row.Dropped, Skipped: row.Skipped,
	}
	return model.BatchSummary{
		BatchID:  batchID,
		SendMode: row.SendMode,
		Counts:   counts,
		Status:   counts.Status(),
	}, nil
}

func (s *Store) ListBatches(ctx context.Context, filter model.BatchFilter) ([]model.BatchSummary, error) {
	var where []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.SendMode != "" {
		where = append(where, "send_mode = "+arg(filter.SendMode))
	}
	if filter.Status != "" {
		where = append(where, "batch_id IN (SELECT batch_id FROM email_send_tracking WHERE send_status = "+arg(filter.Status)+")")
	}
	if filter.StartDate != nil {
		where = append(where, "scheduled_date >= "+arg(*filter.StartDate))
	}
	if filter.EndDate != nil {
		where = append(where, "scheduled_date <= "+arg(*filter.EndDate))
	}

	query := `
		SELECT batch_id, send_mode,
			COUNT(*)                                             AS total,
			COUNT(*) FILTER (WHERE send_status = 'pending')       AS pending,
			COUNT(*) FILTER (WHERE send_status IN ('sent','delivered')) AS sent,
			COUNT(*) FILTER (WHERE send_status = 'failed')        AS failed,
			COUNT(*) FILTER (WHERE send_status = 'deferred')      AS deferred,
			COUNT(*) FILTER (WHERE send_status = 'bounced')       AS bounced,
			COUNT(*) FILTER (WHERE send_status = 'dropped')       AS dropped,
			COUNT(*) FILTER (WHERE send_status = 'skipped')       AS skipped
		FROM email_send_tracking
	`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " GROUP BY batch_id, send_mode ORDER BY batch_id DESC"

	var rows []struct {
		BatchID  string         `db:"batch_id"`
		SendMode model.SendMode `db:"send_mode"`
		Total    int            `db:"total"`
		Pending  int            `db:"pending"`
		Sent     int            `db:"sent"`
		Failed   int            `db:"failed"`
		Deferred int            `db:"deferred"`
		Bounced  int            `db:"bounced"`
		Dropped  int            `db:"dropped"`
		Skipped  int            `db:"skipped"`
	}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}

	out := make([]model.BatchSummary, 0, len(rows))
	for _, r := range rows {
		counts := model.BatchCounts{
			Total: r.Total, Pending: r.Pending, Sent: r.Sent, Failed: r.Failed,
			Deferred: r.Deferred, Bounced: r.Bounced, Dropped: r.Dropped, Skipped: r.Skipped,
		}
		out = append(out, model.BatchSummary{BatchID: r.BatchID, SendMode: r.SendMode, Counts: counts, Status: counts.Status()})
	}
	return out, nil
}

var _ store.Store = (*Store)(nil)
