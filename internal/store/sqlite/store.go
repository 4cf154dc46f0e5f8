package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	sqlite "modernc.org/sqlite"

	"github.com/jwalitptl/campaignsched/internal/model"
	"github.com/jwalitptl/campaignsched/internal/store"
)

// sqliteConstraintUnique is SQLITE_CONSTRAINT_UNIQUE from sqlite3.h (2067),
// the extended result code modernc.org/sqlite surfaces for UNIQUE/PRIMARY
// KEY violations.
const sqliteConstraintUnique = 2067

const dateLayout = time.RFC3339

const schemaSQL = `
CREATE TABLE IF NOT EXISTS email_send_tracking (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	org_id             INTEGER NOT NULL,
	contact_id         TEXT NOT NULL,
	email_type         TEXT NOT NULL,
	scheduled_date     TEXT NOT NULL,
	send_status        TEXT NOT NULL,
	send_mode          TEXT NOT NULL,
	test_email         TEXT,
	send_attempt_count INTEGER NOT NULL DEFAULT 0,
	last_attempt_date  TEXT,
	last_error         TEXT,
	batch_id           TEXT NOT NULL,
	message_id         TEXT,
	delivery_status    TEXT,
	status_checked_at  TEXT,
	status_details     TEXT,
	lease_id           INTEGER,
	created_at         TEXT NOT NULL,
	updated_at         TEXT NOT NULL,
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
CREATE TABLE IF NOT EXISTS lease_seq (
	id    INTEGER PRIMARY KEY CHECK (id = 1),
	value INTEGER NOT NULL DEFAULT 0
);
INSERT OR IGNORE INTO lease_seq (id, value) VALUES (1, 0);
`

// row is the wire shape scanned from SQLite, where every date is stored as
// RFC3339 text and converted to model.TrackingRow at the boundary, per
// Design Note "Date-string comparisons" — format only at the edge, never
// mixed with calendar-date arithmetic in the core.
type row struct {
	ID               int64          `db:"id"`
	OrgID            int            `db:"org_id"`
	ContactID        string         `db:"contact_id"`
	EmailType        string         `db:"email_type"`
	ScheduledDate    string         `db:"scheduled_date"`
	SendStatus       string         `db:"send_status"`
	SendMode         string         `db:"send_mode"`
	TestEmail        sql.NullString `db:"test_email"`
	SendAttemptCount int            `db:"send_attempt_count"`
	LastAttemptDate  sql.NullString `db:"last_attempt_date"`
	LastError        sql.NullString `db:"last_error"`
	BatchID          string         `db:"batch_id"`
	MessageID        sql.NullString `db:"message_id"`
	DeliveryStatus   sql.NullString `db:"delivery_status"`
	StatusCheckedAt  sql.NullString `db:"status_checked_at"`
	StatusDetails    sql.NullString `db:"status_details"`
	LeaseID          sql.NullInt64  `db:"lease_id"`
	CreatedAt        string         `db:"created_at"`
	UpdatedAt        string         `db:"updated_at"`
}

func (r row) toModel() model.TrackingRow {
	t := model.TrackingRow{
		ID:               r.ID,
		OrganizationID:   r.OrgID,
		ContactID:        r.ContactID,
		EmailType:        model.IntentKind(r.EmailType),
		SendStatus:       model.SendStatus(r.SendStatus),
		SendMode:         model.SendMode(r.SendMode),
		SendAttemptCount: r.SendAttemptCount,
		BatchID:          r.BatchID,
	}
	t.ScheduledDate, _ = time.Parse(dateLayout, r.ScheduledDate)
	t.CreatedAt, _ = time.Parse(dateLayout, r.CreatedAt)
	t.UpdatedAt, _ = time.Parse(dateLayout, r.UpdatedAt)
	t.TestEmail = nullableString(r.TestEmail)
	t.LastError = nullableString(r.LastError)
	t.MessageID = nullableString(r.MessageID)
	t.DeliveryStatus = nullableString(r.DeliveryStatus)
	t.StatusDetails = nullableString(r.StatusDetails)
	if r.LastAttemptDate.Valid {
		if ts, err := time.Parse(dateLayout, r.LastAttemptDate.String); err == nil {
			t.LastAttemptDate = &ts
		}
	}
	if r.StatusCheckedAt.Valid {
		if ts, err := time.Parse(dateLayout, r.StatusCheckedAt.String); err == nil {
			t.StatusCheckedAt = &ts
		}
	}
	if r.LeaseID.Valid {
		id := r.LeaseID.Int64
		t.LeaseID = &id
	}
	return t
}

func nullableString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

// Store is the SQLite-backed Tracking Store. A single underlying
// connection (see Open) makes BEGIN IMMEDIATE + subsequent statements on
// the same connection equivalent to Postgres's linearizable
// claimChunk/finalize under FOR UPDATE SKIP LOCKED: there is only ever one
// writer, so no second transaction can observe a half-claimed chunk.
type Store struct {
	db *sqlx.DB
}

// New wraps an already-opened *sqlx.DB (see Open) as a store.Store.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaSQL)
	return err
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// withImmediateTx runs fn inside an explicit BEGIN IMMEDIATE block on one
// reserved connection. database/sql's Tx always issues a plain (deferred)
// BEGIN, so immediate-mode locking is driven manually here.
func (s *Store) withImmediateTx(ctx context.Context, fn func(conn *sqlx.Conn) error) error {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return fmt.Errorf("reserve connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("begin immediate: %w", err)
	}
	if err := fn(conn); err != nil {
		_, _ = conn.ExecContext(ctx, "ROLLBACK")
		return err
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) InsertBatch(ctx context.Context, rows []model.TrackingRow) error {
	if len(rows) == 0 {
		return nil
	}
	now := time.Now().UTC().Format(dateLayout)

	return s.withImmediateTx(ctx, func(conn *sqlx.Conn) error {
		const stmt = `
			INSERT INTO email_send_tracking (
				org_id, contact_id, email_type, scheduled_date, send_status, send_mode,
				test_email, send_attempt_count, batch_id, created_at, updated_at
			) VALUES (?,?,?,?,?,?,?,0,?,?,?)
		`
		for i := range rows {
			_, err := conn.ExecContext(ctx, stmt,
				rows[i].OrganizationID, rows[i].ContactID, string(rows[i].EmailType),
				rows[i].ScheduledDate.UTC().Format(dateLayout), string(rows[i].SendStatus), string(rows[i].SendMode),
				rows[i].TestEmail, rows[i].BatchID, now, now,
			)
			if isUniqueViolation(err) {
				return store.ErrDuplicateRow
			}
			if err != nil {
				return fmt.Errorf("insert tracking row: %w", err)
			}
		}
		return nil
	})
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqliteConstraintUnique
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// ClaimChunk draws its lease identifier from the single-row lease_seq
// counter, bumped inside the same BEGIN IMMEDIATE block as the claim
// itself, so the value is as strictly increasing as the one-writer
// connection withImmediateTx already guarantees for the claim.
func (s *Store) ClaimChunk(ctx context.Context, batchID string, n int) (rows []model.TrackingRow, leaseID int64, err error) {
	var claimed []row
	err = s.withImmediateTx(ctx, func(conn *sqlx.Conn) error {
		const selectStmt = `
			SELECT id, org_id, contact_id, email_type, scheduled_date, send_status, send_mode,
				test_email, send_attempt_count, last_attempt_date, last_error, batch_id, message_id,
				delivery_status, status_checked_at, status_details, created_at, updated_at
			FROM email_send_tracking
			WHERE batch_id = ? AND send_status = 'pending'
			ORDER BY scheduled_date ASC
			LIMIT ?
		`
		if err := conn.SelectContext(ctx, &claimed, selectStmt, batchID, n); err != nil {
			return fmt.Errorf("select claimable rows: %w", err)
		}
		if len(claimed) == 0 {
			return nil
		}

		const leaseStmt = `UPDATE lease_seq SET value = value + 1 WHERE id = 1 RETURNING value`
		if err := conn.GetContext(ctx, &leaseID, leaseStmt); err != nil {
			return fmt.Errorf("allocate lease id: %w", err)
		}

		ids := make([]interface{}, len(claimed))
		placeholders := make([]string, len(claimed))
		for i, r := range claimed {
			ids[i] = r.ID
			placeholders[i] = "?"
		}
		updateStmt := fmt.Sprintf(
			"UPDATE email_send_tracking SET send_status='processing', lease_id=?, updated_at=? WHERE id IN (%s)",
			strings.Join(placeholders, ","),
		)
		args := append([]interface{}{leaseID, time.Now().UTC().Format(dateLayout)}, ids...)
		if _, err := conn.ExecContext(ctx, updateStmt, args...); err != nil {
			return fmt.Errorf("claim rows: %w", err)
		}
		for i := range claimed {
			claimed[i].SendStatus = string(model.SendStatusProcessing)
			claimed[i].LeaseID = sql.NullInt64{Int64: leaseID, Valid: true}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	out := make([]model.TrackingRow, len(claimed))
	for i, r := range claimed {
		out[i] = r.toModel()
	}
	return out, leaseID, nil
}

func (s *Store) Finalize(ctx context.Context, rowID int64, outcome store.FinalizeOutcome) error {
	now := time.Now().UTC().Format(dateLayout)
	return s.withImmediateTx(ctx, func(conn *sqlx.Conn) error {
		const stmt = `
			UPDATE email_send_tracking
			SET send_status = ?,
				send_attempt_count = send_attempt_count + 1,
				last_attempt_date = ?,
				last_error = ?,
				message_id = COALESCE(?, message_id),
				delivery_status = COALESCE(?, delivery_status),
				status_details = COALESCE(?, status_details),
				updated_at = ?
			WHERE id = ? AND send_status = 'processing'
		`
		res, err := conn.ExecContext(ctx, stmt, string(outcome.Status), now, outcome.Error,
			outcome.MessageID, outcome.DeliveryStatus, outcome.StatusDetails, now, rowID)
		if err != nil {
			return fmt.Errorf("finalize row %d: %w", rowID, err)
		}
		affected, _ := res.RowsAffected()
		if affected == 0 {
			return store.ErrInvalidTransition
		}
		return nil
	})
}

func (s *Store) MarkFailedAsRetryable(ctx context.Context, batchID string, n int) (int, error) {
	var moved int
	err := s.withImmediateTx(ctx, func(conn *sqlx.Conn) error {
		const stmt = `
			UPDATE email_send_tracking
			SET send_status = 'pending', updated_at = ?
			WHERE id IN (
				SELECT id FROM email_send_tracking
				WHERE batch_id = ? AND send_status = 'failed' AND send_attempt_count < ?
				ORDER BY scheduled_date ASC
				LIMIT ?
			)
		`
		res, err := conn.ExecContext(ctx, stmt, time.Now().UTC().Format(dateLayout), batchID, model.MaxAttempts, n)
		if err != nil {
			return fmt.Errorf("mark failed as retryable: %w", err)
		}
		affected, _ := res.RowsAffected()
		moved = int(affected)
		return nil
	})
	return moved, err
}

func (s *Store) ListStaleDeliveries(ctx context.Context, batchID string, staleBefore time.Time) ([]model.TrackingRow, error) {
	const stmt = `
		SELECT id, org_id, contact_id, email_type, scheduled_date, send_status, send_mode,
			test_email, send_attempt_count, last_attempt_date, last_error, batch_id, message_id,
			delivery_status, status_checked_at, status_details, created_at, updated_at
		FROM email_send_tracking
		WHERE batch_id = ?
			AND send_status IN ('sent', 'deferred')
			AND (status_checked_at IS NULL OR status_checked_at < ?)
	`
	var rows []row
	if err := s.db.SelectContext(ctx, &rows, stmt, batchID, staleBefore.UTC().Format(dateLayout)); err != nil {
		return nil, fmt.Errorf("list stale deliveries: %w", err)
	}
	out := make([]model.TrackingRow, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

func (s *Store) UpdateDeliveryStatus(ctx context.Context, rowID int64, status string, details *string, checkedAt time.Time) error {
	const stmt = `
		UPDATE email_send_tracking
		SET delivery_status = ?, status_details = COALESCE(?, status_details), status_checked_at = ?, updated_at = ?
		WHERE id = ?
	`
	ts := checkedAt.UTC().Format(dateLayout)
	_, err := s.db.ExecContext(ctx, stmt, status, details, ts, ts, rowID)
	return err
}

func (s *Store) FindByMessageID(ctx context.Context, messageID string) (model.TrackingRow, error) {
	const stmt = `
		SELECT id, org_id, contact_id, email_type, scheduled_date, send_status, send_mode,
			test_email, send_attempt_count, last_attempt_date, last_error, batch_id, message_id,
			delivery_status, status_checked_at, status_details, created_at, updated_at
		FROM email_send_tracking
		WHERE message_id = ?
	`
	var r row
	if err := s.db.GetContext(ctx, &r, stmt, messageID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.TrackingRow{}, store.ErrNotFound
		}
		return model.TrackingRow{}, fmt.Errorf("find by message id %s: %w", messageID, err)
	}
	return r.toModel(), nil
}

func (s *Store) GetBatch(ctx context.Context, batchID string) (model.BatchSummary, error) {
	const stmt = `
		SELECT send_mode,
			COUNT(*)                                                    AS total,
			SUM(CASE WHEN send_status = 'pending' THEN 1 ELSE 0 END)     AS pending,
			SUM(CASE WHEN send_status IN ('sent','delivered') THEN 1 ELSE 0 END) AS sent,
			SUM(CASE WHEN send_status = 'failed' THEN 1 ELSE 0 END)      AS failed,
			SUM(CASE WHEN send_status = 'deferred' THEN 1 ELSE 0 END)    AS deferred,
			SUM(CASE WHEN send_status = 'bounced' THEN 1 ELSE 0 END)     AS bounced,
			SUM(CASE WHEN send_status = 'dropped' THEN 1 ELSE 0 END)     AS dropped,
			SUM(CASE WHEN send_status = 'skipped' THEN 1 ELSE 0 END)     AS skipped
		FROM email_send_tracking
		WHERE batch_id = ?
		GROUP BY send_mode
	`
	var summary struct {
		SendMode string `db:"send_mode"`
		Total    int    `db:"total"`
		Pending  int    `db:"pending"`
		Sent     int    `db:"sent"`
		Failed   int    `db:"failed"`
		Deferred int    `db:"deferred"`
		Bounced  int    `db:"bounced"`
		Dropped  int    `db:"dropped"`
		Skipped  int    `db:"skipped"`
	}
	if err := s.db.GetContext(ctx, &summary, stmt, batchID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.BatchSummary{}, store.ErrNotFound
		}
		return model.BatchSummary{}, fmt.Errorf("get batch %s: %w", batchID, err)
	}
	counts := model.BatchCounts{
		Total: summary.Total, Pending: summary.Pending, Sent: summary.Sent, Failed: summary.Failed,
		Deferred: summary.Deferred, Bounced: summary.Bounced, Dropped: summary.Dropped, Skipped: summary.Skipped,
	}
	return model.BatchSummary{
		BatchID: batchID, SendMode: model.SendMode(summary.SendMode), Counts: counts, Status: counts.Status(),
	}, nil
}

func (s *Store) ListBatches(ctx context.Context, filter model.BatchFilter) ([]model.BatchSummary, error) {
	var where []string
	var args []interface{}

	if filter.SendMode != "" {
		where = append(where, "send_mode = ?")
		args = append(args, string(filter.SendMode))
	}
	if filter.Status != "" {
		where = append(where, "batch_id IN (SELECT batch_id FROM email_send_tracking WHERE send_status = ?)")
		args = append(args, string(filter.Status))
	}
	if filter.StartDate != nil {
		where = append(where, "scheduled_date >= ?")
		args = append(args, *filter.StartDate)
	}
	if filter.EndDate != nil {
		where = append(where, "scheduled_date <= ?")
		args = append(args, *filter.EndDate)
	}

	query := `
		SELECT batch_id, send_mode,
			COUNT(*)                                                    AS total,
			SUM(CASE WHEN send_status = 'pending' THEN 1 ELSE 0 END)     AS pending,
			SUM(CASE WHEN send_status IN ('sent','delivered') THEN 1 ELSE 0 END) AS sent,
			SUM(CASE WHEN send_status = 'failed' THEN 1 ELSE 0 END)      AS failed,
			SUM(CASE WHEN send_status = 'deferred' THEN 1 ELSE 0 END)    AS deferred,
			SUM(CASE WHEN send_status = 'bounced' THEN 1 ELSE 0 END)     AS bounced,
			SUM(CASE WHEN send_status = 'dropped' THEN 1 ELSE 0 END)     AS dropped,
			SUM(CASE WHEN send_status = 'skipped' THEN 1 ELSE 0 END)     AS skipped
		FROM email_send_tracking
	`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " GROUP BY batch_id, send_mode ORDER BY batch_id DESC"

	var rows []struct {
		BatchID  string `db:"batch_id"`
		SendMode string `db:"send_mode"`
		Total    int    `db:"total"`
		Pending  int    `db:"pending"`
		Sent     int    `db:"sent"`
		Failed   int    `db:"failed"`
		Deferred int    `db:"deferred"`
		Bounced  int    `db:"bounced"`
		Dropped  int    `db:"dropped"`
		Skipped  int    `db:"skipped"`
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
		out = append(out, model.BatchSummary{BatchID: r.BatchID, SendMode: model.SendMode(r.SendMode), Counts: counts, Status: counts.Status()})
	}
	return out, nil
}

var _ store.Store = (*Store)(nil)
