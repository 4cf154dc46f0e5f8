package sqlite

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/campaignsched/internal/model"
	"github.com/jwalitptl/campaignsched/internal/store"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "sqlite")), mock
}

func TestInsertBatchSuccess(t *testing.T) {
	s, mock := newMockStore(t)
	rows := []model.TrackingRow{
		{OrganizationID: 1, ContactID: "c1", EmailType: model.IntentBirthday, ScheduledDate: time.Now(), SendStatus: model.SendStatusPending, SendMode: model.SendModeTest, BatchID: "b1"},
	}

	mock.ExpectExec(regexp.QuoteMeta("BEGIN IMMEDIATE")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO email_send_tracking")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("COMMIT")).WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.InsertBatch(context.Background(), rows)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertBatchDuplicateRow(t *testing.T) {
	s, mock := newMockStore(t)
	rows := []model.TrackingRow{
		{OrganizationID: 1, ContactID: "c1", EmailType: model.IntentBirthday, ScheduledDate: time.Now(), SendStatus: model.SendStatusPending, SendMode: model.SendModeTest, BatchID: "b1"},
	}

	mock.ExpectExec(regexp.QuoteMeta("BEGIN IMMEDIATE")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO email_send_tracking")).
		WillReturnError(errUniqueConstraint{})
	mock.ExpectExec(regexp.QuoteMeta("ROLLBACK")).WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.InsertBatch(context.Background(), rows)
	assert.ErrorIs(t, err, store.ErrDuplicateRow)
}

// errUniqueConstraint stands in for the message modernc.org/sqlite raises
// on a UNIQUE violation; isUniqueViolation falls back to substring
// matching on it since its code path recognizes this phrasing, not a
// *sqlite.Error type (sqlmock cannot fabricate driver-specific error
// types).
type errUniqueConstraint struct{}

func (errUniqueConstraint) Error() string {
	return "constraint failed: UNIQUE constraint failed: email_send_tracking.contact_id, email_send_tracking.email_type, email_send_tracking.scheduled_date (2067)"
}

func TestClaimChunk(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC().Format(dateLayout)

	cols := []string{"id", "org_id", "contact_id", "email_type", "scheduled_date", "send_status",
		"send_mode", "test_email", "send_attempt_count", "last_attempt_date", "last_error",
		"batch_id", "message_id", "delivery_status", "status_checked_at", "status_details",
		"created_at", "updated_at"}

	mock.ExpectExec(regexp.QuoteMeta("BEGIN IMMEDIATE")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, org_id, contact_id")).
		WithArgs("b1", 2).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			int64(1), 1, "c1", "birthday", now, "pending", "test", nil, 0, nil, nil,
			"b1", nil, nil, nil, nil, now, now,
		))
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE lease_seq")).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(int64(1)))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE email_send_tracking SET send_status='processing'")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("COMMIT")).WillReturnResult(sqlmock.NewResult(0, 0))

	rows, leaseID, err := s.ClaimChunk(context.Background(), "b1", 2)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, model.SendStatusProcessing, rows[0].SendStatus)
	assert.Equal(t, "c1", rows[0].ContactID)
	assert.Equal(t, int64(1), leaseID)
	require.NotNil(t, rows[0].LeaseID)
	assert.Equal(t, int64(1), *rows[0].LeaseID)
}

func TestFinalizeNoMatchingRowIsInvalidTransition(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("BEGIN IMMEDIATE")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE email_send_tracking")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("ROLLBACK")).WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.Finalize(context.Background(), 1, store.FinalizeOutcome{Status: model.SendStatusSent})
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
}

func TestMarkFailedAsRetryable(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("BEGIN IMMEDIATE")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE email_send_tracking")).
		WithArgs(sqlmock.AnyArg(), "b1", model.MaxAttempts, 5).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta("COMMIT")).WillReturnResult(sqlmock.NewResult(0, 0))

	n, err := s.MarkFailedAsRetryable(context.Background(), "b1", 5)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
