package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/campaignsched/internal/model"
	"github.com/jwalitptl/campaignsched/internal/store"
	"github.com/jwalitptl/campaignsched/pkg/metrics"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "postgres"), metrics.NewMetrics("campaignsched_test", t.Name())), mock
}

func TestInsertBatchSuccess(t *testing.T) {
	s, mock := newMockStore(t)
	rows := []model.TrackingRow{
		{OrganizationID: 1, ContactID: "c1", EmailType: model.IntentBirthday, ScheduledDate: time.Now(), SendStatus: model.SendStatusPending, SendMode: model.SendModeTest, BatchID: "b1"},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO email_send_tracking")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := s.InsertBatch(context.Background(), rows)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertBatchDuplicateRow(t *testing.T) {
	s, mock := newMockStore(t)
	rows := []model.TrackingRow{
		{OrganizationID: 1, ContactID: "c1", EmailType: model.IntentBirthday, ScheduledDate: time.Now(), SendStatus: model.SendStatusPending, SendMode: model.SendModeTest, BatchID: "b1"},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO email_send_tracking")).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	err := s.InsertBatch(context.Background(), rows)
	assert.ErrorIs(t, err, store.ErrDuplicateRow)
}

func TestClaimChunk(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	cols := []string{"id", "org_id", "contact_id", "email_type", "scheduled_date", "send_status",
		"send_mode", "test_email", "send_attempt_count", "last_attempt_date", "last_error",
		"batch_id", "message_id", "delivery_status", "status_checked_at", "status_details",
		"lease_id", "created_at", "updated_at"}
	mock.ExpectQuery(regexp.QuoteMeta("WITH lease AS")).
		WithArgs("b1", 2).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			int64(1), 1, "c1", "birthday", now, "processing", "test", nil, 0, nil, nil,
			"b1", nil, nil, nil, nil, int64(7), now, now,
		))

	rows, leaseID, err := s.ClaimChunk(context.Background(), "b1", 2)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, model.SendStatusProcessing, rows[0].SendStatus)
	assert.Equal(t, int64(7), leaseID)
	require.NotNil(t, rows[0].LeaseID)
	assert.Equal(t, int64(7), *rows[0].LeaseID)
}

func TestFinalizeNoMatchingRowIsInvalidTransition(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE email_send_tracking")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.Finalize(context.Background(), 1, store.FinalizeOutcome{Status: model.SendStatusSent})
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
}

func TestMarkFailedAsRetryable(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE email_send_tracking")).
		WithArgs("b1", 5, model.MaxAttempts).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.MarkFailedAsRetryable(context.Background(), "b1", 5)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
