package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/campaignsched/internal/mailgateway"
	"github.com/jwalitptl/campaignsched/internal/model"
	"github.com/jwalitptl/campaignsched/internal/store"
	"github.com/jwalitptl/campaignsched/internal/template"
	"github.com/jwalitptl/campaignsched/pkg/circuitbreaker"
)

// fakeStore is an in-memory store.Store double, standing in for the
// sqlite/postgres adapters so pipeline behavior can be tested without a
// real database connection.
type fakeStore struct {
	mu        sync.Mutex
	rows      []model.TrackingRow
	nextID    int64
	nextLease int64
	staleAt   map[int64]time.Time
}

func newFakeStore(rows []model.TrackingRow) *fakeStore {
	s := &fakeStore{staleAt: make(map[int64]time.Time)}
	for _, r := range rows {
		s.nextID++
		r.ID = s.nextID
		s.rows = append(s.rows, r)
	}
	return s
}

func (s *fakeStore) EnsureSchema(ctx context.Context) error { return nil }

func (s *fakeStore) InsertBatch(ctx context.Context, rows []model.TrackingRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		s.nextID++
		r.ID = s.nextID
		s.rows = append(s.rows, r)
	}
	return nil
}

func (s *fakeStore) ListBatches(ctx context.Context, filter model.BatchFilter) ([]model.BatchSummary, error) {
	return nil, nil
}

func (s *fakeStore) GetBatch(ctx context.Context, batchID string) (model.BatchSummary, error) {
	return model.BatchSummary{}, store.ErrNotFound
}

func (s *fakeStore) ClaimChunk(ctx context.Context, batchID string, n int) ([]model.TrackingRow, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var claimed []model.TrackingRow
	for i := range s.rows {
		if len(claimed) >= n {
			break
		}
		if s.rows[i].BatchID == batchID && s.rows[i].SendStatus == model.SendStatusPending {
			s.rows[i].SendStatus = model.SendStatusProcessing
			claimed = append(claimed, s.rows[i])
		}
	}
	if len(claimed) == 0 {
		return claimed, 0, nil
	}
	s.nextLease++
	lease := s.nextLease
	for i := range claimed {
		claimed[i].LeaseID = &lease
	}
	return claimed, lease, nil
}

func (s *fakeStore) Finalize(ctx context.Context, rowID int64, outcome store.FinalizeOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rows {
		if s.rows[i].ID == rowID {
			if s.rows[i].SendStatus != model.SendStatusProcessing {
				return store.ErrInvalidTransition
			}
			s.rows[i].SendStatus = outcome.Status
			s.rows[i].SendAttemptCount++
			s.rows[i].MessageID = outcome.MessageID
			s.rows[i].LastError = outcome.Error
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *fakeStore) MarkFailedAsRetryable(ctx context.Context, batchID string, n int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	moved := 0
	for i := range s.rows {
		if moved >= n {
			break
		}
		if s.rows[i].BatchID == batchID && s.rows[i].SendStatus == model.SendStatusFailed && s.rows[i].SendAttemptCount < model.MaxAttempts {
			s.rows[i].SendStatus = model.SendStatusPending
			moved++
		}
	}
	return moved, nil
}

func (s *fakeStore) ListStaleDeliveries(ctx context.Context, batchID string, staleBefore time.Time) ([]model.TrackingRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.TrackingRow
	for _, r := range s.rows {
		if r.BatchID == batchID && r.SendStatus == model.SendStatusSent {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateDeliveryStatus(ctx context.Context, rowID int64, status string, details *string, checkedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rows {
		if s.rows[i].ID == rowID {
			s.rows[i].DeliveryStatus = &status
			s.rows[i].StatusDetails = details
			s.rows[i].StatusCheckedAt = &checkedAt
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *fakeStore) FindByMessageID(ctx context.Context, messageID string) (model.TrackingRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.MessageID != nil && *r.MessageID == messageID {
			return r, nil
		}
	}
	return model.TrackingRow{}, store.ErrNotFound
}

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) Ping(ctx context.Context) error { return nil }

func (s *fakeStore) row(id int64) model.TrackingRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.ID == id {
			return r
		}
	}
	return model.TrackingRow{}
}

// stubRenderer always renders the same fixed content.
type stubRenderer struct{ err error }

func (r stubRenderer) Render(kind model.IntentKind, contact model.Contact, org model.Organization, links template.Links) (template.Rendered, error) {
	if r.err != nil {
		return template.Rendered{}, r.err
	}
	return template.Rendered{Subject: "hi", HTMLBody: "<p>hi</p>", TextBody: "hi"}, nil
}

// scriptedGateway returns queued results in order, one per Send call.
type scriptedGateway struct {
	mu      sync.Mutex
	results []mailgateway.SendResult
	errs    []error
	calls   int
	tos     []string
}

func (g *scriptedGateway) Send(ctx context.Context, envelope mailgateway.Envelope) (mailgateway.SendResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := g.calls
	g.calls++
	g.tos = append(g.tos, envelope.To)
	if i < len(g.errs) && g.errs[i] != nil {
		return mailgateway.SendResult{}, g.errs[i]
	}
	if i < len(g.results) {
		return g.results[i], nil
	}
	return mailgateway.SendResult{Accepted: true, ExternalMessageID: "stub"}, nil
}

func (g *scriptedGateway) QueryStatus(ctx context.Context, externalMessageID string) (mailgateway.StatusResult, error) {
	return mailgateway.StatusResult{Status: mailgateway.StatusDelivered}, nil
}

func testBreakers() *circuitbreaker.Registry {
	return circuitbreaker.NewRegistry(func(orgID int) circuitbreaker.Settings {
		return circuitbreaker.Settings{Name: "test", MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, ConsecutiveFailures: 100}
	})
}

func testConfig() Config {
	return Config{ChunkSize: 10, TestAddresses: []string{"t1@example.com", "t2@example.com"}, InterMessageDelay: 0}
}

func pendingRow(contactID, batchID string) model.TrackingRow {
	return model.TrackingRow{
		OrganizationID: 1, ContactID: contactID, EmailType: model.IntentBirthday,
		ScheduledDate: time.Now(), SendStatus: model.SendStatusPending, SendMode: model.SendModeProduction,
		BatchID: batchID,
	}
}

func TestProcessChunkSendsAcceptedRows(t *testing.T) {
	contact := model.Contact{ID: "c1", Email: "real@example.com"}
	st := newFakeStore([]model.TrackingRow{pendingRow("c1", "batch-1")})
	gw := &scriptedGateway{results: []mailgateway.SendResult{{Accepted: true, ExternalMessageID: "ext-1"}}}
	p := New(st, Gateways{Test: gw, Production: gw}, stubRenderer{}, testBreakers(), testConfig(), nil, nil)

	out, err := p.ProcessChunk(context.Background(), "batch-1", 10, map[string]model.Contact{"c1": contact}, model.Organization{Name: "Acme"}, template.Links{})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Claimed)
	assert.Equal(t, 1, out.Sent)

	row := st.row(1)
	assert.Equal(t, model.SendStatusSent, row.SendStatus)
	require.NotNil(t, row.MessageID)
	assert.Equal(t, "ext-1", *row.MessageID)
}

func TestProcessChunkMissingRecipientSkipsWithoutSending(t *testing.T) {
	contact := model.Contact{ID: "c1", Email: ""}
	st := newFakeStore([]model.TrackingRow{pendingRow("c1", "batch-1")})
	gw := &scriptedGateway{}
	p := New(st, Gateways{Test: gw, Production: gw}, stubRenderer{}, testBreakers(), testConfig(), nil, nil)

	out, err := p.ProcessChunk(context.Background(), "batch-1", 10, map[string]model.Contact{"c1": contact}, model.Organization{}, template.Links{})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Skipped)
	assert.Equal(t, 0, gw.calls, "gateway must not be called for a contact with no recipient address")

	row := st.row(1)
	assert.Equal(t, model.SendStatusSkipped, row.SendStatus)
	require.NotNil(t, row.LastError)
	assert.Equal(t, "missing recipient", *row.LastError)
}

func TestProcessChunkTestModeRoundRobinsAddresses(t *testing.T) {
	rows := []model.TrackingRow{
		pendingRow("c1", "batch-1"),
		pendingRow("c2", "batch-1"),
		pendingRow("c3", "batch-1"),
	}
	for i := range rows {
		rows[i].SendMode = model.SendModeTest
	}
	st := newFakeStore(rows)
	contacts := map[string]model.Contact{
		"c1": {ID: "c1", Email: "c1@example.com"},
		"c2": {ID: "c2", Email: "c2@example.com"},
		"c3": {ID: "c3", Email: "c3@example.com"},
	}
	gw := &scriptedGateway{}
	p := New(st, Gateways{Test: gw, Production: gw}, stubRenderer{}, testBreakers(), testConfig(), nil, nil)

	out, err := p.ProcessChunk(context.Background(), "batch-1", 10, contacts, model.Organization{}, template.Links{})
	require.NoError(t, err)
	assert.Equal(t, 3, out.Sent)
	assert.Equal(t, 3, gw.calls)
	assert.Equal(t, []string{"t1@example.com", "t2@example.com", "t1@example.com"}, gw.tos)
}

func TestProcessChunkGatewayRejectionFailsRow(t *testing.T) {
	contact := model.Contact{ID: "c1", Email: "real@example.com"}
	st := newFakeStore([]model.TrackingRow{pendingRow("c1", "batch-1")})
	gw := &scriptedGateway{results: []mailgateway.SendResult{{Accepted: false, Error: "invalid address", Transient: false}}}
	p := New(st, Gateways{Test: gw, Production: gw}, stubRenderer{}, testBreakers(), testConfig(), nil, nil)

	out, err := p.ProcessChunk(context.Background(), "batch-1", 10, map[string]model.Contact{"c1": contact}, model.Organization{}, template.Links{})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Failed)

	row := st.row(1)
	assert.Equal(t, model.SendStatusFailed, row.SendStatus)
	require.NotNil(t, row.LastError)
	assert.Equal(t, "invalid address", *row.LastError)
}

// Scenario: retryFailed moves failed rows back to pending (up to
// model.MaxAttempts) and immediately processes them again.
func TestRetryFailedReprocessesRows(t *testing.T) {
	row := pendingRow("c1", "batch-1")
	row.SendStatus = model.SendStatusFailed
	row.SendAttemptCount = 1
	st := newFakeStore([]model.TrackingRow{row})
	contact := model.Contact{ID: "c1", Email: "real@example.com"}
	gw := &scriptedGateway{results: []mailgateway.SendResult{{Accepted: true, ExternalMessageID: "ext-retry"}}}
	p := New(st, Gateways{Test: gw, Production: gw}, stubRenderer{}, testBreakers(), testConfig(), nil, nil)

	out, err := p.RetryFailed(context.Background(), "batch-1", 10, map[string]model.Contact{"c1": contact}, model.Organization{}, template.Links{})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Sent)

	got := st.row(1)
	assert.Equal(t, model.SendStatusSent, got.SendStatus)
	assert.Equal(t, 2, got.SendAttemptCount)
}

func TestRetryFailedDoesNotMoveRowsAtMaxAttempts(t *testing.T) {
	row := pendingRow("c1", "batch-1")
	row.SendStatus = model.SendStatusFailed
	row.SendAttemptCount = model.MaxAttempts
	st := newFakeStore([]model.TrackingRow{row})
	gw := &scriptedGateway{}
	p := New(st, Gateways{Test: gw, Production: gw}, stubRenderer{}, testBreakers(), testConfig(), nil, nil)

	out, err := p.RetryFailed(context.Background(), "batch-1", 10, nil, model.Organization{}, template.Links{})
	require.NoError(t, err)
	assert.Equal(t, 0, out.Claimed, "a row at MaxAttempts must not be moved back to pending")

	got := st.row(1)
	assert.Equal(t, model.SendStatusFailed, got.SendStatus)
}

func TestUpdateDeliveryStatusAppliesGatewayResult(t *testing.T) {
	row := pendingRow("c1", "batch-1")
	row.SendStatus = model.SendStatusSent
	msgID := "ext-1"
	row.MessageID = &msgID
	st := newFakeStore([]model.TrackingRow{row})
	gw := &scriptedGateway{}
	p := New(st, Gateways{Test: gw, Production: gw}, stubRenderer{}, testBreakers(), testConfig(), nil, nil)

	updated, err := p.UpdateDeliveryStatus(context.Background(), "batch-1")
	require.NoError(t, err)
	assert.Equal(t, 1, updated)

	got := st.row(1)
	require.NotNil(t, got.DeliveryStatus)
	assert.Equal(t, string(mailgateway.StatusDelivered), *got.DeliveryStatus)
}
