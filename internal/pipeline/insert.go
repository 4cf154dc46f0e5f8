package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/jwalitptl/campaignsched/internal/model"
	"github.com/jwalitptl/campaignsched/internal/scheduler"
	"github.com/jwalitptl/campaignsched/internal/store"
)

// BuildRows flattens a scheduling run's per-contact results into
// TrackingRows, applying scope before handing them to InsertBatch. It is
// the bridge between the Scheduling Engine's output and the Delivery
// Pipeline's input, per §4.6's "insertBatch" step.
func BuildRows(results []scheduler.Result, orgID int, batchID string, mode model.SendMode, scope Scope, now time.Time, bulkKind model.IntentKind) []model.TrackingRow {
	var scheduled []model.Intent
	for _, r := range results {
		scheduled = append(scheduled, r.Scheduled...)
	}

	filtered := FilterByScope(scheduled, scope, now, bulkKind)

	rows := make([]model.TrackingRow, 0, len(filtered))
	for _, in := range filtered {
		rows = append(rows, model.TrackingRow{
			OrganizationID: orgID,
			ContactID:      in.ContactID,
			EmailType:      in.Kind,
			ScheduledDate:  in.Date,
			SendStatus:     model.SendStatusPending,
			SendMode:       mode,
			BatchID:        batchID,
		})
	}
	return rows
}

// InsertBatch persists rows built by BuildRows. A duplicate within the
// batch aborts the whole insert (store.ErrDuplicateRow), per §8's
// uniqueness invariant.
func InsertBatch(ctx context.Context, st store.Store, rows []model.TrackingRow) error {
	if err := st.InsertBatch(ctx, rows); err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}
