package scheduler

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jwalitptl/campaignsched/internal/model"
	"github.com/jwalitptl/campaignsched/internal/ruleengine"
)

// DefaultParallelism is the bounded concurrency W of §4.4.
const DefaultParallelism = 16

// Result is one contact's scheduling outcome, gathered by RunBatch.
type Result struct {
	ContactID string
	Scheduled []model.Intent
	Skipped   []model.Intent
}

// RunBatch fans out Schedule over contacts with bounded concurrency W
// (DefaultParallelism when w <= 0), gathering results into a single
// sequence sorted by contact-id then by each contact's own §4.3 Step 5
// order. If ctx is cancelled, outstanding per-contact tasks are cancelled
// and RunBatch returns the context's error with no partial results.
func RunBatch(ctx context.Context, contacts []model.Contact, eng *ruleengine.Engine, start, end time.Time, w int) ([]Result, error) {
	if w <= 0 {
		w = DefaultParallelism
	}

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(w)

	results := make([]Result, len(contacts))
	for i, contact := range contacts {
		i, contact := i, contact
		group.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			scheduled, skipped := Schedule(contact, eng, start, end)
			results[i] = Result{ContactID: contact.ID, Scheduled: scheduled, Skipped: skipped}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].ContactID < results[j].ContactID
	})
	return results, nil
}
