package mailgateway

import (
	"context"
	"fmt"

	"github.com/jwalitptl/campaignsched/pkg/logger"
)

// DryRunGateway never contacts a real provider: it logs the envelope it
// would have sent and reports acceptance with a "dry:"-prefixed synthetic
// message id, per §4.6's dry-run toggle. It is used for whichever send mode
// has its sending gate off, grounded on original_source/sendgrid_client.py's
// dry_run branch.
type DryRunGateway struct {
	log *logger.Logger
	seq *sequence
}

// NewDryRunGateway builds a DryRunGateway. log may be nil.
func NewDryRunGateway(log *logger.Logger) *DryRunGateway {
	return &DryRunGateway{log: log, seq: newSequence()}
}

func (g *DryRunGateway) Send(ctx context.Context, envelope Envelope) (SendResult, error) {
	id := fmt.Sprintf("dry:%d", g.seq.next())
	if g.log != nil {
		g.log.Info("dry-run send",
			"to", envelope.To, "subject", envelope.Subject, "message_id", id)
	}
	return SendResult{Accepted: true, ExternalMessageID: id}, nil
}

func (g *DryRunGateway) QueryStatus(ctx context.Context, externalMessageID string) (StatusResult, error) {
	return StatusResult{Status: StatusDelivered, Details: "dry-run: assumed delivered"}, nil
}

// sequence is an unexported monotonic counter; kept separate from
// math/rand since tests asserting on synthetic message ids need them
// reproducible, not random.
type sequence struct {
	n int64
}

func newSequence() *sequence { return &sequence{} }

func (s *sequence) next() int64 {
	s.n++
	return s.n
}

var _ Gateway = (*DryRunGateway)(nil)
