package txqueue

import (
	"context"
	"time"

	"github.com/phat-tools/cluster-deployer/types"
)

// Pending is a broadcast extrinsic waiting for a terminal status.
type Pending struct {
	Nonce   uint64
	Address types.Address
	Call    *types.Call

	waitForFinalization bool
	timeout             time.Duration
	sentAt              time.Time

	done    chan struct{}
	outcome *types.Outcome
	err     error
}

func (p *Pending) finish(outcome *types.Outcome, err error) {
	p.outcome = outcome
	p.err = err
	close(p.done)
}

// Done is closed once the submission is resolved or rejected.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the submission resolves or ctx ends. A ctx ending here only
// stops waiting; the submission itself keeps being watched.
func (p *Pending) Wait(ctx context.Context) (*types.Outcome, error) {
	select {
	case <-p.done:
		return p.outcome, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the outcome of a finished submission. ok is false while it is pending.
func (p *Pending) Result() (outcome *types.Outcome, err error, ok bool) {
	select {
	case <-p.done:
		return p.outcome, p.err, true
	default:
		return nil, nil, false
	}
}
