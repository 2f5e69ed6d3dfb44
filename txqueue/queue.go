// Package txqueue submits signed extrinsics without waiting for the previous one of
// the same account to land. It keeps the next nonce of every account it has sent
// from, assigns nonces in call order and resolves each submission from the
// extrinsic's status stream.
//
// Run one Queue per signer per process: nonces are not coordinated across queues.
package txqueue

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/pkg/errors"

	"github.com/phat-tools/cluster-deployer/log"
	"github.com/phat-tools/cluster-deployer/types"
)

// statusBuffer is the capacity of a submission's status channel.
const statusBuffer = 8

// NonceReader reads an account's next usable nonce from the chain, pool included.
type NonceReader interface {
	AccountNextIndex(ctx context.Context, address types.Address) (uint64, error)
}

// Broadcaster signs call with signer's key at nonce, broadcasts it and streams its
// status updates into ch until the subscription is cancelled.
type Broadcaster interface {
	SignAndBroadcast(ctx context.Context, call *types.Call, signer *types.Account, nonce uint64, ch chan<- *types.TxStatus) (event.Subscription, error)
}

// Client is what the queue needs from the chain.
type Client interface {
	NonceReader
	Broadcaster
}

// Queue assigns nonces and tracks submissions.
type Queue struct {
	client         Client
	defaultTimeout time.Duration
	logger         *log.Logger

	mu     sync.Mutex
	nonces map[types.Address]uint64
	// slots serialize nonce assignment and broadcast per address
	slots map[types.Address]*sync.Mutex
}

// Option configures a Queue.
type Option func(*Queue)

// WithDefaultTimeout bounds every submission that does not set its own timeout.
// Zero waits for a terminal status forever.
func WithDefaultTimeout(d time.Duration) Option {
	return func(q *Queue) {
		q.defaultTimeout = d
	}
}

// WithLogger replaces the module logger.
func WithLogger(logger *log.Logger) Option {
	return func(q *Queue) {
		q.logger = logger
	}
}

// New creates a queue submitting through client.
func New(client Client, opts ...Option) *Queue {
	q := &Queue{
		client: client,
		nonces: make(map[types.Address]uint64),
		slots:  make(map[types.Address]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.logger == nil {
		q.logger = log.NewLogger("txqueue")
	}
	return q
}

type submitOptions struct {
	waitForFinalization bool
	timeout             time.Duration
}

// SubmitOption configures one submission.
type SubmitOption func(*submitOptions)

// WaitForFinalization resolves the submission once its block is finalized instead
// of as soon as it is included.
func WaitForFinalization() SubmitOption {
	return func(o *submitOptions) {
		o.waitForFinalization = true
	}
}

// WithTimeout fails the submission with ErrSubmitTimeout if no terminal status
// arrives within d of the broadcast.
func WithTimeout(d time.Duration) SubmitOption {
	return func(o *submitOptions) {
		o.timeout = d
	}
}

// NextNonce returns the larger of the cached next nonce and the chain's. The chain
// is always asked since another process may have used the account.
func (q *Queue) NextNonce(ctx context.Context, address types.Address) (uint64, error) {
	onChain, err := q.client.AccountNextIndex(ctx, address)
	if err != nil {
		return 0, err
	}
	q.mu.Lock()
	cached := q.nonces[address]
	q.mu.Unlock()
	if cached > onChain {
		return cached, nil
	}
	return onChain, nil
}

// CachedNonce returns the next nonce the queue would hand out without asking the chain.
func (q *Queue) CachedNonce(address types.Address) (uint64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n, ok := q.nonces[address]
	return n, ok
}

// MarkNonceFailed hands nonce back: if it is below the cached next nonce the cache
// drops to it, so the next submission reuses the slot instead of leaving a gap.
func (q *Queue) MarkNonceFailed(address types.Address, nonce uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	next, ok := q.nonces[address]
	if !ok || next == 0 {
		return
	}
	if nonce < next {
		q.nonces[address] = nonce
		q.logger.Debug().Str("address", address.String()).Uint64("nonce", nonce).Uint64("was", next).Msg("Rolled back nonce")
	}
}

func (q *Queue) slot(address types.Address) *sync.Mutex {
	q.mu.Lock()
	defer q.mu.Unlock()
	s, ok := q.slots[address]
	if !ok {
		s = &sync.Mutex{}
		q.slots[address] = s
	}
	return s
}

// Submit assigns the next nonce of signer to call and broadcasts it. It returns
// once the ledger accepted the broadcast; the returned Pending resolves when the
// extrinsic reaches a terminal status. Cancelling ctx abandons the submission.
func (q *Queue) Submit(ctx context.Context, call *types.Call, signer *types.Account, opts ...SubmitOption) (*Pending, error) {
	o := submitOptions{timeout: q.defaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	address := signer.Address

	slot := q.slot(address)
	slot.Lock()
	nonce, err := q.NextNonce(ctx, address)
	if err != nil {
		slot.Unlock()
		return nil, errors.Wrapf(err, "read next nonce of %s", address)
	}
	q.mu.Lock()
	q.nonces[address] = nonce + 1
	q.mu.Unlock()

	var (
		watchCtx context.Context
		cancel   context.CancelFunc
	)
	if o.timeout > 0 {
		watchCtx, cancel = context.WithTimeout(ctx, o.timeout)
	} else {
		watchCtx, cancel = context.WithCancel(ctx)
	}
	statusCh := make(chan *types.TxStatus, statusBuffer)
	sub, err := q.client.SignAndBroadcast(watchCtx, call, signer, nonce, statusCh)
	slot.Unlock()
	if err != nil {
		cancel()
		q.MarkNonceFailed(address, nonce)
		SubmissionCounter.WithLabelValues(resultBroadcastError).Inc()
		return nil, errors.Wrapf(err, "broadcast %s with nonce %d", call, nonce)
	}

	p := &Pending{
		Nonce:               nonce,
		Address:             address,
		Call:                call,
		waitForFinalization: o.waitForFinalization,
		timeout:             o.timeout,
		done:                make(chan struct{}),
		sentAt:              time.Now(),
	}
	q.logger.Debug().Str("call", call.String()).Str("address", address.String()).Uint64("nonce", nonce).
		Bool("waitForFinalization", o.waitForFinalization).Msg("Broadcast extrinsic")
	InFlightGauge.Inc()
	go q.watch(watchCtx, cancel, p, sub, statusCh)
	return p, nil
}

// SubmitAndWait submits call and blocks until it resolves.
func (q *Queue) SubmitAndWait(ctx context.Context, call *types.Call, signer *types.Account, opts ...SubmitOption) (*types.Outcome, error) {
	p, err := q.Submit(ctx, call, signer, opts...)
	if err != nil {
		return nil, err
	}
	return p.Wait(ctx)
}

func (q *Queue) watch(ctx context.Context, cancel context.CancelFunc, p *Pending, sub event.Subscription, statusCh <-chan *types.TxStatus) {
	defer cancel()
	defer sub.Unsubscribe()
	defer InFlightGauge.Dec()

	w := &watcher{queue: q, pending: p, sub: sub}
	for {
		select {
		case status := <-statusCh:
			if w.handle(status) {
				return
			}
		case err := <-sub.Err():
			// statuses sent right before the stream ended are still buffered
		drain:
			for {
				select {
				case status := <-statusCh:
					if w.handle(status) {
						return
					}
				default:
					break drain
				}
			}
			if ctx.Err() != nil {
				w.abandon(ctx)
				return
			}
			if err == nil {
				err = ErrSubscriptionClosed
			}
			w.reject(resultStreamError, errors.Wrap(err, "watch extrinsic status"))
			return
		case <-ctx.Done():
			w.abandon(ctx)
			return
		}
	}
}

// watcher applies status updates to one pending submission.
type watcher struct {
	queue   *Queue
	pending *Pending
	sub     event.Subscription

	included     bool
	inBlockHash  types.Hash
	inBlockEvent []types.Event
}

// handle returns true once the submission is resolved.
func (w *watcher) handle(status *types.TxStatus) bool {
	if status == nil {
		return false
	}
	p := w.pending
	switch status.Kind {
	case types.StatusInBlock:
		if failed, ok := types.FindEvent(status.Events, types.SectionSystem, types.MethodExtrinsicFailed); ok {
			w.reject(resultFailed, newExtrinsicFailedError(status.BlockHash, failed))
			return true
		}
		if !p.waitForFinalization {
			w.resolve(resultIncluded, &types.Outcome{Hash: status.BlockHash, Events: status.Events})
			return true
		}
		w.included = true
		w.inBlockHash = status.BlockHash
		w.inBlockEvent = status.Events
		w.queue.logger.Debug().Uint64("nonce", p.Nonce).Str("block", status.BlockHash.Hex()).Msg("Included, waiting for finalization")
		return false

	case types.StatusFinalized:
		outcome := &types.Outcome{Hash: w.inBlockHash, Events: status.Events}
		if !w.included {
			if failed, ok := types.FindEvent(status.Events, types.SectionSystem, types.MethodExtrinsicFailed); ok {
				w.reject(resultFailed, newExtrinsicFailedError(status.BlockHash, failed))
				return true
			}
			outcome.Hash = status.BlockHash
		}
		if len(outcome.Events) == 0 {
			outcome.Events = w.inBlockEvent
		}
		w.resolve(resultFinalized, outcome)
		return true

	case types.StatusInvalid:
		w.queue.MarkNonceFailed(p.Address, p.Nonce)
		w.reject(resultInvalid, &InvalidSubmissionError{Nonce: p.Nonce, Reason: status.Reason})
		return true
	}
	return false
}

// abandon rejects the submission because its context ended.
func (w *watcher) abandon(ctx context.Context) {
	if ctx.Err() == context.DeadlineExceeded && w.pending.timeout > 0 {
		w.reject(resultTimeout, errors.Wrapf(ErrSubmitTimeout, "no terminal status after %s", w.pending.timeout))
		return
	}
	w.reject(resultCancelled, ctx.Err())
}

func (w *watcher) resolve(result string, outcome *types.Outcome) {
	p := w.pending
	SubmissionCounter.WithLabelValues(result).Inc()
	ResolveHistogram.WithLabelValues(result).Observe(time.Since(p.sentAt).Seconds())
	w.queue.logger.Debug().Str("call", p.Call.String()).Uint64("nonce", p.Nonce).Str("block", outcome.Hash.Hex()).
		Str("result", result).Msg("Extrinsic resolved")
	w.sub.Unsubscribe()
	p.finish(outcome, nil)
}

func (w *watcher) reject(result string, err error) {
	p := w.pending
	SubmissionCounter.WithLabelValues(result).Inc()
	ResolveHistogram.WithLabelValues(result).Observe(time.Since(p.sentAt).Seconds())
	w.queue.logger.Warn().Str("call", p.Call.String()).Str("address", p.Address.String()).Uint64("nonce", p.Nonce).
		Str("result", result).Err(err).Msg("Extrinsic rejected")
	w.sub.Unsubscribe()
	p.finish(nil, err)
}
