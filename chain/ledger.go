package chain

import (
	"context"

	gstypes "github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/pkg/errors"

	"github.com/phat-tools/cluster-deployer/log"
	"github.com/phat-tools/cluster-deployer/types"
	"github.com/phat-tools/cluster-deployer/utils"
)

// ErrFinalityTimeout ends a watch whose block was not finalized in time.
var ErrFinalityTimeout = errors.New("finality timeout")

// ExtrinsicSigner signs calls for broadcast.
type ExtrinsicSigner interface {
	SignExtrinsic(ctx context.Context, call *types.Call, signer *types.Account, nonce uint64) ([]byte, error)
}

// EventSource returns the events of an extrinsic in a block.
type EventSource interface {
	ExtrinsicEvents(ctx context.Context, block types.Hash, xt types.Hash) ([]types.Event, error)
}

// Ledger submits through a node, signs through a gateway and reads events from a
// sidecar. It satisfies txqueue.Client.
type Ledger struct {
	node   *Client
	signer ExtrinsicSigner
	events EventSource
	logger *log.Logger
}

// NewLedger combines the three services.
func NewLedger(node *Client, signer ExtrinsicSigner, events EventSource) *Ledger {
	return &Ledger{
		node:   node,
		signer: signer,
		events: events,
		logger: log.NewLogger("chain"),
	}
}

// AccountNextIndex implements txqueue.NonceReader.
func (l *Ledger) AccountNextIndex(ctx context.Context, address types.Address) (uint64, error) {
	return l.node.AccountNextIndex(ctx, address)
}

// SignAndBroadcast implements txqueue.Broadcaster. Pool statuses that end the
// extrinsic without inclusion (dropped, usurped, invalid) are reported as Invalid;
// a finality timeout ends the subscription with ErrFinalityTimeout.
func (l *Ledger) SignAndBroadcast(ctx context.Context, call *types.Call, signer *types.Account, nonce uint64, ch chan<- *types.TxStatus) (event.Subscription, error) {
	xt, err := l.signer.SignExtrinsic(ctx, call, signer, nonce)
	if err != nil {
		return nil, err
	}
	xtHash := utils.Blake2b256(xt)
	watch, err := l.node.SubmitAndWatch(ctx, xt)
	if err != nil {
		return nil, errors.Wrapf(err, "submit %s", xtHash.Hex())
	}
	logger := l.logger.WithField("extrinsic", xtHash.Hex())
	logger.Debug().Str("call", call.String()).Uint64("nonce", nonce).Msg("Watching extrinsic")

	return event.NewSubscription(func(quit <-chan struct{}) error {
		fetchCtx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			select {
			case <-quit:
				cancel()
			case <-fetchCtx.Done():
			}
		}()
		defer watch.Unwatch()

		for {
			var update gstypes.ExtrinsicStatus
			select {
			case update = <-watch.Updates():
			case err := <-watch.Err():
				logger.Warn().Err(err).Msg("Extrinsic watch broke")
				return err
			case <-quit:
				return nil
			}

			status, err := l.convert(fetchCtx, &update, xtHash)
			if err != nil {
				select {
				case <-quit:
					return nil
				default:
					return err
				}
			}
			if status == nil {
				logger.Debug().Str("status", statusName(&update)).Msg("Pool status")
				continue
			}
			select {
			case ch <- status:
			case <-quit:
				return nil
			}
		}
	}), nil
}

// convert maps a pool status to a queue status; nil for the intermediate ones.
func (l *Ledger) convert(ctx context.Context, update *gstypes.ExtrinsicStatus, xt types.Hash) (*types.TxStatus, error) {
	switch {
	case update.IsInBlock:
		return l.included(ctx, types.StatusInBlock, types.Hash(update.AsInBlock), xt)
	case update.IsFinalized:
		return l.included(ctx, types.StatusFinalized, types.Hash(update.AsFinalized), xt)
	case update.IsInvalid, update.IsDropped, update.IsUsurped:
		return &types.TxStatus{Kind: types.StatusInvalid, Reason: statusName(update)}, nil
	case update.IsFinalityTimeout:
		return nil, errors.Wrapf(ErrFinalityTimeout, "block %s", types.Hash(update.AsFinalityTimeout).Hex())
	}
	return nil, nil
}

func (l *Ledger) included(ctx context.Context, kind types.StatusKind, block, xt types.Hash) (*types.TxStatus, error) {
	events, err := l.events.ExtrinsicEvents(ctx, block, xt)
	if err != nil {
		return nil, err
	}
	return &types.TxStatus{Kind: kind, BlockHash: block, Events: events}, nil
}
