// Package chaintest provides an in-memory ledger that accepts broadcasts in nonce
// order and streams scripted statuses, for tests of code built on txqueue.
package chaintest

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"

	"github.com/phat-tools/cluster-deployer/types"
)

// Broadcast is one extrinsic the ledger received.
type Broadcast struct {
	Call      *types.Call
	Signer    types.Address
	Nonce     uint64
	BlockHash types.Hash

	updates  chan *types.TxStatus
	failures chan error
	quit     chan struct{}
}

// Emit pushes a status to the broadcast's subscriber.
func (b *Broadcast) Emit(status *types.TxStatus) {
	b.updates <- status
}

// Fail ends the broadcast's subscription with err.
func (b *Broadcast) Fail(err error) {
	b.failures <- err
}

// Unsubscribed is closed once the subscriber unsubscribed.
func (b *Broadcast) Unsubscribed() <-chan struct{} {
	return b.quit
}

// Responder decides the statuses streamed for a broadcast that passed the nonce
// check. Returning nil leaves the broadcast pending for manual Emit calls.
type Responder func(l *Ledger, b *Broadcast) []*types.TxStatus

// Finalize includes and finalizes every broadcast.
func Finalize(l *Ledger, b *Broadcast) []*types.TxStatus {
	events := append([]types.Event{}, l.applyHook(b)...)
	events = append(events, NewEvent(types.SectionSystem, "ExtrinsicSuccess"))
	return []*types.TxStatus{InBlock(b.BlockHash, events...), Finalized(l.finalizedHash(b), events...)}
}

// Manual leaves every broadcast pending.
func Manual(*Ledger, *Broadcast) []*types.TxStatus {
	return nil
}

// Ledger is a fake chain for one or more accounts.
type Ledger struct {
	mu         sync.Mutex
	nextIndex  map[types.Address]uint64
	broadcasts []*Broadcast
	responder  Responder
	onApply    func(b *Broadcast) []types.Event
	nonceDelay time.Duration
	nonceReads int
	nextErr    error
	blocks     int64
}

// NewLedger creates a ledger answering with responder; nil means Finalize.
func NewLedger(responder Responder) *Ledger {
	if responder == nil {
		responder = Finalize
	}
	return &Ledger{
		nextIndex: make(map[types.Address]uint64),
		responder: responder,
	}
}

// SetResponder replaces the responder for later broadcasts.
func (l *Ledger) SetResponder(r Responder) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.responder = r
}

// OnApply registers a hook run for every accepted broadcast under Finalize; its
// events are attached to the inclusion.
func (l *Ledger) OnApply(hook func(b *Broadcast) []types.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onApply = hook
}

// SetNextIndex moves an account's on-chain nonce, as another process would.
func (l *Ledger) SetNextIndex(address types.Address, n uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextIndex[address] = n
}

// NextIndex returns the account's on-chain nonce.
func (l *Ledger) NextIndex(address types.Address) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nextIndex[address]
}

// SetNonceDelay makes every nonce read take d.
func (l *Ledger) SetNonceDelay(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nonceDelay = d
}

// FailNextBroadcast makes the next broadcast return err.
func (l *Ledger) FailNextBroadcast(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextErr = err
}

// NonceReads counts AccountNextIndex calls.
func (l *Ledger) NonceReads() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nonceReads
}

// Broadcasts returns the received broadcasts in arrival order.
func (l *Ledger) Broadcasts() []*Broadcast {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Broadcast{}, l.broadcasts...)
}

// Nonces returns the nonces of the received broadcasts in arrival order.
func (l *Ledger) Nonces() []uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	nonces := make([]uint64, len(l.broadcasts))
	for i, b := range l.broadcasts {
		nonces[i] = b.Nonce
	}
	return nonces
}

// AccountNextIndex implements txqueue.NonceReader.
func (l *Ledger) AccountNextIndex(ctx context.Context, address types.Address) (uint64, error) {
	l.mu.Lock()
	l.nonceReads++
	delay := l.nonceDelay
	l.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nextIndex[address], nil
}

// SignAndBroadcast implements txqueue.Broadcaster. A broadcast whose nonce is not
// the account's next index is answered with Invalid.
func (l *Ledger) SignAndBroadcast(ctx context.Context, call *types.Call, signer *types.Account, nonce uint64, ch chan<- *types.TxStatus) (event.Subscription, error) {
	l.mu.Lock()
	if err := l.nextErr; err != nil {
		l.nextErr = nil
		l.mu.Unlock()
		return nil, err
	}
	l.blocks++
	b := &Broadcast{
		Call:      call,
		Signer:    signer.Address,
		Nonce:     nonce,
		BlockHash: common.BigToHash(big.NewInt(l.blocks)),
		updates:   make(chan *types.TxStatus, 16),
		failures:  make(chan error, 1),
		quit:      make(chan struct{}),
	}
	l.broadcasts = append(l.broadcasts, b)
	expected := l.nextIndex[signer.Address]
	responder := l.responder
	var statuses []*types.TxStatus
	if nonce != expected {
		statuses = []*types.TxStatus{Invalid(fmt.Sprintf("nonce %d, expected %d", nonce, expected))}
	}
	l.mu.Unlock()

	if statuses == nil {
		statuses = responder(l, b)
		if !hasInvalid(statuses) {
			l.mu.Lock()
			l.nextIndex[signer.Address] = nonce + 1
			l.mu.Unlock()
		}
	}
	for _, st := range statuses {
		b.updates <- st
	}

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer close(b.quit)
		for {
			select {
			case st := <-b.updates:
				select {
				case ch <- st:
				case <-quit:
					return nil
				}
			case err := <-b.failures:
				return err
			case <-quit:
				return nil
			}
		}
	}), nil
}

func (l *Ledger) applyHook(b *Broadcast) []types.Event {
	l.mu.Lock()
	hook := l.onApply
	l.mu.Unlock()
	if hook == nil {
		return nil
	}
	return hook(b)
}

func (l *Ledger) finalizedHash(b *Broadcast) types.Hash {
	// finalization notifications name the finalized block, which may be a descendant
	return common.BigToHash(new(big.Int).Add(b.BlockHash.Big(), big.NewInt(1<<32)))
}

func hasInvalid(statuses []*types.TxStatus) bool {
	for _, st := range statuses {
		if st.Kind == types.StatusInvalid {
			return true
		}
	}
	return false
}

// InBlock builds an inclusion status.
func InBlock(hash types.Hash, events ...types.Event) *types.TxStatus {
	return &types.TxStatus{Kind: types.StatusInBlock, BlockHash: hash, Events: events}
}

// Finalized builds a finalization status.
func Finalized(hash types.Hash, events ...types.Event) *types.TxStatus {
	return &types.TxStatus{Kind: types.StatusFinalized, BlockHash: hash, Events: events}
}

// Invalid builds a rejection status.
func Invalid(reason string) *types.TxStatus {
	return &types.TxStatus{Kind: types.StatusInvalid, Reason: reason}
}

// NewEvent builds an event whose data items are JSON encoded.
func NewEvent(section, method string, data ...interface{}) types.Event {
	ev := types.Event{Section: section, Method: method}
	for _, d := range data {
		raw, err := json.Marshal(d)
		if err != nil {
			panic(err)
		}
		ev.Data = append(ev.Data, raw)
	}
	return ev
}

// ExtrinsicFailed builds a system.ExtrinsicFailed event carrying reason.
func ExtrinsicFailed(reason interface{}) types.Event {
	return NewEvent(types.SectionSystem, types.MethodExtrinsicFailed, reason, map[string]string{"class": "Normal"})
}
