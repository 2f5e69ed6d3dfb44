package txqueue

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"

	"github.com/phat-tools/cluster-deployer/types"
)

var (
	// ErrInvalidSubmission is matched by every *InvalidSubmissionError.
	ErrInvalidSubmission = errors.New("invalid transaction")
	// ErrSubmitTimeout is returned when a submission found no terminal status within its timeout.
	ErrSubmitTimeout = errors.New("timed out waiting for transaction status")
	// ErrSubscriptionClosed is returned when the status stream ended before a terminal status.
	ErrSubscriptionClosed = errors.New("status subscription closed")
)

// ExtrinsicFailedError is returned for an extrinsic that was included in a block
// but whose dispatch failed. Resubmitting needs a new nonce.
type ExtrinsicFailedError struct {
	BlockHash types.Hash
	// Reason is the DispatchError reported by the system.ExtrinsicFailed event.
	Reason json.RawMessage
}

func newExtrinsicFailedError(blockHash types.Hash, ev *types.Event) *ExtrinsicFailedError {
	e := &ExtrinsicFailedError{BlockHash: blockHash}
	if len(ev.Data) > 0 {
		e.Reason = ev.Data[0]
	}
	return e
}

func (e *ExtrinsicFailedError) Error() string {
	if len(e.Reason) == 0 {
		return fmt.Sprintf("extrinsic failed in block %s", e.BlockHash.Hex())
	}
	return fmt.Sprintf("extrinsic failed in block %s: %s", e.BlockHash.Hex(), string(e.Reason))
}

// InvalidSubmissionError is returned for an extrinsic the ledger rejected before
// inclusion. Its nonce has been handed back to the queue.
type InvalidSubmissionError struct {
	Nonce  uint64
	Reason string
}

func (e *InvalidSubmissionError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s (nonce %d)", ErrInvalidSubmission, e.Nonce)
	}
	return fmt.Sprintf("%s (nonce %d): %s", ErrInvalidSubmission, e.Nonce, e.Reason)
}

// Is makes errors.Is(err, ErrInvalidSubmission) true.
func (e *InvalidSubmissionError) Is(target error) bool {
	return target == ErrInvalidSubmission
}
