package types

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
)

// Hash is a 32 byte block or extrinsic hash.
type Hash = common.Hash

// StatusKind is the lifecycle stage of a broadcast extrinsic.
type StatusKind int

const (
	// StatusInBlock means the extrinsic is part of a produced, not yet final, block.
	StatusInBlock StatusKind = iota
	// StatusFinalized means the including block is irreversible.
	StatusFinalized
	// StatusInvalid means the extrinsic was rejected before inclusion.
	StatusInvalid
)

func (k StatusKind) String() string {
	switch k {
	case StatusInBlock:
		return "inBlock"
	case StatusFinalized:
		return "finalized"
	case StatusInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// TxStatus is one update on a watched extrinsic.
type TxStatus struct {
	Kind      StatusKind
	BlockHash Hash
	// Events emitted by the extrinsic, in order. Set for InBlock and Finalized.
	Events []Event
	// Reason carries the node's explanation for Invalid, when it gives one.
	Reason string
}

// Event is a ledger notification attached to an extrinsic.
type Event struct {
	Section string            `json:"section"`
	Method  string            `json:"method"`
	Data    []json.RawMessage `json:"data"`
}

const (
	SectionSystem         = "system"
	MethodExtrinsicFailed = "ExtrinsicFailed"
)

// Is reports whether the event matches section and method exactly.
func (e *Event) Is(section, method string) bool {
	return e.Section == section && e.Method == method
}

// FindEvent returns the first event matching section and method.
func FindEvent(events []Event, section, method string) (*Event, bool) {
	for i := range events {
		if events[i].Is(section, method) {
			return &events[i], true
		}
	}
	return nil, false
}

// Outcome is what a successful submission resolves to.
type Outcome struct {
	// Hash of the block the extrinsic was included in.
	Hash   Hash
	Events []Event
}
