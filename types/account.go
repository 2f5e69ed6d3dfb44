package types

import "github.com/ethereum/go-ethereum/common"

// Address is an account identifier as the ledger prints it (SS58 or 0x hex).
// It is only compared and forwarded, never decoded.
type Address string

func (a Address) String() string {
	return string(a)
}

// Account is a signing identity: the address transactions are sent from and the
// key reference the external signer resolves (a secret URI such as //Alice or a
// keystore id).
type Account struct {
	Address Address `json:"address" yaml:"address"`
	Key     string  `json:"key" yaml:"key"`
	// PublicKey is the raw account id, set when the account was resolved through
	// the gateway.
	PublicKey common.Hash `json:"publicKey,omitempty" yaml:"publicKey,omitempty"`
}
