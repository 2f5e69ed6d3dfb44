package utils

import (
	"encoding/hex"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/crypto/blake2b"
)

// Blake2b256 is the hash the ledger uses for code, extrinsics and contract ids.
func Blake2b256(data ...[]byte) common.Hash {
	h, _ := blake2b.New256(nil)
	for _, d := range data {
		h.Write(d)
	}
	var out common.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// Hex encodes b with a 0x prefix.
func Hex(b []byte) string {
	return hexutil.Encode(b)
}

// HexToBytes decodes s, tolerating a missing 0x prefix and an odd length.
func HexToBytes(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if has0xPrefix(s) {
		s = s[2:]
	}
	// hex.DecodeString expects an even-length string
	if len(s)%2 == 1 {
		s = "0" + s
	}
	return hex.DecodeString(s)
}

// Ensure0x adds the 0x prefix to a hex string lacking it.
func Ensure0x(s string) string {
	if has0xPrefix(s) {
		return s
	}
	return "0x" + s
}

func has0xPrefix(s string) bool {
	return len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}
