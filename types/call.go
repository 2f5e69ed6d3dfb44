package types

import (
	"encoding/json"
	"fmt"
)

// Call is a runtime call addressed by pallet and method name. Args are encoded by
// the external gateway against the chain metadata; a nested *Call is itself a call
// argument (sudo, batch).
type Call struct {
	Pallet string        `json:"pallet"`
	Method string        `json:"method"`
	Args   []interface{} `json:"args"`
}

// NewCall builds a call.
func NewCall(pallet, method string, args ...interface{}) *Call {
	if args == nil {
		args = []interface{}{}
	}
	return &Call{Pallet: pallet, Method: method, Args: args}
}

func (c *Call) String() string {
	return fmt.Sprintf("%s.%s", c.Pallet, c.Method)
}

// JSON returns the call as the gateway receives it.
func (c *Call) JSON() ([]byte, error) {
	return json.Marshal(c)
}

// Sudo wraps call into sudo.sudo.
func Sudo(call *Call) *Call {
	return NewCall("sudo", "sudo", call)
}

// BatchAll wraps calls into utility.batchAll; the batch reverts as a whole if one call fails.
func BatchAll(calls ...*Call) *Call {
	return NewCall("utility", "batchAll", calls)
}
