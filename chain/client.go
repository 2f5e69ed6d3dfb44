// Package chain talks to a Phala node, its substrate-api-sidecar and the signing
// gateway, and combines the three into the ledger client the transaction queue
// submits through.
package chain

import (
	"context"

	gethrpc "github.com/centrifuge/go-substrate-rpc-client/v4/gethrpc"
	gstypes "github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/pkg/errors"

	"github.com/phat-tools/cluster-deployer/types"
	"github.com/phat-tools/cluster-deployer/utils"
)

const (
	methodAccountNextIndex = "system_accountNextIndex"
	methodGetStorage       = "state_getStorage"

	authorNamespace     = "author"
	submitAndWatch      = "submitAndWatchExtrinsic"
	unwatchExtrinsic    = "unwatchExtrinsic"
	extrinsicUpdate     = "extrinsicUpdate"
	extrinsicWatchDepth = 16
)

// Client is a websocket JSON-RPC connection to a node.
type Client struct {
	rpc *gethrpc.Client
}

// Dial connects to the node at url (ws:// or wss://).
func Dial(ctx context.Context, url string) (*Client, error) {
	c, err := gethrpc.DialContext(ctx, url)
	if err != nil {
		return nil, errors.Wrapf(err, "dial node %s", url)
	}
	return &Client{rpc: c}, nil
}

// Close shuts the connection down; open watches fail.
func (c *Client) Close() {
	c.rpc.Close()
}

// Call invokes method and decodes its result into result, which may be nil.
func (c *Client) Call(ctx context.Context, result interface{}, method string, params ...interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.rpc.CallContext(ctx, result, method, params...)
}

// AccountNextIndex returns the next nonce of address, counting the pool.
func (c *Client) AccountNextIndex(ctx context.Context, address types.Address) (uint64, error) {
	var n uint64
	if err := c.Call(ctx, &n, methodAccountNextIndex, address); err != nil {
		return 0, errors.Wrapf(err, "next index of %s", address)
	}
	return n, nil
}

// GetStorage reads a raw storage value; nil when the key is empty.
func (c *Client) GetStorage(ctx context.Context, key string) ([]byte, error) {
	var value *string
	if err := c.Call(ctx, &value, methodGetStorage, utils.Ensure0x(key)); err != nil {
		return nil, err
	}
	if value == nil {
		return nil, nil
	}
	return utils.HexToBytes(*value)
}

// SubmitAndWatch submits a signed extrinsic and watches its pool status.
func (c *Client) SubmitAndWatch(ctx context.Context, extrinsic []byte) (*Watch, error) {
	updates := make(chan gstypes.ExtrinsicStatus, extrinsicWatchDepth)
	sub, err := c.rpc.Subscribe(ctx, authorNamespace, submitAndWatch, unwatchExtrinsic, extrinsicUpdate,
		updates, utils.Hex(extrinsic))
	if err != nil {
		return nil, err
	}
	return &Watch{sub: sub, updates: updates}, nil
}

// Watch is the status stream of one submitted extrinsic.
type Watch struct {
	sub     *gethrpc.ClientSubscription
	updates chan gstypes.ExtrinsicStatus
}

// Updates delivers status changes in the order the node sent them.
func (w *Watch) Updates() <-chan gstypes.ExtrinsicStatus {
	return w.updates
}

// Err receives when the watch breaks, including queue overflow on a slow reader.
func (w *Watch) Err() <-chan error {
	return w.sub.Err()
}

// Unwatch stops the node from sending further updates.
func (w *Watch) Unwatch() {
	w.sub.Unsubscribe()
}

// statusName is the pool status as the node spells it.
func statusName(st *gstypes.ExtrinsicStatus) string {
	switch {
	case st.IsFuture:
		return "future"
	case st.IsReady:
		return "ready"
	case st.IsBroadcast:
		return "broadcast"
	case st.IsInBlock:
		return "inBlock"
	case st.IsRetracted:
		return "retracted"
	case st.IsFinalityTimeout:
		return "finalityTimeout"
	case st.IsFinalized:
		return "finalized"
	case st.IsUsurped:
		return "usurped"
	case st.IsDropped:
		return "dropped"
	case st.IsInvalid:
		return "invalid"
	}
	return "unknown"
}
