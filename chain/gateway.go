package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"

	"github.com/phat-tools/cluster-deployer/types"
	"github.com/phat-tools/cluster-deployer/utils"
)

// Code types accepted by clusterUploadResource and system::codeExists.
const (
	CodeTypeInk    = "InkCode"
	CodeTypeSidevm = "SidevmCode"
)

// Gateway is the JSON-RPC service that holds the signing keys, encodes calls for
// the runtime and answers system contract queries inside a cluster.
type Gateway struct {
	rpc *rpc.Client
}

// DialGateway connects to the gateway at url (http, ws or ipc).
func DialGateway(ctx context.Context, url string) (*Gateway, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, errors.Wrapf(err, "dial gateway %s", url)
	}
	return NewGateway(c), nil
}

// NewGateway wraps an established rpc client.
func NewGateway(c *rpc.Client) *Gateway {
	return &Gateway{rpc: c}
}

func (g *Gateway) Close() {
	g.rpc.Close()
}

type signRequest struct {
	Call   *types.Call    `json:"call"`
	Signer string         `json:"signer"`
	Nonce  hexutil.Uint64 `json:"nonce"`
}

// SignExtrinsic returns call encoded and signed by signer's key at nonce.
func (g *Gateway) SignExtrinsic(ctx context.Context, call *types.Call, signer *types.Account, nonce uint64) ([]byte, error) {
	var signed hexutil.Bytes
	req := signRequest{Call: call, Signer: signer.Key, Nonce: hexutil.Uint64(nonce)}
	if err := g.rpc.CallContext(ctx, &signed, "gateway_signExtrinsic", req); err != nil {
		return nil, errors.Wrapf(err, "sign %s", call)
	}
	return signed, nil
}

type accountInfo struct {
	Address   types.Address `json:"address"`
	PublicKey types.Hash    `json:"publicKey"`
}

// ResolveAccount looks up the address and public key of the signing key key.
func (g *Gateway) ResolveAccount(ctx context.Context, key string) (*types.Account, error) {
	var info accountInfo
	if err := g.rpc.CallContext(ctx, &info, "gateway_account", key); err != nil {
		return nil, errors.Wrapf(err, "resolve account %s", key)
	}
	if info.Address == "" {
		return nil, errors.Errorf("gateway has no account for %s", key)
	}
	return &types.Account{Address: info.Address, Key: key, PublicKey: info.PublicKey}, nil
}

// CodeExists asks the cluster's system contract whether codeHash was uploaded.
func (g *Gateway) CodeExists(ctx context.Context, cluster types.Hash, codeHash types.Hash, codeType string) (bool, error) {
	var exists bool
	err := g.rpc.CallContext(ctx, &exists, "gateway_codeExists", cluster, codeHash, codeType)
	return exists, errors.Wrap(err, "query system::codeExists")
}

// GetDriver returns the contract registered as driver name, or the zero hash.
func (g *Gateway) GetDriver(ctx context.Context, cluster types.Hash, name string) (types.Hash, error) {
	var addr *types.Hash
	if err := g.rpc.CallContext(ctx, &addr, "gateway_getDriver", cluster, name); err != nil {
		return types.Hash{}, errors.Wrapf(err, "query system::getDriver %s", name)
	}
	if addr == nil {
		return types.Hash{}, nil
	}
	return *addr, nil
}

// Estimate is the resource estimate of a dry-run contract call.
type Estimate struct {
	GasRequired hexutil.Uint64 `json:"gasRequired"`
	// StorageDeposit is nil when the call refunds or needs no deposit.
	StorageDeposit *hexutil.Big `json:"storageDeposit"`
}

// Deposit returns the storage deposit limit to attach, zero when none is charged.
func (e *Estimate) Deposit() *big.Int {
	if e.StorageDeposit == nil {
		return new(big.Int)
	}
	return e.StorageDeposit.ToInt()
}

// InstantiateRequest describes a contract instantiation to estimate.
type InstantiateRequest struct {
	Cluster  types.Hash    `json:"clusterId"`
	CodeHash types.Hash    `json:"codeHash"`
	Selector hexutil.Bytes `json:"instantiateData"`
	Salt     hexutil.Bytes `json:"salt"`
	Deposit  *hexutil.Big  `json:"deposit"`
	Transfer *hexutil.Big  `json:"transfer"`
}

// EstimateInstantiate dry-runs an instantiation as an anonymous caller.
func (g *Gateway) EstimateInstantiate(ctx context.Context, req *InstantiateRequest) (*Estimate, error) {
	est := new(Estimate)
	if err := g.rpc.CallContext(ctx, est, "gateway_estimateInstantiate", req); err != nil {
		return nil, errors.Wrapf(err, "estimate instantiate of %s", req.CodeHash.Hex())
	}
	return est, nil
}

// EstimateCall dry-runs message on contract with args.
func (g *Gateway) EstimateCall(ctx context.Context, cluster, contract types.Hash, message string, args ...interface{}) (*Estimate, error) {
	if args == nil {
		args = []interface{}{}
	}
	est := new(Estimate)
	if err := g.rpc.CallContext(ctx, est, "gateway_estimateCall", cluster, contract, message, args); err != nil {
		return nil, errors.Wrapf(err, "estimate %s", message)
	}
	return est, nil
}

// TotalBalanceOf returns the cluster balance of account.
func (g *Gateway) TotalBalanceOf(ctx context.Context, cluster types.Hash, account types.Hash) (*big.Int, error) {
	var balance hexutil.Big
	if err := g.rpc.CallContext(ctx, &balance, "gateway_totalBalanceOf", cluster, account); err != nil {
		return nil, errors.Wrap(err, "query system::totalBalanceOf")
	}
	return balance.ToInt(), nil
}

// WorkerInfo is what a pRuntime reports about itself.
type WorkerInfo struct {
	PublicKey string `json:"publicKey"`
	Endpoint  string `json:"-"`
}

// Pubkey returns the worker public key with a 0x prefix.
func (w *WorkerInfo) Pubkey() string {
	return utils.Ensure0x(w.PublicKey)
}

// WorkerInfo reads the identity of the pRuntime at endpoint.
func (g *Gateway) WorkerInfo(ctx context.Context, endpoint string) (*WorkerInfo, error) {
	info := new(WorkerInfo)
	if err := g.rpc.CallContext(ctx, info, "gateway_workerInfo", endpoint); err != nil {
		return nil, errors.Wrapf(err, "worker info of %s", endpoint)
	}
	info.Endpoint = endpoint
	return info, nil
}

// AddWorkerEndpoint makes the pRuntime at endpoint publish endpoint as its HTTP
// address.
func (g *Gateway) AddWorkerEndpoint(ctx context.Context, endpoint string) error {
	err := g.rpc.CallContext(ctx, nil, "gateway_addWorkerEndpoint", endpoint)
	return errors.Wrapf(err, "add endpoint of %s", endpoint)
}
