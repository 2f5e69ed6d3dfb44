package deploy

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/phat-tools/cluster-deployer/artifact"
	"github.com/phat-tools/cluster-deployer/chain"
	"github.com/phat-tools/cluster-deployer/chain/chaintest"
	"github.com/phat-tools/cluster-deployer/db/memorydb"
	"github.com/phat-tools/cluster-deployer/log"
	"github.com/phat-tools/cluster-deployer/storage"
	"github.com/phat-tools/cluster-deployer/txqueue"
	"github.com/phat-tools/cluster-deployer/types"
	"github.com/phat-tools/cluster-deployer/utils"
)

var (
	sudo     = &types.Account{Address: "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY", Key: "//Alice", PublicKey: common.HexToHash("0xd435")}
	treasury = &types.Account{Address: "5EYCAe5ijiYfyeZ2JJCGq56LmPyNRAKzpG4QkoQkkQNB5e6Z", Key: "//Treasury"}

	clusterID = common.HexToHash("0x01")
	systemID  = common.HexToHash("0x5157")
)

// fakeRegistry is runtime storage keyed by pallet, item and keys.
type fakeRegistry struct {
	mu    sync.Mutex
	items map[string]json.RawMessage
	reads int
}

func storageKey(pallet, item string, keys ...string) string {
	return pallet + "." + item + "/" + strings.ToLower(strings.Join(keys, ","))
}

func (r *fakeRegistry) set(value interface{}, pallet, item string, keys ...string) {
	raw, err := json.Marshal(value)
	if err != nil {
		panic(err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[storageKey(pallet, item, keys...)] = raw
}

func (r *fakeRegistry) StorageItem(ctx context.Context, pallet, item string, keys ...string) (json.RawMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	return r.items[storageKey(pallet, item, keys...)], nil
}

// fakeSystem is a cluster system contract and a set of pRuntimes.
type fakeSystem struct {
	mu        sync.Mutex
	codes     map[common.Hash]bool
	drivers   map[string]common.Hash
	balance   *big.Int
	pubkeys   map[string]string
	endpoints []string
}

func (s *fakeSystem) CodeExists(ctx context.Context, cluster types.Hash, codeHash types.Hash, codeType string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[codeHash], nil
}

func (s *fakeSystem) GetDriver(ctx context.Context, cluster types.Hash, name string) (types.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drivers[name], nil
}

func (s *fakeSystem) EstimateInstantiate(ctx context.Context, req *chain.InstantiateRequest) (*chain.Estimate, error) {
	return &chain.Estimate{GasRequired: 5000, StorageDeposit: (*hexutil.Big)(big.NewInt(42))}, nil
}

func (s *fakeSystem) EstimateCall(ctx context.Context, cluster, contract types.Hash, message string, args ...interface{}) (*chain.Estimate, error) {
	return &chain.Estimate{GasRequired: hexutil.Uint64(100 * len(args))}, nil
}

func (s *fakeSystem) TotalBalanceOf(ctx context.Context, cluster types.Hash, account types.Hash) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(big.Int).Set(s.balance), nil
}

func (s *fakeSystem) WorkerInfo(ctx context.Context, endpoint string) (*chain.WorkerInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pubkey, ok := s.pubkeys[endpoint]
	if !ok {
		return nil, fmt.Errorf("no worker at %s", endpoint)
	}
	return &chain.WorkerInfo{PublicKey: pubkey, Endpoint: endpoint}, nil
}

func (s *fakeSystem) AddWorkerEndpoint(ctx context.Context, endpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoints = append(s.endpoints, endpoint)
	return nil
}

func (s *fakeSystem) driver(name string) common.Hash {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drivers[name]
}

// env is a chain whose runtime applies deployment calls to the fakes.
type env struct {
	ledger   *chaintest.Ledger
	registry *fakeRegistry
	system   *fakeSystem
	journal  *storage.Journal
	deployer *Deployer
	// lag delays state changes after inclusion
	lag time.Duration
}

func newEnv(t *testing.T, mutate func(*Config)) *env {
	e := &env{
		ledger:   chaintest.NewLedger(nil),
		registry: &fakeRegistry{items: make(map[string]json.RawMessage)},
		system: &fakeSystem{
			codes:   make(map[common.Hash]bool),
			drivers: make(map[string]common.Hash),
			balance: new(big.Int),
			pubkeys: make(map[string]string),
		},
		journal: storage.NewJournal(memorydb.NewDB()),
	}
	e.ledger.OnApply(e.apply)
	cfg := Config{
		Sudo:          sudo,
		Treasury:      treasury,
		Anyone:        sudo,
		Deployer:      sudo.PublicKey,
		IsTestnet:     true,
		BlockInterval: 20 * time.Millisecond,
		PollInterval:  5 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	queue := txqueue.New(e.ledger, txqueue.WithLogger(log.Nop()))
	e.deployer = New(cfg, queue, e.registry, e.system, e.system, e.journal)
	return e
}

func (e *env) later(fn func()) {
	if e.lag == 0 {
		fn()
		return
	}
	time.AfterFunc(e.lag, fn)
}

// calls returns "pallet.method" of every broadcast, unwrapping sudo.
func (e *env) calls() []string {
	var out []string
	for _, b := range e.ledger.Broadcasts() {
		out = append(out, unwrapSudo(b.Call).String())
	}
	return out
}

func unwrapSudo(call *types.Call) *types.Call {
	if call.Pallet == "sudo" {
		return call.Args[0].(*types.Call)
	}
	return call
}

func (e *env) apply(b *chaintest.Broadcast) []types.Event {
	call := unwrapSudo(b.Call)
	switch call.String() {
	case "phalaRegistry.forceRegisterWorker":
		worker := call.Args[0].(string)
		e.later(func() { e.registry.set(map[string]string{"pubkey": worker}, palletRegistry, "workers", worker) })
	case "phalaRegistry.registerGatekeeper":
		worker := call.Args[0].(string)
		e.later(func() {
			list, _ := e.deployer.gatekeepers(context.Background())
			e.registry.set(append(list, worker), palletRegistry, "gatekeeper")
			e.registry.set("0x"+strings.Repeat("66", 32), palletRegistry, "gatekeeperMasterPubkey")
		})
	case "phalaPhatContracts.setPinkSystemCode":
		e.later(func() { e.registry.set([]interface{}{1, call.Args[0]}, palletContracts, "pinkSystemCode") })
	case "phalaPhatContracts.addCluster":
		e.later(func() {
			e.registry.set(map[string]interface{}{"owner": call.Args[0], "systemContract": systemID}, palletContracts, "clusters", clusterID.Hex())
			e.registry.set("0xc1", palletRegistry, "clusterKeys", clusterID.Hex())
			e.registry.set("0xc2", palletRegistry, "contractKeys", systemID.Hex())
		})
		return []types.Event{
			chaintest.NewEvent("balances", "Withdraw"),
			chaintest.NewEvent(palletContracts, eventClusterCreated, clusterID, systemID),
		}
	case "phalaPhatContracts.clusterUploadResource":
		code, _ := utils.HexToBytes(call.Args[2].(string))
		e.later(func() {
			e.system.mu.Lock()
			e.system.codes[artifact.CodeHash(code)] = true
			e.system.mu.Unlock()
		})
	case "phalaPhatContracts.transferToCluster":
		amount := call.Args[0].(*big.Int)
		e.later(func() {
			e.system.mu.Lock()
			e.system.balance.Add(e.system.balance, amount)
			e.system.mu.Unlock()
		})
	case "utility.batchAll":
		for _, inner := range call.Args[0].([]*types.Call) {
			if inner.Method != "pushContractMessage" {
				continue
			}
			msg := inner.Args[1].(*ContractMessage)
			if msg.Message != "system::setDriver" {
				continue
			}
			name, addr := msg.Args[0].(string), msg.Args[1].(types.Hash)
			e.later(func() {
				e.system.mu.Lock()
				e.system.drivers[name] = addr
				e.system.mu.Unlock()
			})
		}
	}
	return nil
}

func testContract(name string) *artifact.Contract {
	wasm := append([]byte("\x00asm\x01\x00\x00\x00"), name...)
	return &artifact.Contract{
		Name:        name,
		CodeHash:    artifact.CodeHash(wasm),
		Wasm:        wasm,
		Constructor: hexutil.Bytes{0xed, 0x4b, 0x9d, 0x1b},
	}
}

func testDrivers() *artifact.Drivers {
	return &artifact.Drivers{
		System:          testContract("system"),
		SidevmDeployer:  testContract("sidevm_deployer"),
		LogServer:       testContract("log_server"),
		LogServerSidevm: []byte("sidevm program"),
		Tokenomic:       testContract("tokenomic"),
		TagBag:          testContract("tagbag"),
	}
}
