package chain

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/phat-tools/cluster-deployer/types"
	"github.com/phat-tools/cluster-deployer/utils"
)

// fakeNode speaks the node's websocket JSON-RPC for one scripted account.
type fakeNode struct {
	mu              sync.Mutex
	nextIndex       uint64
	storage         map[string]string
	script          []interface{}
	submitted       [][]byte
	unwatched       []string
	subs            int
	dropAfterSubmit bool
}

func newFakeNode(t *testing.T) (*fakeNode, string) {
	n := &fakeNode{storage: make(map[string]string)}
	srv := httptest.NewServer(n)
	t.Cleanup(srv.Close)
	return n, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func (n *fakeNode) set(fn func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	fn()
}

func (n *fakeNode) setScript(statuses ...interface{}) {
	n.set(func() { n.script = statuses })
}

func (n *fakeNode) lastSubmitted() []byte {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.submitted) == 0 {
		return nil
	}
	return n.submitted[len(n.submitted)-1]
}

func (n *fakeNode) unwatchedIDs() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string{}, n.unwatched...)
}

const (
	nodeSubmitAndWatch = "author_submitAndWatchExtrinsic"
	nodeUnwatch        = "author_unwatchExtrinsic"
	nodeUpdate         = "author_extrinsicUpdate"
)

type nodeError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type nodeMessage struct {
	Version string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *nodeError      `json:"error,omitempty"`
}

// blockHash pads b into a full 32 byte hash, the only form the node sends.
func blockHash(b byte) string {
	return common.BytesToHash([]byte{b}).Hex()
}

var upgrader = websocket.Upgrader{}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	for {
		var req nodeMessage
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		var params []json.RawMessage
		json.Unmarshal(req.Params, &params)

		resp := &nodeMessage{Version: "2.0", ID: req.ID}
		var notifications []*nodeMessage
		n.mu.Lock()
		switch req.Method {
		case methodAccountNextIndex:
			resp.Result, _ = json.Marshal(n.nextIndex)
		case methodGetStorage:
			var key string
			json.Unmarshal(params[0], &key)
			if v, ok := n.storage[key]; ok {
				resp.Result, _ = json.Marshal(v)
			} else {
				resp.Result = json.RawMessage("null")
			}
		case nodeSubmitAndWatch:
			var xt string
			json.Unmarshal(params[0], &xt)
			b, _ := utils.HexToBytes(xt)
			n.submitted = append(n.submitted, b)
			n.subs++
			id := fmt.Sprintf("sub-%d", n.subs)
			resp.Result, _ = json.Marshal(id)
			for _, st := range n.script {
				p, _ := json.Marshal(map[string]interface{}{"subscription": id, "result": st})
				notifications = append(notifications, &nodeMessage{Version: "2.0", Method: nodeUpdate, Params: p})
			}
		case nodeUnwatch:
			var id string
			json.Unmarshal(params[0], &id)
			n.unwatched = append(n.unwatched, id)
			resp.Result = json.RawMessage("true")
		default:
			resp.Error = &nodeError{Code: -32601, Message: "Method not found"}
		}
		drop := n.dropAfterSubmit && req.Method == nodeSubmitAndWatch
		n.mu.Unlock()

		if err := conn.WriteJSON(resp); err != nil {
			return
		}
		for _, note := range notifications {
			if err := conn.WriteJSON(note); err != nil {
				return
			}
		}
		if drop {
			return
		}
	}
}

// fakeSidecar serves one block whose only extrinsic hash is computed on demand.
type fakeSidecar struct {
	mu       sync.Mutex
	hits     int
	xtHash   func() common.Hash
	events   []map[string]interface{}
	storage  map[string]interface{}
	lastKeys []string
}

func newFakeSidecar(t *testing.T) (*fakeSidecar, string) {
	s := &fakeSidecar{storage: make(map[string]interface{})}
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	return s, srv.URL
}

func (s *fakeSidecar) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits++
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case len(parts) == 2 && parts[0] == "blocks":
		xt := ""
		if s.xtHash != nil {
			xt = s.xtHash().Hex()
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"number": "42",
			"hash":   parts[1],
			"extrinsics": []interface{}{
				map[string]interface{}{"hash": "0x" + strings.Repeat("ee", 32), "events": []interface{}{}},
				map[string]interface{}{"hash": xt, "events": s.events, "success": true},
			},
		})
	case len(parts) == 4 && parts[0] == "pallets" && parts[2] == "storage":
		s.lastKeys = r.URL.Query()["keys[]"]
		value, ok := s.storage[parts[1]+"."+parts[3]]
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]interface{}{"code": 400, "message": "Could not find storage item"})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"pallet": parts[1], "storageItem": parts[3], "value": value})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func sidecarEventJSON(pallet, method string, data ...interface{}) map[string]interface{} {
	if data == nil {
		data = []interface{}{}
	}
	return map[string]interface{}{"method": map[string]string{"pallet": pallet, "method": method}, "data": data}
}

// FakeGateway answers gateway_* calls. Signed extrinsics are the JSON of the
// signing request.
type FakeGateway struct {
	mu      sync.Mutex
	codes   map[common.Hash]bool
	drivers map[string]common.Hash
}

func (g *FakeGateway) SignExtrinsic(req signRequest) (hexutil.Bytes, error) {
	if req.Signer == "" {
		return nil, fmt.Errorf("no signer key")
	}
	return json.Marshal(req)
}

func (g *FakeGateway) Account(key string) (*accountInfo, error) {
	if key == "//Unknown" {
		return &accountInfo{}, nil
	}
	return &accountInfo{Address: types.Address("addr" + key), PublicKey: utils.Blake2b256([]byte(key))}, nil
}

func (g *FakeGateway) CodeExists(cluster, codeHash common.Hash, codeType string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.codes[codeHash], nil
}

func (g *FakeGateway) GetDriver(cluster common.Hash, name string) (*common.Hash, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if addr, ok := g.drivers[name]; ok {
		return &addr, nil
	}
	return nil, nil
}

func (g *FakeGateway) EstimateInstantiate(req InstantiateRequest) (*Estimate, error) {
	return &Estimate{GasRequired: hexutil.Uint64(1000 + len(req.Salt)), StorageDeposit: (*hexutil.Big)(big.NewInt(7))}, nil
}

func (g *FakeGateway) EstimateCall(cluster, contract common.Hash, message string, args []interface{}) (*Estimate, error) {
	return &Estimate{GasRequired: hexutil.Uint64(len(message) * 100)}, nil
}

func (g *FakeGateway) TotalBalanceOf(cluster, account common.Hash) (*hexutil.Big, error) {
	return (*hexutil.Big)(big.NewInt(1000000000000000)), nil
}

func (g *FakeGateway) WorkerInfo(endpoint string) (*WorkerInfo, error) {
	return &WorkerInfo{PublicKey: strings.Repeat("ab", 32)}, nil
}

func (g *FakeGateway) AddWorkerEndpoint(endpoint string) error {
	return nil
}

func newTestGateway(t *testing.T, fake *FakeGateway) *Gateway {
	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("gateway", fake))
	srv := httptest.NewServer(server)
	t.Cleanup(func() {
		srv.Close()
		server.Stop()
	})
	c, err := rpc.DialHTTP(srv.URL)
	require.NoError(t, err)
	g := NewGateway(c)
	t.Cleanup(g.Close)
	return g
}
