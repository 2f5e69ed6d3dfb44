package chain

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"

	"github.com/phat-tools/cluster-deployer/types"
)

const (
	sidecarTimeout  = 10 * time.Second
	blockCacheTTL   = 10 * time.Minute
	blockCacheSweep = time.Minute
)

// ErrExtrinsicNotFound is returned when a block does not contain the extrinsic.
var ErrExtrinsicNotFound = errors.New("extrinsic not found in block")

// Sidecar reads decoded blocks and storage from a substrate-api-sidecar.
type Sidecar struct {
	base   string
	hc     *http.Client
	blocks *cache.Cache
}

// NewSidecar creates a client for the sidecar at base, e.g. http://localhost:8080.
func NewSidecar(base string) *Sidecar {
	return &Sidecar{
		base:   strings.TrimRight(base, "/"),
		hc:     &http.Client{Timeout: sidecarTimeout},
		blocks: cache.New(blockCacheTTL, blockCacheSweep),
	}
}

type sidecarMethod struct {
	Pallet string `json:"pallet"`
	Method string `json:"method"`
}

type sidecarEvent struct {
	Method sidecarMethod     `json:"method"`
	Data   []json.RawMessage `json:"data"`
}

type sidecarExtrinsic struct {
	Hash    string         `json:"hash"`
	Method  sidecarMethod  `json:"method"`
	Events  []sidecarEvent `json:"events"`
	Success bool           `json:"success"`
}

type sidecarBlock struct {
	Number     string             `json:"number"`
	Hash       string             `json:"hash"`
	Extrinsics []sidecarExtrinsic `json:"extrinsics"`
}

type sidecarStorage struct {
	Pallet      string          `json:"pallet"`
	StorageItem string          `json:"storageItem"`
	Value       json.RawMessage `json:"value"`
}

type sidecarError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ExtrinsicEvents returns the events the extrinsic with hash xt emitted in block.
func (s *Sidecar) ExtrinsicEvents(ctx context.Context, block types.Hash, xt types.Hash) ([]types.Event, error) {
	b, err := s.block(ctx, block)
	if err != nil {
		return nil, err
	}
	for _, ex := range b.Extrinsics {
		if !strings.EqualFold(ex.Hash, xt.Hex()) {
			continue
		}
		events := make([]types.Event, len(ex.Events))
		for i, ev := range ex.Events {
			events[i] = types.Event{Section: ev.Method.Pallet, Method: ev.Method.Method, Data: ev.Data}
		}
		return events, nil
	}
	return nil, errors.Wrapf(ErrExtrinsicNotFound, "extrinsic %s, block %s", xt.Hex(), block.Hex())
}

func (s *Sidecar) block(ctx context.Context, hash types.Hash) (*sidecarBlock, error) {
	if cached, ok := s.blocks.Get(hash.Hex()); ok {
		return cached.(*sidecarBlock), nil
	}
	b := new(sidecarBlock)
	if err := s.get(ctx, "/blocks/"+hash.Hex(), nil, b); err != nil {
		return nil, errors.Wrapf(err, "fetch block %s", hash.Hex())
	}
	s.blocks.Set(hash.Hex(), b, cache.DefaultExpiration)
	return b, nil
}

// StorageItem returns the decoded JSON value of pallet.item at keys, or nil when
// the entry is empty.
func (s *Sidecar) StorageItem(ctx context.Context, pallet, item string, keys ...string) (json.RawMessage, error) {
	query := url.Values{}
	for _, k := range keys {
		query.Add("keys[]", k)
	}
	var resp sidecarStorage
	path := "/pallets/" + url.PathEscape(pallet) + "/storage/" + url.PathEscape(item)
	if err := s.get(ctx, path, query, &resp); err != nil {
		return nil, errors.Wrapf(err, "read %s.%s", pallet, item)
	}
	if len(resp.Value) == 0 || string(resp.Value) == "null" {
		return nil, nil
	}
	return resp.Value, nil
}

// StorageExists reports whether pallet.item at keys holds a value.
func (s *Sidecar) StorageExists(ctx context.Context, pallet, item string, keys ...string) (bool, error) {
	value, err := s.StorageItem(ctx, pallet, item, keys...)
	return value != nil, err
}

func (s *Sidecar) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	u := s.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := s.hc.Do(req.WithContext(ctx))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read sidecar response")
	}
	if resp.StatusCode != http.StatusOK {
		var se sidecarError
		if json.Unmarshal(body, &se) == nil && se.Message != "" {
			return errors.Errorf("sidecar %s: %s", resp.Status, se.Message)
		}
		return errors.Errorf("sidecar %s", resp.Status)
	}
	return errors.Wrap(json.Unmarshal(body, out), "decode sidecar response")
}
