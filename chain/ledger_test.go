package chain

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phat-tools/cluster-deployer/log"
	"github.com/phat-tools/cluster-deployer/txqueue"
	"github.com/phat-tools/cluster-deployer/types"
	"github.com/phat-tools/cluster-deployer/utils"
)

var alice = &types.Account{Address: "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY", Key: "//Alice"}

type ledgerFixture struct {
	node    *fakeNode
	sidecar *fakeSidecar
	ledger  *Ledger
	queue   *txqueue.Queue
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	node, c := dialTestNode(t)
	sidecar, url := newFakeSidecar(t)
	sidecar.xtHash = func() common.Hash { return utils.Blake2b256(node.lastSubmitted()) }
	ledger := NewLedger(c, newTestGateway(t, &FakeGateway{}), NewSidecar(url))
	return &ledgerFixture{
		node:    node,
		sidecar: sidecar,
		ledger:  ledger,
		queue:   txqueue.New(ledger, txqueue.WithLogger(log.Nop()), txqueue.WithDefaultTimeout(5*time.Second)),
	}
}

func TestLedgerResolvesOnFinalization(t *testing.T) {
	f := newLedgerFixture(t)
	f.node.set(func() { f.node.nextIndex = 3 })
	f.node.setScript("ready", map[string]interface{}{"broadcast": []string{"peer"}},
		map[string]string{"inBlock": blockHash(0x42)}, map[string]string{"finalized": blockHash(0x43)})
	f.sidecar.events = []map[string]interface{}{
		sidecarEventJSON("phalaRegistry", "GatekeeperAdded", "0xaa"),
		sidecarEventJSON("system", "ExtrinsicSuccess"),
	}

	call := types.Sudo(types.NewCall("phalaRegistry", "registerGatekeeper", "0xaa"))
	outcome, err := f.queue.SubmitAndWait(context.Background(), call, alice, txqueue.WaitForFinalization())
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0x42"), outcome.Hash)
	_, ok := types.FindEvent(outcome.Events, "phalaRegistry", "GatekeeperAdded")
	assert.True(t, ok)
	assert.Contains(t, string(f.node.lastSubmitted()), `"nonce":"0x3"`)
	assert.Equal(t, []string{"sub-1"}, f.node.unwatchedIDs())
}

func TestLedgerExtrinsicFailed(t *testing.T) {
	f := newLedgerFixture(t)
	f.node.setScript(map[string]string{"inBlock": blockHash(0x42)})
	f.sidecar.events = []map[string]interface{}{
		sidecarEventJSON("system", "ExtrinsicFailed", map[string]interface{}{"badOrigin": nil}, map[string]string{"class": "Normal"}),
	}

	_, err := f.queue.SubmitAndWait(context.Background(), types.NewCall("system", "remark", "0x"), alice)
	var failed *txqueue.ExtrinsicFailedError
	require.True(t, errors.As(err, &failed))
	assert.JSONEq(t, `{"badOrigin":null}`, string(failed.Reason))
}

func TestLedgerPoolRejections(t *testing.T) {
	for _, status := range []interface{}{"dropped", "invalid", map[string]string{"usurped": blockHash(0x77)}} {
		f := newLedgerFixture(t)
		f.node.setScript("ready", status)

		_, err := f.queue.SubmitAndWait(context.Background(), types.NewCall("system", "remark", "0x"), alice)
		assert.True(t, errors.Is(err, txqueue.ErrInvalidSubmission), "%v: %v", status, err)
	}
}

func TestLedgerFinalityTimeout(t *testing.T) {
	f := newLedgerFixture(t)
	f.node.setScript(map[string]string{"inBlock": blockHash(0x42)}, map[string]string{"finalityTimeout": blockHash(0x42)})

	_, err := f.queue.SubmitAndWait(context.Background(), types.NewCall("system", "remark", "0x"), alice, txqueue.WaitForFinalization())
	assert.True(t, errors.Is(err, ErrFinalityTimeout), "%v", err)
}

func TestLedgerSigningErrorIsBroadcastError(t *testing.T) {
	f := newLedgerFixture(t)
	_, err := f.queue.Submit(context.Background(), types.NewCall("system", "remark"), &types.Account{Address: alice.Address})
	require.Error(t, err)
	assert.Nil(t, f.node.lastSubmitted())
}

func TestLedgerLogsBrokenWatch(t *testing.T) {
	f := newLedgerFixture(t)
	var out bytes.Buffer
	zl := zerolog.New(&out)
	f.ledger.logger = &log.Logger{Logger: &zl}
	f.node.set(func() { f.node.dropAfterSubmit = true })

	_, err := f.queue.SubmitAndWait(context.Background(), types.NewCall("system", "remark", "0x"), alice)
	require.Error(t, err)
	xt := utils.Blake2b256(f.node.lastSubmitted()).Hex()
	assert.Contains(t, out.String(), "Extrinsic watch broke")
	assert.Contains(t, out.String(), xt)
	assert.Contains(t, out.String(), `"level":"warn"`)
}
