// Package deploy brings up a Phat Contract cluster: it registers workers and
// gatekeepers, creates the cluster, uploads code and installs the system drivers.
// Every step is idempotent; state already present on chain is skipped.
package deploy

import (
	"context"
	"encoding/json"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/phat-tools/cluster-deployer/chain"
	"github.com/phat-tools/cluster-deployer/log"
	"github.com/phat-tools/cluster-deployer/poller"
	"github.com/phat-tools/cluster-deployer/storage"
	"github.com/phat-tools/cluster-deployer/txqueue"
	"github.com/phat-tools/cluster-deployer/types"
)

const (
	palletRegistry  = "phalaRegistry"
	palletContracts = "phalaPhatContracts"
	palletTokenomic = "phalaPhatTokenomic"
)

// Registry reads runtime storage as decoded JSON; nil means the entry is empty.
type Registry interface {
	StorageItem(ctx context.Context, pallet, item string, keys ...string) (json.RawMessage, error)
}

// ClusterSystem answers queries against a cluster's system contract.
type ClusterSystem interface {
	CodeExists(ctx context.Context, cluster types.Hash, codeHash types.Hash, codeType string) (bool, error)
	GetDriver(ctx context.Context, cluster types.Hash, name string) (types.Hash, error)
	EstimateInstantiate(ctx context.Context, req *chain.InstantiateRequest) (*chain.Estimate, error)
	EstimateCall(ctx context.Context, cluster, contract types.Hash, message string, args ...interface{}) (*chain.Estimate, error)
	TotalBalanceOf(ctx context.Context, cluster types.Hash, account types.Hash) (*big.Int, error)
}

// WorkerDirectory talks to pRuntime workers.
type WorkerDirectory interface {
	WorkerInfo(ctx context.Context, endpoint string) (*chain.WorkerInfo, error)
	AddWorkerEndpoint(ctx context.Context, endpoint string) error
}

// Config is the chain-specific part of a deployment.
type Config struct {
	// Sudo signs every root call.
	Sudo *types.Account
	// Treasury receives the cluster fees.
	Treasury *types.Account
	// Anyone uploads code and submits the driver batches.
	Anyone *types.Account
	// Deployer is the account id contracts are instantiated from; on mainnet the
	// council multisig.
	Deployer types.Hash
	// IsTestnet enables faucet style transfers.
	IsTestnet bool
	// DryRun prints driver batches instead of submitting them.
	DryRun bool

	BlockInterval time.Duration
	PollInterval  time.Duration
}

// Deployer runs deployment steps through a transaction queue.
type Deployer struct {
	cfg      Config
	queue    *txqueue.Queue
	registry Registry
	system   ClusterSystem
	workers  WorkerDirectory
	journal  *storage.Journal
	runID    string
	logger   *log.Logger
	// printed receives the JSON of batches built in dry-run mode.
	printed func(name string, call []byte)
}

// New creates a deployer for one run.
func New(cfg Config, queue *txqueue.Queue, registry Registry, system ClusterSystem, workers WorkerDirectory, journal *storage.Journal) *Deployer {
	if cfg.BlockInterval <= 0 {
		cfg.BlockInterval = poller.DefaultBlockInterval
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = poller.DefaultInterval
	}
	runID := uuid.New().String()
	logger := log.NewLogger("deploy").WithField("run", runID)
	d := &Deployer{
		cfg:      cfg,
		queue:    queue,
		registry: registry,
		system:   system,
		workers:  workers,
		journal:  journal,
		runID:    runID,
		logger:   logger,
	}
	d.printed = func(name string, call []byte) {
		d.logger.Info().Str("batch", name).RawJSON("call", call).Msg("Batch call for external submission")
	}
	return d
}

// RunID identifies this run in logs and in the journal.
func (d *Deployer) RunID() string {
	return d.runID
}

// OnDryRun replaces how dry-run batches are reported.
func (d *Deployer) OnDryRun(fn func(name string, call []byte)) {
	d.printed = fn
}

func (d *Deployer) waitTimeout() time.Duration {
	return poller.BlockTimeout(d.cfg.BlockInterval, poller.DefaultBlocks)
}

// waitUntil blocks until predicate holds, giving it DefaultBlocks block intervals.
func (d *Deployer) waitUntil(ctx context.Context, what string, predicate poller.Predicate) error {
	err := poller.WaitUntilInterval(ctx, predicate, d.waitTimeout(), d.cfg.PollInterval)
	return errors.Wrapf(err, "wait for %s", what)
}

func (d *Deployer) storageExists(pallet, item string, keys ...string) poller.Predicate {
	return func(ctx context.Context) (bool, error) {
		value, err := d.registry.StorageItem(ctx, pallet, item, keys...)
		return value != nil, err
	}
}

func (d *Deployer) submit(ctx context.Context, call *types.Call, signer *types.Account) (*types.Outcome, error) {
	logger := d.logger.WithField("call", call.String())
	start := time.Now()
	outcome, err := d.queue.SubmitAndWait(ctx, call, signer)
	if err != nil {
		logger.Error().Err(err).Msg("Transaction failed")
		return nil, errors.Wrapf(err, "submit %s", call)
	}
	logger.Debug().Str("block", outcome.Hash.Hex()).Dur("took", time.Since(start)).Msg("Transaction included")
	return outcome, nil
}

// ResolveWorkers reads the identity of every pRuntime endpoint, in parallel.
func (d *Deployer) ResolveWorkers(ctx context.Context, endpoints []string) ([]*chain.WorkerInfo, error) {
	infos := make([]*chain.WorkerInfo, len(endpoints))
	g, gctx := errgroup.WithContext(ctx)
	for i, endpoint := range endpoints {
		i, endpoint := i, endpoint
		g.Go(func() error {
			info, err := d.workers.WorkerInfo(gctx, endpoint)
			if err != nil {
				return err
			}
			infos[i] = info
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, info := range infos {
		d.logger.Info().Str("endpoint", info.Endpoint).Str("pubkey", info.Pubkey()).Msg("Resolved worker")
	}
	return infos, nil
}
