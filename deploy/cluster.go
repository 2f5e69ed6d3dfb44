package deploy

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/phat-tools/cluster-deployer/artifact"
	"github.com/phat-tools/cluster-deployer/config"
	"github.com/phat-tools/cluster-deployer/storage"
	"github.com/phat-tools/cluster-deployer/types"
	"github.com/phat-tools/cluster-deployer/utils"
)

const eventClusterCreated = "ClusterCreated"

// ErrNoClusterCreated is returned when addCluster was included without a
// ClusterCreated event.
var ErrNoClusterCreated = errors.New("no ClusterCreated event")

// RegisterWorker force-registers worker (a 0x public key) as its own operator.
func (d *Deployer) RegisterWorker(ctx context.Context, worker string) error {
	d.logger.Info().Str("worker", worker).Msg("Registering worker")
	call := types.Sudo(types.NewCall(palletRegistry, "forceRegisterWorker", worker, worker, nil))
	if _, err := d.submit(ctx, call, d.cfg.Sudo); err != nil {
		return err
	}
	if err := d.waitUntil(ctx, "worker "+worker, d.storageExists(palletRegistry, "workers", worker)); err != nil {
		return err
	}
	d.logger.Info().Str("worker", worker).Msg("Worker added")
	return nil
}

func (d *Deployer) gatekeepers(ctx context.Context) ([]string, error) {
	raw, err := d.registry.StorageItem(ctx, palletRegistry, "gatekeeper")
	if err != nil || raw == nil {
		return nil, err
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, errors.Wrap(err, "decode gatekeeper list")
	}
	return list, nil
}

func (d *Deployer) isGatekeeper(ctx context.Context, worker string) (bool, error) {
	list, err := d.gatekeepers(ctx)
	if err != nil {
		return false, err
	}
	for _, gk := range list {
		if strings.EqualFold(gk, worker) {
			return true, nil
		}
	}
	return false, nil
}

// SetupGatekeeper promotes a registered worker to gatekeeper and waits until the
// master key is available.
func (d *Deployer) SetupGatekeeper(ctx context.Context, worker string) error {
	known, err := d.isGatekeeper(ctx, worker)
	if err != nil {
		return err
	}
	if known {
		d.logger.Info().Str("worker", worker).Msg("Gatekeeper already registered")
		return nil
	}
	d.logger.Info().Str("worker", worker).Msg("Registering gatekeeper")
	call := types.Sudo(types.NewCall(palletRegistry, "registerGatekeeper", worker))
	if _, err := d.submit(ctx, call, d.cfg.Sudo); err != nil {
		return err
	}
	if err := d.waitUntil(ctx, "gatekeeper "+worker, func(ctx context.Context) (bool, error) {
		return d.isGatekeeper(ctx, worker)
	}); err != nil {
		return err
	}
	if err := d.waitUntil(ctx, "gatekeeper master key", d.storageExists(palletRegistry, "gatekeeperMasterPubkey")); err != nil {
		return err
	}
	d.logger.Info().Str("worker", worker).Msg("Gatekeeper master key ready")
	return nil
}

// UploadSystemCode sets the pink system contract code clusters are created with.
func (d *Deployer) UploadSystemCode(ctx context.Context, wasm []byte) error {
	d.logger.Info().Str("codeHash", artifact.CodeHash(wasm).Hex()).Msg("Uploading system code")
	call := types.Sudo(types.NewCall(palletContracts, "setPinkSystemCode", utils.Hex(wasm)))
	if _, err := d.submit(ctx, call, d.cfg.Sudo); err != nil {
		return err
	}
	return d.waitUntil(ctx, "system code", func(ctx context.Context) (bool, error) {
		raw, err := d.registry.StorageItem(ctx, palletContracts, "pinkSystemCode")
		if err != nil || raw == nil {
			return false, err
		}
		// (version, code)
		var entry []json.RawMessage
		if err := json.Unmarshal(raw, &entry); err != nil || len(entry) != 2 {
			return false, errors.Errorf("unexpected pinkSystemCode %s", raw)
		}
		var code string
		if err := json.Unmarshal(entry[1], &code); err != nil {
			return false, errors.Wrap(err, "decode pinkSystemCode")
		}
		onChain, err := utils.HexToBytes(code)
		if err != nil {
			return false, err
		}
		return bytes.Equal(onChain, wasm), nil
	})
}

type clusterInfo struct {
	SystemContract types.Hash `json:"systemContract"`
}

// Cluster is a cluster and its system contract.
type Cluster struct {
	ID             types.Hash
	SystemContract types.Hash
}

// ExistingCluster returns the cluster with id, if the chain has it.
func (d *Deployer) ExistingCluster(ctx context.Context, id types.Hash) (*Cluster, bool, error) {
	raw, err := d.registry.StorageItem(ctx, palletContracts, "clusters", id.Hex())
	if err != nil || raw == nil {
		return nil, false, err
	}
	var info clusterInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, false, errors.Wrapf(err, "decode cluster %s", id.Hex())
	}
	return &Cluster{ID: id, SystemContract: info.SystemContract}, true, nil
}

// DeployCluster creates a public cluster on workers unless cluster id already
// exists, and waits until its keys and system contract are set up.
func (d *Deployer) DeployCluster(ctx context.Context, id types.Hash, owner types.Address, workers []string) (*Cluster, error) {
	if c, ok, err := d.ExistingCluster(ctx, id); err != nil || ok {
		if ok {
			d.logger.Info().Str("cluster", id.Hex()).Str("system", c.SystemContract.Hex()).Msg("Cluster already exists")
		}
		return c, err
	}

	d.logger.Info().Strs("workers", workers).Msg("Creating cluster")
	call := types.Sudo(types.NewCall(palletContracts, "addCluster",
		owner,
		"Public",
		workers,
		config.DefaultClusterDeposit,
		1, 1, 1,
		d.cfg.Treasury.Address,
	))
	outcome, err := d.submit(ctx, call, d.cfg.Sudo)
	if err != nil {
		return nil, err
	}
	ev, ok := types.FindEvent(outcome.Events, palletContracts, eventClusterCreated)
	if !ok || len(ev.Data) < 2 {
		return nil, errors.Wrapf(ErrNoClusterCreated, "block %s", outcome.Hash.Hex())
	}
	c := new(Cluster)
	if err := json.Unmarshal(ev.Data[0], &c.ID); err != nil {
		return nil, errors.Wrap(err, "decode cluster id")
	}
	if err := json.Unmarshal(ev.Data[1], &c.SystemContract); err != nil {
		return nil, errors.Wrap(err, "decode system contract")
	}
	d.logger.Info().Str("cluster", c.ID.Hex()).Msg("Cluster created on chain")

	if err := d.waitUntil(ctx, "cluster key", d.storageExists(palletRegistry, "clusterKeys", c.ID.Hex())); err != nil {
		return nil, err
	}
	if err := d.waitUntil(ctx, "system contract", d.storageExists(palletRegistry, "contractKeys", c.SystemContract.Hex())); err != nil {
		return nil, err
	}
	return c, nil
}

// AddClusterRequest is a whole cluster bring-up.
type AddClusterRequest struct {
	Cluster     types.Hash
	Workers     []string
	Gatekeepers []string
	System      *artifact.Contract
}

// AddCluster registers the workers and gatekeepers, uploads the system code and
// creates the cluster. The result is recorded in the journal.
func (d *Deployer) AddCluster(ctx context.Context, req *AddClusterRequest) (*Cluster, error) {
	workers, err := d.ResolveWorkers(ctx, req.Workers)
	if err != nil {
		return nil, errors.Wrap(err, "resolve workers")
	}
	gatekeepers, err := d.ResolveWorkers(ctx, req.Gatekeepers)
	if err != nil {
		return nil, errors.Wrap(err, "resolve gatekeepers")
	}

	for _, w := range workers {
		if err := d.RegisterWorker(ctx, w.Pubkey()); err != nil {
			return nil, err
		}
		if err := d.workers.AddWorkerEndpoint(ctx, w.Endpoint); err != nil {
			return nil, err
		}
	}
	for _, gk := range gatekeepers {
		if err := d.RegisterWorker(ctx, gk.Pubkey()); err != nil {
			return nil, err
		}
		if err := d.SetupGatekeeper(ctx, gk.Pubkey()); err != nil {
			return nil, err
		}
	}

	if err := d.UploadSystemCode(ctx, req.System.Wasm); err != nil {
		return nil, err
	}

	pubkeys := make([]string, len(workers))
	for i, w := range workers {
		pubkeys[i] = w.Pubkey()
	}
	c, err := d.DeployCluster(ctx, req.Cluster, d.cfg.Sudo.Address, pubkeys)
	if err != nil {
		return nil, err
	}
	if err := d.journal.RecordCluster(&storage.ClusterRecord{
		ID:             c.ID,
		SystemContract: c.SystemContract,
		Workers:        pubkeys,
		CreatedAt:      time.Now(),
	}); err != nil {
		return nil, err
	}
	d.logger.Info().Str("cluster", c.ID.Hex()).Str("system", c.SystemContract.Hex()).Msg("Cluster ready")
	return c, nil
}
