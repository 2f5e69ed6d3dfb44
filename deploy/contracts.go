package deploy

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"

	"github.com/phat-tools/cluster-deployer/artifact"
	"github.com/phat-tools/cluster-deployer/chain"
	"github.com/phat-tools/cluster-deployer/config"
	"github.com/phat-tools/cluster-deployer/storage"
	"github.com/phat-tools/cluster-deployer/types"
	"github.com/phat-tools/cluster-deployer/utils"
)

// System driver names.
const (
	DriverContractDeposit = "ContractDeposit"
	DriverSidevmOperation = "SidevmOperation"
	DriverPinkLogger      = "PinkLogger"
	DriverTagStack        = "TagStack"
)

var (
	clusterGrant = new(big.Int).Mul(big.NewInt(1000), big.NewInt(config.PHA))
	systemStake  = new(big.Int).Mul(big.NewInt(50), big.NewInt(config.PHA))
)

// TransferToCluster funds the Anyone account inside the cluster so it can pay
// for code uploads. Only testnets are funded this way.
func (d *Deployer) TransferToCluster(ctx context.Context, cluster types.Hash) error {
	if !d.cfg.IsTestnet {
		return nil
	}
	who := d.cfg.Anyone.PublicKey
	call := types.NewCall(palletContracts, "transferToCluster", clusterGrant, cluster, who)
	if _, err := d.submit(ctx, call, d.cfg.Anyone); err != nil {
		return err
	}
	return d.waitUntil(ctx, "cluster balance", func(ctx context.Context) (bool, error) {
		balance, err := d.system.TotalBalanceOf(ctx, cluster, who)
		if err != nil {
			return false, err
		}
		return balance.Sign() > 0, nil
	})
}

// UploadCode uploads code of codeType to the cluster unless the system contract
// already knows it.
func (d *Deployer) UploadCode(ctx context.Context, cluster types.Hash, name, codeType string, code []byte) error {
	hash := artifact.CodeHash(code)
	logger := d.logger.WithField("code", name)
	exists := func(ctx context.Context) (bool, error) {
		return d.system.CodeExists(ctx, cluster, hash, codeType)
	}
	ok, err := exists(ctx)
	if err != nil {
		return err
	}
	if ok {
		logger.Info().Str("codeHash", hash.Hex()).Msg("Code exists")
	} else {
		logger.Info().Str("codeHash", hash.Hex()).Str("type", codeType).Int("size", len(code)).Msg("Uploading code")
		call := types.NewCall(palletContracts, "clusterUploadResource", cluster, codeType, utils.Hex(code))
		if _, err := d.submit(ctx, call, d.cfg.Anyone); err != nil {
			return err
		}
		if err := d.waitUntil(ctx, "code "+hash.Hex(), exists); err != nil {
			return err
		}
	}
	return d.journal.RecordCode(&storage.CodeRecord{
		Cluster:    cluster,
		Hash:       hash,
		Type:       codeType,
		Name:       name,
		UploadedAt: time.Now(),
	})
}

// UploadDrivers uploads every driver code in drivers.
func (d *Deployer) UploadDrivers(ctx context.Context, cluster types.Hash, drivers *artifact.Drivers) error {
	contracts := []*artifact.Contract{drivers.Tokenomic, drivers.SidevmDeployer, drivers.LogServer, drivers.TagBag}
	if drivers.Qjs != nil {
		contracts = append(contracts, drivers.Qjs)
	}
	for _, c := range contracts {
		if err := d.UploadCode(ctx, cluster, c.Name, chain.CodeTypeInk, c.Wasm); err != nil {
			return err
		}
	}
	return d.UploadCode(ctx, cluster, "log_server.sidevm", chain.CodeTypeSidevm, drivers.LogServerSidevm)
}

// InstantiateCall builds the instantiation of c in cluster with its default
// constructor. A contract planned earlier for the same cluster keeps its salt, so
// its address does not change between runs.
func (d *Deployer) InstantiateCall(ctx context.Context, cluster types.Hash, c *artifact.Contract) (*types.Call, *storage.ContractRecord, error) {
	record, found, err := d.journal.Contract(cluster, c.Name)
	if err != nil {
		return nil, nil, err
	}
	if !found || record.Instantiated || record.CodeHash != c.CodeHash {
		salt, err := artifact.RandomSalt()
		if err != nil {
			return nil, nil, err
		}
		record = &storage.ContractRecord{
			Cluster:  cluster,
			Name:     c.Name,
			CodeHash: c.CodeHash,
			Salt:     salt,
			Address:  artifact.DeriveContractID(d.cfg.Deployer, cluster, c.CodeHash, salt),
		}
		if err := d.journal.RecordContract(record); err != nil {
			return nil, nil, err
		}
	}

	ctor := c.InstantiateData(nil)
	est, err := d.system.EstimateInstantiate(ctx, &chain.InstantiateRequest{
		Cluster:  cluster,
		CodeHash: c.CodeHash,
		Selector: ctor,
		Salt:     record.Salt,
		Deposit:  (*hexutil.Big)(new(big.Int)),
		Transfer: (*hexutil.Big)(new(big.Int)),
	})
	if err != nil {
		return nil, nil, err
	}
	d.logger.Info().
		Str("contract", c.Name).
		Str("codeHash", c.CodeHash.Hex()).
		Str("salt", record.Salt.String()).
		Str("address", record.Address.Hex()).
		Uint64("gas", uint64(est.GasRequired)).
		Msg("Instantiate")
	call := types.NewCall(palletContracts, "instantiateContract",
		map[string]types.Hash{"WasmCode": c.CodeHash},
		ctor,
		record.Salt,
		cluster,
		0,
		uint64(est.GasRequired),
		est.Deposit(),
		0,
	)
	return call, record, nil
}

// ContractMessage is a message to a contract; the gateway encodes it against the
// target's metadata.
type ContractMessage struct {
	Message             string        `json:"message"`
	Args                []interface{} `json:"args"`
	GasLimit            uint64        `json:"gasLimit"`
	StorageDepositLimit *big.Int      `json:"storageDepositLimit"`
}

func (d *Deployer) messageCall(ctx context.Context, cluster, contract types.Hash, message string, args ...interface{}) (*types.Call, error) {
	est, err := d.system.EstimateCall(ctx, cluster, contract, message, args...)
	if err != nil {
		return nil, err
	}
	msg := &ContractMessage{Message: message, Args: args, GasLimit: uint64(est.GasRequired)}
	if est.StorageDeposit != nil {
		msg.StorageDepositLimit = est.Deposit()
	}
	return types.NewCall(palletContracts, "pushContractMessage", contract, msg, 0), nil
}

// SetDriverCall builds system::setDriver(name, contract).
func (d *Deployer) SetDriverCall(ctx context.Context, cluster, system types.Hash, name string, contract types.Hash) (*types.Call, error) {
	return d.messageCall(ctx, cluster, system, "system::setDriver", name, contract)
}

// GrantAdminCall builds system::grantAdmin(contract).
func (d *Deployer) GrantAdminCall(ctx context.Context, cluster, system types.Hash, contract types.Hash) (*types.Call, error) {
	return d.messageCall(ctx, cluster, system, "system::grantAdmin", contract)
}

// Binding installs Contract as the system driver named Driver.
type Binding struct {
	Driver   string
	Contract *artifact.Contract
}

// BatchPlan is a driver batch and what it will record once applied.
type BatchPlan struct {
	Call      *types.Call
	Contracts []*storage.ContractRecord
	Drivers   []*storage.DriverRecord
	// Installed lists drivers that already point to the planned contract.
	Installed []string
}

// Empty reports whether nothing is left to do.
func (p *BatchPlan) Empty() bool {
	return p.Call == nil
}

func (d *Deployer) installed(ctx context.Context, cluster types.Hash, b Binding) (types.Hash, bool, error) {
	record, found, err := d.journal.Contract(cluster, b.Contract.Name)
	if err != nil || !found {
		return types.Hash{}, false, err
	}
	current, err := d.system.GetDriver(ctx, cluster, b.Driver)
	if err != nil {
		return types.Hash{}, false, err
	}
	return record.Address, current == record.Address, nil
}

// PlanBatch builds one utility.batchAll that instantiates every binding's
// contract, sets it as driver and grants it admin. With stake, the system
// contract is staked first.
func (d *Deployer) PlanBatch(ctx context.Context, c *Cluster, stake bool, bindings []Binding) (*BatchPlan, error) {
	plan := new(BatchPlan)
	var calls []*types.Call
	for _, b := range bindings {
		if _, ok, err := d.installed(ctx, c.ID, b); err != nil {
			return nil, err
		} else if ok {
			plan.Installed = append(plan.Installed, b.Driver)
			continue
		}
		instantiate, record, err := d.InstantiateCall(ctx, c.ID, b.Contract)
		if err != nil {
			return nil, err
		}
		setDriver, err := d.SetDriverCall(ctx, c.ID, c.SystemContract, b.Driver, record.Address)
		if err != nil {
			return nil, err
		}
		grantAdmin, err := d.GrantAdminCall(ctx, c.ID, c.SystemContract, record.Address)
		if err != nil {
			return nil, err
		}
		calls = append(calls, instantiate, setDriver, grantAdmin)
		plan.Contracts = append(plan.Contracts, record)
		plan.Drivers = append(plan.Drivers, &storage.DriverRecord{Cluster: c.ID, Name: b.Driver, Address: record.Address})
	}
	if len(calls) == 0 {
		return plan, nil
	}
	if stake {
		calls = append([]*types.Call{types.NewCall(palletTokenomic, "adjustStake", c.SystemContract, systemStake)}, calls...)
	}
	plan.Call = types.BatchAll(calls...)
	return plan, nil
}

// BatchSetup applies a driver batch and waits until every driver points to its
// new contract. In dry-run mode the batch is only reported.
func (d *Deployer) BatchSetup(ctx context.Context, name string, c *Cluster, stake bool, bindings []Binding) (*BatchPlan, error) {
	plan, err := d.PlanBatch(ctx, c, stake, bindings)
	if err != nil {
		return nil, err
	}
	if plan.Empty() {
		d.logger.Info().Str("batch", name).Strs("installed", plan.Installed).Msg("Drivers already installed")
		return plan, nil
	}
	if d.cfg.DryRun {
		raw, err := plan.Call.JSON()
		if err != nil {
			return nil, err
		}
		d.printed(name, raw)
		return plan, nil
	}

	if _, err := d.submit(ctx, plan.Call, d.cfg.Anyone); err != nil {
		return nil, err
	}
	for _, dr := range plan.Drivers {
		dr := dr
		if err := d.waitUntil(ctx, "driver "+dr.Name, func(ctx context.Context) (bool, error) {
			addr, err := d.system.GetDriver(ctx, c.ID, dr.Name)
			return addr == dr.Address, err
		}); err != nil {
			return nil, err
		}
	}
	for _, r := range plan.Contracts {
		r.Instantiated = true
	}
	if err := d.journal.RecordBatch(plan.Contracts, plan.Drivers); err != nil {
		return nil, err
	}
	d.logger.Info().Str("batch", name).Int("drivers", len(plan.Drivers)).Msg("Drivers installed")
	return plan, nil
}

// SetupDrivers funds the uploader, uploads all driver code and installs the
// drivers in two batches: the tokenomic and sidevm operators together with the
// system contract stake, then the logger and tag stack.
func (d *Deployer) SetupDrivers(ctx context.Context, c *Cluster, drivers *artifact.Drivers) error {
	if err := d.TransferToCluster(ctx, c.ID); err != nil {
		return err
	}
	if err := d.UploadDrivers(ctx, c.ID, drivers); err != nil {
		return err
	}
	if _, err := d.BatchSetup(ctx, "operators", c, true, []Binding{
		{Driver: DriverContractDeposit, Contract: drivers.Tokenomic},
		{Driver: DriverSidevmOperation, Contract: drivers.SidevmDeployer},
	}); err != nil {
		return errors.Wrap(err, "install operators")
	}
	if _, err := d.BatchSetup(ctx, "logger", c, false, []Binding{
		{Driver: DriverPinkLogger, Contract: drivers.LogServer},
		{Driver: DriverTagStack, Contract: drivers.TagBag},
	}); err != nil {
		return errors.Wrap(err, "install logger")
	}
	return nil
}
