// Package commands holds the deployer's cobra commands.
package commands

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/phat-tools/cluster-deployer/chain"
	"github.com/phat-tools/cluster-deployer/config"
	"github.com/phat-tools/cluster-deployer/db/badgerdb"
	"github.com/phat-tools/cluster-deployer/deploy"
	"github.com/phat-tools/cluster-deployer/storage"
	"github.com/phat-tools/cluster-deployer/txqueue"
	"github.com/phat-tools/cluster-deployer/types"
)

const (
	flagConfig      = "config"
	flagProfile     = "profile"
	flagDB          = "db"
	flagMetricsAddr = "metrics-addr"
	flagCluster     = "cluster"
	flagDryRun      = "dry-run"
	flagFile        = "file"
	flagCodeType    = "type"
	flagName        = "name"
	flagAccount     = "account"
	flagBlocks      = "blocks"
	flagOut         = "out"

	dialTimeout = 30 * time.Second
)

// env is everything a deployment command talks to.
type env struct {
	cfg      *config.Config
	node     *chain.Client
	sidecar  *chain.Sidecar
	gateway  *chain.Gateway
	queue    *txqueue.Queue
	db       *badgerdb.DB
	journal  *storage.Journal
	accounts map[string]*types.Account
}

func loadConfig() (*config.Config, error) {
	return config.Load(viper.GetViper())
}

// openJournal opens the journal database alone, for commands that do not touch
// the chain.
func openJournal(cfg *config.Config) (*badgerdb.DB, *storage.Journal, error) {
	db, err := badgerdb.NewDB(cfg.DB)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "open journal %s", cfg.DB)
	}
	return db, storage.NewJournal(db), nil
}

func initEnv(ctx context.Context) (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	e := &env{cfg: cfg, accounts: make(map[string]*types.Account)}
	if err := e.dial(ctx); err != nil {
		e.close()
		return nil, err
	}
	if e.db, e.journal, err = openJournal(cfg); err != nil {
		e.close()
		return nil, err
	}
	serveMetrics(cfg.MetricsAddr)
	return e, nil
}

func (e *env) dial(ctx context.Context) error {
	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	var err error
	if e.node, err = chain.Dial(dctx, e.cfg.Chain.NodeURL); err != nil {
		return err
	}
	if e.gateway, err = chain.DialGateway(dctx, e.cfg.Chain.GatewayURL); err != nil {
		return err
	}
	e.sidecar = chain.NewSidecar(e.cfg.Chain.SidecarURL)
	e.queue = txqueue.New(chain.NewLedger(e.node, e.gateway, e.sidecar), txqueue.WithDefaultTimeout(e.cfg.SubmitTimeout))
	log.Info().Str("profile", e.cfg.Profile).Str("node", e.cfg.Chain.NodeURL).Msg("Connected")
	return nil
}

func (e *env) close() {
	if e.db != nil {
		e.db.Close()
	}
	if e.gateway != nil {
		e.gateway.Close()
	}
	if e.node != nil {
		e.node.Close()
	}
}

// account resolves a signing key through the gateway, once.
func (e *env) account(ctx context.Context, key string) (*types.Account, error) {
	if acc, ok := e.accounts[key]; ok {
		return acc, nil
	}
	acc, err := e.gateway.ResolveAccount(ctx, key)
	if err != nil {
		return nil, err
	}
	e.accounts[key] = acc
	return acc, nil
}

func (e *env) deployer(ctx context.Context, dryRun bool) (*deploy.Deployer, error) {
	sudo, err := e.account(ctx, e.cfg.Accounts.Sudo)
	if err != nil {
		return nil, err
	}
	treasury, err := e.account(ctx, e.cfg.Accounts.Treasury)
	if err != nil {
		return nil, err
	}
	anyone, err := e.account(ctx, e.cfg.Accounts.Anyone)
	if err != nil {
		return nil, err
	}
	return deploy.New(deploy.Config{
		Sudo:          sudo,
		Treasury:      treasury,
		Anyone:        anyone,
		Deployer:      common.HexToHash(e.cfg.Chain.DeployerPubkey),
		IsTestnet:     e.cfg.Chain.IsTestnet,
		DryRun:        dryRun,
		BlockInterval: e.cfg.Chain.BlockInterval,
	}, e.queue, e.sidecar, e.gateway, e.gateway, e.journal), nil
}

// recordRun wraps a deployment step into a journal run record.
func (e *env) recordRun(command string, d *deploy.Deployer, run func() error) error {
	if err := e.journal.StartRun(&storage.RunRecord{
		ID:        d.RunID(),
		Command:   command,
		Profile:   e.cfg.Profile,
		StartedAt: time.Now(),
	}); err != nil {
		return err
	}
	runErr := run()
	if err := e.journal.FinishRun(d.RunID(), runErr); err != nil {
		log.Error().Err(err).Str("run", d.RunID()).Msg("Failed to record run")
	}
	return runErr
}

func (e *env) cluster(ctx context.Context, d *deploy.Deployer) (*deploy.Cluster, error) {
	id := common.HexToHash(e.cfg.Cluster)
	c, ok, err := d.ExistingCluster(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Errorf("cluster %s does not exist", id.Hex())
	}
	return c, nil
}

var (
	metricsOnce sync.Once
	metricsAddr string
)

// serveMetrics starts the metrics endpoint on the first call with a non-empty
// addr and returns the address it listens on.
func serveMetrics(addr string) string {
	if addr == "" {
		return ""
	}
	metricsOnce.Do(func() {
		if err := txqueue.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
			log.Warn().Err(err).Msg("Failed to register metrics")
			return
		}
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			log.Error().Err(err).Str("addr", addr).Msg("Failed to listen for metrics")
			return
		}
		metricsAddr = ln.Addr().String()
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.Serve(ln, mux); err != nil {
				log.Error().Err(err).Str("addr", metricsAddr).Msg("Metrics server stopped")
			}
		}()
		log.Info().Str("addr", metricsAddr).Msg("Serving metrics")
	})
	return metricsAddr
}
