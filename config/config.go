// Package config resolves the deployer configuration from built-in chain profiles,
// an optional YAML file, the environment and command line flags, in increasing
// order of precedence.
package config

import (
	"io/ioutil"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
)

const (
	// PHA is one token in its smallest unit.
	PHA = 1000000000000
	// DefaultGasLimit bounds contract calls without an estimate.
	DefaultGasLimit = 100000000000
	// DefaultClusterID is the first cluster a chain gets.
	DefaultClusterID = "0x0000000000000000000000000000000000000000000000000000000000000001"
	// DefaultClusterDeposit is what the cluster owner deposits on creation: 10000 PHA.
	DefaultClusterDeposit = "10000000000000000"

	DefaultProfile = "poc5"
)

// Viper keys.
const (
	KeyProfile        = "profile"
	KeyNodeURL        = "chain.nodeUrl"
	KeySidecarURL     = "chain.sidecarUrl"
	KeyGatewayURL     = "chain.gatewayUrl"
	KeyPruntimeURL    = "chain.pruntimeUrl"
	KeyDeployerPubkey = "chain.deployerPubkey"
	KeyTestnet        = "chain.isTestnet"
	KeyBlockInterval  = "chain.blockInterval"
	KeyWorkers        = "workers"
	KeyGatekeepers    = "gatekeepers"
	KeySudo           = "accounts.sudo"
	KeyTreasury       = "accounts.treasury"
	KeyAnyone         = "accounts.anyone"
	KeyDriversDir     = "driversDir"
	KeyCluster        = "cluster"
	KeyDB             = "db"
	KeyMetricsAddr    = "metricsAddr"
	KeySubmitTimeout  = "submitTimeout"
)

// Profile describes one chain.
type Profile struct {
	NodeURL        string        `mapstructure:"nodeUrl" yaml:"nodeUrl"`
	SidecarURL     string        `mapstructure:"sidecarUrl" yaml:"sidecarUrl"`
	GatewayURL     string        `mapstructure:"gatewayUrl" yaml:"gatewayUrl"`
	PruntimeURL    string        `mapstructure:"pruntimeUrl" yaml:"pruntimeUrl"`
	DeployerPubkey string        `mapstructure:"deployerPubkey" yaml:"deployerPubkey"`
	IsTestnet      bool          `mapstructure:"isTestnet" yaml:"isTestnet"`
	BlockInterval  time.Duration `mapstructure:"blockInterval" yaml:"blockInterval"`
}

// Profiles are the built-in chains.
var Profiles = map[string]Profile{
	"local": {
		NodeURL:     "ws://localhost:9944",
		SidecarURL:  "http://localhost:8080",
		GatewayURL:  "http://localhost:8100",
		PruntimeURL: "http://localhost:8000",
		// local multisig 41MjZJbhdQKaZjEqbsvHXKPyRs1qp8DVU4Pph7XfaMQeqGQ8
		DeployerPubkey: "0x20c0c9d3ce492b85c8848effafdbb1a782c589e9b87ff5e3f76a1c7fa41382db",
		IsTestnet:      true,
		BlockInterval:  3 * time.Second,
	},
	"poc5": {
		NodeURL:     "wss://poc5.phala.network/ws",
		SidecarURL:  "http://localhost:8080",
		GatewayURL:  "http://localhost:8100",
		PruntimeURL: "https://poc5.phala.network/tee-api-1",
		// Alice
		DeployerPubkey: "0xd43593c715fdd31c61141abd04a99fd6822c8558854ccde39a5684e7a56da27d",
		IsTestnet:      true,
		BlockInterval:  3 * time.Second,
	},
	"mainnet": {
		NodeURL:     "wss://api.phala.network/ws",
		SidecarURL:  "http://localhost:8080",
		GatewayURL:  "http://localhost:8100",
		PruntimeURL: "https://phat-cluster-de.phala.network/pruntime-03",
		// Phala council 411YcLnTpRedPqFjFYLMFbxLMwnhjDXQvzV21gJLbp67T7Y4
		DeployerPubkey: "0x115b06fd88601f903a94a70cdcedca7ed6b77fed4e0d4fda0a5511970ab4aa5d",
		IsTestnet:      false,
		BlockInterval:  12 * time.Second,
	},
}

// Accounts holds signer key references; the gateway resolves them.
type Accounts struct {
	Sudo     string `mapstructure:"sudo" yaml:"sudo"`
	Treasury string `mapstructure:"treasury" yaml:"treasury"`
	Anyone   string `mapstructure:"anyone" yaml:"anyone"`
}

// Config is the resolved configuration.
type Config struct {
	Profile     string   `mapstructure:"profile" yaml:"profile"`
	Chain       Profile  `mapstructure:"chain" yaml:"chain"`
	Workers     []string `mapstructure:"workers" yaml:"workers"`
	Gatekeepers []string `mapstructure:"gatekeepers" yaml:"gatekeepers"`
	Accounts    Accounts `mapstructure:"accounts" yaml:"accounts"`
	DriversDir  string   `mapstructure:"driversDir" yaml:"driversDir"`
	Cluster     string   `mapstructure:"cluster" yaml:"cluster"`
	DB          string   `mapstructure:"db" yaml:"db"`
	MetricsAddr string   `mapstructure:"metricsAddr" yaml:"metricsAddr,omitempty"`
	// SubmitTimeout bounds every transaction from broadcast to inclusion; zero
	// waits forever.
	SubmitTimeout time.Duration `mapstructure:"submitTimeout" yaml:"submitTimeout"`
}

// envBindings are the variables the deployment scripts have always read.
var envBindings = map[string]string{
	KeyNodeURL:     "ENDPOINT",
	KeyWorkers:     "WORKERS",
	KeyGatekeepers: "GKS",
	KeySudo:        "SUDO",
	KeyTreasury:    "TREASURY",
	KeyDriversDir:  "DRIVERS_DIR",
}

// SetDefaults registers the defaults of every key that has no profile.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyProfile, DefaultProfile)
	v.SetDefault(KeyWorkers, []string{"https://poc5.phala.network/tee-api-1"})
	v.SetDefault(KeyGatekeepers, []string{"https://poc5.phala.network/gk-api"})
	v.SetDefault(KeySudo, "//Alice")
	v.SetDefault(KeyTreasury, "//Treasury")
	v.SetDefault(KeyAnyone, "//Alice")
	v.SetDefault(KeyDriversDir, "./res")
	v.SetDefault(KeyCluster, DefaultClusterID)
	v.SetDefault(KeyDB, "./deployer-db")
	v.SetDefault(KeySubmitTimeout, 5*time.Minute)
	for key, env := range envBindings {
		// BindEnv only fails without a key
		_ = v.BindEnv(key, env)
	}
}

// Load resolves the configuration held by v. The chain section starts from the
// selected profile; anything set in v overrides it.
func Load(v *viper.Viper) (*Config, error) {
	name := v.GetString(KeyProfile)
	profile, ok := Profiles[name]
	if !ok {
		return nil, errors.Errorf("unknown profile %q, have local, poc5, mainnet", name)
	}
	v.SetDefault(KeyNodeURL, profile.NodeURL)
	v.SetDefault(KeySidecarURL, profile.SidecarURL)
	v.SetDefault(KeyGatewayURL, profile.GatewayURL)
	v.SetDefault(KeyPruntimeURL, profile.PruntimeURL)
	v.SetDefault(KeyDeployerPubkey, profile.DeployerPubkey)
	v.SetDefault(KeyTestnet, profile.IsTestnet)
	v.SetDefault(KeyBlockInterval, profile.BlockInterval)

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	// lists from the environment arrive as one comma separated string
	cfg.Workers = splitList(cfg.Workers)
	cfg.Gatekeepers = splitList(cfg.Gatekeepers)
	if cfg.Chain.BlockInterval <= 0 {
		return nil, errors.Errorf("invalid block interval %s", cfg.Chain.BlockInterval)
	}
	return cfg, nil
}

func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// ReadFile merges the YAML file at path into v.
func ReadFile(v *viper.Viper, path string) error {
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	return errors.Wrapf(v.ReadInConfig(), "read config %s", path)
}

// WriteFile saves cfg as YAML, e.g. as a starting point for a custom chain.
func WriteFile(cfg *Config, path string) error {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return ioutil.WriteFile(path, out, 0644)
}
