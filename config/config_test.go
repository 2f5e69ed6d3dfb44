package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setEnv(t *testing.T, key, value string) {
	old, had := os.LookupEnv(key)
	require.NoError(t, os.Setenv(key, value))
	t.Cleanup(func() {
		if had {
			os.Setenv(key, old)
		} else {
			os.Unsetenv(key)
		}
	})
}

func newViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	return v
}

func TestDefaultProfile(t *testing.T) {
	cfg, err := Load(newViper())
	require.NoError(t, err)
	assert.Equal(t, DefaultProfile, cfg.Profile)
	assert.Equal(t, "wss://poc5.phala.network/ws", cfg.Chain.NodeURL)
	assert.True(t, cfg.Chain.IsTestnet)
	assert.Equal(t, 3*time.Second, cfg.Chain.BlockInterval)
	assert.Equal(t, []string{"https://poc5.phala.network/gk-api"}, cfg.Gatekeepers)
	assert.Equal(t, "//Alice", cfg.Accounts.Sudo)
	assert.Equal(t, DefaultClusterID, cfg.Cluster)
	assert.Equal(t, 5*time.Minute, cfg.SubmitTimeout)
}

func TestProfileSelection(t *testing.T) {
	v := newViper()
	v.Set(KeyProfile, "mainnet")
	cfg, err := Load(v)
	require.NoError(t, err)
	assert.False(t, cfg.Chain.IsTestnet)
	assert.Equal(t, "0x115b06fd88601f903a94a70cdcedca7ed6b77fed4e0d4fda0a5511970ab4aa5d", cfg.Chain.DeployerPubkey)

	v = newViper()
	v.Set(KeyProfile, "devnet")
	_, err = Load(v)
	assert.Error(t, err)
}

func TestEnvironmentOverrides(t *testing.T) {
	setEnv(t, "ENDPOINT", "ws://10.0.0.1:9944")
	setEnv(t, "WORKERS", "http://w1:8000, http://w2:8000")
	setEnv(t, "SUDO", "//Bob")
	setEnv(t, "DRIVERS_DIR", "/opt/drivers")

	cfg, err := Load(newViper())
	require.NoError(t, err)
	assert.Equal(t, "ws://10.0.0.1:9944", cfg.Chain.NodeURL)
	assert.Equal(t, []string{"http://w1:8000", "http://w2:8000"}, cfg.Workers)
	assert.Equal(t, "//Bob", cfg.Accounts.Sudo)
	assert.Equal(t, "/opt/drivers", cfg.DriversDir)
	// untouched keys keep the profile
	assert.Equal(t, "https://poc5.phala.network/tee-api-1", cfg.Chain.PruntimeURL)
}

func TestFileRoundTrip(t *testing.T) {
	v := newViper()
	v.Set(KeyProfile, "local")
	cfg, err := Load(v)
	require.NoError(t, err)
	cfg.Chain.SidecarURL = "http://sidecar:8080"
	cfg.Workers = []string{"http://worker:8000"}

	path := filepath.Join(t.TempDir(), "deployer.yaml")
	require.NoError(t, WriteFile(cfg, path))

	v = newViper()
	require.NoError(t, ReadFile(v, path))
	loaded, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "local", loaded.Profile)
	assert.Equal(t, "http://sidecar:8080", loaded.Chain.SidecarURL)
	assert.Equal(t, "ws://localhost:9944", loaded.Chain.NodeURL)
	assert.Equal(t, []string{"http://worker:8000"}, loaded.Workers)
	assert.Equal(t, 3*time.Second, loaded.Chain.BlockInterval)
}
