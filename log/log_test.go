package log

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetLogger() {
	baseLogger = zerolog.New(os.Stderr)
	isLogInit = false
}

func createConfigAndSetEnv(t *testing.T, text string) {
	tmpfile, err := ioutil.TempFile("", "deploylog*.toml")
	require.NoError(t, err)
	_, err = tmpfile.Write([]byte(text))
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())

	envKey := confEnvPrefix + "_" + confFilePathKey
	os.Setenv(envKey, tmpfile.Name())
	t.Cleanup(func() {
		os.Unsetenv(envKey)
		os.Remove(tmpfile.Name())
	})
}

func createCleanLogger(t *testing.T, configText string, moduleName string) *Logger {
	resetLogger()
	createConfigAndSetEnv(t, configText)
	return NewLogger(moduleName)
}

func TestDefaultConfig(t *testing.T) {
	resetLogger()
	logger := Default()
	assert.Equal(t, "info", logger.Level())
}

func TestBasicLevel(t *testing.T) {
	logger := createCleanLogger(t, `
	level = "error"
	`, "test_logger")

	assert.Equal(t, "error", logger.Level())
	assert.Equal(t, "test_logger", logger.Name())
}

func TestSubLevel(t *testing.T) {
	logger := createCleanLogger(t, `
	level = "error"

	[txqueue]
	level = "warn"
	`, "txqueue")

	assert.Equal(t, "error", Default().Level())
	assert.Equal(t, "warn", logger.Level())
}

func TestIsDebugEnabled(t *testing.T) {
	logger := createCleanLogger(t, `
	level = "warn"
	`, "info_logger")
	assert.False(t, logger.IsDebugEnabled())

	logger = createCleanLogger(t, `
	level = "debug"
	`, "debug_logger")
	assert.True(t, logger.IsDebugEnabled())
}

func TestGetOutput(t *testing.T) {
	tmplogfile, err := ioutil.TempFile("", "testfilelog")
	require.NoError(t, err)
	defer os.Remove(tmplogfile.Name())
	tmplogfileName, err := filepath.Abs(tmplogfile.Name())
	require.NoError(t, err)

	tests := []struct {
		name    string
		arg     string
		wantOut *os.File
		wantErr bool
	}{
		{"Empty", "", nil, true},
		{"Stdout", "stdout", os.Stdout, false},
		{"Stderr", "stderr", os.Stderr, false},
		{"CustomFile", tmplogfileName, nil, false},
		{"CantCreate", "no/where/dir/nofile.log", nil, true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := getOutput(test.arg)
			if test.wantOut != nil {
				assert.Equal(t, test.wantOut, got)
			}
			assert.Equal(t, test.wantErr, err != nil)
		})
	}
}

func TestFileOutByModule(t *testing.T) {
	dir, err := ioutil.TempDir("", "deploylog")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	baseLogName := filepath.ToSlash(filepath.Join(dir, "base.log"))
	queueLogName := filepath.ToSlash(filepath.Join(dir, "txqueue.log"))

	createCleanLogger(t, fmt.Sprintf(`
out = "%s"
formatter = "json"
level = "info"

[txqueue]
out = "%s"`, baseLogName, queueLogName), "txqueue")

	NewLogger("txqueue").Info().Msg("queue write")
	NewLogger("deploy").Info().Msg("deploy write")
	NewLogger("deploy").WithField("run", "r1").Info().Msg("field write")

	baseContent, err := ioutil.ReadFile(baseLogName)
	require.NoError(t, err)
	assert.True(t, bytes.Contains(baseContent, []byte("deploy write")))
	assert.True(t, bytes.Contains(baseContent, []byte(`"run":"r1"`)))
	assert.False(t, bytes.Contains(baseContent, []byte("queue write")))

	queueContent, err := ioutil.ReadFile(queueLogName)
	require.NoError(t, err)
	assert.True(t, bytes.Contains(queueContent, []byte("queue write")))
}
