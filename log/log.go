/*
Package log is the module-aware logger of the deployer, based on zerolog (https://github.com/rs/zerolog)

The logger is configured by an optional toml file. Every field is optional and has a sane default.

	# default level for all modules: debug/info/warn/error/fatal/panic
	level = "info"

	# output formatter: console, console_no_color, json
	formatter = "console"

	# print source file and line
	caller = false

	# time stamp layout, see time/format.go
	timefieldformat = "15:04:05"

	# stdout, stderr or a file path
	out = "stderr"

	# per module overrides; only level and out are read
	[txqueue]
	level = "debug"

	[deploy]
	out = "deploy.log"

The file is looked up as deploylog.toml in the working directory, or taken from the path in the
environment variable DEPLOYER_LOGCONFIG.
*/
package log

import (
	"errors"
	"os"
	"strings"
	"sync"

	colorable "github.com/mattn/go-colorable"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

var (
	baseLogger = zerolog.New(os.Stderr)
	baseLevel  = zerolog.InfoLevel
	logInitMu  sync.Mutex
	isLogInit  = false
	viperConf  = viper.New()
)

const (
	confFilePathKey     = "LOGCONFIG"
	confEnvPrefix       = "DEPLOYER"
	defaultConfFileName = "deploylog"
)

func loadConfigFile() *viper.Viper {
	viperConf = viper.New()
	viperConf.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viperConf.SetEnvPrefix(confEnvPrefix)
	viperConf.AutomaticEnv()

	viperConf.SetConfigType("toml")
	viperConf.SetConfigName(defaultConfFileName)
	viperConf.AddConfigPath(".")

	if confFilePath := viperConf.GetString(confFilePathKey); confFilePath != "" {
		viperConf.SetConfigFile(confFilePath)
	}

	if err := viperConf.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			baseLogger.Error().Err(err).Msg("Fail to read the logger config file")
		}
	}
	return viperConf
}

func initLog() {
	if format := viperConf.GetString("timefieldformat"); format != "" {
		zerolog.TimeFieldFormat = format
	}

	out := os.Stderr
	if outputName := viperConf.GetString("out"); outputName != "" {
		o, err := getOutput(outputName)
		if err == nil {
			out = o
			baseLogger = baseLogger.Output(out)
		} else {
			baseLogger.Warn().Err(err).Str("outputName", outputName).Msg("failed to open output writer, keeping stderr")
		}
	}

	switch formatter := strings.ToLower(viperConf.GetString("formatter")); formatter {
	case "", "console":
		baseLogger = baseLogger.Output(
			zerolog.ConsoleWriter{Out: colorable.NewColorable(out), NoColor: false, TimeFormat: zerolog.TimeFieldFormat})
	case "console_no_color":
		baseLogger = baseLogger.Output(
			zerolog.ConsoleWriter{Out: out, NoColor: true, TimeFormat: zerolog.TimeFieldFormat})
	case "json":
		baseLogger = baseLogger.Output(out)
	default:
		baseLogger.Warn().Str("formatter", formatter).Msg("Invalid formatter. Only allowed; console/console_no_color/json")
		baseLogger = baseLogger.Output(out)
	}

	if viperConf.GetBool("caller") {
		baseLogger = baseLogger.With().Caller().Logger()
	}

	zLevel := zerolog.InfoLevel
	if level := viperConf.GetString("level"); level != "" {
		var err error
		if zLevel, err = zerolog.ParseLevel(level); err != nil {
			baseLogger.Warn().Err(err).Msg("Fail to parse the log level, using info")
			zLevel = zerolog.InfoLevel
		}
	}

	baseLogger = baseLogger.With().Timestamp().Logger().Level(zLevel)
	baseLevel = zLevel
}

func ensureInit() {
	if !isLogInit {
		loadConfigFile()
		initLog()
		isLogInit = true
	}
}

// NewLogger returns a logger tagged with module=moduleName. The module may override
// the base level and output in its own sub table of the config file.
func NewLogger(moduleName string) *Logger {
	logInitMu.Lock()
	defer logInitMu.Unlock()
	ensureInit()

	zLogger := baseLogger.With().Str("module", moduleName).Logger()
	zLevel := baseLevel

	if sub := viperConf.Sub(moduleName); sub != nil {
		if outputName := sub.GetString("out"); outputName != "" {
			if out, err := getOutput(outputName); err == nil {
				zLogger = zLogger.Output(out)
			} else {
				baseLogger.Warn().Err(err).Str("outputName", outputName).Str("module", moduleName).
					Msg("failed to open output writer, keeping base output")
			}
		}
		if level := sub.GetString("level"); level != "" {
			var err error
			if zLevel, err = zerolog.ParseLevel(level); err != nil {
				zLevel = zerolog.InfoLevel
			}
			zLogger = zLogger.Level(zLevel)
		}
	}

	return &Logger{
		Logger: &zLogger,
		name:   moduleName,
		level:  zLevel,
	}
}

// Default returns the base logger without a module tag.
func Default() *Logger {
	logInitMu.Lock()
	defer logInitMu.Unlock()
	ensureInit()

	return &Logger{
		Logger: &baseLogger,
		level:  baseLevel,
	}
}

// Nop returns a logger that discards everything. Useful for tests.
func Nop() *Logger {
	zLogger := zerolog.Nop()
	return &Logger{Logger: &zLogger, name: "nop", level: zerolog.Disabled}
}

var errEmptyName = errors.New("empty output name")

// getOutput maps stdout and stderr to the process streams; anything else is
// opened as an append-only file.
func getOutput(outName string) (*os.File, error) {
	switch outName {
	case "":
		return nil, errEmptyName
	case "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	default:
		return os.OpenFile(outName, os.O_WRONLY|os.O_CREATE|os.O_APPEND|os.O_SYNC, 0644)
	}
}

// Logger wraps a zerolog logger with its module name and level.
type Logger struct {
	*zerolog.Logger
	name  string
	level zerolog.Level
}

// Name returns the module the logger was created for.
func (logger *Logger) Name() string {
	return logger.name
}

// IsDebugEnabled reports whether debug statements are emitted.
func (logger *Logger) IsDebugEnabled() bool {
	return logger.level <= zerolog.DebugLevel
}

// Level returns the logger level as a string.
func (logger *Logger) Level() string {
	return logger.level.String()
}

// WithField returns a child logger carrying an extra string field.
func (logger *Logger) WithField(key, value string) *Logger {
	zLogger := logger.Logger.With().Str(key, value).Logger()
	return &Logger{Logger: &zLogger, name: logger.name, level: logger.level}
}
