package build

import (
	"io"

	"github.com/btcsuite/btclog/v2"
)

const (
	// DefaultMaxLogFiles is the default maximum number of log files to
	// keep.
	DefaultMaxLogFiles = 3

	// DefaultMaxLogFileSize is the default maximum log file size in MB.
	DefaultMaxLogFileSize = 10
)

// LogConfig holds logging configuration options.
//
//nolint:lll
type LogConfig struct {
	Console *LoggerConfig     `group:"console" namespace:"console" description:"The logger writing to stdout."`
	File    *FileLoggerConfig `group:"file" namespace:"file" description:"The logger writing to the daemon's log file."`
}

// LoggerConfig holds options for a particular logger.
//
//nolint:lll
type LoggerConfig struct {
	Disable      bool `long:"disable" description:"Disable this logger."`
	NoTimestamps bool `long:"no-timestamps" description:"Omit timestamps from log lines."`
}

// FileLoggerConfig extends LoggerConfig with specific log file options.
//
//nolint:lll
type FileLoggerConfig struct {
	LoggerConfig
	MaxLogFiles    int `long:"max-files" description:"Maximum logfiles to keep (0 for no rotation)"`
	MaxLogFileSize int `long:"max-file-size" description:"Maximum logfile size in MB"`
}

// DefaultLogConfig returns the default logging config options.
func DefaultLogConfig() *LogConfig {
	return &LogConfig{
		Console: &LoggerConfig{},
		File: &FileLoggerConfig{
			MaxLogFiles:    DefaultMaxLogFiles,
			MaxLogFileSize: DefaultMaxLogFileSize,
		},
	}
}

// HandlerOptions returns the set of btclog.HandlerOptions that the state of the
// config struct translates to.
func (cfg *LoggerConfig) HandlerOptions() []btclog.HandlerOption {
	var opts []btclog.HandlerOption
	if cfg.NoTimestamps {
		opts = append(opts, btclog.WithNoTimestamp())
	}

	return opts
}

// NewDefaultLogHandler returns the root handler that every subsystem logger
// is derived from. It writes to the console and to the rotating log file
// unless either of them is disabled in the config.
func NewDefaultLogHandler(cfg *LogConfig, console io.Writer,
	logFile *LogFile) btclog.Handler {

	var writers []io.Writer
	if !cfg.Console.Disable {
		writers = append(writers, console)
	}
	if !cfg.File.Disable {
		writers = append(writers, logFile)
	}

	// The console options win when both outputs are enabled, since both
	// share a single handler.
	opts := cfg.File.HandlerOptions()
	if !cfg.Console.Disable {
		opts = cfg.Console.HandlerOptions()
	}

	return btclog.NewDefaultHandler(io.MultiWriter(writers...), opts...)
}
