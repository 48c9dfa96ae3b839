package faucet

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	flags "github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"github.com/lightningnetwork/faucet/build"
	"github.com/lightningnetwork/faucet/faucetcfg"
)

const (
	defaultConfigFilename = "faucet.conf"
	defaultDataDirname    = "data"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "faucet.log"
	defaultEnvFilename    = ".env"
	defaultLogLevel       = "info"
	defaultNetwork        = "signet"
)

var (
	// DefaultFaucetDir is the default directory where the faucet looks
	// for its configuration file and stores its data.
	DefaultFaucetDir = btcutil.AppDataDir("faucet", false)

	// DefaultConfigFile is the default full path of the faucet's
	// configuration file.
	DefaultConfigFile = filepath.Join(
		DefaultFaucetDir, defaultConfigFilename,
	)

	defaultDataDir = filepath.Join(DefaultFaucetDir, defaultDataDirname)
	defaultLogDir  = filepath.Join(DefaultFaucetDir, defaultLogDirname)
)

// Config is the faucet daemon's configuration.
//
//nolint:lll
type Config struct {
	ShowVersion bool `short:"V" long:"version" description:"Display version information and exit"`

	FaucetDir  string `long:"faucetdir" description:"The base directory that contains the faucet's data, logs and configuration file."`
	ConfigFile string `short:"C" long:"configfile" description:"Path to configuration file"`
	EnvFile    string `long:"envfile" description:"Path to a .env file loaded into the environment before the options are parsed. A missing file is ignored."`
	DataDir    string `short:"b" long:"datadir" description:"The directory to store the faucet's data within"`
	LogDir     string `long:"logdir" description:"Directory to log output."`

	DebugLevel string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <global-level>,<subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`

	Network string `long:"network" choice:"mainnet" choice:"testnet" choice:"signet" choice:"regtest" description:"The network the faucet pays out on."`

	Bitcoind    *faucetcfg.Bitcoind    `group:"bitcoind" namespace:"bitcoind"`
	Lnd         *faucetcfg.Lnd         `group:"lnd" namespace:"lnd"`
	Lease       *faucetcfg.Lease       `group:"lease" namespace:"lease"`
	API         *faucetcfg.API         `group:"api" namespace:"api"`
	Nats        *faucetcfg.Nats        `group:"nats" namespace:"nats"`
	HealthCheck *faucetcfg.HealthCheck `group:"healthcheck" namespace:"healthcheck"`

	LogConfig *build.LogConfig `group:"logging" namespace:"logging"`

	// ActiveNetParams are the parameters of the configured network.
	ActiveNetParams *chaincfg.Params

	// LogFile is the rolling log file, nil when file logging is
	// disabled. It is opened by ValidateConfig.
	LogFile *build.LogFile

	// SubLogMgr holds every subsystem logger. It is set up by
	// ValidateConfig.
	SubLogMgr *build.SubLoggerManager
}

// DefaultConfig returns all default values for the Config struct.
func DefaultConfig() Config {
	return Config{
		FaucetDir:   DefaultFaucetDir,
		ConfigFile:  DefaultConfigFile,
		EnvFile:     defaultEnvFilename,
		DataDir:     defaultDataDir,
		LogDir:      defaultLogDir,
		DebugLevel:  defaultLogLevel,
		Network:     defaultNetwork,
		Bitcoind:    faucetcfg.DefaultBitcoind(),
		Lnd:         faucetcfg.DefaultLnd(),
		Lease:       faucetcfg.DefaultLease(),
		API:         faucetcfg.DefaultAPI(),
		Nats:        faucetcfg.DefaultNats(),
		HealthCheck: faucetcfg.DefaultHealthCheck(),
		LogConfig:   build.DefaultLogConfig(),
	}
}

// LoadConfig initializes and parses the config using a config file and
// command line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//     and .env file
//  3. Load the .env file into the environment, if there is one
//  4. Load configuration file overwriting defaults with any specified options
//  5. Parse CLI and environment options and overwrite/add any specified
//     options
func LoadConfig() (*Config, error) {
	// Pre-parse the command line options to pick up an alternative config
	// file.
	preCfg := DefaultConfig()
	if _, err := flags.Parse(&preCfg); err != nil {
		return nil, err
	}

	// Show the version and exit if the version flag was specified.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", build.Version(),
			"commit="+build.Commit)
		os.Exit(0)
	}

	// The variable names of older deployments are bound through env tags,
	// so they have to be in the environment before the final parse.
	envFile := CleanAndExpandPath(preCfg.EnvFile)
	if envFile != "" {
		err := godotenv.Load(envFile)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("unable to load %v: %w", envFile,
				err)
		}
	}

	// If the config file path has not been modified by the user, then
	// we'll use the default config file path. However, if the user has
	// modified their faucetdir, then we should assume they intend to use
	// the config file within it.
	configFileDir := CleanAndExpandPath(preCfg.FaucetDir)
	configFilePath := CleanAndExpandPath(preCfg.ConfigFile)
	if configFileDir != DefaultFaucetDir {
		if configFilePath == DefaultConfigFile {
			configFilePath = filepath.Join(
				configFileDir, defaultConfigFilename,
			)
		}
	}

	// Next, load any additional configuration options from the file.
	var configFileError error
	cfg := preCfg
	if err := flags.IniParse(configFilePath, &cfg); err != nil {
		// If it's a parsing related error, then we'll return
		// immediately, otherwise we can proceed as possibly the config
		// file doesn't exist which is OK.
		var iniErr *flags.IniError
		if errors.As(err, &iniErr) {
			return nil, err
		}

		configFileError = err
	}

	// Finally, parse the remaining command line options again to ensure
	// they take precedence.
	if _, err := flags.Parse(&cfg); err != nil {
		return nil, err
	}

	// Make sure everything we just loaded makes sense.
	cleanCfg, err := ValidateConfig(cfg, usageMessage)
	if err != nil {
		return nil, err
	}

	// Warn about missing config file only after all other configuration is
	// done. This prevents the warning on help messages and invalid
	// options. Note this should go directly before the return.
	if configFileError != nil {
		log.Warnf("%v", configFileError)
	}

	return cleanCfg, nil
}

// ValidateConfig check the given configuration to be sane. This makes sure no
// illegal values or combination of values are set. All file system paths are
// normalized. The cleaned up config is returned on success.
func ValidateConfig(cfg Config, usageMessage string) (*Config, error) {
	const funcName = "ValidateConfig"

	// mkErr prints the error along with the usage message, the way the
	// daemon reports every invalid option.
	mkErr := func(format string, args ...interface{}) error {
		err := fmt.Errorf("%s: "+format, append(
			[]interface{}{funcName}, args...,
		)...)
		_, _ = fmt.Fprintln(os.Stderr, err)
		_, _ = fmt.Fprintln(os.Stderr, usageMessage)

		return err
	}

	// If the provided faucet directory is not the default, we'll modify
	// the path to all of the files and directories that will live within
	// it.
	faucetDir := CleanAndExpandPath(cfg.FaucetDir)
	if faucetDir != DefaultFaucetDir {
		if cfg.DataDir == defaultDataDir {
			cfg.DataDir = filepath.Join(
				faucetDir, defaultDataDirname,
			)
		}
		if cfg.LogDir == defaultLogDir {
			cfg.LogDir = filepath.Join(faucetDir, defaultLogDirname)
		}
	}

	var err error
	cfg.ActiveNetParams, err = netParams(cfg.Network)
	if err != nil {
		return nil, mkErr("%v", err)
	}

	// As soon as we're done parsing configuration options, ensure all
	// paths to directories and files are cleaned and expanded before
	// attempting to use them later on. Network specific data lives in a
	// sub directory.
	cfg.DataDir = filepath.Join(
		CleanAndExpandPath(cfg.DataDir), cfg.Network,
	)
	cfg.LogDir = filepath.Join(CleanAndExpandPath(cfg.LogDir), cfg.Network)
	cfg.Bitcoind.CookieFile = CleanAndExpandPath(cfg.Bitcoind.CookieFile)
	cfg.Lnd.TLSCertPath = CleanAndExpandPath(cfg.Lnd.TLSCertPath)
	cfg.Lnd.MacaroonPath = CleanAndExpandPath(cfg.Lnd.MacaroonPath)

	if cfg.Lease.DBFile != "" {
		cfg.Lease.DBFile = CleanAndExpandPath(cfg.Lease.DBFile)
		if !filepath.IsAbs(cfg.Lease.DBFile) {
			cfg.Lease.DBFile = filepath.Join(
				cfg.DataDir, cfg.Lease.DBFile,
			)
		}
	}

	// bitcoind is only dialed when lnd doesn't provide the wallet.
	if !cfg.Lnd.Active {
		if err := cfg.Bitcoind.Validate(); err != nil {
			return nil, mkErr("%v", err)
		}

		if cfg.Bitcoind.SendMode == "manual" {
			_, err := decodeChangeAddress(
				cfg.Bitcoind.ChangeAddress, cfg.ActiveNetParams,
			)
			if err != nil {
				return nil, mkErr("%v", err)
			}
		}
	}

	validators := []interface{ Validate() error }{
		cfg.Lnd, cfg.Lease, cfg.API, cfg.HealthCheck,
	}
	for _, v := range validators {
		if err := v.Validate(); err != nil {
			return nil, mkErr("%v", err)
		}
	}

	if cfg.Lnd.Active {
		if cfg.Lease.MaxCapacity != 0 &&
			cfg.Lease.MaxCapacity < cfg.Lnd.ChannelValue {

			return nil, mkErr("lease.maxcapacity (%d) must not be "+
				"below lnd.channelvalue (%d)",
				cfg.Lease.MaxCapacity, cfg.Lnd.ChannelValue)
		}

		if cfg.API.WriteTimeout != 0 &&
			cfg.API.WriteTimeout <= cfg.Lease.ActivationTimeout {

			return nil, mkErr("api.writetimeout (%v) must exceed "+
				"lease.activationtimeout (%v)",
				cfg.API.WriteTimeout,
				cfg.Lease.ActivationTimeout)
		}
	}

	// Create the data and log directories if they don't already exist.
	for _, dir := range []string{cfg.DataDir, cfg.LogDir} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, mkErr("failed to create directory %v: %v",
				dir, err)
		}
	}

	// Open the log file and set up every subsystem logger, then apply
	// the requested levels.
	if !cfg.LogConfig.File.Disable {
		cfg.LogFile, err = build.OpenLogFile(
			filepath.Join(cfg.LogDir, defaultLogFilename),
			cfg.LogConfig.File,
		)
		if err != nil {
			return nil, mkErr("%v", err)
		}
	}

	cfg.SubLogMgr = build.NewSubLoggerManager(
		build.NewDefaultLogHandler(
			cfg.LogConfig, os.Stdout, cfg.LogFile,
		),
	)
	SetupLoggers(cfg.SubLogMgr)

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems",
			cfg.SubLogMgr.SupportedSubsystems())
		os.Exit(0)
	}

	err = build.ParseAndSetDebugLevels(cfg.DebugLevel, cfg.SubLogMgr)
	if err != nil {
		return nil, mkErr("%v", err)
	}

	return &cfg, nil
}

// netParams returns the chain parameters of the named network.
func netParams(network string) (*chaincfg.Params, error) {
	switch network {
	case "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet":
		return &chaincfg.TestNet3Params, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network %q", network)
	}
}

// decodeChangeAddress decodes the manual mode change address for the given
// network.
func decodeChangeAddress(addr string,
	params *chaincfg.Params) (btcutil.Address, error) {

	changeAddr, err := btcutil.DecodeAddress(addr, params)
	if err != nil {
		return nil, fmt.Errorf("invalid change address %q: %w", addr,
			err)
	}
	if !changeAddr.IsForNet(params) {
		return nil, fmt.Errorf("change address %v is not for %v", addr,
			params.Name)
	}

	return changeAddr, nil
}

// CleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
// This function is taken from https://github.com/btcsuite/btcd
func CleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		var homeDir string
		u, err := user.Current()
		if err == nil {
			homeDir = u.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}
