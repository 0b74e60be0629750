// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2015-2016 The Decred developers
// Copyright (c) 2021-2023 The lotpay developers

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/jessevdk/go-flags"

	"github.com/lotpay/lotpay/bank"
)

const (
	defaultConfigFilename = "lotsim.conf"
	defaultDataDirname    = "data"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "lotsim.log"
	defaultTransactions   = 1000
	defaultWorkers        = 8
	defaultCheckValue     = 2000
	defaultWinProbability = 0.1
)

var (
	defaultLotsimDir  = defaultAppDir()
	defaultConfigFile = filepath.Join(defaultLotsimDir, defaultConfigFilename)
	defaultDataDir    = filepath.Join(defaultLotsimDir, defaultDataDirname)
	defaultLogDir     = filepath.Join(defaultLotsimDir, defaultLogDirname)
)

// Config defines the configuration options for lotsim.
//
// See loadConfig for further details regarding the
// configuration loading+parsing process.
//
//nolint:lll
type Config struct {
	LotsimDir  string `long:"lotsimdir" description:"The base directory that contains lotsim's data, logs and configuration file"`
	ConfigFile string `short:"c" long:"configfile" description:"Path to configuration file"`
	DataDir    string `short:"b" long:"datadir" description:"The directory to store the ledger and bank state within"`
	LogDir     string `long:"logdir" description:"Directory to log output"`
	DebugLog   bool   `long:"debuglog" description:"Enable debug logs"`
	JSONLog    bool   `long:"jsonlog" description:"Whether to log in JSON format"`

	MemoryLedger   bool    `long:"memory-ledger"   description:"Run against a throwaway in-memory ledger instead of the on-disk one"`
	Transactions   int     `long:"transactions"    description:"How many payments to run"`
	Workers        int     `long:"workers"         description:"How many concurrent payment workers to run"`
	CheckValue     uint64  `long:"check-value"     description:"The value of the issued check"`
	WinProbability float64 `long:"win-probability" description:"The fraction of payments that should win (0, 1]"`

	CPUProfile string `long:"cpuprofile" description:"Write CPU profile to the specified file"`
	Profile    string `long:"profile"    description:"Enable HTTP profiling on given port -- must be between 1024 and 65535"`

	Bank *bank.Config `group:"Bank" namespace:"bank"`
}

// DefaultConfig returns a config with default hardcoded values.
func DefaultConfig() *Config {
	bankCfg := bank.DefaultConfig()
	return &Config{
		LotsimDir:      defaultLotsimDir,
		ConfigFile:     defaultConfigFile,
		DataDir:        defaultDataDir,
		LogDir:         defaultLogDir,
		Transactions:   defaultTransactions,
		Workers:        defaultWorkers,
		CheckValue:     defaultCheckValue,
		WinProbability: defaultWinProbability,
		Bank:           &bankCfg,
	}
}

// ParseFlags reads values from command line arguments.
func ParseFlags(preCfg *Config) (*Config, error) {
	if _, err := flags.Parse(preCfg); err != nil {
		return nil, err
	}
	return preCfg, nil
}

// ReadConfigFile reads values from a conf file.
func ReadConfigFile(preCfg *Config) (*Config, error) {
	preCfg.LotsimDir = cleanAndExpandPath(preCfg.LotsimDir)
	preCfg.ConfigFile = cleanAndExpandPath(preCfg.ConfigFile)
	if preCfg.LotsimDir != defaultLotsimDir {
		if preCfg.ConfigFile == defaultConfigFile {
			preCfg.ConfigFile = filepath.Join(
				preCfg.LotsimDir, defaultConfigFilename,
			)
		}
	}

	// Next, load any additional configuration options from the file.
	var configFileError error
	cfg := preCfg
	if err := flags.IniParse(preCfg.ConfigFile, cfg); err != nil {
		// If it's a parsing related error, then we'll return
		// immediately, otherwise we can proceed as possibly the Config
		// file doesn't exist which is OK.
		var iniError *flags.IniError
		if errors.As(err, &iniError) {
			return nil, err
		}

		configFileError = err
	}

	// Warn about missing Config file only after all other configuration is
	// done. This prevents the warning on help messages and invalid
	// options.
	if configFileError != nil {
		fmt.Fprintf(os.Stderr, "%v\n", configFileError)
	}

	return cfg, nil
}

// SetupConfig initializes the filesystem infrastructure.
func SetupConfig(cfg *Config) (*Config, error) {
	// If the provided lotsim directory is not the default, we'll modify the
	// path to all of the files and directories that will live within it.
	if cfg.LotsimDir != defaultLotsimDir {
		cfg.DataDir = filepath.Join(cfg.LotsimDir, defaultDataDirname)
		cfg.LogDir = filepath.Join(cfg.LotsimDir, defaultLogDirname)
	}

	// Create the lotsim directory if it doesn't already exist.
	if err := os.MkdirAll(cfg.LotsimDir, 0o700); err != nil {
		// Show a nicer error message if it's because a symlink is
		// linked to a directory that does not exist (probably because
		// it's not mounted).
		var pathError *fs.PathError
		if errors.As(err, &pathError) && os.IsExist(err) {
			if link, lerr := os.Readlink(pathError.Path); lerr == nil {
				err = fmt.Errorf("is symlink %s -> %s mounted?", pathError.Path, link)
			}
		}
		return nil, fmt.Errorf("failed to create lotsim directory: %w", err)
	}

	// As soon as we're done parsing configuration options, ensure all paths
	// to directories and files are cleaned and expanded before attempting
	// to use them later on.
	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.MkdirAll(cfg.LogDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	return cfg, nil
}

func defaultAppDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".lotsim"
	}
	return filepath.Join(home, ".lotsim")
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
// This function is taken from https://github.com/btcsuite/btcd
func cleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		var homeDir string
		user, err := user.Current()
		if err == nil {
			homeDir = user.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}
