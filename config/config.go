// Package config loads node configuration from a file, COMRETON_* environment
// variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/comreton-network/comreton-node/common"
	"github.com/comreton-network/comreton-node/ledger"
	"github.com/comreton-network/comreton-node/store"
)

const EnvPrefix = "COMRETON"

// Proving backends
const (
	BackendGnark   = "gnark"
	BackendSnarkjs = "snarkjs"
)

type Config struct {
	NodeURL         string `mapstructure:"node_url"`
	ContractAddress string `mapstructure:"contract_address"`
	// ResourceAccount holds the manager resource, defaults to ContractAddress
	ResourceAccount string `mapstructure:"resource_account"`
	// PrivateKey or PrivateKeyFile sign transactions. Never commit either.
	PrivateKey     string `mapstructure:"private_key"`
	PrivateKeyFile string `mapstructure:"private_key_file"`
	// ChainID, when set, must match the node's chain id
	ChainID uint8 `mapstructure:"chain_id"`

	Executor ExecutorConfig `mapstructure:"executor"`
	Indexer  IndexerConfig  `mapstructure:"indexer"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Prover   ProverConfig   `mapstructure:"prover"`
	Store    StoreConfig    `mapstructure:"store"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Sentry   SentryConfig   `mapstructure:"sentry"`
	Log      LogConfig      `mapstructure:"log"`
}

type ExecutorConfig struct {
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	MaxAttemptsAlarm int           `mapstructure:"max_attempts_alarm"`
	BackoffInitial   time.Duration `mapstructure:"backoff_initial"`
	BackoffMax       time.Duration `mapstructure:"backoff_max"`
}

type IndexerConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	PageLimit    int           `mapstructure:"page_limit"`
}

type LedgerConfig struct {
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	MaxGasAmount   uint64        `mapstructure:"max_gas_amount"`
	GasUnitPrice   uint64        `mapstructure:"gas_unit_price"`
}

type ProverConfig struct {
	Backend string `mapstructure:"backend"`
	// SetupDir holds gnark keys, or circom build outputs for snarkjs
	SetupDir string `mapstructure:"setup_dir"`
	WorkDir  string `mapstructure:"work_dir"`
	PtauFile string `mapstructure:"ptau_file"`
	// Circuit is the circom source used by the snarkjs backend
	Circuit    string        `mapstructure:"circuit"`
	IncludeDir string        `mapstructure:"include_dir"`
	CircomBin  string        `mapstructure:"circom_bin"`
	SnarkjsBin string        `mapstructure:"snarkjs_bin"`
	Timeout    time.Duration `mapstructure:"timeout"`
	// Models maps model ids to weight files
	Models map[string]string `mapstructure:"models"`
	// Cache keeps verified proofs in the store until they are submitted
	Cache bool `mapstructure:"cache"`
}

type StoreConfig struct {
	Type    string `mapstructure:"type"`
	Options string `mapstructure:"options"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type SentryConfig struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// SetDefaults registers every key so env vars bind even without a file
func SetDefaults(v *viper.Viper) {
	v.SetDefault("node_url", common.DefaultNodeURL)
	v.SetDefault("contract_address", "")
	v.SetDefault("resource_account", "")
	v.SetDefault("private_key", "")
	v.SetDefault("private_key_file", "")
	v.SetDefault("chain_id", 0)

	v.SetDefault("executor.poll_interval", common.DefaultExecutorPoll)
	v.SetDefault("executor.max_attempts_alarm", 5)
	v.SetDefault("executor.backoff_initial", 10*time.Second)
	v.SetDefault("executor.backoff_max", 10*time.Minute)

	v.SetDefault("indexer.poll_interval", common.DefaultIndexerPoll)
	v.SetDefault("indexer.page_limit", common.DefaultEventPageLimit)

	v.SetDefault("ledger.request_timeout", common.DefaultRequestTimeout)
	v.SetDefault("ledger.confirm_timeout", common.DefaultConfirmTimeout)
	v.SetDefault("ledger.rate_limit", 0)
	v.SetDefault("ledger.max_gas_amount", common.DefaultMaxGasAmount)
	v.SetDefault("ledger.gas_unit_price", common.DefaultGasUnitPrice)

	v.SetDefault("prover.backend", BackendGnark)
	v.SetDefault("prover.setup_dir", "$HOME/.comreton/setup")
	v.SetDefault("prover.work_dir", os.TempDir()+"/comreton")
	v.SetDefault("prover.ptau_file", "")
	v.SetDefault("prover.circuit", "")
	v.SetDefault("prover.include_dir", "")
	v.SetDefault("prover.circom_bin", "circom")
	v.SetDefault("prover.snarkjs_bin", "snarkjs")
	v.SetDefault("prover.timeout", common.DefaultProverTimeout)
	v.SetDefault("prover.models", map[string]string{})
	v.SetDefault("prover.cache", true)

	v.SetDefault("store.type", store.TypeSyncMap)
	v.SetDefault("store.options", "")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "")
	v.SetDefault("log.level", "info")
}

// NewViper returns a viper instance reading COMRETON_* env vars, where a
// nested key such as ledger.rate_limit maps to COMRETON_LEDGER_RATE_LIMIT.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional config file into v and decodes the result
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(os.ExpandEnv(path))
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s err: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config err: %w", err)
	}
	c.expand()
	return &c, nil
}

func (c *Config) expand() {
	c.PrivateKeyFile = os.ExpandEnv(c.PrivateKeyFile)
	c.Prover.SetupDir = os.ExpandEnv(c.Prover.SetupDir)
	c.Prover.WorkDir = os.ExpandEnv(c.Prover.WorkDir)
	c.Prover.PtauFile = os.ExpandEnv(c.Prover.PtauFile)
	c.Prover.Circuit = os.ExpandEnv(c.Prover.Circuit)
	c.Prover.IncludeDir = os.ExpandEnv(c.Prover.IncludeDir)
	for id, path := range c.Prover.Models {
		c.Prover.Models[id] = os.ExpandEnv(path)
	}
}

// Validate checks what every command needs: a node and a contract
func (c *Config) Validate() error {
	if c.NodeURL == "" {
		return errors.New("node_url is required")
	}
	if c.ContractAddress == "" {
		return errors.New("contract_address is required")
	}
	if c.Indexer.PageLimit < 0 {
		return errors.New("indexer.page_limit must not be negative")
	}
	if c.Ledger.RateLimit < 0 {
		return errors.New("ledger.rate_limit must not be negative")
	}
	switch c.Store.Type {
	case "", store.TypeSyncMap, store.TypeFile, store.TypeBadgerDB, store.TypeS3:
	default:
		return fmt.Errorf("unsupported store.type %q", c.Store.Type)
	}
	return nil
}

// ValidateExecutor additionally checks signing and proving settings
func (c *Config) ValidateExecutor() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.PrivateKey == "" && c.PrivateKeyFile == "" {
		return errors.New("private_key or private_key_file is required")
	}
	if c.Executor.BackoffMax > 0 && c.Executor.BackoffMax < c.Executor.BackoffInitial {
		return errors.New("executor.backoff_max must not be below executor.backoff_initial")
	}
	switch c.Prover.Backend {
	case BackendGnark:
		if c.Prover.SetupDir == "" {
			return errors.New("prover.setup_dir is required")
		}
	case BackendSnarkjs:
		if c.Prover.Circuit == "" || c.Prover.PtauFile == "" {
			return errors.New("prover.circuit and prover.ptau_file are required for the snarkjs backend")
		}
	default:
		return fmt.Errorf("unsupported prover.backend %q", c.Prover.Backend)
	}
	return nil
}

// Signer loads the transaction signing key
func (c *Config) Signer() (*ledger.Signer, error) {
	if c.PrivateKey != "" {
		return ledger.ParsePrivateKey(c.PrivateKey)
	}
	if c.PrivateKeyFile != "" {
		return ledger.LoadPrivateKeyFile(c.PrivateKeyFile)
	}
	return nil, errors.New("no signing key configured")
}

func (c *Config) Contract() ledger.Contract {
	return ledger.NewContract(c.ContractAddress, c.ResourceAccount)
}

func (c *Config) DialerConfig() ledger.DialerConfig {
	return ledger.DialerConfig{
		NodeURL:        c.NodeURL,
		RequestTimeout: c.Ledger.RequestTimeout,
		RateLimit:      c.Ledger.RateLimit,
	}
}

func (c *Config) SubmitterConfig() ledger.SubmitterConfig {
	return ledger.SubmitterConfig{
		MaxGasAmount:   c.Ledger.MaxGasAmount,
		GasUnitPrice:   c.Ledger.GasUnitPrice,
		TxExpiry:       common.DefaultTxExpirySeconds * time.Second,
		ConfirmTimeout: c.Ledger.ConfirmTimeout,
	}
}
