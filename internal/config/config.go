package config

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/invar/vault/internal/logging"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. INVAR_VAULT_ADDRESS.
const EnvPrefix = "INVAR"

// Config represents the complete application configuration
type Config struct {
	Chain     ChainConfig     `yaml:"chain"`
	Contracts ContractsConfig `yaml:"contracts"`
	Wallet    WalletConfig    `yaml:"wallet"`
	Staking   StakingConfig   `yaml:"staking"`
	Web       WebConfig       `yaml:"web"`
	Log       LogConfig       `yaml:"log"`
}

// ChainConfig contains RPC and transaction settings
type ChainConfig struct {
	RPCURL             string        `yaml:"rpc_url"`
	ChainID            int64         `yaml:"chain_id"`
	BlockConfirmations int           `yaml:"block_confirmations"`
	ReadTimeout        time.Duration `yaml:"read_timeout"` // per read attempt
	ReadRetries        int           `yaml:"read_retries"`
	TxTimeout          time.Duration `yaml:"tx_timeout"` // waiting for confirmation
	PollInterval       time.Duration `yaml:"poll_interval"`
	MaxGasPriceGwei    int64         `yaml:"max_gas_price_gwei"` // 0 = no cap
}

// MaxGasPrice returns the gas price cap in wei, or nil when uncapped.
func (c ChainConfig) MaxGasPrice() *big.Int {
	if c.MaxGasPriceGwei <= 0 {
		return nil
	}
	return new(big.Int).Mul(big.NewInt(c.MaxGasPriceGwei), big.NewInt(1e9))
}

// ContractsConfig contains the vault deployment
type ContractsConfig struct {
	Vault         string `yaml:"vault"`
	Token         string `yaml:"token"`
	Multisig      string `yaml:"multisig"`
	TokenDecimals int32  `yaml:"token_decimals"`
	TimelockIndex int64  `yaml:"timelock_index"`
}

// VaultAddress returns the parsed vault address.
func (c ContractsConfig) VaultAddress() common.Address {
	return common.HexToAddress(c.Vault)
}

// TokenAddress returns the parsed token address.
func (c ContractsConfig) TokenAddress() common.Address {
	return common.HexToAddress(c.Token)
}

// MultisigAddress returns the parsed multisig address.
func (c ContractsConfig) MultisigAddress() common.Address {
	return common.HexToAddress(c.Multisig)
}

// WalletConfig contains keystore settings
type WalletConfig struct {
	KeystoreDir  string `yaml:"keystore_dir"`
	PasswordFile string `yaml:"password_file"`
}

// StakingConfig contains controller policy
type StakingConfig struct {
	ApprovalPolicy string `yaml:"approval_policy"` // unlimited, exact
}

// WebConfig contains HTTP server settings
type WebConfig struct {
	Addr           string  `yaml:"addr"`
	MintURL        string  `yaml:"mint_url"`
	RateLimit      float64 `yaml:"rate_limit"` // requests per second, 0 = unlimited
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// envOverrides lists the settings that can be supplied through the environment.
type envOverrides struct {
	RPCURL         string `envconfig:"RPC_URL"`
	ChainID        int64  `envconfig:"CHAIN_ID"`
	Vault          string `envconfig:"VAULT_ADDRESS"`
	Token          string `envconfig:"TOKEN_ADDRESS"`
	Multisig       string `envconfig:"MULTISIG_ADDRESS"`
	KeystoreDir    string `envconfig:"KEYSTORE_DIR"`
	PasswordFile   string `envconfig:"WALLET_PASSWORD_FILE"`
	ApprovalPolicy string `envconfig:"APPROVAL_POLICY"`
	WebAddr        string `envconfig:"WEB_ADDR"`
	MintURL        string `envconfig:"MINT_URL"`
	LogLevel       string `envconfig:"LOG_LEVEL"`
	LogFormat      string `envconfig:"LOG_FORMAT"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	baseDir := filepath.Join(homeDir, ".invar")

	return &Config{
		Chain: ChainConfig{
			RPCURL:             "http://127.0.0.1:8545",
			ChainID:            1,
			BlockConfirmations: 1,
			ReadTimeout:        10 * time.Second,
			ReadRetries:        3,
			TxTimeout:          5 * time.Minute,
			PollInterval:       2 * time.Second,
			MaxGasPriceGwei:    200,
		},
		Contracts: ContractsConfig{
			TokenDecimals: 6,
			TimelockIndex: 1,
		},
		Wallet: WalletConfig{
			KeystoreDir: filepath.Join(baseDir, "keystore"),
		},
		Staking: StakingConfig{
			ApprovalPolicy: "unlimited",
		},
		Web: WebConfig{
			Addr:           "127.0.0.1:8080",
			RateLimit:      10,
			RateLimitBurst: 20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Read loads configuration from a YAML file and applies environment
// overrides without validating. A missing file yields the defaults.
func Read(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(expandPath(path))
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.expandPaths()
	return cfg, nil
}

// Load reads and validates the configuration.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("failed to read environment: %w", err)
	}

	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.Chain.RPCURL, env.RPCURL)
	set(&c.Contracts.Vault, env.Vault)
	set(&c.Contracts.Token, env.Token)
	set(&c.Contracts.Multisig, env.Multisig)
	set(&c.Wallet.KeystoreDir, env.KeystoreDir)
	set(&c.Wallet.PasswordFile, env.PasswordFile)
	set(&c.Staking.ApprovalPolicy, env.ApprovalPolicy)
	set(&c.Web.Addr, env.WebAddr)
	set(&c.Web.MintURL, env.MintURL)
	set(&c.Log.Level, env.LogLevel)
	set(&c.Log.Format, env.LogFormat)
	if env.ChainID != 0 {
		c.Chain.ChainID = env.ChainID
	}
	return nil
}

// Save writes configuration to a YAML file
func (c *Config) Save(path string) error {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Chain validation
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("rpc_url is required")
	}
	if c.Chain.ChainID <= 0 {
		return fmt.Errorf("invalid chain_id: %d", c.Chain.ChainID)
	}
	if c.Chain.BlockConfirmations < 1 {
		return fmt.Errorf("block_confirmations must be at least 1")
	}
	if c.Chain.ReadTimeout <= 0 || c.Chain.TxTimeout <= 0 || c.Chain.PollInterval <= 0 {
		return fmt.Errorf("read_timeout, tx_timeout and poll_interval must be positive")
	}
	if c.Chain.ReadRetries < 0 {
		return fmt.Errorf("read_retries must not be negative")
	}

	// Contract validation
	addrs := []struct{ name, addr string }{
		{"vault", c.Contracts.Vault},
		{"token", c.Contracts.Token},
		{"multisig", c.Contracts.Multisig},
	}
	for _, a := range addrs {
		if err := validateEthAddress(a.name, a.addr); err != nil {
			return err
		}
	}
	if c.Contracts.TokenDecimals < 0 || c.Contracts.TokenDecimals > 18 {
		return fmt.Errorf("invalid token_decimals: %d", c.Contracts.TokenDecimals)
	}
	if c.Contracts.TimelockIndex < 0 {
		return fmt.Errorf("invalid timelock_index: %d", c.Contracts.TimelockIndex)
	}

	// Staking validation
	if p := c.Staking.ApprovalPolicy; p != "unlimited" && p != "exact" {
		return fmt.Errorf("invalid approval_policy: %q (unlimited or exact)", p)
	}

	// Web validation
	if c.Web.RateLimit < 0 || c.Web.RateLimitBurst < 0 {
		return fmt.Errorf("rate_limit and rate_limit_burst must not be negative")
	}

	// Log validation
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	return nil
}

// validateEthAddress checks that addr is a 0x-prefixed, 40 hex character,
// non-zero Ethereum address.
func validateEthAddress(name, addr string) error {
	if addr == "" {
		return fmt.Errorf("%s address is required", name)
	}
	if !strings.HasPrefix(addr, "0x") && !strings.HasPrefix(addr, "0X") {
		return fmt.Errorf("%s address must start with 0x, got %q", name, addr)
	}
	hexPart := addr[2:]
	if len(hexPart) != 40 {
		return fmt.Errorf("%s address must be 42 characters (0x + 40 hex), got %d", name, len(addr))
	}
	if _, err := hex.DecodeString(hexPart); err != nil {
		return fmt.Errorf("%s address contains invalid hex characters: %w", name, err)
	}
	if strings.Trim(hexPart, "0") == "" {
		return fmt.Errorf("%s address must not be the zero address", name)
	}
	return nil
}

func (c *Config) expandPaths() {
	c.Wallet.KeystoreDir = expandPath(c.Wallet.KeystoreDir)
	c.Wallet.PasswordFile = expandPath(c.Wallet.PasswordFile)
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file path
func DefaultConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".invar", "config.yaml")
}
