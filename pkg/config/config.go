package config

import (
	"fmt"
	"strings"
	"time"

	"validator_market/pkg/ledger"
	"validator_market/pkg/market"

	"github.com/spf13/viper"
)

// Config holds all configuration settings for one deployment
type Config struct {
	Environment string           `mapstructure:"environment"`
	LogLevel    string           `mapstructure:"log_level"`
	Database    DatabaseConfig   `mapstructure:"database"`
	Gateway     GatewayConfig    `mapstructure:"gateway"`
	Deployment  DeploymentConfig `mapstructure:"deployment"`
}

// DatabaseConfig holds ledger database connection settings
type DatabaseConfig struct {
	URL      string        `mapstructure:"url"`
	Embedded bool          `mapstructure:"embedded"`
	MaxConns int           `mapstructure:"max_conns"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// GatewayConfig holds the operation front-door settings
type GatewayConfig struct {
	ListenAddrs []string `mapstructure:"listen_addrs"`
}

// DeploymentConfig holds the injected protocol parameters: the addresses and
// fee schedule a deployment is bound to.
type DeploymentConfig struct {
	ProgramAddress     string   `mapstructure:"program_address"`
	TeamAddress        string   `mapstructure:"team_address"`
	TeamFeeBasisPoints uint64   `mapstructure:"team_fee_basis_points"`
	EscrowBasisPoints  uint64   `mapstructure:"escrow_basis_points"`
	Mediators          []string `mapstructure:"mediators"`
	RegistryStorage    string   `mapstructure:"registry_storage"`
	RegistryFee        uint64   `mapstructure:"registry_fee"`
}

// Load reads the configuration file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, will rely on defaults and env vars
	}

	v.SetEnvPrefix("VMARKET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	v.SetDefault("database.embedded", true)
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.timeout", "30s")

	v.SetDefault("gateway.listen_addrs", []string{"/ip4/127.0.0.1/tcp/9040"})

	v.SetDefault("deployment.team_fee_basis_points", 200)
	v.SetDefault("deployment.escrow_basis_points", 1000)
	v.SetDefault("deployment.registry_fee", 1000000)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.validateDatabase(); err != nil {
		return fmt.Errorf("database config: %w", err)
	}
	if err := c.validateGateway(); err != nil {
		return fmt.Errorf("gateway config: %w", err)
	}
	if _, err := c.MarketParams(); err != nil {
		return fmt.Errorf("deployment config: %w", err)
	}
	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database.URL == "" && !c.Database.Embedded {
		return fmt.Errorf("database URL cannot be empty without embedded mode")
	}
	if c.Database.MaxConns <= 0 {
		return fmt.Errorf("max_conns must be positive")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}

func (c *Config) validateGateway() error {
	if len(c.Gateway.ListenAddrs) == 0 {
		return fmt.Errorf("at least one listen address is required")
	}
	return nil
}

// MarketParams parses the deployment section into protocol parameters.
func (c *Config) MarketParams() (market.Params, error) {
	var params market.Params

	program, err := ledger.ParseAddress(c.Deployment.ProgramAddress)
	if err != nil {
		return params, fmt.Errorf("program_address: %w", err)
	}
	team, err := ledger.ParseAddress(c.Deployment.TeamAddress)
	if err != nil {
		return params, fmt.Errorf("team_address: %w", err)
	}
	registryStorage, err := ledger.ParseAddress(c.Deployment.RegistryStorage)
	if err != nil {
		return params, fmt.Errorf("registry_storage: %w", err)
	}

	mediators := make([]ledger.Address, 0, len(c.Deployment.Mediators))
	for i, m := range c.Deployment.Mediators {
		addr, err := ledger.ParseAddress(m)
		if err != nil {
			return params, fmt.Errorf("mediators[%d]: %w", i, err)
		}
		mediators = append(mediators, addr)
	}

	params = market.Params{
		Program:            program,
		TeamAddress:        team,
		TeamFeeBasisPoints: c.Deployment.TeamFeeBasisPoints,
		EscrowBasisPoints:  c.Deployment.EscrowBasisPoints,
		Mediators:          mediators,
		RegistryStorage:    registryStorage,
	}
	if err := params.Validate(); err != nil {
		return params, err
	}
	return params, nil
}
