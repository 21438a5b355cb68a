package server

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/shopspring/decimal"

	"github.com/lox/chunkrun/internal/identity"
)

// ServerConfig represents the complete server configuration
type ServerConfig struct {
	Server     ServerSettings     `hcl:"server,block"`
	Game       GameSettings       `hcl:"game,block"`
	Settlement SettlementSettings `hcl:"settlement,block"`
}

// ServerSettings contains server-level configuration
type ServerSettings struct {
	Address         string `hcl:"address,optional"`
	Port            int    `hcl:"port,optional"`
	LogLevel        string `hcl:"log_level,optional"`
	CloseDelayMs    int    `hcl:"close_delay_ms,optional"`
	AdminAddress    string `hcl:"admin_address,optional"`
	OperatorAddress string `hcl:"operator_address,optional"`
}

// GameSettings contains defaults applied when a join request creates a
// room without specifying them
type GameSettings struct {
	DefaultDeposit    string `hcl:"default_deposit,optional"`
	DefaultDifficulty string `hcl:"default_difficulty,optional"`
}

// SettlementSettings configures the external settlement collaborator
type SettlementSettings struct {
	URL       string `hcl:"url,optional"`
	TimeoutMs int    `hcl:"timeout_ms,optional"`
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Server: ServerSettings{
			Address:      "localhost",
			Port:         8080,
			LogLevel:     "info",
			CloseDelayMs: 3000,
		},
		Game: GameSettings{
			DefaultDeposit:    "0.05",
			DefaultDifficulty: "easy",
		},
	}
}

// LoadServerConfig loads server configuration from an HCL file. A
// missing file yields the defaults.
func LoadServerConfig(filename string) (*ServerConfig, error) {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return DefaultServerConfig(), nil
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file: %s", diags.Error())
	}

	var config ServerConfig
	diags = gohcl.DecodeBody(file.Body, nil, &config)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL: %s", diags.Error())
	}

	// Apply defaults for missing values
	if config.Server.Address == "" {
		config.Server.Address = "localhost"
	}
	if config.Server.Port == 0 {
		config.Server.Port = 8080
	}
	if config.Server.LogLevel == "" {
		config.Server.LogLevel = "info"
	}
	if config.Server.CloseDelayMs == 0 {
		config.Server.CloseDelayMs = 3000
	}
	if config.Game.DefaultDeposit == "" {
		config.Game.DefaultDeposit = "0.05"
	}
	if config.Game.DefaultDifficulty == "" {
		config.Game.DefaultDifficulty = "easy"
	}
	if config.Settlement.URL != "" && config.Settlement.TimeoutMs == 0 {
		config.Settlement.TimeoutMs = 2000
	}

	return &config, nil
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	deposit, err := decimal.NewFromString(c.Game.DefaultDeposit)
	if err != nil {
		return fmt.Errorf("invalid default deposit %q: %w", c.Game.DefaultDeposit, err)
	}
	if deposit.Sign() <= 0 {
		return fmt.Errorf("default deposit must be positive, got %s", deposit)
	}

	switch c.Game.DefaultDifficulty {
	case "easy", "normal", "hard":
	default:
		return fmt.Errorf("invalid default difficulty: %s", c.Game.DefaultDifficulty)
	}

	if c.Server.AdminAddress != "" {
		if _, err := identity.Parse(c.Server.AdminAddress); err != nil {
			return fmt.Errorf("invalid admin address: %w", err)
		}
	}
	if c.Server.OperatorAddress != "" {
		if _, err := identity.Parse(c.Server.OperatorAddress); err != nil {
			return fmt.Errorf("invalid operator address: %w", err)
		}
	}

	return nil
}

// GetServerAddress returns the full server address
func (c *ServerConfig) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}

// CloseDelay returns the room close delay as a duration
func (c *ServerConfig) CloseDelay() time.Duration {
	return time.Duration(c.Server.CloseDelayMs) * time.Millisecond
}

// SettlementTimeout returns the settlement call timeout as a duration
func (c *ServerConfig) SettlementTimeout() time.Duration {
	return time.Duration(c.Settlement.TimeoutMs) * time.Millisecond
}
