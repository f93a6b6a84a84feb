// Package config loads and validates the engine configuration. Limits are
// validated before anything reaches the risk core; a malformed limit is
// fatal at startup.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Pythefnos/Topstep-quant/internal/broker"
	"github.com/Pythefnos/Topstep-quant/internal/calendar"
	"github.com/Pythefnos/Topstep-quant/internal/errors"
	"github.com/Pythefnos/Topstep-quant/internal/payout"
	"github.com/Pythefnos/Topstep-quant/internal/risk"
)

// EngineConfig represents the complete configuration for the coordination engine
type EngineConfig struct {
	Environment string `json:"environment"`
	LogLevel    string `json:"log_level"`

	// Account and risk configuration
	Account AccountConfig `json:"account"`
	Limits  risk.Limits   `json:"limits"`
	Params  risk.Params   `json:"params"`

	// Session calendar configuration
	Session SessionConfig `json:"session"`

	// Payout qualification rules
	Payout payout.Config `json:"payout"`

	// Execution boundary configuration
	Broker BrokerConfig       `json:"broker"`
	Retry  broker.RetryConfig `json:"retry"`

	// Strategy sleeves sharing the risk budget
	Sleeves []SleeveConfig `json:"sleeves"`

	// Audit journal persistence
	Journal JournalConfig `json:"journal"`

	// Observability configuration
	Monitoring MonitoringConfig `json:"monitoring"`

	// Notification configuration (optional)
	Notifications *NotificationConfig `json:"notifications,omitempty"`
}

// AccountConfig holds the funded-account parameters
type AccountConfig struct {
	InitialBalance float64 `json:"initial_balance"` // e.g. 50000 for a 50K evaluation
}

// SessionConfig holds the trading-day boundary settings
type SessionConfig struct {
	Timezone       string `json:"timezone"`        // IANA name, e.g. America/Chicago
	RolloverHour   int    `json:"rollover_hour"`   // local wall-clock hour, e.g. 17
	RolloverMinute int    `json:"rollover_minute"` // local wall-clock minute
}

// BrokerConfig selects and configures the execution boundary
type BrokerConfig struct {
	// Mode is "sim" for the in-memory broker or "bybit" for live/demo
	Mode      string `json:"mode"`
	APIKey    string `json:"api_key,omitempty"`
	APISecret string `json:"api_secret,omitempty"`
	Category  string `json:"category,omitempty"`
	Testnet   bool   `json:"testnet,omitempty"`
	Demo      bool   `json:"demo,omitempty"`
}

// SleeveConfig declares one strategy sleeve
type SleeveConfig struct {
	ID       string  `json:"id"`
	Kind     string  `json:"kind"`     // strategy implementation to run
	Market   string  `json:"market"`   // primary market traded
	Quantity float64 `json:"quantity"` // base order quantity before scaling
	Disabled bool    `json:"disabled"` // stays off across daily resets
}

// JournalConfig holds audit persistence settings
type JournalConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// MonitoringConfig holds metrics and health endpoint settings
type MonitoringConfig struct {
	Enabled        bool `json:"enabled"`
	PrometheusPort int  `json:"prometheus_port"`
	HealthPort     int  `json:"health_port"`
}

// NotificationConfig holds notification settings
type NotificationConfig struct {
	Enabled       bool   `json:"enabled"`
	TelegramToken string `json:"telegram_token,omitempty"`
	TelegramChat  string `json:"telegram_chat,omitempty"`
}

// Load reads a configuration file, applies environment overrides and
// validates the result
func Load(configFile string) (*EngineConfig, error) {
	// If config file doesn't contain path separators, look in configs/ directory
	if !strings.ContainsAny(configFile, "/\\") {
		configFile = filepath.Join("configs", configFile)
	}

	// Add .json extension if not present
	if !strings.HasSuffix(configFile, ".json") {
		configFile += ".json"
	}

	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, errors.NewConfigError("config", "load",
			fmt.Sprintf("failed to read config file %s", configFile), err)
	}

	var config EngineConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, errors.NewConfigError("config", "load", "failed to parse config file", err)
	}

	config.setDefaults()
	config.applyEnvOverrides()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// setDefaults fills in zero-valued optional settings
func (c *EngineConfig) setDefaults() {
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Session.Timezone == "" {
		c.Session.Timezone = calendar.DefaultTimezone
	}
	if c.Session.RolloverHour == 0 && c.Session.RolloverMinute == 0 {
		c.Session.RolloverHour = 17 // futures session close, America/Chicago
	}
	if c.Params.WarnFraction == 0 {
		c.Params.WarnFraction = risk.DefaultParams().WarnFraction
	}
	if c.Params.ReducedScaleFactor == 0 {
		c.Params.ReducedScaleFactor = risk.DefaultParams().ReducedScaleFactor
	}
	if c.Params.EvalInterval == 0 {
		c.Params.EvalInterval = risk.DefaultParams().EvalInterval
	}
	if c.Payout == (payout.Config{}) {
		c.Payout = payout.DefaultConfig()
	}
	if c.Retry == (broker.RetryConfig{}) {
		c.Retry = broker.DefaultRetryConfig()
	}
	if c.Broker.Mode == "" {
		c.Broker.Mode = "sim"
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		c.Journal.Path = "journal.db"
	}
	if c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 8080
	}
	if c.Monitoring.HealthPort == 0 {
		c.Monitoring.HealthPort = 8081
	}
}

// applyEnvOverrides lets secrets and deployment knobs come from the
// environment instead of the config file
func (c *EngineConfig) applyEnvOverrides() {
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.Broker.APIKey = getEnv("BYBIT_API_KEY", c.Broker.APIKey)
	c.Broker.APISecret = getEnv("BYBIT_API_SECRET", c.Broker.APISecret)
	c.Broker.Demo = getEnvBool("BYBIT_DEMO", c.Broker.Demo)
	c.Broker.Testnet = getEnvBool("BYBIT_TESTNET", c.Broker.Testnet)
	if c.Notifications != nil {
		c.Notifications.TelegramToken = getEnv("TELEGRAM_TOKEN", c.Notifications.TelegramToken)
		c.Notifications.TelegramChat = getEnv("TELEGRAM_CHAT_ID", c.Notifications.TelegramChat)
	}
	if v := getEnv("JOURNAL_PATH", ""); v != "" {
		c.Journal.Enabled = true
		c.Journal.Path = v
	}
}

// Validate refuses to let the engine run on malformed configuration
func (c *EngineConfig) Validate() error {
	if c.Account.InitialBalance <= 0 {
		return errors.NewConfigError("config", "validate",
			fmt.Sprintf("initial balance must be strictly positive, got %v", c.Account.InitialBalance), nil)
	}
	if err := c.Limits.Validate(); err != nil {
		return err
	}
	if err := c.Params.Validate(); err != nil {
		return err
	}
	if err := c.Payout.Validate(); err != nil {
		return err
	}
	if _, err := time.LoadLocation(c.Session.Timezone); err != nil {
		return errors.NewConfigError("config", "validate",
			fmt.Sprintf("unknown session timezone %q", c.Session.Timezone), err)
	}
	if c.Session.RolloverHour < 0 || c.Session.RolloverHour > 23 ||
		c.Session.RolloverMinute < 0 || c.Session.RolloverMinute > 59 {
		return errors.NewConfigError("config", "validate",
			fmt.Sprintf("rollover %02d:%02d is not a wall-clock time",
				c.Session.RolloverHour, c.Session.RolloverMinute), nil)
	}

	switch c.Broker.Mode {
	case "sim":
	case "bybit":
		if c.Broker.APIKey == "" || c.Broker.APISecret == "" {
			return errors.NewConfigError("config", "validate",
				"bybit broker requires BYBIT_API_KEY and BYBIT_API_SECRET", nil)
		}
	default:
		return errors.NewConfigError("config", "validate",
			fmt.Sprintf("unknown broker mode %q", c.Broker.Mode), nil)
	}

	seen := make(map[string]struct{}, len(c.Sleeves))
	for _, s := range c.Sleeves {
		if s.ID == "" {
			return errors.NewConfigError("config", "validate", "sleeve id must not be empty", nil)
		}
		if _, dup := seen[s.ID]; dup {
			return errors.NewConfigError("config", "validate",
				fmt.Sprintf("duplicate sleeve id %q", s.ID), nil)
		}
		seen[s.ID] = struct{}{}
	}
	if c.Retry.MaxRetries < 0 {
		return errors.NewConfigError("config", "validate", "retry budget must be non-negative", nil)
	}
	return nil
}

// DisabledSleeveIDs returns the ids of configuration-disabled sleeves
func (c *EngineConfig) DisabledSleeveIDs() []string {
	var ids []string
	for _, s := range c.Sleeves {
		if s.Disabled {
			ids = append(ids, s.ID)
		}
	}
	return ids
}

func getEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return defaultVal
}
