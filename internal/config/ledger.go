package config

import (
	"time"

	"github.com/spf13/viper"
)

// LedgerConfig holds the tunables of the mutation engine
type LedgerConfig struct {
	MaxRetryAttempts  int
	RetryBaseDelay    time.Duration
	MaxAmount         int64
	LockTimeout       time.Duration
	GateSweepInterval time.Duration
}

// GetLedgerConfig returns engine configuration with defaults
func GetLedgerConfig() *LedgerConfig {
	viper.SetDefault("ledger.max_retry_attempts", 3)
	viper.SetDefault("ledger.retry_base_delay", 50*time.Millisecond)
	viper.SetDefault("ledger.max_amount", int64(1)<<53-1)
	viper.SetDefault("ledger.lock_timeout", 3*time.Second)
	viper.SetDefault("ledger.gate_sweep_interval", time.Minute)

	return &LedgerConfig{
		MaxRetryAttempts:  viper.GetInt("ledger.max_retry_attempts"),
		RetryBaseDelay:    viper.GetDuration("ledger.retry_base_delay"),
		MaxAmount:         viper.GetInt64("ledger.max_amount"),
		LockTimeout:       viper.GetDuration("ledger.lock_timeout"),
		GateSweepInterval: viper.GetDuration("ledger.gate_sweep_interval"),
	}
}
