package config

import (
	"fmt"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// ReconciliationConfig holds the tunable variance thresholds as fractions
// (0.01 means 1%).
type ReconciliationConfig struct {
	RevenueVarianceThreshold float64
	FeeVarianceThreshold     float64
}

func DefaultReconciliationConfig() ReconciliationConfig {
	return ReconciliationConfig{
		RevenueVarianceThreshold: 0.01,
		FeeVarianceThreshold:     0.01,
	}
}

func (c ReconciliationConfig) RevenueThreshold() decimal.Decimal {
	return decimal.NewFromFloat(c.RevenueVarianceThreshold)
}

func (c ReconciliationConfig) FeeThreshold() decimal.Decimal {
	return decimal.NewFromFloat(c.FeeVarianceThreshold)
}

type ReconciliationConfigHolder struct {
	current atomic.Value // holds ReconciliationConfig
}

// NewStaticReconciliationConfigHolder returns a holder that never reloads.
func NewStaticReconciliationConfigHolder(cfg ReconciliationConfig) *ReconciliationConfigHolder {
	holder := &ReconciliationConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewReconciliationConfigHolder() (*ReconciliationConfigHolder, error) {
	return newReconciliationConfigHolder(viper.New(), "/etc/reconciler", ".")
}

func newReconciliationConfigHolder(v *viper.Viper, paths ...string) (*ReconciliationConfigHolder, error) {
	v.SetConfigName("reconciliation")
	v.SetConfigType("yml")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	v.SetEnvPrefix("RECONCILER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultReconciliationConfig()
	v.SetDefault("reconciliation.revenueVarianceThreshold", defaults.RevenueVarianceThreshold)
	v.SetDefault("reconciliation.feeVarianceThreshold", defaults.FeeVarianceThreshold)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	cfg, err := readReconciliationConfig(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticReconciliationConfigHolder(cfg)
	if !fileFound {
		return holder, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := readReconciliationConfig(v)
		if err != nil {
			log.Printf("[reconciliation-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[reconciliation-config] reloaded from %s", e.Name)
	})
	v.WatchConfig()

	return holder, nil
}

func (h *ReconciliationConfigHolder) Get() ReconciliationConfig {
	if h == nil {
		return DefaultReconciliationConfig()
	}
	return h.current.Load().(ReconciliationConfig)
}

func readReconciliationConfig(v *viper.Viper) (ReconciliationConfig, error) {
	cfg := ReconciliationConfig{
		RevenueVarianceThreshold: v.GetFloat64("reconciliation.revenueVarianceThreshold"),
		FeeVarianceThreshold:     v.GetFloat64("reconciliation.feeVarianceThreshold"),
	}
	if err := validateReconciliationConfig(cfg); err != nil {
		return ReconciliationConfig{}, err
	}
	return cfg, nil
}

func validateReconciliationConfig(cfg ReconciliationConfig) error {
	if cfg.RevenueVarianceThreshold < 0 || cfg.RevenueVarianceThreshold >= 1 {
		return fmt.Errorf("reconciliation.revenueVarianceThreshold must be in [0, 1), got %v", cfg.RevenueVarianceThreshold)
	}
	if cfg.FeeVarianceThreshold < 0 || cfg.FeeVarianceThreshold >= 1 {
		return fmt.Errorf("reconciliation.feeVarianceThreshold must be in [0, 1), got %v", cfg.FeeVarianceThreshold)
	}
	return nil
}
