package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ReconcilerConfig tunes the periodic plan reconciliation sweep. It lives in a
// YAML file rather than env vars so operators can retune batch sizes and the
// discovery filter without a redeploy.
type ReconcilerConfig struct {
	RunInterval      time.Duration `mapstructure:"runInterval"`
	BatchSize        int           `mapstructure:"batchSize"`
	Workers          int           `mapstructure:"workers"`
	PlanTimeout      time.Duration `mapstructure:"planTimeout"`
	RenewalLeadTime  time.Duration `mapstructure:"renewalLeadTime"`
	DueOnlyDiscovery bool          `mapstructure:"dueOnlyDiscovery"`
}

func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		RunInterval:     time.Minute,
		BatchSize:       50,
		Workers:         4,
		PlanTimeout:     15 * time.Second,
		RenewalLeadTime: 24 * time.Hour,
		// Baseline contract: re-check every active plan every cycle.
		// dueOnlyDiscovery narrows discovery to plans at/past their end date.
		DueOnlyDiscovery: false,
	}
}

type ReconcilerConfigHolder struct {
	current atomic.Value // holds ReconcilerConfig
}

func NewReconcilerConfigHolder() (*ReconcilerConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("reconciler")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/enroll/config")
	v.AddConfigPath("/etc/enroll")
	v.AddConfigPath(".")

	v.SetEnvPrefix("ENROLL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultReconcilerConfig()
	v.SetDefault("reconciler.runInterval", defaults.RunInterval)
	v.SetDefault("reconciler.batchSize", defaults.BatchSize)
	v.SetDefault("reconciler.workers", defaults.Workers)
	v.SetDefault("reconciler.planTimeout", defaults.PlanTimeout)
	v.SetDefault("reconciler.renewalLeadTime", defaults.RenewalLeadTime)
	v.SetDefault("reconciler.dueOnlyDiscovery", defaults.DueOnlyDiscovery)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg ReconcilerConfig
	if err := v.UnmarshalKey("reconciler", &cfg); err != nil {
		return nil, err
	}
	if err := validateReconcilerConfig(cfg); err != nil {
		return nil, err
	}

	holder := &ReconcilerConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated ReconcilerConfig
		if err := v.UnmarshalKey("reconciler", &updated); err != nil {
			log.Printf("[reconciler-config] reload failed: %v", err)
			return
		}
		if err := validateReconcilerConfig(updated); err != nil {
			log.Printf("[reconciler-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[reconciler-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticReconcilerConfigHolder wraps a fixed config without file
// watching. Used by tests and one-shot tooling.
func NewStaticReconcilerConfigHolder(cfg ReconcilerConfig) *ReconcilerConfigHolder {
	holder := &ReconcilerConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *ReconcilerConfigHolder) Get() ReconcilerConfig {
	return h.current.Load().(ReconcilerConfig)
}

func validateReconcilerConfig(cfg ReconcilerConfig) error {
	if cfg.BatchSize <= 0 {
		return errors.New("reconciler.batchSize must be positive")
	}
	if cfg.Workers <= 0 {
		return errors.New("reconciler.workers must be positive")
	}
	if cfg.RunInterval <= 0 {
		return errors.New("reconciler.runInterval must be positive")
	}
	return nil
}
