package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// SyncConfig is the hot-reloadable billing and sync policy.
type SyncConfig struct {
	Billing BillingPolicy `mapstructure:"billing"`
	Sync    SyncPolicy    `mapstructure:"sync"`
}

type BillingPolicy struct {
	DueSoonWindowDays int `mapstructure:"dueSoonWindowDays"`
	GraceDays         int `mapstructure:"graceDays"`
	DefaultCycleDays  int `mapstructure:"defaultCycleDays"`
}

type SyncPolicy struct {
	MaxRetries       int           `mapstructure:"maxRetries"`
	DrainInterval    time.Duration `mapstructure:"drainInterval"`
	RefreshInterval  time.Duration `mapstructure:"refreshInterval"`
	ReminderInterval time.Duration `mapstructure:"reminderInterval"`
	ProbeInterval    time.Duration `mapstructure:"probeInterval"`
}

func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		Billing: BillingPolicy{
			DueSoonWindowDays: 7,
			GraceDays:         0,
			DefaultCycleDays:  30,
		},
		Sync: SyncPolicy{
			MaxRetries:       3,
			DrainInterval:    time.Minute,
			RefreshInterval:  15 * time.Minute,
			ReminderInterval: 24 * time.Hour,
			ProbeInterval:    30 * time.Second,
		},
	}
}

type SyncConfigHolder struct {
	current atomic.Value // holds SyncConfig
}

// NewStaticSyncConfigHolder returns a holder that never reloads.
func NewStaticSyncConfigHolder(cfg SyncConfig) *SyncConfigHolder {
	holder := &SyncConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewSyncConfigHolder(log *zap.Logger) (*SyncConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("sync.config")

	v := viper.New()

	v.SetConfigName("sync")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/fitdesk")
	v.AddConfigPath("$HOME/.fitdesk")
	v.AddConfigPath(".")

	v.SetEnvPrefix("FITDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultSyncConfig()
	v.SetDefault("billing.dueSoonWindowDays", defaults.Billing.DueSoonWindowDays)
	v.SetDefault("billing.graceDays", defaults.Billing.GraceDays)
	v.SetDefault("billing.defaultCycleDays", defaults.Billing.DefaultCycleDays)
	v.SetDefault("sync.maxRetries", defaults.Sync.MaxRetries)
	v.SetDefault("sync.drainInterval", defaults.Sync.DrainInterval)
	v.SetDefault("sync.refreshInterval", defaults.Sync.RefreshInterval)
	v.SetDefault("sync.reminderInterval", defaults.Sync.ReminderInterval)
	v.SetDefault("sync.probeInterval", defaults.Sync.ProbeInterval)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	var cfg SyncConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := validateSyncConfig(cfg); err != nil {
		return nil, err
	}

	holder := &SyncConfigHolder{}
	holder.current.Store(cfg)

	if fileLoaded {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			var updated SyncConfig
			if err := v.Unmarshal(&updated); err != nil {
				log.Warn("reload failed", zap.Error(err))
				return
			}
			if err := validateSyncConfig(updated); err != nil {
				log.Warn("invalid config ignored", zap.Error(err))
				return
			}
			holder.current.Store(updated)
			log.Info("reloaded", zap.String("file", e.Name))
		})
	}

	return holder, nil
}

func (h *SyncConfigHolder) Get() SyncConfig {
	if h == nil {
		return DefaultSyncConfig()
	}
	cfg, ok := h.current.Load().(SyncConfig)
	if !ok {
		return DefaultSyncConfig()
	}
	return cfg
}

// Billing satisfies billingcycle.PolicySource.
func (h *SyncConfigHolder) Billing() BillingPolicy {
	return h.Get().Billing
}

func validateSyncConfig(cfg SyncConfig) error {
	if cfg.Billing.DefaultCycleDays <= 0 {
		return errors.New("billing.defaultCycleDays must be positive")
	}
	if cfg.Billing.DueSoonWindowDays < 0 {
		return errors.New("billing.dueSoonWindowDays cannot be negative")
	}
	if cfg.Billing.GraceDays < 0 {
		return errors.New("billing.graceDays cannot be negative")
	}
	if cfg.Sync.MaxRetries < 0 {
		return errors.New("sync.maxRetries cannot be negative")
	}
	if cfg.Sync.DrainInterval <= 0 || cfg.Sync.RefreshInterval <= 0 {
		return errors.New("sync intervals must be positive")
	}
	return nil
}
