package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// FeeSchedule describes the processing-fee gross-up and round-up behavior.
// Percent is a fraction (0.029 == 2.9%), FlatCents the fixed per-charge fee.
type FeeSchedule struct {
	Enabled           bool    `mapstructure:"enabled"`
	Percent           float64 `mapstructure:"percent"`
	FlatCents         int64   `mapstructure:"flatCents"`
	RoundUpStepDollar int64   `mapstructure:"roundUpStepDollars"`
}

// DefaultFeeSchedule matches Stripe's standard US card pricing.
func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{
		Enabled:           true,
		Percent:           0.029,
		FlatCents:         30,
		RoundUpStepDollar: 5,
	}
}

// FeeScheduleHolder serves the current fee schedule and hot-reloads it when
// the config file changes on disk.
type FeeScheduleHolder struct {
	current atomic.Value // holds FeeSchedule
}

func NewFeeScheduleHolder() (*FeeScheduleHolder, error) {
	v := viper.New()

	v.SetConfigName("fees")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/futurefunded/config")
	v.AddConfigPath("/etc/futurefunded")
	v.AddConfigPath(".")

	v.SetEnvPrefix("FUTUREFUNDED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultFeeSchedule()
	v.SetDefault("fees.enabled", defaults.Enabled)
	v.SetDefault("fees.percent", defaults.Percent)
	v.SetDefault("fees.flatCents", defaults.FlatCents)
	v.SetDefault("fees.roundUpStepDollars", defaults.RoundUpStepDollar)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var sched FeeSchedule
	if err := v.UnmarshalKey("fees", &sched); err != nil {
		return nil, err
	}
	if err := validateFeeSchedule(sched); err != nil {
		return nil, err
	}

	holder := &FeeScheduleHolder{}
	holder.current.Store(sched)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated FeeSchedule
		if err := v.UnmarshalKey("fees", &updated); err != nil {
			log.Printf("[fee-config] reload failed: %v", err)
			return
		}
		if err := validateFeeSchedule(updated); err != nil {
			log.Printf("[fee-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[fee-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *FeeScheduleHolder) Get() FeeSchedule {
	return h.current.Load().(FeeSchedule)
}

func validateFeeSchedule(sched FeeSchedule) error {
	if sched.Percent < 0 || sched.Percent >= 1 {
		return errors.New("fees.percent must be in [0, 1)")
	}
	if sched.FlatCents < 0 {
		return errors.New("fees.flatCents cannot be negative")
	}
	if sched.RoundUpStepDollar < 1 {
		return errors.New("fees.roundUpStepDollars must be at least 1")
	}
	return nil
}
