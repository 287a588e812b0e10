package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	RPCURL          string
	Factory         string
	Vaults          []string
	PgDSN           string
	StateFile       string
	EventsOut       string
	TWAPWindow      time.Duration
	ProbePeriod     time.Duration
	MaxTickRateX42  int64
	BaseFeeBps      uint16
	LPFeeBps        uint16
	RefreshInterval time.Duration
	MaxRetries      int
	RetryBackoff    time.Duration
	LogLevel        string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("VAULTD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("state-file", "./data/state.json")
	v.SetDefault("events-out", "./data/events.jsonl")
	v.SetDefault("twap-window", 30*time.Minute)
	v.SetDefault("probe-period", time.Hour)
	v.SetDefault("max-tick-rate", int64(1)<<42)
	v.SetDefault("base-fee-bps", 50)
	v.SetDefault("lp-fee-bps", 25)
	v.SetDefault("refresh-interval", time.Minute)
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		RPCURL:          v.GetString("rpc"),
		Factory:         v.GetString("factory"),
		Vaults:          getStringSlice(v, "vault"),
		PgDSN:           v.GetString("pg-dsn"),
		StateFile:       v.GetString("state-file"),
		EventsOut:       v.GetString("events-out"),
		TWAPWindow:      v.GetDuration("twap-window"),
		ProbePeriod:     v.GetDuration("probe-period"),
		MaxTickRateX42:  v.GetInt64("max-tick-rate"),
		BaseFeeBps:      uint16(v.GetUint32("base-fee-bps")),
		LPFeeBps:        uint16(v.GetUint32("lp-fee-bps")),
		RefreshInterval: v.GetDuration("refresh-interval"),
		MaxRetries:      v.GetInt("max-retries"),
		RetryBackoff:    v.GetDuration("retry-backoff"),
		LogLevel:        v.GetString("log-level"),
	}

	return cfg, nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
