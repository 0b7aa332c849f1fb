// Package config provides a reusable loader for the coordinator's
// bootstrap configuration and a group's GroupConfig defaults. It
// mirrors the teacher's env/flag-overlay idiom: godotenv for local
// .env files, viper for typed overlay and defaults.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Bootstrap holds process-level wiring parameters: where the root
// identity lives, where persisted chunks/state are cached locally, and
// which addresses to listen on. None of this is part of the trust
// graph itself.
type Bootstrap struct {
	RootIdentityPath string `mapstructure:"root_identity_path"`
	ListenAddr       string `mapstructure:"listen_addr"`
	DiscoveryTag     string `mapstructure:"discovery_tag"`
	DataDir          string `mapstructure:"data_dir"`
	LogLevel         string `mapstructure:"log_level"`
}

// GroupConfig is the mutable, governable configuration of a single
// group's trust state (spec.md §3.2, §4.E). The mapstructure tags give
// each field's lower-snake key; every field except group_name and
// disappearing_message_ttl is a whitelisted ConfigChange key (see
// WhitelistedKeys).
type GroupConfig struct {
	MinVouchThreshold       int           `mapstructure:"min_vouch_threshold"`
	MinQuorum               float64       `mapstructure:"min_quorum"`
	ConfigChangeThreshold   float64       `mapstructure:"config_change_threshold"`
	DefaultPollTimeout      time.Duration `mapstructure:"default_poll_timeout"`
	VettingSessionTTL       time.Duration `mapstructure:"vetting_session_ttl"`
	ReplicationFactor       int           `mapstructure:"replication_factor"`
	StaleAfter              time.Duration `mapstructure:"stale_after"`
	GroupName               string        `mapstructure:"group_name"`
	DisappearingMessageTTL  time.Duration `mapstructure:"disappearing_message_ttl"`
}

// DefaultGroupConfig returns the defaults named throughout spec.md:
// min_vouch_threshold=2, default_poll_timeout=48h,
// vetting_session_ttl=72h, replication_factor=3, stale_after=7d.
func DefaultGroupConfig() GroupConfig {
	return GroupConfig{
		MinVouchThreshold:      2,
		MinQuorum:              0.5,
		ConfigChangeThreshold:  0.66,
		DefaultPollTimeout:     48 * time.Hour,
		VettingSessionTTL:      72 * time.Hour,
		ReplicationFactor:      3,
		StaleAfter:             7 * 24 * time.Hour,
		GroupName:              "",
		DisappearingMessageTTL: 0,
	}
}

// WhitelistedKeys enumerates the ConfigChange keys a governance
// proposal is permitted to mutate (spec.md §4.E).
func WhitelistedKeys() []string {
	return []string{
		"min_vouch_threshold",
		"min_quorum",
		"config_change_threshold",
		"default_poll_timeout",
		"vetting_session_ttl",
		"replication_factor",
		"stale_after",
	}
}

// ApplyWhitelistedKey mutates one of WhitelistedKeys() on cfg after a
// ConfigChange proposal passes (spec.md §4.E). It rejects any key not
// on the whitelist or any value that fails to parse for its field's type.
func ApplyWhitelistedKey(cfg *GroupConfig, key, value string) error {
	switch key {
	case "min_vouch_threshold":
		n, err := parseIntValue(value)
		if err != nil {
			return err
		}
		cfg.MinVouchThreshold = n
	case "min_quorum":
		f, err := parseFloatValue(value)
		if err != nil {
			return err
		}
		cfg.MinQuorum = f
	case "config_change_threshold":
		f, err := parseFloatValue(value)
		if err != nil {
			return err
		}
		cfg.ConfigChangeThreshold = f
	case "default_poll_timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("config: parse default_poll_timeout: %w", err)
		}
		cfg.DefaultPollTimeout = d
	case "vetting_session_ttl":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("config: parse vetting_session_ttl: %w", err)
		}
		cfg.VettingSessionTTL = d
	case "replication_factor":
		n, err := parseIntValue(value)
		if err != nil {
			return err
		}
		cfg.ReplicationFactor = n
	case "stale_after":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("config: parse stale_after: %w", err)
		}
		cfg.StaleAfter = d
	default:
		return fmt.Errorf("config: %q is not a whitelisted key", key)
	}
	return nil
}

func parseIntValue(value string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(value, "%d", &n); err != nil {
		return 0, fmt.Errorf("config: parse int %q: %w", value, err)
	}
	return n, nil
}

func parseFloatValue(value string) (float64, error) {
	var f float64
	if _, err := fmt.Sscanf(value, "%g", &f); err != nil {
		return 0, fmt.Errorf("config: parse float %q: %w", value, err)
	}
	return f, nil
}

// Load reads a Bootstrap configuration from environment variables
// (optionally seeded by a .env file) using the STROMA_ prefix.
func Load(envFile string) (*Bootstrap, error) {
	if envFile != "" {
		_ = godotenv.Load(envFile)
	} else {
		_ = godotenv.Load()
	}

	v := viper.New()
	v.SetEnvPrefix("stroma")
	v.AutomaticEnv()
	v.SetDefault("root_identity_path", "./identity.key")
	v.SetDefault("listen_addr", "/ip4/0.0.0.0/tcp/0")
	v.SetDefault("discovery_tag", "stroma-coordinator")
	v.SetDefault("data_dir", "./data")
	v.SetDefault("log_level", "info")

	var b Bootstrap
	b.RootIdentityPath = v.GetString("root_identity_path")
	b.ListenAddr = v.GetString("listen_addr")
	b.DiscoveryTag = v.GetString("discovery_tag")
	b.DataDir = v.GetString("data_dir")
	b.LogLevel = v.GetString("log_level")

	if b.DataDir == "" {
		return nil, fmt.Errorf("config: data_dir must not be empty")
	}
	return &b, nil
}
