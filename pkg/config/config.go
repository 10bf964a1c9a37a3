package config

// Package config provides a reusable loader for SpacePanda configuration
// files and environment variables. It is versioned so that applications can
// depend on a stable API contract.
//
// Version: v0.1.0

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/spacepanda/core/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config represents the unified configuration for a SpacePanda node. It
// mirrors the structure of the YAML files under config/.
type Config struct {
	Network struct {
		ID             string   `mapstructure:"id" json:"id"`
		MaxPeers       int      `mapstructure:"max_peers" json:"max_peers"`
		ListenAddr     string   `mapstructure:"listen_addr" json:"listen_addr"`
		DiscoveryTag   string   `mapstructure:"discovery_tag" json:"discovery_tag"`
		BootstrapPeers []string `mapstructure:"bootstrap_peers" json:"bootstrap_peers"`
	} `mapstructure:"network" json:"network"`

	Keystore struct {
		Path   string `mapstructure:"path" json:"path"`
		Argon2 struct {
			TimeCost    uint32 `mapstructure:"time_cost" json:"time_cost"`
			MemoryKiB   uint32 `mapstructure:"memory_kib" json:"memory_kib"`
			Parallelism uint8  `mapstructure:"parallelism" json:"parallelism"`
		} `mapstructure:"argon2" json:"argon2"`
	} `mapstructure:"keystore" json:"keystore"`

	Channel struct {
		MailboxCapacity    int `mapstructure:"mailbox_capacity" json:"mailbox_capacity"`
		EpochRetentionSize int `mapstructure:"epoch_retention_size" json:"epoch_retention_size"`
		InviteTTLSeconds   int `mapstructure:"invite_ttl_seconds" json:"invite_ttl_seconds"`
	} `mapstructure:"channel" json:"channel"`

	Storage struct {
		DataDir string `mapstructure:"data_dir" json:"data_dir"`
	} `mapstructure:"storage" json:"storage"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv() // picks up SPACEPANDA_* overrides

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the SPACEPANDA_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("SPACEPANDA_ENV", ""))
}
