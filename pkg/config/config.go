// Package config loads the agent's configuration options via viper, with
// live-reload support through fsnotify.
package config

import (
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config is the typed view over every agent-tunable option.
type Config struct {
	AciTenantPollingYield time.Duration `mapstructure:"aci_tenant_polling_yield"`
	AgentPollingInterval  time.Duration `mapstructure:"agent_polling_interval"`
	AgentReportInterval   time.Duration `mapstructure:"agent_report_interval"`
	AgentDownTime         time.Duration `mapstructure:"agent_down_time"`
	MaxDownTime           time.Duration `mapstructure:"max_down_time"`
	MaxOperationRetry     int           `mapstructure:"max_operation_retry"`
	RetryCooldown         int           `mapstructure:"retry_cooldown"` // seconds, -1 = none
	AimSystemID           string        `mapstructure:"aim_system_id"`
	AimServiceIdentifier  string        `mapstructure:"aim_service_identifier"`
	ApicHosts             []string      `mapstructure:"apic_hosts"`

	SingleAID bool `mapstructure:"single_aid"`
	Version   string `mapstructure:"version"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("aci_tenant_polling_yield", "5s")
	v.SetDefault("agent_polling_interval", "10s")
	v.SetDefault("agent_report_interval", "5s")
	v.SetDefault("agent_down_time", "60s")
	v.SetDefault("max_down_time", "120s")
	v.SetDefault("max_operation_retry", 5)
	v.SetDefault("retry_cooldown", 30)
	v.SetDefault("aim_system_id", "tenantsync")
	v.SetDefault("aim_service_identifier", "agent-1")
	v.SetDefault("apic_hosts", []string{})
	v.SetDefault("single_aid", true)
	v.SetDefault("version", "dev")
}

// Load reads configuration from path (if non-empty) plus environment
// variables prefixed TENANTSYNC_, applying defaults for anything unset.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("tenantsync")
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Watch reloads the config file on change and invokes onChange with the
// freshly parsed Config.
func Watch(path string, onChange func(*Config)) error {
	v := viper.New()
	v.SetEnvPrefix("tenantsync")
	v.AutomaticEnv()
	setDefaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return err
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		var cfg Config
		if err := v.Unmarshal(&cfg); err == nil {
			onChange(&cfg)
		}
	})
	v.WatchConfig()
	return nil
}

// RetryCooldownDuration converts the seconds-or-(-1) option into a
// time.Duration understood by the reconciler's retry cache, where <=0
// means no expiration.
func (c *Config) RetryCooldownDuration() time.Duration {
	if c.RetryCooldown <= 0 {
		return -1
	}
	return time.Duration(c.RetryCooldown) * time.Second
}
