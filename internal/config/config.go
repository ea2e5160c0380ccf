// Package config is used to load the configuration file
package config

import (
	"fmt"
	"strings"

	"github.com/blacktop/calltrace/pkg/host"
	"github.com/blacktop/calltrace/pkg/probe"
	"github.com/blacktop/calltrace/pkg/tracelog"
	"github.com/spf13/viper"
)

// Config is the configuration struct
type Config struct {
	// Output is the trace log path.
	Output string `mapstructure:"output"`
	// Target is matched as a substring of every loaded module name.
	Target string `mapstructure:"target"`
	// TraceAll hooks every in-range instruction, not only calls.
	TraceAll bool `mapstructure:"trace-all"`
	// CacheSize is the number of discovered instructions a host keeps.
	CacheSize int `mapstructure:"cache-size"`
	Verbose   bool `mapstructure:"verbose"`
}

// SetDefaults registers the default values of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("output", tracelog.DefaultPath)
	v.SetDefault("cache-size", host.DefaultCacheSize)
}

func (c *Config) verify() error {
	c.Target = strings.TrimSpace(c.Target)
	if c.Target == "" {
		return fmt.Errorf("target module name is required (--target or CALLTRACE_TARGET)")
	}
	if c.Output == "" {
		c.Output = tracelog.DefaultPath
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("cache-size must not be negative: %d", c.CacheSize)
	}
	if c.CacheSize == 0 {
		c.CacheSize = host.DefaultCacheSize
	}
	return nil
}

// Probe returns the probe configuration.
func (c *Config) Probe() *probe.Config {
	return &probe.Config{
		Target:   c.Target,
		TraceAll: c.TraceAll,
	}
}

// Load unmarshals and verifies the configuration held by v
func Load(v *viper.Viper) (*Config, error) {
	var c *Config

	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal: %v", err)
	}
	if c == nil {
		c = &Config{}
	}

	if err := c.verify(); err != nil {
		return nil, fmt.Errorf("config: failed to verify: %v", err)
	}

	return c, nil
}

// LoadConfig loads the configuration from the global viper instance
func LoadConfig() (*Config, error) {
	return Load(viper.GetViper())
}
