// Package config wraps viper with the lookups PrintNest modules use, and the
// persistent user preferences the output subsystem owns.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Preference keys persisted across sessions.
const (
	// KeyManualInstances is a comma-separated list of manually-added local
	// printer addresses.
	KeyManualInstances = "printnest.manual_instances"

	// KeyNoLayersWarning suppresses the empty-toolpath warning. Stored here
	// for the host application; the output subsystem only passes it through.
	KeyNoLayersWarning = "printnest.no_layers_warning"

	// KeyMaterialDirs is a comma-separated list of directories that hold
	// material profiles eligible for syncing to printers.
	KeyMaterialDirs = "printnest.material_dirs"
)

// Config provides typed access to configuration values. A nil underlying
// viper is tolerated and yields zero values.
type Config struct {
	v *viper.Viper
}

// New wraps an existing viper instance. Passing nil is allowed.
func New(v *viper.Viper) *Config {
	return &Config{v: v}
}

func (c *Config) GetString(key string) string {
	if c.v == nil {
		return ""
	}
	return c.v.GetString(key)
}

func (c *Config) GetInt(key string) int {
	if c.v == nil {
		return 0
	}
	return c.v.GetInt(key)
}

func (c *Config) GetBool(key string) bool {
	if c.v == nil {
		return false
	}
	return c.v.GetBool(key)
}

func (c *Config) GetDuration(key string) time.Duration {
	if c.v == nil {
		return 0
	}
	return c.v.GetDuration(key)
}

func (c *Config) IsSet(key string) bool {
	if c.v == nil {
		return false
	}
	return c.v.IsSet(key)
}

// Sub returns a sub-tree of the configuration. A missing key yields an empty
// Config rather than nil so callers can chain lookups safely.
func (c *Config) Sub(key string) *Config {
	if c.v == nil {
		return &Config{}
	}
	return &Config{v: c.v.Sub(key)}
}

// Unmarshal decodes the configuration into a struct via mapstructure tags.
func (c *Config) Unmarshal(target any) error {
	if c.v == nil {
		return nil
	}
	return c.v.Unmarshal(target)
}

// Set stores a value in the configuration.
func (c *Config) Set(key string, value any) {
	if c.v == nil {
		return
	}
	c.v.Set(key, value)
}

// Save writes the configuration back to its source file, when one is bound.
func (c *Config) Save() error {
	if c.v == nil || c.v.ConfigFileUsed() == "" {
		return nil
	}
	return c.v.WriteConfig()
}

// ManualInstances returns the manually-added local printer addresses.
func (c *Config) ManualInstances() []string {
	return splitList(c.GetString(KeyManualInstances))
}

// SetManualInstances replaces the manually-added address list.
func (c *Config) SetManualInstances(addresses []string) {
	c.Set(KeyManualInstances, strings.Join(addresses, ","))
}

// MaterialDirs returns the directories searched for material profiles.
func (c *Config) MaterialDirs() []string {
	return splitList(c.GetString(KeyMaterialDirs))
}

func splitList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
