// Package config wires the tunable diagnostic thresholds and Helm cache
// path overrides through viper, so they can come from flags, environment
// variables or an optional config file.
package config

import (
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "HELMCOMMANDER"

// Config holds every tunable value. Load fills every field, using the
// built-in default for any key no flag, environment variable or config file
// sets.
type Config struct {
	DoctorPendingStuck    time.Duration
	DoctorRevisionBloat   int
	DoctorOrphanRetention time.Duration
	CacheHome             string
	ConfigHome            string
}

// AddFlags registers the advanced flags config values can also be set from.
func AddFlags(flags *pflag.FlagSet) {
	flags.Duration("doctor.pending-stuck", 15*time.Minute, "age after which a pending-* release is flagged stuck")
	flags.Int("doctor.revision-bloat", 10, "revision count above which a release is flagged for bloat")
	flags.Duration("doctor.orphan-retention", 24*time.Hour, "age after which a sole uninstalled revision is flagged orphaned")
	flags.String("cache.home", "", "override HELM_CACHE_HOME")
	flags.String("config.home", "", "override HELM_CONFIG_HOME")
}

// Load builds a Config from defaults, an optional config file, environment
// variables prefixed HELMCOMMANDER_, and any bound flags, in viper's usual
// precedence order (flags > env > config file > defaults).
func Load(flags *pflag.FlagSet, configFile string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("doctor.pending-stuck", 15*time.Minute)
	v.SetDefault("doctor.revision-bloat", 10)
	v.SetDefault("doctor.orphan-retention", 24*time.Hour)
	v.SetDefault("cache.home", "")
	v.SetDefault("config.home", "")

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, err
		}
	}

	return &Config{
		DoctorPendingStuck:    v.GetDuration("doctor.pending-stuck"),
		DoctorRevisionBloat:   v.GetInt("doctor.revision-bloat"),
		DoctorOrphanRetention: v.GetDuration("doctor.orphan-retention"),
		CacheHome:             v.GetString("cache.home"),
		ConfigHome:            v.GetString("config.home"),
	}, nil
}
