package config

import (
	"fmt"
	"path/filepath"
	"strings"

	internal "github.com/ZanzyTHEbar/hastefs/hastefs"
	"github.com/ZanzyTHEbar/hastefs/hastefs/hastemap"

	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Hastefs HastefsConfig `mapstructure:"hastefs"`
}

// HastefsConfig stores the haste map build settings. Fields mirror the
// builder options one-to-one.
type HastefsConfig struct {
	Name                      string   `mapstructure:"name"`
	CacheDirectory            string   `mapstructure:"cacheDirectory"`
	Roots                     []string `mapstructure:"roots"`
	Extensions                []string `mapstructure:"extensions"`
	Platforms                 []string `mapstructure:"platforms"`
	IgnorePatterns            []string `mapstructure:"ignorePatterns"`
	MocksPattern              string   `mapstructure:"mocksPattern"`
	ProvidesModuleNodeModules []string `mapstructure:"providesModuleNodeModules"`
	MaxWorkers                int      `mapstructure:"maxWorkers"`
	ResetCache                bool     `mapstructure:"resetCache"`
	RetainAllFiles            bool     `mapstructure:"retainAllFiles"`
	ThrowOnModuleCollision    bool     `mapstructure:"throwOnModuleCollision"`
	UseWatchman               bool     `mapstructure:"useWatchman"`
	WatchmanBinary            string   `mapstructure:"watchmanBinary"`
	WorkerBinary              string   `mapstructure:"workerBinary"`
}

var AppConfig Config

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		viper.AddConfigPath(internal.DefaultConfigPath)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	// Set default values
	viper.SetDefault("hastefs.name", internal.DefaultAppName)
	viper.SetDefault("hastefs.cacheDirectory", internal.DefaultCacheDirectory)
	viper.SetDefault("hastefs.roots", []string{"."})
	viper.SetDefault("hastefs.extensions", []string{"js", "json"})
	viper.SetDefault("hastefs.maxWorkers", internal.DefaultMaxWorkers)
	viper.SetDefault("hastefs.useWatchman", true)
	viper.SetDefault("hastefs.watchmanBinary", internal.DefaultWatchmanBinary)
	viper.SetDefault("hastefs.workerBinary", internal.DefaultWorkerBinary)

	viper.AutomaticEnv()                                   // Read in environment variables that match
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // e.g. hastefs.maxWorkers becomes HASTEFS_MAXWORKERS

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; defaults will be used.
	}

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	return &AppConfig, nil
}

// BuildOptions translates the loaded settings into builder options.
func (c *HastefsConfig) BuildOptions() hastemap.Options {
	return hastemap.Options{
		CacheDirectory:            c.CacheDirectory,
		Extensions:                c.Extensions,
		IgnorePatterns:            c.IgnorePatterns,
		MaxWorkers:                c.MaxWorkers,
		MocksPattern:              c.MocksPattern,
		Name:                      c.Name,
		Platforms:                 c.Platforms,
		ProvidesModuleNodeModules: c.ProvidesModuleNodeModules,
		ResetCache:                c.ResetCache,
		RetainAllFiles:            c.RetainAllFiles,
		Roots:                     c.Roots,
		ThrowOnModuleCollision:    c.ThrowOnModuleCollision,
		UseWatchman:               c.UseWatchman,
		WatchmanBinary:            c.WatchmanBinary,
		WorkerBinary:              c.WorkerBinary,
	}
}
