package am

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"github.com/teranos/gnis/errors"
)

// ProjectConfigName is searched for from the working directory upwards.
const ProjectConfigName = "gnis.toml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "GNIS"

var (
	mu            sync.Mutex
	globalConfig  *Config
	viperInstance *viper.Viper
	configSources map[string]SourceInfo
)

// Load reads the GNIS configuration using Viper. The result is cached until Reset.
func Load() (*Config, error) {
	mu.Lock()
	defer mu.Unlock()
	if globalConfig != nil {
		return globalConfig, nil
	}

	config, err := LoadWithViper(initViper())
	if err != nil {
		return nil, err
	}
	globalConfig = config
	return globalConfig, nil
}

// GetViper returns the Viper instance for advanced configuration access
func GetViper() *viper.Viper {
	mu.Lock()
	defer mu.Unlock()
	return initViper()
}

// LoadWithViper loads configuration using a provided Viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	return &config, nil
}

// LoadFromFile loads configuration from a specific file path on top of the
// defaults. Environment variables are not consulted.
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}
	config, err := LoadWithViper(v)
	if err != nil {
		return nil, errors.Wrapf(err, "config file %s", configPath)
	}
	return config, nil
}

// Reset clears the cached configuration (useful for testing)
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	globalConfig = nil
	viperInstance = nil
	configSources = nil
}

// initViper initializes Viper with configuration sources and defaults.
// Callers hold mu.
func initViper() *viper.Viper {
	if viperInstance != nil {
		return viperInstance
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	BindSensitiveEnvVars(v)
	SetDefaults(v)

	configSources = mergeConfigFiles(v, configPaths())
	viperInstance = v
	return v
}

// configFile is one candidate file and the source it represents.
type configFile struct {
	path   string
	source ConfigSource
}

// configPaths lists candidate files, lowest precedence first.
func configPaths() []configFile {
	paths := []configFile{{path: "/etc/gnis/gnis.toml", source: SourceSystem}}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, configFile{path: filepath.Join(home, ".gnis", "gnis.toml"), source: SourceUser})
	}
	if project := findProjectConfig(); project != "" {
		paths = append(paths, configFile{path: project, source: SourceProject})
	}
	return paths
}

// findProjectConfig searches for gnis.toml by walking up the directory tree
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ProjectConfigName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// mergeConfigFiles merges existing files into v in order and records which
// file set each key. Precedence (lowest to highest): system < user < project
// < env vars.
func mergeConfigFiles(v *viper.Viper, files []configFile) map[string]SourceInfo {
	sources := make(map[string]SourceInfo)
	for _, f := range files {
		if _, err := os.Stat(f.path); err != nil {
			continue
		}
		tempViper := viper.New()
		tempViper.SetConfigFile(f.path)
		tempViper.SetConfigType("toml")
		if err := tempViper.ReadInConfig(); err != nil {
			continue
		}
		// Merged as config, not overrides, so GNIS_* variables still win.
		if err := v.MergeConfigMap(tempViper.AllSettings()); err != nil {
			continue
		}
		for _, key := range tempViper.AllKeys() {
			sources[key] = SourceInfo{Source: f.source, Path: f.path}
		}
	}
	return sources
}
