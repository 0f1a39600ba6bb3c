package am

import (
	"os"
	"sort"
	"strings"
)

// ConfigSource represents where a configuration value came from
type ConfigSource string

const (
	SourceDefault     ConfigSource = "default"
	SourceSystem      ConfigSource = "system"      // /etc/gnis/gnis.toml
	SourceUser        ConfigSource = "user"        // ~/.gnis/gnis.toml
	SourceProject     ConfigSource = "project"     // gnis.toml found upwards from the working directory
	SourceEnvironment ConfigSource = "environment" // GNIS_* env vars
)

// SourceInfo tracks where a configuration value originated
type SourceInfo struct {
	Source ConfigSource
	Path   string // File path or environment variable name
}

// SettingInfo contains metadata about a configuration setting
type SettingInfo struct {
	Key        string       `json:"key"`
	Value      interface{}  `json:"value"`
	Source     ConfigSource `json:"source"`
	SourcePath string       `json:"source_path,omitempty"`
}

// sensitiveKeys are masked in introspection output.
var sensitiveKeys = map[string]bool{"census.api_key": true}

// Introspect lists every effective setting with the source that set it,
// sorted by key.
func Introspect() []SettingInfo {
	mu.Lock()
	v := initViper()
	sources := configSources
	mu.Unlock()

	keys := v.AllKeys()
	sort.Strings(keys)

	settings := make([]SettingInfo, 0, len(keys))
	for _, key := range keys {
		info := SourceInfo{Source: SourceDefault, Path: "built-in default"}
		if si, ok := sources[key]; ok {
			info = si
		}
		if envKey := envVarFor(key); os.Getenv(envKey) != "" {
			info = SourceInfo{Source: SourceEnvironment, Path: envKey}
		}

		value := v.Get(key)
		if sensitiveKeys[key] && value != "" && value != nil {
			value = "********"
		}
		settings = append(settings, SettingInfo{Key: key, Value: value, Source: info.Source, SourcePath: info.Path})
	}
	return settings
}

func envVarFor(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}
