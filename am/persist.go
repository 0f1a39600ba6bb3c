package am

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/teranos/gnis/errors"
)

// Marshal renders c as toml or yaml. The API key is never written.
func Marshal(c *Config, format string) ([]byte, error) {
	redacted := *c
	redacted.Census.APIKey = ""

	switch strings.ToLower(format) {
	case "toml", "":
		return toml.Marshal(redacted)
	case "yaml", "yml":
		return yaml.Marshal(redacted)
	default:
		return nil, errors.Wrapf(errors.ErrUnsupportedFormat, "config format %q", format)
	}
}

// WriteFile writes c as TOML to path, keeping up to three rotated backups
// (.back1 newest) of any file it replaces.
func WriteFile(path string, c *Config) error {
	data, err := Marshal(c, "toml")
	if err != nil {
		return errors.Wrap(err, "failed to encode config")
	}
	if err := os.MkdirAll(filepath.Dir(path), DefaultDirPermissions); err != nil {
		return errors.Wrapf(err, "failed to create directory for %s", path)
	}
	if err := createBackup(path); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, DefaultFilePermissions); err != nil {
		return errors.Wrapf(err, "failed to write config %s", path)
	}
	return nil
}

// Defaults returns the configuration with every default applied.
func Defaults() *Config {
	v := newDefaultsViper()
	cfg, err := LoadWithViper(v)
	if err != nil {
		// Defaults are static values that always decode.
		panic(err)
	}
	return cfg
}

// createBackup rotates .back3 <- .back2 <- .back1 <- current.
func createBackup(configPath string) error {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil
	}

	back1, back2, back3 := configPath+".back1", configPath+".back2", configPath+".back3"
	if err := os.Remove(back3); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to delete old backup %s", back3)
	}
	if _, err := os.Stat(back2); err == nil {
		if err := os.Rename(back2, back3); err != nil {
			return errors.Wrap(err, "failed to rotate .back2 to .back3")
		}
	}
	if _, err := os.Stat(back1); err == nil {
		if err := os.Rename(back1, back2); err != nil {
			return errors.Wrap(err, "failed to rotate .back1 to .back2")
		}
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to read config for backup")
	}
	if err := os.WriteFile(back1, content, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to create .back1")
	}
	return nil
}
