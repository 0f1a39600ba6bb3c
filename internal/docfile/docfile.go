// Package docfile decodes schema and policy documents from YAML, TOML or JSON
// files and gates them on a document format version.
package docfile

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/teranos/gnis/errors"
)

// Format is a document encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatJSON Format = "json"
)

// FormatOf picks the format from a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	case ".json":
		return FormatJSON, nil
	}
	return "", errors.Wrapf(errors.ErrUnsupportedFormat, "document %s", path)
}

// Decode reads path and decodes it into v according to its extension.
func Decode(path string, v any) error {
	format, err := FormatOf(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read %s", path)
	}
	return errors.Wrapf(DecodeBytes(data, format, v), "decode %s", path)
}

// DecodeBytes decodes data into v. Unknown keys are errors in every format so
// that a misspelled rule parameter is not silently ignored.
func DecodeBytes(data []byte, format Format, v any) error {
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(v); err != nil {
			return errors.Wrap(err, "yaml")
		}
		return nil

	case FormatTOML:
		md, err := toml.Decode(string(data), v)
		if err != nil {
			return errors.Wrap(err, "toml")
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			sort.Strings(keys)
			return errors.Newf("toml: unknown keys %s", strings.Join(keys, ", "))
		}
		return nil

	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(v); err != nil {
			return errors.Wrap(err, "json")
		}
		return nil
	}
	return errors.Wrapf(errors.ErrUnsupportedFormat, "format %q", format)
}

// CheckVersion verifies a document version against a semver constraint such
// as "^1".
func CheckVersion(version, constraint string) error {
	if version == "" {
		return errors.New("document has no version")
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return errors.Wrapf(err, "invalid document version %s", version)
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return errors.Wrapf(err, "invalid version constraint %s", constraint)
	}
	if !c.Check(v) {
		return errors.Newf("document version %s does not satisfy %s", version, constraint)
	}
	return nil
}
