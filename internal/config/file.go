package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"

	"github.com/pelletier/go-toml/v2"
)

// FileSettings is a SettingsGetter backed by a TOML file. Nested tables are
// flattened into dotted keys, so
//
//	[database]
//	max_concurrency = 50
//
// is read back as "database.max_concurrency".
type FileSettings struct {
	path   string
	values map[string]string
}

// LoadFile reads a TOML settings file. An empty path or a missing file yields
// empty settings so every Loader lookup falls back to its default.
func LoadFile(path string) (*FileSettings, error) {
	fsSettings := &FileSettings{path: path, values: map[string]string{}}
	if path == "" {
		return fsSettings, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fsSettings, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseTOML(path, data)
}

// ParseTOML decodes TOML content into flattened settings.
func ParseTOML(path string, data []byte) (*FileSettings, error) {
	raw := map[string]any{}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	values := map[string]string{}
	flatten("", raw, values)
	return &FileSettings{path: path, values: values}, nil
}

// GetSetting returns the value stored under key, or "" when unset.
func (f *FileSettings) GetSetting(key string) (string, error) {
	if f == nil {
		return "", nil
	}
	return f.values[key], nil
}

// Path returns the file the settings were read from.
func (f *FileSettings) Path() string {
	if f == nil {
		return ""
	}
	return f.path
}

// Keys returns all known keys in sorted order.
func (f *FileSettings) Keys() []string {
	if f == nil {
		return nil
	}
	keys := make([]string, 0, len(f.values))
	for k := range f.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func flatten(prefix string, in map[string]any, out map[string]string) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]any:
			flatten(key, val, out)
		case string:
			out[key] = val
		case bool:
			out[key] = strconv.FormatBool(val)
		case int64:
			out[key] = strconv.FormatInt(val, 10)
		case float64:
			out[key] = strconv.FormatFloat(val, 'f', -1, 64)
		default:
			out[key] = fmt.Sprint(val)
		}
	}
}
