// Package chatconfig loads named per-conversation configurations.
//
// A configuration is a JSON (or YAML) object found, in order, in the
// CONFIG_<NAME> environment variable, in a file named after it in one of
// the configuration directories, or in the item store. Loaded objects are
// cached for the lifetime of the Loader.
package chatconfig

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/debug"
	"github.com/rhuss/parley/pkg/storage"
)

// ConfigItemID is the item id of a configuration stored in the configs
// source. The partition key is the configuration name.
const ConfigItemID = "configs"

// Default search locations.
var (
	DefaultDirs       = []string{"configs", "data-configs"}
	DefaultExtensions = []string{".json", ".conf"}
)

// Loader resolves named configurations. The zero value searches the
// default directories and the environment only.
type Loader struct {
	// Dirs are searched in order for <name>, <name>.json and <name>.conf.
	Dirs []string
	// Extensions are tried after the bare name.
	Extensions []string
	// Items is consulted last. Nil disables the store lookup.
	Items storage.ItemStore
	// LookupEnv reads the environment. Nil means os.LookupEnv.
	LookupEnv func(string) (string, bool)

	mu    sync.Mutex
	cache map[string]map[string]any
}

// NewLoader creates a loader with the default search locations.
func NewLoader(items storage.ItemStore, dirs ...string) *Loader {
	if len(dirs) == 0 {
		dirs = DefaultDirs
	}
	return &Loader{
		Dirs:       dirs,
		Extensions: DefaultExtensions,
		Items:      items,
	}
}

func (l *Loader) lookupEnv(key string) (string, bool) {
	if l.LookupEnv != nil {
		return l.LookupEnv(key)
	}
	return os.LookupEnv(key)
}

// Raw returns the named configuration object. Values of the form ${VAR}
// are replaced with the environment variable VAR.
func (l *Loader) Raw(ctx context.Context, name string) (map[string]any, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, api.NewConfigurationError("config", "configuration name is empty")
	}

	l.mu.Lock()
	cached, ok := l.cache[name]
	l.mu.Unlock()
	if ok {
		return cached, nil
	}

	raw, origin, err := l.find(ctx, name)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, api.NewConfigurationError("config",
			fmt.Sprintf("the configuration with name %q was not found", name))
	}
	expanded, _ := l.expand(raw).(map[string]any)
	debug.Log("config", "named configuration loaded", "name", name, "origin", origin)

	l.mu.Lock()
	if l.cache == nil {
		l.cache = make(map[string]map[string]any)
	}
	l.cache[name] = expanded
	l.mu.Unlock()
	return expanded, nil
}

func (l *Loader) find(ctx context.Context, name string) (map[string]any, string, error) {
	if s, ok := l.lookupEnv("CONFIG_" + strings.ToUpper(name)); ok && s != "" {
		m, err := parse([]byte(s))
		if err != nil {
			return nil, "", api.NewConfigurationError("config",
				fmt.Sprintf("environment configuration %q is not valid: %v", name, err))
		}
		return m, "env", nil
	}

	if data, path := l.readFirst(name); data != nil {
		m, err := parse(data)
		if err != nil {
			return nil, "", api.NewConfigurationError("config",
				fmt.Sprintf("configuration file %s is not valid: %v", path, err))
		}
		return m, path, nil
	}

	if l.Items != nil {
		item, err := l.Items.GetItem(ctx, storage.SourceConfigs, name, ConfigItemID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
		case err != nil:
			return nil, "", fmt.Errorf("loading configuration %q: %w", name, err)
		default:
			return map[string]any(item), "store", nil
		}
	}
	return nil, "", nil
}

// readFirst returns the first existing file for name in the configured
// directories.
func (l *Loader) readFirst(name string) ([]byte, string) {
	if strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return nil, ""
	}
	dirs := l.Dirs
	if dirs == nil {
		dirs = DefaultDirs
	}
	exts := l.Extensions
	if exts == nil {
		exts = DefaultExtensions
	}

	candidates := make([]string, 0, len(exts)+1)
	candidates = append(candidates, name)
	for _, ext := range exts {
		candidates = append(candidates, name+ext)
	}
	for _, dir := range dirs {
		for _, c := range candidates {
			path := filepath.Join(dir, c)
			data, err := os.ReadFile(path)
			if err == nil {
				return data, path
			}
		}
	}
	return nil, ""
}

// parse decodes a JSON or YAML object.
func parse(data []byte) (map[string]any, error) {
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, errors.New("configuration is empty")
	}
	return m, nil
}

func (l *Loader) expand(v any) any {
	switch x := v.(type) {
	case string:
		if strings.HasPrefix(x, "${") && strings.HasSuffix(x, "}") {
			val, _ := l.lookupEnv(x[2 : len(x)-1])
			return val
		}
		return x
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = l.expand(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = l.expand(val)
		}
		return out
	}
	return v
}
