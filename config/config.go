package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/lgraccess/access"
	"github.com/c360/lgraccess/errors"
	"github.com/c360/lgraccess/output/websocket"
	"github.com/c360/lgraccess/pkg/security"
)

// Config is the persisted state of an lgrkit process: ambient settings plus
// the sources the manager holds and their properties
type Config struct {
	Log       LogConfig          `json:"log"       yaml:"log"`
	Metrics   MetricsConfig      `json:"metrics"   yaml:"metrics"`
	Websocket WebsocketConfig    `json:"websocket" yaml:"websocket"`
	TLS       security.TLSConfig `json:"tls"       yaml:"tls"`
	Sources   []SourceConfig     `json:"sources"   yaml:"sources"`
}

// LogConfig selects the slog handler
type LogConfig struct {
	Level  string `json:"level"  yaml:"level"`  // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json or text
}

// MetricsConfig configures the HTTP server exposing /metrics and /health
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr"    yaml:"addr"`
	Path    string `json:"path"    yaml:"path"`
}

// WebsocketConfig configures the websocket sink server
type WebsocketConfig struct {
	Enabled          bool `json:"enabled" yaml:"enabled"`
	websocket.Config `yaml:",inline"`
}

// SourceConfig names a source, its kind and its properties
type SourceConfig struct {
	Name       string            `json:"name"                 yaml:"name"`
	Kind       string            `json:"kind"                 yaml:"kind"`
	Properties map[string]string `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// Default returns the configuration used before any layer is applied
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "json"},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
			Path:    "/metrics",
		},
		Websocket: WebsocketConfig{
			Enabled: true,
			Config:  websocket.DefaultConfig(),
		},
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "log level "+c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "json", "text":
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "log format "+c.Log.Format)
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "metrics.addr is required")
	}
	if c.Websocket.Enabled {
		if err := c.Websocket.Config.Validate(); err != nil {
			return err
		}
	}

	if err := (security.Config{TLS: c.TLS}).Validate(); err != nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", err.Error())
	}

	seen := make(map[string]bool, len(c.Sources))
	for i, s := range c.Sources {
		if s.Name == "" {
			return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate",
				fmt.Sprintf("sources[%d].name is required", i))
		}
		if seen[s.Name] {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "duplicate source "+s.Name)
		}
		seen[s.Name] = true
		if _, ok := access.ParseKind(s.Kind); !ok {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
				fmt.Sprintf("source %s kind %q", s.Name, s.Kind))
		}
	}
	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}
	clone := *c
	clone.TLS.Server.MTLS.ClientCAFiles = cloneStrings(c.TLS.Server.MTLS.ClientCAFiles)
	clone.TLS.Server.MTLS.AllowedClientCNs = cloneStrings(c.TLS.Server.MTLS.AllowedClientCNs)
	clone.TLS.Client.CAFiles = cloneStrings(c.TLS.Client.CAFiles)
	clone.Sources = make([]SourceConfig, len(c.Sources))
	for i, s := range c.Sources {
		clone.Sources[i] = s
		if s.Properties != nil {
			clone.Sources[i].Properties = make(map[string]string, len(s.Properties))
			for k, v := range s.Properties {
				clone.Sources[i].Properties[k] = v
			}
		}
	}
	return &clone
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

// Source returns the named source configuration
func (c *Config) Source(name string) (SourceConfig, bool) {
	for _, s := range c.Sources {
		if s.Name == name {
			return s, true
		}
	}
	return SourceConfig{}, false
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		layers:     []string{},
		validation: true,
		envPrefix:  "LGRKIT",
	}
}

// AddLayer adds a configuration file layer. Later layers override earlier
// ones key by key; lists such as sources are replaced whole.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges the defaults, every layer and the environment overrides
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, errors.Wrap(err, "Loader", "Load", "load "+path)
		}
		if cfg, err = l.mergeFromMap(cfg, raw); err != nil {
			return nil, errors.Wrap(err, "Loader", "Load", "merge "+path)
		}
	}

	l.applyEnvOverrides(cfg)

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// loadRaw decodes a JSON or YAML file into a generic map
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}
	format, _ := formatOf(path)

	var raw map[string]any
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, &raw)
	default:
		err = json.Unmarshal(data, &raw)
	}
	if err != nil {
		return nil, errors.WrapInvalid(errors.ErrParsingFailed, "Loader", "loadRaw", err.Error())
	}
	if err := validateDepth(raw, 0); err != nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Loader", "loadRaw", err.Error())
	}

	parseDurations(raw)
	normalizeProperties(raw)
	return raw, nil
}

// mergeFromMap overrides only the fields present in override
func (l *Loader) mergeFromMap(base *Config, override map[string]any) (*Config, error) {
	if override == nil {
		return base, nil
	}

	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, err
	}

	mergedJSON, err := json.Marshal(deepMergeMaps(baseMap, override))
	if err != nil {
		return nil, err
	}
	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Loader", "mergeFromMap", err.Error())
	}
	return &merged, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// parseDurations converts duration strings under *_interval and *_timeout
// keys to nanoseconds for json unmarshaling
func parseDurations(data map[string]any) {
	for k, v := range data {
		switch t := v.(type) {
		case map[string]any:
			parseDurations(t)
		case string:
			if !strings.HasSuffix(k, "_interval") && !strings.HasSuffix(k, "_timeout") {
				continue
			}
			if d, err := parseDurationWithDays(t); err == nil {
				data[k] = d.Nanoseconds()
			}
		}
	}
}

// parseDurationWithDays parses durations that may include days (e.g., "14d")
func parseDurationWithDays(s string) (time.Duration, error) {
	if strings.HasSuffix(s, "d") {
		n, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// normalizeProperties turns typed YAML and JSON scalars in source
// properties into the strings access.Properties holds
func normalizeProperties(data map[string]any) {
	sources, ok := data["sources"].([]any)
	if !ok {
		return
	}
	for _, s := range sources {
		src, ok := s.(map[string]any)
		if !ok {
			continue
		}
		props, ok := src["properties"].(map[string]any)
		if !ok {
			continue
		}
		for k, v := range props {
			switch t := v.(type) {
			case string, nil:
			case float64:
				props[k] = strconv.FormatFloat(t, 'f', -1, 64)
			default:
				props[k] = fmt.Sprint(t)
			}
		}
	}
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) {
	overrides := []struct {
		key    string
		target *string
	}{
		{"_LOG_LEVEL", &cfg.Log.Level},
		{"_LOG_FORMAT", &cfg.Log.Format},
		{"_METRICS_ADDR", &cfg.Metrics.Addr},
		{"_WEBSOCKET_ADDR", &cfg.Websocket.Addr},
	}
	for _, o := range overrides {
		key := l.envPrefix + o.key
		val := os.Getenv(key)
		if val == "" || validateEnvVar(key, val) != nil {
			continue
		}
		*o.target = val
	}
}

// SaveToFile writes the configuration as JSON or YAML, chosen by the file
// extension
func (c *Config) SaveToFile(path string) error {
	format, err := formatOf(path)
	if err != nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "SaveToFile", err.Error())
	}

	var data []byte
	switch format {
	case FormatYAML:
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return errors.Wrap(err, "Config", "SaveToFile", "encode")
	}
	return safeWriteFile(path, data)
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}
