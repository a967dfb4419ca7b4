package config

import (
	"log/slog"

	"github.com/c360/lgraccess/access"
	"github.com/c360/lgraccess/errors"
	"github.com/c360/lgraccess/natsclient"
	"github.com/c360/lgraccess/pkg/tlsutil"
	"github.com/c360/lgraccess/source/database"
	"github.com/c360/lgraccess/source/datafile"
	"github.com/c360/lgraccess/source/lgrnet"
	"github.com/c360/lgraccess/source/lgrnet/natsserver"
)

// SourceBuilder creates an unconfigured source of one kind
type SourceBuilder func(name string, logger *slog.Logger) access.Source

// Builders maps each source kind to its builder
type Builders map[access.Kind]SourceBuilder

// DefaultBuilders returns builders for every source kind. LoggerNet sources
// reach their server through a NATS gateway; opts tune that client.
func DefaultBuilders(opts ...natsclient.ClientOption) Builders {
	return Builders{
		access.KindLgrNet: func(name string, logger *slog.Logger) access.Source {
			return lgrnet.New(name, natsserver.Factory(logger, opts...), logger)
		},
		access.KindDataFile: func(name string, logger *slog.Logger) access.Source {
			return datafile.New(name, logger)
		},
		access.KindDatabase: func(name string, logger *slog.Logger) access.Source {
			return database.New(name, logger)
		},
	}
}

// Builders returns the default builders with LoggerNet NATS links secured by
// the tls.client settings
func (c *Config) Builders(opts ...natsclient.ClientOption) (Builders, error) {
	tlsConfig, err := tlsutil.LoadClientTLSConfig(c.TLS.Client)
	if err != nil {
		return nil, errors.Wrap(err, "Config", "Builders", "load client TLS")
	}
	if tlsConfig != nil {
		opts = append([]natsclient.ClientOption{natsclient.WithTLSConfig(tlsConfig)}, opts...)
	}
	return DefaultBuilders(opts...), nil
}

// Build creates the source and reads its properties
func (c SourceConfig) Build(builders Builders, logger *slog.Logger) (access.Source, error) {
	kind, ok := access.ParseKind(c.Kind)
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "SourceConfig", "Build", "kind "+c.Kind)
	}
	build, ok := builders[kind]
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrUnsupported, "SourceConfig", "Build", "kind "+c.Kind)
	}
	if logger == nil {
		logger = slog.Default()
	}
	src := build(c.Name, logger)
	if err := src.ReadProperties(access.PropertiesFromMap(c.Properties)); err != nil {
		return nil, errors.Wrap(err, "SourceConfig", "Build", "read properties of "+c.Name)
	}
	return src, nil
}

// BuildSources creates every configured source in order
func (c *Config) BuildSources(builders Builders, logger *slog.Logger) ([]access.Source, error) {
	sources := make([]access.Source, 0, len(c.Sources))
	for _, sc := range c.Sources {
		src, err := sc.Build(builders, logger)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, nil
}

// SourceConfigOf captures the current properties of s
func SourceConfigOf(s access.Source) SourceConfig {
	p := access.NewProperties()
	s.WriteProperties(p)
	return SourceConfig{
		Name:       s.Name(),
		Kind:       s.Kind().String(),
		Properties: p.Map(),
	}
}

// Snapshot returns a copy of c whose sources are the ones m holds now, with
// their current properties. Call it on m's loop.
func (c *Config) Snapshot(m *access.Manager) *Config {
	out := c.Clone()
	out.Sources = out.Sources[:0]
	for _, s := range m.Sources() {
		out.Sources = append(out.Sources, SourceConfigOf(s))
	}
	return out
}
