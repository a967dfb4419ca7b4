// Package config loads and saves the configuration of an lgrkit process.
//
// The configuration holds the ambient settings (logging, the metrics and
// health server, the websocket sink) and the list of sources the manager
// should hold, each with its kind and its properties. Properties are the
// same string attributes a source reads with ReadProperties and writes with
// WriteProperties, so a running manager can be saved and restored.
//
// # Loading
//
// Files are JSON or YAML, chosen by extension. Layers are merged over the
// defaults key by key; lists such as sources are replaced whole:
//
//	loader := config.NewLoader()
//	loader.AddLayer("/etc/lgrkit/base.yaml")
//	loader.AddLayer("/etc/lgrkit/site.json")
//	cfg, err := loader.Load()
//
// Duration keys ending in _interval or _timeout accept Go durations and a
// day suffix ("15s", "2d"). Typed property values are turned into strings.
//
// Environment overrides, applied after every layer:
//
//	LGRKIT_LOG_LEVEL, LGRKIT_LOG_FORMAT, LGRKIT_METRICS_ADDR, LGRKIT_WEBSOCKET_ADDR
//
// # Sources
//
//	sources, err := cfg.BuildSources(config.DefaultBuilders(), logger)
//	for _, s := range sources {
//		_ = manager.AddSource(s)
//	}
//
// Snapshot captures the sources a manager currently holds, with their
// current properties, and SaveToFile persists the result. LoggerNet
// credentials are only written when the source's remember property is set.
//
// # File Safety
//
// Files larger than 10MB, nested deeper than 32 levels, or reached through a
// relative path that leaves the working directory are rejected. Saved files
// are readable by the owner only.
package config
