package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/lgraccess/access"
	"github.com/c360/lgraccess/errors"
	"github.com/c360/lgraccess/source/database"
	"github.com/c360/lgraccess/source/lgrnet"
	"github.com/c360/lgraccess/testutil"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const yamlConfig = `
log:
  level: debug
websocket:
  enabled: true
  addr: ":8181"
  ping_interval: 15s
sources:
  - name: lgr
    kind: lgrnet
    properties:
      address: loggernet.local
      port: 6789
      remember: false
  - name: hourly
    kind: datafile
    properties:
      path: /data/CR1000_Hourly.dat
      poll-interval: 2000
`

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/ws", cfg.Websocket.Path)
}

func TestLoader_LoadsYAML(t *testing.T) {
	cfg, err := NewLoader().LoadFile(writeFile(t, "lgrkit.yaml", yamlConfig))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format, "defaults survive partial layers")
	assert.Equal(t, ":8181", cfg.Websocket.Addr)
	assert.Equal(t, 15*time.Second, cfg.Websocket.PingInterval)
	assert.Equal(t, 256, cfg.Websocket.QueueSize)

	want := []SourceConfig{
		{Name: "lgr", Kind: "lgrnet", Properties: map[string]string{
			"address": "loggernet.local", "port": "6789", "remember": "false",
		}},
		{Name: "hourly", Kind: "datafile", Properties: map[string]string{
			"path": "/data/CR1000_Hourly.dat", "poll-interval": "2000",
		}},
	}
	if diff := cmp.Diff(want, cfg.Sources); diff != "" {
		t.Errorf("sources mismatch (-want +got):\n%s", diff)
	}
}

func TestLoader_LayersOverride(t *testing.T) {
	base := writeFile(t, "base.yaml", yamlConfig)
	override := writeFile(t, "override.json", `{
		"log": {"format": "text"},
		"metrics": {"enabled": false},
		"sources": [{"name": "db", "kind": "database", "properties": {"dsn": "file:x.db", "workers": 3}}]
	}`)

	loader := NewLoader()
	loader.AddLayer(base)
	loader.AddLayer(override)
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.False(t, cfg.Metrics.Enabled)
	require.Len(t, cfg.Sources, 1, "lists are replaced whole")
	assert.Equal(t, "3", cfg.Sources[0].Properties["workers"])
}

func TestLoader_EnvOverrides(t *testing.T) {
	t.Setenv("LGRKIT_LOG_LEVEL", "warn")
	t.Setenv("LGRKIT_WEBSOCKET_ADDR", "127.0.0.1:9999")

	cfg, err := NewLoader().LoadFile(writeFile(t, "lgrkit.yaml", yamlConfig))
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "127.0.0.1:9999", cfg.Websocket.Addr)
}

func TestLoader_Rejects(t *testing.T) {
	cases := map[string]struct{ name, content string }{
		"unknown extension": {"lgrkit.toml", "log = 1"},
		"bad yaml":          {"lgrkit.yaml", "log: [unclosed"},
		"unknown kind":      {"lgrkit.yaml", "sources:\n  - name: x\n    kind: ftp\n"},
		"duplicate source":  {"lgrkit.yaml", "sources:\n  - {name: x, kind: datafile}\n  - {name: x, kind: database}\n"},
		"missing name":      {"lgrkit.json", `{"sources": [{"kind": "datafile"}]}`},
		"bad level":         {"lgrkit.json", `{"log": {"level": "loud"}}`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewLoader().LoadFile(writeFile(t, tc.name, tc.content))
			assert.Error(t, err)
		})
	}
}

func TestConfig_SaveRoundTrip(t *testing.T) {
	cfg, err := NewLoader().LoadFile(writeFile(t, "lgrkit.yaml", yamlConfig))
	require.NoError(t, err)

	for _, name := range []string{"saved.yaml", "saved.json"} {
		path := filepath.Join(t.TempDir(), name)
		require.NoError(t, cfg.SaveToFile(path))

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

		loaded, err := NewLoader().LoadFile(path)
		require.NoError(t, err)
		if diff := cmp.Diff(cfg, loaded); diff != "" {
			t.Errorf("%s round trip mismatch (-want +got):\n%s", name, diff)
		}
	}
}

func TestConfig_CloneIsDeep(t *testing.T) {
	cfg := Default()
	cfg.Sources = []SourceConfig{{Name: "a", Kind: "datafile", Properties: map[string]string{"path": "x"}}}
	clone := cfg.Clone()
	clone.Sources[0].Properties["path"] = "y"
	assert.Equal(t, "x", cfg.Sources[0].Properties["path"])

	sc, ok := cfg.Source("a")
	assert.True(t, ok)
	assert.Equal(t, "datafile", sc.Kind)
	_, ok = cfg.Source("b")
	assert.False(t, ok)
}

func TestBuildSources(t *testing.T) {
	cfg := Default()
	cfg.Sources = []SourceConfig{
		{Name: "lgr", Kind: "lgrnet", Properties: map[string]string{"address": "loggernet.local", "port": "6790"}},
		{Name: "hourly", Kind: "datafile", Properties: map[string]string{"path": "/data/hourly.dat"}},
		{Name: "db", Kind: "database", Properties: map[string]string{"driver": "postgres", "dsn": "postgres://u@h/db"}},
	}

	sources, err := cfg.BuildSources(DefaultBuilders(), nil)
	require.NoError(t, err)
	require.Len(t, sources, 3)

	assert.Equal(t, access.KindLgrNet, sources[0].Kind())
	assert.Equal(t, uint16(6790), sources[0].(*lgrnet.Source).Settings().Port)
	assert.Equal(t, access.KindDataFile, sources[1].Kind())
	assert.Equal(t, "postgres", sources[2].(*database.Source).Driver())

	sc := SourceConfigOf(sources[2])
	assert.Equal(t, "db", sc.Name)
	assert.Equal(t, "database", sc.Kind)
	assert.Equal(t, "postgres://u@h/db", sc.Properties[database.PropDSN])
	assert.Equal(t, "2", sc.Properties[database.PropWorkers])
}

func TestBuildSources_InvalidProperties(t *testing.T) {
	cfg := Default()
	cfg.Sources = []SourceConfig{{Name: "db", Kind: "database"}}
	_, err := cfg.BuildSources(DefaultBuilders(), nil)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err) || errors.IsFatal(err))

	_, err = SourceConfig{Name: "x", Kind: "lgrnet"}.Build(Builders{}, nil)
	assert.Error(t, err, "kind without builder")
}

func TestSnapshot(t *testing.T) {
	loop := access.NewLoop()
	m := access.NewManager(loop)
	require.NoError(t, m.AddSource(database.NewWithDSN("db", database.DriverSQLite3, "file:a.db", nil)))

	cfg := Default()
	cfg.Sources = []SourceConfig{{Name: "stale", Kind: "datafile"}}
	snap := cfg.Snapshot(m)

	require.Len(t, snap.Sources, 1)
	assert.Equal(t, "db", snap.Sources[0].Name)
	assert.Equal(t, "file:a.db", snap.Sources[0].Properties[database.PropDSN])
	assert.Equal(t, "stale", cfg.Sources[0].Name, "snapshot leaves the original alone")
}

func TestConfig_TLS(t *testing.T) {
	dir := t.TempDir()
	caFile, _ := testutil.WriteCert(t, dir, "nats-ca")

	cfg, err := NewLoader().LoadFile(writeFile(t, "lgrkit.yaml", `
tls:
  server:
    enabled: false
  client:
    enabled: true
    min_version: "1.3"
    ca_files: [`+caFile+`]
`))
	require.NoError(t, err)
	assert.True(t, cfg.TLS.Client.Enabled)
	assert.Equal(t, []string{caFile}, cfg.TLS.Client.CAFiles)

	builders, err := cfg.Builders()
	require.NoError(t, err)
	assert.Len(t, builders, 3)

	clone := cfg.Clone()
	clone.TLS.Client.CAFiles[0] = "other.pem"
	assert.Equal(t, caFile, cfg.TLS.Client.CAFiles[0])

	cfg.TLS.Client.CAFiles = []string{filepath.Join(dir, "missing.pem")}
	_, err = cfg.Builders()
	assert.Error(t, err)

	_, err = NewLoader().LoadFile(writeFile(t, "lgrkit.yaml", "tls:\n  server:\n    enabled: true\n"))
	assert.Error(t, err, "server TLS needs a certificate")
}
