package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/lgraccess/record"
	"github.com/c360/lgraccess/testutil"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// writeConfig writes a TOA5 file with five rows and a config naming it as
// source db1
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	data := filepath.Join(dir, "hourly.dat")
	rows := testutil.Rows(1, 5, t0, time.Minute)
	require.NoError(t, os.WriteFile(data, []byte(testutil.TOA5("stn", "Hourly", rows...)), 0o644))

	cfg := `log:
  level: debug
  format: text
metrics:
  enabled: false
websocket:
  enabled: false
sources:
  - name: db1
    kind: datafile
    properties:
      path: ` + data + `
`
	path := filepath.Join(dir, "lgrkit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := NewRootCommand(strings.NewReader(""), &stdout, &stderr)
	cmd.SetArgs(args)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

func envelopes(t *testing.T, out string) []record.Envelope {
	t.Helper()
	var envs []record.Envelope
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		var env record.Envelope
		require.NoError(t, json.Unmarshal(sc.Bytes(), &env), sc.Text())
		envs = append(envs, env)
	}
	return envs
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("LGRKIT_TEST_STRING", "value")
	t.Setenv("LGRKIT_TEST_BOOL", "true")
	t.Setenv("LGRKIT_TEST_INT", "42")
	t.Setenv("LGRKIT_TEST_DURATION", "3s")
	t.Setenv("LGRKIT_TEST_BAD", "not-a-number")

	assert.Equal(t, "value", getEnv("LGRKIT_TEST_STRING", "default"))
	assert.Equal(t, "default", getEnv("LGRKIT_TEST_UNSET", "default"))
	assert.True(t, getEnvBool("LGRKIT_TEST_BOOL", false))
	assert.False(t, getEnvBool("LGRKIT_TEST_BAD", false))
	assert.Equal(t, 42, getEnvInt("LGRKIT_TEST_INT", 0))
	assert.Equal(t, 7, getEnvInt("LGRKIT_TEST_BAD", 7))
	assert.Equal(t, 3*time.Second, getEnvDuration("LGRKIT_TEST_DURATION", time.Second))
	assert.Equal(t, time.Second, getEnvDuration("LGRKIT_TEST_BAD", time.Second))
}

func TestValidateFlags(t *testing.T) {
	valid := CLIConfig{ShutdownTimeout: time.Second}
	require.NoError(t, validateFlags(&valid))

	debug := CLIConfig{Debug: true, LogLevel: "error", ShutdownTimeout: time.Second}
	require.NoError(t, validateFlags(&debug))
	assert.Equal(t, "debug", debug.LogLevel)

	cases := map[string]CLIConfig{
		"level":   {LogLevel: "loud", ShutdownTimeout: time.Second},
		"format":  {LogFormat: "xml", ShutdownTimeout: time.Second},
		"timeout": {},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, validateFlags(&c))
		})
	}
}

func TestSetupLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(&buf, "warn", "json")
	logger.Info("hidden")
	logger.Warn("shown", "key", "v")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "shown", entry["msg"])
	assert.Equal(t, appName, entry["service"])
	assert.Equal(t, Version, entry["version"])
}

func TestValidateCommand(t *testing.T) {
	path := writeConfig(t)
	out, _, err := execute(t, "--config", path, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "1 sources")

	_, _, err = execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "validate")
	assert.Error(t, err)
}

func TestQueryCommand_AtRecordWithLimit(t *testing.T) {
	path := writeConfig(t)
	out, _, err := execute(t, "--config", path, "query", "db1:Hourly",
		"--start", "at-record", "--record", "2", "--limit", "2", "--timeout", "20s")
	require.NoError(t, err)

	envs := envelopes(t, out)
	require.Len(t, envs, 2)
	assert.Equal(t, uint32(2), envs[0].RecordNo)
	assert.Equal(t, uint32(3), envs[1].RecordNo)
	assert.Equal(t, "db1:Hourly", envs[0].URI)
	assert.Equal(t, "Hourly", envs[0].Table)
	assert.True(t, envs[0].Stamp.Equal(t0.Add(time.Minute)))
}

func TestQueryCommand_DateQueryEndsWhenSatisfied(t *testing.T) {
	path := writeConfig(t)
	out, _, err := execute(t, "--config", path, "query", "db1:Hourly.RH",
		"--start", "date-query",
		"--begin", t0.Add(90*time.Second).Format(time.RFC3339),
		"--end", t0.Add(210*time.Second).Format(time.RFC3339),
		"--timeout", "20s")
	require.NoError(t, err)

	envs := envelopes(t, out)
	require.Len(t, envs, 2)
	assert.Equal(t, uint32(3), envs[0].RecordNo)
	assert.Equal(t, uint32(4), envs[1].RecordNo)
	require.Len(t, envs[0].Fields, 1)
	assert.Equal(t, "RH", envs[0].Fields[0].Name)
}

func TestQueryCommand_WritesOutFile(t *testing.T) {
	path := writeConfig(t)
	outPath := filepath.Join(t.TempDir(), "out.jsonl")
	out, _, err := execute(t, "--config", path, "query", "db1:Hourly",
		"--start", "at-offset-from-newest", "--offset", "2", "--limit", "2",
		"--out", outPath, "--timeout", "20s")
	require.NoError(t, err)
	assert.Empty(t, out)

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	envs := envelopes(t, string(data))
	require.Len(t, envs, 2)
	assert.Equal(t, uint32(4), envs[0].RecordNo)
	assert.Equal(t, uint32(5), envs[1].RecordNo)
}

func TestQueryCommand_FailsOnUnknownTable(t *testing.T) {
	path := writeConfig(t)
	_, _, err := execute(t, "--config", path, "query", "db1:Daily", "--timeout", "20s")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_table_name")
}

func TestQueryCommand_RejectsBadStartOption(t *testing.T) {
	path := writeConfig(t)
	_, _, err := execute(t, "--config", path, "query", "db1:Hourly", "--start", "at-time")
	assert.Error(t, err)

	_, _, err = execute(t, "--config", path, "query", "db1:Hourly", "--order", "sideways")
	assert.Error(t, err)
}

func TestSymbolsCommand(t *testing.T) {
	path := writeConfig(t)
	out, _, err := execute(t, "--config", path, "symbols", "db1:Hourly.Temp", "--range", "--timeout", "20s")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "datafile_source\tdb1", lines[0])
	assert.Equal(t, "table\tHourly", lines[1])
	assert.Equal(t, "array\tTemp", lines[2])
	assert.True(t, strings.HasPrefix(lines[3], "begin\t"), lines[3])
	assert.Contains(t, lines[3], "\t1\t")
	assert.True(t, strings.HasPrefix(lines[4], "end\t"), lines[4])
	assert.Contains(t, lines[4], "\t5\t")
}

func TestBrowseCommand_JSON(t *testing.T) {
	path := writeConfig(t)
	out, _, err := execute(t, "--config", path, "browse", "--json", "--timeout", "20s")
	require.NoError(t, err)

	var trees []treeNode
	require.NoError(t, json.Unmarshal([]byte(out), &trees))
	require.Len(t, trees, 1)
	root := trees[0]
	assert.Equal(t, "db1", root.Name)
	assert.True(t, root.Connected)
	require.Len(t, root.Children, 1)
	table := root.Children[0]
	assert.Equal(t, "Hourly", table.Name)
	require.Len(t, table.Children, 3)
	assert.Equal(t, "Temp", table.Children[1].Name)
	assert.Equal(t, "Deg C", table.Children[1].Units)
	assert.Equal(t, "db1:Hourly.Temp", table.Children[1].URI)
}

func TestBrowseCommand_UnknownSource(t *testing.T) {
	path := writeConfig(t)
	_, _, err := execute(t, "--config", path, "browse", "nope")
	assert.Error(t, err)
}

func TestClockCommand_UnsupportedOnDataFile(t *testing.T) {
	path := writeConfig(t)
	_, _, err := execute(t, "--config", path, "clock", "db1:stn", "--timeout", "20s")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot check clocks")
}
