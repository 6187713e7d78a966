package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupWritesStructuredLines(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger, err := Setup("trustclient", "test", Options{Level: "warn", Output: &buf})
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Warn("node blacklisted", "node", "0xabc")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	require.Equal(t, "WARN", line["severity"])
	require.Equal(t, "node blacklisted", line["message"])
	require.Equal(t, "trustclient", line["service"])
	require.Equal(t, "test", line["env"])
	require.Contains(t, line, "timestamp")
}

func TestSetupRejectsUnknownLevel(t *testing.T) {
	_, err := Setup("trustclient", "", Options{Level: "loud"})
	require.Error(t, err)
}

func TestFileOutputUsesRotatingWriter(t *testing.T) {
	w := writer(Options{File: filepath.Join(t.TempDir(), "client.log"), MaxSizeMB: 5})
	_, err := w.Write([]byte("line\n"))
	require.NoError(t, err)
}

func TestRedaction(t *testing.T) {
	require.Equal(t, RedactedValue, Secret("passphrase", "hunter2").Value.String())
	require.Equal(t, "", Secret("passphrase", "").Value.String())
	stripped := StripCredentials("postgres://app:pw@db:5432/cache")
	require.NotContains(t, stripped, ":pw@")
	require.Contains(t, stripped, "postgres://app:")
	require.Contains(t, stripped, "@db:5432/cache")
	require.Equal(t, "./cache", StripCredentials("./cache"))
}
