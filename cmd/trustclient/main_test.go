package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"trustclient/crypto"
)

func TestParseParams(t *testing.T) {
	got := parseParams([]string{"0x1b4", "true", `{"to":"0x01"}`, "latest", "12"})
	require.Equal(t, []any{"0x1b4", true, map[string]any{"to": "0x01"}, "latest", float64(12)}, got)
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "client.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestKeystoreNewWritesLoadableKey(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "signer.json")
	t.Setenv("TRUSTCLIENT_CMD_PASS", "pw")
	cfgPath := writeConfig(t, `
requestCount: 1
maxAttempts: 3
cache:
  backend: none
signer:
  keystore: `+keyPath+`
  passphraseEnv: TRUSTCLIENT_CMD_PASS
`)

	out, err := run(t, "--config", cfgPath, "keystore", "new")
	require.NoError(t, err, out)

	signer, err := crypto.OpenKeystore(keyPath, "pw")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, signer.Accounts()[0].Hex()))
}

func TestNodesListsPresetBootNodes(t *testing.T) {
	cfgPath := writeConfig(t, `
requestCount: 1
maxAttempts: 3
cache:
  backend: none
`)
	out, err := run(t, "--config", cfgPath, "--chain", "5", "nodes")
	require.NoError(t, err, out)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	require.Contains(t, lines[0], "ADDRESS")
	require.Contains(t, out, "https://in3-v2.slock.it/goerli/nd-1")
}

func TestUnknownChain(t *testing.T) {
	cfgPath := writeConfig(t, `
requestCount: 1
maxAttempts: 3
cache:
  backend: none
`)
	_, err := run(t, "--config", cfgPath, "--chain", "4242", "nodes")
	require.ErrorContains(t, err, "not configured")
}
