package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, endpoint string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := strings.ReplaceAll(`
throttle:
  cooldown: 0s
targets:
  - name: primary
    kind: gemini
    model: tutor-model
    endpoint: ENDPOINT
    api_key: test-key
`, "ENDPOINT", endpoint)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, newCmd func(*cliEnv) *cobra.Command, configPath string, args ...string) (string, error) {
	t.Helper()
	verbose := false
	cmd := newCmd(&cliEnv{configPath: &configPath, verbose: &verbose})

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestConfigCheck(t *testing.T) {
	out, err := run(t, newConfigCmd, writeConfig(t, "http://127.0.0.1:1"), "check")
	require.NoError(t, err)
	assert.Contains(t, out, "primary")
	assert.Contains(t, out, "tutor-model")
	assert.Contains(t, out, "OK")
}

func TestAsk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"Divide both sides by 2."}]}}]}`))
	}))
	defer srv.Close()

	out, err := run(t, newAskCmd, writeConfig(t, srv.URL), "Solve", "2x", "=", "8")
	require.NoError(t, err)
	assert.Equal(t, "Divide both sides by 2.\n", out)
}

func TestAsk_ImageModeNeedsOut(t *testing.T) {
	_, err := run(t, newAskCmd, writeConfig(t, "http://127.0.0.1:1"), "--mode", "image", "draw a triangle")
	assert.ErrorContains(t, err, "--out")
}
