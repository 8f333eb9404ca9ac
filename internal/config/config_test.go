package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8642, cfg.Port)
	assert.Equal(t, "127.0.0.1", cfg.Hostname)
	assert.Equal(t, 3000, cfg.BridgeTimeoutMS)
	assert.Equal(t, 3*time.Second, cfg.BridgeTimeout())
	assert.True(t, cfg.OpenBrowser)
	assert.NotEmpty(t, cfg.SurfaceDir)
}

func TestLoad_NoFiles(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 8642, cfg.Port)
}

func TestLoad_JSONCFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()

	content := `{
	// listen somewhere else
	"port": 9000,
	"openBrowser": false
}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "poptoggle.jsonc"), []byte(content), 0644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.False(t, cfg.OpenBrowser)
	assert.Equal(t, "127.0.0.1", cfg.Hostname, "unset fields keep defaults")
}

func TestLoad_YAMLFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()

	content := "port: 9100\nhostname: 0.0.0.0\nbridgeTimeoutMs: 500\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "poptoggle.yaml"), []byte(content), 0644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "0.0.0.0", cfg.Hostname)
	assert.Equal(t, 500*time.Millisecond, cfg.BridgeTimeout())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "poptoggle.json"), []byte(`{"port": 9000}`), 0644))
	t.Setenv("POPTOGGLE_PORT", "9200")
	t.Setenv("POPTOGGLE_SURFACE_DIR", "/tmp/surfaces")
	t.Setenv("POPTOGGLE_OPEN_BROWSER", "false")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 9200, cfg.Port)
	assert.Equal(t, "/tmp/surfaces", cfg.SurfaceDir)
	assert.False(t, cfg.OpenBrowser)
}

func TestLoad_InvalidPort(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "poptoggle.json"), []byte(`{"port": 99999}`), 0644))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestLoad_MalformedFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "poptoggle.json"), []byte(`{not json`), 0644))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestIsTruthy(t *testing.T) {
	for _, v := range []string{"1", "true", "TRUE", "yes", "on", " true "} {
		assert.True(t, isTruthy(v), "isTruthy(%q)", v)
	}
	for _, v := range []string{"", "0", "false", "no", "off", "maybe"} {
		assert.False(t, isTruthy(v), "isTruthy(%q)", v)
	}
}
