package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/ctcbeam/internal/testutil"
)

func newTestLoader(t *testing.T) *Loader {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	return NewLoaderWithViper(viper.New())
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := newTestLoader(t).Load()
	require.NoError(t, err)
	want := DefaultConfig()
	assert.Equal(t, want.Decoder.BeamWidth, cfg.Decoder.BeamWidth)
	assert.Equal(t, want.Decoder.TopK, cfg.Decoder.TopK)
	assert.Equal(t, want.Decoder.Method, cfg.Decoder.Method)
	assert.Empty(t, cfg.Decoder.Constraints)
	assert.Equal(t, want.Server, cfg.Server)
	assert.Equal(t, want.Batch.Include, cfg.Batch.Include)
	assert.Equal(t, want.GPU, cfg.GPU)
}

func TestLoad_FromSearchPath(t *testing.T) {
	loader := newTestLoader(t)
	yamlContent := `
log_level: debug
decoder:
  alphabet: "0123456789"
  beam_width: 25
  topk_paths: 3
  constraints: ["123", "", "0"]
server:
  port: 9090
`
	require.NoError(t, os.WriteFile("ctcbeam.yaml", []byte(yamlContent), 0o600))

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 25, cfg.Decoder.BeamWidth)
	assert.Equal(t, 3, cfg.Decoder.TopK)
	assert.Equal(t, []string{"123", "", "0"}, cfg.Decoder.Constraints)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host, "unset keys keep defaults")
	assert.Contains(t, loader.GetConfigFileUsed(), "ctcbeam.yaml")
}

func TestLoad_EnvOverrides(t *testing.T) {
	loader := newTestLoader(t)
	t.Setenv("CTCBEAM_DECODER_BEAM_WIDTH", "7")
	t.Setenv("CTCBEAM_OUTPUT_FORMAT", "json")
	t.Setenv("CTCBEAM_SERVER_PORT", "9191")

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Decoder.BeamWidth)
	assert.Equal(t, "json", cfg.Output.Format)
	assert.Equal(t, 9191, cfg.Server.Port)
}

func TestLoad_InvalidValue(t *testing.T) {
	loader := newTestLoader(t)
	t.Setenv("CTCBEAM_DECODER_TOPK_PATHS", "0")

	_, err := loader.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration validation failed")

	cfg, err := NewLoaderWithViper(viper.New()).LoadWithoutValidation()
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Decoder.TopK)
}

func TestLoadWithFile(t *testing.T) {
	loader := newTestLoader(t)
	path := testutil.WriteFile(t, t.TempDir(), "custom.yaml", "decoder:\n  method: greedy\n")

	cfg, err := loader.LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, MethodGreedy, cfg.Decoder.Method)

	_, err = NewLoaderWithViper(viper.New()).LoadWithFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")

	bad := testutil.WriteFile(t, t.TempDir(), "bad.yaml", "decoder: [unclosed\n")
	_, err = NewLoaderWithViper(viper.New()).LoadWithFileWithoutValidation(bad)
	assert.Error(t, err)
}

func TestLoaderAccessors(t *testing.T) {
	loader := newTestLoader(t)
	loader.Set("decoder.beam_width", 12)
	assert.Equal(t, 12, loader.Get("decoder.beam_width"))
	assert.NotNil(t, loader.GetViper())

	_, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 12, loader.Get("decoder.beam_width"))
}

func TestGenerateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, GenerateDefaultConfigFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var round Config
	require.NoError(t, yaml.Unmarshal(data, &round))
	want := DefaultConfig()
	assert.Equal(t, want.Server, round.Server)
	assert.Equal(t, want.Output, round.Output)
	assert.Equal(t, want.Decoder.TopK, round.Decoder.TopK)

	cfg, err := NewLoaderWithViper(viper.New()).LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, want.Decoder.BeamWidth, cfg.Decoder.BeamWidth)
	assert.Equal(t, want.Batch.Include, cfg.Batch.Include)
}

func TestGetConfigSearchPaths(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	paths := GetConfigSearchPaths()
	assert.Equal(t, ".", paths[0])
	assert.Contains(t, paths, filepath.Join("/xdg", "ctcbeam"))
	assert.Equal(t, "/etc/ctcbeam", paths[len(paths)-1])
}

func TestLoader_PrintConfigInfo(t *testing.T) {
	loader := newTestLoader(t)
	_, err := loader.Load()
	require.NoError(t, err)

	var buf bytes.Buffer
	loader.PrintConfigInfo(&buf)
	out := buf.String()
	assert.Contains(t, out, "Configuration file used: (none)")
	assert.Contains(t, out, "/etc/ctcbeam")
	assert.Contains(t, out, "Environment prefix: CTCBEAM_")
}
