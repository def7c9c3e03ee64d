package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/ctcbeam/internal/config"
	"github.com/MeKo-Tech/ctcbeam/internal/testutil"
)

// useFreshConfig makes the next command load its configuration from scratch
// and restores the global viper state afterwards.
func useFreshConfig(t *testing.T) {
	t.Helper()
	ResetConfig()
	t.Cleanup(ResetConfig)
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctcbeam.yaml")

	stdout, _, err := executeCommand(t, nil, "config", "init", path)
	require.NoError(t, err)
	assert.Equal(t, "Configuration written to "+path+"\n", stdout)

	loaded, err := config.NewLoaderWithViper(viper.New()).LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig().Decoder.BeamWidth, loaded.Decoder.BeamWidth)
	assert.Equal(t, config.DefaultConfig().Server.Port, loaded.Server.Port)
}

func TestConfigInit_ExistingFile(t *testing.T) {
	path := testutil.WriteFile(t, t.TempDir(), "ctcbeam.yaml", "decoder:\n  alphabet: AB\n")

	_, _, err := executeCommand(t, nil, "config", "init", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists (use --force to overwrite)")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "decoder:\n  alphabet: AB\n", string(data))

	_, _, err = executeCommand(t, nil, "config", "init", path, "--force")
	require.NoError(t, err)
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "beam_width")
}

func TestConfigShow(t *testing.T) {
	stdout, _, err := executeCommand(t, nil, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, stdout, "decoder:")
	assert.Contains(t, stdout, "beam_width: 10")
	assert.Contains(t, stdout, "topk_paths: 5")
}

func TestConfigShow_FromFile(t *testing.T) {
	useFreshConfig(t)
	path := testutil.WriteFile(t, t.TempDir(), "custom.yaml", "decoder:\n  alphabet: XYZ\n  beam_width: 3\n")

	stdout, _, err := executeCommand(t, nil, "config", "show", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "# loaded from "+path)
	assert.Contains(t, stdout, "alphabet: XYZ")
	assert.Contains(t, stdout, "beam_width: 3")
}

func TestDecodeCommand_ConfigFile(t *testing.T) {
	useFreshConfig(t)
	dir := t.TempDir()
	cfgPath := testutil.WriteFile(t, dir, "custom.yaml", "decoder:\n  alphabet: AB\n  topk_paths: 1\noutput:\n  precision: 2\n")
	probs := testutil.WriteFile(t, dir, "probs.json", twoStepProbsJSON)

	stdout, _, err := executeCommand(t, nil, "decode", probs, "--config", cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "1\t0.52\tA\n", stdout)
}

func TestConfigFile_Missing(t *testing.T) {
	useFreshConfig(t)

	_, _, err := executeCommand(t, nil, "config", "show", "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file does not exist")
}

func TestConfigPaths(t *testing.T) {
	stdout, _, err := executeCommand(t, nil, "config", "paths")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Environment prefix: CTCBEAM_")
	assert.Contains(t, stdout, "/etc/ctcbeam")
}

func TestConfigValidate(t *testing.T) {
	dir := t.TempDir()
	good := testutil.WriteFile(t, dir, "good.yaml", "decoder:\n  alphabet: AB\n  beam_width: 4\n")
	bad := testutil.WriteFile(t, dir, "bad.yaml", "decoder:\n  beam_width: 0\n")

	stdout, _, err := executeCommand(t, nil, "config", "validate", good)
	require.NoError(t, err)
	assert.Equal(t, "Configuration is valid ("+good+")\n", stdout)

	_, _, err = executeCommand(t, nil, "config", "validate", bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration: invalid decoder.beam_width: 0")

	_, _, err = executeCommand(t, nil, "config", "validate", filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file does not exist")
}
