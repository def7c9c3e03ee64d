package cmd

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/ctcbeam/internal/testutil"
)

func writeBatchDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	testutil.WriteFile(t, dir, "a.json", twoStepProbsJSON)
	testutil.WriteFile(t, dir, "b.csv", "0.1,0.8,0.1\n")
	testutil.WriteFile(t, dir, "notes.txt", "not a tensor")
	return dir
}

func TestBatchCommand_Directory(t *testing.T) {
	dir := writeBatchDir(t)

	stdout, stderr, err := executeCommand(t, nil, "batch", dir, "--symbols", "AB", "--topk", "1")
	require.NoError(t, err)
	assert.Contains(t, stderr, "Processing 1 inputs...")
	assert.Contains(t, stdout, "# "+filepath.Join(dir, "a.json")+"\n1\t0.5200\tA\n")
	assert.Contains(t, stdout, "# "+filepath.Join(dir, "b.csv")+"\n1\t0.8000\tB\n")
	assert.NotContains(t, stdout, "notes.txt")
}

func TestBatchCommand_CSVAndStats(t *testing.T) {
	dir := writeBatchDir(t)

	stdout, stderr, err := executeCommand(t, nil, "batch", dir, "--symbols", "AB", "--topk", "1",
		"--format", "csv", "--stats", "--workers", "2")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "source,sequence,rank,text,probability,label,error", lines[0])
	assert.Contains(t, stderr, "Processing Statistics:")
	assert.Contains(t, stderr, "Total files: 2")
	assert.Contains(t, stderr, "Workers: 2")
}

func TestBatchCommand_Exclude(t *testing.T) {
	dir := writeBatchDir(t)

	stdout, _, err := executeCommand(t, nil, "batch", dir, "--symbols", "AB", "--topk", "2", "--exclude", "*.csv", "--quiet")
	require.NoError(t, err)
	assert.Equal(t, "1\t0.5200\tA\n2\t0.4800\t\n", stdout)
}

func TestBatchCommand_ContinueOnError(t *testing.T) {
	dir := writeBatchDir(t)
	testutil.WriteFile(t, dir, "bad.json", `[[0.5, 0.5]]`)

	_, _, err := executeCommand(t, nil, "batch", dir, "--symbols", "AB", "--quiet")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch processing failed")

	stdout, _, err := executeCommand(t, nil, "batch", dir, "--symbols", "AB", "--quiet", "--continue-on-error")
	require.NoError(t, err)
	assert.Contains(t, stdout, "# "+filepath.Join(dir, "bad.json")+"\nerror: ")
	assert.Contains(t, stdout, "wrong length")
}

func TestBatchCommand_NoFiles(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFile(t, dir, "notes.txt", "nothing to decode")

	_, _, err := executeCommand(t, nil, "batch", dir, "--symbols", "AB")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no probability files found")
}

func TestConfigToBatchConfig(t *testing.T) {
	useFreshConfig(t)
	batchCmd := newBatchCommand()
	require.NoError(t, batchCmd.ParseFlags([]string{"--workers", "3", "--format", "json", "--beam-width", "7"}))

	cfg := GetConfig()
	bc := configToBatchConfig(cfg, batchCmd)
	assert.Equal(t, 3, bc.Workers)
	assert.Equal(t, "json", bc.Format)
	assert.Equal(t, 7, bc.Decoder.BeamWidth)
	assert.Equal(t, cfg.Output.Precision, bc.Precision)
	assert.Equal(t, cfg.Decoder.TopK, bc.Decoder.TopK)
}
