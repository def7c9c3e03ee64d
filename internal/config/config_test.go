package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/ctcbeam/internal/beamsearch"
	"github.com/MeKo-Tech/ctcbeam/internal/testutil"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, beamsearch.DefaultBeamWidth, cfg.Decoder.BeamWidth)
	assert.Equal(t, beamsearch.DefaultTopK, cfg.Decoder.TopK)
	assert.Equal(t, MethodBeam, cfg.Decoder.Method)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "log level", mutate: func(c *Config) { c.LogLevel = "trace" }, wantErr: "invalid log level"},
		{name: "format", mutate: func(c *Config) { c.Output.Format = "xml" }, wantErr: "invalid output format"},
		{name: "precision", mutate: func(c *Config) { c.Output.Precision = -1 }, wantErr: "invalid output precision"},
		{name: "beam width", mutate: func(c *Config) { c.Decoder.BeamWidth = 0 }, wantErr: "decoder.beam_width"},
		{name: "topk", mutate: func(c *Config) { c.Decoder.TopK = 0 }, wantErr: "decoder.topk_paths"},
		{name: "workers", mutate: func(c *Config) { c.Decoder.Workers = -1 }, wantErr: "decoder.workers"},
		{name: "method", mutate: func(c *Config) { c.Decoder.Method = "viterbi" }, wantErr: "decoder.method"},
		{name: "constraints twice", mutate: func(c *Config) {
			c.Decoder.Constraints = []string{"1"}
			c.Decoder.ConstraintsPath = "f.txt"
		}, wantErr: "mutually exclusive"},
		{name: "port", mutate: func(c *Config) { c.Server.Port = 70000 }, wantErr: "invalid server port"},
		{name: "upload", mutate: func(c *Config) { c.Server.MaxUploadMB = 0 }, wantErr: "max upload"},
		{name: "timeout", mutate: func(c *Config) { c.Server.TimeoutSec = 0 }, wantErr: "invalid timeout"},
		{name: "batch workers", mutate: func(c *Config) { c.Batch.Workers = 0 }, wantErr: "batch workers"},
		{name: "threads", mutate: func(c *Config) { c.Model.NumThreads = -2 }, wantErr: "num_threads"},
		{name: "gpu memory", mutate: func(c *Config) { c.GPU.MemoryLimit = "lots" }, wantErr: "GPU memory limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseMemoryLimit(t *testing.T) {
	tests := map[string]uint64{
		"":      0,
		"auto":  0,
		"512MB": 512 << 20,
		"1gb":   1 << 30,
		"2KB":   2048,
		"100B":  100,
	}
	for in, want := range tests {
		got, err := parseMemoryLimit(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"12", "xMB", "-1GB"} {
		_, err := parseMemoryLimit(bad)
		assert.Error(t, err, bad)
	}
}

func TestDecoderConfig_LoadCharset(t *testing.T) {
	dir := t.TempDir()
	p1 := testutil.WriteFile(t, dir, "a.txt", "a\nb\n")
	p2 := testutil.WriteFile(t, dir, "b.txt", "b\nc\n")

	d := DefaultConfig().Decoder
	_, err := d.LoadCharset()
	require.Error(t, err)

	d.Alphabet = "xyz"
	cs, err := d.LoadCharset()
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y", "z"}, cs.Tokens)

	d.AlphabetPath = p1
	cs, err = d.LoadCharset()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, cs.Tokens)

	d.AlphabetPath = p1 + ", " + p2
	d.SpaceSymbol = true
	cs, err = d.LoadCharset()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", " "}, cs.Tokens)
}

func TestDecoderConfig_NewDecoder(t *testing.T) {
	d := DefaultConfig().Decoder
	d.Alphabet = "AB12"
	d.BeamWidth = 3
	d.TopK = 2
	d.Constraints = []string{"12"}

	dec, cs, err := d.NewDecoder()
	require.NoError(t, err)
	assert.Equal(t, 4, cs.Size())
	assert.Equal(t, 3, dec.BeamWidth())
	assert.Equal(t, 2, dec.TopK())

	preds, err := dec.Decode([][]float32{{0.9, 0.05, 0.02, 0.01, 0.02}})
	require.NoError(t, err)
	for _, p := range preds {
		assert.False(t, strings.ContainsAny(p.Text, "AB"), p.Text)
	}

	d.Constraints = []string{"Z"}
	_, _, err = d.NewDecoder()
	assert.ErrorIs(t, err, beamsearch.ErrUnknownConstraintSymbol)
}

func TestDecoderConfig_ConstraintsFile(t *testing.T) {
	path := testutil.WriteFile(t, t.TempDir(), "format.txt", "A|B\n\n1\n")
	d := DefaultConfig().Decoder
	d.Alphabet = "AB1"
	d.ConstraintsPath = path
	d.ConstraintSep = "|"

	cs, err := d.LoadCharset()
	require.NoError(t, err)
	got, err := d.ResolveConstraints(cs)
	require.NoError(t, err)
	assert.Equal(t, beamsearch.Constraints{{"A", "B"}, nil, {"1"}}, got)
}

func TestToONNXConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Model.ModelPath = "m.onnx"
	cfg.Model.NumThreads = 2
	cfg.GPU.Enabled = true
	cfg.GPU.Device = 1
	cfg.GPU.MemoryLimit = "1GB"

	oc := cfg.ToONNXConfig()
	assert.Equal(t, "m.onnx", oc.ModelPath)
	assert.Equal(t, 2, oc.NumThreads)
	assert.True(t, oc.GPU.UseGPU)
	assert.Equal(t, 1, oc.GPU.DeviceID)
	assert.Equal(t, uint64(1<<30), oc.GPU.GPUMemLimit)
}
