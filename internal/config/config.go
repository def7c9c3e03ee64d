//nolint:lll
package config

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/ctcbeam/internal/alphabet"
	"github.com/MeKo-Tech/ctcbeam/internal/beamsearch"
	"github.com/MeKo-Tech/ctcbeam/internal/onnx"
)

// Decoding methods.
const (
	MethodBeam   = "beam"
	MethodGreedy = "greedy"
)

// Config represents the complete configuration for ctcbeam.
// It includes settings for all commands (decode, batch, serve) and
// supports loading from configuration files, environment variables, and command-line flags.
type Config struct {
	// Global settings
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose  bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	Decoder DecoderConfig `mapstructure:"decoder" yaml:"decoder" json:"decoder"`
	Model   ModelConfig   `mapstructure:"model" yaml:"model" json:"model"`
	Output  OutputConfig  `mapstructure:"output" yaml:"output" json:"output"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server" json:"server"`
	Batch   BatchConfig   `mapstructure:"batch" yaml:"batch" json:"batch"`
	GPU     GPUConfig     `mapstructure:"gpu" yaml:"gpu" json:"gpu"`
}

// DecoderConfig contains alphabet and beam search settings.
type DecoderConfig struct {
	// AlphabetPath is a dictionary file; several files may be joined with commas.
	AlphabetPath string `mapstructure:"alphabet_path" yaml:"alphabet_path" json:"alphabet_path"`
	// Alphabet lists symbols inline, one per rune. Used when AlphabetPath is empty.
	Alphabet        string   `mapstructure:"alphabet" yaml:"alphabet" json:"alphabet"`
	SpaceSymbol     bool     `mapstructure:"space_symbol" yaml:"space_symbol" json:"space_symbol"`
	BeamWidth       int      `mapstructure:"beam_width" yaml:"beam_width" json:"beam_width"`
	TopK            int      `mapstructure:"topk_paths" yaml:"topk_paths" json:"topk_paths"`
	Constraints     []string `mapstructure:"constraints" yaml:"constraints" json:"constraints"`
	ConstraintsPath string   `mapstructure:"constraints_path" yaml:"constraints_path" json:"constraints_path"`
	ConstraintSep   string   `mapstructure:"constraint_sep" yaml:"constraint_sep" json:"constraint_sep"`
	Workers         int      `mapstructure:"workers" yaml:"workers" json:"workers"`
	Method          string   `mapstructure:"method" yaml:"method" json:"method"`
	Logits          bool     `mapstructure:"logits" yaml:"logits" json:"logits"`
	ClassesFirst    bool     `mapstructure:"classes_first" yaml:"classes_first" json:"classes_first"`
}

// ModelConfig contains optional ONNX model settings.
type ModelConfig struct {
	ModelPath   string `mapstructure:"model_path" yaml:"model_path" json:"model_path"`
	LibraryPath string `mapstructure:"library_path" yaml:"library_path" json:"library_path"`
	NumThreads  int    `mapstructure:"num_threads" yaml:"num_threads" json:"num_threads"`
}

// OutputConfig contains output formatting settings.
type OutputConfig struct {
	Format    string `mapstructure:"format" yaml:"format" json:"format"`
	File      string `mapstructure:"file" yaml:"file" json:"file"`
	Precision int    `mapstructure:"precision" yaml:"precision" json:"precision"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string `mapstructure:"host" yaml:"host" json:"host"`
	Port            int    `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// Rate limiting
	RateLimitEnabled  bool  `mapstructure:"rate_limit_enabled" yaml:"rate_limit_enabled" json:"rate_limit_enabled"`
	RequestsPerMinute int   `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requests_per_minute"`
	RequestsPerHour   int   `mapstructure:"requests_per_hour" yaml:"requests_per_hour" json:"requests_per_hour"`
	MaxRequestsPerDay int   `mapstructure:"max_requests_per_day" yaml:"max_requests_per_day" json:"max_requests_per_day"`
	MaxDataPerDay     int64 `mapstructure:"max_data_per_day" yaml:"max_data_per_day" json:"max_data_per_day"`
}

// BatchConfig contains settings for decoding many files.
type BatchConfig struct {
	Workers         int      `mapstructure:"workers" yaml:"workers" json:"workers"`
	Recursive       bool     `mapstructure:"recursive" yaml:"recursive" json:"recursive"`
	Include         []string `mapstructure:"include" yaml:"include" json:"include"`
	Exclude         []string `mapstructure:"exclude" yaml:"exclude" json:"exclude"`
	ContinueOnError bool     `mapstructure:"continue_on_error" yaml:"continue_on_error" json:"continue_on_error"`
}

// GPUConfig contains GPU acceleration settings for model inference.
type GPUConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Device      int    `mapstructure:"device" yaml:"device" json:"device"`
	MemoryLimit string `mapstructure:"memory_limit" yaml:"memory_limit" json:"memory_limit"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		Verbose:  false,
		Decoder: DecoderConfig{
			BeamWidth: beamsearch.DefaultBeamWidth,
			TopK:      beamsearch.DefaultTopK,
			Workers:   0,
			Method:    MethodBeam,
		},
		Model: ModelConfig{
			NumThreads: 0,
		},
		Output: OutputConfig{
			Format:    "text",
			Precision: 4,
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxUploadMB:     50,
			TimeoutSec:      30,
			ShutdownTimeout: 10,

			RateLimitEnabled:  false,
			RequestsPerMinute: 60,
			RequestsPerHour:   1000,
			MaxRequestsPerDay: 5000,
			MaxDataPerDay:     100 * 1024 * 1024,
		},
		Batch: BatchConfig{
			Workers:         4,
			Include:         []string{"*.json", "*.yaml", "*.yml", "*.csv"},
			ContinueOnError: false,
		},
		GPU: GPUConfig{
			Enabled:     false,
			Device:      0,
			MemoryLimit: "auto",
		},
	}
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	validFormats := []string{"text", "json", "csv", "yaml"}
	if c.Output.Format != "" && !slices.Contains(validFormats, c.Output.Format) {
		return fmt.Errorf("invalid output format: %s (must be one of: %s)", c.Output.Format, strings.Join(validFormats, ", "))
	}
	if c.Output.Precision < 0 || c.Output.Precision > 17 {
		return fmt.Errorf("invalid output precision: %d (must be between 0 and 17)", c.Output.Precision)
	}

	if err := c.Decoder.Validate(); err != nil {
		return err
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}
	if c.Server.RateLimitEnabled && (c.Server.RequestsPerMinute <= 0 || c.Server.RequestsPerHour <= 0) {
		return errors.New("rate limiting requires positive requests_per_minute and requests_per_hour")
	}
	if c.Batch.Workers <= 0 {
		return fmt.Errorf("invalid batch workers: %d (must be positive)", c.Batch.Workers)
	}
	if c.Model.NumThreads < 0 {
		return fmt.Errorf("invalid model num_threads: %d (must not be negative)", c.Model.NumThreads)
	}

	if _, err := parseMemoryLimit(c.GPU.MemoryLimit); err != nil {
		return fmt.Errorf("invalid GPU memory limit: %w", err)
	}
	return nil
}

// Validate checks the decoder section.
func (d *DecoderConfig) Validate() error {
	if d.BeamWidth <= 0 {
		return fmt.Errorf("invalid decoder.beam_width: %d (must be positive)", d.BeamWidth)
	}
	if d.TopK <= 0 {
		return fmt.Errorf("invalid decoder.topk_paths: %d (must be positive)", d.TopK)
	}
	if d.Workers < 0 {
		return fmt.Errorf("invalid decoder.workers: %d (must not be negative)", d.Workers)
	}
	if d.Method != MethodBeam && d.Method != MethodGreedy {
		return fmt.Errorf("invalid decoder.method: %s (must be one of: %s, %s)", d.Method, MethodBeam, MethodGreedy)
	}
	if len(d.Constraints) > 0 && d.ConstraintsPath != "" {
		return errors.New("decoder.constraints and decoder.constraints_path are mutually exclusive")
	}
	return nil
}

// LoadCharset resolves the configured alphabet.
func (d *DecoderConfig) LoadCharset() (*alphabet.Charset, error) {
	var (
		cs  *alphabet.Charset
		err error
	)
	switch {
	case d.AlphabetPath != "":
		paths := strings.Split(d.AlphabetPath, ",")
		for i := range paths {
			paths[i] = strings.TrimSpace(paths[i])
		}
		if len(paths) == 1 {
			cs, err = alphabet.Load(paths[0])
		} else {
			cs, err = alphabet.LoadMerged(paths)
		}
	case d.Alphabet != "":
		cs, err = alphabet.FromString(d.Alphabet)
	default:
		return nil, errors.New("no alphabet configured (set decoder.alphabet_path or decoder.alphabet)")
	}
	if err != nil {
		return nil, err
	}
	if d.SpaceSymbol {
		cs = cs.WithSpace()
	}
	return cs, nil
}

// ResolveConstraints turns the configured constraint entries into decoder constraints.
func (d *DecoderConfig) ResolveConstraints(cs *alphabet.Charset) (beamsearch.Constraints, error) {
	entries := d.Constraints
	if d.ConstraintsPath != "" {
		var err error
		entries, err = alphabet.LoadConstraints(d.ConstraintsPath)
		if err != nil {
			return nil, err
		}
	}
	return cs.Constraints(entries, d.ConstraintSep)
}

// NewDecoder builds a beam search decoder for the configured alphabet and constraints.
func (d *DecoderConfig) NewDecoder(opts ...beamsearch.Option) (*beamsearch.Decoder, *alphabet.Charset, error) {
	cs, err := d.LoadCharset()
	if err != nil {
		return nil, nil, err
	}
	constraints, err := d.ResolveConstraints(cs)
	if err != nil {
		return nil, nil, err
	}
	all := append([]beamsearch.Option{
		beamsearch.WithBeamWidth(d.BeamWidth),
		beamsearch.WithTopK(d.TopK),
		beamsearch.WithConstraints(constraints),
		beamsearch.WithWorkers(d.Workers),
	}, opts...)
	dec, err := beamsearch.New(cs.Alphabet(), all...)
	if err != nil {
		return nil, nil, err
	}
	return dec, cs, nil
}

// ToONNXConfig converts the model and GPU sections to an onnx session configuration.
func (c *Config) ToONNXConfig() onnx.Config {
	cfg := onnx.DefaultConfig()
	cfg.ModelPath = c.Model.ModelPath
	cfg.LibraryPath = c.Model.LibraryPath
	cfg.NumThreads = c.Model.NumThreads
	cfg.GPU.UseGPU = c.GPU.Enabled
	cfg.GPU.DeviceID = c.GPU.Device
	if limit, err := parseMemoryLimit(c.GPU.MemoryLimit); err == nil {
		cfg.GPU.GPUMemLimit = limit
	}
	return cfg
}

// parseMemoryLimit parses "auto", "" or sizes like "512MB" and "1.5GB" into bytes; 0 means unlimited.
func parseMemoryLimit(limit string) (uint64, error) {
	if limit == "" || limit == "auto" {
		return 0, nil
	}
	upper := strings.ToUpper(strings.TrimSpace(limit))
	units := []struct {
		suffix string
		scale  float64
	}{
		{"GB", 1 << 30},
		{"MB", 1 << 20},
		{"KB", 1 << 10},
		{"B", 1},
	}
	for _, u := range units {
		if !strings.HasSuffix(upper, u.suffix) {
			continue
		}
		n, err := strconv.ParseFloat(strings.TrimSuffix(upper, u.suffix), 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid number in memory limit: %s", limit)
		}
		return uint64(n * u.scale), nil
	}
	return 0, fmt.Errorf("memory limit must end with one of: B, KB, MB, GB (got %s)", limit)
}
