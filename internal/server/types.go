package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/MeKo-Tech/ctcbeam/internal/beamsearch"
	"github.com/MeKo-Tech/ctcbeam/internal/config"
	"github.com/MeKo-Tech/ctcbeam/internal/onnx"
	"github.com/MeKo-Tech/ctcbeam/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// pipelineInterface defines the methods needed by the server from a pipeline.
type pipelineInterface interface {
	ProcessFrames(ctx context.Context, frames [][]float32, o pipeline.Overrides) (*pipeline.Result, error)
	ProcessBatch(ctx context.Context, batch [][][]float32, o pipeline.Overrides) (*pipeline.Result, error)
	Alphabet() beamsearch.Alphabet
	Info() map[string]any
	Close() error
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	pipeline    pipelineInterface
	corsOrigin  string
	maxUploadMB int64
	timeoutSec  int
	rateLimiter *RateLimiter
	logger      *slog.Logger
}

// RateLimitConfig holds per-client limits. Zero limits are not enforced.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	RequestsPerHour   int
	MaxRequestsPerDay int
	MaxDataPerDay     int64
}

// Config holds server configuration.
type Config struct {
	Host        string
	Port        int
	CORSOrigin  string
	MaxUploadMB int64
	TimeoutSec  int
	Decoder     config.DecoderConfig
	Model       onnx.Config
	RateLimit   RateLimitConfig
	Logger      *slog.Logger
}

// Response types for API endpoints.
type HealthResponse struct {
	Status  string         `json:"status"`
	Version string         `json:"version,omitempty"`
	Time    string         `json:"time"`
	Decoder map[string]any `json:"decoder,omitempty"`
}

type AlphabetResponse struct {
	Symbols    []string `json:"symbols"`
	Size       int      `json:"size"`
	BlankIndex int      `json:"blank_index"`
}

// DecodeOptions are the per-request decoder settings shared by the JSON and
// WebSocket APIs. Pointer fields distinguish "not set" from an explicit zero.
type DecodeOptions struct {
	BeamWidth     *int     `json:"beam_width,omitempty"`
	TopK          *int     `json:"topk_paths,omitempty"`
	Constraints   []string `json:"constraints,omitempty"`
	ConstraintSep string   `json:"constraint_sep,omitempty"`
	Method        string   `json:"method,omitempty"`
	Logits        bool     `json:"logits,omitempty"`
}

// DecodeRequest carries a single [T][A+1] probability matrix.
type DecodeRequest struct {
	Probs [][]float32 `json:"probs"`
	DecodeOptions
}

// BatchDecodeRequest carries a [N][T][A+1] probability batch.
type BatchDecodeRequest struct {
	Probs [][][]float32 `json:"probs"`
	DecodeOptions
}

type Processing struct {
	DecodeTimeMs float64 `json:"decode_time_ms"`
	TotalTimeMs  float64 `json:"total_time_ms"`
}

type DecodeResponse struct {
	Success     bool                    `json:"success"`
	Method      string                  `json:"method,omitempty"`
	Timesteps   int                     `json:"timesteps"`
	Predictions []beamsearch.Prediction `json:"predictions,omitempty"`
	Processing  *Processing             `json:"processing,omitempty"`
	Error       string                  `json:"error,omitempty"`
}

type BatchDecodeResponse struct {
	Success    bool                      `json:"success"`
	Method     string                    `json:"method,omitempty"`
	Results    [][]beamsearch.Prediction `json:"results"`
	Summary    BatchSummary              `json:"summary"`
	Processing *Processing               `json:"processing,omitempty"`
	Error      string                    `json:"error,omitempty"`
}

type BatchSummary struct {
	Sequences   int `json:"sequences"`
	Timesteps   int `json:"timesteps"`
	Predictions int `json:"predictions"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// NewServer creates a new decode server instance.
func NewServer(cfg Config) (*Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pl, err := pipeline.NewBuilder().
		WithDecoderConfig(cfg.Decoder).
		WithModel(cfg.Model).
		WithLogger(logger).
		Build()
	if err != nil {
		return nil, err
	}
	return newServerWithPipeline(cfg, pl), nil
}

func newServerWithPipeline(cfg Config, pl pipelineInterface) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		pipeline:    pl,
		corsOrigin:  cfg.CORSOrigin,
		maxUploadMB: cfg.MaxUploadMB,
		timeoutSec:  cfg.TimeoutSec,
		logger:      logger,
	}
	if s.corsOrigin == "" {
		s.corsOrigin = "*"
	}
	if cfg.RateLimit.Enabled {
		s.rateLimiter = NewRateLimiter(cfg.RateLimit)
	}
	return s
}

// Close releases server resources.
func (s *Server) Close() error {
	if s.pipeline != nil {
		return s.pipeline.Close()
	}
	return nil
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("/alphabet", s.corsMiddleware(s.alphabetHandler))
	mux.HandleFunc("/decode", s.corsMiddleware(s.rateLimitMiddleware(s.decodeHandler)))
	mux.HandleFunc("/decode/batch", s.corsMiddleware(s.rateLimitMiddleware(s.batchDecodeHandler)))
	mux.HandleFunc("/ws", s.rateLimitMiddleware(s.decodeWebSocketHandler))
	mux.Handle("/metrics", promhttp.Handler())
}
