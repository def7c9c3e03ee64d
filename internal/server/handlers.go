package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MeKo-Tech/ctcbeam/internal/beamsearch"
	"github.com/MeKo-Tech/ctcbeam/internal/config"
	"github.com/MeKo-Tech/ctcbeam/internal/pipeline"
	"github.com/MeKo-Tech/ctcbeam/internal/version"
)

var errBadRequest = errors.New("bad request")

var contentTypes = map[string]string{
	pipeline.FormatText: "text/plain; charset=utf-8",
	pipeline.FormatCSV:  "text/csv; charset=utf-8",
	pipeline.FormatYAML: "application/yaml",
}

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{
		Status:  "healthy",
		Version: version.Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	if s.pipeline != nil {
		response.Decoder = s.pipeline.Info()
	}
	s.writeJSON(w, http.StatusOK, response)
}

// alphabetHandler lists the decoder symbols in class order.
func (s *Server) alphabetHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	alphabet := s.pipeline.Alphabet()
	s.writeJSON(w, http.StatusOK, AlphabetResponse{
		Symbols:    alphabet,
		Size:       len(alphabet),
		BlankIndex: alphabet.Blank(),
	})
}

// decodeHandler decodes one probability matrix.
func (s *Server) decodeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	start := time.Now()

	var req DecodeRequest
	if err := s.readJSON(w, r, &req); err != nil {
		decodeRequestsTotal.WithLabelValues("single", "error").Inc()
		s.writeErrorResponse(w, err)
		return
	}
	overrides, err := req.overrides()
	if err != nil {
		decodeRequestsTotal.WithLabelValues("single", "error").Inc()
		s.writeErrorResponse(w, err)
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()
	res, err := s.pipeline.ProcessFrames(ctx, req.Probs, overrides)
	if err != nil {
		decodeRequestsTotal.WithLabelValues("single", "error").Inc()
		s.logger.Debug("Decode request failed", "error", err)
		s.writeErrorResponse(w, err)
		return
	}
	s.recordDecode("single", res, time.Since(start))

	if format := r.URL.Query().Get("format"); format != "" && format != pipeline.FormatJSON {
		s.writeFormatted(w, []*pipeline.Result{res}, format)
		return
	}

	response := DecodeResponse{
		Success:    true,
		Method:     res.Method,
		Processing: processingFor(res, start),
	}
	if len(res.Sequences) > 0 {
		response.Timesteps = res.Sequences[0].Timesteps
		response.Predictions = res.Sequences[0].Predictions
	}
	s.writeJSON(w, http.StatusOK, response)
}

// batchDecodeHandler decodes a batch of equally shaped probability matrices.
// The whole request fails when any example is malformed.
func (s *Server) batchDecodeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	start := time.Now()

	var req BatchDecodeRequest
	if err := s.readJSON(w, r, &req); err != nil {
		decodeRequestsTotal.WithLabelValues("batch", "error").Inc()
		s.writeErrorResponse(w, err)
		return
	}
	overrides, err := req.overrides()
	if err != nil {
		decodeRequestsTotal.WithLabelValues("batch", "error").Inc()
		s.writeErrorResponse(w, err)
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()
	res, err := s.pipeline.ProcessBatch(ctx, req.Probs, overrides)
	if err != nil {
		decodeRequestsTotal.WithLabelValues("batch", "error").Inc()
		s.logger.Debug("Batch decode request failed", "error", err, "examples", len(req.Probs))
		s.writeErrorResponse(w, err)
		return
	}
	s.recordDecode("batch", res, time.Since(start))

	if format := r.URL.Query().Get("format"); format != "" && format != pipeline.FormatJSON {
		s.writeFormatted(w, []*pipeline.Result{res}, format)
		return
	}
	s.writeJSON(w, http.StatusOK, batchResponseFor(res, start))
}

func batchResponseFor(res *pipeline.Result, start time.Time) BatchDecodeResponse {
	response := BatchDecodeResponse{
		Success:    true,
		Method:     res.Method,
		Results:    make([][]beamsearch.Prediction, len(res.Sequences)),
		Processing: processingFor(res, start),
	}
	for i, seq := range res.Sequences {
		response.Results[i] = seq.Predictions
		response.Summary.Sequences++
		response.Summary.Timesteps += seq.Timesteps
		response.Summary.Predictions += len(seq.Predictions)
	}
	return response
}

// overrides validates request options. Explicit zero or negative search
// parameters are rejected rather than falling back to the server defaults.
func (o DecodeOptions) overrides() (pipeline.Overrides, error) {
	out := pipeline.Overrides{
		Constraints:   o.Constraints,
		ConstraintSep: o.ConstraintSep,
		Method:        o.Method,
		Logits:        o.Logits,
	}
	if o.BeamWidth != nil {
		if *o.BeamWidth <= 0 {
			return out, fmt.Errorf("%w: got %d", beamsearch.ErrInvalidBeamWidth, *o.BeamWidth)
		}
		out.BeamWidth = *o.BeamWidth
	}
	if o.TopK != nil {
		if *o.TopK <= 0 {
			return out, fmt.Errorf("%w: got %d", beamsearch.ErrInvalidTopK, *o.TopK)
		}
		out.TopK = *o.TopK
	}
	if o.Method != "" && o.Method != config.MethodBeam && o.Method != config.MethodGreedy {
		return out, fmt.Errorf("%w: unknown method %q", beamsearch.ErrInvalidArgument, o.Method)
	}
	return out, nil
}

func processingFor(res *pipeline.Result, start time.Time) *Processing {
	return &Processing{
		DecodeTimeMs: float64(res.Processing.DecodeNs) / 1e6,
		TotalTimeMs:  float64(time.Since(start).Nanoseconds()) / 1e6,
	}
}

func (s *Server) recordDecode(kind string, res *pipeline.Result, d time.Duration) {
	decodeRequestsTotal.WithLabelValues(kind, "success").Inc()
	decodeDuration.WithLabelValues(kind).Observe(d.Seconds())
	decodeSequences.WithLabelValues(kind).Observe(float64(len(res.Sequences)))
	for _, seq := range res.Sequences {
		decodeTimesteps.WithLabelValues(kind).Observe(float64(seq.Timesteps))
	}
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.timeoutSec > 0 {
		return context.WithTimeout(r.Context(), time.Duration(s.timeoutSec)*time.Second)
	}
	return context.WithCancel(r.Context())
}

// readJSON decodes the request body into v, bounded by the upload limit.
func (s *Server) readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if s.maxUploadMB > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadMB<<20)
	}
	if r.ContentLength > 0 {
		requestBodyBytes.Observe(float64(r.ContentLength))
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %w", errBadRequest, err)
	}
	return nil
}

func statusForError(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errBadRequest), errors.Is(err, beamsearch.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeFormatted(w http.ResponseWriter, results []*pipeline.Result, format string) {
	out, err := pipeline.Format(results, format, pipeline.DefaultPrecision)
	if err != nil {
		s.writeErrorResponse(w, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}
	w.Header().Set("Content-Type", contentTypes[format])
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(out)); err != nil {
		s.logger.Error("Failed to write response", "error", err)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}

// writeErrorResponse writes {"success":false,"error":...} with a status
// derived from err.
func (s *Server) writeErrorResponse(w http.ResponseWriter, err error) {
	s.writeJSON(w, statusForError(err), ErrorResponse{Success: false, Error: err.Error()})
}
