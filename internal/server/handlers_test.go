package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MeKo-Tech/ctcbeam/internal/beamsearch"
	"github.com/MeKo-Tech/ctcbeam/internal/config"
	"github.com/MeKo-Tech/ctcbeam/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoStepProbs = `[[0.2, 0.0, 0.8], [0.4, 0.0, 0.6]]`

func testDecoderConfig() config.DecoderConfig {
	d := config.DefaultConfig().Decoder
	d.Alphabet = "AB"
	d.BeamWidth = 5
	d.TopK = 2
	return d
}

func newTestServer(t *testing.T, mutate ...func(*Config)) *Server {
	t.Helper()
	cfg := Config{
		CORSOrigin:  "*",
		MaxUploadMB: 1,
		TimeoutSec:  30,
		Decoder:     testDecoderConfig(),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	s, err := NewServer(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestMux(s *Server) *http.ServeMux {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return mux
}

func postJSON(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// failingPipeline returns a fixed error from every decode call.
type failingPipeline struct {
	err error
}

func (f *failingPipeline) ProcessFrames(context.Context, [][]float32, pipeline.Overrides) (*pipeline.Result, error) {
	return nil, f.err
}

func (f *failingPipeline) ProcessBatch(context.Context, [][][]float32, pipeline.Overrides) (*pipeline.Result, error) {
	return nil, f.err
}

func (f *failingPipeline) Alphabet() beamsearch.Alphabet { return beamsearch.Alphabet{"x"} }
func (f *failingPipeline) Info() map[string]any          { return map[string]any{} }
func (f *failingPipeline) Close() error                  { return nil }

func TestServer_HealthHandler(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name           string
		method         string
		expectedStatus int
	}{
		{name: "GET request success", method: http.MethodGet, expectedStatus: http.StatusOK},
		{name: "POST request not allowed", method: http.MethodPost, expectedStatus: http.StatusMethodNotAllowed},
		{name: "PUT request not allowed", method: http.MethodPut, expectedStatus: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/health", nil)
			w := httptest.NewRecorder()

			s.healthHandler(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedStatus != http.StatusOK {
				return
			}
			var response HealthResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
			assert.Equal(t, "healthy", response.Status)
			assert.NotEmpty(t, response.Time)
			assert.EqualValues(t, 2, response.Decoder["alphabet_size"])
			assert.EqualValues(t, 5, response.Decoder["beam_width"])
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		})
	}
}

func TestServer_AlphabetHandler(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/alphabet", nil)
	w := httptest.NewRecorder()
	s.alphabetHandler(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var response AlphabetResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, []string{"A", "B"}, response.Symbols)
	assert.Equal(t, 2, response.Size)
	assert.Equal(t, 2, response.BlankIndex)
}

func TestServer_Decode(t *testing.T) {
	mux := newTestMux(newTestServer(t))

	w := postJSON(t, mux, "/decode", `{"probs": `+twoStepProbs+`}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var response DecodeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.True(t, response.Success)
	assert.Equal(t, config.MethodBeam, response.Method)
	assert.Equal(t, 2, response.Timesteps)
	require.Len(t, response.Predictions, 2)
	assert.Equal(t, "A", response.Predictions[0].Text)
	assert.InDelta(t, 0.52, response.Predictions[0].Probability, 1e-5)
	assert.Equal(t, []int{0}, response.Predictions[0].Label)
	assert.Equal(t, "", response.Predictions[1].Text)
	assert.InDelta(t, 0.48, response.Predictions[1].Probability, 1e-5)
	require.NotNil(t, response.Processing)
}

func TestServer_DecodeOverrides(t *testing.T) {
	mux := newTestMux(newTestServer(t))

	t.Run("topk", func(t *testing.T) {
		w := postJSON(t, mux, "/decode", `{"probs": `+twoStepProbs+`, "topk_paths": 1}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var response DecodeResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		require.Len(t, response.Predictions, 1)
		assert.Equal(t, "A", response.Predictions[0].Text)
	})

	t.Run("greedy", func(t *testing.T) {
		w := postJSON(t, mux, "/decode", `{"probs": `+twoStepProbs+`, "method": "greedy"}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var response DecodeResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, config.MethodGreedy, response.Method)
		require.Len(t, response.Predictions, 1)
		assert.Equal(t, "", response.Predictions[0].Text)
		assert.InDelta(t, 0.48, response.Predictions[0].Probability, 1e-5)
	})

	t.Run("constraints", func(t *testing.T) {
		w := postJSON(t, mux, "/decode", `{"probs": `+twoStepProbs+`, "constraints": ["B"], "topk_paths": 5}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var response DecodeResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		require.NotEmpty(t, response.Predictions)
		for _, p := range response.Predictions {
			if len(p.Label) > 0 {
				assert.Equal(t, 1, p.Label[0], "first symbol must be B: %q", p.Text)
			}
		}
	})
}

func TestServer_DecodeErrors(t *testing.T) {
	mux := newTestMux(newTestServer(t))

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantError  string
	}{
		{name: "zero beam width", body: `{"probs": ` + twoStepProbs + `, "beam_width": 0}`, wantStatus: http.StatusBadRequest, wantError: "beam width"},
		{name: "negative topk", body: `{"probs": ` + twoStepProbs + `, "topk_paths": -1}`, wantStatus: http.StatusBadRequest, wantError: "topk"},
		{name: "unknown method", body: `{"probs": ` + twoStepProbs + `, "method": "viterbi"}`, wantStatus: http.StatusBadRequest, wantError: "viterbi"},
		{name: "malformed json", body: `{"probs": [[0.1,`, wantStatus: http.StatusBadRequest, wantError: "invalid request body"},
		{name: "unknown field", body: `{"probs": ` + twoStepProbs + `, "beams": 3}`, wantStatus: http.StatusBadRequest, wantError: "beams"},
		{name: "wrong row width", body: `{"probs": [[0.5, 0.5]]}`, wantStatus: http.StatusBadRequest, wantError: "wrong length"},
		{name: "ragged rows", body: `{"probs": [[0.2, 0.0, 0.8], [0.5, 0.5]]}`, wantStatus: http.StatusBadRequest, wantError: "wrong length"},
		{name: "unknown constraint symbol", body: `{"probs": ` + twoStepProbs + `, "constraints": ["Z"]}`, wantStatus: http.StatusBadRequest, wantError: "not in alphabet"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(t, mux, "/decode", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)

			var response ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
			assert.False(t, response.Success)
			assert.Contains(t, response.Error, tt.wantError)
		})
	}
}

func TestServer_DecodeMethodNotAllowed(t *testing.T) {
	mux := newTestMux(newTestServer(t))
	for _, path := range []string{"/decode", "/decode/batch"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code, path)
	}
}

func TestServer_DecodeBodyTooLarge(t *testing.T) {
	mux := newTestMux(newTestServer(t))

	body := `{"probs": "` + strings.Repeat("x", 2<<20) + `"}`
	w := postJSON(t, mux, "/decode", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestServer_DecodeFormats(t *testing.T) {
	mux := newTestMux(newTestServer(t))

	tests := []struct {
		format      string
		contentType string
		contains    string
	}{
		{format: "text", contentType: "text/plain; charset=utf-8", contains: "1\t0.5200\tA"},
		{format: "csv", contentType: "text/csv; charset=utf-8", contains: ",0,1,A,0.5200,0,"},
		{format: "yaml", contentType: "application/yaml", contains: "text: A"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			w := postJSON(t, mux, "/decode?format="+tt.format, `{"probs": `+twoStepProbs+`}`)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			assert.Equal(t, tt.contentType, w.Header().Get("Content-Type"))
			assert.Contains(t, w.Body.String(), tt.contains)
		})
	}

	w := postJSON(t, mux, "/decode?format=xml", `{"probs": `+twoStepProbs+`}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_BatchDecode(t *testing.T) {
	mux := newTestMux(newTestServer(t))

	body := fmt.Sprintf(`{"probs": [%s, [[0.1, 0.8, 0.1], [0.1, 0.8, 0.1]]]}`, twoStepProbs)
	w := postJSON(t, mux, "/decode/batch", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var response BatchDecodeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.True(t, response.Success)
	require.Len(t, response.Results, 2)
	assert.Equal(t, "A", response.Results[0][0].Text)
	assert.Equal(t, "B", response.Results[1][0].Text)
	assert.Equal(t, 2, response.Summary.Sequences)
	assert.Equal(t, 4, response.Summary.Timesteps)
	assert.Equal(t, len(response.Results[0])+len(response.Results[1]), response.Summary.Predictions)
}

func TestServer_BatchDecodeMatchesSingle(t *testing.T) {
	mux := newTestMux(newTestServer(t))

	single := postJSON(t, mux, "/decode", `{"probs": [[0.3, 0.3, 0.4], [0.6, 0.1, 0.3]]}`)
	require.Equal(t, http.StatusOK, single.Code)
	var one DecodeResponse
	require.NoError(t, json.Unmarshal(single.Body.Bytes(), &one))

	batch := postJSON(t, mux, "/decode/batch", `{"probs": [`+twoStepProbs+`, [[0.3, 0.3, 0.4], [0.6, 0.1, 0.3]]]}`)
	require.Equal(t, http.StatusOK, batch.Code)
	var many BatchDecodeResponse
	require.NoError(t, json.Unmarshal(batch.Body.Bytes(), &many))

	require.Len(t, many.Results, 2)
	assert.Equal(t, one.Predictions, many.Results[1])
}

func TestServer_BatchDecodeErrors(t *testing.T) {
	mux := newTestMux(newTestServer(t))

	tests := []struct {
		name string
		body string
	}{
		{name: "empty batch", body: `{"probs": []}`},
		{name: "different timesteps", body: `{"probs": [` + twoStepProbs + `, [[0.1, 0.8, 0.1]]]}`},
		{name: "wrong row width", body: `{"probs": [[[0.5, 0.5]]]}`},
		{name: "zero topk", body: `{"probs": [` + twoStepProbs + `], "topk_paths": 0}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(t, mux, "/decode/batch", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			var response ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
			assert.False(t, response.Success)
			assert.NotEmpty(t, response.Error)
		})
	}
}

func TestServer_InternalErrorsAre500(t *testing.T) {
	s := newServerWithPipeline(Config{}, &failingPipeline{err: errors.New("session crashed")})
	mux := newTestMux(s)

	w := postJSON(t, mux, "/decode", `{"probs": `+twoStepProbs+`}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "session crashed")
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "invalid argument", err: fmt.Errorf("example 2: %w", beamsearch.ErrFrameShape), want: http.StatusBadRequest},
		{name: "bad request", err: fmt.Errorf("%w: nope", errBadRequest), want: http.StatusBadRequest},
		{name: "too large", err: fmt.Errorf("%w: %w", errBadRequest, &http.MaxBytesError{Limit: 10}), want: http.StatusRequestEntityTooLarge},
		{name: "deadline", err: fmt.Errorf("model inference: %w", context.DeadlineExceeded), want: http.StatusGatewayTimeout},
		{name: "other", err: errors.New("boom"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusForError(tt.err))
		})
	}
}

func TestServer_MetricsEndpoint(t *testing.T) {
	mux := newTestMux(newTestServer(t))

	w := postJSON(t, mux, "/decode", `{"probs": `+twoStepProbs+`}`)
	require.Equal(t, http.StatusOK, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "ctcbeam_decode_requests_total")
	assert.Contains(t, body, "ctcbeam_http_requests_total")
	assert.Contains(t, body, "ctcbeam_decode_timesteps")
}
