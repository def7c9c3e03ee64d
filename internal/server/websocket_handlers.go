package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/MeKo-Tech/ctcbeam/internal/pipeline"
	"github.com/gorilla/websocket"
)

// WebSocket message types.
const (
	wsTypeDecode         = "decode"
	wsTypeDecodeBatch    = "decode_batch"
	wsTypeDecodeResponse = "decode_response"
	wsTypeError          = "error"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketDecodeRequest is a decode request sent over WebSocket. Probs holds
// a [T][A+1] matrix for "decode" and a [N][T][A+1] batch for "decode_batch".
type WebSocketDecodeRequest struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Probs     json.RawMessage `json:"probs"`
	DecodeOptions
}

// WebSocketConnWriter is an interface for writing WebSocket messages.
type WebSocketConnWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// WebSocketDecodeResponse is sent for every handled message.
type WebSocketDecodeResponse struct {
	Type      string `json:"type"`
	Status    string `json:"status"` // "completed" or "error"
	Result    any    `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorType string `json:"error_type,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// decodeWebSocketHandler upgrades the connection and serves decode messages
// until the client goes away.
func (s *Server) decodeWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	websocketConnections.Inc()
	defer websocketConnections.Dec()

	s.logger.Info("WebSocket connection established", "remote_addr", r.RemoteAddr)
	s.handleWebSocketConnection(r.Context(), conn)
}

func (s *Server) handleWebSocketConnection(ctx context.Context, conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	if s.maxUploadMB > 0 {
		conn.SetReadLimit(s.maxUploadMB << 20)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Error("WebSocket error", "error", err)
			}
			return
		}
		websocketMessagesTotal.WithLabelValues("received").Inc()

		if messageType == websocket.TextMessage {
			s.handleWebSocketMessage(ctx, conn, data)
		}
	}
}

// handleWebSocketMessage decodes one request and writes exactly one reply.
func (s *Server) handleWebSocketMessage(ctx context.Context, conn WebSocketConnWriter, data []byte) {
	var req WebSocketDecodeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendWebSocketError(conn, "", "invalid_request", fmt.Sprintf("failed to parse request: %v", err))
		return
	}
	requestID := req.RequestID
	if requestID == "" {
		requestID = strconv.FormatInt(time.Now().UnixNano(), 10)
	}

	overrides, err := req.overrides()
	if err != nil {
		s.sendWebSocketError(conn, requestID, "invalid_request", err.Error())
		return
	}

	if s.timeoutSec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(s.timeoutSec)*time.Second)
		defer cancel()
	}

	start := time.Now()
	var (
		kind   string
		res    *pipeline.Result
		result any
	)
	switch req.Type {
	case wsTypeDecode:
		kind = "websocket"
		var frames [][]float32
		if err := json.Unmarshal(req.Probs, &frames); err != nil {
			s.sendWebSocketError(conn, requestID, "invalid_request", fmt.Sprintf("invalid probs: %v", err))
			return
		}
		if res, err = s.pipeline.ProcessFrames(ctx, frames, overrides); err == nil {
			response := DecodeResponse{Success: true, Method: res.Method, Processing: processingFor(res, start)}
			if len(res.Sequences) > 0 {
				response.Timesteps = res.Sequences[0].Timesteps
				response.Predictions = res.Sequences[0].Predictions
			}
			result = response
		}
	case wsTypeDecodeBatch:
		kind = "websocket_batch"
		var batch [][][]float32
		if err := json.Unmarshal(req.Probs, &batch); err != nil {
			s.sendWebSocketError(conn, requestID, "invalid_request", fmt.Sprintf("invalid probs: %v", err))
			return
		}
		if res, err = s.pipeline.ProcessBatch(ctx, batch, overrides); err == nil {
			result = batchResponseFor(res, start)
		}
	default:
		s.sendWebSocketError(conn, requestID, "invalid_request", "unsupported request type: "+req.Type)
		return
	}

	if err != nil {
		decodeRequestsTotal.WithLabelValues(kind, "error").Inc()
		errorType := "processing_error"
		if statusForError(err) == http.StatusBadRequest {
			errorType = "invalid_request"
		}
		s.sendWebSocketError(conn, requestID, errorType, err.Error())
		return
	}
	s.recordDecode(kind, res, time.Since(start))

	s.sendWebSocketResponse(conn, WebSocketDecodeResponse{
		Type:      wsTypeDecodeResponse,
		Status:    "completed",
		Result:    result,
		RequestID: requestID,
	})
}

// sendWebSocketResponse sends a response message over WebSocket.
func (s *Server) sendWebSocketResponse(conn WebSocketConnWriter, response WebSocketDecodeResponse) {
	data, err := json.Marshal(response)
	if err != nil {
		s.logger.Error("Failed to marshal WebSocket response", "error", err)
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Error("Failed to send WebSocket message", "error", err)
		return
	}
	websocketMessagesTotal.WithLabelValues("sent").Inc()
}

// sendWebSocketError sends an error message over WebSocket.
func (s *Server) sendWebSocketError(conn WebSocketConnWriter, requestID, errorType, message string) {
	s.sendWebSocketResponse(conn, WebSocketDecodeResponse{
		Type:      wsTypeError,
		Status:    "error",
		Error:     message,
		ErrorType: errorType,
		RequestID: requestID,
	})
}
