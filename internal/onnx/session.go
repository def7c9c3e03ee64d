// Package onnx runs CTC acoustic/recognition models through onnxruntime and
// returns their per-timestep output as a tensor.
package onnx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	onnxrt "github.com/yalue/onnxruntime_go"

	"github.com/MeKo-Tech/ctcbeam/internal/tensor"
)

// Config holds configuration for a model session.
type Config struct {
	ModelPath   string    // Path to the ONNX model
	LibraryPath string    // Optional onnxruntime shared library path
	NumThreads  int       // Number of CPU threads (0 for default)
	GPU         GPUConfig // GPU acceleration configuration
}

// DefaultConfig returns a CPU-only configuration without a model.
func DefaultConfig() Config {
	return Config{GPU: DefaultGPUConfig()}
}

// Session wraps a single-input, single-output model.
type Session struct {
	config     Config
	session    *onnxrt.DynamicAdvancedSession
	inputInfo  onnxrt.InputOutputInfo
	outputInfo onnxrt.InputOutputInfo
	mu         sync.Mutex
}

// NewSession loads the model and prepares it for inference.
func NewSession(config Config) (*Session, error) {
	if config.ModelPath == "" {
		return nil, errors.New("model path cannot be empty")
	}
	if _, err := os.Stat(config.ModelPath); err != nil {
		return nil, fmt.Errorf("model file not found: %w", err)
	}
	if err := ValidateGPUConfig(config.GPU); err != nil {
		return nil, err
	}
	if err := Initialize(config.LibraryPath, config.GPU.UseGPU); err != nil {
		return nil, err
	}

	inputs, outputs, err := onnxrt.GetInputOutputInfo(config.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get model input/output info: %w", err)
	}
	if len(inputs) != 1 {
		return nil, fmt.Errorf("expected 1 input, got %d", len(inputs))
	}
	if len(outputs) != 1 {
		return nil, fmt.Errorf("expected 1 output, got %d", len(outputs))
	}

	sessionOptions, err := onnxrt.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer func() {
		if err := sessionOptions.Destroy(); err != nil {
			fmt.Fprintf(os.Stderr, "Error destroying session options: %v\n", err)
		}
	}()

	if err := configureSessionForGPU(sessionOptions, config.GPU); err != nil {
		return nil, fmt.Errorf("failed to configure GPU: %w", err)
	}
	if config.NumThreads > 0 {
		if err := sessionOptions.SetIntraOpNumThreads(config.NumThreads); err != nil {
			return nil, fmt.Errorf("failed to set thread count: %w", err)
		}
	}

	session, err := onnxrt.NewDynamicAdvancedSession(
		config.ModelPath,
		[]string{inputs[0].Name},
		[]string{outputs[0].Name},
		sessionOptions,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	slog.Debug("Loaded CTC model",
		"path", config.ModelPath,
		"input", inputs[0].Name, "input_dims", inputs[0].Dimensions,
		"output", outputs[0].Name, "output_dims", outputs[0].Dimensions)

	return &Session{
		config:     config,
		session:    session,
		inputInfo:  inputs[0],
		outputInfo: outputs[0],
	}, nil
}

// InputShape returns the model's declared input dimensions; -1 marks a dynamic axis.
func (s *Session) InputShape() []int64 {
	return append([]int64(nil), s.inputInfo.Dimensions...)
}

// OutputShape returns the model's declared output dimensions.
func (s *Session) OutputShape() []int64 {
	return append([]int64(nil), s.outputInfo.Dimensions...)
}

// Run feeds in to the model and returns a copy of its float32 output with
// trailing singleton dimensions squeezed.
func (s *Session) Run(ctx context.Context, in tensor.Tensor) (tensor.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return tensor.Tensor{}, err
	}
	if err := in.CheckSize(); err != nil {
		return tensor.Tensor{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return tensor.Tensor{}, errors.New("session is closed")
	}

	start := time.Now()
	inputTensor, err := onnxrt.NewTensor(onnxrt.NewShape(in.Shape...), in.Data)
	if err != nil {
		return tensor.Tensor{}, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer func() { _ = inputTensor.Destroy() }()

	outputs := []onnxrt.Value{nil}
	if err := s.session.Run([]onnxrt.Value{inputTensor}, outputs); err != nil {
		return tensor.Tensor{}, fmt.Errorf("failed to run model: %w", err)
	}
	outTensor := outputs[0]
	defer func() {
		if outTensor != nil {
			_ = outTensor.Destroy()
		}
	}()

	floatTensor, ok := outTensor.(*onnxrt.Tensor[float32])
	if !ok {
		return tensor.Tensor{}, errors.New("unexpected output tensor type, want float32")
	}
	data := append([]float32(nil), floatTensor.GetData()...)
	shape := append([]int64(nil), floatTensor.GetShape()...)

	slog.Debug("Model inference completed", "output_shape", shape, "duration", time.Since(start))
	return tensor.Tensor{Data: data, Shape: shape}.Squeeze(), nil
}

// Close releases resources used by the session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	return err
}
