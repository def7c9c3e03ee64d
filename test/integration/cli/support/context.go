// Package support holds the step definitions of the CLI and server feature
// tests.
package support

import (
	"errors"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/ctcbeam/internal/beamsearch"
	"github.com/MeKo-Tech/ctcbeam/internal/server"
)

// TestContext holds the state of one scenario.
type TestContext struct {
	// Command execution state
	LastCommand string
	LastOutput  string
	LastStderr  string
	LastError   error

	// Test environment
	TempDir string
	EnvVars map[string]string

	// Decoder state for library-level scenarios
	Alphabet    beamsearch.Alphabet
	Frames      [][]float32
	Constraints beamsearch.Constraints
	Predictions []beamsearch.Prediction
	DecodeErr   error

	// Server state
	HTTPServer   *httptest.Server
	DecodeServer *server.Server
	WSConn       *websocket.Conn

	// HTTP response state
	LastHTTPStatusCode int
	LastHTTPResponse   string
	LastHTTPHeaders    map[string]string
}

// NewTestContext creates a scenario context with its own temporary directory.
func NewTestContext() (*TestContext, error) {
	tempDir, err := os.MkdirTemp("", "ctcbeam-test-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	return &TestContext{
		TempDir: tempDir,
		EnvVars: map[string]string{},
	}, nil
}

// Cleanup stops servers, restores environment variables and removes the
// temporary directory.
func (testCtx *TestContext) Cleanup() error {
	var errs []error

	if testCtx.WSConn != nil {
		if err := testCtx.WSConn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close websocket: %w", err))
		}
		testCtx.WSConn = nil
	}
	testCtx.stopServer()

	for name := range testCtx.EnvVars {
		if err := os.Unsetenv(name); err != nil {
			errs = append(errs, fmt.Errorf("failed to unset %s: %w", name, err))
		}
	}

	if err := os.RemoveAll(testCtx.TempDir); err != nil {
		errs = append(errs, fmt.Errorf("failed to remove temp directory %s: %w", testCtx.TempDir, err))
	}
	return errors.Join(errs...)
}

// Path resolves name inside the scenario's temporary directory.
func (testCtx *TestContext) Path(name string) string {
	return filepath.Join(testCtx.TempDir, name)
}

// substitute replaces {tmp} with the scenario's temporary directory.
func (testCtx *TestContext) substitute(s string) string {
	return strings.ReplaceAll(s, "{tmp}", testCtx.TempDir)
}
