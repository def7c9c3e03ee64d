package support

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/cucumber/godog"
	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/ctcbeam/internal/config"
	"github.com/MeKo-Tech/ctcbeam/internal/server"
)

func serverTestConfig(symbols string) server.Config {
	decoder := config.DefaultConfig().Decoder
	decoder.Alphabet = symbols
	decoder.BeamWidth = 5
	decoder.TopK = 2
	return server.Config{
		CORSOrigin:  "*",
		MaxUploadMB: 1,
		TimeoutSec:  10,
		Decoder:     decoder,
		Logger:      slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
}

func (testCtx *TestContext) startServer(cfg server.Config) error {
	testCtx.stopServer()
	decodeServer, err := server.NewServer(cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	mux := http.NewServeMux()
	decodeServer.SetupRoutes(mux)
	testCtx.DecodeServer = decodeServer
	testCtx.HTTPServer = httptest.NewServer(mux)
	return nil
}

func (testCtx *TestContext) stopServer() {
	if testCtx.HTTPServer != nil {
		testCtx.HTTPServer.Close()
		testCtx.HTTPServer = nil
	}
	if testCtx.DecodeServer != nil {
		_ = testCtx.DecodeServer.Close()
		testCtx.DecodeServer = nil
	}
}

func (testCtx *TestContext) aDecodeServerWithAlphabet(symbols string) error {
	return testCtx.startServer(serverTestConfig(symbols))
}

func (testCtx *TestContext) aDecodeServerWithRateLimit(symbols string, perMinute int) error {
	cfg := serverTestConfig(symbols)
	cfg.RateLimit = server.RateLimitConfig{
		Enabled:           true,
		RequestsPerMinute: perMinute,
		RequestsPerHour:   1000,
		MaxRequestsPerDay: 5000,
		MaxDataPerDay:     100 * 1024 * 1024,
	}
	return testCtx.startServer(cfg)
}

func (testCtx *TestContext) do(req *http.Request) error {
	resp, err := testCtx.HTTPServer.Client().Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	testCtx.LastHTTPStatusCode = resp.StatusCode
	testCtx.LastHTTPResponse = string(body)
	testCtx.LastHTTPHeaders = make(map[string]string, len(resp.Header))
	for name := range resp.Header {
		testCtx.LastHTTPHeaders[name] = resp.Header.Get(name)
	}
	return nil
}

func (testCtx *TestContext) iGet(path string) error {
	if testCtx.HTTPServer == nil {
		return errors.New("no server running")
	}
	req, err := http.NewRequest(http.MethodGet, testCtx.HTTPServer.URL+path, nil)
	if err != nil {
		return err
	}
	return testCtx.do(req)
}

func (testCtx *TestContext) iPostJSON(path string, body *godog.DocString) error {
	if testCtx.HTTPServer == nil {
		return errors.New("no server running")
	}
	req, err := http.NewRequest(http.MethodPost, testCtx.HTTPServer.URL+path, bytes.NewBufferString(body.Content))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return testCtx.do(req)
}

func (testCtx *TestContext) iPostJSONTimes(path string, times int, body *godog.DocString) error {
	for range times {
		if err := testCtx.iPostJSON(path, body); err != nil {
			return err
		}
	}
	return nil
}

func (testCtx *TestContext) theResponseStatusShouldBe(code int) error {
	if testCtx.LastHTTPStatusCode != code {
		return fmt.Errorf("expected status %d, got %d\nBody: %s", code, testCtx.LastHTTPStatusCode, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseShouldContain(expected string) error {
	if !strings.Contains(testCtx.LastHTTPResponse, expected) {
		return fmt.Errorf("response does not contain '%s'\nBody: %s", expected, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseFieldShouldEqual(path, expected string) error {
	return jsonFieldShouldEqual(testCtx.LastHTTPResponse, path, expected)
}

func (testCtx *TestContext) theResponseFieldShouldBeNear(path string, expected float64) error {
	return jsonFieldShouldBeNear(testCtx.LastHTTPResponse, path, expected, 1e-5)
}

func (testCtx *TestContext) theResponseHeaderShouldBe(name, expected string) error {
	actual := testCtx.LastHTTPHeaders[http.CanonicalHeaderKey(name)]
	if actual != expected {
		return fmt.Errorf("header %s is %q, expected %q", name, actual, expected)
	}
	return nil
}

func (testCtx *TestContext) iConnectToTheWebSocket() error {
	if testCtx.HTTPServer == nil {
		return errors.New("no server running")
	}
	url := "ws" + strings.TrimPrefix(testCtx.HTTPServer.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("websocket dial failed: %w", err)
	}
	testCtx.WSConn = conn
	return nil
}

// iSendOverTheWebSocket sends one message and stores the reply as the last
// HTTP response so the response steps apply to it.
func (testCtx *TestContext) iSendOverTheWebSocket(msg *godog.DocString) error {
	if testCtx.WSConn == nil {
		return errors.New("websocket not connected")
	}
	if err := testCtx.WSConn.WriteMessage(websocket.TextMessage, []byte(msg.Content)); err != nil {
		return err
	}
	_ = testCtx.WSConn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, data, err := testCtx.WSConn.ReadMessage()
	if err != nil {
		return fmt.Errorf("failed to read websocket reply: %w", err)
	}
	testCtx.LastHTTPResponse = string(data)
	return nil
}

// RegisterServerSteps registers HTTP and WebSocket steps.
func (testCtx *TestContext) RegisterServerSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a decode server with alphabet "([^"]*)"$`, testCtx.aDecodeServerWithAlphabet)
	sc.Step(`^a decode server with alphabet "([^"]*)" limited to (\d+) requests per minute$`, testCtx.aDecodeServerWithRateLimit)

	sc.Step(`^I GET "([^"]*)"$`, testCtx.iGet)
	sc.Step(`^I POST to "([^"]*)" with JSON:$`, testCtx.iPostJSON)
	sc.Step(`^I POST to "([^"]*)" (\d+) times with JSON:$`, testCtx.iPostJSONTimes)
	sc.Step(`^the response status should be (\d+)$`, testCtx.theResponseStatusShouldBe)
	sc.Step(`^the response should contain "([^"]*)"$`, testCtx.theResponseShouldContain)
	sc.Step(`^the response field "([^"]*)" should equal "([^"]*)"$`, testCtx.theResponseFieldShouldEqual)
	sc.Step(`^the response field "([^"]*)" should be about ([0-9.]+)$`, testCtx.theResponseFieldShouldBeNear)
	sc.Step(`^the response header "([^"]*)" should be "([^"]*)"$`, testCtx.theResponseHeaderShouldBe)

	sc.Step(`^I connect to the websocket$`, testCtx.iConnectToTheWebSocket)
	sc.Step(`^I send over the websocket:$`, testCtx.iSendOverTheWebSocket)
}
