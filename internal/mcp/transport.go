package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AuthMode selects how requests to a tool server are authenticated.
type AuthMode string

const (
	// AuthNone sends no credentials.
	AuthNone AuthMode = "none"

	// AuthToken sends an API token plus the origin URL it was issued for,
	// as X-Auth-Token and X-Auth-Origin headers.
	AuthToken AuthMode = "token"

	// AuthBasic sends an Authorization: Basic header.
	AuthBasic AuthMode = "basic"
)

// TransportConfig configures the HTTP connection to one tool server.
type TransportConfig struct {
	// Endpoint is the server address without scheme: "host[:port][/path]".
	Endpoint string

	// Insecure selects http instead of https.
	Insecure bool

	Mode AuthMode

	// Token and Origin are used in AuthToken mode.
	Token  string
	Origin string

	// Username and Password are used in AuthBasic mode.
	Username string
	Password string

	// Timeout bounds each request. Zero means 30 seconds.
	Timeout time.Duration
}

// URL returns the full server URL with the scheme applied.
func (c TransportConfig) URL() string {
	scheme := "https"
	if c.Insecure {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s", scheme, strings.TrimPrefix(c.Endpoint, "/"))
}

// Validate rejects configurations that cannot produce a usable connection.
func (c TransportConfig) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return fmt.Errorf("tool server endpoint is required")
	}
	switch c.Mode {
	case AuthNone, "":
	case AuthToken:
		if c.Token == "" {
			return fmt.Errorf("token auth requires a token")
		}
	case AuthBasic:
		if c.Username == "" || c.Password == "" {
			return fmt.Errorf("basic auth requires username and password")
		}
	default:
		return fmt.Errorf("unknown auth mode %q", c.Mode)
	}
	return nil
}

// HTTPTransport posts JSON-RPC requests to a tool server.
type HTTPTransport struct {
	config TransportConfig
	client *http.Client
	logger *slog.Logger
}

// NewHTTPTransport creates a transport for the given server.
func NewHTTPTransport(config TransportConfig, logger *slog.Logger) *HTTPTransport {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPTransport{
		config: config,
		client: &http.Client{Timeout: timeout},
		logger: logger.With("endpoint", config.Endpoint),
	}
}

// Call sends one JSON-RPC request and returns the result payload. A JSON-RPC
// error object is surfaced as a Go error.
func (t *HTTPTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	req := JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      uuid.New().String(),
		Method:  method,
	}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = raw
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.URL(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	t.applyAuth(httpReq)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("call %s: HTTP %d: %s", method, resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var rpcResp JSONRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("server error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}

func (t *HTTPTransport) applyAuth(req *http.Request) {
	switch t.config.Mode {
	case AuthToken:
		req.Header.Set("X-Auth-Token", t.config.Token)
		if t.config.Origin != "" {
			req.Header.Set("X-Auth-Origin", t.config.Origin)
		}
	case AuthBasic:
		req.SetBasicAuth(t.config.Username, t.config.Password)
	}
}
