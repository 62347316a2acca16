package connection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yndnr/captoken-go/internal/infra/buildinfo"
	"github.com/yndnr/captoken-go/internal/infra/tlsroots"
)

// DefaultTimeout bounds every request.
const DefaultTimeout = 30 * time.Second

// Options configures an HTTPClient.
type Options struct {
	APIKeyID string
	APIKey   string

	// CAFile adds a private CA for https servers.
	CAFile string

	Timeout time.Duration
}

// HTTPClient provides HTTP communication with the server.
type HTTPClient struct {
	baseURL  string
	client   *http.Client
	apiKeyID string
	apiKey   string
}

// NewHTTPClient creates a new HTTP client.
func NewHTTPClient(server string, opts Options) (*HTTPClient, error) {
	baseURL := strings.TrimRight(server, "/")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	hc := &http.Client{Timeout: opts.Timeout}
	if opts.CAFile != "" {
		tlsCfg, err := tlsroots.ClientConfig(opts.CAFile)
		if err != nil {
			return nil, fmt.Errorf("load CA: %w", err)
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = tlsCfg
		hc.Transport = transport
	}

	return &HTTPClient{
		baseURL:  baseURL,
		apiKeyID: opts.APIKeyID,
		apiKey:   opts.APIKey,
		client:   hc,
	}, nil
}

// Get performs a GET request.
func (c *HTTPClient) Get(ctx context.Context, path string) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// Post performs a POST request with JSON body.
func (c *HTTPClient) Post(ctx context.Context, path string, body any) (*http.Response, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.addHeaders(req)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

// addHeaders adds authentication and common headers.
func (c *HTTPClient) addHeaders(req *http.Request) {
	if c.apiKeyID != "" && c.apiKey != "" {
		req.Header.Set("X-API-Key-ID", c.apiKeyID)
		req.Header.Set("X-API-Key", c.apiKey)
	}
	req.Header.Set("User-Agent", "captoken-cli/"+buildinfo.Version)
}

// BaseURL returns the base URL of the client.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// APIError is a non-2xx server response.
type APIError struct {
	Status    int
	Code      string
	Message   string
	RequestID string
	Details   map[string]any
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if reason, ok := e.Details["reason"].(string); ok && reason != "" {
		msg += ": " + reason
	}
	return msg
}

type envelope struct {
	Code      string          `json:"code"`
	Message   string          `json:"message"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
	Details   map[string]any  `json:"details"`
}

// ParseResponse unwraps the response envelope into target.
func ParseResponse(resp *http.Response, target any) error {
	defer resp.Body.Close()

	var env envelope
	decodeErr := json.NewDecoder(resp.Body).Decode(&env)

	if resp.StatusCode >= 400 {
		if decodeErr == nil && env.Code != "" {
			return &APIError{
				Status:    resp.StatusCode,
				Code:      env.Code,
				Message:   env.Message,
				RequestID: env.RequestID,
				Details:   env.Details,
			}
		}
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return fmt.Errorf("parse response: %w", decodeErr)
	}

	if target != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, target); err != nil {
			return fmt.Errorf("parse response data: %w", err)
		}
	}
	return nil
}
