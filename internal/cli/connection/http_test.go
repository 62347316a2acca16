package connection

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewHTTPClient(t *testing.T) {
	tests := []struct {
		name       string
		server     string
		wantPrefix string
	}{
		{"with http prefix", "http://localhost:5080", "http://localhost:5080"},
		{"with https prefix", "https://localhost:5080", "https://localhost:5080"},
		{"without prefix", "localhost:5080", "http://localhost:5080"},
		{"trailing slash", "http://localhost:5080/", "http://localhost:5080"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewHTTPClient(tt.server, Options{})
			if err != nil {
				t.Fatalf("NewHTTPClient: %v", err)
			}
			if client.BaseURL() != tt.wantPrefix {
				t.Errorf("BaseURL() = %q, want %q", client.BaseURL(), tt.wantPrefix)
			}
		})
	}
}

func TestNewHTTPClient_MissingCA(t *testing.T) {
	if _, err := NewHTTPClient("https://x", Options{CAFile: "/nonexistent/ca.pem"}); err == nil {
		t.Error("expected error for missing CA file")
	}
}

func TestHTTPClient_Headers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key-ID") != "ctak-1" || r.Header.Get("X-API-Key") != "secret" {
			t.Errorf("credentials = %q/%q", r.Header.Get("X-API-Key-ID"), r.Header.Get("X-API-Key"))
		}
		if !strings.HasPrefix(r.Header.Get("User-Agent"), "captoken-cli/") {
			t.Errorf("User-Agent = %q", r.Header.Get("User-Agent"))
		}
		if r.Method == http.MethodPost {
			if ct := r.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
			body, _ := io.ReadAll(r.Body)
			if string(body) != `{"organization_id":"org-a"}` {
				t.Errorf("body = %s", body)
			}
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, err := NewHTTPClient(server.URL, Options{APIKeyID: "ctak-1", APIKey: "secret"})
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}
	for _, do := range []func() (*http.Response, error){
		func() (*http.Response, error) { return client.Get(context.Background(), "/x") },
		func() (*http.Response, error) {
			return client.Post(context.Background(), "/x", map[string]string{"organization_id": "org-a"})
		},
	} {
		resp, err := do()
		if err != nil {
			t.Fatalf("request: %v", err)
		}
		resp.Body.Close()
	}
}

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantErr  bool
		wantCode string
		wantName string
	}{
		{"success unwraps data", 200, `{"code":"OK","data":{"name":"a"}}`, false, "", "a"},
		{"success without data", 200, `{"code":"OK"}`, false, "", ""},
		{"domain error", 410, `{"code":"CT-LINK-4100","message":"this link is no longer valid"}`, true, "CT-LINK-4100", ""},
		{"non-envelope error", 502, `bad gateway`, true, "", ""},
		{"garbage success", 200, `{`, true, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{
				StatusCode: tt.status,
				Body:       io.NopCloser(strings.NewReader(tt.body)),
			}
			var out struct {
				Name string `json:"name"`
			}
			err := ParseResponse(resp, &out)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseResponse() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantCode != "" {
				var apiErr *APIError
				if !errors.As(err, &apiErr) || apiErr.Code != tt.wantCode || apiErr.Status != tt.status {
					t.Errorf("error = %#v, want APIError %s", err, tt.wantCode)
				}
			}
			if out.Name != tt.wantName {
				t.Errorf("Name = %q, want %q", out.Name, tt.wantName)
			}
		})
	}
}

func TestAPIError_IncludesReason(t *testing.T) {
	var details map[string]any
	json.Unmarshal([]byte(`{"reason":"org is required"}`), &details)
	err := &APIError{Code: "CT-SYS-4000", Message: "bad request", Details: details}
	if got := err.Error(); got != "[CT-SYS-4000] bad request: org is required" {
		t.Errorf("Error() = %q", got)
	}
}
