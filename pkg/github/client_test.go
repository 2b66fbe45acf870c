package github

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
)

func newTestClient(t *testing.T, server *httptest.Server, token string) *Client {
	t.Helper()
	client, err := NewClient(Config{
		BaseURL:    server.URL,
		Token:      token,
		HTTPClient: server.Client(),
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestNewClient_HTTPSEnforcement(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "http://api.github.com"})
	if err == nil {
		t.Fatal("expected error for HTTP URL")
	}
	if got := err.Error(); got != `github: API client requires HTTPS (got "http://api.github.com")` {
		t.Errorf("unexpected error: %s", got)
	}
}

func TestNewClient_Defaults(t *testing.T) {
	client, err := NewClient(Config{})
	if err != nil {
		t.Fatal(err)
	}
	if client.BaseURL() != DefaultBaseURL {
		t.Errorf("BaseURL = %q", client.BaseURL())
	}
}

func TestDo_SendsHeadersAndBody(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/repos/x/y/statuses/abc" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type = %q", got)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["state"] != "success" {
			t.Errorf("body = %v", body)
		}
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"id":7}`)
	}))
	defer server.Close()

	client := newTestClient(t, server, "test-token")
	var result struct{ ID int }
	err := client.DoJSON(context.Background(), http.MethodPost, "/repos/x/y/statuses/abc", map[string]string{"state": "success"}, &result)
	if err != nil {
		t.Fatalf("DoJSON: %v", err)
	}
	if result.ID != 7 {
		t.Errorf("ID = %d, want 7", result.ID)
	}
}

func TestDo_NoTokenNoAuthorization(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "" {
			t.Errorf("Authorization = %q, want none", got)
		}
	}))
	defer server.Close()

	client := newTestClient(t, server, "")
	if _, err := client.Do(context.Background(), http.MethodGet, "/user", nil); err != nil {
		t.Fatal(err)
	}
}

func TestDo_AbsoluteResource(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/x/y" {
			t.Errorf("path = %q", r.URL.Path)
		}
	}))
	defer server.Close()

	client := newTestClient(t, server, "t")
	if _, err := client.Do(context.Background(), http.MethodGet, server.URL+"/repos/x/y", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := client.Do(context.Background(), http.MethodGet, "https://evil.example.com/steal", nil); err == nil {
		t.Error("expected error for foreign host")
	}
}

func TestDo_APIError(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"message":"Not Found","documentation_url":"https://docs.github.com"}`)
	}))
	defer server.Close()

	client := newTestClient(t, server, "t")
	_, err := client.Do(context.Background(), http.MethodGet, "/repos/x/y", nil)
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if got := err.Error(); got != "github: HTTP 404: Not Found" {
		t.Errorf("Error() = %q", got)
	}
}

func TestDo_RateLimitRetriesOnce(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			io.WriteString(w, `{"message":"secondary rate limit"}`)
			return
		}
		io.WriteString(w, `{}`)
	}))
	defer server.Close()

	client := newTestClient(t, server, "t")
	if _, err := client.Do(context.Background(), http.MethodGet, "/x", nil); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestIsRateLimited(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&APIError{StatusCode: 429}, true},
		{&APIError{StatusCode: 403, Message: "API rate limit exceeded"}, true},
		{&APIError{StatusCode: 403, Message: "Resource not accessible"}, false},
		{&APIError{StatusCode: 500}, false},
		{io.EOF, false},
	}
	for _, tt := range tests {
		if got := IsRateLimited(tt.err); got != tt.want {
			t.Errorf("IsRateLimited(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestParseAPIErrorPlainBody(t *testing.T) {
	apiError := parseAPIError(502, []byte("bad gateway\n"))
	if apiError.Message != "bad gateway" {
		t.Errorf("Message = %q", apiError.Message)
	}
}

func TestReadTokenFile(t *testing.T) {
	dir := t.TempDir()

	token, err := ReadTokenFile(filepath.Join(dir, "missing"))
	if err != nil || token != "" {
		t.Errorf("missing file: token=%q err=%v", token, err)
	}

	path := filepath.Join(dir, "github-token")
	if err := os.WriteFile(path, []byte("ghp_abc\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	token, err = ReadTokenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if token != "ghp_abc" {
		t.Errorf("token = %q", token)
	}
}
