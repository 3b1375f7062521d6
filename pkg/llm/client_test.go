package llm_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	sdkerrors "github.com/wehubfusion/Arachne/pkg/errors"
	"github.com/wehubfusion/Arachne/pkg/llm"
)

func newClient(t *testing.T, endpoint string) *llm.HTTPClient {
	t.Helper()
	c, err := llm.NewHTTPClient(endpoint, "test-key", "test-model", 5*time.Second, zap.NewNop())
	if err != nil {
		t.Fatalf("NewHTTPClient failed: %v", err)
	}
	return c
}

func TestHTTPClientComplete(t *testing.T) {
	var captured struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	var auth, contentType string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		contentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("Failed to decode request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"the reply"}}]}`))
	}))
	defer server.Close()

	c := newClient(t, server.URL)
	got, err := c.Complete(t.Context(), "describe the row")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got != "the reply" {
		t.Errorf("Expected content 'the reply', got %q", got)
	}
	if auth != "Bearer test-key" {
		t.Errorf("Expected bearer authorization, got %q", auth)
	}
	if contentType != "application/json" {
		t.Errorf("Expected JSON content type, got %q", contentType)
	}
	if captured.Model != "test-model" {
		t.Errorf("Expected model 'test-model', got %q", captured.Model)
	}
	if len(captured.Messages) != 1 {
		t.Fatalf("Expected exactly 1 message, got %d", len(captured.Messages))
	}
	if captured.Messages[0].Role != "user" {
		t.Errorf("Expected role 'user', got %q", captured.Messages[0].Role)
	}
	if captured.Messages[0].Content != "describe the row" {
		t.Errorf("Expected prompt as message content, got %q", captured.Messages[0].Content)
	}
}

func TestHTTPClientErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := newClient(t, server.URL)
	_, err := c.Complete(t.Context(), "prompt")
	if err == nil {
		t.Fatal("Expected an error for a 503 response")
	}
	if !errors.Is(err, sdkerrors.ErrNetwork) {
		t.Errorf("Expected a network error, got %v", err)
	}
	if !strings.Contains(err.Error(), "503") {
		t.Errorf("Expected the status code in the message, got %q", err.Error())
	}
}

func TestHTTPClientEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	c := newClient(t, server.URL)
	if _, err := c.Complete(t.Context(), "prompt"); !errors.Is(err, sdkerrors.ErrNetwork) {
		t.Errorf("Expected a network error for empty choices, got %v", err)
	}
}

func TestHTTPClientUndecodableReply(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json at all`))
	}))
	defer server.Close()

	c := newClient(t, server.URL)
	if _, err := c.Complete(t.Context(), "prompt"); !errors.Is(err, sdkerrors.ErrNetwork) {
		t.Errorf("Expected a network error for an undecodable reply, got %v", err)
	}
}

func TestHTTPClientUnreachableServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	c := newClient(t, server.URL)
	if _, err := c.Complete(t.Context(), "prompt"); !errors.Is(err, sdkerrors.ErrNetwork) {
		t.Errorf("Expected a network error for a refused connection, got %v", err)
	}
}

func TestNewHTTPClientValidation(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		apiKey   string
		model    string
	}{
		{"empty endpoint", "", "key", "model"},
		{"empty api key", "http://localhost", "", "model"},
		{"empty model", "http://localhost", "key", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := llm.NewHTTPClient(tt.endpoint, tt.apiKey, tt.model, time.Second, zap.NewNop()); err == nil {
				t.Error("Expected a validation error")
			}
		})
	}
}
