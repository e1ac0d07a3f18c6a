package inference

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func setupTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(Config{BaseURL: srv.URL, Timeout: 5 * time.Second})
}

func TestInvokeSuccess(t *testing.T) {
	var gotPath, gotKey string
	var gotReq generateRequest

	client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &gotReq); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"{\"category\":"},{"text":"\"Dispute\"}"}]}}]}`))
	})

	text, err := client.Invoke(context.Background(), "key-1", "gemini-2.5-flash", "classify me")
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	if text != `{"category":"Dispute"}` {
		t.Errorf("text = %q", text)
	}
	if gotPath != "/models/gemini-2.5-flash:generateContent" {
		t.Errorf("path = %q", gotPath)
	}
	if gotKey != "key-1" {
		t.Errorf("api key header = %q", gotKey)
	}
	if len(gotReq.Contents) != 1 || gotReq.Contents[0].Parts[0].Text != "classify me" {
		t.Errorf("request contents = %+v", gotReq.Contents)
	}
	if gotReq.GenerationConfig.MaxOutputTokens != DefaultMaxOutputTokens {
		t.Errorf("maxOutputTokens = %d", gotReq.GenerationConfig.MaxOutputTokens)
	}
}

func TestInvokeErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		quota     bool
		overload  bool
		retryable bool
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":{"code":429,"message":"Resource has been exhausted","status":"RESOURCE_EXHAUSTED"}}`, true, false, true},
		{"overloaded", http.StatusServiceUnavailable, `{"error":{"code":503,"message":"The model is overloaded","status":"UNAVAILABLE"}}`, false, true, true},
		{"unauthorized", http.StatusUnauthorized, `{"error":{"code":401,"message":"API key not valid","status":"UNAUTHENTICATED"}}`, false, false, false},
		{"bad request", http.StatusBadRequest, `not json`, false, false, false},
		{"internal", http.StatusInternalServerError, ``, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := client.Invoke(context.Background(), "k", "m", "p")
			if err == nil {
				t.Fatal("expected error")
			}

			var se *StatusError
			if !errors.As(err, &se) {
				t.Fatalf("error %v is not a StatusError", err)
			}
			if se.Code != tt.status {
				t.Errorf("Code = %d, want %d", se.Code, tt.status)
			}
			if errors.Is(err, ErrQuotaExceeded) != tt.quota {
				t.Errorf("errors.Is(ErrQuotaExceeded) = %v, want %v", !tt.quota, tt.quota)
			}
			if errors.Is(err, ErrOverloaded) != tt.overload {
				t.Errorf("errors.Is(ErrOverloaded) = %v, want %v", !tt.overload, tt.overload)
			}
			if IsRetryable(err) != tt.retryable {
				t.Errorf("IsRetryable = %v, want %v", !tt.retryable, tt.retryable)
			}
		})
	}
}

func TestInvokeEmptyCandidates(t *testing.T) {
	client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	})

	text, err := client.Invoke(context.Background(), "k", "m", "p")
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if text != "" {
		t.Errorf("text = %q, want empty", text)
	}
}

func TestInvokeTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	client := NewClient(Config{BaseURL: url, Timeout: time.Second})
	_, err := client.Invoke(context.Background(), "k", "m", "p")
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("error = %v, want ErrTransport", err)
	}
	if IsRetryable(err) {
		t.Error("transport failure must not be retryable")
	}
}

func TestInvokeCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient(DefaultConfig())
	_, err := client.Invoke(ctx, "k", "m", "p")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestStatusErrorMessageFallback(t *testing.T) {
	se := newStatusError(http.StatusBadGateway, []byte(strings.Repeat("x", 600)))
	if len(se.Message) != 512 {
		t.Errorf("Message length = %d, want 512", len(se.Message))
	}
	if !strings.HasPrefix(se.Error(), "inference status 502") {
		t.Errorf("Error() = %q", se.Error())
	}
}

func TestStatusErrorMessageStaysValidUTF8(t *testing.T) {
	tests := []struct {
		name string
		body []byte
	}{
		{"multibyte at cut", []byte(strings.Repeat("a", 511) + "é<html>")},
		{"invalid bytes", []byte("bad gateway \xff\xfe")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			se := newStatusError(http.StatusBadGateway, tt.body)
			if !utf8.ValidString(se.Message) {
				t.Errorf("Message is not valid UTF-8: %q", se.Message)
			}
			if n := utf8.RuneCountInString(se.Message); n > 512 {
				t.Errorf("Message has %d runes, want at most 512", n)
			}
		})
	}
}
