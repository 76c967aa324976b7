package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestOllamaAdapter_Send(t *testing.T) {
	var got ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("path = %s, want /api/generate", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(ollamaResponse{Model: got.Model, Response: "# Charter", Done: true})
	}))
	defer srv.Close()

	a, err := NewOllamaAdapter(Config{BaseURL: srv.URL + "/", Model: "llama3.1", SessionID: "s1"})
	if err != nil {
		t.Fatalf("NewOllamaAdapter: %v", err)
	}

	resp, err := a.Send(context.Background(), Message{Content: "write", System: "sys", Model: "qwen2.5"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	want := ollamaRequest{Model: "qwen2.5", Prompt: "write", System: "sys", Stream: false}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("request mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(Response{Content: "# Charter", SessionID: "s1", Model: "qwen2.5"}, resp); diff != "" {
		t.Errorf("response mismatch (-want +got):\n%s", diff)
	}
}

func TestOllamaAdapter_HTTPErrors(t *testing.T) {
	tests := []struct {
		status        int
		wantPermanent bool
	}{
		{status: http.StatusNotFound, wantPermanent: true},
		{status: http.StatusBadRequest, wantPermanent: true},
		{status: http.StatusTooManyRequests, wantPermanent: false},
		{status: http.StatusServiceUnavailable, wantPermanent: false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			a, _ := NewOllamaAdapter(Config{BaseURL: srv.URL, Model: "m"})
			_, err := a.Send(context.Background(), Message{Content: "x"})

			var httpErr *HTTPError
			if !errors.As(err, &httpErr) {
				t.Fatalf("error = %v, want *HTTPError", err)
			}
			if httpErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", httpErr.StatusCode, tt.status)
			}
			if IsPermanent(err) != tt.wantPermanent {
				t.Errorf("IsPermanent = %v, want %v", IsPermanent(err), tt.wantPermanent)
			}
		})
	}
}

func TestOllamaAdapter_RequiresModel(t *testing.T) {
	a, _ := NewOllamaAdapter(Config{BaseURL: "http://127.0.0.1:1"})
	if _, err := a.Send(context.Background(), Message{Content: "x"}); err == nil {
		t.Fatal("expected an error without a model")
	}
}

func TestGeminiAdapter_Send(t *testing.T) {
	var got geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/gemini-1.5-flash:generateContent" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if key := r.Header.Get("X-Goog-Api-Key"); key != "secret" {
			t.Errorf("api key header = %q", key)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"# API"},{"text":" docs"}]},"finishReason":"STOP"}]}`))
	}))
	defer srv.Close()

	a, err := NewGeminiAdapter(Config{BaseURL: srv.URL, APIKey: "secret", Model: "gemini-1.5-flash"})
	if err != nil {
		t.Fatalf("NewGeminiAdapter: %v", err)
	}

	resp, err := a.Send(context.Background(), Message{Content: "describe the API", System: "be terse"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.Content != "# API docs" {
		t.Errorf("Content = %q", resp.Content)
	}
	if len(got.Contents) != 1 || got.Contents[0].Parts[0].Text != "describe the API" {
		t.Errorf("unexpected contents: %+v", got.Contents)
	}
	if got.SystemInstruction == nil || got.SystemInstruction.Parts[0].Text != "be terse" {
		t.Errorf("system instruction not sent: %+v", got.SystemInstruction)
	}
}

func TestGeminiAdapter_EmptyCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[]}`))
	}))
	defer srv.Close()

	a, _ := NewGeminiAdapter(Config{BaseURL: srv.URL, APIKey: "k", Model: "m"})
	if _, err := a.Send(context.Background(), Message{Content: "x"}); err == nil {
		t.Fatal("expected an error for a response without candidates")
	}
}

func TestNewGeminiAdapter_RequiresKey(t *testing.T) {
	if _, err := NewGeminiAdapter(Config{Model: "m"}); err == nil {
		t.Fatal("expected an error without an API key")
	}
}
