package backend

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
)

// DefaultOllamaURL is used when Config.BaseURL is empty.
const DefaultOllamaURL = "http://localhost:11434"

// OllamaAdapter talks to the Ollama generate endpoint without streaming.
type OllamaAdapter struct {
	cfg    Config
	client *http.Client
	closed atomic.Bool
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	System string `json:"system,omitempty"`
	Stream bool   `json:"stream"`
}

type ollamaResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// NewOllamaAdapter creates an Ollama adapter.
func NewOllamaAdapter(cfg Config) (*OllamaAdapter, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOllamaURL
	}
	if cfg.Name == "" {
		cfg.Name = TypeOllama
	}
	return &OllamaAdapter{cfg: cfg, client: httpClient(cfg)}, nil
}

// Send posts the prompt to /api/generate.
func (a *OllamaAdapter) Send(ctx context.Context, msg Message) (Response, error) {
	if a.closed.Load() {
		return Response{}, ErrClosed
	}
	model := a.cfg.Model
	if msg.Model != "" {
		model = msg.Model
	}
	if model == "" {
		return Response{}, fmt.Errorf("ollama backend %q: no model configured", a.cfg.Name)
	}

	req := ollamaRequest{
		Model:  model,
		Prompt: msg.Content,
		System: msg.System,
		Stream: false,
	}
	var resp ollamaResponse
	url := strings.TrimRight(a.cfg.BaseURL, "/") + "/api/generate"
	if err := postJSON(ctx, a.client, a.cfg.Name, url, nil, req, &resp); err != nil {
		return Response{}, err
	}
	if resp.Error != "" {
		return Response{}, fmt.Errorf("ollama error: %s", resp.Error)
	}
	if strings.TrimSpace(resp.Response) == "" {
		return Response{}, fmt.Errorf("ollama backend %q: empty response", a.cfg.Name)
	}

	return Response{Content: resp.Response, SessionID: a.cfg.SessionID, Model: model}, nil
}

// Close marks the adapter closed.
func (a *OllamaAdapter) Close() error {
	a.closed.Store(true)
	return nil
}

// SessionID returns the session identifier.
func (a *OllamaAdapter) SessionID() string {
	return a.cfg.SessionID
}
