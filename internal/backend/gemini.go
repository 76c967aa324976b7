package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
)

// DefaultGeminiURL is used when Config.BaseURL is empty.
const DefaultGeminiURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiAdapter calls the Gemini generateContent endpoint.
type GeminiAdapter struct {
	cfg    Config
	client *http.Client
	closed atomic.Bool
}

type geminiRequest struct {
	Contents          []geminiContent  `json:"contents"`
	SystemInstruction *geminiContent   `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenConfig struct {
	CandidateCount int `json:"candidateCount,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewGeminiAdapter creates a Gemini adapter. An API key is required.
func NewGeminiAdapter(cfg Config) (*GeminiAdapter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini backend %q: API key is required", cfg.Name)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultGeminiURL
	}
	if cfg.Name == "" {
		cfg.Name = TypeGemini
	}
	return &GeminiAdapter{cfg: cfg, client: httpClient(cfg)}, nil
}

// Send posts the prompt as a single user turn.
func (a *GeminiAdapter) Send(ctx context.Context, msg Message) (Response, error) {
	if a.closed.Load() {
		return Response{}, ErrClosed
	}
	model := a.cfg.Model
	if msg.Model != "" {
		model = msg.Model
	}
	if model == "" {
		return Response{}, fmt.Errorf("gemini backend %q: no model configured", a.cfg.Name)
	}

	req := geminiRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: msg.Content}},
		}},
		GenerationConfig: &geminiGenConfig{CandidateCount: 1},
	}
	if msg.System != "" {
		req.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: msg.System}}}
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", strings.TrimRight(a.cfg.BaseURL, "/"), url.PathEscape(model))
	header := http.Header{"X-Goog-Api-Key": []string{a.cfg.APIKey}}

	var resp geminiResponse
	if err := postJSON(ctx, a.client, a.cfg.Name, endpoint, header, req, &resp); err != nil {
		return Response{}, err
	}
	if resp.Error != nil {
		return Response{}, fmt.Errorf("gemini error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	if len(resp.Candidates) == 0 {
		return Response{}, fmt.Errorf("gemini backend %q: no candidates in response", a.cfg.Name)
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	if strings.TrimSpace(b.String()) == "" {
		return Response{}, fmt.Errorf("gemini backend %q: empty response (finish reason %s)", a.cfg.Name, resp.Candidates[0].FinishReason)
	}

	return Response{Content: b.String(), SessionID: a.cfg.SessionID, Model: model}, nil
}

// Close marks the adapter closed.
func (a *GeminiAdapter) Close() error {
	a.closed.Store(true)
	return nil
}

// SessionID returns the session identifier.
func (a *GeminiAdapter) SessionID() string {
	return a.cfg.SessionID
}
