package backend

import (
	"net/http"
	"time"
)

// Backend types accepted by New.
const (
	TypeCLI    = "cli"
	TypeOllama = "ollama"
	TypeGemini = "gemini"
)

// Message represents a prompt sent to the backend.
type Message struct {
	Content string
	System  string // Optional system instruction
	Model   string // Overrides Config.Model for this call
}

// Response represents a response from the backend.
type Response struct {
	Content   string
	SessionID string
	Model     string
}

// Config defines the configuration for a backend.
type Config struct {
	Type      string // "cli", "ollama", or "gemini"
	Name      string // Provider name, used in errors and logs
	SessionID string

	// CLI backends
	Command string
	Args    []string // "{prompt}" and "{model}" are substituted
	Output  string   // "text" (default) or "json"
	WorkDir string

	// HTTP backends
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client

	Model   string
	Timeout time.Duration
}
