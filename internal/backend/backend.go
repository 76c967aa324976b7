package backend

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Backend defines the interface that all backend adapters must implement.
type Backend interface {
	// Send sends a prompt to the backend and returns the generated content.
	Send(ctx context.Context, msg Message) (Response, error)

	// Close releases the backend. Calling it more than once is allowed.
	Close() error

	// SessionID returns the current session identifier.
	SessionID() string
}

// New creates a new backend based on the provided configuration.
func New(cfg Config, pm *ProcessManager) (Backend, error) {
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	switch cfg.Type {
	case TypeCLI:
		return NewCLIAdapter(cfg, pm)
	case TypeOllama:
		return NewOllamaAdapter(cfg)
	case TypeGemini:
		return NewGeminiAdapter(cfg)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}
