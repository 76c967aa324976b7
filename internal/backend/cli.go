package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
)

const (
	promptPlaceholder = "{prompt}"
	modelPlaceholder  = "{model}"
)

// CLIAdapter runs a command-line model client once per prompt, for example
// `claude -p {prompt} --output-format json` or `ollama run {model}`.
//
// When no argument contains {prompt}, the prompt is written to the
// command's stdin instead.
type CLIAdapter struct {
	cfg    Config
	pm     *ProcessManager
	closed atomic.Bool
}

// NewCLIAdapter creates a CLI adapter.
func NewCLIAdapter(cfg Config, pm *ProcessManager) (*CLIAdapter, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("cli backend %q: command is required", cfg.Name)
	}
	switch cfg.Output {
	case "", "text", "json":
	default:
		return nil, fmt.Errorf("cli backend %q: unknown output format %q", cfg.Name, cfg.Output)
	}
	return &CLIAdapter{cfg: cfg, pm: pm}, nil
}

// Send runs the command and returns its parsed output.
func (a *CLIAdapter) Send(ctx context.Context, msg Message) (Response, error) {
	if a.closed.Load() {
		return Response{}, ErrClosed
	}
	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}

	prompt := msg.Content
	if msg.System != "" {
		prompt = msg.System + "\n\n" + prompt
	}
	model := a.cfg.Model
	if msg.Model != "" {
		model = msg.Model
	}

	args, viaArgs := a.buildArgs(prompt, model)
	cmd := newCommand(ctx, a.cfg.Command, args...)
	if a.cfg.WorkDir != "" {
		cmd.Dir = a.cfg.WorkDir
	}
	if !viaArgs {
		cmd.Stdin = strings.NewReader(prompt)
	}

	stdout, _, err := executeCommand(ctx, cmd, a.pm)
	if err != nil {
		return Response{}, fmt.Errorf("cli backend %q: %w", a.cfg.Name, err)
	}

	content, err := a.parseOutput(stdout)
	if err != nil {
		return Response{}, fmt.Errorf("cli backend %q: %w", a.cfg.Name, err)
	}
	return Response{Content: content, SessionID: a.cfg.SessionID, Model: model}, nil
}

// buildArgs substitutes placeholders and reports whether the prompt was
// placed on the command line.
func (a *CLIAdapter) buildArgs(prompt, model string) ([]string, bool) {
	args := make([]string, 0, len(a.cfg.Args))
	viaArgs := false
	for _, arg := range a.cfg.Args {
		if strings.Contains(arg, promptPlaceholder) {
			viaArgs = true
			arg = strings.ReplaceAll(arg, promptPlaceholder, prompt)
		}
		if strings.Contains(arg, modelPlaceholder) {
			if model == "" {
				continue
			}
			arg = strings.ReplaceAll(arg, modelPlaceholder, model)
		}
		args = append(args, arg)
	}
	return args, viaArgs
}

// cliJSONResponse covers the JSON shapes printed by common model CLIs.
type cliJSONResponse struct {
	Result   json.RawMessage `json:"result"`
	Response string          `json:"response"`
	Content  []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	IsError bool `json:"is_error"`
}

func (a *CLIAdapter) parseOutput(stdout []byte) (string, error) {
	if a.cfg.Output != "json" {
		return strings.TrimSpace(string(stdout)), nil
	}

	var resp cliJSONResponse
	if err := json.Unmarshal(bytes.TrimSpace(stdout), &resp); err != nil {
		return "", fmt.Errorf("failed to parse JSON output: %w", err)
	}

	var text string
	if len(resp.Result) > 0 {
		// result is a plain string or a message object with content blocks.
		if err := json.Unmarshal(resp.Result, &text); err != nil {
			var nested cliJSONResponse
			if err := json.Unmarshal(resp.Result, &nested); err != nil {
				return "", fmt.Errorf("unexpected result field: %s", resp.Result)
			}
			text = joinText(nested)
		}
	}
	if text == "" {
		text = resp.Response
	}
	if text == "" {
		text = joinText(resp)
	}

	if resp.IsError {
		return "", fmt.Errorf("model reported an error: %s", text)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("empty response")
	}
	return text, nil
}

func joinText(resp cliJSONResponse) string {
	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" || block.Type == "" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

// Close marks the adapter closed. Subprocesses are per call, so there is
// nothing else to release.
func (a *CLIAdapter) Close() error {
	a.closed.Store(true)
	return nil
}

// SessionID returns the session identifier.
func (a *CLIAdapter) SessionID() string {
	return a.cfg.SessionID
}
