package backend

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCLIAdapter_BuildArgs(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		model       string
		wantArgs    []string
		wantViaArgs bool
	}{
		{
			name:        "prompt placeholder",
			args:        []string{"-p", "{prompt}", "--output-format", "json"},
			wantArgs:    []string{"-p", "Write it", "--output-format", "json"},
			wantViaArgs: true,
		},
		{
			name:        "model placeholder",
			args:        []string{"run", "{model}"},
			model:       "llama3.1",
			wantArgs:    []string{"run", "llama3.1"},
			wantViaArgs: false,
		},
		{
			name:        "model argument dropped without a model",
			args:        []string{"--model={model}", "{prompt}"},
			wantArgs:    []string{"Write it"},
			wantViaArgs: true,
		},
		{
			name:        "placeholder inside an argument",
			args:        []string{"--prompt={prompt}"},
			wantArgs:    []string{"--prompt=Write it"},
			wantViaArgs: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := NewCLIAdapter(Config{Command: "llm", Args: tt.args}, nil)
			if err != nil {
				t.Fatalf("NewCLIAdapter: %v", err)
			}
			got, viaArgs := a.buildArgs("Write it", tt.model)
			if diff := cmp.Diff(tt.wantArgs, got); diff != "" {
				t.Errorf("args mismatch (-want +got):\n%s", diff)
			}
			if viaArgs != tt.wantViaArgs {
				t.Errorf("viaArgs = %v, want %v", viaArgs, tt.wantViaArgs)
			}
		})
	}
}

func TestCLIAdapter_ParseOutput(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		stdout  string
		want    string
		wantErr bool
	}{
		{name: "text trimmed", output: "text", stdout: "\n# Title\n\n", want: "# Title"},
		{name: "json string result", output: "json", stdout: `{"type":"result","result":"# Doc"}`, want: "# Doc"},
		{
			name:   "json nested content",
			output: "json",
			stdout: `{"result":{"content":[{"type":"text","text":"# A"},{"type":"text","text":" B"}]}}`,
			want:   "# A B",
		},
		{name: "json response field", output: "json", stdout: `{"response":"hello"}`, want: "hello"},
		{name: "json top-level content", output: "json", stdout: `{"content":[{"text":"x"}]}`, want: "x"},
		{name: "json error flag", output: "json", stdout: `{"is_error":true,"result":"rate limited"}`, wantErr: true},
		{name: "json empty", output: "json", stdout: `{"result":""}`, wantErr: true},
		{name: "malformed json", output: "json", stdout: `not json`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &CLIAdapter{cfg: Config{Output: tt.output}}
			got, err := a.parseOutput([]byte(tt.stdout))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected an error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseOutput: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCLIAdapter_SendPromptAsArgument(t *testing.T) {
	pm := NewProcessManager()
	a, err := NewCLIAdapter(Config{
		Name:    "mock",
		Command: "bash",
		Args:    []string{mockLLM(t), "--echo", "{prompt}"},
	}, pm)
	if err != nil {
		t.Fatalf("NewCLIAdapter: %v", err)
	}

	resp, err := a.Send(context.Background(), Message{Content: "# Requirements"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.Content != "# Requirements" {
		t.Errorf("Content = %q", resp.Content)
	}
	if pm.Count() != 0 {
		t.Errorf("%d processes still tracked", pm.Count())
	}
}

func TestCLIAdapter_SendPromptOnStdin(t *testing.T) {
	a, err := NewCLIAdapter(Config{
		Command: "bash",
		Args:    []string{mockLLM(t), "--stdin"},
	}, nil)
	if err != nil {
		t.Fatalf("NewCLIAdapter: %v", err)
	}

	resp, err := a.Send(context.Background(), Message{System: "You are a writer.", Content: "Draft it."})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if want := "You are a writer.\n\nDraft it."; resp.Content != want {
		t.Errorf("Content = %q, want %q", resp.Content, want)
	}
}

func TestCLIAdapter_SendJSON(t *testing.T) {
	a, err := NewCLIAdapter(Config{
		Command: "bash",
		Args:    []string{mockLLM(t), "--json", "generated"},
		Output:  "json",
	}, nil)
	if err != nil {
		t.Fatalf("NewCLIAdapter: %v", err)
	}

	resp, err := a.Send(context.Background(), Message{Content: "ignored"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.Content != "generated" {
		t.Errorf("Content = %q, want generated", resp.Content)
	}
}

func TestCLIAdapter_SendFailure(t *testing.T) {
	a, err := NewCLIAdapter(Config{
		Name:    "mock",
		Command: "bash",
		Args:    []string{mockLLM(t), "--stderr", "model not found", "--exit-code", "2"},
	}, nil)
	if err != nil {
		t.Fatalf("NewCLIAdapter: %v", err)
	}

	_, err = a.Send(context.Background(), Message{Content: "x"})
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "model not found") {
		t.Errorf("error %q does not carry stderr", err)
	}
}

func TestCLIAdapter_Close(t *testing.T) {
	a, err := NewCLIAdapter(Config{Command: "echo"}, nil)
	if err != nil {
		t.Fatalf("NewCLIAdapter: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := a.Send(context.Background(), Message{Content: "x"}); !errors.Is(err, ErrClosed) {
		t.Errorf("Send after Close = %v, want ErrClosed", err)
	}
}

func TestNewCLIAdapter_Validation(t *testing.T) {
	if _, err := NewCLIAdapter(Config{}, nil); err == nil {
		t.Error("expected an error without a command")
	}
	if _, err := NewCLIAdapter(Config{Command: "llm", Output: "xml"}, nil); err == nil {
		t.Error("expected an error for an unknown output format")
	}
}
