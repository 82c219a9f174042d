// Package cli implements provider.Transport by running a local command.
//
// The prompt (system instruction first) is written to the command's
// stdin and stdout is the answer. The model is passed with a configurable
// flag and the credential through a configurable environment variable,
// which fits most vendor CLIs (gemini, claude, codex) as well as local
// model runners.
//
// Options:
//   - "model_flag": flag placed before the model id (default "--model";
//     empty string disables it)
//   - "credential_env": environment variable receiving the secret
//   - "output": "text" (default) or "json"; json reads the "response" or
//     "text" field and an optional "usage" object
//   - "workdir": working directory
//
// # Usage
//
//	import _ "github.com/rashee1997/orchestrator-sub006/cli"
//
//	t, err := provider.New("cli", provider.Config{
//	    ProviderID: "gemini-cli",
//	    Command:    "gemini",
//	    Options:    map[string]any{"credential_env": "GEMINI_API_KEY"},
//	})
package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rashee1997/orchestrator-sub006/provider"
)

const (
	// maxStderrLength limits stderr carried into error messages.
	maxStderrLength = 500

	// waitDelay bounds how long output pipes are drained after the
	// process is killed.
	waitDelay = time.Second
)

func init() {
	provider.Register("cli", func(cfg provider.Config) (provider.Transport, error) {
		return New(cfg)
	})
}

// Transport runs one process per request.
type Transport struct {
	id            string
	command       string
	args          []string
	env           map[string]string
	modelFlag     string
	credentialEnv string
	jsonOutput    bool
	workdir       string
	timeout       time.Duration
}

// New creates a Transport from cfg. Command is required.
func New(cfg provider.Config) (*Transport, error) {
	if cfg.Command == "" {
		return nil, errors.New("cli transport: command is required")
	}
	output := cfg.GetStringOption("output", "text")
	if output != "text" && output != "json" {
		return nil, fmt.Errorf("cli transport: unknown output %q", output)
	}
	return &Transport{
		id:            cfg.ID("cli"),
		command:       cfg.Command,
		args:          append([]string(nil), cfg.Args...),
		env:           cfg.Env,
		modelFlag:     cfg.GetStringOption("model_flag", "--model"),
		credentialEnv: cfg.GetStringOption("credential_env", ""),
		jsonOutput:    output == "json",
		workdir:       cfg.GetStringOption("workdir", ""),
		timeout:       cfg.Timeout,
	}, nil
}

// Provider implements provider.Transport.
func (t *Transport) Provider() string { return t.id }

// Send implements provider.Transport.
func (t *Transport) Send(ctx context.Context, req provider.Request) (*provider.Response, error) {
	start := time.Now()
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	path, err := exec.LookPath(t.command)
	if err != nil {
		return nil, provider.NotSent(t.id, req.Model, fmt.Errorf("%w: %s", provider.ErrCLINotFound, t.command))
	}

	cmd := exec.CommandContext(ctx, path, t.buildArgs(req)...)
	cmd.WaitDelay = waitDelay
	t.setupCmd(cmd, req)

	var stdout, stderr bytes.Buffer
	cmd.Stdin = strings.NewReader(buildPrompt(req))
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &provider.Error{Provider: t.id, Model: req.Model, Name: "TimeoutError", Message: ctxErr.Error(), Err: ctxErr}
		}
		msg := sanitizeStderr(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, &provider.Error{Provider: t.id, Model: req.Model, Name: "CLIError", Message: msg, Err: err}
	}

	resp := t.parseResponse(stdout.Bytes(), req.Model)
	if resp.Text == "" {
		return nil, provider.Empty(t.id, req.Model, "")
	}
	resp.Duration = time.Since(start)
	return resp, nil
}

func (t *Transport) buildArgs(req provider.Request) []string {
	args := append([]string(nil), t.args...)
	if t.modelFlag != "" && req.Model != "" {
		args = append(args, t.modelFlag, req.Model)
	}
	return args
}

func (t *Transport) setupCmd(cmd *exec.Cmd, req provider.Request) {
	if t.workdir != "" {
		cmd.Dir = t.workdir
	}
	if len(t.env) == 0 && t.credentialEnv == "" {
		return
	}
	cmd.Env = os.Environ()
	for k, v := range t.env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	if t.credentialEnv != "" && req.Auth.Secret != "" {
		cmd.Env = append(cmd.Env, t.credentialEnv+"="+req.Auth.Secret)
	}
}

func buildPrompt(req provider.Request) string {
	var parts []string
	if req.SystemPrompt != "" {
		parts = append(parts, req.SystemPrompt)
	}
	for _, m := range req.Messages {
		if m.Content != "" {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

type jsonOutput struct {
	Response string `json:"response"`
	Text     string `json:"text"`
	Usage    struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (t *Transport) parseResponse(data []byte, model string) *provider.Response {
	content := strings.TrimSpace(string(data))
	resp := &provider.Response{Text: content, Model: model, FinishReason: "stop"}
	if !t.jsonOutput {
		return resp
	}

	var out jsonOutput
	if err := json.Unmarshal(data, &out); err != nil {
		preview := content
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		slog.Warn("cli transport returned non-JSON output when JSON was expected",
			slog.String("provider", t.id),
			slog.String("output_preview", preview))
		return resp
	}
	resp.Text = out.Response
	if resp.Text == "" {
		resp.Text = out.Text
	}
	resp.Usage = provider.TokenUsage{
		InputTokens:  out.Usage.InputTokens,
		OutputTokens: out.Usage.OutputTokens,
		TotalTokens:  out.Usage.InputTokens + out.Usage.OutputTokens,
	}
	return resp
}

func sanitizeStderr(stderr string) string {
	if len(stderr) > maxStderrLength {
		stderr = stderr[:maxStderrLength] + "... (truncated)"
	}
	return strings.TrimSpace(stderr)
}
