// Package claude implements the llm.Client interface for the Claude
// CLI, the production review engine.
package claude

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/prpatrol/prpatrol/internal/llm"
	"github.com/prpatrol/prpatrol/pkg/errors"
	"github.com/prpatrol/prpatrol/pkg/logger"
)

// ClientName is the identifier for the Claude client.
const ClientName = "claude"

// defaultCLIName is probed on PATH when no explicit path is configured.
const defaultCLIName = "claude"

func init() {
	llm.Register(ClientName, NewClient)
}

// Client shells out to the Claude CLI in non-interactive print mode.
type Client struct {
	cfg     *llm.ClientConfig
	cliPath string
	logger  *zap.Logger
}

// NewClient creates a new Claude client.
func NewClient(cfg *llm.ClientConfig) (llm.Client, error) {
	if cfg == nil {
		cfg = &llm.ClientConfig{Name: ClientName}
	}

	cliPath := cfg.CLIPath
	if cliPath == "" {
		if path, err := exec.LookPath(defaultCLIName); err == nil {
			cliPath = path
		} else {
			cliPath = defaultCLIName // Available() reports the miss
		}
	}

	return &Client{
		cfg:     cfg,
		cliPath: cliPath,
		logger:  logger.Named("llm." + ClientName),
	}, nil
}

// Name returns the client identifier.
func (c *Client) Name() string {
	return ClientName
}

// Available checks whether the CLI binary resolves.
func (c *Client) Available() bool {
	if _, err := exec.LookPath(c.cliPath); err == nil {
		return true
	}
	_, err := exec.LookPath(defaultCLIName)
	return err == nil
}

// Review runs one review invocation. The prompt travels on stdin; the
// CLI answers with a JSON envelope on stdout.
func (c *Client) Review(ctx context.Context, req *llm.Request) (*llm.Envelope, error) {
	if req == nil || req.Prompt == "" {
		return nil, errors.New(errors.ErrCodeReviewRun, "empty review prompt")
	}

	timeout := req.GetTimeout()
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := c.buildArgs(req)
	cmd := exec.CommandContext(runCtx, c.cliPath, args...)
	cmd.Stdin = strings.NewReader(req.Prompt)
	if req.WorkDir != "" {
		cmd.Dir = req.WorkDir
	}
	cmd.Env = c.buildEnv()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	c.logger.Debug("Invoking Claude CLI",
		zap.Int("prompt_bytes", len(req.Prompt)),
		zap.Int("max_turns", req.MaxTurns),
		zap.String("work_dir", req.WorkDir),
		zap.Duration("timeout", timeout))

	err := cmd.Run()
	elapsed := time.Since(start)

	if runCtx.Err() == context.DeadlineExceeded {
		return nil, errors.New(errors.ErrCodeLLMTimeout,
			"Claude CLI timed out after "+timeout.String())
	}
	if err != nil {
		// A non-zero exit may still carry a JSON envelope explaining
		// the failure; prefer its message over the raw exit error.
		text := stderr.String()
		if env, parseErr := llm.ParseEnvelope(stdout.String()); parseErr == nil && env.Result != "" {
			text = env.Result
		}
		code := llm.ClassifyFailure(text)
		return nil, errors.Wrap(code, "Claude CLI failed: "+firstLine(text), err)
	}

	env, err := llm.ParseEnvelope(stdout.String())
	if err != nil {
		c.logger.Warn("Claude CLI produced unparseable output",
			zap.Int("stdout_bytes", stdout.Len()),
			zap.String("stderr", firstLine(stderr.String())))
		return nil, err
	}

	if env.IsError {
		code := llm.ClassifyFailure(env.Result)
		return nil, errors.New(code, "Claude CLI reported error: "+firstLine(env.Result))
	}

	c.logger.Info("Claude review completed",
		zap.Duration("elapsed", elapsed),
		zap.Int("num_turns", env.NumTurns),
		zap.Int64("input_tokens", env.InputTokens),
		zap.Int64("output_tokens", env.OutputTokens),
		zap.Float64("cost_usd", env.CostUSD))
	return env, nil
}

// buildArgs assembles the CLI argument list for one invocation.
func (c *Client) buildArgs(req *llm.Request) []string {
	args := []string{"--print", "--output-format", "json"}

	if req.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(req.MaxTurns))
	}

	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}
	if model != "" {
		args = append(args, "--model", model)
	}

	if req.WorkDir != "" {
		args = append(args, "--add-dir", req.WorkDir)
	}

	if c.cfg.ExtraArgs != "" {
		args = append(args, strings.Fields(c.cfg.ExtraArgs)...)
	}
	return args
}

// buildEnv returns the subprocess environment, adding the API key when
// one is configured instead of relying on ambient login state.
func (c *Client) buildEnv() []string {
	env := os.Environ()
	if c.cfg.APIKey != "" {
		env = append(env, "ANTHROPIC_API_KEY="+c.cfg.APIKey)
	}
	return env
}

// firstLine truncates multi-line CLI output for error messages.
func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
