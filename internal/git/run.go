// Package git shells out to the git binary to maintain bare clones and
// per-PR worktrees under the configured clone directory.
package git

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

const (
	// defaultTimeout bounds quick local operations (rev-parse,
	// worktree add/remove).
	defaultTimeout = 30 * time.Second

	// networkTimeout bounds clone and fetch, which talk to the forge.
	networkTimeout = 120 * time.Second
)

// MaskToken masks a token for safe logging, showing first 4 and last 4
// characters. Tokens of 8 characters or fewer become "****".
func MaskToken(token string) string {
	if token == "" {
		return "(empty)"
	}
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

// createCredentialHelper writes a temporary GIT_ASKPASS script that
// answers credential prompts with the token. The returned cleanup
// removes the script and must be deferred.
func createCredentialHelper(token string) (string, func(), error) {
	tmpFile, err := os.CreateTemp("", "git-credential-helper-*.sh")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create credential helper: %w", err)
	}

	var scriptContent string
	if runtime.GOOS == "windows" {
		scriptContent = fmt.Sprintf("@echo off\necho password=%s\n", token)
	} else {
		scriptContent = fmt.Sprintf("#!/bin/sh\necho \"password=%s\"\n", token)
	}

	if _, err := tmpFile.WriteString(scriptContent); err != nil {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
		return "", nil, fmt.Errorf("failed to write credential helper: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpFile.Name())
		return "", nil, fmt.Errorf("failed to close credential helper: %w", err)
	}
	if runtime.GOOS != "windows" {
		if err := os.Chmod(tmpFile.Name(), 0700); err != nil {
			os.Remove(tmpFile.Name())
			return "", nil, fmt.Errorf("failed to make credential helper executable: %w", err)
		}
	}

	cleanup := func() { os.Remove(tmpFile.Name()) }
	return tmpFile.Name(), cleanup, nil
}

// runGit executes a git command with a timeout. When dir is non-empty
// the command runs with "-C dir". Interactive prompts are always
// disabled; extraEnv entries are appended to the inherited environment.
func runGit(ctx context.Context, timeout time.Duration, dir string, extraEnv []string, args ...string) (string, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	gitArgs := args
	if dir != "" {
		gitArgs = append([]string{"-C", dir}, args...)
	}

	cmd := exec.CommandContext(timeoutCtx, "git", gitArgs...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = append(cmd.Environ(), "GIT_TERMINAL_PROMPT=0")
	cmd.Env = append(cmd.Env, extraEnv...)

	if err := cmd.Run(); err != nil {
		if timeoutCtx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("git %s timed out after %v", args[0], timeout)
		}
		return "", fmt.Errorf("git %s failed: %w (stderr: %s)", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}
