// Package llm provides a unified interface for invoking LLM CLI tools
// to produce code reviews. Clients register themselves at init time and
// are selected by name from configuration.
package llm

import (
	"context"
	"sync"
	"time"

	"github.com/prpatrol/prpatrol/pkg/errors"
)

// DefaultTimeout bounds a review invocation when the request does not
// carry its own timeout.
const DefaultTimeout = 10 * time.Minute

// Request is one review invocation handed to a client.
type Request struct {
	// Prompt is piped to the CLI's stdin.
	Prompt string

	// WorkDir is the PR worktree the CLI may read, empty when codebase
	// access is off.
	WorkDir string

	// MaxTurns bounds the number of agentic turns.
	MaxTurns int

	// Model overrides the configured default model when non-empty.
	Model string

	// Timeout bounds the whole invocation; DefaultTimeout when zero.
	Timeout time.Duration
}

// GetTimeout returns the effective timeout for the request.
func (r *Request) GetTimeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	return DefaultTimeout
}

// Client is an LLM CLI wrapper.
type Client interface {
	// Name returns the client identifier (e.g. "claude", "mock").
	Name() string

	// Available reports whether the CLI binary can be invoked.
	Available() bool

	// Review runs one review invocation and returns the parsed
	// envelope. A non-nil error means the invocation itself failed
	// (spawn, timeout, unparseable output, or an is_error envelope).
	Review(ctx context.Context, req *Request) (*Envelope, error)
}

// ClientConfig carries client construction settings from the config file.
type ClientConfig struct {
	Name      string
	CLIPath   string
	Model     string
	ExtraArgs string
	APIKey    string
}

// Factory creates a Client from its configuration.
type Factory func(cfg *ClientConfig) (Client, error)

var (
	registry     = make(map[string]Factory)
	registryLock sync.RWMutex
)

// Register registers a client factory under a name.
func Register(name string, factory Factory) {
	registryLock.Lock()
	defer registryLock.Unlock()
	registry[name] = factory
}

// Create creates a client by name using the registered factory.
func Create(name string, cfg *ClientConfig) (Client, error) {
	registryLock.RLock()
	factory, ok := registry[name]
	registryLock.RUnlock()

	if !ok {
		return nil, errors.New(errors.ErrCodeLLMNotFound, "LLM client not registered: "+name)
	}
	if cfg == nil {
		cfg = &ClientConfig{Name: name}
	} else if cfg.Name == "" {
		cfg.Name = name
	}
	return factory(cfg)
}

// List returns all registered client names.
func List() []string {
	registryLock.RLock()
	defer registryLock.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}
