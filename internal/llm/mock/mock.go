// Package mock implements an llm.Client that replays canned envelopes,
// used by tests and by dry-run experiments against real repositories.
package mock

import (
	"context"
	"sync"

	"github.com/prpatrol/prpatrol/internal/llm"
	"github.com/prpatrol/prpatrol/pkg/errors"
)

// ClientName is the identifier for the mock client.
const ClientName = "mock"

func init() {
	llm.Register(ClientName, func(cfg *llm.ClientConfig) (llm.Client, error) {
		return New(), nil
	})
}

// Client replays queued envelopes in order. When the queue is empty it
// returns Default, or an error when neither is set.
type Client struct {
	mu       sync.Mutex
	queue    []response
	Default  *llm.Envelope
	Requests []*llm.Request
}

type response struct {
	env *llm.Envelope
	err error
}

// New creates an empty mock client.
func New() *Client {
	return &Client{}
}

// Name returns the client identifier.
func (c *Client) Name() string { return ClientName }

// Available always succeeds.
func (c *Client) Available() bool { return true }

// Enqueue adds an envelope to the replay queue.
func (c *Client) Enqueue(env *llm.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(c.queue, response{env: env})
}

// EnqueueError adds a failure to the replay queue.
func (c *Client) EnqueueError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(c.queue, response{err: err})
}

// Review records the request and replays the next queued response.
func (c *Client) Review(ctx context.Context, req *llm.Request) (*llm.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.Requests = append(c.Requests, req)

	if len(c.queue) > 0 {
		next := c.queue[0]
		c.queue = c.queue[1:]
		return next.env, next.err
	}
	if c.Default != nil {
		return c.Default, nil
	}
	return nil, errors.New(errors.ErrCodeReviewRun, "mock client has no queued response")
}
