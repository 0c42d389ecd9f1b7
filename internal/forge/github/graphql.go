package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/prpatrol/prpatrol/internal/model"
	"github.com/prpatrol/prpatrol/pkg/errors"
)

// Review thread listing and resolution are GraphQL-only on GitHub; the
// REST API has no thread resolution endpoint.

const reviewThreadsQuery = `
query($owner: String!, $repo: String!, $number: Int!, $cursor: String) {
  repository(owner: $owner, name: $repo) {
    pullRequest(number: $number) {
      reviewThreads(first: 100, after: $cursor) {
        nodes {
          id
          path
          line
          isResolved
          comments(first: 1) {
            nodes { body }
          }
        }
        pageInfo {
          hasNextPage
          endCursor
        }
      }
    }
  }
}`

const resolveThreadMutation = `
mutation($threadId: ID!) {
  resolveReviewThread(input: {threadId: $threadId}) {
    thread { id isResolved }
  }
}`

// graphQLClient is a minimal GraphQL transport over the authenticated
// HTTP client the REST client already uses.
type graphQLClient struct {
	httpClient *http.Client
	endpoint   string
}

func newGraphQLClient(httpClient *http.Client, baseURL string) *graphQLClient {
	endpoint := "https://api.github.com/graphql"
	if baseURL != "" && baseURL != defaultGitHubURL {
		// GitHub Enterprise serves GraphQL under /api/graphql.
		endpoint = strings.TrimSuffix(baseURL, "/") + "/api/graphql"
	}
	return &graphQLClient{httpClient: httpClient, endpoint: endpoint}
}

// do posts one GraphQL request and decodes data into out.
func (c *graphQLClient) do(ctx context.Context, query string, variables map[string]interface{}, out interface{}) error {
	reqBody, err := json.Marshal(map[string]interface{}{
		"query":     query,
		"variables": variables,
	})
	if err != nil {
		return errors.Wrap(errors.ErrCodeForgeUnavailable, "failed to encode graphql request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return errors.Wrap(errors.ErrCodeForgeUnavailable, "failed to build graphql request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(errors.ErrCodeForgeUnavailable, "graphql request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return errors.New(errors.ErrCodeForgeAuth, fmt.Sprintf("graphql request rejected: %s", resp.Status))
	case resp.StatusCode != http.StatusOK:
		return errors.New(errors.ErrCodeForgeUnavailable, fmt.Sprintf("graphql request failed: %s", resp.Status))
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return errors.Wrap(errors.ErrCodeForgeUnavailable, "failed to decode graphql response", err)
	}
	if len(envelope.Errors) > 0 {
		msg := envelope.Errors[0].Message
		if strings.Contains(strings.ToLower(msg), "could not resolve") {
			return errors.New(errors.ErrCodeForgeNotFound, "graphql: "+msg)
		}
		return errors.New(errors.ErrCodeForgeUnavailable, "graphql: "+msg)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return errors.Wrap(errors.ErrCodeForgeUnavailable, "failed to decode graphql data", err)
		}
	}
	return nil
}

// listReviewThreads pages through the PR's review threads.
func (c *graphQLClient) listReviewThreads(ctx context.Context, owner, repo string, number int) ([]model.ReviewThread, error) {
	var threads []model.ReviewThread
	var cursor *string

	for {
		var data struct {
			Repository struct {
				PullRequest struct {
					ReviewThreads struct {
						Nodes []struct {
							ID         string `json:"id"`
							Path       string `json:"path"`
							Line       *int   `json:"line"`
							IsResolved bool   `json:"isResolved"`
							Comments   struct {
								Nodes []struct {
									Body string `json:"body"`
								} `json:"nodes"`
							} `json:"comments"`
						} `json:"nodes"`
						PageInfo struct {
							HasNextPage bool   `json:"hasNextPage"`
							EndCursor   string `json:"endCursor"`
						} `json:"pageInfo"`
					} `json:"reviewThreads"`
				} `json:"pullRequest"`
			} `json:"repository"`
		}

		variables := map[string]interface{}{
			"owner":  owner,
			"repo":   repo,
			"number": number,
		}
		if cursor != nil {
			variables["cursor"] = *cursor
		}

		if err := c.do(ctx, reviewThreadsQuery, variables, &data); err != nil {
			return nil, err
		}

		page := data.Repository.PullRequest.ReviewThreads
		for _, n := range page.Nodes {
			thread := model.ReviewThread{
				ID:         n.ID,
				Path:       n.Path,
				IsResolved: n.IsResolved,
			}
			if n.Line != nil {
				thread.Line = *n.Line
			}
			if len(n.Comments.Nodes) > 0 {
				thread.Body = n.Comments.Nodes[0].Body
			}
			threads = append(threads, thread)
		}

		if !page.PageInfo.HasNextPage {
			break
		}
		end := page.PageInfo.EndCursor
		cursor = &end
	}

	return threads, nil
}

// resolveReviewThread marks one thread resolved.
func (c *graphQLClient) resolveReviewThread(ctx context.Context, threadID string) error {
	return c.do(ctx, resolveThreadMutation, map[string]interface{}{
		"threadId": threadID,
	}, nil)
}
