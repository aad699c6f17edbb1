package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/tonimelisma/stitchkeep/internal/project"
)

const defaultUserAgent = "stitchkeep/0.1"

// Client talks to the remote document store. Each call is a single HTTP
// attempt; the sync executor owns the retry policy.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     oauth2.TokenSource
	userAgent  string
	logger     *slog.Logger
}

// NewClient creates a remote client. baseURL has no trailing slash, e.g.
// "https://sync.example.com". tokens supplies the bearer token for every
// request and may be nil for an unauthenticated local server.
func NewClient(baseURL string, httpClient *http.Client, tokens oauth2.TokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		tokens:     tokens,
		userAgent:  defaultUserAgent,
		logger:     logger,
	}
}

// SetUserAgent overrides the User-Agent header sent with every request.
func (c *Client) SetUserAgent(ua string) {
	if ua != "" {
		c.userAgent = ua
	}
}

// List fetches every project the owner has stored, in no particular order.
func (c *Client) List(ctx context.Context, ownerID string) ([]*project.Project, error) {
	resp, err := c.do(ctx, http.MethodGet, collectionPath(ownerID), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var projects []*project.Project
	if err := json.NewDecoder(resp.Body).Decode(&projects); err != nil {
		return nil, fmt.Errorf("remote: decoding project list: %w", err)
	}

	c.logger.Debug("listed remote projects", slog.Int("count", len(projects)))

	return projects, nil
}

// Create stores a new document. body is the JSON-encoded project and must
// carry entityID as its "id".
func (c *Client) Create(ctx context.Context, ownerID, entityID string, body []byte) error {
	c.logger.Debug("creating remote project", slog.String("id", entityID))

	return c.send(ctx, http.MethodPost, collectionPath(ownerID), body)
}

// Update replaces an existing document. Returns ErrNotFound when the
// document does not exist yet, so the caller can fall back to Create.
func (c *Client) Update(ctx context.Context, ownerID, entityID string, body []byte) error {
	return c.send(ctx, http.MethodPut, projectPath(ownerID, entityID), body)
}

// Delete removes a document. Deleting an absent document succeeds.
func (c *Client) Delete(ctx context.Context, ownerID, entityID string) error {
	err := c.send(ctx, http.MethodDelete, projectPath(ownerID, entityID), nil)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	return nil
}

func (c *Client) send(ctx context.Context, method, path string, body []byte) error {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}

	resp, err := c.do(ctx, method, path, r)
	if err != nil {
		return err
	}

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	return nil
}

// do executes one request. Non-2xx responses are returned as *RemoteError
// wrapping a sentinel; the body of a 2xx response is left for the caller.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("remote: creating request: %w", err)
	}

	if err := c.authorize(req); err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("remote: request canceled: %w", ctx.Err())
		}

		return nil, fmt.Errorf("remote: %s %s: %w", method, path, err)
	}

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		c.logger.Debug("request succeeded",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
		)

		return resp, nil
	}

	errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()

	if readErr != nil {
		errBody = []byte("(failed to read response body)")
	}

	return nil, &RemoteError{
		StatusCode: resp.StatusCode,
		RequestID:  resp.Header.Get("X-Request-Id"),
		Message:    strings.TrimSpace(string(errBody)),
		Err:        classifyStatus(resp.StatusCode),
	}
}

// maxErrorBody caps how much of an error response is kept in RemoteError.
const maxErrorBody = 4 << 10

func (c *Client) authorize(req *http.Request) error {
	if c.tokens == nil {
		return nil
	}

	tok, err := c.tokens.Token()
	if err != nil {
		return fmt.Errorf("remote: obtaining token: %w", err)
	}

	tok.SetAuthHeader(req)

	return nil
}

func collectionPath(ownerID string) string {
	return "/v1/owners/" + url.PathEscape(ownerID) + "/projects"
}

func projectPath(ownerID, entityID string) string {
	return collectionPath(ownerID) + "/" + url.PathEscape(entityID)
}
