package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/coder/websocket"

	"github.com/tonimelisma/stitchkeep/internal/project"
)

// Notification kinds carried on the change feed.
const (
	KindUpsert = "upsert"
	KindDelete = "delete"
)

// maxNotificationSize bounds a single change-feed message.
const maxNotificationSize = 1 << 20

// Notification is one document change reported by the store. Project is
// nil for deletions.
type Notification struct {
	EntityID string           `json:"id"`
	Kind     string           `json:"kind"`
	Project  *project.Project `json:"project,omitempty"`
}

// Subscription is an open change feed. It is not safe for concurrent Next
// calls.
type Subscription struct {
	conn   *websocket.Conn
	logger *slog.Logger
}

// Subscribe opens the websocket change feed for ownerID.
func (c *Client) Subscribe(ctx context.Context, ownerID string) (*Subscription, error) {
	header := http.Header{}
	header.Set("User-Agent", c.userAgent)

	if c.tokens != nil {
		tok, err := c.tokens.Token()
		if err != nil {
			return nil, fmt.Errorf("remote: obtaining token: %w", err)
		}

		header.Set("Authorization", tok.Type()+" "+tok.AccessToken)
	}

	// The dialer rejects clients with a Timeout; the context bounds the
	// handshake instead.
	hc := *c.httpClient
	hc.Timeout = 0

	feedURL := c.baseURL + "/v1/owners/" + url.PathEscape(ownerID) + "/changes"

	conn, resp, err := websocket.Dial(ctx, feedURL, &websocket.DialOptions{
		HTTPClient: &hc,
		HTTPHeader: header,
	})
	if err != nil {
		if resp != nil {
			if sentinel := classifyStatus(resp.StatusCode); sentinel != nil {
				return nil, &RemoteError{StatusCode: resp.StatusCode, Message: err.Error(), Err: sentinel}
			}
		}

		return nil, fmt.Errorf("remote: subscribing: %w", err)
	}

	conn.SetReadLimit(maxNotificationSize)

	c.logger.Info("change feed connected", slog.String("owner", ownerID))

	return &Subscription{conn: conn, logger: c.logger}, nil
}

// Next blocks until the next notification arrives. It returns io.EOF when
// the server closes the feed normally. Malformed messages are logged and
// skipped.
func (s *Subscription) Next(ctx context.Context) (Notification, error) {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
				websocket.CloseStatus(err) == websocket.StatusGoingAway {
				return Notification{}, io.EOF
			}

			return Notification{}, fmt.Errorf("remote: reading change feed: %w", err)
		}

		var n Notification
		if err := json.Unmarshal(data, &n); err != nil {
			s.logger.Warn("malformed change notification", slog.String("error", err.Error()))
			continue
		}

		if n.EntityID == "" || (n.Kind != KindUpsert && n.Kind != KindDelete) {
			s.logger.Warn("change notification ignored",
				slog.String("id", n.EntityID),
				slog.String("kind", n.Kind),
			)

			continue
		}

		if n.Kind == KindUpsert && n.Project == nil {
			s.logger.Warn("upsert without document ignored", slog.String("id", n.EntityID))
			continue
		}

		return n, nil
	}
}

// Close closes the feed.
func (s *Subscription) Close() error {
	if err := s.conn.Close(websocket.StatusNormalClosure, ""); err != nil {
		return fmt.Errorf("remote: closing change feed: %w", err)
	}

	return nil
}
