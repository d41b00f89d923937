package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/aryan0dhankhar/fleetdesk/internal/domain"
)

// WatchEvents streams the caller's credential changes and the order
// transitions of its home tenant, or of tenantID when set. It blocks until
// ctx is done or the connection drops.
func (c *Client) WatchEvents(ctx context.Context, raw, tenantID string, fn func(domain.EventEnvelope)) error {
	u, err := url.Parse(c.baseURL + "/ws/events")
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	q := u.Query()
	q.Set("token", raw)
	if tenantID != "" {
		q.Set("tenant", tenantID)
	}
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return &APIError{StatusCode: resp.StatusCode, Message: strings.ToLower(http.StatusText(resp.StatusCode)), kind: kindFor(resp.StatusCode)}
		}
		return fmt.Errorf("dial events: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		var env domain.EventEnvelope
		if err := conn.ReadJSON(&env); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read event: %w", err)
		}
		fn(env)
	}
}
