package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/orderlyflow/internal/backend"
	"github.com/dukerupert/orderlyflow/internal/realtime"
)

const (
	ackTimeout   = 10 * time.Second
	maxFrameSize = 1 << 20
)

type subscription struct {
	cancel context.CancelFunc
	conn   *ws.Conn
	done   chan struct{}
	once   sync.Once
}

// Unsubscribe closes the feed and waits for the delivery goroutine to exit.
// No handler call starts after it returns.
func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.conn.Close(ws.StatusNormalClosure, "unsubscribe")
		s.cancel()
	})
	<-s.done
}

// Subscribe opens a change feed for table rows of homeID. It returns once
// the backend has acknowledged the subscription, so every change committed
// after Subscribe returns is delivered to fn.
func (c *Client) Subscribe(ctx context.Context, table, homeID string, fn backend.ChangeHandler) (backend.Subscription, error) {
	token := c.Token()
	if token == "" {
		return nil, backend.ErrNotAuthenticated
	}

	u, err := c.realtimeURL(table, homeID)
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	conn, resp, err := ws.Dial(subCtx, u, &ws.DialOptions{
		HTTPHeader: http.Header{"Authorization": {"Bearer " + token}},
	})
	if err != nil {
		cancel()
		if resp != nil && resp.StatusCode >= 400 {
			return nil, &backend.APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return nil, fmt.Errorf("dial realtime: %w", err)
	}
	conn.SetReadLimit(maxFrameSize)

	if err := awaitAck(subCtx, conn); err != nil {
		conn.CloseNow()
		cancel()
		return nil, err
	}

	sub := &subscription{cancel: cancel, conn: conn, done: make(chan struct{})}
	go c.deliver(subCtx, sub, table, homeID, fn)
	c.logger.Debug("subscribed", "table", table, "home_id", homeID)
	return sub, nil
}

func (c *Client) realtimeURL(table, homeID string) (string, error) {
	u, err := url.Parse(c.baseURL + "/realtime/v1")
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.RawQuery = url.Values{"table": {table}, "home_id": {homeID}}.Encode()
	return u.String(), nil
}

func awaitAck(ctx context.Context, conn *ws.Conn) error {
	ctx, cancel := context.WithTimeout(ctx, ackTimeout)
	defer cancel()

	msg, err := readMessage(ctx, conn)
	if err != nil {
		return fmt.Errorf("await subscription ack: %w", err)
	}
	switch msg.Type {
	case realtime.TypeSubscribed:
		return nil
	case realtime.TypeError:
		return fmt.Errorf("subscription rejected: %s", msg.Error)
	default:
		return fmt.Errorf("unexpected first frame %q", msg.Type)
	}
}

func (c *Client) deliver(ctx context.Context, sub *subscription, table, homeID string, fn backend.ChangeHandler) {
	defer close(sub.done)
	defer sub.cancel()

	for {
		msg, err := readMessage(ctx, sub.conn)
		if err != nil {
			if ctx.Err() == nil && !isNormalClose(err) {
				c.logger.Warn("change feed closed", "table", table, "home_id", homeID, "error", err)
			}
			return
		}
		switch msg.Type {
		case realtime.TypeChange:
			if msg.Event != nil {
				fn(*msg.Event)
			}
		case realtime.TypeError:
			c.logger.Warn("change feed error", "table", table, "home_id", homeID, "error", msg.Error)
		}
	}
}

func readMessage(ctx context.Context, conn *ws.Conn) (realtime.Message, error) {
	var msg realtime.Message
	_, data, err := conn.Read(ctx)
	if err != nil {
		return msg, err
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("decode frame: %w", err)
	}
	return msg, nil
}

func isNormalClose(err error) bool {
	return ws.CloseStatus(err) == ws.StatusNormalClosure || errors.Is(err, context.Canceled) ||
		strings.Contains(err.Error(), "use of closed network connection")
}
