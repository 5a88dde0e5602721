package realtime

import (
	"context"
	"encoding/json"
	"time"

	ws "github.com/coder/websocket"
)

const (
	sendBufferSize = 64
	pingInterval   = 30 * time.Second
)

// Client is one subscribed WebSocket connection of userID.
type Client struct {
	hub    *Hub
	conn   *ws.Conn
	userID string
	topic  Topic
	send   chan []byte
}

func NewClient(hub *Hub, conn *ws.Conn, userID string, topic Topic) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		userID: userID,
		topic:  topic,
		send:   make(chan []byte, sendBufferSize),
	}
}

// ack queues the subscribed acknowledgement. It runs before Register so the
// ack is always the first frame the subscriber sees.
func (c *Client) ack() {
	data, _ := json.Marshal(Message{Type: TypeSubscribed, Table: c.topic.Table, HomeID: c.topic.HomeID})
	c.send <- data
}

// Run acknowledges the subscription, registers the client and pumps until
// the connection closes.
func (c *Client) Run(ctx context.Context) {
	c.ack()
	c.hub.Register(c)
	defer c.hub.Unregister(c)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writePump(ctx)
	c.readPump(ctx)
}

// readPump discards incoming frames and returns when the connection closes.
func (c *Client) readPump(ctx context.Context) {
	for {
		_, _, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
	}
}

func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				// The hub dropped the client; end the connection so the
				// read pump returns too.
				c.conn.Close(ws.StatusPolicyViolation, "subscription closed")
				return
			}
			if err := c.conn.Write(ctx, ws.MessageText, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.Ping(ctx); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
