// Package nats wraps nats.go with connection management and subscription
// tracking for the packet dispatcher (C9): request/reply over NATS subjects
// stands in for the GPR point-to-point link between the runtime and a
// satellite.
package nats

import (
	"context"
	"fmt"
	"sync"

	"github.com/acdbrt/acdbrt/pkg/log"
	"github.com/nats-io/nats.go"
)

var natsLog = log.Component("NATS")

// MessageHandler is a callback for messages received on a subject.
type MessageHandler func(subject string, data []byte)

// Options configures the connection. Address is required; with no
// credentials set, Connect connects without auth.
type Options struct {
	Address       string
	Username      string
	Password      string
	CredsFilePath string
}

// Client wraps a NATS connection with subscription management.
type Client struct {
	conn          *nats.Conn
	subscriptions []*nats.Subscription
	mu            sync.Mutex
}

// Connect dials addr and returns a ready Client.
func Connect(opts Options) (*Client, error) {
	if opts.Address == "" {
		return nil, fmt.Errorf("nats: address is required")
	}

	var natsOpts []nats.Option
	if opts.Username != "" && opts.Password != "" {
		natsOpts = append(natsOpts, nats.UserInfo(opts.Username, opts.Password))
	}
	if opts.CredsFilePath != "" {
		natsOpts = append(natsOpts, nats.UserCredentials(opts.CredsFilePath))
	}
	natsOpts = append(natsOpts,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				natsLog.Warnf("disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			natsLog.Infof("reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			natsLog.Errorf("async error: %v", err)
		}),
	)

	nc, err := nats.Connect(opts.Address, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("nats: connect to %q: %w", opts.Address, err)
	}
	natsLog.Infof("connected to %s", opts.Address)

	return &Client{conn: nc, subscriptions: make([]*nats.Subscription, 0)}, nil
}

// Subscribe registers handler for subject.
func (c *Client) Subscribe(subject string, handler MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats: subscribe to %q: %w", subject, err)
	}
	c.subscriptions = append(c.subscriptions, sub)
	return nil
}

// Publish sends data to subject, fire-and-forget.
func (c *Client) Publish(subject string, data []byte) error {
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("nats: publish to %q: %w", subject, err)
	}
	return nil
}

// Request sends data to subject and blocks for a single reply or ctx's
// deadline.
func (c *Client) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	msg, err := c.conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, fmt.Errorf("nats: request to %q: %w", subject, err)
	}
	return msg.Data, nil
}

// Flush blocks until all published messages have reached the server.
func (c *Client) Flush() error {
	return c.conn.Flush()
}

// Close unsubscribes every tracked subscription and closes the connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, sub := range c.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			natsLog.Warnf("unsubscribe failed: %v", err)
		}
	}
	c.subscriptions = nil

	if c.conn != nil {
		c.conn.Close()
	}
}

// IsConnected reports whether the underlying connection is active.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Connection returns the underlying NATS connection for advanced usage.
func (c *Client) Connection() *nats.Conn {
	return c.conn
}
