package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tlcharts/internal/config"
	"tlcharts/internal/pubsub"

	"github.com/nats-io/nats.go"
	"gitlab.com/nevasik7/alerting/logger"
)

var _ pubsub.Broadcaster = (*Client)(nil)

var ErrNotConnected = errors.New("nats is not connected")

type Client struct {
	nc  *nats.Conn
	log logger.Logger
}

func Connect(cfg *config.NATSConfig, log logger.Logger) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}

	url := cfg.URL
	if url == "" {
		return nil, errors.New("nats url is required")
	}

	opts := []nats.Option{
		nats.Name("tlcharts"),
		nats.Timeout(5 * time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1), // endless reconnected
		nats.ReconnectWait(2 * time.Second),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	log.Infof("Connected to NATS successfully, url=%s", url)

	return &Client{
		nc:  nc,
		log: log,
	}, nil
}

// Publish sends data as JSON, []byte is sent as is
func (c *Client) Publish(_ context.Context, subject string, data interface{}) error {
	if c.nc == nil {
		return ErrNotConnected
	}

	var payload []byte
	switch v := data.(type) {
	case []byte:
		payload = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode NATS payload: %w", err)
		}
		payload = b
	}

	if err := c.nc.Publish(subject, payload); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

func (c *Client) Health(_ context.Context) error {
	if !c.Ready() {
		return fmt.Errorf("%w: status=%s", ErrNotConnected, c.Status())
	}
	return nil
}

func (c *Client) Ready() bool {
	if c.nc == nil {
		return false
	}
	return c.nc.Status() == nats.CONNECTED
}

func (c *Client) Status() nats.Status {
	if c.nc == nil {
		return nats.DISCONNECTED
	}
	return c.nc.Status()
}

func (c *Client) Close() error {
	if c.nc == nil {
		return nil
	}

	// check not close this conn
	if c.nc.Status() == nats.CLOSED {
		return nil
	}

	if err := c.nc.Drain(); err != nil {
		c.log.Errorf("Failed to drain connection to NATS, error=%v", err)
		c.nc.Close()
		return fmt.Errorf("failed to drain connection to NATS: %w", err)
	}

	c.nc.Close()
	c.log.Infof("NATS connection closed gracefully")
	return nil
}
