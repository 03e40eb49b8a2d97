// Package controlplane maintains a WebSocket connection to the gateway's
// control plane, streaming key-set and router-config updates into the
// running process. Grounded on
// original_source/ai-gateway/src/control_plane/websocket.rs; the original
// protocol is not translated, only its event shape (Keys / Config /
// Unauthorized).
package controlplane

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/nulpointcorp/llm-gateway/internal/auth"
)

// Frame is the tagged union of messages the control plane may send.
type Frame struct {
	Type string          `json:"type"` // "keys" | "config" | "error"
	Keys []auth.KeyRecord `json:"keys,omitempty"`
	// Config carries a raw JSON router-config document; the caller's
	// OnConfig handler is responsible for unmarshaling it into
	// config.Routers.
	Config json.RawMessage `json:"config,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Client manages one reconnecting control-plane WebSocket connection.
type Client struct {
	URL    string
	APIKey string
	Keys   *auth.KeySet
	Logger *slog.Logger

	// OnConfig is invoked with the raw router-config payload whenever a
	// Frame{Type: "config"} arrives.
	OnConfig func(raw json.RawMessage)

	// history keeps the last few frames for diagnostics.
	history []Frame
}

const maxHistory = 32

// Run connects and processes frames until ctx is canceled, reconnecting
// with backoff on any transport error. It returns only once ctx is
// canceled, and then returns ctx.Err().
func (c *Client) Run(ctx context.Context) error {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := c.connectOnce(ctx, logger); err != nil {
			logger.Warn("control plane connection lost", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (c *Client) connectOnce(ctx context.Context, logger *slog.Logger) error {
	conn, _, err := websocket.Dial(ctx, c.URL, &websocket.DialOptions{
		HTTPHeader: map[string][]string{"Authorization": {"Bearer " + c.APIKey}},
	})
	if err != nil {
		return fmt.Errorf("control plane dial: %w", err)
	}
	defer conn.CloseNow()

	for {
		var f Frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			return fmt.Errorf("control plane read: %w", err)
		}
		c.record(f)

		switch f.Type {
		case "keys":
			c.Keys.Replace(f.Keys)
			logger.Info("control plane key set updated", slog.Int("count", len(f.Keys)))
		case "config":
			if c.OnConfig != nil {
				c.OnConfig(f.Config)
			}
		case "error":
			logger.Error("control plane reported error", slog.String("error", f.Error))
			if f.Error == "unauthorized" {
				return fmt.Errorf("control plane: unauthorized")
			}
		}
	}
}

func (c *Client) record(f Frame) {
	c.history = append(c.history, f)
	if len(c.history) > maxHistory {
		c.history = c.history[len(c.history)-maxHistory:]
	}
}

// History returns a copy of the most recently received frames, for a
// diagnostics endpoint.
func (c *Client) History() []Frame {
	out := make([]Frame, len(c.history))
	copy(out, c.history)
	return out
}
