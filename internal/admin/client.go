package admin

import (
	"context"
	"fmt"
	"net/url"

	"github.com/gorilla/websocket"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Client is the operator-side handle on a running bridge's admin endpoint.
type Client struct {
	session *mcp.ClientSession
}

// Dial connects to the admin websocket endpoint. Accepts http/https URLs
// and rewrites them to the websocket scheme.
func Dial(ctx context.Context, rawurl string) (*Client, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, fmt.Errorf("admin dial: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("admin dial %s: %w", u.String(), err)
	}
	mc := mcp.NewClient(&mcp.Implementation{Name: "bridgectl", Version: "v1.0.0"}, nil)
	sess, err := mc.Connect(ctx, newWSTransport(conn), nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("admin connect: %w", err)
	}
	return &Client{session: sess}, nil
}

// Call invokes one admin tool by name.
func (c *Client) Call(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	if args == nil {
		args = map[string]any{}
	}
	return c.session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
}

func (c *Client) Close() error {
	return c.session.Close()
}
