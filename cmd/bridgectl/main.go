// bridgectl drives a running bridge's admin endpoint from the command line.
//
// Usage:
//
//	bridgectl [-addr URL] status
//	bridgectl [-addr URL] stats
//	bridgectl [-addr URL] join GUILD_ID CHANNEL_ID
//	bridgectl [-addr URL] leave
//	bridgectl [-addr URL] start-listening | stop-listening
//	bridgectl [-addr URL] reset-throttle
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/discord-voice-bridge/internal/admin"
)

func main() {
	addr := flag.String("addr", "ws://127.0.0.1:8090/mcp/ws", "admin websocket endpoint")
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: bridgectl [-addr URL] COMMAND [ARGS]")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client, err := admin.Dial(ctx, *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bridgectl: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	var (
		tool     string
		toolArgs map[string]any
	)
	switch args[0] {
	case "join":
		if len(args) != 3 {
			fmt.Fprintln(os.Stderr, "usage: bridgectl join GUILD_ID CHANNEL_ID")
			os.Exit(2)
		}
		tool = "join"
		toolArgs = map[string]any{"guild_id": args[1], "channel_id": args[2]}
	case "leave":
		tool = "leave"
	case "start-listening":
		tool = "start_listening"
	case "stop-listening":
		tool = "stop_listening"
	case "status":
		tool = "status"
	case "stats":
		tool = "stats"
	case "reset-throttle":
		tool = "reset_throttle"
	default:
		fmt.Fprintf(os.Stderr, "bridgectl: unknown command %q\n", args[0])
		os.Exit(2)
	}

	res, err := client.Call(ctx, tool, toolArgs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bridgectl: %s: %v\n", tool, err)
		os.Exit(1)
	}
	if res.IsError {
		fmt.Fprintf(os.Stderr, "bridgectl: %s failed: %s\n", tool, renderContent(res.Content))
		os.Exit(1)
	}
	if res.StructuredContent != nil {
		b, _ := json.MarshalIndent(res.StructuredContent, "", "  ")
		fmt.Println(string(b))
		return
	}
	fmt.Println(renderContent(res.Content))
}

func renderContent(content []mcp.Content) string {
	out := ""
	for _, c := range content {
		if tc, ok := c.(*mcp.TextContent); ok {
			if out != "" {
				out += "\n"
			}
			out += tc.Text
		}
	}
	return out
}
