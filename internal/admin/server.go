// Package admin exposes the session control surface as MCP tools served
// over websocket. Operators (or automation) drive join/leave, listening
// toggles, throttle resets and status queries through it.
package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/discord-voice-bridge/internal/logging"
	"github.com/discord-voice-bridge/internal/voice"
)

// SessionControl is the slice of the session manager the admin surface
// drives.
type SessionControl interface {
	Join(guildID, channelID string) error
	Leave() error
	StartListening()
	StopListening()
	Status() (connected, active bool)
	Stats() voice.Stats
	ResetThrottle()
}

// Server hosts the MCP websocket endpoint plus a plain health check.
type Server struct {
	control SessionControl
	mcp     *mcp.Server
	httpSrv *http.Server
}

type joinArgs struct {
	GuildID   string `json:"guild_id"`
	ChannelID string `json:"channel_id"`
}

type emptyArgs struct{}

type statusResult struct {
	Connected bool `json:"connected"`
	Active    bool `json:"active"`
}

type statsResult struct {
	ResponsesThisHour  int    `json:"responses_this_hour"`
	MaxPerHour         int    `json:"max_per_hour"`
	TimeUntilReset     string `json:"time_until_reset"`
	ActiveSpeakerCount int    `json:"active_speaker_count"`
}

func NewServer(addr string, control SessionControl) *Server {
	s := &Server{control: control}
	s.mcp = mcp.NewServer(&mcp.Implementation{Name: "voice-bridge-admin", Version: "v1.0.0"}, nil)
	s.registerTools()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	upgrader := websocket.Upgrader{}
	mux.HandleFunc("/mcp/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Warnw("admin: websocket upgrade failed", "err", err)
			return
		}
		go s.serveSession(conn)
	})
	s.httpSrv = &http.Server{Addr: addr, Handler: mux}
	return s
}

func (s *Server) serveSession(conn *websocket.Conn) {
	sess, err := s.mcp.Connect(context.Background(), newWSTransport(conn), nil)
	if err != nil {
		logging.Warnw("admin: mcp connect failed", "err", err)
		conn.Close()
		return
	}
	if err := sess.Wait(); err != nil {
		logging.Debugw("admin: mcp session ended", "err", err)
	}
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "join",
		Description: "Join a voice channel and start a session.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args joinArgs) (*mcp.CallToolResult, any, error) {
		if args.GuildID == "" || args.ChannelID == "" {
			return nil, nil, errors.New("guild_id and channel_id are required")
		}
		if err := s.control.Join(args.GuildID, args.ChannelID); err != nil {
			return nil, nil, err
		}
		return textResult("joined"), nil, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "leave",
		Description: "Leave the current voice channel and tear the session down.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args emptyArgs) (*mcp.CallToolResult, any, error) {
		if err := s.control.Leave(); err != nil {
			return nil, nil, err
		}
		return textResult("left"), nil, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "start_listening",
		Description: "Resume capturing participant audio.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args emptyArgs) (*mcp.CallToolResult, any, error) {
		s.control.StartListening()
		return textResult("listening"), nil, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "stop_listening",
		Description: "Stop capturing participant audio without leaving the channel.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args emptyArgs) (*mcp.CallToolResult, any, error) {
		s.control.StopListening()
		return textResult("paused"), nil, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "status",
		Description: "Report the session connection and listening state.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args emptyArgs) (*mcp.CallToolResult, statusResult, error) {
		connected, active := s.control.Status()
		return nil, statusResult{Connected: connected, Active: active}, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "stats",
		Description: "Report throttle counters and active speaker count.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args emptyArgs) (*mcp.CallToolResult, statsResult, error) {
		st := s.control.Stats()
		return nil, statsResult{
			ResponsesThisHour:  st.ResponsesThisHour,
			MaxPerHour:         st.MaxPerHour,
			TimeUntilReset:     st.TimeUntilReset.Round(time.Second).String(),
			ActiveSpeakerCount: st.ActiveSpeakerCount,
		}, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "reset_throttle",
		Description: "Clear all throttle state: cooldowns, penalties and the hourly counter.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args emptyArgs) (*mcp.CallToolResult, any, error) {
		s.control.ResetThrottle()
		return textResult("throttle reset"), nil, nil
	})
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

// Start serves until ListenAndServe returns. Run it on its own goroutine.
func (s *Server) Start() error {
	logging.Infow("admin: listening", "addr", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("admin server: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
