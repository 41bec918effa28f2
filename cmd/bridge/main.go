package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/discord-voice-bridge/internal/admin"
	"github.com/discord-voice-bridge/internal/backend"
	"github.com/discord-voice-bridge/internal/config"
	"github.com/discord-voice-bridge/internal/logging"
	"github.com/discord-voice-bridge/internal/observability"
	"github.com/discord-voice-bridge/internal/platform"
	"github.com/discord-voice-bridge/internal/voice"
)

// channelNotifier posts bridge text (fallback apologies, text-only replies)
// to a regular text channel. Inactive when no channel is configured.
type channelNotifier struct {
	session   *discordgo.Session
	channelID string
}

func (n *channelNotifier) Notify(text string) {
	if n.channelID == "" {
		return
	}
	if _, err := n.session.ChannelMessageSend(n.channelID, text); err != nil {
		logging.Warnw("notify: channel message failed", "channel_id", n.channelID, "err", err)
	}
}

func main() {
	sugar := logging.Init()
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		sugar.Fatalf("config: %v", err)
	}
	if cfg.DiscordToken == "" {
		sugar.Fatal("DISCORD_BOT_TOKEN required")
	}
	if cfg.GeminiAPIKey == "" {
		sugar.Fatal("GEMINI_API_KEY required")
	}

	dg, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		sugar.Fatalf("discordgo.New: %v", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates | discordgo.IntentsGuildMessages
	sugar.Infow("opening discord session", "intents", dg.Identify.Intents)
	if err := dg.Open(); err != nil {
		sugar.Fatalf("discord session open failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := backend.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		sugar.Fatalf("backend client: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	notifier := &channelNotifier{session: dg, channelID: cfg.TextChannelID}
	manager := voice.NewManager(cfg, platform.NewDiscordJoiner(dg), client, metrics, notifier)

	var wg sync.WaitGroup
	if archive := manager.Archive(); archive != nil {
		wg.Add(1)
		archive.StartCleaner(ctx, &wg, time.Hour)
	}

	adminSrv := admin.NewServer(cfg.AdminBindAddr, manager)
	go func() {
		if err := adminSrv.Start(); err != nil {
			sugar.Errorf("admin server: %v", err)
		}
	}()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", observability.Handler())
	metricsSrv := &http.Server{Addr: cfg.MetricsBindAddr, Handler: metricsMux}
	go func() {
		sugar.Infow("metrics listening", "addr", cfg.MetricsBindAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Errorf("metrics server: %v", err)
		}
	}()

	if cfg.GuildID != "" && cfg.VoiceChannelID != "" {
		if err := manager.Join(cfg.GuildID, cfg.VoiceChannelID); err != nil {
			sugar.Warnf("auto-join failed: %v", err)
		}
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	sugar.Infow("shutdown signal received")

	if err := manager.Leave(); err != nil {
		sugar.Warnf("session teardown: %v", err)
	}
	cancel()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		sugar.Warnf("admin shutdown: %v", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		sugar.Warnf("metrics shutdown: %v", err)
	}
	if err := dg.Close(); err != nil {
		sugar.Warnf("discord session close: %v", err)
	}
	sugar.Info("shutdown complete")
}
