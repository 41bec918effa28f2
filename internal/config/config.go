package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Fixed PCM formats on either side of the bridge. The platform side is what
// Discord voice delivers after opus decode; the backend rates must match the
// generation config sent to the model. Declared once so the resampler call
// sites and the backend client cannot drift apart.
const (
	PlatformSampleRate = 48000
	PlatformChannels   = 2

	BackendSendRate     = 16000
	BackendSendChannels = 1

	BackendReplyRate     = 24000
	BackendReplyChannels = 1
)

// Config contains all runtime settings for the voice bridge.
type Config struct {
	DiscordToken   string
	GuildID        string
	VoiceChannelID string
	TextChannelID  string

	GeminiAPIKey      string
	GeminiModel       string
	SystemInstruction string
	BackendTimeout    time.Duration
	ApologyText       string

	WakeTerms []string

	// Throttle knobs. All windows are lazy deadlines, never timers.
	SpeakerCooldown       time.Duration
	ChannelCooldown       time.Duration
	MaxResponsesPerHour   int
	BaseResponseChance    float64
	PreTranscribeBoost    float64
	ActivationMinSpacing  time.Duration
	ActivationSpamWindow  time.Duration
	ActivationSpamLimit   int
	PenaltyCooldown       time.Duration

	// Capture / session behavior.
	TrailingSilence   time.Duration
	BoundarySweep     time.Duration
	ReconnectAttempts int
	ReconnectBase     time.Duration
	NoiseGateLevel    int

	// Optional per-speaker volume monitoring (auto-mute variant).
	AutoMuteEnabled  bool
	AutoMuteRMS      float64
	AutoMuteDuration time.Duration

	// Optional on-disk capture archive for debugging.
	ArchiveDir       string
	ArchiveRetention time.Duration
	ArchiveMaxFiles  int

	AdminBindAddr    string
	MetricsBindAddr  string
	MetricsNamespace string
}

// Load reads environment variables and applies safe defaults. Validation
// failures are returned, not fatal'ed, so callers decide how to exit.
func Load() (Config, error) {
	cfg := Config{
		DiscordToken:      strings.TrimSpace(os.Getenv("DISCORD_BOT_TOKEN")),
		GuildID:           strings.TrimSpace(os.Getenv("GUILD_ID")),
		VoiceChannelID:    strings.TrimSpace(os.Getenv("VOICE_CHANNEL_ID")),
		TextChannelID:     strings.TrimSpace(os.Getenv("TEXT_CHANNEL_ID")),
		GeminiAPIKey:      strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		GeminiModel:       envOrDefault("GEMINI_MODEL", "gemini-2.0-flash-live-001"),
		SystemInstruction: envOrDefault("SYSTEM_INSTRUCTION", "You are a helpful voice companion in a group call. Keep replies short and conversational."),
		ApologyText:       envOrDefault("APOLOGY_TEXT", "Sorry, I didn't catch that. Mind trying again?"),
		WakeTerms:         splitList(envOrDefault("WAKE_TERMS", "computer,hey computer,ok computer")),

		BackendTimeout:       15 * time.Second,
		SpeakerCooldown:      30 * time.Second,
		ChannelCooldown:      10 * time.Second,
		MaxResponsesPerHour:  60,
		BaseResponseChance:   0.15,
		PreTranscribeBoost:   3.0,
		ActivationMinSpacing: 2 * time.Second,
		ActivationSpamWindow: 60 * time.Second,
		ActivationSpamLimit:  3,
		PenaltyCooldown:      60 * time.Second,

		TrailingSilence:   700 * time.Millisecond,
		BoundarySweep:     30 * time.Second,
		ReconnectAttempts: 5,
		ReconnectBase:     2 * time.Second,
		NoiseGateLevel:    0,

		AutoMuteRMS:      0.35,
		AutoMuteDuration: 10 * time.Second,

		ArchiveDir:       strings.TrimSpace(os.Getenv("ARCHIVE_DIR")),
		ArchiveRetention: 24 * time.Hour,
		ArchiveMaxFiles:  500,

		AdminBindAddr:    envOrDefault("ADMIN_BIND_ADDR", ":8090"),
		MetricsBindAddr:  envOrDefault("METRICS_BIND_ADDR", ":9100"),
		MetricsNamespace: envOrDefault("METRICS_NAMESPACE", "voicebridge"),
	}

	var err error
	if cfg.BackendTimeout, err = durationFromEnv("BACKEND_TIMEOUT", cfg.BackendTimeout); err != nil {
		return Config{}, err
	}
	if cfg.SpeakerCooldown, err = durationFromEnv("SPEAKER_COOLDOWN", cfg.SpeakerCooldown); err != nil {
		return Config{}, err
	}
	if cfg.ChannelCooldown, err = durationFromEnv("CHANNEL_COOLDOWN", cfg.ChannelCooldown); err != nil {
		return Config{}, err
	}
	if cfg.MaxResponsesPerHour, err = intFromEnv("MAX_RESPONSES_PER_HOUR", cfg.MaxResponsesPerHour); err != nil {
		return Config{}, err
	}
	if cfg.BaseResponseChance, err = floatFromEnv("BASE_RESPONSE_CHANCE", cfg.BaseResponseChance); err != nil {
		return Config{}, err
	}
	if cfg.PreTranscribeBoost, err = floatFromEnv("PRE_TRANSCRIBE_BOOST", cfg.PreTranscribeBoost); err != nil {
		return Config{}, err
	}
	if cfg.ActivationMinSpacing, err = durationFromEnv("ACTIVATION_MIN_SPACING", cfg.ActivationMinSpacing); err != nil {
		return Config{}, err
	}
	if cfg.ActivationSpamWindow, err = durationFromEnv("ACTIVATION_SPAM_WINDOW", cfg.ActivationSpamWindow); err != nil {
		return Config{}, err
	}
	if cfg.ActivationSpamLimit, err = intFromEnv("ACTIVATION_SPAM_LIMIT", cfg.ActivationSpamLimit); err != nil {
		return Config{}, err
	}
	if cfg.PenaltyCooldown, err = durationFromEnv("PENALTY_COOLDOWN", cfg.PenaltyCooldown); err != nil {
		return Config{}, err
	}
	if cfg.TrailingSilence, err = durationFromEnv("TRAILING_SILENCE", cfg.TrailingSilence); err != nil {
		return Config{}, err
	}
	if cfg.ReconnectAttempts, err = intFromEnv("RECONNECT_ATTEMPTS", cfg.ReconnectAttempts); err != nil {
		return Config{}, err
	}
	if cfg.ReconnectBase, err = durationFromEnv("RECONNECT_BASE_DELAY", cfg.ReconnectBase); err != nil {
		return Config{}, err
	}
	if cfg.NoiseGateLevel, err = intFromEnv("NOISE_GATE_LEVEL", cfg.NoiseGateLevel); err != nil {
		return Config{}, err
	}
	if cfg.AutoMuteEnabled, err = boolFromEnv("AUTO_MUTE_ENABLED", cfg.AutoMuteEnabled); err != nil {
		return Config{}, err
	}
	if cfg.AutoMuteRMS, err = floatFromEnv("AUTO_MUTE_RMS", cfg.AutoMuteRMS); err != nil {
		return Config{}, err
	}
	if cfg.AutoMuteDuration, err = durationFromEnv("AUTO_MUTE_DURATION", cfg.AutoMuteDuration); err != nil {
		return Config{}, err
	}
	if cfg.ArchiveRetention, err = durationFromEnv("ARCHIVE_RETENTION", cfg.ArchiveRetention); err != nil {
		return Config{}, err
	}
	if cfg.ArchiveMaxFiles, err = intFromEnv("ARCHIVE_MAX_FILES", cfg.ArchiveMaxFiles); err != nil {
		return Config{}, err
	}

	if cfg.BaseResponseChance < 0 || cfg.BaseResponseChance > 1 {
		return Config{}, fmt.Errorf("BASE_RESPONSE_CHANCE must be in [0,1], got %v", cfg.BaseResponseChance)
	}
	if cfg.MaxResponsesPerHour <= 0 {
		return Config{}, fmt.Errorf("MAX_RESPONSES_PER_HOUR must be positive, got %d", cfg.MaxResponsesPerHour)
	}
	if cfg.ActivationSpamLimit <= 0 {
		return Config{}, fmt.Errorf("ACTIVATION_SPAM_LIMIT must be positive, got %d", cfg.ActivationSpamLimit)
	}
	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.ToLower(strings.TrimSpace(p)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func durationFromEnv(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, v, err)
	}
	return d, nil
}

func intFromEnv(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, v, err)
	}
	return n, nil
}

func floatFromEnv(key string, def float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q: %w", key, v, err)
	}
	return f, nil
}

func boolFromEnv(key string, def bool) (bool, error) {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return def, nil
	}
	switch v {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("%s: invalid boolean %q", key, v)
}
