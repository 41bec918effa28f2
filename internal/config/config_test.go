package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MaxResponsesPerHour != 60 {
		t.Fatalf("MaxResponsesPerHour = %d, want 60", cfg.MaxResponsesPerHour)
	}
	if cfg.ActivationSpamLimit != 3 {
		t.Fatalf("ActivationSpamLimit = %d, want 3", cfg.ActivationSpamLimit)
	}
	if cfg.PenaltyCooldown != time.Minute {
		t.Fatalf("PenaltyCooldown = %v, want 1m", cfg.PenaltyCooldown)
	}
	if len(cfg.WakeTerms) == 0 {
		t.Fatalf("WakeTerms should have defaults")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SPEAKER_COOLDOWN", "45s")
	t.Setenv("BASE_RESPONSE_CHANCE", "0.5")
	t.Setenv("WAKE_TERMS", " Koko , HEY koko ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SpeakerCooldown != 45*time.Second {
		t.Fatalf("SpeakerCooldown = %v, want 45s", cfg.SpeakerCooldown)
	}
	if cfg.BaseResponseChance != 0.5 {
		t.Fatalf("BaseResponseChance = %v, want 0.5", cfg.BaseResponseChance)
	}
	if len(cfg.WakeTerms) != 2 || cfg.WakeTerms[0] != "koko" || cfg.WakeTerms[1] != "hey koko" {
		t.Fatalf("WakeTerms = %v, want normalized [koko, hey koko]", cfg.WakeTerms)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct{ key, val string }{
		{"SPEAKER_COOLDOWN", "soon"},
		{"MAX_RESPONSES_PER_HOUR", "0"},
		{"BASE_RESPONSE_CHANCE", "1.5"},
		{"AUTO_MUTE_ENABLED", "maybe"},
	}
	for _, tc := range cases {
		t.Run(tc.key, func(t *testing.T) {
			t.Setenv(tc.key, tc.val)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() with %s=%s should fail", tc.key, tc.val)
			}
		})
	}
}
