package throttle

import (
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestEngine(cfg Config, clk *fakeClock) *Engine {
	e := NewEngine(cfg)
	// chance 0 means every Bernoulli draw accepts when p > 0.
	e.SetClock(clk.Now, func() float64 { return 0 })
	return e
}

func permissiveConfig() Config {
	return Config{
		SpeakerCooldown:      0,
		ChannelCooldown:      0,
		MaxResponsesPerHour:  1000,
		BaseResponseChance:   1,
		PreTranscribeBoost:   1,
		ActivationMinSpacing: 0,
		ActivationSpamWindow: 60 * time.Second,
		ActivationSpamLimit:  1000,
		PenaltyCooldown:      60 * time.Second,
		WakeTerms:            []string{"computer"},
	}
}

func TestHourlyLimitBoundary(t *testing.T) {
	clk := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	cfg := permissiveConfig()
	cfg.MaxResponsesPerHour = 1
	e := newTestEngine(cfg, clk)

	if ok, _ := e.ShouldRespond("alice", "ch1", "whatever", false); !ok {
		t.Fatal("first response should be admitted")
	}
	if ok, reason := e.ShouldRespond("bob", "ch2", "whatever", false); ok || reason != "hourly_limit" {
		t.Fatalf("second response should hit hourly limit, got ok=%v reason=%s", ok, reason)
	}
	if ok, reason := e.ShouldConsider("bob", "ch2"); ok || reason != "hourly_limit" {
		t.Fatalf("phase A should hit hourly limit too, got ok=%v reason=%s", ok, reason)
	}

	// One millisecond short of the deadline: still rejected.
	clk.Advance(time.Hour - time.Millisecond)
	if ok, _ := e.ShouldRespond("bob", "ch2", "whatever", false); ok {
		t.Fatal("response just before reset should be rejected")
	}
	// Cross the deadline: exactly one more admitted.
	clk.Advance(time.Millisecond)
	if ok, _ := e.ShouldRespond("bob", "ch2", "whatever", false); !ok {
		t.Fatal("response after reset should be admitted")
	}
	if ok, _ := e.ShouldRespond("carol", "ch3", "whatever", false); ok {
		t.Fatal("second response in new window should be rejected")
	}
}

func TestWakeTermOverridesCooldowns(t *testing.T) {
	clk := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	cfg := permissiveConfig()
	cfg.SpeakerCooldown = 24 * time.Hour
	cfg.ChannelCooldown = 24 * time.Hour
	e := newTestEngine(cfg, clk)

	if ok, _ := e.ShouldRespond("alice", "ch1", "hello computer", false); !ok {
		t.Fatal("first wake response should be admitted")
	}
	// Speaker responded 1ms ago and both cooldowns are huge; a wake term
	// must still force acceptance.
	clk.Advance(time.Millisecond)
	if ok, reason := e.ShouldRespond("alice", "ch1", "Computer, what time is it?", false); !ok || reason != "wake_term" {
		t.Fatalf("wake term should bypass cooldowns, got ok=%v reason=%s", ok, reason)
	}
	// Without the wake term the cooldown applies.
	clk.Advance(time.Millisecond)
	if ok, _ := e.ShouldRespond("alice", "ch1", "just chatting", false); ok {
		t.Fatal("non-wake transcript inside cooldown should be rejected")
	}
}

func TestActivationSpamPenalty(t *testing.T) {
	clk := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	cfg := permissiveConfig()
	cfg.ActivationSpamLimit = 3
	e := newTestEngine(cfg, clk)

	// Three activations inside the window pass the spam check.
	for i := 0; i < 3; i++ {
		if ok, reason := e.ShouldConsider("spammer", "ch1"); !ok {
			t.Fatalf("activation %d should pass, got reason=%s", i+1, reason)
		}
		clk.Advance(time.Second)
	}
	// The next attempt trips the detector and imposes the penalty.
	if ok, reason := e.ShouldConsider("spammer", "ch1"); ok || reason != "activation_spam_penalty" {
		t.Fatalf("spam attempt should be penalized, got ok=%v reason=%s", ok, reason)
	}
	if !e.PenaltyActive("spammer") {
		t.Fatal("penalty should be active")
	}

	// Rejected for the remainder of the penalty even with good spacing.
	clk.Advance(30 * time.Second)
	if ok, reason := e.ShouldConsider("spammer", "ch1"); ok || reason != "penalty_cooldown" {
		t.Fatalf("penalized speaker should be rejected, got ok=%v reason=%s", ok, reason)
	}

	// Penalty expires after its full 60s window.
	clk.Advance(31 * time.Second)
	if e.PenaltyActive("spammer") {
		t.Fatal("penalty should have expired")
	}
	if ok, reason := e.ShouldConsider("spammer", "ch1"); !ok {
		t.Fatalf("post-penalty activation should pass, got reason=%s", reason)
	}
}

func TestActivationSpacing(t *testing.T) {
	clk := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	cfg := permissiveConfig()
	cfg.ActivationMinSpacing = 2 * time.Second
	e := newTestEngine(cfg, clk)

	if ok, _ := e.ShouldConsider("alice", "ch1"); !ok {
		t.Fatal("first activation should pass")
	}
	clk.Advance(500 * time.Millisecond)
	if ok, reason := e.ShouldConsider("alice", "ch1"); ok || reason != "activation_spacing" {
		t.Fatalf("rapid activation should be rejected, got ok=%v reason=%s", ok, reason)
	}
	clk.Advance(2 * time.Second)
	if ok, _ := e.ShouldConsider("alice", "ch1"); !ok {
		t.Fatal("spaced activation should pass")
	}
}

func TestRandomGate(t *testing.T) {
	clk := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	cfg := permissiveConfig()
	cfg.BaseResponseChance = 0.2
	cfg.PreTranscribeBoost = 3
	e := NewEngine(cfg)

	draw := 0.5
	e.SetClock(clk.Now, func() float64 { return draw })

	// Phase A uses base*boost = 0.6, so a 0.5 draw passes.
	if ok, _ := e.ShouldConsider("alice", "ch1"); !ok {
		t.Fatal("phase A should pass with boosted probability")
	}
	// Phase B uses the bare base chance 0.2, so the same draw fails.
	if ok, reason := e.ShouldRespond("alice", "ch1", "no wake word here", false); ok || reason != "random_gate" {
		t.Fatalf("phase B should fail the bare draw, got ok=%v reason=%s", ok, reason)
	}
}

func TestHighPriorityBypassesRandomGate(t *testing.T) {
	clk := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	cfg := permissiveConfig()
	cfg.BaseResponseChance = 0.2
	e := NewEngine(cfg)
	e.SetClock(clk.Now, func() float64 { return 0.99 })

	// A 0.99 draw fails the bare 0.2 chance for a normal utterance.
	if ok, reason := e.ShouldRespond("alice", "ch1", "no wake word", false); ok || reason != "random_gate" {
		t.Fatalf("normal priority should fail the draw, got ok=%v reason=%s", ok, reason)
	}
	// High priority skips the draw entirely.
	if ok, reason := e.ShouldRespond("alice", "ch1", "no wake word", true); !ok {
		t.Fatalf("high priority should bypass the random gate, got reason=%s", reason)
	}

	// It does not bypass cooldowns.
	cfg2 := permissiveConfig()
	cfg2.SpeakerCooldown = time.Hour
	e2 := newTestEngine(cfg2, clk)
	e2.ShouldRespond("bob", "ch2", "first", false)
	clk.Advance(time.Millisecond)
	if ok, reason := e2.ShouldRespond("bob", "ch2", "second", true); ok || reason != "speaker_cooldown" {
		t.Fatalf("high priority should still respect cooldowns, got ok=%v reason=%s", ok, reason)
	}
}

func TestStatsAndReset(t *testing.T) {
	clk := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	e := newTestEngine(permissiveConfig(), clk)

	e.ShouldRespond("alice", "ch1", "computer hi", false)
	e.ShouldRespond("alice", "ch1", "computer hi again", false)
	st := e.Stats()
	if st.ResponsesThisHour != 2 {
		t.Fatalf("ResponsesThisHour = %d, want 2", st.ResponsesThisHour)
	}
	if st.SpeakerLifetime["alice"] != 2 {
		t.Fatalf("lifetime(alice) = %d, want 2", st.SpeakerLifetime["alice"])
	}
	if st.TimeUntilReset <= 0 || st.TimeUntilReset > time.Hour {
		t.Fatalf("TimeUntilReset = %v, want (0,1h]", st.TimeUntilReset)
	}

	e.Reset()
	st = e.Stats()
	if st.ResponsesThisHour != 0 || len(st.SpeakerLifetime) != 0 {
		t.Fatalf("stats after reset = %+v, want empty", st)
	}
}

func TestClearSpeakerDropsPenalty(t *testing.T) {
	clk := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	cfg := permissiveConfig()
	cfg.ActivationSpamLimit = 1
	e := newTestEngine(cfg, clk)

	e.ShouldConsider("spammer", "ch1")
	clk.Advance(time.Second)
	e.ShouldConsider("spammer", "ch1") // trips penalty
	if !e.PenaltyActive("spammer") {
		t.Fatal("penalty should be active")
	}
	e.ClearSpeaker("spammer")
	if e.PenaltyActive("spammer") {
		t.Fatal("cleared speaker should have no penalty")
	}
}
