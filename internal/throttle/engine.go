// Package throttle implements two-phase admission control for utterances:
// a cheap probabilistic pre-filter before transcription and a precise,
// wake-term-aware decision after it. All cooldowns are lazy deadlines
// checked on access; the engine never schedules timers.
package throttle

import (
	"math/rand"
	"strings"
	"sync"
	"time"
)

// Config carries every tunable window, threshold and probability. None of
// these are invariants of the algorithm; the two-phase shape is.
type Config struct {
	SpeakerCooldown      time.Duration
	ChannelCooldown      time.Duration
	MaxResponsesPerHour  int
	BaseResponseChance   float64
	PreTranscribeBoost   float64
	ActivationMinSpacing time.Duration
	ActivationSpamWindow time.Duration
	ActivationSpamLimit  int
	PenaltyCooldown      time.Duration
	WakeTerms            []string
}

type speakerState struct {
	lastResponse    time.Time
	lastActivation  time.Time
	activationCount int
	windowReset     time.Time
	penaltyUntil    time.Time
	lifetime        int
}

// Engine owns all cooldown state for one session topology. Construct one per
// process (or per guild for multi-tenancy) and pass it by handle; there is
// no package-level state.
type Engine struct {
	mu  sync.Mutex
	cfg Config

	speakers  map[string]*speakerState
	channels  map[string]time.Time
	hourCount int
	hourReset time.Time

	now    func() time.Time
	chance func() float64
}

func NewEngine(cfg Config) *Engine {
	return &Engine{
		cfg:      cfg,
		speakers: make(map[string]*speakerState),
		channels: make(map[string]time.Time),
		now:      time.Now,
		chance:   rand.Float64,
	}
}

// SetClock overrides the time and randomness sources. Test hook.
func (e *Engine) SetClock(now func() time.Time, chance func() float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if now != nil {
		e.now = now
	}
	if chance != nil {
		e.chance = chance
	}
}

func (e *Engine) speaker(id string) *speakerState {
	s, ok := e.speakers[id]
	if !ok {
		s = &speakerState{}
		e.speakers[id] = s
	}
	return s
}

// rollHour advances the global hourly window if its deadline has passed.
// Caller holds e.mu.
func (e *Engine) rollHour(now time.Time) {
	if e.hourReset.IsZero() || !now.Before(e.hourReset) {
		e.hourReset = now.Add(time.Hour)
		e.hourCount = 0
	}
}

// ShouldConsider is Phase A: decides whether an utterance is worth the cost
// of capture conversion and a backend round trip. The returned reason is for
// logging only.
func (e *Engine) ShouldConsider(speakerID, channelID string) (bool, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	s := e.speaker(speakerID)

	// Penalty dominates every other check.
	if now.Before(s.penaltyUntil) {
		return false, "penalty_cooldown"
	}

	// Voice-activation spam detector: spacing first, then the rolling window.
	if !s.lastActivation.IsZero() && now.Sub(s.lastActivation) < e.cfg.ActivationMinSpacing {
		return false, "activation_spacing"
	}
	if now.After(s.windowReset) {
		s.windowReset = now.Add(e.cfg.ActivationSpamWindow)
		s.activationCount = 0
	}
	if s.activationCount >= e.cfg.ActivationSpamLimit {
		s.penaltyUntil = now.Add(e.cfg.PenaltyCooldown)
		return false, "activation_spam_penalty"
	}
	s.activationCount++
	s.lastActivation = now

	e.rollHour(now)
	if e.hourCount >= e.cfg.MaxResponsesPerHour {
		return false, "hourly_limit"
	}
	if last, ok := e.channels[channelID]; ok && now.Sub(last) < e.cfg.ChannelCooldown {
		return false, "channel_cooldown"
	}
	if !s.lastResponse.IsZero() && now.Sub(s.lastResponse) < e.cfg.SpeakerCooldown {
		return false, "speaker_cooldown"
	}

	// Widened funnel: a later wake-term match must not be lost to the base
	// chance alone, so the pre-transcription draw is boosted.
	p := e.cfg.BaseResponseChance * e.cfg.PreTranscribeBoost
	if p > 1 {
		p = 1
	}
	if e.chance() >= p {
		return false, "random_gate"
	}
	return true, "accepted"
}

// ShouldRespond is Phase B: given the transcript, decides whether to answer.
// A wake-term match overrides every cooldown. highPriority skips only the
// random gate; cooldowns and the hourly quota still apply. Acceptance
// records the response atomically with the decision.
func (e *Engine) ShouldRespond(speakerID, channelID, transcript string, highPriority bool) (bool, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()

	e.rollHour(now)
	if e.hourCount >= e.cfg.MaxResponsesPerHour {
		return false, "hourly_limit"
	}

	lower := strings.ToLower(transcript)
	for _, term := range e.cfg.WakeTerms {
		if term != "" && strings.Contains(lower, term) {
			e.recordLocked(speakerID, channelID, now)
			return true, "wake_term"
		}
	}

	s := e.speaker(speakerID)
	if last, ok := e.channels[channelID]; ok && now.Sub(last) < e.cfg.ChannelCooldown {
		return false, "channel_cooldown"
	}
	if !s.lastResponse.IsZero() && now.Sub(s.lastResponse) < e.cfg.SpeakerCooldown {
		return false, "speaker_cooldown"
	}
	if !highPriority && e.chance() >= e.cfg.BaseResponseChance {
		return false, "random_gate"
	}
	e.recordLocked(speakerID, channelID, now)
	return true, "accepted"
}

func (e *Engine) recordLocked(speakerID, channelID string, now time.Time) {
	s := e.speaker(speakerID)
	s.lastResponse = now
	s.lifetime++
	e.channels[channelID] = now
	e.hourCount++
}

// PenaltyActive reports whether the speaker is under an active penalty
// cooldown. Consulted by the speech boundary tracker.
func (e *Engine) PenaltyActive(speakerID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.speakers[speakerID]
	return ok && e.now().Before(s.penaltyUntil)
}

// Stats is a point-in-time snapshot for the admin surface.
type Stats struct {
	ResponsesThisHour int
	MaxPerHour        int
	TimeUntilReset    time.Duration
	SpeakerLifetime   map[string]int
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	st := Stats{
		ResponsesThisHour: e.hourCount,
		MaxPerHour:        e.cfg.MaxResponsesPerHour,
		SpeakerLifetime:   make(map[string]int, len(e.speakers)),
	}
	if !e.hourReset.IsZero() && now.Before(e.hourReset) {
		st.TimeUntilReset = e.hourReset.Sub(now)
	} else {
		// Counter already expired; it rolls over on the next decision.
		st.ResponsesThisHour = 0
	}
	for id, s := range e.speakers {
		if s.lifetime > 0 {
			st.SpeakerLifetime[id] = s.lifetime
		}
	}
	return st
}

// Reset clears the hourly counter and every cooldown. Administrative.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.speakers = make(map[string]*speakerState)
	e.channels = make(map[string]time.Time)
	e.hourCount = 0
	e.hourReset = time.Time{}
}

// ClearSpeaker drops all state scoped to one speaker. Called when the
// speaker's session context ends.
func (e *Engine) ClearSpeaker(speakerID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.speakers, speakerID)
}

// ClearChannel drops the channel cooldown for a torn-down session.
func (e *Engine) ClearChannel(channelID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.channels, channelID)
}
