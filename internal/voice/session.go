// Package voice orchestrates one conferencing session: the live connection,
// the shared outbound player, and one capture subscription per currently
// speaking participant. It wires the resampler, the throttle engine, the
// boundary tracker and the conversation store around the platform's event
// stream and the backend's replies.
package voice

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/discord-voice-bridge/internal/audio"
	"github.com/discord-voice-bridge/internal/backend"
	"github.com/discord-voice-bridge/internal/config"
	"github.com/discord-voice-bridge/internal/convo"
	"github.com/discord-voice-bridge/internal/logging"
	"github.com/discord-voice-bridge/internal/observability"
	"github.com/discord-voice-bridge/internal/platform"
	"github.com/discord-voice-bridge/internal/speech"
	"github.com/discord-voice-bridge/internal/throttle"
)

// State is the session connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateReady
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Notifier surfaces text toward the session's text surface (fallback
// apologies, text-only replies). Optional.
type Notifier interface {
	Notify(text string)
}

// Stats is the snapshot reported to the admin surface.
type Stats struct {
	ResponsesThisHour  int
	MaxPerHour         int
	TimeUntilReset     time.Duration
	ActiveSpeakerCount int
}

// autoMuteStreak is how many consecutive hot chunks (20ms each) trip the
// auto-mute in the volume-monitoring variant.
const autoMuteStreak = 25

var ErrAlreadyJoined = errors.New("session already joined")

// Manager owns exactly one voice session at a time. All session maps are
// mutated only from the event loop and from public methods holding mu;
// cleanup ordering, not locking granularity, carries the correctness load.
type Manager struct {
	cfg      config.Config
	joiner   platform.Joiner
	client   backend.Client
	engine   *throttle.Engine
	boundary *speech.BoundaryTracker
	history  *convo.Store
	metrics  *observability.Metrics
	notifier Notifier
	archive  *Archive

	mu         sync.Mutex
	state      State
	conn       platform.Connection
	guildID    string
	channelID  string
	listening  bool
	destroyed  bool
	subs       map[string]*captureBuffer
	muted      map[string]bool
	muteTimers map[string]*time.Timer
	speakers   map[string]struct{}

	playQ  chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(cfg config.Config, joiner platform.Joiner, client backend.Client, metrics *observability.Metrics, notifier Notifier) *Manager {
	// A typed nil pointer passes the interface nil check in notify but
	// panics on the method call; normalize it here.
	if v := reflect.ValueOf(notifier); notifier != nil && v.Kind() == reflect.Pointer && v.IsNil() {
		notifier = nil
	}
	engine := throttle.NewEngine(throttle.Config{
		SpeakerCooldown:      cfg.SpeakerCooldown,
		ChannelCooldown:      cfg.ChannelCooldown,
		MaxResponsesPerHour:  cfg.MaxResponsesPerHour,
		BaseResponseChance:   cfg.BaseResponseChance,
		PreTranscribeBoost:   cfg.PreTranscribeBoost,
		ActivationMinSpacing: cfg.ActivationMinSpacing,
		ActivationSpamWindow: cfg.ActivationSpamWindow,
		ActivationSpamLimit:  cfg.ActivationSpamLimit,
		PenaltyCooldown:      cfg.PenaltyCooldown,
		WakeTerms:            cfg.WakeTerms,
	})
	m := &Manager{
		cfg:      cfg,
		joiner:   joiner,
		client:   client,
		engine:   engine,
		boundary: speech.NewBoundaryTracker(engine),
		history:  convo.NewStore(),
		metrics:  metrics,
		notifier: notifier,
		state:    StateDisconnected,
	}
	if cfg.ArchiveDir != "" {
		m.archive = NewArchive(cfg.ArchiveDir, cfg.ArchiveRetention, cfg.ArchiveMaxFiles)
	}
	return m
}

// Throttle exposes the engine handle for the admin surface.
func (m *Manager) Throttle() *throttle.Engine { return m.engine }

// Archive returns the capture archive so the owner can run its retention
// cleaner against the same instance that saves. Nil when archiving is off.
func (m *Manager) Archive() *Archive { return m.archive }

// Join connects to a voice channel and starts the session loops.
func (m *Manager) Join(guildID, channelID string) error {
	m.mu.Lock()
	if m.state != StateDisconnected {
		m.mu.Unlock()
		return ErrAlreadyJoined
	}
	m.state = StateConnecting
	m.mu.Unlock()

	conn, err := m.joiner.Join(guildID, channelID)
	if err != nil {
		m.mu.Lock()
		m.state = StateDisconnected
		m.mu.Unlock()
		return fmt.Errorf("join: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.conn = conn
	m.guildID = guildID
	m.channelID = channelID
	m.listening = true
	m.destroyed = false
	m.subs = make(map[string]*captureBuffer)
	m.muted = make(map[string]bool)
	m.muteTimers = make(map[string]*time.Timer)
	m.speakers = make(map[string]struct{})
	m.playQ = make(chan []byte, 8)
	m.ctx = ctx
	m.cancel = cancel
	m.state = StateReady
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ActiveSessions.Inc()
	}
	m.wg.Add(3)
	go m.run(conn)
	go m.playLoop()
	go m.sweepLoop()
	logging.Infow("session: joined", "guild_id", guildID, "channel_id", channelID)
	return nil
}

// run is the single dispatch loop for one connection's event stream.
func (m *Manager) run(conn platform.Connection) {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case evt, ok := <-conn.Events():
			if !ok {
				m.startReconnect()
				return
			}
			switch evt.Kind {
			case platform.EventSpeakingStarted:
				m.handleSpeakingStarted(evt.SpeakerID)
			case platform.EventAudioChunk:
				m.handleChunk(evt.SpeakerID, evt.Chunk)
			case platform.EventSpeakingStopped:
				m.finishUtterance(evt.SpeakerID, "speaking_stopped")
			case platform.EventConnReady:
				m.mu.Lock()
				m.state = StateReady
				m.mu.Unlock()
			case platform.EventConnDisconnected:
				m.startReconnect()
				return
			case platform.EventConnDestroyed:
				return
			}
		}
	}
}

// handleSpeakingStarted opens a capture subscription unless one is already
// active for the speaker. Duplicate starts are idempotent.
func (m *Manager) handleSpeakingStarted(speakerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed || !m.listening || m.muted[speakerID] {
		return
	}
	m.boundary.Begin(speakerID)
	if _, ok := m.subs[speakerID]; ok {
		return
	}
	m.subs[speakerID] = newCaptureBuffer(speakerID)
	m.speakers[speakerID] = struct{}{}
	if m.metrics != nil {
		m.metrics.ActiveSpeakers.Set(float64(len(m.subs)))
	}
	logging.Debugw("session: capture opened", "speaker_id", speakerID, "correlation_id", m.subs[speakerID].correlationID)
}

// handleChunk appends decoded platform audio to the speaker's buffer. Audio
// arriving before the speaking update opens the subscription implicitly.
func (m *Manager) handleChunk(speakerID string, chunk []byte) {
	m.mu.Lock()
	if m.destroyed || !m.listening || m.muted[speakerID] {
		m.mu.Unlock()
		return
	}
	cb, ok := m.subs[speakerID]
	if !ok {
		m.boundary.Begin(speakerID)
		cb = newCaptureBuffer(speakerID)
		m.subs[speakerID] = cb
		m.speakers[speakerID] = struct{}{}
		if m.metrics != nil {
			m.metrics.ActiveSpeakers.Set(float64(len(m.subs)))
		}
	}
	cb.append(chunk)

	hot := m.cfg.AutoMuteEnabled && audio.ComputeRMS(chunk) >= m.cfg.AutoMuteRMS
	if hot {
		cb.loudStreak++
	} else {
		cb.loudStreak = 0
	}
	trip := hot && cb.loudStreak >= autoMuteStreak
	m.mu.Unlock()

	if trip {
		m.muteSpeaker(speakerID)
	}
}

// muteSpeaker drops the speaker's capture and schedules an auto-unmute. The
// timer handle is tracked so teardown can cancel it.
func (m *Manager) muteSpeaker(speakerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed || m.muted[speakerID] {
		return
	}
	delete(m.subs, speakerID)
	m.muted[speakerID] = true
	m.muteTimers[speakerID] = time.AfterFunc(m.cfg.AutoMuteDuration, func() {
		m.unmuteSpeaker(speakerID)
	})
	if m.metrics != nil {
		m.metrics.ActiveSpeakers.Set(float64(len(m.subs)))
	}
	logging.Warnw("session: speaker auto-muted for excessive volume", "speaker_id", speakerID, "duration", m.cfg.AutoMuteDuration)
}

func (m *Manager) unmuteSpeaker(speakerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return
	}
	delete(m.muted, speakerID)
	delete(m.muteTimers, speakerID)
	logging.Infow("session: speaker unmuted", "speaker_id", speakerID)
}

// finishUtterance closes the speaker's subscription exactly once and walks
// the utterance through Phase A, conversion and the backend hand-off.
func (m *Manager) finishUtterance(speakerID, cause string) {
	m.mu.Lock()
	cb, ok := m.subs[speakerID]
	if ok {
		delete(m.subs, speakerID)
	}
	channelID := m.channelID
	destroyed := m.destroyed
	if m.metrics != nil {
		m.metrics.ActiveSpeakers.Set(float64(len(m.subs)))
	}
	m.mu.Unlock()

	pri := m.boundary.End(speakerID)
	if !ok || destroyed {
		return
	}

	if pri == speech.PrioritySkip {
		m.countUtterance("skip")
		logging.Debugw("session: utterance skipped", "speaker_id", speakerID, "cause", cause, "duration_ms", cb.durationMs(), "correlation_id", cb.correlationID)
		return
	}
	if admitted, reason := m.engine.ShouldConsider(speakerID, channelID); !admitted {
		m.countUtterance("throttled_pre")
		logging.Debugw("session: utterance gated pre-transcription", "speaker_id", speakerID, "reason", reason, "correlation_id", cb.correlationID)
		return
	}

	pcm := cb.bytes()
	if !audio.Validate(pcm, config.PlatformChannels, config.PlatformSampleRate) {
		m.countUtterance("malformed")
		logging.Warnw("session: dropping malformed utterance", "speaker_id", speakerID, "bytes", len(pcm), "correlation_id", cb.correlationID)
		return
	}
	if m.cfg.NoiseGateLevel > 0 {
		pcm = audio.ApplyNoiseGate(pcm, int16(m.cfg.NoiseGateLevel))
	}
	sendPCM := audio.ToBackendFormat(pcm, config.PlatformSampleRate, config.PlatformChannels,
		config.BackendSendRate, config.BackendSendChannels)
	if len(sendPCM) == 0 {
		m.countUtterance("malformed")
		return
	}

	if m.archive != nil {
		m.archive.Save(cb.correlationID, speakerID, pcm, cb.startedAt)
	}

	// The backend round trip runs off the event loop so one slow reply
	// never blocks other speakers' utterances.
	m.wg.Add(1)
	go m.converse(speakerID, channelID, cb.correlationID, sendPCM, pri)
}

func (m *Manager) converse(speakerID, channelID, correlationID string, sendPCM []byte, pri speech.Priority) {
	defer m.wg.Done()

	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.BackendTimeout)
	defer cancel()

	req := backend.Request{
		History:     m.history.History(speakerID),
		AudioPCM:    sendPCM,
		System:      m.cfg.SystemInstruction,
		Temperature: 0.8,
	}
	start := time.Now()
	reply, err := m.client.Converse(ctx, req)
	if m.metrics != nil {
		m.metrics.BackendLatency.Observe(float64(time.Since(start).Milliseconds()))
	}
	if err != nil {
		m.handleBackendError(speakerID, correlationID, err)
		return
	}

	switch r := reply.(type) {
	case backend.Transcript:
		m.completeReply(speakerID, channelID, correlationID, pri, r.Text, r.ReplyText, r.Audio, r.SampleRate, r.Channels)
	case backend.TextOnly:
		m.completeTextReply(speakerID, channelID, correlationID, pri, r.Text, r.ReplyText)
	case backend.ToolCall:
		// Tool execution is not part of the voice loop; acknowledge and drop.
		m.countUtterance("tool_call")
		logging.Infow("session: backend requested tool call", "tool", r.Name, "correlation_id", correlationID)
	case backend.Failure:
		m.handleBackendError(speakerID, correlationID, fmt.Errorf("backend failure %s: %s", r.Code, r.Message))
	case backend.SetupComplete:
		// No content; nothing to do.
	default:
		logging.Warnw("session: unknown backend reply kind", "correlation_id", correlationID)
	}
}

// completeReply runs Phase B with the transcript and, when admitted, plays
// the converted reply audio through the shared player queue. High-priority
// utterances skip the random gate.
func (m *Manager) completeReply(speakerID, channelID, correlationID string, pri speech.Priority, transcript, replyText string, replyAudio []byte, replyRate, replyChannels int) {
	admitted, reason := m.engine.ShouldRespond(speakerID, channelID, transcript, pri == speech.PriorityHigh)
	if !admitted {
		m.countUtterance("throttled_post")
		logging.Debugw("session: reply gated post-transcription", "speaker_id", speakerID, "reason", reason, "correlation_id", correlationID)
		return
	}
	m.recordExchange(speakerID, transcript, replyText)

	pcm := audio.ToPlatformFormat(replyAudio, replyRate, replyChannels,
		config.PlatformSampleRate, config.PlatformChannels)
	if len(pcm) == 0 {
		logging.Warnw("session: reply audio converted to empty buffer", "correlation_id", correlationID)
		return
	}
	m.enqueuePlay(pcm, correlationID)
	m.publishThrottleGauge()
	m.countUtterance("responded")
}

// completeTextReply handles the text-only reply kind: Phase B still applies,
// the exchange is recorded, and the text goes out through the notifier since
// there is no audio to play.
func (m *Manager) completeTextReply(speakerID, channelID, correlationID string, pri speech.Priority, transcript, replyText string) {
	admitted, reason := m.engine.ShouldRespond(speakerID, channelID, transcript, pri == speech.PriorityHigh)
	if !admitted {
		m.countUtterance("throttled_post")
		logging.Debugw("session: text reply gated", "speaker_id", speakerID, "reason", reason, "correlation_id", correlationID)
		return
	}
	m.recordExchange(speakerID, transcript, replyText)
	m.notify(replyText)
	m.publishThrottleGauge()
	m.countUtterance("responded_text")
}

func (m *Manager) recordExchange(speakerID, transcript, replyText string) {
	if transcript != "" {
		m.history.Append(speakerID, convo.RoleUser, transcript)
	}
	if replyText != "" {
		m.history.Append(speakerID, convo.RoleAssistant, replyText)
	}
}

// handleBackendError surfaces the canned apology instead of failing the
// session; one failed turn never terminates anything.
func (m *Manager) handleBackendError(speakerID, correlationID string, err error) {
	err = backend.Classify(err)
	class := "transport"
	switch {
	case errors.Is(err, backend.ErrTimeout):
		class = "timeout"
	case errors.Is(err, backend.ErrQuota):
		class = "quota"
	}
	if m.metrics != nil {
		m.metrics.BackendErrors.WithLabelValues(class).Inc()
	}
	m.countUtterance("backend_error")
	logging.Warnw("session: backend call failed", "speaker_id", speakerID, "class", class, "err", err, "correlation_id", correlationID)
	m.notify(m.cfg.ApologyText)
}

func (m *Manager) notify(text string) {
	if text == "" {
		return
	}
	m.mu.Lock()
	destroyed := m.destroyed
	m.mu.Unlock()
	if destroyed || m.notifier == nil {
		return
	}
	m.notifier.Notify(text)
}

// enqueuePlay hands a reply to the player queue. Blocks until queued or the
// session dies; a reply is never dropped without a log line.
func (m *Manager) enqueuePlay(pcm []byte, correlationID string) {
	m.mu.Lock()
	destroyed := m.destroyed
	q := m.playQ
	ctx := m.ctx
	m.mu.Unlock()
	if destroyed || q == nil {
		logging.Warnw("session: discarding reply for torn-down session", "correlation_id", correlationID)
		return
	}
	select {
	case q <- pcm:
	case <-ctx.Done():
		logging.Warnw("session: reply abandoned during teardown", "correlation_id", correlationID)
	}
}

// playLoop serializes replies onto the single shared player in arrival
// order. A reply arriving while one is playing waits; nothing is mixed.
func (m *Manager) playLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case pcm := <-m.playQ:
			m.mu.Lock()
			destroyed := m.destroyed
			conn := m.conn
			m.mu.Unlock()
			if destroyed || conn == nil {
				return
			}
			if err := conn.Player().Play(pcm); err != nil {
				logging.Warnw("session: playback failed", "err", err)
				continue
			}
			if m.metrics != nil {
				m.metrics.RepliesPlayed.Inc()
			}
		}
	}
}

// sweepLoop closes captures that went silent without a stop event and drops
// stale boundary marks. The trailing-silence close is the same path as an
// explicit stop, so cleanup stays exactly-once.
func (m *Manager) sweepLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	sweep := time.NewTicker(m.cfg.BoundarySweep)
	defer sweep.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-sweep.C:
			if n := m.boundary.Sweep(); n > 0 {
				logging.Debugw("session: swept stale speaking marks", "count", n)
			}
		case <-ticker.C:
			now := time.Now()
			var stale []string
			m.mu.Lock()
			for id, cb := range m.subs {
				if len(cb.chunks) > 0 && now.Sub(cb.lastChunk) >= m.cfg.TrailingSilence {
					stale = append(stale, id)
				}
			}
			m.mu.Unlock()
			for _, id := range stale {
				m.finishUtterance(id, "trailing_silence")
			}
		}
	}
}

// startReconnect moves the session into the reconnecting sub-state and
// retries the join with linear backoff off the event loop, so backoff never
// blocks capture handling for a healthy future connection.
func (m *Manager) startReconnect() {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	m.state = StateReconnecting
	guildID, channelID := m.guildID, m.channelID
	m.mu.Unlock()
	logging.Warnw("session: transport disconnected, reconnecting", "guild_id", guildID, "channel_id", channelID)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for attempt := 1; attempt <= m.cfg.ReconnectAttempts; attempt++ {
			select {
			case <-m.ctx.Done():
				return
			case <-time.After(m.cfg.ReconnectBase * time.Duration(attempt)):
			}
			conn, err := m.joiner.Join(guildID, channelID)
			if err != nil {
				logging.Warnw("session: reconnect attempt failed", "attempt", attempt, "err", err)
				continue
			}
			m.mu.Lock()
			if m.destroyed {
				m.mu.Unlock()
				_ = conn.Close()
				return
			}
			old := m.conn
			m.conn = conn
			m.state = StateReady
			m.mu.Unlock()
			// The old connection's event loop already returned; release
			// its player and transport.
			if old != nil {
				_ = old.Close()
			}
			m.wg.Add(1)
			go m.run(conn)
			logging.Infow("session: reconnected", "attempt", attempt)
			return
		}
		logging.Errorw("session: reconnect attempts exhausted, tearing down")
		// Leave waits on the session WaitGroup this goroutine belongs to,
		// so the teardown must run outside it.
		go func() { _ = m.Leave() }()
	}()
}

// Leave tears the session down: every subscription destroyed, every pending
// timer canceled, session-scoped history and cooldowns purged, player and
// connection destroyed, and only then the state marked disconnected.
func (m *Manager) Leave() error {
	m.mu.Lock()
	if m.destroyed || m.state == StateDisconnected {
		m.mu.Unlock()
		return nil
	}
	m.destroyed = true
	conn := m.conn
	m.conn = nil
	channelID := m.channelID
	speakers := m.speakers
	timers := m.muteTimers
	m.subs = make(map[string]*captureBuffer)
	m.muted = make(map[string]bool)
	m.muteTimers = make(map[string]*time.Timer)
	m.speakers = make(map[string]struct{})
	cancel := m.cancel
	m.mu.Unlock()

	for _, t := range timers {
		t.Stop()
	}
	if cancel != nil {
		cancel()
	}
	for id := range speakers {
		m.engine.ClearSpeaker(id)
		m.history.Clear(id)
	}
	m.engine.ClearChannel(channelID)
	m.history.ClearAll()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	m.wg.Wait()

	m.mu.Lock()
	m.state = StateDisconnected
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.ActiveSessions.Dec()
		m.metrics.ActiveSpeakers.Set(0)
	}
	logging.Infow("session: left", "channel_id", channelID)
	return err
}

// StartListening resumes opening capture subscriptions.
func (m *Manager) StartListening() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listening = true
}

// StopListening stops opening new captures and drops the active ones.
func (m *Manager) StopListening() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listening = false
	m.subs = make(map[string]*captureBuffer)
	if m.metrics != nil {
		m.metrics.ActiveSpeakers.Set(0)
	}
}

// Status reports the connected/active pair for the command surface.
func (m *Manager) Status() (connected, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateReady || m.state == StateReconnecting, m.listening && m.state == StateReady
}

// Stats snapshots throttle and session counters.
func (m *Manager) Stats() Stats {
	st := m.engine.Stats()
	m.mu.Lock()
	active := len(m.subs)
	m.mu.Unlock()
	return Stats{
		ResponsesThisHour:  st.ResponsesThisHour,
		MaxPerHour:         st.MaxPerHour,
		TimeUntilReset:     st.TimeUntilReset,
		ActiveSpeakerCount: active,
	}
}

// ResetThrottle clears all throttle state. Administrative.
func (m *Manager) ResetThrottle() {
	m.engine.Reset()
	m.publishThrottleGauge()
}

func (m *Manager) publishThrottleGauge() {
	if m.metrics == nil {
		return
	}
	m.metrics.ResponsesHourly.Set(float64(m.engine.Stats().ResponsesThisHour))
}

func (m *Manager) countUtterance(outcome string) {
	if m.metrics != nil {
		m.metrics.Utterances.WithLabelValues(outcome).Inc()
	}
}
