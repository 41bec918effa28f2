package platform

import (
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/hraban/opus"

	"github.com/discord-voice-bridge/internal/config"
	"github.com/discord-voice-bridge/internal/logging"
)

const (
	// Discord voice runs 20ms opus frames at 48 kHz.
	frameDurationMs   = 20
	framesPerSecond   = 1000 / frameDurationMs
	samplesPerFrame   = config.PlatformSampleRate / framesPerSecond
	maxOpusFrameBytes = 4000
)

// DiscordJoiner adapts an open discordgo session to the Joiner interface.
type DiscordJoiner struct {
	session *discordgo.Session
}

func NewDiscordJoiner(s *discordgo.Session) *DiscordJoiner {
	return &DiscordJoiner{session: s}
}

func (j *DiscordJoiner) Join(guildID, channelID string) (Connection, error) {
	vc, err := j.session.ChannelVoiceJoin(guildID, channelID, false, false)
	if err != nil {
		return nil, fmt.Errorf("voice join %s/%s: %w", guildID, channelID, err)
	}
	return newDiscordConnection(vc)
}

// discordConnection translates the voice websocket callbacks and the opus
// receive stream into the Event enum. Speaking updates map SSRC -> user;
// audio packets are decoded to 48 kHz stereo PCM before being emitted.
type discordConnection struct {
	vc     *discordgo.VoiceConnection
	events chan Event
	player *discordPlayer

	mu       sync.Mutex
	ssrcMap  map[uint32]string
	decoders map[uint32]*opus.Decoder
	speaking map[uint32]bool

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func newDiscordConnection(vc *discordgo.VoiceConnection) (*discordConnection, error) {
	player, err := newDiscordPlayer(vc)
	if err != nil {
		_ = vc.Disconnect()
		return nil, err
	}
	c := &discordConnection{
		vc:       vc,
		events:   make(chan Event, 1024),
		player:   player,
		ssrcMap:  make(map[uint32]string),
		decoders: make(map[uint32]*opus.Decoder),
		speaking: make(map[uint32]bool),
		done:     make(chan struct{}),
	}
	vc.AddHandler(c.handleSpeakingUpdate)
	c.wg.Add(1)
	go c.receiveLoop()
	c.emit(Event{Kind: EventConnReady})
	return c, nil
}

func (c *discordConnection) Events() <-chan Event { return c.events }
func (c *discordConnection) Player() Player       { return c.player }

// emit delivers an event without ever blocking the voice callbacks; the
// consumer loop falling behind drops chunks rather than stalling receive.
func (c *discordConnection) emit(evt Event) {
	select {
	case <-c.done:
	case c.events <- evt:
	default:
		logging.Warnw("platform: dropping event; stream full", "kind", evt.Kind.String(), "speaker_id", evt.SpeakerID)
	}
}

func (c *discordConnection) handleSpeakingUpdate(_ *discordgo.VoiceConnection, su *discordgo.VoiceSpeakingUpdate) {
	ssrc := uint32(su.SSRC)
	c.mu.Lock()
	c.ssrcMap[ssrc] = su.UserID
	wasSpeaking := c.speaking[ssrc]
	c.speaking[ssrc] = su.Speaking
	c.mu.Unlock()

	logging.Infow("platform: speaking update", "ssrc", su.SSRC, "user_id", su.UserID, "speaking", su.Speaking)
	if su.Speaking && !wasSpeaking {
		c.emit(Event{Kind: EventSpeakingStarted, SpeakerID: su.UserID})
	} else if !su.Speaking && wasSpeaking {
		c.emit(Event{Kind: EventSpeakingStopped, SpeakerID: su.UserID})
	}
}

// receiveLoop decodes incoming opus packets per SSRC and emits audio chunks
// attributed to the mapped user. Packets for an unmapped SSRC are dropped;
// the speaking update that maps them always precedes sustained audio.
func (c *discordConnection) receiveLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case pkt, ok := <-c.vc.OpusRecv:
			if !ok {
				c.emit(Event{Kind: EventConnDisconnected})
				return
			}
			c.handlePacket(pkt)
		}
	}
}

func (c *discordConnection) handlePacket(pkt *discordgo.Packet) {
	c.mu.Lock()
	uid := c.ssrcMap[pkt.SSRC]
	dec, ok := c.decoders[pkt.SSRC]
	if !ok {
		var err error
		dec, err = opus.NewDecoder(config.PlatformSampleRate, config.PlatformChannels)
		if err != nil {
			c.mu.Unlock()
			logging.Errorw("platform: opus decoder init failed", "ssrc", pkt.SSRC, "err", err)
			return
		}
		c.decoders[pkt.SSRC] = dec
	}
	c.mu.Unlock()

	if uid == "" {
		return
	}

	pcm := make([]int16, samplesPerFrame*config.PlatformChannels)
	n, err := dec.Decode(pkt.Opus, pcm)
	if err != nil {
		logging.Errorw("platform: opus decode error", "ssrc", pkt.SSRC, "err", err)
		return
	}
	samples := pcm[:n*config.PlatformChannels]
	chunk := make([]byte, len(samples)*2)
	for i, s := range samples {
		chunk[i*2] = byte(uint16(s))
		chunk[i*2+1] = byte(uint16(s) >> 8)
	}
	c.emit(Event{Kind: EventAudioChunk, SpeakerID: uid, Chunk: chunk})
}

func (c *discordConnection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.player.Close()
		err = c.vc.Disconnect()
		c.wg.Wait()
		select {
		case c.events <- Event{Kind: EventConnDestroyed}:
		default:
		}
		close(c.events)
	})
	return err
}

// discordPlayer encodes platform-format PCM back to opus and paces it onto
// the voice connection, one 20ms frame per tick.
type discordPlayer struct {
	vc  *discordgo.VoiceConnection
	enc *opus.Encoder

	mu     sync.Mutex
	closed bool
}

func newDiscordPlayer(vc *discordgo.VoiceConnection) (*discordPlayer, error) {
	enc, err := opus.NewEncoder(config.PlatformSampleRate, config.PlatformChannels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("opus encoder: %w", err)
	}
	return &discordPlayer{vc: vc, enc: enc}, nil
}

func (p *discordPlayer) Play(pcm []byte) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("player closed")
	}
	p.mu.Unlock()

	if err := p.vc.Speaking(true); err != nil {
		return fmt.Errorf("speaking(true): %w", err)
	}
	defer func() { _ = p.vc.Speaking(false) }()

	frameBytes := samplesPerFrame * config.PlatformChannels * 2
	buf := make([]byte, maxOpusFrameBytes)
	frame := make([]int16, samplesPerFrame*config.PlatformChannels)
	ticker := time.NewTicker(frameDurationMs * time.Millisecond)
	defer ticker.Stop()

	for off := 0; off+frameBytes <= len(pcm); off += frameBytes {
		for i := 0; i < len(frame); i++ {
			lo := pcm[off+i*2]
			hi := pcm[off+i*2+1]
			frame[i] = int16(uint16(lo) | uint16(hi)<<8)
		}
		n, err := p.enc.Encode(frame, buf)
		if err != nil {
			return fmt.Errorf("opus encode: %w", err)
		}
		p.mu.Lock()
		closed := p.closed
		p.mu.Unlock()
		if closed {
			return fmt.Errorf("player closed mid-playback")
		}
		p.vc.OpusSend <- append([]byte(nil), buf[:n]...)
		<-ticker.C
	}
	return nil
}

func (p *discordPlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
