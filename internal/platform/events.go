// Package platform is the boundary to the voice conferencing service. The
// adapter translates SDK callbacks into one explicit event stream consumed
// by a single dispatch loop, preserving the guarantee that a speaker's
// start always precedes its end.
package platform

// EventKind enumerates everything the conferencing side can tell us.
type EventKind int

const (
	EventSpeakingStarted EventKind = iota
	EventSpeakingStopped
	EventAudioChunk
	EventConnReady
	EventConnDisconnected
	EventConnDestroyed
)

func (k EventKind) String() string {
	switch k {
	case EventSpeakingStarted:
		return "speaking_started"
	case EventSpeakingStopped:
		return "speaking_stopped"
	case EventAudioChunk:
		return "audio_chunk"
	case EventConnReady:
		return "conn_ready"
	case EventConnDisconnected:
		return "conn_disconnected"
	case EventConnDestroyed:
		return "conn_destroyed"
	}
	return "unknown"
}

// Event is one item on a connection's event stream. Chunk is only set for
// EventAudioChunk and holds 48 kHz stereo PCM16LE.
type Event struct {
	Kind      EventKind
	SpeakerID string
	Chunk     []byte
}

// Player accepts one finite PCM16LE buffer in the platform format and plays
// it to completion. Play blocks until the buffer has been played so a
// caller-side queue can serialize replies.
type Player interface {
	Play(pcm []byte) error
	Close() error
}

// Connection is one live attachment to a voice channel.
type Connection interface {
	// Events yields the connection's event stream. The channel is closed
	// when the connection is destroyed.
	Events() <-chan Event
	Player() Player
	Close() error
}

// Joiner connects to a voice channel and returns a live connection.
type Joiner interface {
	Join(guildID, channelID string) (Connection, error)
}
