package voice

import (
	"time"

	"github.com/google/uuid"

	"github.com/discord-voice-bridge/internal/config"
)

// captureBuffer accumulates platform-format PCM for one speaker between
// speaking-start and speaking-end. Owned by exactly one subscription and
// consumed exactly once; never shared across speakers.
type captureBuffer struct {
	speakerID     string
	correlationID string
	startedAt     time.Time
	lastChunk     time.Time
	chunks        [][]byte
	total         int
	loudStreak    int
}

func newCaptureBuffer(speakerID string) *captureBuffer {
	now := time.Now()
	return &captureBuffer{
		speakerID:     speakerID,
		correlationID: uuid.NewString(),
		startedAt:     now,
		lastChunk:     now,
	}
}

func (b *captureBuffer) append(chunk []byte) {
	// Chunks are owned by the platform adapter's decode loop; copy so the
	// buffer survives reuse of the source slice.
	c := make([]byte, len(chunk))
	copy(c, chunk)
	b.chunks = append(b.chunks, c)
	b.total += len(c)
	b.lastChunk = time.Now()
}

// bytes concatenates the accumulated chunks in arrival order.
func (b *captureBuffer) bytes() []byte {
	out := make([]byte, 0, b.total)
	for _, c := range b.chunks {
		out = append(out, c...)
	}
	return out
}

func (b *captureBuffer) durationMs() int {
	return b.total * 1000 / (config.PlatformSampleRate * config.PlatformChannels * 2)
}
