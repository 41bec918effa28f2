package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/discord-voice-bridge/internal/audio"
	"github.com/discord-voice-bridge/internal/config"
	"github.com/discord-voice-bridge/internal/logging"
)

// Archive persists finished captures to disk for debugging: one WAV per
// utterance plus a JSON sidecar with the capture metadata. Disabled unless
// a directory is configured.
type Archive struct {
	dir       string
	retention time.Duration
	maxFiles  int
}

type sidecar struct {
	CorrelationID string    `json:"correlation_id"`
	SpeakerID     string    `json:"speaker_id"`
	StartedAt     time.Time `json:"started_at"`
	DurationMs    int       `json:"duration_ms"`
	SampleRate    int       `json:"sample_rate"`
	Channels      int       `json:"channels"`
	WavPath       string    `json:"wav_path"`
}

func NewArchive(dir string, retention time.Duration, maxFiles int) *Archive {
	return &Archive{dir: dir, retention: retention, maxFiles: maxFiles}
}

// Save writes the utterance and its sidecar. Failures are logged and
// swallowed; archiving never affects the voice loop.
func (a *Archive) Save(correlationID, speakerID string, pcm []byte, startedAt time.Time) {
	base := filepath.Join(a.dir, fmt.Sprintf("%s_%s", startedAt.UTC().Format("20060102T150405"), correlationID))
	wavPath := base + ".wav"
	wav := audio.BuildWAV(pcm, config.PlatformSampleRate, config.PlatformChannels, 16)
	if err := writeFileAtomic(wavPath, wav, 0o644); err != nil {
		logging.Warnw("archive: wav write failed", "path", wavPath, "err", err)
		return
	}
	sc := sidecar{
		CorrelationID: correlationID,
		SpeakerID:     speakerID,
		StartedAt:     startedAt.UTC(),
		DurationMs:    audio.DurationMs(pcm, config.PlatformSampleRate, config.PlatformChannels),
		SampleRate:    config.PlatformSampleRate,
		Channels:      config.PlatformChannels,
		WavPath:       wavPath,
	}
	b, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		logging.Warnw("archive: sidecar marshal failed", "err", err)
		return
	}
	if err := writeFileAtomic(base+".json", b, 0o644); err != nil {
		logging.Warnw("archive: sidecar write failed", "err", err)
	}
}

// StartCleaner runs the retention pass until ctx is canceled. Pairs are
// removed when older than the retention window, then oldest-first until at
// most maxFiles pairs remain. Caller must wg.Add(1) first.
func (a *Archive) StartCleaner(ctx context.Context, wg *sync.WaitGroup, interval time.Duration) {
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.clean()
			}
		}
	}()
}

func (a *Archive) clean() {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		logging.Debugw("archive: cleanup scan failed", "err", err)
		return
	}
	type pair struct {
		jsonPath string
		wavPath  string
		mod      time.Time
	}
	var pairs []pair
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		jsonPath := filepath.Join(a.dir, name)
		st, err := os.Stat(jsonPath)
		if err != nil {
			continue
		}
		pairs = append(pairs, pair{
			jsonPath: jsonPath,
			wavPath:  strings.TrimSuffix(jsonPath, ".json") + ".wav",
			mod:      st.ModTime(),
		})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].mod.Before(pairs[j].mod) })

	cutoff := time.Now().Add(-a.retention)
	removed := 0
	for _, p := range pairs {
		if p.mod.Before(cutoff) {
			_ = os.Remove(p.jsonPath)
			_ = os.Remove(p.wavPath)
			removed++
		}
	}
	if a.maxFiles > 0 && len(pairs)-removed > a.maxFiles {
		excess := len(pairs) - removed - a.maxFiles
		for _, p := range pairs {
			if excess <= 0 {
				break
			}
			if _, err := os.Stat(p.jsonPath); err != nil {
				continue
			}
			_ = os.Remove(p.jsonPath)
			_ = os.Remove(p.wavPath)
			excess--
		}
	}
}

// writeFileAtomic writes via a same-directory temp file and rename so a
// crashed write never leaves a truncated archive entry.
func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
