package sound

import (
	"context"
	"fmt"
	log "log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
)

type Effect string

const (
	Wake      Effect = "wake"
	Void      Effect = "void"
	Doom      Effect = "doom"
	Insanity  Effect = "insanity"
	Lightning Effect = "lightning"
	Rimshot   Effect = "rimshot"
)

// Dramatic is the pool a joke can draw its rare effect from.
var Dramatic = []Effect{Lightning, Doom, Void, Insanity}

func (e Effect) File() string { return string(e) + ".mp3" }

// Player plays a named effect. Implementations never fail loudly: a missing
// effect is logged and skipped.
type Player interface {
	Play(ctx context.Context, e Effect)
}

type Nop struct{}

func (Nop) Play(context.Context, Effect) {}

const sampleRate = beep.SampleRate(44100)

var initSpeaker = sync.OnceValue(func() error {
	return speaker.Init(sampleRate, sampleRate.N(time.Second/10))
})

// Local plays effect files from a directory on the default sound card.
type Local struct {
	dir    string
	minGap time.Duration

	mu   sync.Mutex
	last time.Time
}

func NewLocal(dir string, minGap time.Duration) *Local {
	return &Local{dir: dir, minGap: minGap}
}

func (l *Local) Play(ctx context.Context, e Effect) {
	l.mu.Lock()
	if l.minGap > 0 && time.Since(l.last) < l.minGap {
		l.mu.Unlock()
		log.Debug("Skipping effect, too soon", "effect", e)
		return
	}
	l.last = time.Now()
	l.mu.Unlock()

	if err := l.play(ctx, filepath.Join(l.dir, e.File())); err != nil {
		log.Warn("Sound effect failed", "effect", e, "err", err)
	}
}

func (l *Local) play(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}

	streamer, format, err := mp3.Decode(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	defer streamer.Close()

	if err := initSpeaker(); err != nil {
		return fmt.Errorf("init speaker: %w", err)
	}

	var s beep.Streamer = streamer
	if format.SampleRate != sampleRate {
		s = beep.Resample(4, format.SampleRate, sampleRate, streamer)
	}

	done := make(chan struct{})
	speaker.Play(beep.Seq(s, beep.Callback(func() {
		close(done)
	})))

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		speaker.Clear()
		return ctx.Err()
	}
}

// URLs maps effects to publicly reachable files for the telephony side.
type URLs struct {
	Base string // e.g. https://example.com/static/sounds
}

func (u URLs) URL(e Effect) string {
	return strings.TrimRight(u.Base, "/") + "/" + e.File()
}
