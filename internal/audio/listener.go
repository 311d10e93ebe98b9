package audio

import (
	"context"
	"fmt"
	log "log/slog"
	"regexp"
	"strings"
	"time"

	"aigod/pkg/stt"
)

// Minimum speech worth transcribing.
const minSamples = SampleRate / 4

// whisper marks non-speech as [BLANK_AUDIO], (music), *coughs* and so on.
var noiseRe = regexp.MustCompile(`\[[^\]]*\]|\([^)]*\)|\*[^*]*\*`)

type Capturer interface {
	Record(ctx context.Context, maxLen time.Duration) ([]float32, error)
}

type Transcriber interface {
	TranscribePCM(ctx context.Context, pcm16k []float32, opt stt.Options) (stt.Result, error)
}

// Listener turns microphone captures into text.
type Listener struct {
	mic  Capturer
	stt  Transcriber
	opts stt.Options
}

func NewListener(mic Capturer, tr Transcriber, opts stt.Options) *Listener {
	return &Listener{mic: mic, stt: tr, opts: opts}
}

// Listen records one utterance and transcribes it. The duration is the
// transcription time; a capture too short to hold speech is silence.
func (l *Listener) Listen(ctx context.Context, maxLen time.Duration) (string, time.Duration, error) {
	pcm, err := l.mic.Record(ctx, maxLen)
	if err != nil {
		return "", 0, fmt.Errorf("record: %w", err)
	}
	if len(pcm) < minSamples {
		return "", 0, nil
	}

	start := time.Now()
	res, err := l.stt.TranscribePCM(ctx, pcm, l.opts)
	took := time.Since(start)
	if err != nil {
		return "", took, fmt.Errorf("transcribe: %w", err)
	}

	text := Clean(res.Text)
	log.Debug("Transcribed",
		"text", text,
		"lang", res.Language,
		"samples", len(pcm),
		"took", took.Round(time.Millisecond),
	)
	return text, took, nil
}

// Clean drops non-speech annotations and collapses whitespace.
func Clean(text string) string {
	return strings.Join(strings.Fields(noiseRe.ReplaceAllString(text, " ")), " ")
}
