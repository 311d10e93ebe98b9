package audio

import (
	"context"
	"math"
	"time"

	"github.com/gordonklaus/portaudio"
)

const (
	SampleRate = 16000

	frameSize  = 320 // 20ms
	frameMs    = 20
	silenceRMS = 0.015
	trailing   = 600 * time.Millisecond
)

type Recorder struct{}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Init() error {
	return portaudio.Initialize()
}

func (r *Recorder) Close() {
	portaudio.Terminate()
}

// Record captures one utterance from the default input: it starts on the first
// loud frame and stops after a short silence or at maxLen. Silence only
// returns no samples.
func (r *Recorder) Record(ctx context.Context, maxLen time.Duration) ([]float32, error) {
	buf := make([]float32, frameSize)

	stream, err := portaudio.OpenDefaultStream(1, 0, SampleRate, len(buf), buf)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return nil, err
	}
	defer stream.Stop()

	seg := newSegmenter(maxLen)
	for !seg.done() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := stream.Read(); err != nil {
			return nil, err
		}
		seg.feed(buf)
	}

	return seg.out, nil
}

// segmenter is the energy-based endpointing behind Record.
type segmenter struct {
	maxFrames int
	frames    int

	speaking      bool
	silentFrames  int
	silenceFrames int
	finished      bool

	out []float32
}

func newSegmenter(maxLen time.Duration) *segmenter {
	if maxLen <= 0 {
		maxLen = 10 * time.Second
	}
	return &segmenter{
		maxFrames:     int(maxLen.Milliseconds()) / frameMs,
		silenceFrames: int(trailing.Milliseconds()) / frameMs,
		out:           make([]float32, 0, SampleRate*3),
	}
}

func (s *segmenter) feed(frame []float32) {
	s.frames++
	if s.frames >= s.maxFrames {
		s.finished = true
	}

	if frameRMS(frame) > silenceRMS {
		s.speaking = true
		s.silentFrames = 0
		s.out = append(s.out, frame...)
		return
	}

	if !s.speaking {
		return
	}
	s.silentFrames++
	if s.silentFrames >= s.silenceFrames {
		s.finished = true
		return
	}
	s.out = append(s.out, frame...)
}

func (s *segmenter) done() bool { return s.finished }

func frameRMS(f []float32) float64 {
	if len(f) == 0 {
		return 0
	}
	var s float64
	for _, x := range f {
		s += float64(x * x)
	}
	return math.Sqrt(s / float64(len(f)))
}
