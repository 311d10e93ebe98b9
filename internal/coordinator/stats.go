package coordinator

import (
	"slices"
	"sync"
	"time"
)

// Stage names used in Stats.
const (
	StageRecognition = "speech_recognition"
	StageChat        = "chat"
	StageTTS         = "tts"
	StagePlayback    = "playback"
	StageSwitch      = "personality_switch"
	StageTotal       = "total"
	StageErrorTTS    = "error_tts"
)

type StageStats struct {
	Count int
	Avg   time.Duration
	Min   time.Duration
	Max   time.Duration
}

// Stats keeps a rolling window of latencies per stage.
type Stats struct {
	window int

	mu      sync.Mutex
	samples map[string][]time.Duration
}

func NewStats(window int) *Stats {
	if window <= 0 {
		window = 100
	}
	return &Stats{window: window, samples: map[string][]time.Duration{}}
}

func (s *Stats) Add(stage string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	xs := append(s.samples[stage], d)
	if len(xs) > s.window {
		xs = slices.Clone(xs[len(xs)-s.window:])
	}
	s.samples[stage] = xs
}

func (s *Stats) Stage(stage string) StageStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return summarize(s.samples[stage])
}

func (s *Stats) Summary() map[string]StageStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]StageStats, len(s.samples))
	for k, xs := range s.samples {
		out[k] = summarize(xs)
	}
	return out
}

func summarize(xs []time.Duration) StageStats {
	if len(xs) == 0 {
		return StageStats{}
	}

	st := StageStats{Count: len(xs), Min: xs[0], Max: xs[0]}
	var sum time.Duration
	for _, x := range xs {
		sum += x
		st.Min = min(st.Min, x)
		st.Max = max(st.Max, x)
	}
	st.Avg = sum / time.Duration(len(xs))
	return st
}
