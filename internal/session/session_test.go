package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"aigod/internal/coordinator"
	"aigod/internal/personality"
	"aigod/internal/tts"
)

type fakeConv struct {
	mu      sync.Mutex
	profile *personality.Profile

	reply      func(input string) coordinator.Metrics
	fallbackOK bool
	since      time.Duration
	exit       bool

	handled   []string
	heardIn   []time.Duration
	says      []string
	welcomes  int
	idles     int
	fallbacks int
}

func newFakeConv(t *testing.T) *fakeConv {
	t.Helper()
	reg, err := personality.Load(nil)
	if err != nil {
		t.Fatal(err)
	}
	return &fakeConv{profile: reg.MustGet(personality.Nikki)}
}

func clip(name string) []tts.Artifact {
	return []tts.Artifact{{Path: "/srv/cache/" + name + ".mp3", Source: tts.FromGenerator}}
}

func (f *fakeConv) HandleTurn(_ context.Context, t coordinator.Turn) coordinator.Metrics {
	input := t.Text
	f.mu.Lock()
	f.handled = append(f.handled, input)
	f.heardIn = append(f.heardIn, t.Recognition)
	f.since = 0
	if input == "goodbye" {
		f.exit = true
	}
	reply := f.reply
	f.mu.Unlock()

	if reply != nil {
		return reply(input)
	}
	return coordinator.Metrics{Branch: coordinator.BranchChat, Artifacts: clip("cached_answer")}
}

func (f *fakeConv) Welcome(context.Context) coordinator.Metrics {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.welcomes++
	f.since = 0
	return coordinator.Metrics{Branch: coordinator.BranchWelcome, Artifacts: clip("cached_welcome")}
}

func (f *fakeConv) Idle(context.Context) coordinator.Metrics {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.idles++
	return coordinator.Metrics{Branch: coordinator.BranchIdle}
}

func (f *fakeConv) Fallback(context.Context) (coordinator.Metrics, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fallbacks++
	if !f.fallbackOK {
		return coordinator.Metrics{}, false
	}
	return coordinator.Metrics{Branch: coordinator.BranchFallback, Artifacts: clip("cached_fallback")}, true
}

func (f *fakeConv) Say(_ context.Context, text string) tts.Artifact {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.says = append(f.says, text)
	return tts.Artifact{Path: "/srv/cache/cached_say.mp3"}
}

func (f *fakeConv) Profile() *personality.Profile { return f.profile }

func (f *fakeConv) ShouldExit() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exit
}

func (f *fakeConv) SinceActive() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.since
}

func (f *fakeConv) IsWake(text string) bool {
	return strings.Contains(strings.ToLower(text), "hey god")
}

func (f *fakeConv) count(text string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.says {
		if s == text {
			n++
		}
	}
	return n
}
