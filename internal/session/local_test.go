package session

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"
)

type heard struct {
	text string
	took time.Duration
	err  error
}

// scriptedEars replays utterances and cancels the session when it runs out.
type scriptedEars struct {
	mu     sync.Mutex
	script []heard
	lens   []time.Duration
	cancel context.CancelFunc
}

func (e *scriptedEars) Listen(_ context.Context, maxLen time.Duration) (string, time.Duration, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lens = append(e.lens, maxLen)
	if len(e.script) == 0 {
		e.cancel()
		return "", 0, nil
	}
	h := e.script[0]
	e.script = e.script[1:]
	return h.text, h.took, h.err
}

func quickLoop() LoopOptions {
	o := DefaultLoopOptions()
	o.PollInterval = 0
	o.ErrorBackoff = 0
	return o
}

func runLoop(t *testing.T, conv *fakeConv, opts LoopOptions, script ...heard) (*Loop, *scriptedEars) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ears := &scriptedEars{script: script, cancel: cancel}
	l := NewLoop(conv, ears, opts)
	if err := l.Run(ctx); err != nil {
		t.Fatal(err)
	}
	return l, ears
}

func TestLoopGreetsAndExits(t *testing.T) {
	conv := newFakeConv(t)

	l, ears := runLoop(t, conv, quickLoop(),
		heard{text: "hello there", took: 300 * time.Millisecond},
		heard{text: "goodbye", took: 150 * time.Millisecond},
		heard{text: "never heard"},
	)

	if len(conv.says) == 0 || conv.says[0] != conv.profile.Announcement {
		t.Fatalf("expected announcement first, got %v", conv.says)
	}
	if !slices.Equal(conv.handled, []string{"hello there", "goodbye"}) {
		t.Fatalf("handled %v", conv.handled)
	}
	if !slices.Equal(conv.heardIn, []time.Duration{300 * time.Millisecond, 150 * time.Millisecond}) {
		t.Fatalf("recognition times %v", conv.heardIn)
	}
	if len(ears.script) != 1 {
		t.Fatalf("loop kept listening after exit")
	}
	if l.State() != Exiting {
		t.Fatalf("state %s", l.State())
	}
}

func TestLoopIdleAndWakePhrase(t *testing.T) {
	conv := newFakeConv(t)
	conv.since = 20 * time.Second
	opts := quickLoop()
	opts.Greet = false

	_, ears := runLoop(t, conv, opts,
		heard{text: ""},
		heard{text: "random chatter"},
		heard{text: "hey god are you there"},
	)

	if conv.idles != 1 {
		t.Fatalf("idle line spoken %d times", conv.idles)
	}
	if !slices.Equal(conv.handled, []string{"hey god are you there"}) {
		t.Fatalf("handled %v", conv.handled)
	}
	want := []time.Duration{opts.UtteranceMax, opts.PollLength, opts.PollLength, opts.UtteranceMax}
	if !slices.Equal(ears.lens, want) {
		t.Fatalf("capture lengths %v, want %v", ears.lens, want)
	}
}

func TestLoopSilenceBeforeTimeoutStaysListening(t *testing.T) {
	conv := newFakeConv(t)
	conv.since = 5 * time.Second
	opts := quickLoop()
	opts.Greet = false

	l, ears := runLoop(t, conv, opts, heard{text: ""}, heard{text: ""})

	if conv.idles != 0 {
		t.Fatalf("went idle after %v", conv.since)
	}
	for _, d := range ears.lens {
		if d != opts.UtteranceMax {
			t.Fatalf("polled while listening: %v", ears.lens)
		}
	}
	if l.State() != Exiting {
		t.Fatalf("state %s", l.State())
	}
}

func TestLoopSurvivesListenErrors(t *testing.T) {
	conv := newFakeConv(t)
	opts := quickLoop()
	opts.Greet = false

	runLoop(t, conv, opts,
		heard{err: errors.New("device busy")},
		heard{text: "still here"},
	)

	if !slices.Equal(conv.handled, []string{"still here"}) {
		t.Fatalf("handled %v", conv.handled)
	}
}

func TestLoopWakeSignal(t *testing.T) {
	conv := newFakeConv(t)
	opts := quickLoop()
	opts.Greet = false

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ears := &scriptedEars{cancel: cancel}
	l := NewLoop(conv, ears, opts)
	l.Wake()
	l.Wake()

	if err := l.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if conv.welcomes != 1 {
		t.Fatalf("welcome spoken %d times", conv.welcomes)
	}
}

func TestLineReader(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	eof := make(chan struct{})
	lr := NewLineReader(ctx, strings.NewReader("hello\n\n  bye  \n"), func() { close(eof) })

	var got []string
	for range 3 {
		text, took, err := lr.Listen(ctx, time.Second)
		if err != nil || took != 0 {
			t.Fatalf("listen: %v %v", took, err)
		}
		got = append(got, text)
	}
	if !slices.Equal(got, []string{"hello", "", "bye"}) {
		t.Fatalf("lines %q", got)
	}

	select {
	case <-eof:
	case <-time.After(time.Second):
		t.Fatal("end of input not reported")
	}
}

func TestLineReaderStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	lr := NewLineReader(ctx, strings.NewReader("never\nread\n"), func() {})
	cancel()

	select {
	case <-lr.Done():
	case <-time.After(time.Second):
		t.Fatal("reader goroutine still blocked after cancel")
	}
	if _, _, err := lr.Listen(ctx, time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}
