package session

import (
	"context"
	log "log/slog"
	"sync"
	"time"

	"aigod/internal/coordinator"
)

type LoopState string

const (
	Listening LoopState = "listening"
	IdleMode  LoopState = "idle_mode"
	Exiting   LoopState = "exiting"
)

// Listener captures one utterance of at most maxLen and returns its text and
// how long recognition took. Silence is an empty string, not an error.
type Listener interface {
	Listen(ctx context.Context, maxLen time.Duration) (string, time.Duration, error)
}

type LoopOptions struct {
	IdleTimeout  time.Duration
	UtteranceMax time.Duration
	PollLength   time.Duration
	PollInterval time.Duration
	ErrorBackoff time.Duration

	// Greet speaks the personality announcement on start.
	Greet bool
}

func DefaultLoopOptions() LoopOptions {
	return LoopOptions{
		IdleTimeout:  15 * time.Second,
		UtteranceMax: 10 * time.Second,
		PollLength:   3 * time.Second,
		PollInterval: 500 * time.Millisecond,
		ErrorBackoff: time.Second,
		Greet:        true,
	}
}

// Loop is the microphone session: listen, answer, fall idle, wait for a wake word.
type Loop struct {
	conv Conversation
	ears Listener
	opts LoopOptions
	wake chan struct{}

	mu    sync.Mutex
	state LoopState
}

func NewLoop(conv Conversation, ears Listener, opts LoopOptions) *Loop {
	return &Loop{
		conv:  conv,
		ears:  ears,
		opts:  opts,
		wake:  make(chan struct{}, 1),
		state: Listening,
	}
}

func (l *Loop) State() LoopState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Loop) setState(s LoopState) {
	l.mu.Lock()
	prev := l.state
	l.state = s
	l.mu.Unlock()

	if prev != s {
		log.Info("Session state", "from", prev, "to", s)
	}
}

// Wake leaves idle mode as if a wake word was heard.
func (l *Loop) Wake() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is cancelled or the user says goodbye.
func (l *Loop) Run(ctx context.Context) error {
	defer l.setState(Exiting)

	if l.opts.Greet {
		l.conv.Say(ctx, l.conv.Profile().Announcement)
	}

	for {
		if ctx.Err() != nil {
			log.Info("Session cancelled")
			return nil
		}
		if l.conv.ShouldExit() {
			log.Info("Exit requested, leaving session")
			return nil
		}

		select {
		case <-l.wake:
			l.setState(Listening)
			l.conv.Welcome(ctx)
			continue
		default:
		}

		switch l.State() {
		case Listening:
			l.listen(ctx)
		case IdleMode:
			l.poll(ctx)
		}
	}
}

func (l *Loop) listen(ctx context.Context) {
	text, took, err := l.ears.Listen(ctx, l.opts.UtteranceMax)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn("Listening failed", "err", err)
			sleep(ctx, l.opts.ErrorBackoff)
		}
		return
	}

	if text == "" {
		if idle := l.conv.SinceActive(); idle > l.opts.IdleTimeout {
			log.Info("No speech, going idle", "idle", idle.Round(time.Second))
			l.conv.Idle(ctx)
			l.setState(IdleMode)
		}
		return
	}

	l.conv.HandleTurn(ctx, coordinator.Turn{Text: text, Recognition: took})
}

// poll does short captures and only reacts to a wake phrase.
func (l *Loop) poll(ctx context.Context) {
	text, took, err := l.ears.Listen(ctx, l.opts.PollLength)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn("Wake word polling failed", "err", err)
			sleep(ctx, l.opts.ErrorBackoff)
		}
		return
	}

	if text != "" && l.conv.IsWake(text) {
		l.setState(Listening)
		l.conv.HandleTurn(ctx, coordinator.Turn{Text: text, Recognition: took})
		return
	}

	if text != "" {
		log.Debug("Ignoring speech while idle", "text", text)
	}
	sleep(ctx, l.opts.PollInterval)
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
