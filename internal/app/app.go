// Package app wires the configured services into a coordinator.
package app

import (
	"context"
	"fmt"
	log "log/slog"
	"slices"
	"strings"
	"time"

	"aigod/internal/bus"
	"aigod/internal/chat"
	"aigod/internal/config"
	"aigod/internal/coordinator"
	"aigod/internal/entertainment"
	"aigod/internal/personality"
	"aigod/internal/proxy"
	"aigod/internal/sound"
	"aigod/internal/tts"
	"aigod/internal/user"
)

const (
	shard     = "aigod"
	effectGap = 500 * time.Millisecond
	busReconn = 3 * time.Second
)

type Options struct {
	// Local plays speech and effects on this machine. Otherwise audio is only rendered to files.
	Local bool

	// Ducker lowers other applications while speaking locally. Optional.
	Ducker tts.Ducker

	// Fallback speaks text when no audio file could be produced. Local only.
	Fallback func(ctx context.Context, text string) error
}

type App struct {
	Config        config.Config
	Coordinator   *coordinator.Coordinator
	Personalities *personality.Registry
	Speech        *tts.Pipeline
	Chat          *chat.Synthesizer
	Users         *user.Store

	// Bus is nil unless BUS_URL is set.
	Bus *bus.Publisher
}

func Build(cfg config.Config, opts Options) (*App, error) {
	httpClient, err := proxy.NewClient(cfg.SocksProxy)
	if err != nil {
		return nil, fmt.Errorf("socks proxy %s: %w", cfg.SocksProxy, err)
	}

	reg, err := personality.Load(map[personality.ID]string{
		personality.Nikki:    cfg.Voice.Nikki,
		personality.MajorTom: cfg.Voice.Tom,
	})
	if err != nil {
		return nil, err
	}

	initial, ok := reg.Resolve(cfg.Personality)
	if !ok {
		initial = personality.ID(strings.ToLower(cfg.Personality))
	}

	var player tts.Player
	ttsOpts := tts.DefaultOptions()
	ttsOpts.Dir = cfg.CacheDir
	ttsOpts.Model = cfg.Voice.Model
	ttsOpts.Stability = cfg.Voice.Stability
	ttsOpts.SimilarityBoost = cfg.Voice.SimilarityBoost
	ttsOpts.Voices = []string{cfg.Voice.Nikki, cfg.Voice.Tom}
	if opts.Local {
		pp, err := tts.NewProcessPlayer(cfg.CacheDir, 0, opts.Ducker)
		if err != nil {
			return nil, err
		}
		player = pp
		ttsOpts.Fallback = opts.Fallback
	}

	speech, err := tts.NewPipeline(tts.NewElevenLabs(cfg.ElevenLabsKey, cfg.ElevenLabsURL, httpClient), player, ttsOpts)
	if err != nil {
		return nil, err
	}

	state, err := personality.NewState(reg, speech, initial, nil)
	if err != nil {
		return nil, fmt.Errorf("personality %q: %w", cfg.Personality, err)
	}

	chatOpts := chat.DefaultOptions()
	chatOpts.Model = cfg.OpenAIModel
	chatOpts.MaxTokens = cfg.MaxTokens
	chatOpts.Temperature = cfg.Temperature
	chatOpts.SystemPrompt = func(id string) string {
		p, err := reg.Get(personality.ID(id))
		if err != nil {
			return ""
		}
		return p.SystemPrompt
	}
	synth := chat.NewSynthesizer(chat.NewOpenAI(cfg.OpenAIKey, httpClient), chatOpts)

	fun, err := entertainment.Load(nil)
	if err != nil {
		return nil, err
	}

	users, err := user.Open(cfg.UsersFile, nil)
	if err != nil {
		return nil, fmt.Errorf("user store: %w", err)
	}

	a := &App{
		Config:        cfg,
		Personalities: reg,
		Speech:        speech,
		Chat:          synth,
		Users:         users,
	}

	coordOpts := coordinator.Options{
		Play:        opts.Local,
		IdleTimeout: cfg.IdleTimeout,
		WakeWords:   WakeWords(cfg.WakeWords),
		Authorized:  users.Exists,
		Users:       users,
		Sounds:      sound.Nop{},
	}
	if opts.Local {
		coordOpts.Sounds = sound.NewLocal(cfg.SoundsDir, effectGap)
	}
	if cfg.BusURL != "" {
		a.Bus = bus.NewPublisher(cfg.BusURL, shard, busReconn, func(ctx context.Context, text string) string {
			return a.Coordinator.Handle(ctx, text, "").Response()
		})
		coordOpts.Observer = a.Bus
	}

	a.Coordinator = coordinator.New(state, synth, speech, fun, personality.NewPicker(nil), coordOpts)

	log.Info("Services ready",
		"personality", initial,
		"local", opts.Local,
		"cache", speech.Dir(),
		"users", cfg.UsersFile,
		"bus", cfg.BusURL != "",
		"proxy", cfg.SocksProxy != "",
	)
	return a, nil
}

// WakeWords is the configured list plus the defaults, without duplicates.
func WakeWords(configured []string) []string {
	words := slices.Concat(configured, config.DefaultWakeWords)
	for i, w := range words {
		words[i] = personality.Normalize(w)
	}
	slices.Sort(words)
	return slices.DeleteFunc(slices.Compact(words), func(w string) bool { return w == "" })
}

// Warm renders the stock lines of every personality in its own voice.
func (a *App) Warm(ctx context.Context) (tts.WarmReport, error) {
	var total tts.WarmReport
	for _, id := range a.Personalities.IDs() {
		p := a.Personalities.MustGet(id)
		rep, err := a.Speech.Warm(ctx, p.Voice, slices.Concat(p.StockLines(), coordinator.FixedLines()))
		if err != nil {
			return total, fmt.Errorf("warm %s: %w", id, err)
		}
		log.Info("Warmed cache",
			"personality", id,
			"phrases", rep.Phrases,
			"cached", rep.Cached,
			"generated", rep.Generated,
			"failed", rep.Failed,
			"took", rep.Took.Round(time.Millisecond),
		)

		total.Phrases += rep.Phrases
		total.Cached += rep.Cached
		total.Generated += rep.Generated
		total.Failed += rep.Failed
		total.Took += rep.Took
	}
	return total, nil
}

// WarmText renders a warm-up report for control clients.
func WarmText(rep tts.WarmReport) string {
	return fmt.Sprintf("phrases=%d cached=%d generated=%d failed=%d took=%s",
		rep.Phrases, rep.Cached, rep.Generated, rep.Failed, rep.Took.Round(time.Millisecond))
}

// RunBus keeps the bus connection until ctx ends. It returns at once without a bus.
func (a *App) RunBus(ctx context.Context) {
	if a.Bus == nil {
		return
	}
	a.Bus.Run(ctx)
}

// LogStats writes the rolling latency summary.
func (a *App) LogStats() {
	for stage, s := range a.Coordinator.Stats().Summary() {
		log.Info("Latency",
			"stage", stage,
			"count", s.Count,
			"avg", s.Avg.Round(time.Millisecond),
			"min", s.Min.Round(time.Millisecond),
			"max", s.Max.Round(time.Millisecond),
		)
	}
}

// StatsText renders the summary for control clients.
func (a *App) StatsText() string {
	summary := a.Coordinator.Stats().Summary()
	stages := make([]string, 0, len(summary))
	for s := range summary {
		stages = append(stages, s)
	}
	slices.Sort(stages)

	var b strings.Builder
	for _, stage := range stages {
		s := summary[stage]
		fmt.Fprintf(&b, "%-20s n=%-4d avg=%-8s min=%-8s max=%s\n", stage, s.Count,
			s.Avg.Round(time.Millisecond), s.Min.Round(time.Millisecond), s.Max.Round(time.Millisecond))
	}
	return b.String()
}
