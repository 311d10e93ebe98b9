package tts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	log "log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"aigod/internal/remote"
	"aigod/pkg/audioconv"
	"aigod/pkg/cache"
	"aigod/pkg/retry"
)

// Concurrent syntheses during Warm.
const warmLimit = 3

type Options struct {
	Dir             string
	Model           string
	Stability       float64
	SimilarityBoost float64
	Language        string

	// Voices lists the accepted voice ids; empty accepts any non-empty id.
	Voices []string

	CacheSize    int
	CacheTTL     time.Duration
	Retry        retry.Policy
	SynthTimeout time.Duration

	// Fallback speaks text directly when no file could be produced and playback was requested.
	Fallback func(ctx context.Context, text string) error
}

func DefaultOptions() Options {
	return Options{
		Dir:             "static/cached_responses",
		Model:           "eleven_monolingual_v1",
		Stability:       0.5,
		SimilarityBoost: 0.75,
		Language:        "en-US",
		CacheSize:       50,
		CacheTTL:        24 * time.Hour,
		Retry:           retry.TTS,
		SynthTimeout:    90 * time.Second,
	}
}

// Pipeline resolves text to an mp3 file: memory cache, then disk, then the backend.
type Pipeline struct {
	backend Backend
	player  Player
	opts    Options

	paths  *cache.Cache[string, string]
	flight singleflight.Group

	mu       sync.RWMutex
	voice    string
	language string
	voices   map[string]bool

	synthCalls int64
}

func NewPipeline(backend Backend, player Player, opts Options) (*Pipeline, error) {
	if opts.Dir == "" {
		return nil, errors.New("cache dir is required")
	}
	dir, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	opts.Dir = dir

	if opts.CacheSize <= 0 {
		opts.CacheSize = 50
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 24 * time.Hour
	}
	if opts.Language == "" {
		opts.Language = "en-US"
	}
	if opts.SynthTimeout <= 0 {
		opts.SynthTimeout = 90 * time.Second
	}
	if opts.Retry.Retryable == nil {
		opts.Retry.Retryable = remote.Transient
	}
	if opts.Retry.OnRetry == nil {
		opts.Retry.OnRetry = func(attempt int, err error) {
			log.Warn("TTS synthesis failed, retrying", "attempt", attempt, "err", err)
		}
	}

	p := &Pipeline{
		backend:  backend,
		player:   player,
		opts:     opts,
		paths:    cache.New[string, string](opts.CacheSize, opts.CacheTTL),
		language: opts.Language,
		voices:   map[string]bool{},
	}
	for _, v := range opts.Voices {
		p.voices[v] = true
	}

	return p, nil
}

func (p *Pipeline) Dir() string { return p.opts.Dir }

func (p *Pipeline) SetVoice(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty id", ErrUnknownVoice)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.voices) > 0 && !p.voices[id] {
		return fmt.Errorf("%w: %s", ErrUnknownVoice, id)
	}
	p.voice = id
	return nil
}

func (p *Pipeline) Voice() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.voice
}

func (p *Pipeline) SetLanguage(lang string) {
	p.mu.Lock()
	p.language = lang
	p.mu.Unlock()
}

func (p *Pipeline) Language() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.language
}

// SynthCalls counts backend synthesis attempts that produced a file.
func (p *Pipeline) SynthCalls() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.synthCalls
}

func Key(text, voice, language string) string {
	sum := sha256.Sum256([]byte(text + "_" + voice + "_" + language))
	return hex.EncodeToString(sum[:])
}

// PathFor is the deterministic disk location for text in the current voice and language.
func (p *Pipeline) PathFor(text string) string {
	return p.pathForKey(Key(text, p.Voice(), p.Language()))
}

func (p *Pipeline) pathForKey(key string) string {
	return filepath.Join(p.opts.Dir, "cached_"+key+".mp3")
}

// Generate resolves text to an artifact. Failures are logged and yield a zero Artifact.
func (p *Pipeline) Generate(ctx context.Context, text string, o GenerateOptions) Artifact {
	text = strings.TrimSpace(text)
	if text == "" {
		log.Warn("Skipping TTS", "err", ErrEmptyText)
		return Artifact{}
	}

	voice := p.Voice()
	start := time.Now()

	art, err := p.resolve(ctx, text, voice, p.Language(), o.Force)
	if err != nil {
		log.Error("TTS generation failed", "voice", voice, "chars", len(text), "err", err)
		if o.Play && p.opts.Fallback != nil {
			if ferr := p.opts.Fallback(ctx, text); ferr != nil {
				log.Warn("Fallback speech failed", "err", ferr)
			}
		}
		return Artifact{}
	}

	art.Synth = time.Since(start)

	if o.Play {
		art.Play = p.play(ctx, art.Path)
	}

	return art
}

// resolve checks both caches unless forced, then synthesizes. Concurrent misses for
// the same key share one synthesis that outlives any single caller's ctx; a forced
// call never joins an unforced one.
func (p *Pipeline) resolve(ctx context.Context, text, voice, lang string, force bool) (Artifact, error) {
	key := Key(text, voice, lang)

	if !force {
		if art := p.lookup(key); art.OK() {
			return art, nil
		}
	}

	group := key
	if force {
		group = "force:" + key
	}

	ch := p.flight.DoChan(group, func() (any, error) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.SynthTimeout)
		defer cancel()
		return p.synthesize(sctx, key, Request{
			Text:            text,
			Voice:           voice,
			Model:           p.opts.Model,
			Stability:       p.opts.Stability,
			SimilarityBoost: p.opts.SimilarityBoost,
		})
	})

	select {
	case <-ctx.Done():
		return Artifact{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Artifact{}, res.Err
		}
		if res.Shared {
			log.Debug("Joined in-flight synthesis", "key", key[:12])
		}
		return res.Val.(Artifact), nil
	}
}

type WarmReport struct {
	Phrases   int
	Cached    int
	Generated int
	Failed    int
	Took      time.Duration
}

// Warm makes sure every phrase has a file in the given voice, at most warmLimit
// syntheses at a time. Failures are counted, not returned; the error is only ctx's.
func (p *Pipeline) Warm(ctx context.Context, voice string, phrases []string) (WarmReport, error) {
	p.mu.RLock()
	known := len(p.voices) == 0 || p.voices[voice]
	p.mu.RUnlock()
	if voice == "" || !known {
		return WarmReport{}, fmt.Errorf("%w: %q", ErrUnknownVoice, voice)
	}

	lang := p.Language()
	start := time.Now()

	var (
		mu  sync.Mutex
		rep WarmReport
	)
	count := func(f *int) {
		mu.Lock()
		*f++
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(warmLimit)

	seen := make(map[string]bool, len(phrases))
	for _, text := range phrases {
		text = strings.TrimSpace(text)
		if text == "" || seen[text] {
			continue
		}
		seen[text] = true
		rep.Phrases++

		g.Go(func() error {
			art, err := p.resolve(gctx, text, voice, lang, false)
			switch {
			case err != nil && gctx.Err() != nil:
				return gctx.Err()
			case err != nil:
				log.Warn("Warm-up synthesis failed", "voice", voice, "chars", len(text), "err", err)
				count(&rep.Failed)
			case art.Source == FromGenerator:
				count(&rep.Generated)
			default:
				count(&rep.Cached)
			}
			return nil
		})
	}

	err := g.Wait()
	rep.Took = time.Since(start)
	return rep, err
}

func (p *Pipeline) lookup(key string) Artifact {
	if path, ok := p.paths.Get(key); ok {
		if _, err := os.Stat(path); err == nil {
			return Artifact{Path: path, Source: FromMemory}
		}
		p.paths.Delete(key)
	}

	path := p.pathForKey(key)
	if fi, err := os.Stat(path); err == nil && fi.Size() > 0 {
		p.paths.Set(key, path)
		return Artifact{Path: path, Source: FromDisk, Duration: duration(path)}
	}

	return Artifact{}
}

func (p *Pipeline) synthesize(ctx context.Context, key string, req Request) (Artifact, error) {
	path := p.pathForKey(key)

	err := p.opts.Retry.Do(ctx, func(ctx context.Context) error {
		body, err := p.backend.Synthesize(ctx, req)
		if err != nil {
			return err
		}
		defer body.Close()
		return writeAtomic(path, body)
	})
	if err != nil {
		return Artifact{}, err
	}

	p.mu.Lock()
	p.synthCalls++
	p.mu.Unlock()

	p.paths.Set(key, path)

	art := Artifact{Path: path, Source: FromGenerator, Duration: duration(path)}
	log.Info("TTS generated", "voice", req.Voice, "chars", len(req.Text), "audio", art.Duration.Round(time.Millisecond))

	return art, nil
}

func (p *Pipeline) play(ctx context.Context, path string) time.Duration {
	if p.player == nil {
		return 0
	}

	start := time.Now()
	if err := p.player.Play(ctx, path); err != nil {
		log.Error("Playback failed", "path", filepath.Base(path), "err", err)
	}
	return time.Since(start)
}

// writeAtomic streams r into a temp file next to path and renames it into place,
// so a half-written file is never mistaken for a cache hit.
func writeAtomic(path string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".partial-*.mp3")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return remote.Wrap("elevenlabs", fmt.Errorf("stream audio: %w", err))
	}
	if n == 0 {
		return errors.New("backend returned no audio")
	}

	return os.Rename(tmp.Name(), path)
}

func duration(path string) time.Duration {
	d, err := audioconv.MP3Duration(path)
	if err != nil {
		log.Debug("Could not read audio duration", "path", filepath.Base(path), "err", err)
		return 0
	}
	return d
}
