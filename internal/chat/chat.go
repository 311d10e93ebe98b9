package chat

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	log "log/slog"
	"strings"
	"sync"
	"time"

	"aigod/internal/remote"
	"aigod/pkg/cache"
	"aigod/pkg/retry"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var ErrEmptyAnswer = errors.New("empty answer from chat backend")

type Message struct {
	Role    string
	Content string
}

type Request struct {
	Messages    []Message
	Model       string
	MaxTokens   int
	Temperature float64
}

type Backend interface {
	Complete(ctx context.Context, req Request) (string, error)
}

type Options struct {
	Model       string
	MaxTokens   int
	Temperature float64

	// History is the number of user/assistant messages kept.
	History int

	CacheSize int
	CacheTTL  time.Duration

	Retry retry.Policy

	// SystemPrompt returns the prompt for a personality id.
	SystemPrompt func(personality string) string
}

func DefaultOptions() Options {
	return Options{
		Model:       "gpt-3.5-turbo",
		MaxTokens:   150,
		Temperature: 0.7,
		History:     10,
		CacheSize:   100,
		CacheTTL:    time.Hour,
		Retry:       retry.Chat,
	}
}

// Synthesizer turns a prompt into a personality-flavored answer, with a response
// cache and a bounded conversation history.
type Synthesizer struct {
	backend Backend
	opts    Options
	cache   *cache.Cache[string, string]

	mu         sync.Mutex
	history    []Message
	lastPrompt string
}

func NewSynthesizer(backend Backend, opts Options) *Synthesizer {
	if opts.History <= 0 {
		opts.History = 10
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 100
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Hour
	}
	if opts.Retry.Retryable == nil {
		opts.Retry.Retryable = remote.Transient
	}
	if opts.Retry.OnRetry == nil {
		opts.Retry.OnRetry = func(attempt int, err error) {
			log.Warn("Chat completion failed, retrying", "attempt", attempt, "err", err)
		}
	}

	return &Synthesizer{
		backend: backend,
		opts:    opts,
		cache:   cache.New[string, string](opts.CacheSize, opts.CacheTTL),
	}
}

func cacheKey(prompt, personality string) string {
	sum := sha256.Sum256([]byte(prompt + "_" + personality))
	return hex.EncodeToString(sum[:])
}

// Respond answers prompt in the voice of personality. A cached answer returns
// without touching the history.
func (s *Synthesizer) Respond(ctx context.Context, prompt, personality string, useCache bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastPrompt = prompt

	key := cacheKey(prompt, personality)
	if useCache {
		if answer, ok := s.cache.Get(key); ok {
			log.Debug("Chat cache hit", "personality", personality)
			return answer, nil
		}
	}

	msgs := make([]Message, 0, len(s.history)+2)
	msgs = append(msgs, Message{Role: RoleSystem, Content: s.systemPrompt(personality)})
	msgs = append(msgs, s.history...)
	msgs = append(msgs, Message{Role: RoleUser, Content: prompt})

	req := Request{
		Messages:    msgs,
		Model:       s.opts.Model,
		MaxTokens:   s.opts.MaxTokens,
		Temperature: s.opts.Temperature,
	}

	start := time.Now()
	raw, err := retry.Value(ctx, s.opts.Retry, func(ctx context.Context) (string, error) {
		return s.backend.Complete(ctx, req)
	})
	if err != nil {
		return "", err
	}

	answer := strings.TrimSpace(raw)
	if answer == "" {
		return "", ErrEmptyAnswer
	}

	s.history = append(s.history,
		Message{Role: RoleUser, Content: prompt},
		Message{Role: RoleAssistant, Content: answer},
	)
	if over := len(s.history) - s.opts.History; over > 0 {
		s.history = append([]Message(nil), s.history[over:]...)
	}

	if useCache {
		s.cache.Set(key, answer)
	}

	log.Info("Chat response",
		"personality", personality,
		"prompt_len", len(prompt),
		"answer_len", len(answer),
		"latency", time.Since(start).Round(time.Millisecond),
	)

	return answer, nil
}

func (s *Synthesizer) systemPrompt(personality string) string {
	if s.opts.SystemPrompt != nil {
		if p := s.opts.SystemPrompt(personality); p != "" {
			return p
		}
	}
	return fmt.Sprintf("You are %s, a helpful voice assistant. Keep answers short.", personality)
}

func (s *Synthesizer) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.history...)
}

// LastPrompt is the last prompt sent to the backend, for "give me another answer".
func (s *Synthesizer) LastPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPrompt
}

func (s *Synthesizer) Reset() {
	s.mu.Lock()
	s.history = nil
	s.lastPrompt = ""
	s.mu.Unlock()
	s.cache.Clear()
}
