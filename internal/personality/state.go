package personality

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Voices is the speech side of a switch: whatever holds the active voice id.
type Voices interface {
	SetVoice(id string) error
	Voice() string
}

// State is the active personality, voice and language of one conversation.
type State struct {
	reg    *Registry
	voices Voices
	now    func() time.Time

	mu         sync.Mutex
	current    ID
	language   string
	lastActive time.Time
	lastSwitch time.Time
	switching  atomic.Bool
}

func NewState(reg *Registry, voices Voices, initial ID, now func() time.Time) (*State, error) {
	if now == nil {
		now = time.Now
	}

	p, err := reg.Get(initial)
	if err != nil {
		return nil, err
	}
	if err := voices.SetVoice(p.Voice); err != nil {
		return nil, fmt.Errorf("initial voice: %w", err)
	}

	return &State{
		reg:        reg,
		voices:     voices,
		now:        now,
		current:    initial,
		language:   p.Language,
		lastActive: now(),
	}, nil
}

func (s *State) Registry() *Registry { return s.reg }

func (s *State) Current() ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *State) Profile() *Profile {
	return s.reg.MustGet(s.Current())
}

func (s *State) Voice() string { return s.voices.Voice() }

func (s *State) Language() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.language
}

func (s *State) Switching() bool { return s.switching.Load() }

func (s *State) LastSwitch() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSwitch
}

// Touch records user activity.
func (s *State) Touch() {
	s.mu.Lock()
	s.lastActive = s.now()
	s.mu.Unlock()
}

func (s *State) SinceActive() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().Sub(s.lastActive)
}

func (s *State) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

func (s *State) setCurrent(id ID) {
	s.mu.Lock()
	s.current = id
	s.mu.Unlock()
}

// SwitchTo makes target the active personality and voice. announce synthesizes the
// switch line. On any failure the previous personality and voice are restored
// before the error is returned. A request arriving while another switch runs is
// dropped and reported as switched=false.
func (s *State) SwitchTo(ctx context.Context, target ID, announce func(ctx context.Context, text string) error) (switched bool, err error) {
	p, err := s.reg.Get(target)
	if err != nil {
		return false, err
	}
	if target == s.Current() {
		return false, nil
	}

	if !s.switching.CompareAndSwap(false, true) {
		log.Warn("Personality switch already running, dropping request", "target", target)
		return false, nil
	}
	defer s.switching.Store(false)

	oldID := s.Current()
	oldVoice := s.voices.Voice()

	defer func() {
		if err == nil {
			return
		}
		s.setCurrent(oldID)
		if rerr := s.voices.SetVoice(oldVoice); rerr != nil {
			err = errors.Join(err, fmt.Errorf("restore voice: %w", rerr))
		}
		log.Error("Personality switch rolled back", "from", oldID, "to", target, "err", err)
	}()

	s.setCurrent(target)
	if err = s.voices.SetVoice(p.Voice); err != nil {
		return false, fmt.Errorf("set voice %s: %w", p.Voice, err)
	}

	if got, voice := s.Current(), s.voices.Voice(); got != target || voice != p.Voice {
		err = fmt.Errorf("switch did not land: personality %s voice %s", got, voice)
		return false, err
	}

	if announce != nil {
		if err = announce(ctx, p.Announcement); err != nil {
			return false, fmt.Errorf("announce: %w", err)
		}
	}

	s.mu.Lock()
	s.lastSwitch = s.now()
	s.mu.Unlock()

	log.Info("Personality switched", "from", oldID, "to", target, "voice", p.Voice)
	return true, nil
}

// SetLanguage accepts only English for now.
func (s *State) SetLanguage(lang string) error {
	if lang != English {
		return fmt.Errorf("%w: %q", ErrUnknownLanguage, lang)
	}
	s.mu.Lock()
	s.language = lang
	s.mu.Unlock()
	return nil
}
