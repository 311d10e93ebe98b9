package coordinator

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"aigod/internal/chat"
	"aigod/internal/entertainment"
	"aigod/internal/personality"
	"aigod/internal/sound"
	"aigod/internal/tts"
	"aigod/internal/user"
)

// Speech resolves text to audio in the active voice.
type Speech interface {
	Generate(ctx context.Context, text string, o tts.GenerateOptions) tts.Artifact
	SetLanguage(lang string)
}

// Responder is the chat side: a personality-flavored answer to a prompt.
type Responder interface {
	Respond(ctx context.Context, prompt, personality string, useCache bool) (string, error)
	LastPrompt() string
}

type Content interface {
	Pick(k entertainment.Kind) (entertainment.Item, error)
}

const (
	fallbackCooldown = 2 * time.Second
	minInputLen      = 2

	rimshotChance  = 0.20
	dramaticChance = 0.05

	farewell         = "Goodbye! Try not to miss me too much."
	farewellNamed    = "Finally leaving, %s? Don't let the door hit you on the way out."
	englishConfirmed = "English it is. At least you're consistent."
	fallbackLine     = "I didn't catch that. Try speaking clearly, maybe?"
	welcomeFallback  = "Welcome to AI God. How may I assist you today?"
	greetNew         = "Back so soon, %s? I was just about to take a nap."
	greetWithTopics  = "Look who's back, %s! We were talking about %s. Try to keep up."
	greetReturning   = "Welcome back, %s! How can I help you today?"
)

var (
	exitPhrases      = []string{"exit", "quit", "goodbye", "bye"}
	englishPhrases   = []string{"switch to english", "english", "speak english"}
	newAnswerPhrases = []string{"new answer", "different answer", "try again", "another answer"}

	impressionRe = regexp.MustCompile(`\b(impression|do an impression)\b`)
	songRe       = regexp.MustCompile(`\b(sing a song|sing|song)\b`)
)

// FixedLines are spoken word for word under every personality.
func FixedLines() []string {
	return []string{farewell, englishConfirmed, fallbackLine, welcomeFallback}
}

type Options struct {
	// Play makes every artifact play locally before Handle returns.
	Play bool

	IdleTimeout time.Duration
	WakeWords   []string

	// Authorized decides whether a non-empty user id may talk. Nil allows everyone.
	Authorized func(userID string) bool

	Users    *user.Store
	Sounds   sound.Player
	Observer Observer
	Stats    *Stats
}

// Coordinator turns utterances into spoken replies. Calls are serialized.
type Coordinator struct {
	state  *personality.State
	chat   Responder
	speech Speech
	fun    Content
	picker *personality.Picker
	opts   Options

	mu   sync.Mutex
	exit atomic.Bool
}

func New(state *personality.State, responder Responder, speech Speech, fun Content, picker *personality.Picker, opts Options) *Coordinator {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 15 * time.Second
	}
	if opts.Sounds == nil {
		opts.Sounds = sound.Nop{}
	}
	if opts.Stats == nil {
		opts.Stats = NewStats(100)
	}
	if picker == nil {
		picker = personality.NewPicker(nil)
	}

	wake := make([]string, 0, len(opts.WakeWords))
	for _, w := range opts.WakeWords {
		if w = personality.Normalize(w); w != "" {
			wake = append(wake, w)
		}
	}
	opts.WakeWords = wake

	return &Coordinator{
		state:  state,
		chat:   responder,
		speech: speech,
		fun:    fun,
		picker: picker,
		opts:   opts,
	}
}

func (c *Coordinator) State() *personality.State { return c.state }

func (c *Coordinator) Stats() *Stats { return c.opts.Stats }

// ShouldExit is set once the user said goodbye.
func (c *Coordinator) ShouldExit() bool { return c.exit.Load() }

func (c *Coordinator) SinceActive() time.Duration { return c.state.SinceActive() }

// Profile is the active personality profile.
func (c *Coordinator) Profile() *personality.Profile { return c.state.Profile() }

// Turn is one heard utterance.
type Turn struct {
	Text   string
	UserID string

	// Recognition is how long speech-to-text took for Text.
	Recognition time.Duration
}

// Handle runs one utterance through the dispatch chain. It never returns an
// error: failures are spoken as a personality error line and recorded in Metrics.
func (c *Coordinator) Handle(ctx context.Context, input, userID string) Metrics {
	return c.HandleTurn(ctx, Turn{Text: input, UserID: userID})
}

func (c *Coordinator) HandleTurn(ctx context.Context, t Turn) Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := newMetrics(t.Text, c.state.Current())
	m.Latency.Recognition = t.Recognition

	if err := c.dispatch(ctx, m, t.Text, t.UserID); err != nil {
		c.speakError(ctx, m, err)
	}

	return c.finish(m)
}

func (c *Coordinator) dispatch(ctx context.Context, m *Metrics, input, userID string) error {
	if userID != "" && c.opts.Authorized != nil && !c.opts.Authorized(userID) {
		log.Warn("Dropping input from unauthorized user", "user", userID)
		m.Branch = BranchRejected
		return nil
	}

	text := personality.Normalize(input)
	if len([]rune(text)) < minInputLen {
		log.Debug("Input too short, ignoring", "input", input)
		m.Branch = BranchIgnored
		return nil
	}

	log.Info("User said", "text", input, "personality", m.Personality)

	// every handled branch counts as activity
	defer c.state.Touch()

	if c.isWake(text) {
		m.Branch = BranchWake
		return c.sayCategory(ctx, m, personality.Wake)
	}

	if idle := c.state.SinceActive(); idle > c.opts.IdleTimeout {
		log.Info("Idle timeout passed", "idle", idle.Round(time.Millisecond))
		m.Branch = BranchIdle
		return c.sayCategory(ctx, m, personality.Idle)
	}

	if handled, err := c.command(ctx, m, text); handled || err != nil {
		return err
	}

	if cat, ok := category(text); ok {
		m.Branch = BranchCategory
		return c.sayCategory(ctx, m, cat)
	}

	if egg, ok := c.Profile().EasterEgg(text); ok {
		log.Info("Easter egg", "input", text)
		m.Branch = BranchEasterEgg
		if err := c.say(ctx, m, egg); err != nil {
			return err
		}
		c.recordTurn(chat.RoleAssistant, egg)
		return nil
	}

	if kind, ok := entertainment.Trigger(text); ok {
		m.Branch = BranchEntertainment
		return c.entertain(ctx, m, kind)
	}

	m.Branch = BranchChat
	return c.converse(ctx, m, input, true)
}

// IsWake reports whether text contains a wake phrase.
func (c *Coordinator) IsWake(text string) bool {
	return c.isWake(personality.Normalize(text))
}

func (c *Coordinator) isWake(text string) bool {
	for _, w := range c.opts.WakeWords {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

// command handles exact special commands, switches, answer retries, moods and introductions.
func (c *Coordinator) command(ctx context.Context, m *Metrics, text string) (bool, error) {
	for _, p := range exitPhrases {
		if text == p {
			m.Branch = BranchExit
			return true, c.farewell(ctx, m)
		}
	}

	if target, ok := c.state.Registry().Resolve(text); ok {
		m.Branch = BranchSwitch
		return true, c.switchTo(ctx, m, target)
	}

	for _, p := range englishPhrases {
		if text == p {
			m.Branch = BranchLanguage
			if err := c.state.SetLanguage(personality.English); err != nil {
				return true, err
			}
			c.speech.SetLanguage(personality.English)
			return true, c.say(ctx, m, englishConfirmed)
		}
	}

	if line, ok := c.Profile().SpecialCommands[text]; ok {
		m.Branch = BranchCommand
		return true, c.say(ctx, m, line)
	}

	for _, p := range newAnswerPhrases {
		if strings.Contains(text, p) {
			prompt := c.chat.LastPrompt()
			if prompt == "" {
				return false, nil
			}
			log.Info("New answer requested", "prompt", prompt)
			m.Branch = BranchChat
			return true, c.converse(ctx, m, prompt, false)
		}
	}

	if line, ok := c.Profile().Reaction(text); ok {
		m.Branch = BranchCategory
		if err := c.say(ctx, m, line); err != nil {
			return true, err
		}
		c.recordTurn(chat.RoleAssistant, line)
		return true, nil
	}

	if c.opts.Users != nil {
		if name, ok := user.Introduction(text); ok {
			m.Branch = BranchUser
			return true, c.greetUser(ctx, m, name)
		}
	}

	return false, nil
}

func category(text string) (personality.Category, bool) {
	switch {
	case strings.Contains(text, "compliment"):
		return personality.Compliment, true
	case strings.Contains(text, "motivation"), strings.Contains(text, "motivate me"):
		return personality.Motivation, true
	case impressionRe.MatchString(text):
		return personality.Impression, true
	case songRe.MatchString(text):
		return personality.Song, true
	}
	return "", false
}

func (c *Coordinator) farewell(ctx context.Context, m *Metrics) error {
	line := farewell
	if u := c.currentUser(); u != nil {
		line = fmt.Sprintf(farewellNamed, u.Name)
	}

	c.exit.Store(true)
	m.Exit = true
	log.Info("Exit requested", "personality", m.Personality)

	return c.say(ctx, m, line)
}

func (c *Coordinator) switchTo(ctx context.Context, m *Metrics, target personality.ID) error {
	start := time.Now()

	switched, err := c.state.SwitchTo(ctx, target, func(ctx context.Context, text string) error {
		return c.say(ctx, m, text)
	})
	c.opts.Stats.Add(StageSwitch, time.Since(start))

	if err != nil {
		m.Err = err
		if errors.Is(err, personality.ErrUnknownPersonality) {
			return err
		}
		log.Error("Personality switch failed", "target", target, "err", err)
		c.sayBestEffort(ctx, m, c.Profile().ErrorLine("switch"))
		return nil
	}

	if !switched {
		// already active or another switch is running
		return c.say(ctx, m, c.picker.Pick(string(c.state.Current())+":catchphrase", c.Profile().Catchphrases))
	}

	m.Switched = true
	m.Personality = target
	if c.opts.Users != nil {
		if err := c.opts.Users.SetPreference(string(target)); err != nil {
			log.Warn("Failed to store personality preference", "err", err)
		}
	}
	return nil
}

func (c *Coordinator) greetUser(ctx context.Context, m *Metrics, name string) error {
	u, created, err := c.opts.Users.GetOrCreate(name)
	if err != nil {
		log.Warn("Failed to store user", "name", name, "err", err)
	}
	if u == nil {
		return err
	}

	var line string
	switch topics := c.opts.Users.RecentTopics(3); {
	case created:
		line = fmt.Sprintf(greetNew, u.Name)
	case len(topics) > 0:
		line = fmt.Sprintf(greetWithTopics, u.Name, strings.Join(topics, ", "))
	default:
		line = fmt.Sprintf(greetReturning, u.Name)
	}

	if err := c.say(ctx, m, line); err != nil {
		return err
	}

	pref := personality.ID(u.PersonalityPreference)
	if pref == "" || pref == c.state.Current() {
		return nil
	}
	if _, err := c.state.Registry().Get(pref); err != nil {
		log.Warn("Ignoring stored preference", "user", u.Name, "err", err)
		return nil
	}

	c.effect(ctx, m, sound.Void)
	switched, err := c.state.SwitchTo(ctx, pref, nil)
	if err != nil {
		log.Error("Failed to apply user preference", "user", u.Name, "err", err)
		return nil
	}
	if switched {
		m.Switched = true
		m.Personality = pref
	}
	return nil
}

func (c *Coordinator) entertain(ctx context.Context, m *Metrics, kind entertainment.Kind) error {
	it, err := c.fun.Pick(kind)
	if err != nil {
		return err
	}

	for _, part := range it.Parts {
		if err := c.say(ctx, m, part); err != nil {
			return err
		}
	}

	// one roll per item so a joke never gets two effects
	r := c.picker.Float64()
	switch {
	case r < dramaticChance:
		c.effect(ctx, m, sound.Dramatic[c.picker.IntN(len(sound.Dramatic))])
	case kind == entertainment.Joke && r < dramaticChance+rimshotChance:
		c.effect(ctx, m, sound.Rimshot)
	}
	return nil
}

func (c *Coordinator) converse(ctx context.Context, m *Metrics, prompt string, useCache bool) error {
	start := time.Now()
	answer, err := c.chat.Respond(ctx, prompt, string(c.state.Current()), useCache)
	m.Latency.Chat = time.Since(start)
	if err != nil {
		return fmt.Errorf("chat: %w", err)
	}

	log.Info("God said", "text", answer, "latency", m.Latency.Chat.Round(time.Millisecond))

	if err := c.say(ctx, m, answer); err != nil {
		return err
	}

	c.recordTurn(chat.RoleUser, prompt)
	c.recordTurn(chat.RoleAssistant, answer)
	return nil
}

func (c *Coordinator) sayCategory(ctx context.Context, m *Metrics, cat personality.Category) error {
	p := c.Profile()
	line := c.picker.Pick(string(p.ID)+":"+string(cat), p.Lines(cat))
	if line == "" {
		return fmt.Errorf("no %s lines for %s", cat, p.ID)
	}
	if err := c.say(ctx, m, line); err != nil {
		return err
	}
	if cat != personality.Wake && cat != personality.Idle {
		c.recordTurn(chat.RoleAssistant, line)
	}
	return nil
}

// say speaks one line in the active voice.
func (c *Coordinator) say(ctx context.Context, m *Metrics, text string) error {
	a := c.speech.Generate(ctx, text, tts.GenerateOptions{Play: c.opts.Play})
	m.addArtifact(text, a)
	if !a.OK() {
		return ErrNoAudio
	}
	return nil
}

func (c *Coordinator) sayBestEffort(ctx context.Context, m *Metrics, text string) {
	if err := c.say(ctx, m, text); err != nil {
		log.Warn("Could not speak line", "text", text, "err", err)
	}
}

func (c *Coordinator) effect(ctx context.Context, m *Metrics, e sound.Effect) {
	m.Effects = append(m.Effects, e)
	c.opts.Sounds.Play(ctx, e)
}

func (c *Coordinator) speakError(ctx context.Context, m *Metrics, err error) {
	m.Err = err
	kind := errorKind(err)

	log.Error("Interaction failed",
		"input", m.Input,
		"personality", c.state.Current(),
		"kind", kind,
		"err", err,
		"stats", c.opts.Stats.Summary(),
	)

	start := time.Now()
	c.sayBestEffort(ctx, m, c.Profile().ErrorLine(kind))
	c.opts.Stats.Add(StageErrorTTS, time.Since(start))
}

func (c *Coordinator) currentUser() *user.Profile {
	if c.opts.Users == nil {
		return nil
	}
	return c.opts.Users.Current()
}

func (c *Coordinator) recordTurn(role, content string) {
	if c.opts.Users == nil {
		return
	}
	if err := c.opts.Users.AddTurn(role, content); err != nil {
		log.Warn("Failed to store turn", "err", err)
	}
}

func (c *Coordinator) finish(m *Metrics) Metrics {
	m.Latency.Total = time.Since(m.Start)

	if m.Branch != BranchRejected && m.Branch != BranchIgnored {
		st := c.opts.Stats
		if m.Latency.Recognition > 0 {
			st.Add(StageRecognition, m.Latency.Recognition)
		}
		if m.Latency.Chat > 0 {
			st.Add(StageChat, m.Latency.Chat)
		}
		if m.Latency.TTS > 0 {
			st.Add(StageTTS, m.Latency.TTS)
		}
		if m.Latency.Playback > 0 {
			st.Add(StagePlayback, m.Latency.Playback)
		}
		st.Add(StageTotal, m.Latency.Total)

		log.Info("Interaction",
			"id", m.ID,
			"branch", m.Branch,
			"personality", m.Personality,
			"clips", len(m.Artifacts),
			"recognition", m.Latency.Recognition.Round(time.Millisecond),
			"chat", m.Latency.Chat.Round(time.Millisecond),
			"tts", m.Latency.TTS.Round(time.Millisecond),
			"playback", m.Latency.Playback.Round(time.Millisecond),
			"total", m.Latency.Total.Round(time.Millisecond),
		)
	}

	if c.opts.Observer != nil {
		c.opts.Observer.Observe(*m)
	}
	return *m
}

// Welcome greets a new call with a wake line.
func (c *Coordinator) Welcome(ctx context.Context) Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := newMetrics("", c.state.Current())
	m.Branch = BranchWelcome
	defer c.state.Touch()

	if err := c.sayCategory(ctx, m, personality.Wake); err != nil {
		log.Warn("Welcome failed, using plain greeting", "err", err)
		c.sayBestEffort(ctx, m, welcomeFallback)
	}
	return c.finish(m)
}

// Idle speaks an idle line without counting as activity, so the session stays idle.
func (c *Coordinator) Idle(ctx context.Context) Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := newMetrics("", c.state.Current())
	m.Branch = BranchIdle
	if err := c.sayCategory(ctx, m, personality.Idle); err != nil {
		log.Warn("Idle line failed", "err", err)
		m.Err = err
	}
	return c.finish(m)
}

// Fallback answers a turn without speech. Within the cooldown it stays silent
// and reports false.
func (c *Coordinator) Fallback(ctx context.Context) (Metrics, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.SinceActive() <= fallbackCooldown {
		return Metrics{}, false
	}

	m := newMetrics("", c.state.Current())
	m.Branch = BranchFallback
	c.sayBestEffort(ctx, m, fallbackLine)
	c.state.Touch()
	return c.finish(m), true
}

// Say speaks a fixed line, such as a call time warning, in the active voice.
func (c *Coordinator) Say(ctx context.Context, text string) tts.Artifact {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.speech.Generate(ctx, text, tts.GenerateOptions{Play: c.opts.Play})
}
