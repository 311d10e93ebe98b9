package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"aigod/internal/chat"
	"aigod/internal/entertainment"
	"aigod/internal/personality"
	"aigod/internal/remote"
	"aigod/internal/sound"
	"aigod/internal/tts"
	"aigod/internal/user"
	"aigod/pkg/retry"
)

type fakeSpeech struct {
	mu    sync.Mutex
	voice string
	lang  string
	said  []string
	fail  bool
}

func (f *fakeSpeech) Generate(_ context.Context, text string, _ tts.GenerateOptions) tts.Artifact {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.said = append(f.said, text)
	if f.fail {
		return tts.Artifact{}
	}
	return tts.Artifact{Path: fmt.Sprintf("/cache/%s/%d.mp3", f.voice, len(f.said)), Source: tts.FromGenerator}
}

func (f *fakeSpeech) SetVoice(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.voice = id
	return nil
}

func (f *fakeSpeech) Voice() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.voice
}

func (f *fakeSpeech) SetLanguage(lang string) { f.lang = lang }

func (f *fakeSpeech) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.said)
}

type fakeChat struct {
	prompts  []string
	useCache []bool
	err      error
	last     string
}

func (f *fakeChat) Respond(_ context.Context, prompt, personality string, useCache bool) (string, error) {
	f.prompts = append(f.prompts, prompt)
	f.useCache = append(f.useCache, useCache)
	f.last = prompt
	if f.err != nil {
		return "", f.err
	}
	return "answer from " + personality, nil
}

func (f *fakeChat) LastPrompt() string { return f.last }

type fakeSounds struct{ played []sound.Effect }

func (f *fakeSounds) Play(_ context.Context, e sound.Effect) { f.played = append(f.played, e) }

type fixture struct {
	c      *Coordinator
	reg    *personality.Registry
	speech *fakeSpeech
	chat   *fakeChat
	sounds *fakeSounds
	now    time.Time
}

func (fx *fixture) advance(d time.Duration) { fx.now = fx.now.Add(d) }

type setup struct {
	responder Responder
	users     *user.Store
	auth      func(string) bool
	seed      uint64
}

func newFixture(t *testing.T, s setup) *fixture {
	t.Helper()

	reg, err := personality.Load(nil)
	if err != nil {
		t.Fatal(err)
	}

	fx := &fixture{
		reg:    reg,
		speech: &fakeSpeech{},
		chat:   &fakeChat{},
		sounds: &fakeSounds{},
		now:    time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
	}

	state, err := personality.NewState(reg, fx.speech, personality.Nikki, func() time.Time { return fx.now })
	if err != nil {
		t.Fatal(err)
	}

	rng := rand.New(rand.NewPCG(s.seed, 7))
	lib, err := entertainment.Load(rng)
	if err != nil {
		t.Fatal(err)
	}

	responder := s.responder
	if responder == nil {
		responder = fx.chat
	}

	fx.c = New(state, responder, fx.speech, lib, personality.NewPicker(rng), Options{
		IdleTimeout: 15 * time.Second,
		WakeWords:   []string{"hey god", "hey tom", "hey nikki", "god please"},
		Authorized:  s.auth,
		Users:       s.users,
		Sounds:      fx.sounds,
	})

	// construction produced no speech
	fx.speech.said = nil
	return fx
}

func TestJokeSpeaksTwoPartsWithoutChat(t *testing.T) {
	for seed := uint64(0); seed < 40; seed++ {
		fx := newFixture(t, setup{seed: seed})

		m := fx.c.Handle(context.Background(), "Tell me a joke!", "")

		if m.Branch != BranchEntertainment {
			t.Fatalf("seed %d: branch = %s", seed, m.Branch)
		}
		if n := len(fx.speech.calls()); n != 2 {
			t.Fatalf("seed %d: %d synthesis calls, want 2", seed, n)
		}
		if len(fx.chat.prompts) != 0 {
			t.Fatalf("seed %d: chat backend called", seed)
		}
		if len(fx.sounds.played) > 1 || len(m.Effects) != len(fx.sounds.played) {
			t.Fatalf("seed %d: effects %v", seed, fx.sounds.played)
		}
	}
}

func TestRiddleAnswerHasDrumroll(t *testing.T) {
	fx := newFixture(t, setup{})
	m := fx.c.Handle(context.Background(), "tell me a riddle", "")

	if len(m.Lines) != 2 || !strings.HasPrefix(m.Lines[1], "Drumroll please... ") {
		t.Fatalf("lines = %q", m.Lines)
	}
}

type recordingBackend struct {
	requests []chat.Request
}

func (b *recordingBackend) Complete(_ context.Context, req chat.Request) (string, error) {
	b.requests = append(b.requests, req)
	return fmt.Sprintf("reply %d", len(b.requests)), nil
}

func TestSwitchToMajorTom(t *testing.T) {
	backend := &recordingBackend{}
	reg, _ := personality.Load(nil)

	opts := chat.DefaultOptions()
	opts.Retry = retry.Policy{Attempts: 1, Base: time.Millisecond, Max: time.Millisecond}
	opts.SystemPrompt = func(p string) string { return reg.MustGet(personality.ID(p)).SystemPrompt }
	synth := chat.NewSynthesizer(backend, opts)

	fx := newFixture(t, setup{responder: synth})
	ctx := context.Background()

	fx.c.Handle(ctx, "what is the meaning of life", "")
	before := synth.History()
	fx.speech.said = nil

	m := fx.c.Handle(ctx, "switch to major tom", "")

	if m.Branch != BranchSwitch || !m.Switched {
		t.Fatalf("metrics = %+v", m)
	}
	if got := fx.c.State().Current(); got != personality.MajorTom {
		t.Fatalf("personality = %s", got)
	}
	tom := reg.MustGet(personality.MajorTom)
	if got := fx.speech.Voice(); got != tom.Voice {
		t.Fatalf("voice = %s, want %s", got, tom.Voice)
	}
	if said := fx.speech.calls(); len(said) != 1 || said[0] != tom.Announcement {
		t.Fatalf("announcement calls = %q", said)
	}
	if len(backend.requests) != 1 {
		t.Fatalf("switch must not call chat, got %d requests", len(backend.requests))
	}
	if !slices.Equal(synth.History(), before) {
		t.Fatal("history changed by switch")
	}

	fx.c.Handle(ctx, "how far away is the moon", "")

	last := backend.requests[len(backend.requests)-1]
	if last.Messages[0].Content != tom.SystemPrompt {
		t.Fatalf("new turn system prompt = %q", last.Messages[0].Content)
	}
	for _, msg := range last.Messages[1:] {
		if msg.Role == chat.RoleSystem {
			t.Fatal("history carries a system message")
		}
	}
	if first := backend.requests[0].Messages[0].Content; first != reg.MustGet(personality.Nikki).SystemPrompt {
		t.Fatalf("earlier request rewritten: %q", first)
	}
}

func TestSwitchRollsBackWhenAnnouncementFails(t *testing.T) {
	fx := newFixture(t, setup{})
	nikki := fx.reg.MustGet(personality.Nikki)
	fx.speech.fail = true

	m := fx.c.Handle(context.Background(), "become tom", "")

	if m.Switched || m.Err == nil {
		t.Fatalf("metrics = %+v", m)
	}
	if fx.c.State().Current() != personality.Nikki || fx.speech.Voice() != nikki.Voice {
		t.Fatalf("state not restored: %s %s", fx.c.State().Current(), fx.speech.Voice())
	}
	said := fx.speech.calls()
	if said[len(said)-1] != nikki.ErrorLine("switch") {
		t.Fatalf("last line = %q", said[len(said)-1])
	}
}

func TestExitUnderEveryPersonality(t *testing.T) {
	for _, id := range []personality.ID{personality.Nikki, personality.MajorTom} {
		for _, phrase := range []string{"exit", "Goodbye.", "bye"} {
			fx := newFixture(t, setup{})
			if id != personality.Nikki {
				fx.c.Handle(context.Background(), "switch to major tom", "")
				fx.speech.said = nil
			}

			m := fx.c.Handle(context.Background(), phrase, "")

			if !fx.c.ShouldExit() || !m.Exit {
				t.Fatalf("%s/%s: exit flag not set", id, phrase)
			}
			if said := fx.speech.calls(); len(said) != 1 || said[0] != farewell {
				t.Fatalf("%s/%s: farewell calls = %q", id, phrase, said)
			}
		}
	}
}

func TestIdleBoundary(t *testing.T) {
	fx := newFixture(t, setup{})
	ctx := context.Background()

	fx.advance(14900 * time.Millisecond)
	if m := fx.c.Handle(ctx, "what is your favorite color", ""); m.Branch != BranchChat {
		t.Fatalf("at 14.9s branch = %s", m.Branch)
	}

	fx.advance(15100 * time.Millisecond)
	m := fx.c.Handle(ctx, "what is your favorite color", "")
	if m.Branch != BranchIdle {
		t.Fatalf("at 15.1s branch = %s", m.Branch)
	}
	if len(fx.chat.prompts) != 1 {
		t.Fatalf("idle utterance reached chat: %v", fx.chat.prompts)
	}
	if !slices.Contains(fx.reg.MustGet(personality.Nikki).IdleLines, m.Lines[0]) {
		t.Fatalf("not an idle line: %q", m.Lines[0])
	}

	// activity was recorded, the next turn is normal again
	if m := fx.c.Handle(ctx, "what is your favorite color", ""); m.Branch != BranchChat {
		t.Fatalf("after idle branch = %s", m.Branch)
	}
}

func TestWakeTakesPriorityOverIdle(t *testing.T) {
	fx := newFixture(t, setup{})
	fx.advance(time.Minute)

	m := fx.c.Handle(context.Background(), "Hey God, are you there?", "")
	if m.Branch != BranchWake {
		t.Fatalf("branch = %s", m.Branch)
	}
	if !slices.Contains(fx.reg.MustGet(personality.Nikki).WakeLines, m.Lines[0]) {
		t.Fatalf("not a wake line: %q", m.Lines[0])
	}
	if got := fx.c.State().SinceActive(); got != 0 {
		t.Fatalf("activity not recorded, idle for %s", got)
	}
}

func TestUnauthorizedInputIsDropped(t *testing.T) {
	fx := newFixture(t, setup{auth: func(id string) bool { return id == "owner" }})
	fx.advance(5 * time.Second)

	m := fx.c.Handle(context.Background(), "tell me a joke", "stranger")

	if m.Branch != BranchRejected || len(fx.speech.calls()) != 0 {
		t.Fatalf("branch = %s, said %q", m.Branch, fx.speech.calls())
	}
	if got := fx.c.State().SinceActive(); got != 5*time.Second {
		t.Fatalf("rejected input touched activity: %s", got)
	}

	if m := fx.c.Handle(context.Background(), "tell me a joke", "owner"); m.Branch != BranchEntertainment {
		t.Fatalf("owner branch = %s", m.Branch)
	}
}

func TestShortInputIgnored(t *testing.T) {
	fx := newFixture(t, setup{})
	m := fx.c.Handle(context.Background(), " a ", "")
	if m.Branch != BranchIgnored || len(fx.speech.calls()) != 0 {
		t.Fatalf("branch = %s", m.Branch)
	}
}

func TestErrorsAreSpoken(t *testing.T) {
	cases := []struct {
		err  error
		kind string
	}{
		{&remote.Error{Backend: "openai", Kind: remote.Timeout}, "timeout"},
		{&remote.Error{Backend: "openai", Kind: remote.RateLimited, Status: 429}, "api"},
		{&remote.Error{Backend: "openai", Kind: remote.Network}, "network"},
		{chat.ErrEmptyAnswer, "api"},
		{errors.New("boom"), "other"},
	}

	for _, tc := range cases {
		fx := newFixture(t, setup{})
		fx.chat.err = tc.err

		m := fx.c.Handle(context.Background(), "why is the sky blue", "")

		if !errors.Is(m.Err, tc.err) {
			t.Fatalf("%s: err = %v", tc.kind, m.Err)
		}
		want := fx.reg.MustGet(personality.Nikki).ErrorLine(tc.kind)
		if said := fx.speech.calls(); len(said) != 1 || said[0] != want {
			t.Fatalf("%s: said %q, want %q", tc.kind, said, want)
		}
	}
}

func TestSpeechFailureSpeaksVoiceError(t *testing.T) {
	fx := newFixture(t, setup{})
	fx.speech.fail = true

	m := fx.c.Handle(context.Background(), "why is the sky blue", "")

	if !errors.Is(m.Err, ErrNoAudio) {
		t.Fatalf("err = %v", m.Err)
	}
	said := fx.speech.calls()
	if said[len(said)-1] != fx.reg.MustGet(personality.Nikki).ErrorLine("tts") {
		t.Fatalf("said %q", said)
	}
}

func TestEasterEggAndSpecialCommand(t *testing.T) {
	fx := newFixture(t, setup{})
	nikki := fx.reg.MustGet(personality.Nikki)

	m := fx.c.Handle(context.Background(), "What is love?", "")
	if m.Branch != BranchEasterEgg || m.Lines[0] != nikki.EasterEggs["what is love"] {
		t.Fatalf("easter egg: %+v", m)
	}

	m = fx.c.Handle(context.Background(), "Drama!", "")
	if m.Branch != BranchCommand || m.Lines[0] != nikki.SpecialCommands["drama"] {
		t.Fatalf("special command: %+v", m)
	}
	if len(fx.chat.prompts) != 0 {
		t.Fatal("chat called")
	}
}

func TestCategoryTriggers(t *testing.T) {
	cases := map[string]personality.Category{
		"give me a compliment":   personality.Compliment,
		"i need some motivation": personality.Motivation,
		"do an impression":       personality.Impression,
		"can you sing for me":    personality.Song,
	}
	for in, cat := range cases {
		fx := newFixture(t, setup{})
		m := fx.c.Handle(context.Background(), in, "")
		if m.Branch != BranchCategory {
			t.Fatalf("%q: branch = %s", in, m.Branch)
		}
		if !slices.Contains(fx.reg.MustGet(personality.Nikki).Lines(cat), m.Lines[0]) {
			t.Fatalf("%q: %q is not a %s line", in, m.Lines[0], cat)
		}
	}
}

func TestReactionBeatsIntroduction(t *testing.T) {
	users, _ := user.Open(filepath.Join(t.TempDir(), "users.json"), nil)
	fx := newFixture(t, setup{users: users})

	m := fx.c.Handle(context.Background(), "I am so happy today", "")

	if m.Branch != BranchCategory || m.Lines[0] != fx.reg.MustGet(personality.Nikki).Reactions["happy"] {
		t.Fatalf("metrics = %+v", m)
	}
	if users.Exists("happy") {
		t.Fatal("mood taken for a name")
	}
}

func TestNewAnswerBypassesCache(t *testing.T) {
	fx := newFixture(t, setup{})
	ctx := context.Background()

	fx.c.Handle(ctx, "why is the sky blue", "")
	m := fx.c.Handle(ctx, "give me a different answer", "")

	if m.Branch != BranchChat {
		t.Fatalf("branch = %s", m.Branch)
	}
	if !slices.Equal(fx.chat.prompts, []string{"why is the sky blue", "why is the sky blue"}) {
		t.Fatalf("prompts = %q", fx.chat.prompts)
	}
	if !slices.Equal(fx.chat.useCache, []bool{true, false}) {
		t.Fatalf("useCache = %v", fx.chat.useCache)
	}
}

func TestLanguageSwitch(t *testing.T) {
	fx := newFixture(t, setup{})
	m := fx.c.Handle(context.Background(), "switch to English", "")
	if m.Branch != BranchLanguage || m.Lines[0] != englishConfirmed || fx.speech.lang != personality.English {
		t.Fatalf("metrics = %+v lang = %q", m, fx.speech.lang)
	}
}

func TestUserIntroductionAndNamedFarewell(t *testing.T) {
	users, err := user.Open(filepath.Join(t.TempDir(), "users.json"), nil)
	if err != nil {
		t.Fatal(err)
	}
	fx := newFixture(t, setup{users: users})
	ctx := context.Background()

	m := fx.c.Handle(ctx, "Hi, my name is Bob", "")
	if m.Branch != BranchUser || m.Lines[0] != fmt.Sprintf(greetNew, "Bob") {
		t.Fatalf("greeting: %+v", m)
	}

	fx.c.Handle(ctx, "switch to major tom", "")
	if got := users.Current().PersonalityPreference; got != string(personality.MajorTom) {
		t.Fatalf("preference = %q", got)
	}

	m = fx.c.Handle(ctx, "quit", "")
	if m.Lines[0] != fmt.Sprintf(farewellNamed, "Bob") {
		t.Fatalf("farewell = %q", m.Lines[0])
	}
}

func TestReturningUserGetsPreferredPersonality(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	users, _ := user.Open(path, nil)
	users.GetOrCreate("carol")
	users.SetPreference(string(personality.MajorTom))

	reopened, err := user.Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	fx := newFixture(t, setup{users: reopened})

	m := fx.c.Handle(context.Background(), "this is carol", "")

	if m.Lines[0] != fmt.Sprintf(greetReturning, "Carol") {
		t.Fatalf("greeting = %q", m.Lines[0])
	}
	if fx.c.State().Current() != personality.MajorTom || !m.Switched {
		t.Fatalf("preference not applied: %s", fx.c.State().Current())
	}
	if !slices.Equal(m.Effects, []sound.Effect{sound.Void}) {
		t.Fatalf("effects = %v", m.Effects)
	}
}

func TestWelcomeAndFallbackCooldown(t *testing.T) {
	fx := newFixture(t, setup{})
	ctx := context.Background()

	m := fx.c.Welcome(ctx)
	if m.Branch != BranchWelcome || len(m.Artifacts) != 1 {
		t.Fatalf("welcome = %+v", m)
	}

	fx.advance(time.Second)
	if _, ok := fx.c.Fallback(ctx); ok {
		t.Fatal("fallback inside cooldown")
	}

	fx.advance(1500 * time.Millisecond)
	m, ok := fx.c.Fallback(ctx)
	if !ok || m.Lines[0] != fallbackLine {
		t.Fatalf("fallback = %+v %v", m, ok)
	}
	if _, ok := fx.c.Fallback(ctx); ok {
		t.Fatal("second fallback right after the first")
	}
}

func TestObserverSeesEveryInteraction(t *testing.T) {
	fx := newFixture(t, setup{})
	var seen []Metrics
	fx.c.opts.Observer = ObserverFunc(func(m Metrics) { seen = append(seen, m) })

	fx.c.Handle(context.Background(), "tell me a fact", "")
	fx.c.Handle(context.Background(), "x", "")

	if len(seen) != 2 || seen[0].Branch != BranchEntertainment || seen[1].Branch != BranchIgnored {
		t.Fatalf("observed %d", len(seen))
	}
	if seen[0].ID == seen[1].ID {
		t.Fatal("interaction ids repeat")
	}
}

func TestRecognitionLatencyIsRecorded(t *testing.T) {
	fx := newFixture(t, setup{})
	var seen Metrics
	fx.c.opts.Observer = ObserverFunc(func(m Metrics) { seen = m })

	m := fx.c.HandleTurn(context.Background(), Turn{Text: "tell me a fact", Recognition: 420 * time.Millisecond})

	if m.Latency.Recognition != 420*time.Millisecond || seen.Latency.Recognition != m.Latency.Recognition {
		t.Fatalf("recognition = %v, observed %v", m.Latency.Recognition, seen.Latency.Recognition)
	}
	if st := fx.c.Stats().Stage(StageRecognition); st.Count != 1 || st.Max != 420*time.Millisecond {
		t.Fatalf("recognition stats %+v", st)
	}

	// typed input carries no recognition sample
	fx.c.Handle(context.Background(), "tell me a fact", "")
	if st := fx.c.Stats().Stage(StageRecognition); st.Count != 1 {
		t.Fatalf("recognition samples = %d", st.Count)
	}
}

func TestStatsWindow(t *testing.T) {
	s := NewStats(3)
	for _, ms := range []int{100, 1, 2, 3} {
		s.Add(StageTTS, time.Duration(ms)*time.Millisecond)
	}

	got := s.Stage(StageTTS)
	want := StageStats{Count: 3, Avg: 2 * time.Millisecond, Min: time.Millisecond, Max: 3 * time.Millisecond}
	if got != want {
		t.Fatalf("stats = %+v", got)
	}
	if s.Stage("missing").Count != 0 {
		t.Fatal("unknown stage has samples")
	}
}
