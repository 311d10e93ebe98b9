package coordinator

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"aigod/internal/personality"
	"aigod/internal/sound"
	"aigod/internal/tts"
)

// Branch is the part of the dispatch chain that handled an utterance.
type Branch string

const (
	BranchRejected      Branch = "rejected"
	BranchIgnored       Branch = "ignored"
	BranchWake          Branch = "wake"
	BranchIdle          Branch = "idle"
	BranchExit          Branch = "exit"
	BranchSwitch        Branch = "switch"
	BranchLanguage      Branch = "language"
	BranchCommand       Branch = "command"
	BranchUser          Branch = "user"
	BranchCategory      Branch = "category"
	BranchEasterEgg     Branch = "easter_egg"
	BranchEntertainment Branch = "entertainment"
	BranchChat          Branch = "chat"
	BranchWelcome       Branch = "welcome"
	BranchFallback      Branch = "fallback"
	BranchError         Branch = "error"
)

type Latency struct {
	// Recognition is the speech-to-text time reported by the transport, zero when
	// the text arrived already transcribed.
	Recognition time.Duration
	Chat        time.Duration
	TTS         time.Duration
	Playback    time.Duration
	Total       time.Duration
}

// Metrics describes one handled utterance. It is created per call and never shared.
type Metrics struct {
	ID          uuid.UUID
	Start       time.Time
	Input       string
	Personality personality.ID
	Branch      Branch

	Lines     []string
	Artifacts []tts.Artifact
	Effects   []sound.Effect

	Latency Latency

	Exit     bool
	Switched bool
	Err      error
}

func newMetrics(input string, p personality.ID) *Metrics {
	return &Metrics{
		ID:          uuid.New(),
		Start:       time.Now(),
		Input:       input,
		Personality: p,
	}
}

// Response is everything that was said, in order.
func (m Metrics) Response() string {
	return strings.Join(m.Lines, " ")
}

func (m *Metrics) addArtifact(text string, a tts.Artifact) {
	m.Lines = append(m.Lines, text)
	if a.OK() {
		m.Artifacts = append(m.Artifacts, a)
	}
	m.Latency.TTS += a.Synth
	m.Latency.Playback += a.Play
}

// Observer receives the metrics of every handled utterance.
type Observer interface {
	Observe(m Metrics)
}

type ObserverFunc func(m Metrics)

func (f ObserverFunc) Observe(m Metrics) { f(m) }
