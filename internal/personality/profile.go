package personality

import (
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

type ID string

const (
	Nikki    ID = "nikki"
	MajorTom ID = "major_tom"
)

const English = "en-US"

var (
	ErrUnknownPersonality = errors.New("unknown personality")
	ErrUnknownLanguage    = errors.New("unsupported language")
)

type Category string

const (
	Wake       Category = "wake"
	Idle       Category = "idle"
	Impression Category = "impression"
	Song       Category = "song"
	Compliment Category = "compliment"
	Motivation Category = "motivation"
)

// Profile is the immutable voice and response table of one personality.
type Profile struct {
	ID           ID     `yaml:"-"`
	Name         string `yaml:"name"`
	Voice        string `yaml:"voice"`
	Language     string `yaml:"language"`
	Announcement string `yaml:"announcement"`
	SystemPrompt string `yaml:"system_prompt"`

	Aliases []string `yaml:"aliases"`

	WakeLines       []string `yaml:"wake"`
	IdleLines       []string `yaml:"idle"`
	ImpressionLines []string `yaml:"impression"`
	SongLines       []string `yaml:"song"`
	ComplimentLines []string `yaml:"compliment"`
	MotivationLines []string `yaml:"motivation"`
	Catchphrases    []string `yaml:"catchphrases"`

	EasterEggs      map[string]string `yaml:"easter_eggs"`
	Reactions       map[string]string `yaml:"reactions"`
	SpecialCommands map[string]string `yaml:"special_commands"`
	Errors          map[string]string `yaml:"errors"`

	RateLimited      string `yaml:"rate_limited"`
	MethodNotAllowed string `yaml:"method_not_allowed"`
	ServerError      string `yaml:"server_error"`
	TimeWarning      string `yaml:"time_warning"`
	CallLimit        string `yaml:"call_limit"`
}

func (p *Profile) Lines(c Category) []string {
	switch c {
	case Wake:
		return p.WakeLines
	case Idle:
		return p.IdleLines
	case Impression:
		return p.ImpressionLines
	case Song:
		return p.SongLines
	case Compliment:
		return p.ComplimentLines
	case Motivation:
		return p.MotivationLines
	}
	return nil
}

// EasterEgg matches the normalized input exactly first, then by substring.
func (p *Profile) EasterEgg(input string) (string, bool) {
	input = Normalize(input)
	if r, ok := p.EasterEggs[input]; ok {
		return r, true
	}

	// deterministic order so overlapping phrases always resolve the same way
	keys := make([]string, 0, len(p.EasterEggs))
	for k := range p.EasterEggs {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, k := range keys {
		if strings.Contains(input, k) {
			return p.EasterEggs[k], true
		}
	}
	return "", false
}

var moodRe = regexp.MustCompile(`\b(?:i am|i'm|im|i feel|feeling)\s+(?:so\s+|very\s+|really\s+)?(\w+)`)

// Reaction answers "i am <mood>" / "i feel <mood>" when the mood is in the table.
func (p *Profile) Reaction(input string) (string, bool) {
	m := moodRe.FindStringSubmatch(Normalize(input))
	if m == nil {
		return "", false
	}
	r, ok := p.Reactions[m[1]]
	return r, ok
}

// ErrorLine picks the spoken line for an error kind (timeout, api, tts, network, other).
func (p *Profile) ErrorLine(kind string) string {
	if s, ok := p.Errors[kind]; ok {
		return s
	}
	return p.Errors["other"]
}

// StockLines are the fixed lines worth having on disk before the first call:
// wake, idle, the announcement, call notices and error lines.
func (p *Profile) StockLines() []string {
	lines := slices.Concat(p.WakeLines, p.IdleLines, []string{
		p.Announcement,
		p.TimeWarning,
		p.CallLimit,
	})

	kinds := make([]string, 0, len(p.Errors))
	for k := range p.Errors {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	for _, k := range kinds {
		lines = append(lines, p.Errors[k])
	}

	return slices.DeleteFunc(lines, func(s string) bool { return strings.TrimSpace(s) == "" })
}

//go:embed profiles.yaml
var profilesYAML []byte

type Registry struct {
	profiles map[ID]*Profile
	aliases  map[string]ID
}

// Load parses the embedded tables. voices overrides the voice id per personality.
func Load(voices map[ID]string) (*Registry, error) {
	return parse(profilesYAML, voices)
}

func parse(data []byte, voices map[ID]string) (*Registry, error) {
	raw := map[ID]*Profile{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse profiles: %w", err)
	}

	r := &Registry{
		profiles: make(map[ID]*Profile, len(raw)),
		aliases:  map[string]ID{},
	}

	for id, p := range raw {
		p.ID = id
		if v := voices[id]; v != "" {
			p.Voice = v
		}
		if p.Language == "" {
			p.Language = English
		}
		if p.Voice == "" || p.Announcement == "" || p.SystemPrompt == "" {
			return nil, fmt.Errorf("profile %s: voice, announcement and system_prompt are required", id)
		}

		p.EasterEggs = normalizeKeys(p.EasterEggs)
		p.SpecialCommands = normalizeKeys(p.SpecialCommands)

		for _, a := range p.Aliases {
			r.aliases[Normalize(a)] = id
		}
		r.profiles[id] = p
	}

	for _, id := range []ID{Nikki, MajorTom} {
		if _, ok := r.profiles[id]; !ok {
			return nil, fmt.Errorf("profile %s missing", id)
		}
	}

	return r, nil
}

func (r *Registry) Get(id ID) (*Profile, error) {
	p, ok := r.profiles[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPersonality, id)
	}
	return p, nil
}

func (r *Registry) MustGet(id ID) *Profile {
	p, err := r.Get(id)
	if err != nil {
		panic(err)
	}
	return p
}

// Resolve maps a switch phrase ("become tom", "major tom") to a personality.
func (r *Registry) Resolve(phrase string) (ID, bool) {
	id, ok := r.aliases[Normalize(phrase)]
	return id, ok
}

func (r *Registry) IDs() []ID {
	ids := make([]ID, 0, len(r.profiles))
	for id := range r.profiles {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

var (
	punctRe = regexp.MustCompile(`[^\p{L}\p{N}'\s]+`)
	spaceRe = regexp.MustCompile(`\s+`)
)

// Normalize lowercases, drops punctuation and collapses whitespace.
func Normalize(s string) string {
	s = strings.ToLower(s)
	s = punctRe.ReplaceAllString(s, " ")
	s = spaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func normalizeKeys(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[Normalize(k)] = v
	}
	return out
}
