package user

import (
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"
)

// HistoryLimit is how many turns a profile keeps.
const HistoryLimit = 10

type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type Profile struct {
	Name                  string    `json:"name"`
	FirstSeen             time.Time `json:"first_seen"`
	LastSeen              time.Time `json:"last_seen"`
	ConversationHistory   []Turn    `json:"conversation_history"`
	PersonalityPreference string    `json:"personality_preference"`
	TopicsOfInterest      []string  `json:"topics_of_interest"`
	FavoriteQuotes        []string  `json:"favorite_quotes"`
}

func (p *Profile) clone() *Profile {
	c := *p
	c.ConversationHistory = slices.Clone(p.ConversationHistory)
	c.TopicsOfInterest = slices.Clone(p.TopicsOfInterest)
	c.FavoriteQuotes = slices.Clone(p.FavoriteQuotes)
	return &c
}

// Store keeps user profiles in one JSON file, rewritten after every change.
type Store struct {
	path string
	now  func() time.Time

	mu      sync.Mutex
	users   map[string]*Profile
	current string
}

func Open(path string, now func() time.Time) (*Store, error) {
	if now == nil {
		now = time.Now
	}

	s := &Store{path: path, now: now, users: map[string]*Profile{}}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, err
	}

	if err := json.Unmarshal(data, &s.users); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	log.Info("Loaded user profiles", "count", len(s.users))
	return s, nil
}

// Capitalize is the key form of a name: first letter upper, rest lower.
func Capitalize(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	r, n := utf8.DecodeRuneInString(name)
	return string(unicode.ToUpper(r)) + strings.ToLower(name[n:])
}

var namePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bi am (\w+)`),
	regexp.MustCompile(`\bmy name is (\w+)`),
	regexp.MustCompile(`\bcall me (\w+)`),
	regexp.MustCompile(`\bthis is (\w+)`),
}

// Introduction extracts a name from "i am X", "my name is X", "call me X" or "this is X".
func Introduction(text string) (string, bool) {
	text = strings.ToLower(text)
	for _, re := range namePatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			return Capitalize(m[1]), true
		}
	}
	return "", false
}

// Recognize finds a known user mentioned in text, or a self introduction.
func (s *Store) Recognize(text string) (string, bool) {
	if name, ok := Introduction(text); ok {
		return name, true
	}

	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range words {
		if _, ok := s.users[Capitalize(w)]; ok {
			return Capitalize(w), true
		}
	}
	return "", false
}

func (s *Store) Exists(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.users[Capitalize(name)]
	return ok
}

// GetOrCreate makes name the current user. created reports a new profile.
func (s *Store) GetOrCreate(name string) (p *Profile, created bool, err error) {
	name = Capitalize(name)
	if name == "" {
		return nil, false, errors.New("empty user name")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	u, ok := s.users[name]
	if !ok {
		u = &Profile{
			Name:                name,
			FirstSeen:           now,
			LastSeen:            now,
			ConversationHistory: []Turn{},
			TopicsOfInterest:    []string{},
			FavoriteQuotes:      []string{},
		}
		s.users[name] = u
		created = true
		log.Info("Created user profile", "name", name)
	} else {
		u.LastSeen = now
	}
	s.current = name

	return u.clone(), created, s.save()
}

// Current is a copy of the current user, nil when nobody introduced themselves.
func (s *Store) Current() *Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u := s.users[s.current]; u != nil {
		return u.clone()
	}
	return nil
}

// AddTurn records a turn for the current user. Without a current user it does nothing.
func (s *Store) AddTurn(role, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.users[s.current]
	if u == nil {
		return nil
	}

	u.ConversationHistory = append(u.ConversationHistory, Turn{Role: role, Content: content, Timestamp: s.now()})
	if over := len(u.ConversationHistory) - HistoryLimit; over > 0 {
		u.ConversationHistory = slices.Clone(u.ConversationHistory[over:])
	}
	return s.save()
}

// RecentTopics returns the first three words of the latest user turns, newest first.
func (s *Store) RecentTopics(limit int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.users[s.current]
	if u == nil {
		return nil
	}

	var topics []string
	for i := len(u.ConversationHistory) - 1; i >= 0 && len(topics) < limit; i-- {
		t := u.ConversationHistory[i]
		if t.Role != "user" {
			continue
		}
		if words := strings.Fields(strings.ToLower(t.Content)); len(words) > 2 {
			topics = append(topics, strings.Join(words[:3], " "))
		}
	}
	return topics
}

func (s *Store) SetPreference(personality string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.users[s.current]
	if u == nil {
		return nil
	}
	u.PersonalityPreference = personality
	return s.save()
}

func (s *Store) save() error {
	data, err := json.MarshalIndent(s.users, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".users-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("save users: %w", err)
	}
	return nil
}
