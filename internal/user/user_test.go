package user

import (
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func clock(start time.Time) (func() time.Time, func(time.Duration)) {
	now := start
	return func() time.Time { return now }, func(d time.Duration) { now = now.Add(d) }
}

func TestIntroduction(t *testing.T) {
	cases := map[string]string{
		"Hi, I am bob":            "Bob",
		"my name is ALICE really": "Alice",
		"call me ishmael":         "Ishmael",
		"this is carol speaking":  "Carol",
	}
	for in, want := range cases {
		got, ok := Introduction(in)
		if !ok || got != want {
			t.Errorf("%q: got %q %v, want %q", in, got, ok, want)
		}
	}

	if _, ok := Introduction("what time is it"); ok {
		t.Error("no introduction expected")
	}
}

func TestGetOrCreatePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "users.json")
	now, advance := clock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))

	s, err := Open(path, now)
	if err != nil {
		t.Fatal(err)
	}

	p, created, err := s.GetOrCreate("bob")
	if err != nil || !created || p.Name != "Bob" {
		t.Fatalf("create: %+v %v %v", p, created, err)
	}

	advance(time.Hour)
	p, created, err = s.GetOrCreate("BOB")
	if err != nil || created {
		t.Fatalf("second call created=%v err=%v", created, err)
	}
	if !p.LastSeen.After(p.FirstSeen) {
		t.Fatalf("last_seen not updated: %+v", p)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatal(err)
	}
	for _, field := range []string{"name", "first_seen", "last_seen", "conversation_history",
		"personality_preference", "topics_of_interest", "favorite_quotes"} {
		if _, ok := doc["Bob"][field]; !ok {
			t.Errorf("missing field %s in %s", field, raw)
		}
	}

	reopened, err := Open(path, now)
	if err != nil {
		t.Fatal(err)
	}
	if !reopened.Exists("bob") {
		t.Fatal("profile not reloaded")
	}
}

func TestHistoryCapAndTopics(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "users.json"), nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.AddTurn("user", "ignored without a current user"); err != nil {
		t.Fatal(err)
	}

	if _, _, err := s.GetOrCreate("alice"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 8; i++ {
		s.AddTurn("user", "tell me about "+string(rune('a'+i))+" things")
		s.AddTurn("assistant", "no")
	}

	cur := s.Current()
	if len(cur.ConversationHistory) != HistoryLimit {
		t.Fatalf("history len = %d", len(cur.ConversationHistory))
	}

	got := s.RecentTopics(3)
	want := []string{"tell me about", "tell me about", "tell me about"}
	if !slices.Equal(got, want) {
		t.Fatalf("topics = %v", got)
	}
}

func TestRecognizeKnownUser(t *testing.T) {
	s, _ := Open(filepath.Join(t.TempDir(), "users.json"), nil)
	s.GetOrCreate("dave")

	if name, ok := s.Recognize("hey, it's Dave again"); !ok || name != "Dave" {
		t.Fatalf("got %q %v", name, ok)
	}
	if _, ok := s.Recognize("davey jones"); ok {
		t.Fatal("partial word should not match")
	}
}

func TestPreference(t *testing.T) {
	s, _ := Open(filepath.Join(t.TempDir(), "users.json"), nil)
	s.GetOrCreate("erin")
	if err := s.SetPreference("major_tom"); err != nil {
		t.Fatal(err)
	}
	if got := s.Current().PersonalityPreference; got != "major_tom" {
		t.Fatalf("preference = %q", got)
	}
}
