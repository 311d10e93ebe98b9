package sound

import (
	"context"
	"testing"
	"time"
)

func TestURLs(t *testing.T) {
	u := URLs{Base: "https://example.com/static/sounds/"}
	if got := u.URL(Doom); got != "https://example.com/static/sounds/doom.mp3" {
		t.Fatalf("url = %s", got)
	}
}

func TestLocalMissingFileIsSkipped(t *testing.T) {
	l := NewLocal(t.TempDir(), 0)
	l.Play(context.Background(), Wake)
}

func TestLocalMinGap(t *testing.T) {
	l := NewLocal(t.TempDir(), time.Hour)
	l.Play(context.Background(), Wake)
	first := l.last

	l.Play(context.Background(), Doom)
	if l.last != first {
		t.Fatal("second effect inside the gap should not be attempted")
	}
}
