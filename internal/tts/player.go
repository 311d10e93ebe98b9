package tts

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"
)

// Ducker lowers other audio while we speak.
type Ducker interface {
	DuckOthers(ctx context.Context, factor float64, fade time.Duration) error
	UnduckOthers(ctx context.Context, fade time.Duration) error
}

// ProcessPlayer plays files from one directory with an external player.
type ProcessPlayer struct {
	dir     string
	command []string
	timeout time.Duration
	ducker  Ducker

	playing atomic.Bool
}

func DefaultCommand() []string {
	if runtime.GOOS == "darwin" {
		return []string{"afplay"}
	}
	return []string{"mpg123", "-q"}
}

func NewProcessPlayer(dir string, timeout time.Duration, ducker Ducker, command ...string) (*ProcessPlayer, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if len(command) == 0 {
		command = DefaultCommand()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &ProcessPlayer{
		dir:     abs,
		command: command,
		timeout: timeout,
		ducker:  ducker,
	}, nil
}

func (p *ProcessPlayer) Playing() bool { return p.playing.Load() }

func (p *ProcessPlayer) Play(ctx context.Context, path string) error {
	resolved, err := Within(p.dir, path)
	if err != nil {
		return err
	}

	p.playing.Store(true)
	defer p.playing.Store(false)

	if p.ducker != nil {
		if err := p.ducker.DuckOthers(ctx, 0.3, 150*time.Millisecond); err != nil {
			log.Debug("Duck failed", "err", err)
		}
		defer func() {
			if err := p.ducker.UnduckOthers(context.Background(), 300*time.Millisecond); err != nil {
				log.Debug("Unduck failed", "err", err)
			}
		}()
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := append(append([]string(nil), p.command[1:]...), resolved)
	cmd := exec.CommandContext(ctx, p.command[0], args...)
	cmd.WaitDelay = time.Second

	err = cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("player timed out after %s", p.timeout)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", p.command[0], err)
	}
	return nil
}

// Within resolves path and checks it stays inside dir.
func Within(dir, path string) (string, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(absDir, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %s", ErrOutsideCache, path)
	}

	return abs, nil
}
