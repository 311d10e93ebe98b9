package session

import (
	"bufio"
	"context"
	"io"
	"strings"
	"time"
)

// LineReader treats each line of r as one utterance; an empty line is silence.
type LineReader struct {
	lines chan string
	done  chan struct{}
}

// NewLineReader reads r until EOF or until ctx ends, then calls onEOF.
func NewLineReader(ctx context.Context, r io.Reader, onEOF func()) *LineReader {
	lr := &LineReader{lines: make(chan string), done: make(chan struct{})}
	go func() {
		defer close(lr.done)
		defer onEOF()

		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lr.lines <- strings.TrimSpace(sc.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()
	return lr
}

func (lr *LineReader) Listen(ctx context.Context, maxLen time.Duration) (string, time.Duration, error) {
	t := time.NewTimer(maxLen)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return "", 0, ctx.Err()
	case line := <-lr.lines:
		return line, 0, nil
	case <-t.C:
		return "", 0, nil
	}
}

// Done is closed once the reader goroutine has returned.
func (lr *LineReader) Done() <-chan struct{} { return lr.done }
