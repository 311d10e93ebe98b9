package coordinator

import (
	"context"
	"errors"

	"aigod/internal/chat"
	"aigod/internal/remote"
)

// ErrNoAudio means the speech pipeline gave up without producing a file.
var ErrNoAudio = errors.New("no audio produced")

// errorKind picks the personality error line for err.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrNoAudio):
		return "tts"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, chat.ErrEmptyAnswer):
		return "api"
	}

	switch remote.KindOf(err) {
	case remote.Timeout:
		return "timeout"
	case remote.RateLimited, remote.ServiceError, remote.Rejected:
		return "api"
	case remote.Network:
		return "network"
	}
	return "other"
}
