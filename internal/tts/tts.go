package tts

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	ErrEmptyText    = errors.New("empty text")
	ErrUnknownVoice = errors.New("unknown voice")
	ErrOutsideCache = errors.New("path outside cache directory")
)

type Request struct {
	Text            string
	Voice           string
	Model           string
	Stability       float64
	SimilarityBoost float64
}

// Backend turns text into an mp3 byte stream.
type Backend interface {
	Synthesize(ctx context.Context, req Request) (io.ReadCloser, error)
}

// Player plays a cached audio file to completion.
type Player interface {
	Play(ctx context.Context, path string) error
}

type Source string

const (
	FromMemory    Source = "memory"
	FromDisk      Source = "disk"
	FromGenerator Source = "generated"
)

// Artifact is a resolved audio file. The zero value means nothing was produced.
type Artifact struct {
	Path     string
	Source   Source
	Duration time.Duration // audio length, zero if unknown

	Synth time.Duration // time spent resolving the file
	Play  time.Duration // time spent playing it, zero if not played
}

func (a Artifact) OK() bool { return a.Path != "" }

type GenerateOptions struct {
	Play  bool
	Force bool // skip both caches and synthesize again
}
