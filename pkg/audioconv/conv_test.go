package audioconv

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

func writeWAV(t *testing.T, path string, rate, channels int, data []int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, rate, 16, channels, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestConvertWAVStereo32k(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.wav")

	// 1000 stereo frames at 32 kHz: left at half scale, right silent
	data := make([]int, 0, 2000)
	for range 1000 {
		data = append(data, 16384, 0)
	}
	writeWAV(t, path, 32000, 2, data)

	pcm, err := ConvertFileToPCM16k(context.Background(), path, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(pcm) != 500 {
		t.Fatalf("got %d samples, want 500", len(pcm))
	}
	for _, s := range pcm {
		if s < 0.24 || s > 0.26 {
			t.Fatalf("sample %v, want ~0.25", s)
		}
	}

	short, err := ConvertFileToPCM16k(context.Background(), path, Options{MaxSamples: 100})
	if err != nil || len(short) != 100 {
		t.Fatalf("MaxSamples ignored: %d, %v", len(short), err)
	}
}

func TestConvertSniffsByContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "upload.bin")
	writeWAV(t, path, 16000, 1, make([]int, 320))

	pcm, err := ConvertFileToPCM16k(context.Background(), path, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(pcm) != 320 {
		t.Fatalf("got %d samples", len(pcm))
	}
}

func TestConvertUnsupported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ConvertFileToPCM16k(context.Background(), path, Options{}); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("got %v", err)
	}
}

func TestDownmixAndResample(t *testing.T) {
	if got := downmix([]float32{1, 0, 0.5, 0.5}, 2); !slices.Equal(got, []float32{0.5, 0.5}) {
		t.Fatalf("downmix: %v", got)
	}

	got := resampleLinear([]float32{0, 1, 2, 3}, 8000, 16000)
	want := []float32{0, 0.5, 1, 1.5, 2, 2.5, 3, 3}
	if !slices.Equal(got, want) {
		t.Fatalf("resample: %v", got)
	}
}
