package audioconv

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	popus "github.com/pekim/opus"
)

const TargetRate = 16000

var ErrUnsupported = errors.New("unsupported audio format")

type Options struct {
	MaxSamples int
}

// pcm is decoded interleaved audio before normalization.
type pcm struct {
	samples  []float32
	rate     int
	channels int
}

type decodeFunc func(io.ReadSeeker) (pcm, error)

// ConvertFileToPCM16k decodes wav, mp3 and ogg (vorbis or opus) into mono float32 @ 16 kHz.
func ConvertFileToPCM16k(_ context.Context, path string, opt Options) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	decoders, err := pick(f, path)
	if err != nil {
		return nil, err
	}

	var errs []error
	for _, dec := range decoders {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		p, err := dec(f)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		return normalize(p, opt), nil
	}
	return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), errors.Join(errs...))
}

// pick chooses decoders by magic bytes, then by extension.
func pick(f io.ReadSeeker, path string) ([]decodeFunc, error) {
	magic := make([]byte, 4)
	n, _ := io.ReadFull(f, magic)
	magic = magic[:n]

	switch {
	case bytes.Equal(magic, []byte("RIFF")):
		return []decodeFunc{decodeWAV}, nil
	case bytes.Equal(magic, []byte("OggS")):
		return []decodeFunc{decodeVorbis, decodeOpus}, nil
	case bytes.HasPrefix(magic, []byte("ID3")), len(magic) >= 2 && magic[0] == 0xFF && magic[1]&0xE0 == 0xE0:
		return []decodeFunc{decodeMP3}, nil
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".wav":
		return []decodeFunc{decodeWAV}, nil
	case ".mp3":
		return []decodeFunc{decodeMP3}, nil
	case ".ogg", ".oga", ".opus":
		return []decodeFunc{decodeVorbis, decodeOpus}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, ext)
	}
}

func normalize(p pcm, opt Options) []float32 {
	x := downmix(p.samples, p.channels)
	x = resampleLinear(x, p.rate, TargetRate)
	if opt.MaxSamples > 0 && len(x) > opt.MaxSamples {
		x = x[:opt.MaxSamples]
	}
	return x
}

func decodeWAV(r io.ReadSeeker) (pcm, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return pcm{}, errors.New("invalid wav")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return pcm{}, err
	}
	if buf == nil || len(buf.Data) == 0 {
		return pcm{}, errors.New("empty wav")
	}

	depth := int(dec.BitDepth)
	if depth == 0 {
		depth = 16
	}
	p := pcm{samples: intsToFloat32(buf.Data, depth), rate: 44100, channels: 1}
	if buf.Format != nil {
		p.rate = max(buf.Format.SampleRate, 1)
		p.channels = max(buf.Format.NumChannels, 1)
	}
	return p, nil
}

// decodeMP3 relies on go-mp3 always producing 16-bit stereo.
func decodeMP3(r io.ReadSeeker) (pcm, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return pcm{}, err
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return pcm{}, err
	}

	ints := make([]int16, len(raw)/2)
	if err := binary.Read(bytes.NewReader(raw[:len(ints)*2]), binary.LittleEndian, ints); err != nil {
		return pcm{}, err
	}

	rate := dec.SampleRate()
	if rate <= 0 {
		rate = 44100
	}
	return pcm{samples: int16ToFloat32(ints), rate: rate, channels: 2}, nil
}

func decodeVorbis(r io.ReadSeeker) (pcm, error) {
	samples, format, err := oggvorbis.ReadAll(r)
	if err != nil {
		return pcm{}, err
	}
	if format == nil || format.Channels <= 0 || format.SampleRate <= 0 {
		return pcm{}, errors.New("invalid ogg/vorbis stream")
	}
	return pcm{samples: samples, rate: format.SampleRate, channels: format.Channels}, nil
}

// decodeOpus reads Ogg Opus, which libopus always decodes at 48 kHz.
func decodeOpus(r io.ReadSeeker) (pcm, error) {
	dec, err := popus.NewDecoder(r)
	if err != nil {
		return pcm{}, err
	}
	defer dec.Destroy()

	ch := max(dec.ChannelCount(), 1)
	buf := make([]int16, 24000*ch)
	var out []float32
	for {
		n, err := dec.Read(buf)
		if n > 0 {
			out = append(out, int16ToFloat32(buf[:n*ch])...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return pcm{}, err
		}
	}
	if len(out) == 0 {
		return pcm{}, errors.New("empty opus stream")
	}
	return pcm{samples: out, rate: 48000, channels: ch}, nil
}

func intsToFloat32(data []int, bitDepth int) []float32 {
	out := make([]float32, len(data))
	scale := 1.0 / float64(int64(1)<<(bitDepth-1))
	for i, v := range data {
		out[i] = float32(min(max(float64(v)*scale, -1), 1))
	}
	return out
}

func int16ToFloat32(data []int16) []float32 {
	out := make([]float32, len(data))
	for i, v := range data {
		out[i] = float32(v) / 32768
	}
	return out
}

func downmix(in []float32, channels int) []float32 {
	if channels <= 1 {
		return in
	}
	out := make([]float32, len(in)/channels)
	for i := range out {
		var sum float32
		for _, s := range in[i*channels : (i+1)*channels] {
			sum += s
		}
		out[i] = sum / float32(channels)
	}
	return out
}

func resampleLinear(in []float32, inRate, outRate int) []float32 {
	if inRate == outRate || len(in) == 0 {
		return in
	}
	ratio := float64(outRate) / float64(inRate)
	out := make([]float32, int(math.Ceil(float64(len(in))*ratio)))
	last := len(in) - 1
	for i := range out {
		src := float64(i) / ratio
		i0 := int(src)
		if i0 >= last {
			out[i] = in[last]
			continue
		}
		a := float32(src - float64(i0))
		out[i] = in[i0]*(1-a) + in[i0+1]*a
	}
	return out
}
