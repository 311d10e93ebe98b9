package audioconv

import (
	"errors"
	"os"
	"time"

	"github.com/hajimehoshi/go-mp3"
)

// MP3Duration reads the playing time of an mp3 file.
func MP3Duration(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec, err := mp3.NewDecoder(f)
	if err != nil {
		return 0, err
	}

	n := dec.Length()
	if n < 0 || dec.SampleRate() <= 0 {
		return 0, errors.New("unknown mp3 length")
	}

	// decoder output is 16-bit stereo: 4 bytes per frame
	frames := n / 4
	return time.Duration(frames) * time.Second / time.Duration(dec.SampleRate()), nil
}
