// Package espeak speaks text straight to the sound card through libespeak-ng.
// It produces no file, so it only serves as the last resort when the remote
// voice is unavailable.
package espeak

/*
#cgo LDFLAGS: -lespeak-ng
#include <stdlib.h>
#include <espeak-ng/speak_lib.h>

static int
say(const char *text, const char *lang, int rate)
{
	if (!text || !lang)
	{ return -1; }

	if (espeak_Initialize(AUDIO_OUTPUT_SYNCH_PLAYBACK, 500, NULL, 0) < 0)
	{ return -2; }

	espeak_VOICE spec = { 0 };
	spec.languages = lang;
	espeak_SetVoiceByProperties(&spec);
	espeak_SetParameter(espeakRATE, rate, 0);

	espeak_ERROR rc = espeak_Synth(text, 0, 0, POS_CHARACTER, 0, espeakCHARS_AUTO, NULL, NULL);
	espeak_Synchronize();
	espeak_Terminate();

	return rc == EE_OK ? 0 : -3;
}
*/
import "C"

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unsafe"
)

var mu sync.Mutex

// Speaker voices text in a fixed language. "en-US" maps to espeak's "en-us".
type Speaker struct {
	Language string
	Rate     int // words per minute
}

func New(language string) *Speaker {
	return &Speaker{Language: strings.ToLower(language), Rate: 165}
}

func (s *Speaker) Speak(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ctext := C.CString(text)
	defer C.free(unsafe.Pointer(ctext))
	clang := C.CString(s.Language)
	defer C.free(unsafe.Pointer(clang))

	// libespeak keeps global state
	mu.Lock()
	defer mu.Unlock()

	if rc := C.say(ctext, clang, C.int(s.Rate)); rc != 0 {
		return fmt.Errorf("espeak failed: %d", int(rc))
	}
	return nil
}
