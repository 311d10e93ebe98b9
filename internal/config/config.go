package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var ErrMissingCredentials = errors.New("missing required credentials")

type Voice struct {
	Nikki           string
	Tom             string
	Model           string
	Stability       float64
	SimilarityBoost float64
}

type Limits struct {
	PerDay    int
	PerHour   int
	PerMinute int
}

type Config struct {
	OpenAIKey   string
	OpenAIModel string
	MaxTokens   int
	Temperature float64

	ElevenLabsKey string
	ElevenLabsURL string
	Voice         Voice

	CacheDir  string
	SoundsDir string
	UsersFile string

	WhisperModel string

	Personality string
	IdleTimeout time.Duration
	WakeWords   []string

	Host      string
	Port      int
	PublicURL string
	Limits    Limits

	MaxCallDuration time.Duration
	CallWarningAt   time.Duration

	TwilioAccountSID string
	TwilioAuthToken  string

	BusURL     string
	SocksProxy string
}

var DefaultWakeWords = []string{
	"hey god", "okay god", "yo god", "wake up",
	"hey tom", "hey nikki", "hey assistant", "god please",
}

func Default() Config {
	return Config{
		OpenAIModel:   "gpt-3.5-turbo",
		MaxTokens:     150,
		Temperature:   0.7,
		ElevenLabsURL: "https://api.elevenlabs.io",
		Voice: Voice{
			Nikki:           "WoGJO0bsQ5xvIQwKIRtC",
			Tom:             "OWXgblXycW2yI83Vj3xf",
			Model:           "eleven_monolingual_v1",
			Stability:       0.5,
			SimilarityBoost: 0.75,
		},
		CacheDir:        "static/cached_responses",
		SoundsDir:       "static/sounds",
		UsersFile:       "data/users.json",
		WhisperModel:    "third_party/whisper.cpp/models/ggml-base.en.bin",
		Personality:     "nikki",
		IdleTimeout:     15 * time.Second,
		WakeWords:       append([]string(nil), DefaultWakeWords...),
		Host:            "0.0.0.0",
		Port:            5001,
		Limits:          Limits{PerDay: 200, PerHour: 50, PerMinute: 20},
		MaxCallDuration: 180 * time.Second,
		CallWarningAt:   150 * time.Second,
	}
}

// Load reads envFile (if present) into the process environment and builds the config from it.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	return FromEnv()
}

func FromEnv() (Config, error) {
	c := Default()
	var errs []error

	str := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := parseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("OPENAI_API_KEY", &c.OpenAIKey)
	str("OPENAI_MODEL", &c.OpenAIModel)
	num("OPENAI_MAX_TOKENS", &c.MaxTokens)
	float("OPENAI_TEMPERATURE", &c.Temperature)

	str("ELEVENLABS_API_KEY", &c.ElevenLabsKey)
	str("ELEVENLABS_URL", &c.ElevenLabsURL)
	str("ELEVENLABS_MODEL", &c.Voice.Model)
	str("VOICE_NIKKI", &c.Voice.Nikki)
	str("VOICE_TOM", &c.Voice.Tom)
	float("VOICE_STABILITY", &c.Voice.Stability)
	float("VOICE_SIMILARITY_BOOST", &c.Voice.SimilarityBoost)

	str("CACHE_DIR", &c.CacheDir)
	str("SOUNDS_DIR", &c.SoundsDir)
	str("USERS_FILE", &c.UsersFile)
	str("WHISPER_MODEL", &c.WhisperModel)

	str("DEFAULT_PERSONALITY", &c.Personality)
	dur("IDLE_TIMEOUT", &c.IdleTimeout)
	if v := os.Getenv("WAKE_WORDS"); v != "" {
		c.WakeWords = splitList(v)
	}

	str("HOST", &c.Host)
	num("PORT", &c.Port)
	str("PUBLIC_URL", &c.PublicURL)
	num("RATE_LIMIT_DAY", &c.Limits.PerDay)
	num("RATE_LIMIT_HOUR", &c.Limits.PerHour)
	num("RATE_LIMIT_MINUTE", &c.Limits.PerMinute)
	dur("MAX_CALL_DURATION", &c.MaxCallDuration)
	dur("CALL_WARNING_AT", &c.CallWarningAt)

	str("TWILIO_ACCOUNT_SID", &c.TwilioAccountSID)
	str("TWILIO_AUTH_TOKEN", &c.TwilioAuthToken)
	str("BUS_URL", &c.BusURL)
	str("SOCKS_PROXY", &c.SocksProxy)

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the credentials every entry point needs.
func (c Config) Validate() error {
	var missing []string
	if c.OpenAIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if c.ElevenLabsKey == "" {
		missing = append(missing, "ELEVENLABS_API_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingCredentials, strings.Join(missing, ", "))
	}
	if c.CallWarningAt >= c.MaxCallDuration {
		return fmt.Errorf("CALL_WARNING_AT (%s) must be below MAX_CALL_DURATION (%s)", c.CallWarningAt, c.MaxCallDuration)
	}
	return nil
}

func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// parseDuration accepts Go durations and bare seconds.
func parseDuration(v string) (time.Duration, error) {
	if n, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(n * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
