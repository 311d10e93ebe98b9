package session

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"net/http"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"aigod/internal/coordinator"
	"aigod/internal/personality"
	"aigod/internal/sound"
	"aigod/internal/tts"
)

const (
	Version = "1.0.0"

	cachedPrefix = "/static/cached_responses/"
	soundsPrefix = "/static/sounds/"

	voiceTrouble = "I'm having trouble with my voice right now. Please try again."
)

var terminalStatus = []string{"completed", "failed", "busy", "no-answer", "canceled"}

// Conversation is what a transport needs from the coordinator.
type Conversation interface {
	HandleTurn(ctx context.Context, t coordinator.Turn) coordinator.Metrics
	Welcome(ctx context.Context) coordinator.Metrics
	Idle(ctx context.Context) coordinator.Metrics
	Fallback(ctx context.Context) (coordinator.Metrics, bool)
	Say(ctx context.Context, text string) tts.Artifact
	Profile() *personality.Profile
	ShouldExit() bool
	SinceActive() time.Duration
	IsWake(text string) bool
}

type PhoneOptions struct {
	// PublicURL is where the telephony provider reaches this server.
	PublicURL string
	CacheDir  string
	SoundsDir string

	Limits          Limits
	MaxCallDuration time.Duration
	CallWarningAt   time.Duration
	TurnTimeout     time.Duration

	// AuthToken enables request signature checks when set.
	AuthToken string

	Now func() time.Time
}

// Phone serves the voice webhook. Each turn is one HTTP request.
type Phone struct {
	conv    Conversation
	opts    PhoneOptions
	limiter *Limiter
	calls   *calls
	sounds  sound.URLs
	router  chi.Router
}

func NewPhone(conv Conversation, opts PhoneOptions) *Phone {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxCallDuration <= 0 {
		opts.MaxCallDuration = 180 * time.Second
	}
	if opts.CallWarningAt <= 0 {
		opts.CallWarningAt = 150 * time.Second
	}
	if opts.TurnTimeout <= 0 {
		opts.TurnTimeout = 14 * time.Second
	}
	opts.PublicURL = strings.TrimRight(opts.PublicURL, "/")

	p := &Phone{
		conv:    conv,
		opts:    opts,
		limiter: NewLimiter(opts.Limits, opts.Now),
		calls:   newCalls(opts.Now),
		sounds:  sound.URLs{Base: opts.PublicURL + strings.TrimSuffix(soundsPrefix, "/")},
	}
	p.routes()
	return p
}

func (p *Phone) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLog)
	r.Use(p.recoverer)

	r.MethodNotAllowed(p.methodNotAllowed)

	r.Get("/health", p.health)

	r.Group(func(r chi.Router) {
		r.Use(p.rateLimit)
		if p.opts.AuthToken != "" {
			r.Use(p.verifySignature)
		}
		r.Post("/voice", p.voice)
		r.Get("/voice", p.status)
	})

	r.Handle(cachedPrefix+"*", files(cachedPrefix, p.opts.CacheDir))
	r.Handle(soundsPrefix+"*", files(soundsPrefix, p.opts.SoundsDir))

	p.router = r
}

func (p *Phone) Handler() http.Handler { return p.router }

// Serve runs the webhook server until ctx is done.
func (p *Phone) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           p.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("Voice webhook listening", "addr", addr, "public", p.opts.PublicURL)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type turn struct {
	sid        string
	status     string
	speech     string
	confidence float64
	elapsed    time.Duration
}

func parseTurn(r *http.Request) turn {
	t := turn{
		sid:    r.FormValue("CallSid"),
		status: r.FormValue("CallStatus"),
		speech: strings.TrimSpace(r.FormValue("SpeechResult")),
	}
	t.confidence, _ = strconv.ParseFloat(r.FormValue("Confidence"), 64)
	if secs, err := strconv.Atoi(r.FormValue("CallDuration")); err == nil {
		t.elapsed = time.Duration(secs) * time.Second
	}
	return t
}

func (p *Phone) voice(w http.ResponseWriter, r *http.Request) {
	t := parseTurn(r)
	resp := &Response{}

	ctx, cancel := context.WithTimeout(r.Context(), p.opts.TurnTimeout)
	defer cancel()

	if t.speech == "" && t.status == "ringing" {
		log.Info("Call started", "sid", t.sid)
		m := p.conv.Welcome(ctx)
		resp.Play(p.sounds.URL(sound.Wake))
		p.playAll(resp, m.Artifacts)
		resp.Gather().Write(w, http.StatusOK)
		return
	}

	log.Info("Speech recognized",
		"sid", t.sid,
		"text", t.speech,
		"confidence", t.confidence,
		"elapsed", t.elapsed,
	)

	if t.elapsed >= p.opts.MaxCallDuration {
		log.Info("Call limit reached", "sid", t.sid, "elapsed", t.elapsed)
		p.speak(ctx, resp, p.conv.Profile().CallLimit)
		p.calls.end(t.sid)
		resp.Hangup().Write(w, http.StatusOK)
		return
	}

	if p.calls.warn(t.sid, t.elapsed, p.opts.CallWarningAt, p.opts.MaxCallDuration) {
		log.Info("Call time warning", "sid", t.sid, "elapsed", t.elapsed)
		p.speak(ctx, resp, p.conv.Profile().TimeWarning)
	}

	if t.speech == "" {
		if m, ok := p.conv.Fallback(ctx); ok {
			p.playAll(resp, m.Artifacts)
		}
		resp.Gather().Write(w, http.StatusOK)
		return
	}

	m := p.conv.HandleTurn(ctx, coordinator.Turn{Text: t.speech})

	if m.Exit {
		resp.Play(p.sounds.URL(sound.Doom))
		p.playAll(resp, m.Artifacts)
		p.calls.end(t.sid)
		resp.Hangup().Write(w, http.StatusOK)
		return
	}

	if m.Switched {
		resp.Play(p.sounds.URL(sound.Void))
	}

	if len(m.Artifacts) > 0 {
		p.playAll(resp, m.Artifacts)
		for _, e := range m.Effects {
			resp.Play(p.sounds.URL(e))
		}
	} else if fb, ok := p.conv.Fallback(ctx); ok && len(fb.Artifacts) > 0 {
		p.playAll(resp, fb.Artifacts)
	} else {
		resp.Say(voiceTrouble)
	}

	resp.Gather().Write(w, http.StatusOK)
}

// status handles provider status callbacks.
func (p *Phone) status(w http.ResponseWriter, r *http.Request) {
	t := parseTurn(r)
	log.Info("Call status", "sid", t.sid, "status", t.status, "elapsed", t.elapsed)

	if slices.Contains(terminalStatus, t.status) {
		p.calls.end(t.sid)
		log.Info("Call ended", "sid", t.sid, "status", t.status)
	}

	(&Response{}).Write(w, http.StatusOK)
}

func (p *Phone) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "OK", "version": Version})
}

// speak plays text as synthesized audio, or has the provider read it out.
func (p *Phone) speak(ctx context.Context, resp *Response, text string) {
	if a := p.conv.Say(ctx, text); a.OK() {
		resp.Play(p.artifactURL(a))
		return
	}
	resp.Say(text)
}

func (p *Phone) playAll(resp *Response, arts []tts.Artifact) {
	for _, a := range arts {
		resp.Play(p.artifactURL(a))
	}
}

func (p *Phone) artifactURL(a tts.Artifact) string {
	return p.opts.PublicURL + cachedPrefix + filepath.Base(a.Path)
}

func (p *Phone) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p.limiter.Allow() {
			next.ServeHTTP(w, r)
			return
		}

		log.Warn("Rate limit exceeded",
			"remote", r.RemoteAddr,
			"sid", r.FormValue("CallSid"),
			"method", r.Method,
		)
		(&Response{}).
			Say(p.conv.Profile().RateLimited).
			Pause(5).
			Gather().
			Write(w, http.StatusTooManyRequests)
	})
}

func (p *Phone) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	log.Warn("Method not allowed", "method", r.Method, "path", r.URL.Path)
	(&Response{}).
		Say(p.conv.Profile().MethodNotAllowed).
		Pause(2).
		Gather().
		Write(w, http.StatusMethodNotAllowed)
}

func (p *Phone) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			log.Error("Panic in handler",
				"path", r.URL.Path,
				"request_id", middleware.GetReqID(r.Context()),
				"panic", fmt.Sprint(rec),
			)
			(&Response{}).
				Say(p.conv.Profile().ServerError).
				Gather().
				Write(w, http.StatusInternalServerError)
		}()
		next.ServeHTTP(w, r)
	})
}

// verifySignature checks X-Twilio-Signature: base64(HMAC-SHA1(token, url + sorted form pairs)).
func (p *Phone) verifySignature(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}

		want := Signature(p.opts.AuthToken, p.opts.PublicURL+r.URL.RequestURI(), r.PostForm)
		got := r.Header.Get("X-Twilio-Signature")
		if !hmac.Equal([]byte(want), []byte(got)) {
			log.Warn("Rejected unsigned webhook", "remote", r.RemoteAddr)
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func Signature(token, url string, form map[string][]string) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var b strings.Builder
	b.WriteString(url)
	for _, k := range keys {
		for _, v := range form[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func files(prefix, dir string) http.Handler {
	fs := http.StripPrefix(prefix, http.FileServer(http.Dir(dir)))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		fs.ServeHTTP(w, r)
	})
}

func requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Debug("HTTP",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"latency", time.Since(start).Round(time.Millisecond),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
