package main

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	cli "github.com/spf13/pflag"

	"aigod/internal/app"
	"aigod/internal/audio"
	"aigod/internal/config"
	"aigod/internal/ipc"
	"aigod/internal/logging"
	"aigod/internal/personality"
	"aigod/internal/session"
	"aigod/internal/tts/espeak"
	"aigod/pkg/stt"
)

const transcribeTimeout = 60 * time.Second

func main() {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	logLevel := cli.StringP("log", "l", "info", "Log level")
	proxyAddr := cli.String("proxy", "", "SOCKS5 proxy for the remote APIs (overrides SOCKS_PROXY)")
	model := cli.StringP("model", "m", "", "Chat model (overrides OPENAI_MODEL)")
	persona := cli.StringP("personality", "p", "", "Starting personality (nikki, major_tom)")
	socket := cli.StringP("socket", "s", ipc.SocketPath, "Control socket path")
	text := cli.BoolP("text", "t", false, "Read utterances from stdin instead of the microphone")
	noGreet := cli.Bool("no-greet", false, "Skip the start-up announcement")
	cli.Parse()

	logging.Setup(*logLevel)
	log.Info("Booting up")

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Error("Bad configuration", "err", err)
		os.Exit(1)
	}
	if *persona != "" {
		cfg.Personality = *persona
	}
	if *proxyAddr != "" {
		cfg.SocksProxy = *proxyAddr
	}
	if *model != "" {
		cfg.OpenAIModel = *model
	}
	if err := cfg.Validate(); err != nil {
		log.Error("Bad configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(cfg, app.Options{
		Local:  true,
		Ducker: audio.NewDucker([]string{"mpg123", "afplay"}, 10),
		Fallback: func(ctx context.Context, text string) error {
			return espeak.New(personality.English).Speak(ctx, text)
		},
	})
	if err != nil {
		log.Error("Failed to start", "err", err)
		os.Exit(1)
	}
	defer a.LogStats()

	whisper, err := stt.NewTranscriber(cfg.WhisperModel)
	if err != nil {
		log.Error("Failed to init whisper", "model", cfg.WhisperModel, "err", err)
		os.Exit(1)
	}
	defer whisper.Close()
	log.Debug("Loaded whisper")

	sttOpts := stt.Options{Language: "en"}

	var ears session.Listener
	if *text {
		ears = session.NewLineReader(ctx, os.Stdin, stop)
	} else {
		rec := audio.NewRecorder()
		if err := rec.Init(); err != nil {
			log.Error("Failed to init audio", "err", err)
			os.Exit(1)
		}
		defer rec.Close()
		ears = audio.NewListener(rec, whisper, sttOpts)
	}

	opts := session.DefaultLoopOptions()
	opts.IdleTimeout = cfg.IdleTimeout
	opts.Greet = !*noGreet
	loop := session.NewLoop(a.Coordinator, ears, opts)

	err = ipc.StartServer(ctx, *socket, func(ctx context.Context, msg ipc.ControlMessage) (string, error) {
		switch msg.Cmd {
		case ipc.Wake:
			loop.Wake()
			return "", nil
		case ipc.Say:
			if !a.Coordinator.Say(ctx, msg.Text).OK() {
				return "", errors.New("speech failed")
			}
			return "", nil
		case ipc.Ask:
			return a.Coordinator.Handle(ctx, msg.Text, "").Response(), nil
		case ipc.Transcribe:
			tctx, cancel := context.WithTimeout(ctx, transcribeTimeout)
			defer cancel()
			res, err := whisper.TranscribeFile(tctx, msg.Text, sttOpts)
			if err != nil {
				return "", err
			}
			heard := audio.Clean(res.Text)
			log.Info("Transcribed file", "path", msg.Text, "text", heard)
			return a.Coordinator.Handle(ctx, heard, "").Response(), nil
		case ipc.Warm:
			rep, err := a.Warm(ctx)
			return app.WarmText(rep), err
		case ipc.Stats:
			return a.StatsText(), nil
		case ipc.Exit:
			stop()
			return "", nil
		default:
			return "", fmt.Errorf("unknown command %q", msg.Cmd)
		}
	})
	if err != nil {
		log.Error("Failed ipc server", "err", err)
		os.Exit(1)
	}

	go a.RunBus(ctx)

	log.Info("Boot up - successful", "personality", a.Coordinator.Profile().Name, "socket", *socket)

	if err := loop.Run(ctx); err != nil {
		log.Error("Session failed", "err", err)
	}
	log.Info("Shutting down")
}
