package main

import (
	"context"
	log "log/slog"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/spf13/pflag"

	"aigod/internal/app"
	"aigod/internal/config"
	"aigod/internal/logging"
	"aigod/internal/session"
)

func main() {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	logLevel := cli.StringP("log", "l", "info", "Log level")
	proxyAddr := cli.String("proxy", "", "SOCKS5 proxy for the remote APIs (overrides SOCKS_PROXY)")
	model := cli.StringP("model", "m", "", "Chat model (overrides OPENAI_MODEL)")
	addr := cli.StringP("addr", "a", "", "Listen address (default HOST:PORT)")
	publicURL := cli.StringP("public-url", "u", "", "Public base URL of this server")
	warm := cli.Bool("warm", false, "Render the stock lines of every personality at start-up")
	cli.Parse()

	logging.Setup(*logLevel)
	log.Info("Booting up")

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Error("Bad configuration", "err", err)
		os.Exit(1)
	}
	if *publicURL != "" {
		cfg.PublicURL = *publicURL
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
	if cfg.PublicURL == "" {
		log.Error("PUBLIC_URL not set; the provider could not fetch audio")
		os.Exit(1)
	}
	if *addr == "" {
		*addr = cfg.Addr()
	}

	a, err := app.Build(cfg, app.Options{})
	if err != nil {
		log.Error("Failed to start", "err", err)
		os.Exit(1)
	}
	defer a.LogStats()

	if cfg.TwilioAuthToken == "" {
		log.Warn("TWILIO_AUTH_TOKEN not set, webhook signatures are not checked")
	}

	phone := session.NewPhone(a.Coordinator, session.PhoneOptions{
		PublicURL: cfg.PublicURL,
		CacheDir:  cfg.CacheDir,
		SoundsDir: cfg.SoundsDir,
		Limits: session.Limits{
			PerDay:    cfg.Limits.PerDay,
			PerHour:   cfg.Limits.PerHour,
			PerMinute: cfg.Limits.PerMinute,
		},
		MaxCallDuration: cfg.MaxCallDuration,
		CallWarningAt:   cfg.CallWarningAt,
		AuthToken:       cfg.TwilioAuthToken,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go a.RunBus(ctx)

	if *warm {
		go func() {
			if _, err := a.Warm(ctx); err != nil && ctx.Err() == nil {
				log.Warn("Cache warm-up failed", "err", err)
			}
		}()
	}

	if err := phone.Serve(ctx, *addr); err != nil {
		log.Error("Server failed", "err", err)
		os.Exit(1)
	}
	log.Info("Shutting down")
}
