package btd

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"quantbt/api"
	"quantbt/backtest"
	"quantbt/broadcast"
	"quantbt/config"
	"quantbt/jobs"
	"quantbt/logging"
)

func Run(args []string) int {
	flags := flag.NewFlagSet("btd", flag.ContinueOnError)
	flags.SetOutput(os.Stderr)

	var configPath string
	flags.StringVar(&configPath, "config", "", "配置文件路径(YAML格式)，默认优先使用 ./config.yaml")

	if err := flags.Parse(args); err != nil {
		return 2
	}

	if configPath == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			configPath = "config.yaml"
		}
	}

	cfg, err := config.GetConfig(configPath)
	if err != nil {
		fallback := logging.New(logging.Options{})
		fallback.Error().Err(err).Msg("load config")
		return 1
	}
	root := logging.New(logging.Options{Level: cfg.LogLevel})
	log := logging.Component(root, "btd")

	var base *backtest.PlanDocument
	if cfg.PlanPath != "" {
		base, err = backtest.LoadPlanDocument(cfg.PlanPath)
		if err != nil {
			log.Error().Err(err).Str("path", cfg.PlanPath).Msg("load default plan")
			return 1
		}
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	var hub *broadcast.Hub
	if cfg.WebSocket {
		hub = broadcast.NewHub(logging.Component(root, "broadcast"))
		go hub.Run(ctx)
	}

	manager := jobs.NewManager(jobs.Options{
		Workers:   cfg.Workers,
		MaxQueued: cfg.MaxQueued,
		MaxJobs:   cfg.MaxJobs,
		Notifier:  buildNotifier(cfg, hub, logging.Component(root, "broadcast")),
		Logger:    logging.Component(root, "jobs"),
	})

	log.Info().
		Int("workers", cfg.Workers).
		Int("max_queued", cfg.MaxQueued).
		Bool("websocket", hub != nil).
		Bool("webhook", cfg.WebhookURL != "").
		Msg("quantbt daemon starting")

	server := api.NewServer(manager, hub, base, cfg.Port, logging.Component(root, "api"))
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	code := 0
	select {
	case <-sigChan:
		log.Info().Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server failed")
			code = 1
		}
	}

	_ = server.Shutdown()
	manager.Close()
	stop()
	log.Info().Msg("stopped")
	return code
}

// buildNotifier combines the configured signal sinks. Nil means trades are
// not broadcast.
func buildNotifier(cfg *config.Config, hub *broadcast.Hub, log zerolog.Logger) backtest.Notifier {
	var sinks broadcast.Multi
	if hub != nil {
		sinks = append(sinks, hub)
	}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, broadcast.NewWebhookNotifier(cfg.WebhookURL, cfg.WebhookTimeout, log))
	}
	switch len(sinks) {
	case 0:
		return nil
	case 1:
		return sinks[0]
	default:
		return sinks
	}
}
