package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dbis-ilm/sensbee/internal/cache"
	"github.com/dbis-ilm/sensbee/internal/config"
	"github.com/dbis-ilm/sensbee/internal/eventlog"
	"github.com/dbis-ilm/sensbee/internal/ingest"
	"github.com/dbis-ilm/sensbee/internal/live"
	"github.com/dbis-ilm/sensbee/internal/logging"
	"github.com/dbis-ilm/sensbee/internal/metrics"
	"github.com/dbis-ilm/sensbee/internal/mqttingest"
	"github.com/dbis-ilm/sensbee/internal/outbound"
	"github.com/dbis-ilm/sensbee/internal/permission"
	"github.com/dbis-ilm/sensbee/internal/sensor"
	"github.com/dbis-ilm/sensbee/internal/store"
	"github.com/dbis-ilm/sensbee/internal/transform"
)

var version = "dev"

func main() {
	logging.Setup()

	fs := flag.NewFlagSet("sensbee", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a YAML config file")
	showVersion := fs.Bool("version", false, "print version and exit")
	_ = fs.Parse(os.Args[1:])

	if *showVersion {
		fmt.Println(version)
		return
	}

	if err := run(*configPath); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if level, err := logging.ParseLevel(cfg.LogLevel); err == nil {
		logging.SetLevel(level)
	}

	if err := store.Migrate(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	c := cache.New(s)
	c.Disabled = cfg.CacheDisabled
	perm := permission.New(c, s)

	sensorSvc := sensor.New(s, c, cfg.SessionTTL)
	broker := transform.New(cfg.TransformBrokerURL, s)
	ingestSvc := ingest.New(s, c, perm, broker)
	outboundEngine := outbound.New(s, broker)
	liveHandler := live.New(s, perm, sensorSvc)
	eventPub := eventlog.NewPublisher(s)
	mqttSub := mqttingest.New(cfg.MQTTBrokerURL, "sensbee", ingestSvc, s)

	go broker.Run(ctx)
	go outboundEngine.Run(ctx)
	go eventPub.Run(ctx)
	go mqttSub.Run(ctx)

	mux := http.NewServeMux()
	sensorSvc.Routes(mux)
	ingest.Routes(mux, ingestSvc, sensorSvc)
	liveHandler.Routes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	var handler http.Handler = mux
	handler = eventlog.Middleware(eventPub)(handler)
	handler = metrics.HTTPMiddleware(handler)
	handler = logging.HTTPMiddleware(handler)

	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: handler,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("sensbee listening", "addr", cfg.Addr, "version", version)
		serveErr <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.WebhookTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
