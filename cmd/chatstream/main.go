package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	nats "github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/namikmesic/chatstream/internal/api"
	"github.com/namikmesic/chatstream/internal/config"
	"github.com/namikmesic/chatstream/internal/generator"
	"github.com/namikmesic/chatstream/internal/jetstream"
	"github.com/namikmesic/chatstream/internal/processor"
	"github.com/namikmesic/chatstream/internal/session"
	"github.com/namikmesic/chatstream/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	zerolog.DefaultContextLogger = &log.Logger

	ctx := context.Background()
	store, err := storage.Open(ctx, cfg.StoreDriver, cfg.DatabaseURL, cfg.SQLitePath)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("failed to open store")
	}
	defer store.Close()

	gen, err := generator.New(cfg.GeneratorConfig())
	if err != nil {
		log.Fatal().Err(err).Str("generator", cfg.Generator).Msg("failed to create generator")
	}

	writer := storage.NewBatchWriter(cfg.WriterBufferSize, cfg.WriterBatchSize, cfg.WriterFlushMs)

	var (
		natsServer *jetstream.Server
		nc         *nats.Conn
		tap        api.FrameTap
	)
	consumerCtx, consumerCancel := context.WithCancel(ctx)
	defer consumerCancel()

	if cfg.NATSEnabled {
		natsServer, err = jetstream.NewServer(cfg.NATSStoreDir)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to start embedded NATS")
		}
		var js nats.JetStreamContext
		nc, js, err = natsServer.Open()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open JetStream")
		}
		tap = jetstream.NewPublisher(js)

		proc := processor.New(store, writer)
		go func() {
			if err := proc.StartConsumer(consumerCtx, js); err != nil {
				log.Error().Err(err).Msg("session processor stopped")
			}
		}()
	}

	controller := session.NewController(gen, store, cfg.SessionOptions())
	handler := api.NewHandler(controller, store, tap)

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().
			Int("port", cfg.Port).
			Str("generator", cfg.Generator).
			Str("store", cfg.StoreDriver).
			Bool("nats", cfg.NATSEnabled).
			Msg("chatstream server started")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-done
	log.Info().Msg("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown incomplete")
	}
	consumerCancel()
	if nc != nil {
		_ = nc.Drain()
	}
	if natsServer != nil {
		natsServer.Shutdown()
	}
	writer.Shutdown()
	log.Info().Msg("shutdown complete")
}
