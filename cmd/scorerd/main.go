package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"lit-agent/internal/research"
	"lit-agent/internal/scorerd"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8791", "listen address")
	backend := flag.String("backend", "direct", "scoring backend: direct|mock")
	debug := flag.Bool("debug", false, "debug logging")
	flag.Parse()

	level := zerolog.InfoLevel
	if *debug {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(os.Stdout).Level(level).With().Timestamp().Str("service", "scorerd").Logger()

	var scorer research.Scorer
	switch *backend {
	case "mock":
		scorer = &research.MockScorer{}
	case "direct":
		scorer = research.NewDirectScorer()
	default:
		log.Fatal().Str("backend", *backend).Msg("unknown backend kind")
	}

	srv := scorerd.New(*addr, scorer, log)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatal().Err(err).Msg("server failed")
		}
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("shutdown failed")
		}
	}
}
