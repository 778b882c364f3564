package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chatwire/chatwire/internal/common/logtrace"
	"github.com/chatwire/chatwire/internal/hub/broadcaster"
	"github.com/chatwire/chatwire/internal/hub/config"
	"github.com/chatwire/chatwire/internal/hub/server"
	"github.com/chatwire/chatwire/internal/hub/session"
	"github.com/chatwire/chatwire/internal/hub/transport"
)

type cmdoptions struct {
	configFile string
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		log.Error().Err(err).Msg("server failed")
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	opt := parseFlags()

	if err := config.LoadConfig(opt.configFile); err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logtrace.InitLogger(config.Config().LogLevel)

	slog := log.With().Str("state", "init").Logger()
	if opt.configFile != "" {
		slog.Info().Str("config_file", opt.configFile).Msg("loaded config file")
	}

	dialer := transport.NewLoopback()
	dialer.AutoLink = true

	manager := session.NewManager(config.Config(), dialer)
	bcast := broadcaster.New(manager, config.Config().BroadcastInterval())
	go bcast.Run(ctx)

	s, err := server.CreateNewServer(manager, bcast)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	s.MountHandlers()

	addr := config.Config().Host + ":" + strconv.Itoa(config.Config().Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		slog.Info().Str("addr", addr).Msg("server started")
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		slog.Info().Str("signal", sig.String()).Msg("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		if results := manager.DisconnectAll(shutdownCtx); len(results) > 0 {
			for id, err := range results {
				slog.Warn().Str("instance_id", id).Err(err).Msg("instance shutdown failed")
			}
		}
	}

	slog.Info().Msg("server stopped")
	return nil
}

func parseFlags() cmdoptions {
	opt := cmdoptions{}
	flag.StringVar(&opt.configFile, "config", "", "path to config file (optional)")
	flag.Parse()
	return opt
}
