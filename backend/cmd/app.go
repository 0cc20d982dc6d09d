package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/davecgh/go-spew/spew"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/orbitsync/orbit/backend/config"
	httpServer "github.com/orbitsync/orbit/backend/server/http"
	websocketServer "github.com/orbitsync/orbit/backend/server/websocket"
	"github.com/orbitsync/orbit/backend/service"
	store "github.com/orbitsync/orbit/backend/storage/memory"
	sw "github.com/orbitsync/orbit/backend/switch"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	fs := pflag.NewFlagSet("main", pflag.ContinueOnError)
	var (
		apiListenAddr = fs.StringP("api-listen-addr", "a", cfg.APIListenAddr, "api listen address")
		wsListenAddr  = fs.StringP("ws-listen-addr", "w", cfg.WSListenAddr, "websocket session listen address")
		logLevel      = fs.StringP("log-level", "l", cfg.LogLevel, "log level")
	)
	if err = fs.Parse(os.Args[1:]); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse command line arguments")
	}

	lvl, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = logger.Level(lvl)
	logger.Debug().Str("config", spew.Sdump(cfg)).Msg("effective configuration")

	svc := service.NewService(service.Config{
		RoomStore:  store.NewMemStoreWithIDLength(cfg.RoomIDLength),
		Switch:     sw.NewSwitch(&logger),
		Logger:     &logger,
		JoinWindow: cfg.JoinWindow,
	})
	httpSrv := httpServer.NewServer(httpServer.Config{
		Logger:         &logger,
		RoomService:    svc,
		ListenAddr:     *apiListenAddr,
		RateLimitPerIP: cfg.RateLimitPerIP,
	})
	wsSrv := websocketServer.NewServer(websocketServer.Config{
		Logger:         &logger,
		SessionService: svc,
		ListenAddr:     *wsListenAddr,
		RateLimitPerIP: cfg.RateLimitPerIP,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go svc.Run(ctx)

	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 2)
	)
	wg.Add(2)
	go httpSrv.Run(ctx, wg, errc)
	go wsSrv.Run(ctx, wg, errc)

	select {
	case err = <-errc:
		logger.Error().Err(err).Msg("unexpected server error, shutting down")
	case <-ctx.Done():
		logger.Warn().Msg("interrupted")
	}
	cancel()
	wg.Wait()
}
