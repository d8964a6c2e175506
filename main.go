package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/llehouerou/plexcast/internal/config"
	"github.com/llehouerou/plexcast/internal/mpris"
	"github.com/llehouerou/plexcast/internal/mpv"
	"github.com/llehouerou/plexcast/internal/player"
	"github.com/llehouerou/plexcast/internal/plex"
	"github.com/llehouerou/plexcast/internal/server"
	"github.com/llehouerou/plexcast/internal/timeline"
)

func run() error {
	configPath := flag.String("config", config.DefaultPath(), "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	level, err := logrus.ParseLevel(cfg.Get().LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	engine, err := mpv.New()
	if err != nil {
		return err
	}
	defer engine.Close()

	controller := player.New(engine)
	controller.SetAutoPlay(cfg.Get().AutoPlay)

	client := plex.NewClient(plex.Identity{
		ClientUUID: cfg.Get().ClientUUID,
		PlayerName: cfg.Get().PlayerName,
		AllowHTTP:  cfg.Get().AllowHTTP,
	})

	tl := timeline.NewManager(controller, cfg)
	go tl.Run()
	defer tl.Stop()

	cfg.AddListener(func(name string, _ any) {
		if name == "auto_play" {
			controller.SetAutoPlay(cfg.Get().AutoPlay)
		}
	})

	desktop, err := mpris.New(controller)
	if err != nil {
		logrus.Warnf("mpris unavailable: %v", err)
	} else {
		defer desktop.Close()
	}

	srv := server.New(controller, client, tl, cfg)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Run()
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sig:
		logrus.Info("shutting down")
	case err := <-serverErr:
		if err != nil {
			return err
		}
	}

	controller.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logrus.Warnf("server shutdown: %v", err)
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		logrus.Fatal(err)
	}
}
