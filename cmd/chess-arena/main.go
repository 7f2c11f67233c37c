package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/chess-arena/internal/archive"
	"github.com/kapu/chess-arena/internal/chat"
	appcfg "github.com/kapu/chess-arena/internal/config"
	"github.com/kapu/chess-arena/internal/game"
	"github.com/kapu/chess-arena/internal/lobby"
	"github.com/kapu/chess-arena/internal/msgcat"
	"github.com/kapu/chess-arena/internal/obslog"
	"github.com/kapu/chess-arena/internal/player"
	"github.com/kapu/chess-arena/internal/rules"
	"github.com/kapu/chess-arena/internal/server"
	"github.com/kapu/chess-arena/internal/status"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = obslog.L().Sync() }()

	cat, err := msgcat.New(cfg.MsgOverrideDir)
	if err != nil {
		log.Fatalf("message catalog error: %v", err)
	}

	reg := player.NewRegistry()
	lobbies := lobby.NewManager()
	games := game.NewTable(rules.NewEngine(), cfg.TimeControlSeconds)
	router := chat.NewRouter(lobbies, games)

	archiver := &archive.Archiver{}
	if cfg.RedisURL != "" {
		store, err := archive.NewStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("archive store init error: %v", err)
		}
		archiver.Store = store
	}
	if cfg.DatabaseURL != "" {
		repo, err := archive.NewRepository(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("archive repo init error: %v", err)
		}
		archiver.Repo = repo
	}
	if archiver.Store != nil || archiver.Repo != nil {
		games.OnFinish = func(sum game.Summary) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			archiver.Save(ctx, &archive.Record{
				GameID:      sum.GameID,
				White:       sum.White,
				Black:       sum.Black,
				Result:      sum.Result,
				Winner:      sum.Winner,
				FEN:         sum.FEN,
				MovesSAN:    sum.MovesSAN,
				TimeControl: sum.TimeControl,
				StartedAt:   sum.StartedAt,
				EndedAt:     sum.EndedAt,
			})
		}
	}

	srv := server.New(cfg, cat, reg, lobbies, games, router)
	if err := srv.Run(); err != nil {
		log.Fatalf("server start error: %v", err)
	}

	var statusSrv *status.Server
	if cfg.StatusAddr != "" {
		statusSrv = status.NewServer(cfg.StatusAddr, srv)
		go func() {
			if err := statusSrv.Run(); err != nil {
				obslog.L().Error("status_serve_error", zap.Error(err))
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	obslog.L().Info("shutdown_signal")

	if statusSrv != nil {
		_ = statusSrv.Shutdown()
	}
	srv.Shutdown()
	archiver.Close()
}
