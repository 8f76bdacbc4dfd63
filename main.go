package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wfunc/snakes/config"
	"github.com/wfunc/snakes/gateway"
	"github.com/wfunc/snakes/geometry"
	"github.com/wfunc/snakes/logger"
	"github.com/wfunc/snakes/monitor"
	"github.com/wfunc/snakes/persistence"
	"github.com/wfunc/snakes/room"
	"github.com/wfunc/snakes/server"
	"github.com/wfunc/snakes/services"
	"github.com/wfunc/snakes/session"
)

func main() {
	// Initialize logger, replaced once the configuration is known
	if err := logger.Init(logger.Options{}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	if err := logger.Init(logger.Options{Level: cfg.Log.Level, File: cfg.Log.File}); err != nil {
		logger.Log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Initialize Database
	db, err := persistence.Open(cfg.Database)
	if err != nil {
		logger.Log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Log.Infof("Database %q ready.", cfg.Database.Driver)

	matches := services.NewMatchService(db)
	mon := monitor.NewMonitor("snakes")

	rooms := room.NewRoomManager(room.Options{
		TickInterval:  cfg.Game.TickInterval,
		StartDelay:    cfg.Game.StartDelay,
		SubscriberTTL: cfg.Game.SubscriberTTL,
		NotifyTimeout: cfg.Game.NotifyTimeout,
		JoinBorder:    cfg.Game.JoinBorder,
		AITurnOneIn:   cfg.Game.AITurnOneIn,
		Metrics:       mon,
		Recorder:      matches,
	})
	rooms.StartSweeper(cfg.Game.SweepInterval)
	defer rooms.Close()

	players := session.NewManager(session.WithBorder(cfg.Game.JoinBorder))
	gw := gateway.New(rooms, players, gateway.WithDefaultGame(
		geometry.BoardSize{Width: cfg.Game.BoardWidth, Height: cfg.Game.BoardHeight},
		cfg.Game.ExpectedPlayers,
	))

	// Initialize Game Server
	gameServer, err := server.NewGameServer(server.Options{
		HTTPAddress: cfg.Server.HTTPAddress,
		RPCAddress:  cfg.Server.RPCAddress,
		GRPCAddress: cfg.Server.GRPCAddress,
	}, gw, rooms, matches, mon)
	if err != nil {
		logger.Log.Fatalf("Failed to create server: %v", err)
	}

	// Start Server
	errc := make(chan error, 1)
	go func() {
		errc <- gameServer.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errc:
		if err != nil {
			logger.Log.Errorf("Server failed: %v", err)
		}
		return
	case sig := <-quit:
		logger.Log.Infof("Received %s, shutting down...", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := gameServer.Shutdown(ctx); err != nil {
		logger.Log.Errorf("Server forced to shutdown: %v", err)
	}
	logger.Log.Info("Server exited")
}
