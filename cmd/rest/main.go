package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"random-chat-be/internal/bootstrap"
	"random-chat-be/internal/config"
	"random-chat-be/internal/metrics"
	"random-chat-be/internal/server"
	"random-chat-be/internal/tracer"
	"random-chat-be/pkg/database"

	"gorm.io/gorm"
)

func main() {
	// 0. Initialize Tracer and Metrics
	shutdownTracer := tracer.InitTracer()
	defer shutdownTracer(context.Background())
	metrics.Init()

	// 1. Load Configuration
	cfg := config.Load()

	// 2. Initialize Database
	var gormDB *gorm.DB
	if cfg.App.StoreDriver != "memory" {
		db, err := database.NewGormDBFromDSN(cfg.Database.Connection, cfg.App.Environment != "production")
		if err != nil {
			log.Panicf("Unable to connect to GORM DB: %v", err)
		}
		gormDB = db
	}

	// 3. Bootstrap Dependencies (Container)
	container := bootstrap.NewContainer(gormDB, cfg)

	// Timers and conversations do not survive a restart, so neither may pairings.
	if cfg.App.ResetStateOnStart {
		n, err := container.StateStore.ResetAll(context.Background())
		if err != nil {
			log.Panicf("Unable to reset chat state: %v", err)
		}
		log.Printf("Reset %d chat users to idle", n)
	}

	// 4. Start Background Services
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := container.Start(ctx); err != nil {
		log.Panicf("Unable to start background services: %v", err)
	}

	// 5. Initialize Server
	srv := server.New(cfg, container)

	go func() {
		if err := srv.Run(); err != nil {
			log.Printf("Server stopped: %v", err)
			stop()
		}
	}()

	// 6. Graceful Shutdown
	<-ctx.Done()
	log.Println("Shutting down...")

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Shutdown(); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		container.Close()
	}()

	select {
	case <-done:
	case <-time.After(15 * time.Second):
		log.Println("Shutdown timed out")
	}
}
