package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/nmoreau/billing-core/internal/artifact"
	"github.com/nmoreau/billing-core/internal/config"
	"github.com/nmoreau/billing-core/internal/db"
	"github.com/nmoreau/billing-core/internal/server"
	"github.com/nmoreau/billing-core/internal/services"
	"github.com/nmoreau/billing-core/internal/sweeper"
)

var (
	migrateOnlyFlag = flag.Bool("migrate-only", false, "Run DB migrations and exit")
	sweepOnceFlag   = flag.Bool("sweep-once", false, "Run one sweep and retention pass, then exit")
)

func main() {
	flag.Parse()
	_ = godotenv.Load()
	cfg := config.Load()

	dbConn, err := db.ConnectAndMigrate(cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	if *migrateOnlyFlag {
		log.Println("migrations completed; exiting as requested")
		return
	}

	store := artifact.NewStore(dbConn, cfg.ArtifactRoot, cfg.DownloadTTL)
	sw := sweeper.New(dbConn, store, cfg.ConsumeGrace, cfg.RecordRetention)
	if *sweepOnceFlag {
		(&sweeper.Runner{Sweeper: sw}).RunOnce(time.Now().UTC())
		return
	}

	statuses := services.NewStatusService(dbConn, services.NewSnapshotService(dbConn), nil)
	runner := &sweeper.Runner{
		Sweeper:         sw,
		SweepInterval:   cfg.SweepInterval,
		OverdueInterval: cfg.OverdueInterval,
		ScanOverdue:     statuses.ScanOverdue,
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner.Start(ctx)

	log.Printf("Starting server env=%s port=%s", cfg.Env, cfg.Port)
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: server.New(dbConn, cfg)}

	go func() {
		log.Printf("Server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutdown signal received")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}
	log.Println("Server gracefully stopped")
}
