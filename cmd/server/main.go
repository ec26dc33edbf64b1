package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/unclesp1d3r/cipherswarm/internal/blob"
	"github.com/unclesp1d3r/cipherswarm/internal/config"
	"github.com/unclesp1d3r/cipherswarm/internal/db"
	"github.com/unclesp1d3r/cipherswarm/internal/events"
	"github.com/unclesp1d3r/cipherswarm/internal/handlers/agentapi"
	"github.com/unclesp1d3r/cipherswarm/internal/handlers/controlapi"
	"github.com/unclesp1d3r/cipherswarm/internal/handlers/webapi"
	"github.com/unclesp1d3r/cipherswarm/internal/repository"
	"github.com/unclesp1d3r/cipherswarm/internal/routes"
	"github.com/unclesp1d3r/cipherswarm/internal/services"
	"github.com/unclesp1d3r/cipherswarm/pkg/debug"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		debug.Error("Failed to load configuration: %v", err)
		os.Exit(1)
	}

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		debug.Error("Failed to connect to database: %v", err)
		os.Exit(1)
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		debug.Error("Failed to run migrations: %v", err)
		os.Exit(1)
	}

	store, err := blob.NewFilesystemStore(cfg.DataDir, "/api/v1/downloads")
	if err != nil {
		debug.Error("Failed to initialize blob store: %v", err)
		os.Exit(1)
	}

	broker := events.NewBroker(256)

	agentRepo := repository.NewAgentRepository(database)
	benchmarkRepo := repository.NewBenchmarkRepository(database)
	taskRepo := repository.NewTaskRepository(database)
	attackRepo := repository.NewAttackRepository(database)
	campaignRepo := repository.NewCampaignRepository(database)
	hashListRepo := repository.NewHashListRepository(database)
	crackRepo := repository.NewCrackRepository(database)
	errorRepo := repository.NewAgentErrorRepository(database)
	projectRepo := repository.NewProjectRepository(database)
	userRepo := repository.NewUserRepository(database)

	planner := services.NewKeyspacePlanner(database, attackRepo, taskRepo, benchmarkRepo, cfg)
	scheduler := services.NewTaskScheduler(database, taskRepo, attackRepo, campaignRepo,
		agentRepo, benchmarkRepo, errorRepo, planner, broker, cfg)
	agentService := services.NewAgentService(database, agentRepo, benchmarkRepo, taskRepo,
		errorRepo, broker, cfg)
	progressService := services.NewProgressService(database, taskRepo, agentRepo, broker, cfg)
	crackService := services.NewCrackService(database, hashListRepo, crackRepo, taskRepo,
		attackRepo, campaignRepo, broker)
	campaignService := services.NewCampaignService(database, campaignRepo, attackRepo, taskRepo,
		agentRepo, hashListRepo, planner, scheduler, broker)
	authService := services.NewAuthService(userRepo, cfg.JWTSecret)

	timekeeper := services.NewTimekeeper(database, agentRepo, taskRepo, attackRepo,
		errorRepo, scheduler, broker, cfg)
	if err := timekeeper.Start(); err != nil {
		debug.Error("Failed to start timekeeper: %v", err)
		os.Exit(1)
	}
	defer timekeeper.Stop()

	agentHandler := agentapi.NewHandler(agentService, scheduler, progressService,
		crackService, campaignService)
	webHandler := webapi.NewHandler(authService, agentService, campaignService,
		crackService, projectRepo, hashListRepo, store, broker)
	controlHandler := controlapi.NewHandler(campaignService, agentService)

	router := routes.Setup(agentHandler, webHandler, controlHandler, agentService, authService)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		debug.Info("Server listening on %s", cfg.ListenAddr)
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		debug.Info("Received %s, shutting down", sig)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			debug.Error("Server failed: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		debug.Error("Graceful shutdown failed: %v", err)
	}
}
