package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"StoryToVideo-studio/config"
	"StoryToVideo-studio/models"
	"StoryToVideo-studio/persistence"
	"StoryToVideo-studio/routers"
	"StoryToVideo-studio/service"
	"StoryToVideo-studio/workflow"
)

func main() {
	config.InitConfig()
	cfg := config.AppConfig
	fmt.Println("Server starting on port", cfg.Server.Port)

	backend := service.NewBackendClient(cfg.Backend.Addr, cfg.Backend.Timeout)
	opts := workflow.Options{
		Store:     backend,
		Generator: backend,
		Interval:  cfg.Workflow.PollInterval,
		Ceiling:   cfg.Workflow.PollCeiling,
		Debounce:  cfg.Workflow.Debounce,
	}

	if cfg.MySQL.DSN != "" {
		models.InitDB()
		fmt.Println("Database initialized")
		opts.Journal = models.NewJobJournal(models.GormDB)
		if cfg.Workflow.Store == config.StoreMySQL {
			var store persistence.Store = models.NewStageStore(models.GormDB)
			opts.Store = store
		}
	}

	var processor *service.Processor
	if cfg.Workflow.QueuePolling {
		service.InitQueue()
		fmt.Println("Queue initialized")
		dispatcher := service.NewQueueDispatcher(service.QueueClient, cfg.Workflow.PollCeiling, cfg.Workflow.PollQueue)
		processor = service.NewProcessor(dispatcher)
		processor.StartProcessor(cfg.Workflow.PollConcurrency)
		opts.Dispatcher = dispatcher
	}

	if cfg.MinIO.Endpoint != "" {
		service.InitMinIO()
		fmt.Println("MinIO initialized")
		opts.Media = service.NewMediaStore(service.MinioClient, cfg.MinIO.Bucket)
	}

	reg := workflow.NewRegistry(opts)
	srv := &http.Server{Addr: cfg.Server.Port, Handler: routers.InitRouter(reg)}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down, flushing pending writes...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	if err := reg.CloseAll(ctx); err != nil {
		log.Printf("close workflows: %v", err)
	}
	if processor != nil {
		processor.Shutdown()
	}
	if service.QueueClient != nil {
		_ = service.QueueClient.Close()
	}
}
