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

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"www.github.com/Wanderer0074348/VirtualTutor/src/app"
	"www.github.com/Wanderer0074348/VirtualTutor/src/config"
)

func init() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}
}

func main() {
	configPath := flag.String("config", os.Getenv("TUTOR_CONFIG"), "path to config.yaml")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.Int("targets", len(cfg.Targets)),
		zap.String("cache", cfg.Cache.Backend),
		zap.String("transcripts", cfg.Transcript.Backend),
	)

	gin.SetMode(gin.ReleaseMode)

	a, err := app.Build(cfg, logger, app.Options{})
	if err != nil {
		logger.Fatal("failed to initialize", zap.Error(err))
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go a.RunSweeper(ctx, time.Minute)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      a.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	logger.Info("virtual tutor running", zap.String("port", cfg.Server.Port))

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited")
}
