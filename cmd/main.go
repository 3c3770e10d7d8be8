package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/promolab/blast/config"
	"github.com/promolab/blast/internal/app"
	"github.com/promolab/blast/internal/constants"
	"github.com/promolab/blast/internal/db"
	"github.com/promolab/blast/internal/logger"
)

// ShutdownTimeout bounds how long in-flight requests get to finish
const ShutdownTimeout = 10 * time.Second

func main() {
	if err := godotenv.Load(); err != nil {
		logger.Warn("No .env file found, using environment variables")
	}
	logger.InitializeAndConfigure()

	database, err := db.New(db.Options{
		Host:     config.GetEnv("DB_HOST", ""),
		User:     config.GetEnv("DB_USER", ""),
		Password: config.GetEnv("DB_PASSWORD", ""),
		DBName:   config.GetEnv("DB_NAME", ""),
		Port:     config.GetEnvInt("DB_PORT", 0),
	})
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	engine, err := app.New(database, nil)
	if err != nil {
		logger.Fatalf("Failed to assemble engine: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		logger.Info("Shutting down")
		if err := engine.Fiber.ShutdownWithTimeout(ShutdownTimeout); err != nil {
			logger.Errorf("Shutdown error: %v", err)
		}
	}()

	addr := config.GetEnv(constants.EnvServerAddress, ":8080")
	if err := engine.Start(ctx, addr); err != nil {
		logger.Fatalf("Server error: %v", err)
	}
}
