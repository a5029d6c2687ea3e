package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/openmeet-team/fieldwork/internal/api"
	"github.com/openmeet-team/fieldwork/internal/audio"
	"github.com/openmeet-team/fieldwork/internal/cati"
	"github.com/openmeet-team/fieldwork/internal/db"
	"github.com/openmeet-team/fieldwork/internal/engine"
	"github.com/openmeet-team/fieldwork/internal/geocode"
	"github.com/openmeet-team/fieldwork/internal/quota"
	"github.com/openmeet-team/fieldwork/internal/telemetry"
)

func main() {
	// Register Prometheus metrics
	telemetry.RegisterMetrics()

	// Get database configuration from environment
	dbConfig, err := db.ConfigFromEnv()
	if err != nil {
		log.Fatalf("Failed to load database config: %v", err)
	}

	// Connect to database
	ctx := context.Background()
	database, err := db.Connect(ctx, dbConfig)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close(database)

	log.Println("Connected to database successfully")

	// Create database queries instance
	queries := db.NewQueries(database)

	// Quota buckets: configured limits plus live counts from the database
	limits := quota.NewLimitsRegistry()
	quotaSource := quota.NewSource(queries, limits.Limits)

	// Create Echo instance
	e := echo.New()

	// Basic middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	// Create handlers
	registry := engine.NewRegistry()
	handlers := api.NewHandlers(queries, registry, queries, quotaSource)
	handlers.SetQuotaLimits(limits)

	// Mapping provider: reverse geocoding plus provider-backed geolocation
	geocoder := geocode.NewClient(geocode.ConfigFromEnv())
	handlers.SetGeocoder(geocoder, geocoder)

	// Audio storage for interview evidence recordings
	if baseURL := os.Getenv("RECORDINGS_BASE_URL"); baseURL != "" {
		handlers.SetAudioUploader(audio.NewUploader(baseURL, os.Getenv("RECORDINGS_TOKEN")))
	} else {
		log.Println("RECORDINGS_BASE_URL not set; audio uploads disabled")
	}

	// Call control for telephone interviews, when configured
	if catiConfig, err := cati.ConfigFromEnv(); err == nil {
		handlers.SetCallService(cati.NewClient(catiConfig))
	} else {
		log.Printf("Telephone interviews disabled: %v", err)
	}

	healthHandlers := api.NewHealthHandlers(database)

	// Setup routes (includes metrics and request ID middleware)
	api.SetupRoutes(e, handlers, healthHandlers, os.Getenv("AGENT_PUBLIC_JWK"))

	// Start server with graceful shutdown
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server in a goroutine
	go func() {
		addr := fmt.Sprintf(":%s", port)
		log.Printf("Starting server on %s", addr)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			e.Logger.Fatal("shutting down the server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		e.Logger.Fatal(err)
	}

	log.Println("Server shutdown complete")
}
