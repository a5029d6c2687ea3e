package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/openmeet-team/fieldwork/internal/monitor"
	"github.com/openmeet-team/fieldwork/internal/telemetry"
)

func main() {
	apiURL := flag.String("api", "http://localhost:8080", "base URL of the fieldwork API")
	sessionID := flag.String("session", "", "session ID to watch")
	flag.Parse()

	if *sessionID == "" {
		log.Fatal("-session is required")
	}

	log.Println("fieldwork-monitor: Starting session event stream monitor...")

	telemetry.RegisterMetrics()

	// Build the websocket URL for the session event stream
	wsURL := strings.Replace(*apiURL, "http", "ws", 1) + "/api/v1/sessions/" + *sessionID + "/events"

	// Create context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	tracker := monitor.NewTracker()

	// Run monitor in goroutine
	errChan := make(chan error, 1)
	go func() {
		errChan <- monitor.RunWithReconnect(ctx, wsURL, os.Getenv("AGENT_TOKEN"), tracker)
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-sigChan:
		log.Printf("Received signal %v, shutting down...", sig)
		cancel()
	case err := <-errChan:
		if err != nil {
			log.Printf("Monitor error: %v", err)
		}
	}

	log.Println("fieldwork-monitor: Shutdown complete")
}
