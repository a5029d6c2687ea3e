package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/openmeet-team/fieldwork/internal/engine"
	"github.com/openmeet-team/fieldwork/internal/telemetry"
)

// StreamClient manages the WebSocket connection to a session event stream
type StreamClient struct {
	url     string
	token   string
	tracker *Tracker
	conn    *websocket.Conn
	done    chan struct{}
}

// NewStreamClient creates a new event stream client
func NewStreamClient(url, token string, tracker *Tracker) *StreamClient {
	return &StreamClient{
		url:     url,
		token:   token,
		tracker: tracker,
		done:    make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection
func (c *StreamClient) Connect(ctx context.Context) error {
	log.Printf("Connecting to event stream: %s", c.url)

	header := http.Header{}
	header.Set("User-Agent", "fieldwork-monitor/1.0")
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, header)
	if err != nil {
		return fmt.Errorf("failed to dial websocket: %w", err)
	}

	c.conn = conn
	telemetry.MonitorConnectionStatus.Set(1)
	log.Println("Connected to event stream")

	return nil
}

// Run starts the snapshot processing loop
func (c *StreamClient) Run(ctx context.Context) error {
	defer close(c.done)

	for {
		select {
		case <-ctx.Done():
			log.Println("Shutting down event stream client...")
			return nil
		default:
			// Read message from WebSocket
			_, message, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					log.Println("Event stream closed by server")
					return nil
				}
				return fmt.Errorf("error reading message: %w", err)
			}

			var snap engine.Snapshot
			if err := json.Unmarshal(message, &snap); err != nil {
				log.Printf("ERROR: Failed to unmarshal snapshot: %v", err)
				telemetry.MonitorSnapshotsProcessed.WithLabelValues("", "error").Inc()
				continue
			}

			c.tracker.Process(&snap)
			telemetry.MonitorSnapshotsProcessed.WithLabelValues(string(snap.State), "success").Inc()
		}
	}
}

// Close closes the WebSocket connection
func (c *StreamClient) Close() error {
	telemetry.MonitorConnectionStatus.Set(0)
	if c.conn != nil {
		err := c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		if err != nil {
			log.Printf("Error sending close message: %v", err)
		}
		return c.conn.Close()
	}
	return nil
}

// RunWithReconnect runs the client with exponential backoff on connection errors
func RunWithReconnect(ctx context.Context, url, token string, tracker *Tracker) error {
	backoff := time.Second
	maxBackoff := 60 * time.Second

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			client := NewStreamClient(url, token, tracker)

			// Try to connect
			if err := client.Connect(ctx); err != nil {
				log.Printf("Connection error: %v. Retrying in %v...", err, backoff)
				telemetry.MonitorReconnects.Inc()
				time.Sleep(backoff)

				// Exponential backoff
				backoff = backoff * 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
				continue
			}

			// Reset backoff on successful connection
			backoff = time.Second

			// Run the client
			if err := client.Run(ctx); err != nil {
				log.Printf("Runtime error: %v. Reconnecting...", err)
				telemetry.MonitorReconnects.Inc()
				client.Close()
				time.Sleep(backoff)
				continue
			}

			// Clean shutdown
			client.Close()
			return nil
		}
	}
}
