// Package cati talks to the telephony call-control service that dials
// respondents for telephone interviews.
package cati

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/openmeet-team/fieldwork/internal/models"
)

// Config holds call-control service settings
type Config struct {
	BaseURL string
	Token   string
}

// ConfigFromEnv creates a Config from environment variables
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		BaseURL: os.Getenv("CATI_BASE_URL"),
		Token:   os.Getenv("CATI_TOKEN"),
	}
	if cfg.BaseURL == "" {
		return Config{}, fmt.Errorf("CATI_BASE_URL is required for telephone interviews")
	}
	return cfg, nil
}

// StartResult is the outcome of claiming the next respondent from the call
// queue for a survey.
type StartResult struct {
	CallQueueID string            `json:"callQueueId"`
	Respondent  models.Respondent `json:"respondent"`
}

// Client is the HTTP call-control client
type Client struct {
	cfg    Config
	client *http.Client
}

// NewClient creates a call-control client
func NewClient(cfg Config) *Client {
	return &Client{cfg: cfg, client: &http.Client{Timeout: 30 * time.Second}}
}

// StartInterview claims the next queued respondent for the survey.
func (c *Client) StartInterview(ctx context.Context, surveyID uuid.UUID) (*StartResult, error) {
	var result StartResult
	err := c.post(ctx, "/v1/interviews/start", map[string]any{"surveyId": surveyID.String()}, &result)
	if err != nil {
		return nil, fmt.Errorf("failed to start CATI interview: %w", err)
	}
	return &result, nil
}

// MakeCall dials the respondent and returns the call identifier.
func (c *Client) MakeCall(ctx context.Context, respondentID string) (string, error) {
	var result struct {
		CallID string `json:"callId"`
	}
	err := c.post(ctx, "/v1/calls", map[string]any{"respondentId": respondentID}, &result)
	if err != nil {
		return "", fmt.Errorf("failed to place call: %w", err)
	}
	return result.CallID, nil
}

// Abandon reports an abandoned interview back to the call queue, optionally
// with a reschedule date for call_later abandonments.
func (c *Client) Abandon(ctx context.Context, respondentID, reason, notes string, reschedule *time.Time) error {
	payload := map[string]any{
		"respondentId": respondentID,
		"reason":       reason,
		"notes":        notes,
	}
	if reschedule != nil {
		payload["rescheduleDate"] = reschedule.Format(time.RFC3339)
	}
	if err := c.post(ctx, "/v1/interviews/abandon", payload, nil); err != nil {
		return fmt.Errorf("failed to report abandonment: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("call control returned status %d: %s", resp.StatusCode, snippet)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
