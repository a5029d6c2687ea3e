package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Uploader sends finished recordings to the audio storage endpoint. Upload
// failures are non-fatal for a session: the interview completes flagged as
// having no audio evidence.
type Uploader struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewUploader creates an uploader for the given storage endpoint. token is
// the service bearer token; empty disables the Authorization header.
func NewUploader(baseURL, token string) *Uploader {
	return &Uploader{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// Upload transfers the recording as multipart form data along with the
// session and survey identifiers. It returns the stored object URL.
func (u *Uploader) Upload(ctx context.Context, rec *Recording, sessionID, surveyID uuid.UUID) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("audio", fmt.Sprintf("%s.webm", sessionID))
	if err != nil {
		return "", fmt.Errorf("failed to build multipart body: %w", err)
	}
	if _, err := part.Write(rec.Data); err != nil {
		return "", fmt.Errorf("failed to write audio blob: %w", err)
	}

	_ = mw.WriteField("sessionId", sessionID.String())
	_ = mw.WriteField("surveyId", surveyID.String())
	_ = mw.WriteField("format", rec.Codec)
	_ = mw.WriteField("duration", fmt.Sprintf("%.1f", rec.Duration.Seconds()))

	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+"/v1/recordings", &body)
	if err != nil {
		return "", fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if u.token != "" {
		req.Header.Set("Authorization", "Bearer "+u.token)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("audio upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("audio upload failed: status %d: %s", resp.StatusCode, snippet)
	}

	var result struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode upload response: %w", err)
	}
	return result.URL, nil
}
