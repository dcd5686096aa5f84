package recording

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Notifier tells the external recorder when a session recording starts and stops.
// The recorder reports the artifact back through the status webhook.
type Notifier interface {
	RecordingStarted(ctx context.Context, sessionID, recordingID string) error
	RecordingStopped(ctx context.Context, sessionID, recordingID string) error
}

// Client implements Notifier over HTTP (POST {base}/recordings/start|stop).
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

// NewClient creates a recorder client. Returns nil when baseURL is empty (recording is tracked
// locally only).
func NewClient(baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	if baseURL == "" {
		return nil
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

type notifyRequest struct {
	SessionID   string `json:"session_id"`
	RecordingID string `json:"recording_id"`
}

// RecordingStarted asks the recorder to start capturing the session.
func (c *Client) RecordingStarted(ctx context.Context, sessionID, recordingID string) error {
	return c.post(ctx, "/recordings/start", sessionID, recordingID)
}

// RecordingStopped asks the recorder to finalize the artifact.
func (c *Client) RecordingStopped(ctx context.Context, sessionID, recordingID string) error {
	return c.post(ctx, "/recordings/stop", sessionID, recordingID)
}

func (c *Client) post(ctx context.Context, path, sessionID, recordingID string) error {
	raw, err := json.Marshal(notifyRequest{SessionID: sessionID, RecordingID: recordingID})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("recording: notify failed", zap.String("session_id", sessionID), zap.String("path", path), zap.Error(err))
		return fmt.Errorf("recorder %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		c.log.Warn("recording: recorder rejected", zap.String("session_id", sessionID), zap.Int("status", resp.StatusCode))
		return fmt.Errorf("recorder %s: status %d", path, resp.StatusCode)
	}
	return nil
}
