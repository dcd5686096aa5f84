package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/psds-microservice/live-session-service/internal/errs"
	"github.com/psds-microservice/live-session-service/internal/model"
	"go.uber.org/zap"
)

// SpeechClient calls the speech-to-text service.
type SpeechClient struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

// NewSpeechClient creates a client for baseURL (e.g. http://speech:8000). timeout bounds every call.
func NewSpeechClient(baseURL string, timeout time.Duration, log *zap.Logger) *SpeechClient {
	return &SpeechClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

type transcribeResponse struct {
	Text       string   `json:"text"`
	StartTime  float64  `json:"start_time"`
	EndTime    float64  `json:"end_time"`
	Confidence *float64 `json:"confidence"`
}

// Transcribe posts one audio chunk. offset is the chunk position in seconds from session start.
// Transport failures, timeouts and 5xx are reported as errs.ErrUpstreamUnavailable.
func (c *SpeechClient) Transcribe(ctx context.Context, audio []byte, language string, offset float64) (*model.Transcript, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "chunk.webm")
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(audio); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("language", language)
	q.Set("offset", strconv.FormatFloat(offset, 'f', 3, 64))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transcribe?"+q.Encode(), &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out transcribeResponse
	if err := do(c.http, req, &out); err != nil {
		c.log.Debug("speech: transcribe failed", zap.Float64("offset", offset), zap.Error(err))
		return nil, fmt.Errorf("speech: %w", err)
	}
	return &model.Transcript{
		Text:       strings.TrimSpace(out.Text),
		Language:   language,
		StartTime:  out.StartTime,
		EndTime:    out.EndTime,
		Confidence: clampConfidence(out.Confidence),
	}, nil
}

// Health checks GET /health.
func (c *SpeechClient) Health(ctx context.Context) error {
	return health(ctx, c.http, c.baseURL)
}

// do sends req and decodes a JSON body into out.
func do(client *http.Client, req *http.Request, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: status %d", errs.ErrUpstreamUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

func health(ctx context.Context, client *http.Client, baseURL string) error {
	if baseURL == "" {
		return fmt.Errorf("%w: not configured", errs.ErrUpstreamUnavailable)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return err
	}
	if err := do(client, req, nil); err != nil {
		return fmt.Errorf("health: %w", err)
	}
	return nil
}

func clampConfidence(c *float64) *float64 {
	if c == nil {
		return nil
	}
	v := *c
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return &v
}
