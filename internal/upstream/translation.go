package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/psds-microservice/live-session-service/internal/model"
	"go.uber.org/zap"
)

// TranslationClient calls the translation service. Per-call deadlines come from the caller's
// context; the client timeout is only an upper bound.
type TranslationClient struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

// NewTranslationClient creates a client for baseURL.
func NewTranslationClient(baseURL string, timeout time.Duration, log *zap.Logger) *TranslationClient {
	return &TranslationClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

type translateRequest struct {
	Text           string `json:"text"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
}

type translateResponse struct {
	TranslatedText string   `json:"translated_text"`
	Confidence     *float64 `json:"confidence"`
}

// Translate translates text from source to target.
func (c *TranslationClient) Translate(ctx context.Context, text, source, target string) (*model.CaptionTranslation, error) {
	raw, err := json.Marshal(translateRequest{Text: text, SourceLanguage: source, TargetLanguage: target})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/translate", bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var out translateResponse
	if err := do(c.http, req, &out); err != nil {
		c.log.Debug("translation failed", zap.String("target", target), zap.Error(err))
		return nil, fmt.Errorf("translate %s->%s: %w", source, target, err)
	}
	if out.TranslatedText == "" {
		return nil, fmt.Errorf("translate %s->%s: empty result", source, target)
	}
	return &model.CaptionTranslation{Text: out.TranslatedText, Confidence: clampConfidence(out.Confidence)}, nil
}

// Health checks GET /health.
func (c *TranslationClient) Health(ctx context.Context) error {
	return health(ctx, c.http, c.baseURL)
}
