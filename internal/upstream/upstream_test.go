package upstream

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/psds-microservice/live-session-service/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSpeechTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transcribe", r.URL.Path)
		assert.Equal(t, "en", r.URL.Query().Get("language"))
		assert.Equal(t, "12.500", r.URL.Query().Get("offset"))
		f, _, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(f)
		assert.Equal(t, []byte("audio"), data)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"text": " hello class ", "start_time": 12.5, "end_time": 14.0, "confidence": 1.7,
		})
	}))
	defer srv.Close()

	c := NewSpeechClient(srv.URL+"/", time.Second, zap.NewNop())
	tr, err := c.Transcribe(context.Background(), []byte("audio"), "en", 12.5)
	require.NoError(t, err)
	assert.Equal(t, "hello class", tr.Text)
	assert.Equal(t, 12.5, tr.StartTime)
	assert.Equal(t, 14.0, tr.EndTime)
	require.NotNil(t, tr.Confidence)
	assert.Equal(t, 1.0, *tr.Confidence)
}

func TestSpeechServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewSpeechClient(srv.URL, time.Second, zap.NewNop())
	_, err := c.Transcribe(context.Background(), []byte("x"), "en", 0)
	assert.ErrorIs(t, err, errs.ErrUpstreamUnavailable)
	assert.ErrorIs(t, c.Health(context.Background()), errs.ErrUpstreamUnavailable)
}

func TestSpeechUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewSpeechClient(url, time.Second, zap.NewNop())
	_, err := c.Transcribe(context.Background(), []byte("x"), "en", 0)
	assert.ErrorIs(t, err, errs.ErrUpstreamUnavailable)
}

func TestTranslate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req translateRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		switch req.TargetLanguage {
		case "es":
			_ = json.NewEncoder(w).Encode(map[string]any{"translated_text": "hola", "confidence": 0.9})
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	c := NewTranslationClient(srv.URL, time.Second, zap.NewNop())
	tr, err := c.Translate(context.Background(), "hello", "en", "es")
	require.NoError(t, err)
	assert.Equal(t, "hola", tr.Text)

	_, err = c.Translate(context.Background(), "hello", "en", "xx")
	require.Error(t, err)
	assert.NotErrorIs(t, err, errs.ErrUpstreamUnavailable)
}

func TestTranslateRespectsContextDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewTranslationClient(srv.URL, 5*time.Second, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := c.Translate(ctx, "hello", "en", "fr")
	assert.ErrorIs(t, err, errs.ErrUpstreamUnavailable)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestHealthNotConfigured(t *testing.T) {
	c := NewTranslationClient("", time.Second, zap.NewNop())
	assert.ErrorIs(t, c.Health(context.Background()), errs.ErrUpstreamUnavailable)
}
