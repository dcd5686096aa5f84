package handler

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/live-session-service/internal/model"
	"go.uber.org/zap"
)

// RecordingSecretHeader carries the shared secret of the recorder webhook.
const RecordingSecretHeader = "X-Recording-Secret"

// RecordingCompleter applies the recorder's final status (live.Registry).
type RecordingCompleter interface {
	CompleteRecording(ctx context.Context, recordingID string, upd model.RecordingStatusUpdate) (*model.RecordingView, error)
}

// RecordingHandler receives recorder callbacks.
type RecordingHandler struct {
	svc    RecordingCompleter
	secret string
	log    *zap.Logger
}

// NewRecordingHandler creates the webhook handler. An empty secret disables the check (development).
func NewRecordingHandler(svc RecordingCompleter, secret string, log *zap.Logger) *RecordingHandler {
	return &RecordingHandler{svc: svc, secret: secret, log: log}
}

// Status godoc
// POST /live/recordings/:recordingId/status
func (h *RecordingHandler) Status(c *gin.Context) {
	if h.secret != "" {
		got := c.GetHeader(RecordingSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid recording secret", "code": "unauthorized"})
			return
		}
	}
	var req model.RecordingStatusUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	rec, err := h.svc.CompleteRecording(c.Request.Context(), c.Param("recordingId"), req)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	h.log.Info("recording finished",
		zap.String("session_id", rec.SessionID),
		zap.String("recording_id", rec.ID),
		zap.String("status", string(rec.Status)))
	c.JSON(http.StatusOK, rec)
}
