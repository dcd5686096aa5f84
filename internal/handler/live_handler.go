package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/live-session-service/internal/model"
	"go.uber.org/zap"
)

// LiveServicer is the session API the handlers need (implemented by live.Registry).
type LiveServicer interface {
	Start(ctx context.Context, ident model.Identity, req model.StartSessionRequest) (*model.RoomHandle, error)
	Join(ctx context.Context, ident model.Identity, sessionID string) (*model.RoomHandle, error)
	Leave(ctx context.Context, ident model.Identity, sessionID string) error
	End(ctx context.Context, ident model.Identity, sessionID string) error
	Cancel(ctx context.Context, ident model.Identity, sessionID string) error
	ListActive(ctx context.Context, ident model.Identity) ([]model.ActiveSession, error)
	Get(ctx context.Context, ident model.Identity, sessionID string) (*model.Session, error)
	Participants(ctx context.Context, ident model.Identity, sessionID string) ([]model.ParticipantRecord, error)
	Messages(ctx context.Context, ident model.Identity, sessionID string, limit int) ([]model.MessageView, error)
	Captions(ctx context.Context, ident model.Identity, sessionID, language string, limit int) ([]model.CaptionView, error)
	Recordings(ctx context.Context, ident model.Identity, sessionID string) ([]model.RecordingView, error)
	StartRecording(ctx context.Context, ident model.Identity, sessionID string) (*model.RecordingView, error)
	StopRecording(ctx context.Context, ident model.Identity, sessionID string) (*model.RecordingView, error)
	SetTranslation(ctx context.Context, ident model.Identity, sessionID string, req model.TranslationSettingsRequest) (*model.Session, error)
	SubmitCaption(ctx context.Context, ident model.Identity, sessionID string, req model.CaptionRequest) error
}

// LiveHandler handles the REST API of live sessions.
type LiveHandler struct {
	svc LiveServicer
	log *zap.Logger
}

// NewLiveHandler creates a live session handler.
func NewLiveHandler(svc LiveServicer, log *zap.Logger) *LiveHandler {
	return &LiveHandler{svc: svc, log: log}
}

// Start godoc
// POST /live/start
func (h *LiveHandler) Start(c *gin.Context) {
	ident, ok := identity(c)
	if !ok {
		return
	}
	var req model.StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	handle, err := h.svc.Start(c.Request.Context(), ident, req)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, handle)
}

// Join godoc
// POST /live/join/:sessionId
func (h *LiveHandler) Join(c *gin.Context) {
	ident, ok := identity(c)
	if !ok {
		return
	}
	handle, err := h.svc.Join(c.Request.Context(), ident, c.Param("sessionId"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, handle)
}

// Leave godoc
// POST /live/leave/:sessionId
func (h *LiveHandler) Leave(c *gin.Context) {
	h.simple(c, h.svc.Leave)
}

// End godoc
// POST /live/end/:sessionId
func (h *LiveHandler) End(c *gin.Context) {
	h.simple(c, h.svc.End)
}

// Cancel godoc
// POST /live/cancel/:sessionId
func (h *LiveHandler) Cancel(c *gin.Context) {
	h.simple(c, h.svc.Cancel)
}

func (h *LiveHandler) simple(c *gin.Context, op func(context.Context, model.Identity, string) error) {
	ident, ok := identity(c)
	if !ok {
		return
	}
	if err := op(c.Request.Context(), ident, c.Param("sessionId")); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Active godoc
// GET /live/active
func (h *LiveHandler) Active(c *gin.Context) {
	ident, ok := identity(c)
	if !ok {
		return
	}
	list, err := h.svc.ListActive(c.Request.Context(), ident)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	if list == nil {
		list = []model.ActiveSession{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": list})
}

// Get godoc
// GET /live/:sessionId
func (h *LiveHandler) Get(c *gin.Context) {
	ident, ok := identity(c)
	if !ok {
		return
	}
	s, err := h.svc.Get(c.Request.Context(), ident, c.Param("sessionId"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// Participants godoc
// GET /live/:sessionId/participants
func (h *LiveHandler) Participants(c *gin.Context) {
	ident, ok := identity(c)
	if !ok {
		return
	}
	rows, err := h.svc.Participants(c.Request.Context(), ident, c.Param("sessionId"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"participants": rows})
}

// Messages godoc
// GET /live/:sessionId/messages?limit=
func (h *LiveHandler) Messages(c *gin.Context) {
	ident, ok := identity(c)
	if !ok {
		return
	}
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	rows, err := h.svc.Messages(c.Request.Context(), ident, c.Param("sessionId"), limit)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": rows})
}

// Captions godoc
// GET /live/:sessionId/captions?language=&limit=
func (h *LiveHandler) Captions(c *gin.Context) {
	ident, ok := identity(c)
	if !ok {
		return
	}
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	rows, err := h.svc.Captions(c.Request.Context(), ident, c.Param("sessionId"), c.Query("language"), limit)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"captions": rows})
}

// SubmitCaption godoc
// POST /live/:sessionId/captions
func (h *LiveHandler) SubmitCaption(c *gin.Context) {
	ident, ok := identity(c)
	if !ok {
		return
	}
	var req model.CaptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.svc.SubmitCaption(c.Request.Context(), ident, c.Param("sessionId"), req); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"ok": true})
}

// Recordings godoc
// GET /live/:sessionId/recordings
func (h *LiveHandler) Recordings(c *gin.Context) {
	ident, ok := identity(c)
	if !ok {
		return
	}
	rows, err := h.svc.Recordings(c.Request.Context(), ident, c.Param("sessionId"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recordings": rows})
}

// StartRecording godoc
// POST /live/:sessionId/recording/start
func (h *LiveHandler) StartRecording(c *gin.Context) {
	h.recording(c, h.svc.StartRecording)
}

// StopRecording godoc
// POST /live/:sessionId/recording/stop
func (h *LiveHandler) StopRecording(c *gin.Context) {
	h.recording(c, h.svc.StopRecording)
}

func (h *LiveHandler) recording(c *gin.Context, op func(context.Context, model.Identity, string) (*model.RecordingView, error)) {
	ident, ok := identity(c)
	if !ok {
		return
	}
	rec, err := op(c.Request.Context(), ident, c.Param("sessionId"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// Translation godoc
// POST /live/:sessionId/translation
func (h *LiveHandler) Translation(c *gin.Context) {
	ident, ok := identity(c)
	if !ok {
		return
	}
	var req model.TranslationSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	s, err := h.svc.SetTranslation(c.Request.Context(), ident, c.Param("sessionId"), req)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func queryLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer", "code": "invalid_message"})
		return 0, false
	}
	return n, true
}
