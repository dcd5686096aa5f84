package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/psds-microservice/live-session-service/internal/errs"
	"github.com/psds-microservice/live-session-service/internal/live"
	"github.com/psds-microservice/live-session-service/internal/middleware"
	"github.com/psds-microservice/live-session-service/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "handler-secret"

// fakeLive records the last call and returns err for every operation.
type fakeLive struct {
	err       error
	attachErr error
	lastID    string
	lastIdent model.Identity
	lastLimit int
	lastLang  string
	lastStart model.StartSessionRequest
	lastUpd   model.RecordingStatusUpdate
}

func (f *fakeLive) handle(id string) *model.RoomHandle {
	return &model.RoomHandle{SessionID: id, RoomID: model.RoomIDFor(id), WSURL: "ws://x/ws/live/" + id}
}

func (f *fakeLive) Start(_ context.Context, ident model.Identity, req model.StartSessionRequest) (*model.RoomHandle, error) {
	f.lastIdent, f.lastStart = ident, req
	if f.err != nil {
		return nil, f.err
	}
	return f.handle("s1"), nil
}

func (f *fakeLive) Join(_ context.Context, ident model.Identity, id string) (*model.RoomHandle, error) {
	f.lastIdent, f.lastID = ident, id
	if f.err != nil {
		return nil, f.err
	}
	return f.handle(id), nil
}

func (f *fakeLive) Leave(_ context.Context, _ model.Identity, id string) error {
	f.lastID = id
	return f.err
}

func (f *fakeLive) End(_ context.Context, _ model.Identity, id string) error {
	f.lastID = id
	return f.err
}

func (f *fakeLive) Cancel(_ context.Context, _ model.Identity, id string) error {
	f.lastID = id
	return f.err
}

func (f *fakeLive) ListActive(context.Context, model.Identity) ([]model.ActiveSession, error) {
	return nil, f.err
}

func (f *fakeLive) Get(_ context.Context, _ model.Identity, id string) (*model.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &model.Session{ID: id, Status: model.SessionStatusActive}, nil
}

func (f *fakeLive) Participants(context.Context, model.Identity, string) ([]model.ParticipantRecord, error) {
	return []model.ParticipantRecord{{UserID: "u1", Role: model.RoleTeacher}}, f.err
}

func (f *fakeLive) Messages(_ context.Context, _ model.Identity, _ string, limit int) ([]model.MessageView, error) {
	f.lastLimit = limit
	return []model.MessageView{}, f.err
}

func (f *fakeLive) Captions(_ context.Context, _ model.Identity, _ string, language string, limit int) ([]model.CaptionView, error) {
	f.lastLang, f.lastLimit = language, limit
	return []model.CaptionView{}, f.err
}

func (f *fakeLive) Recordings(context.Context, model.Identity, string) ([]model.RecordingView, error) {
	return []model.RecordingView{}, f.err
}

func (f *fakeLive) StartRecording(_ context.Context, _ model.Identity, id string) (*model.RecordingView, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &model.RecordingView{ID: "r1", SessionID: id, Status: model.RecordingStatusRecording}, nil
}

func (f *fakeLive) StopRecording(_ context.Context, _ model.Identity, id string) (*model.RecordingView, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &model.RecordingView{ID: "r1", SessionID: id, Status: model.RecordingStatusProcessing}, nil
}

func (f *fakeLive) SetTranslation(_ context.Context, _ model.Identity, id string, req model.TranslationSettingsRequest) (*model.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &model.Session{ID: id, TranslationEnabled: req.Enabled, AvailableLanguages: req.Languages}, nil
}

func (f *fakeLive) SubmitCaption(context.Context, model.Identity, string, model.CaptionRequest) error {
	return f.err
}

func (f *fakeLive) CompleteRecording(_ context.Context, id string, upd model.RecordingStatusUpdate) (*model.RecordingView, error) {
	f.lastID, f.lastUpd = id, upd
	if f.err != nil {
		return nil, f.err
	}
	return &model.RecordingView{ID: id, SessionID: "s1", Status: upd.Status}, nil
}

func (f *fakeLive) Attach(context.Context, model.Identity, string, live.Conn) (*live.Client, error) {
	return nil, f.attachErr
}

func newTestEngine(f *fakeLive) *gin.Engine {
	gin.SetMode(gin.TestMode)
	log := zap.NewNop()
	h := NewLiveHandler(f, log)
	rec := NewRecordingHandler(f, "hook-secret", log)
	ws := NewLiveWSHandler(f, 1024, 1024, log)

	r := gin.New()
	r.POST("/live/recordings/:recordingId/status", rec.Status)
	r.GET("/ws/live/:sessionId", middleware.Auth(testSecret), ws.ServeWS)
	g := r.Group("/live", middleware.Auth(testSecret))
	g.POST("/start", h.Start)
	g.POST("/join/:sessionId", h.Join)
	g.POST("/leave/:sessionId", h.Leave)
	g.POST("/end/:sessionId", h.End)
	g.GET("/active", h.Active)
	g.GET("/:sessionId", h.Get)
	g.GET("/:sessionId/participants", h.Participants)
	g.GET("/:sessionId/messages", h.Messages)
	g.GET("/:sessionId/captions", h.Captions)
	g.POST("/:sessionId/captions", h.SubmitCaption)
	g.POST("/:sessionId/recording/start", h.StartRecording)
	g.POST("/:sessionId/translation", h.Translation)
	return r
}

func token(t *testing.T, role model.Role) (string, string) {
	t.Helper()
	id := uuid.New().String()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": id, "role": string(role), "exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return tok, id
}

func do(t *testing.T, r http.Handler, method, path, tok, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestStart(t *testing.T) {
	f := &fakeLive{}
	r := newTestEngine(f)
	tok, userID := token(t, model.RoleTeacher)
	classID := uuid.New().String()

	w := do(t, r, http.MethodPost, "/live/start", tok, `{"class_id":"`+classID+`","title":"Waves","max_participants":10}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var h model.RoomHandle
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &h))
	assert.Equal(t, "live-s1", h.RoomID)
	assert.Equal(t, userID, f.lastIdent.UserID)
	assert.Equal(t, 10, f.lastStart.MaxParticipants)

	w = do(t, r, http.MethodPost, "/live/start", tok, `{"class_id":"nope","title":"Waves"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPost, "/live/start", "", `{}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{errs.ErrSessionNotFound, http.StatusNotFound, "not_found"},
		{errs.ErrNotEnrolled, http.StatusForbidden, "forbidden"},
		{errs.ErrSessionNotActive, http.StatusConflict, "invalid_state"},
		{errs.ErrSessionFull, http.StatusConflict, "full"},
		{errs.ErrActiveSessionExists, http.StatusConflict, "conflict"},
		{errs.ErrCaptionsUnavailable, http.StatusServiceUnavailable, "upstream_unavailable"},
		{errs.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
		{context.DeadlineExceeded, http.StatusInternalServerError, "internal"},
	}
	tok, _ := token(t, model.RoleStudent)
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			r := newTestEngine(&fakeLive{err: tt.err})
			w := do(t, r, http.MethodPost, "/live/join/"+uuid.New().String(), tok, "")
			assert.Equal(t, tt.status, w.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body["code"])
			if tt.status == http.StatusInternalServerError {
				assert.Equal(t, "internal error", body["error"])
			}
		})
	}
}

func TestSimpleOperations(t *testing.T) {
	f := &fakeLive{}
	r := newTestEngine(f)
	tok, _ := token(t, model.RoleTeacher)
	id := uuid.New().String()

	for _, path := range []string{"/live/leave/" + id, "/live/end/" + id} {
		w := do(t, r, http.MethodPost, path, tok, "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"ok":true}`, w.Body.String())
		assert.Equal(t, id, f.lastID)
	}

	w := do(t, r, http.MethodGet, "/live/active", tok, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"sessions":[]}`, w.Body.String())

	w = do(t, r, http.MethodGet, "/live/"+id, tok, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, http.MethodGet, "/live/"+id+"/participants", tok, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"participants"`)
}

func TestHistoryQueries(t *testing.T) {
	f := &fakeLive{}
	r := newTestEngine(f)
	tok, _ := token(t, model.RoleStudent)
	id := uuid.New().String()

	w := do(t, r, http.MethodGet, "/live/"+id+"/messages?limit=20", tok, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 20, f.lastLimit)

	w = do(t, r, http.MethodGet, "/live/"+id+"/captions?language=es", tok, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "es", f.lastLang)
	assert.Equal(t, 0, f.lastLimit)

	w = do(t, r, http.MethodGet, "/live/"+id+"/messages?limit=abc", tok, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecordingAndTranslation(t *testing.T) {
	f := &fakeLive{}
	r := newTestEngine(f)
	tok, _ := token(t, model.RoleTeacher)
	id := uuid.New().String()

	w := do(t, r, http.MethodPost, "/live/"+id+"/recording/start", tok, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"recording"`)

	w = do(t, r, http.MethodPost, "/live/"+id+"/translation", tok, `{"enabled":true,"languages":["es","fr"]}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"translation_enabled":true`)

	w = do(t, r, http.MethodPost, "/live/"+id+"/translation", tok, `{"enabled":true,"languages":["x"]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPost, "/live/"+id+"/captions", tok, `{"text":"hello","start_time":1.5,"end_time":2}`)
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = do(t, r, http.MethodPost, "/live/"+id+"/captions", tok, `{"text":"hello","start_time":3,"end_time":2}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecordingWebhook(t *testing.T) {
	f := &fakeLive{}
	r := newTestEngine(f)
	recID := uuid.New().String()
	path := "/live/recordings/" + recID + "/status"

	send := func(secret, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if secret != "" {
			req.Header.Set(RecordingSecretHeader, secret)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusUnauthorized, send("", `{"status":"completed"}`).Code)
	assert.Equal(t, http.StatusUnauthorized, send("wrong", `{"status":"completed"}`).Code)
	assert.Equal(t, http.StatusBadRequest, send("hook-secret", `{"status":"processing"}`).Code)

	w := send("hook-secret", `{"status":"completed","file_path":"r.mp4","file_size":1024}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, recID, f.lastID)
	assert.Equal(t, "r.mp4", f.lastUpd.FilePath)
	require.NotNil(t, f.lastUpd.FileSize)
	assert.Equal(t, int64(1024), *f.lastUpd.FileSize)

	f.err = errs.ErrNotProcessing
	assert.Equal(t, http.StatusConflict, send("hook-secret", `{"status":"failed"}`).Code)
}

func TestServeWS_RejectsBeforeUpgrade(t *testing.T) {
	f := &fakeLive{err: errs.ErrSessionNotActive}
	srv := httptest.NewServer(newTestEngine(f))
	defer srv.Close()
	tok, _ := token(t, model.RoleStudent)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/live/" + uuid.New().String()
	_, resp, err := websocket.DefaultDialer.Dial(url+"?token="+tok, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServeWS_AttachFailureClosesSocket(t *testing.T) {
	f := &fakeLive{attachErr: errs.ErrSessionNotActive}
	srv := httptest.NewServer(newTestEngine(f))
	defer srv.Close()
	tok, _ := token(t, model.RoleStudent)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/live/" + uuid.New().String() + "?token=" + tok
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
	assert.Equal(t, "invalid_state", closeErr.Text)
}

type fakePinger struct{ err error }

func (p fakePinger) Ready(context.Context) error  { return p.err }
func (p fakePinger) Health(context.Context) error { return p.err }

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	build := func(db, upstream error) *gin.Engine {
		h := NewHealthHandler(fakePinger{err: db}, map[string]HealthChecker{"speech": fakePinger{err: upstream}})
		r := gin.New()
		r.GET("/health", h.Health)
		r.GET("/ready", h.Ready)
		return r
	}

	w := do(t, build(nil, nil), http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, build(nil, errs.ErrUpstreamUnavailable), http.MethodGet, "/ready", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"speech":"unavailable"`)

	w = do(t, build(errs.ErrUpstreamUnavailable, nil), http.MethodGet, "/ready", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
