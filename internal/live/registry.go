package live

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/psds-microservice/live-session-service/internal/errs"
	"github.com/psds-microservice/live-session-service/internal/model"
	"github.com/psds-microservice/live-session-service/internal/recording"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	maxParticipantsLimit = 500
	defaultHistoryLimit  = 100
	maxHistoryLimit      = 500
)

// Options tunes rooms. Zero values are replaced with defaults.
type Options struct {
	DefaultMaxParticipants int
	StoreTimeout           time.Duration
	ConnectGrace           time.Duration
	ChatRate               rate.Limit
	ChatBurst              int
	SpeechTimeout          time.Duration
	TranslationTimeout     time.Duration
	ReorderWindow          time.Duration
	RecorderTimeout        time.Duration
	SendBuffer             int
	PingInterval           time.Duration
	MaxMessageSize         int64
	StreamBaseURL          string
	WSBaseURL              string
}

func (o Options) withDefaults() Options {
	if o.DefaultMaxParticipants <= 0 {
		o.DefaultMaxParticipants = 50
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = 5 * time.Second
	}
	if o.ConnectGrace <= 0 {
		o.ConnectGrace = 2 * time.Minute
	}
	if o.ChatRate <= 0 {
		o.ChatRate = 5
	}
	if o.ChatBurst <= 0 {
		o.ChatBurst = 10
	}
	if o.SpeechTimeout <= 0 {
		o.SpeechTimeout = 10 * time.Second
	}
	if o.TranslationTimeout <= 0 {
		o.TranslationTimeout = 4 * time.Second
	}
	if o.ReorderWindow < 0 {
		o.ReorderWindow = 0
	}
	if o.RecorderTimeout <= 0 {
		o.RecorderTimeout = 10 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	return o
}

// Registry is the arena of live rooms indexed by session id. It owns session lifecycle and
// routes every per-session operation to the room actor.
type Registry struct {
	store    Store
	opts     Options
	log      *zap.Logger
	validate *validator.Validate

	speech     Transcriber
	translator Translator
	recorder   recording.Notifier

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewRegistry creates an empty registry. Call Recover on boot to load active sessions.
func NewRegistry(store Store, opts Options, log *zap.Logger) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		store:    store,
		opts:     opts.withDefaults(),
		log:      log,
		validate: validator.New(),
		ctx:      ctx,
		cancel:   cancel,
		rooms:    make(map[string]*Room),
	}
}

// SetSpeech sets the speech-to-text adapter (optional: captions from audio are off without it).
func (g *Registry) SetSpeech(t Transcriber) { g.speech = t }

// SetTranslator sets the translation adapter (optional).
func (g *Registry) SetTranslator(t Translator) { g.translator = t }

// SetRecorder sets the external recorder notifier (optional).
func (g *Registry) SetRecorder(n recording.Notifier) { g.recorder = n }

func (g *Registry) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, g.opts.StoreTimeout)
}

// Start creates a session for a class the caller teaches and admits the teacher.
func (g *Registry) Start(ctx context.Context, ident model.Identity, req model.StartSessionRequest) (*model.RoomHandle, error) {
	maxParticipants := req.MaxParticipants
	if maxParticipants == 0 {
		maxParticipants = g.opts.DefaultMaxParticipants
	}
	if maxParticipants < 1 || maxParticipants > maxParticipantsLimit {
		return nil, fmt.Errorf("%w: max_participants must be between 1 and %d", errs.ErrInvalidMessage, maxParticipantsLimit)
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", errs.ErrInvalidMessage)
	}
	if _, err := uuid.Parse(req.ClassID); err != nil {
		return nil, errs.ErrClassNotFound
	}

	sctx, cancel := g.storeCtx(ctx)
	defer cancel()
	class, err := g.store.Class(sctx, req.ClassID)
	if err != nil {
		return nil, err
	}
	if class.TeacherID != ident.UserID {
		return nil, errs.ErrNotClassOwner
	}
	if g.roomForClass(class.ID) != nil {
		return nil, errs.ErrActiveSessionExists
	}

	now := time.Now().UTC()
	id := uuid.New().String()
	ls := &model.LiveSession{
		ID:                 id,
		ClassID:            class.ID,
		TeacherID:          ident.UserID,
		Title:              title,
		Description:        strings.TrimSpace(req.Description),
		MaxParticipants:    maxParticipants,
		Status:             string(model.SessionStatusActive),
		StreamURL:          streamURL(g.opts.StreamBaseURL, id),
		RecordingStatus:    string(model.RecordingStatusNone),
		AvailableLanguages: pq.StringArray{"en"},
		DefaultLanguage:    "en",
		StartedAt:          now,
	}
	teacher := &model.Participant{
		ID:               uuid.New().String(),
		UserID:           ident.UserID,
		Role:             string(model.RoleTeacher),
		ConnectionStatus: string(model.ConnectionConnecting),
		JoinedAt:         now,
	}
	if err := g.store.CreateSession(sctx, ls, teacher); err != nil {
		return nil, err
	}
	name := g.displayName(sctx, ident)

	r := g.open(ls, nil)
	var handle *model.RoomHandle
	err = r.do(ctx, func() error {
		r.addMember(teacher, name, true)
		handle = r.handle()
		return nil
	})
	if err != nil {
		return nil, err
	}
	g.log.Info("live session started",
		zap.String("session_id", id),
		zap.String("class_id", class.ID),
		zap.String("user_id", ident.UserID),
		zap.Int("max_participants", maxParticipants))
	return handle, nil
}

// Join admits the caller to an active session. Joining twice returns the same room handle.
func (g *Registry) Join(ctx context.Context, ident model.Identity, sessionID string) (*model.RoomHandle, error) {
	r, err := g.room(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return r.join(ctx, ident, g.displayName)
}

// Leave removes the caller from the session.
func (g *Registry) Leave(ctx context.Context, ident model.Identity, sessionID string) error {
	r, err := g.room(ctx, sessionID)
	if err != nil {
		return err
	}
	return r.do(ctx, func() error {
		return r.removeMember(ident.UserID)
	})
}

// End ends an active session: recording stops, members get a system notice and are disconnected.
func (g *Registry) End(ctx context.Context, ident model.Identity, sessionID string) error {
	r, err := g.room(ctx, sessionID)
	if err != nil {
		return err
	}
	return r.do(ctx, func() error {
		return r.finish(ident, model.SessionStatusEnded)
	})
}

// Cancel cancels a session nobody but its teacher ever joined.
func (g *Registry) Cancel(ctx context.Context, ident model.Identity, sessionID string) error {
	r, err := g.room(ctx, sessionID)
	if err != nil {
		return err
	}
	return r.do(ctx, func() error {
		return r.finish(ident, model.SessionStatusCancelled)
	})
}

// ListActive lists active sessions visible to the caller with live participant counts.
func (g *Registry) ListActive(ctx context.Context, ident model.Identity) ([]model.ActiveSession, error) {
	sctx, cancel := g.storeCtx(ctx)
	defer cancel()
	list, err := g.store.ActiveSessionsFor(sctx, ident)
	if err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	for i := range list {
		if r, ok := g.rooms[list[i].ID]; ok {
			list[i].ParticipantCount = int(r.present.Load())
		}
	}
	return list, nil
}

// Get returns session detail to its members.
func (g *Registry) Get(ctx context.Context, ident model.Identity, sessionID string) (*model.Session, error) {
	ls, err := g.visibleSession(ctx, ident, sessionID)
	if err != nil {
		return nil, err
	}
	view := ls.ToView()
	if r := g.loaded(sessionID); r != nil {
		view.ParticipantCount = int(r.present.Load())
		return view, nil
	}
	sctx, cancel := g.storeCtx(ctx)
	defer cancel()
	present, err := g.store.PresentParticipants(sctx, sessionID)
	if err != nil {
		return nil, err
	}
	view.ParticipantCount = len(present)
	return view, nil
}

// Participants returns the attendance history; owning teacher or admin only.
func (g *Registry) Participants(ctx context.Context, ident model.Identity, sessionID string) ([]model.ParticipantRecord, error) {
	ls, err := g.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !canManage(ident, ls) {
		return nil, errs.ErrTeacherOnly
	}
	sctx, cancel := g.storeCtx(ctx)
	defer cancel()
	rows, err := g.store.Participants(sctx, sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]model.ParticipantRecord, 0, len(rows))
	for _, p := range rows {
		out = append(out, model.ParticipantRecord{
			UserID:           p.UserID,
			Role:             model.Role(p.Role),
			ConnectionStatus: model.ConnectionStatus(p.ConnectionStatus),
			JoinedAt:         p.JoinedAt,
			LeftAt:           p.LeftAt,
		})
	}
	return out, nil
}

// Messages returns the latest chat/system log of the session.
func (g *Registry) Messages(ctx context.Context, ident model.Identity, sessionID string, limit int) ([]model.MessageView, error) {
	if _, err := g.visibleSession(ctx, ident, sessionID); err != nil {
		return nil, err
	}
	sctx, cancel := g.storeCtx(ctx)
	defer cancel()
	rows, err := g.store.Messages(sctx, sessionID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	out := make([]model.MessageView, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].ToView())
	}
	return out, nil
}

// Captions returns stored captions ordered by start time, optionally in one language.
func (g *Registry) Captions(ctx context.Context, ident model.Identity, sessionID, language string, limit int) ([]model.CaptionView, error) {
	if _, err := g.visibleSession(ctx, ident, sessionID); err != nil {
		return nil, err
	}
	sctx, cancel := g.storeCtx(ctx)
	defer cancel()
	rows, err := g.store.Captions(sctx, sessionID, language, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	out := make([]model.CaptionView, 0, len(rows))
	for i := range rows {
		out = append(out, captionRowView(&rows[i]))
	}
	return out, nil
}

// Recordings lists recordings of the session.
func (g *Registry) Recordings(ctx context.Context, ident model.Identity, sessionID string) ([]model.RecordingView, error) {
	if _, err := g.visibleSession(ctx, ident, sessionID); err != nil {
		return nil, err
	}
	sctx, cancel := g.storeCtx(ctx)
	defer cancel()
	rows, err := g.store.Recordings(sctx, sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]model.RecordingView, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].ToView())
	}
	return out, nil
}

// StartRecording starts recording the session (owning teacher only).
func (g *Registry) StartRecording(ctx context.Context, ident model.Identity, sessionID string) (*model.RecordingView, error) {
	r, err := g.room(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var view *model.RecordingView
	err = r.do(ctx, func() error {
		v, err := r.startRecording(ident.UserID)
		view = v
		return err
	})
	return view, err
}

// StopRecording stops the running recording; it moves to processing.
func (g *Registry) StopRecording(ctx context.Context, ident model.Identity, sessionID string) (*model.RecordingView, error) {
	r, err := g.room(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var view *model.RecordingView
	err = r.do(ctx, func() error {
		v, err := r.stopRecording(ident.UserID)
		view = v
		return err
	})
	return view, err
}

// CompleteRecording applies the recorder's final status. Accepted only while processing.
func (g *Registry) CompleteRecording(ctx context.Context, recordingID string, upd model.RecordingStatusUpdate) (*model.RecordingView, error) {
	if _, err := uuid.Parse(recordingID); err != nil {
		return nil, errs.ErrRecordingNotFound
	}
	if upd.Status != model.RecordingStatusCompleted && upd.Status != model.RecordingStatusFailed {
		return nil, fmt.Errorf("%w: status must be completed or failed", errs.ErrInvalidMessage)
	}
	sctx, cancel := g.storeCtx(ctx)
	defer cancel()
	rec, err := g.store.Recording(sctx, recordingID)
	if err != nil {
		return nil, err
	}
	if r := g.loaded(rec.SessionID); r != nil {
		var view *model.RecordingView
		err := r.do(ctx, func() error {
			v, err := r.completeRecording(rec, upd)
			view = v
			return err
		})
		if !errors.Is(err, errs.ErrSessionNotActive) {
			return view, err
		}
	}
	// The session is gone from memory (ended): update the store only.
	fields := recordingResultFields(upd)
	if err := g.store.TransitionRecording(sctx, rec.SessionID, rec.ID, model.RecordingStatusProcessing, upd.Status, fields); err != nil {
		return nil, err
	}
	rec, err = g.store.Recording(sctx, recordingID)
	if err != nil {
		return nil, err
	}
	view := rec.ToView()
	return &view, nil
}

// SetTranslation updates caption translation settings (owning teacher only).
func (g *Registry) SetTranslation(ctx context.Context, ident model.Identity, sessionID string, req model.TranslationSettingsRequest) (*model.Session, error) {
	r, err := g.room(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var view *model.Session
	err = r.do(ctx, func() error {
		v, err := r.setTranslation(ident.UserID, req)
		view = v
		return err
	})
	return view, err
}

// SubmitCaption accepts a caption typed by the teacher; it follows the speech path.
func (g *Registry) SubmitCaption(ctx context.Context, ident model.Identity, sessionID string, req model.CaptionRequest) error {
	r, err := g.room(ctx, sessionID)
	if err != nil {
		return err
	}
	return r.do(ctx, func() error {
		if !r.isOwner(ident.UserID) {
			return errs.ErrTeacherOnly
		}
		r.acceptTranscript(model.Transcript{
			Text:      req.Text,
			Language:  req.Language,
			StartTime: req.StartTime,
			EndTime:   req.EndTime,
		}, ident.UserID, false)
		return nil
	})
}

// Attach admits the caller (idempotent) and binds conn to the caller's seat. The returned client
// must be served by the caller (Client.Serve) until the socket closes.
func (g *Registry) Attach(ctx context.Context, ident model.Identity, sessionID string, conn Conn) (*Client, error) {
	r, err := g.room(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if _, err := r.join(ctx, ident, g.displayName); err != nil {
		return nil, err
	}
	var c *Client
	err = r.do(ctx, func() error {
		cl, err := r.attach(ident.UserID, conn)
		c = cl
		return err
	})
	return c, err
}

// Recover loads all active sessions from the store. Rosters come back without sockets.
func (g *Registry) Recover(ctx context.Context) (int, error) {
	sctx, cancel := g.storeCtx(ctx)
	defer cancel()
	sessions, err := g.store.ActiveSessions(sctx)
	if err != nil {
		return 0, err
	}
	for i := range sessions {
		if _, err := g.load(ctx, &sessions[i]); err != nil {
			g.log.Warn("recover session failed", zap.String("session_id", sessions[i].ID), zap.Error(err))
		}
	}
	return len(sessions), nil
}

// SweepStale removes participants still connecting after the grace period and closes rows left
// present in sessions that are no longer active.
func (g *Registry) SweepStale(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-g.opts.ConnectGrace)
	removed := 0
	for _, r := range g.snapshot() {
		r := r
		var n int
		err := r.do(ctx, func() error {
			n = r.sweepStale(cutoff)
			return nil
		})
		if err != nil && !errors.Is(err, errs.ErrSessionNotActive) {
			return removed, err
		}
		removed += n
	}
	sctx, cancel := g.storeCtx(ctx)
	defer cancel()
	orphans, err := g.store.CloseOrphanParticipants(sctx, time.Now().UTC())
	if err != nil {
		return removed, err
	}
	return removed + int(orphans), nil
}

// Ready pings the store.
func (g *Registry) Ready(ctx context.Context) error {
	sctx, cancel := g.storeCtx(ctx)
	defer cancel()
	return g.store.Ping(sctx)
}

// RoomCount returns the number of loaded rooms.
func (g *Registry) RoomCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms)
}

// Shutdown closes every socket and stops every room. Sessions stay active in the store and are
// recovered on the next boot.
func (g *Registry) Shutdown(ctx context.Context) {
	for _, r := range g.snapshot() {
		r := r
		_ = r.do(ctx, func() error {
			r.shutdown()
			return nil
		})
	}
	g.cancel()
}

func (g *Registry) room(ctx context.Context, sessionID string) (*Room, error) {
	if r := g.loaded(sessionID); r != nil {
		return r, nil
	}
	ls, err := g.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return g.load(ctx, ls)
}

// load opens a room for a stored active session that is not in memory (boot, or a session
// started by another instance).
func (g *Registry) load(ctx context.Context, ls *model.LiveSession) (*Room, error) {
	if model.SessionStatus(ls.Status) != model.SessionStatusActive {
		return nil, errs.ErrSessionNotActive
	}
	sctx, cancel := g.storeCtx(ctx)
	defer cancel()
	present, err := g.store.PresentParticipants(sctx, ls.ID)
	if err != nil {
		return nil, err
	}
	var current *model.Recording
	if model.RecordingStatus(ls.RecordingStatus).Busy() {
		recs, err := g.store.Recordings(sctx, ls.ID)
		if err != nil {
			return nil, err
		}
		if len(recs) > 0 {
			current = &recs[0]
		}
	}
	names := make(map[string]string, len(present))
	for _, p := range present {
		names[p.UserID] = g.displayName(sctx, model.Identity{UserID: p.UserID, Role: model.Role(p.Role)})
	}
	r := g.open(ls, current)
	if len(present) > 0 {
		_ = r.do(ctx, func() error {
			r.restoreMembers(present, names)
			return nil
		})
	}
	return r, nil
}

func (g *Registry) open(ls *model.LiveSession, current *model.Recording) *Room {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.rooms[ls.ID]; ok {
		return r
	}
	r := newRoom(g, ls, current)
	g.rooms[ls.ID] = r
	go r.run()
	return r
}

func (g *Registry) remove(sessionID string) {
	g.mu.Lock()
	delete(g.rooms, sessionID)
	g.mu.Unlock()
}

func (g *Registry) loaded(sessionID string) *Room {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.rooms[sessionID]
}

func (g *Registry) snapshot() []*Room {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		out = append(out, r)
	}
	return out
}

func (g *Registry) roomForClass(classID string) *Room {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, r := range g.rooms {
		if r.classID == classID {
			return r
		}
	}
	return nil
}

func (g *Registry) session(ctx context.Context, sessionID string) (*model.LiveSession, error) {
	if _, err := uuid.Parse(sessionID); err != nil {
		return nil, errs.ErrSessionNotFound
	}
	sctx, cancel := g.storeCtx(ctx)
	defer cancel()
	return g.store.Session(sctx, sessionID)
}

// visibleSession loads the session and checks that the caller is a member of its class.
func (g *Registry) visibleSession(ctx context.Context, ident model.Identity, sessionID string) (*model.LiveSession, error) {
	ls, err := g.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if canManage(ident, ls) {
		return ls, nil
	}
	sctx, cancel := g.storeCtx(ctx)
	defer cancel()
	ok, err := g.store.IsEnrolled(sctx, ls.ClassID, ident.UserID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.ErrNotEnrolled
	}
	return ls, nil
}

func (g *Registry) displayName(ctx context.Context, ident model.Identity) string {
	if ident.Name != "" {
		return ident.Name
	}
	if name, err := g.store.UserName(ctx, ident.UserID); err == nil && name != "" {
		return name
	}
	if ident.Role == model.RoleTeacher {
		return "Teacher"
	}
	return "Student " + shortID(ident.UserID)
}

func canManage(ident model.Identity, ls *model.LiveSession) bool {
	return ident.Role == model.RoleAdmin || ident.UserID == ls.TeacherID
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
