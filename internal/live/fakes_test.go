package live

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/psds-microservice/live-session-service/internal/errs"
	"github.com/psds-microservice/live-session-service/internal/model"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memStore is an in-memory Store with the same uniqueness and capacity rules as the
// PostgreSQL store.
type memStore struct {
	mu           sync.Mutex
	classes      map[string]model.Class
	enrolled     map[string]map[string]bool
	names        map[string]string
	sessions     map[string]*model.LiveSession
	participants []*model.Participant
	peers        []*model.PeerLink
	messages     []model.Message
	captions     []model.Caption
	recordings   []*model.Recording
}

func newMemStore() *memStore {
	return &memStore{
		classes:  make(map[string]model.Class),
		enrolled: make(map[string]map[string]bool),
		names:    make(map[string]string),
		sessions: make(map[string]*model.LiveSession),
	}
}

func (s *memStore) addClass(classID, teacherID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.classes[classID] = model.Class{ID: classID, TeacherID: teacherID, Name: "Physics", Subject: "Science"}
	s.enrolled[classID] = make(map[string]bool)
}

func (s *memStore) enroll(classID, userID, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enrolled[classID][userID] = true
	s.names[userID] = name
}

func (s *memStore) Ping(context.Context) error { return nil }

func (s *memStore) Class(_ context.Context, classID string) (*model.Class, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.classes[classID]
	if !ok {
		return nil, errs.ErrClassNotFound
	}
	return &c, nil
}

func (s *memStore) IsEnrolled(_ context.Context, classID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enrolled[classID][userID], nil
}

func (s *memStore) UserName(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.names[userID], nil
}

func (s *memStore) CreateSession(_ context.Context, ls *model.LiveSession, teacher *model.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.sessions {
		if other.ClassID == ls.ClassID && other.Status == string(model.SessionStatusActive) {
			return errs.ErrActiveSessionExists
		}
	}
	cp := *ls
	s.sessions[ls.ID] = &cp
	teacher.SessionID = ls.ID
	p := *teacher
	s.participants = append(s.participants, &p)
	return nil
}

func (s *memStore) Session(_ context.Context, id string) (*model.LiveSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls, ok := s.sessions[id]
	if !ok {
		return nil, errs.ErrSessionNotFound
	}
	cp := *ls
	return &cp, nil
}

func (s *memStore) ActiveSessions(context.Context) ([]model.LiveSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.LiveSession
	for _, ls := range s.sessions {
		if ls.Status == string(model.SessionStatusActive) {
			out = append(out, *ls)
		}
	}
	return out, nil
}

func (s *memStore) ActiveSessionsFor(_ context.Context, ident model.Identity) ([]model.ActiveSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ActiveSession
	for _, ls := range s.sessions {
		if ls.Status != string(model.SessionStatusActive) {
			continue
		}
		switch ident.Role {
		case model.RoleTeacher:
			if ls.TeacherID != ident.UserID {
				continue
			}
		case model.RoleStudent:
			if !s.enrolled[ls.ClassID][ident.UserID] {
				continue
			}
		}
		row := model.ActiveSession{
			ID:              ls.ID,
			Title:           ls.Title,
			ClassName:       s.classes[ls.ClassID].Name,
			StartedAt:       ls.StartedAt,
			MaxParticipants: ls.MaxParticipants,
			Status:          model.SessionStatus(ls.Status),
		}
		for _, p := range s.participants {
			if p.SessionID == ls.ID && p.LeftAt == nil {
				row.ParticipantCount++
				if p.UserID == ident.UserID {
					row.IsJoined = true
				}
			}
		}
		out = append(out, row)
	}
	return out, nil
}

func (s *memStore) FinishSession(_ context.Context, id string, status model.SessionStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls, ok := s.sessions[id]
	if !ok {
		return errs.ErrSessionNotFound
	}
	if ls.Status != string(model.SessionStatusActive) {
		return errs.ErrSessionNotActive
	}
	ls.Status = string(status)
	ls.EndedAt = &at
	return nil
}

func (s *memStore) UpdateSession(_ context.Context, id string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls, ok := s.sessions[id]
	if !ok {
		return errs.ErrSessionNotFound
	}
	for k, v := range fields {
		switch k {
		case "subtitle_enabled":
			ls.SubtitleEnabled = v.(bool)
		case "translation_enabled":
			ls.TranslationEnabled = v.(bool)
		case "available_languages":
			b, _ := json.Marshal(v)
			_ = json.Unmarshal(b, &ls.AvailableLanguages)
		}
	}
	return nil
}

func (s *memStore) AdmitParticipant(_ context.Context, sessionID, userID string, role model.Role, at time.Time) (*model.Participant, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls, ok := s.sessions[sessionID]
	if !ok {
		return nil, false, errs.ErrSessionNotFound
	}
	if ls.Status != string(model.SessionStatusActive) {
		return nil, false, errs.ErrSessionNotActive
	}
	students := 0
	for _, p := range s.participants {
		if p.SessionID != sessionID || p.LeftAt != nil {
			continue
		}
		if p.UserID == userID {
			cp := *p
			return &cp, false, nil
		}
		if p.Role != string(model.RoleTeacher) {
			students++
		}
	}
	if role != model.RoleTeacher && students >= ls.MaxParticipants-1 {
		return nil, false, errs.ErrSessionFull
	}
	p := &model.Participant{
		ID:               uuid.New().String(),
		SessionID:        sessionID,
		UserID:           userID,
		Role:             string(role),
		ConnectionStatus: string(model.ConnectionConnecting),
		JoinedAt:         at,
	}
	s.participants = append(s.participants, p)
	cp := *p
	return &cp, true, nil
}

func (s *memStore) MarkConnected(_ context.Context, participantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.participants {
		if p.ID == participantID && p.LeftAt == nil {
			p.ConnectionStatus = string(model.ConnectionConnected)
		}
	}
	return nil
}

func (s *memStore) CloseParticipant(_ context.Context, participantID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.participants {
		if p.ID == participantID && p.LeftAt == nil {
			p.LeftAt = &at
			p.ConnectionStatus = string(model.ConnectionDisconnected)
		}
	}
	return nil
}

func (s *memStore) CloseAllParticipants(_ context.Context, sessionID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, p := range s.participants {
		if p.SessionID == sessionID && p.LeftAt == nil {
			p.LeftAt = &at
			p.ConnectionStatus = string(model.ConnectionDisconnected)
			n++
		}
	}
	return n, nil
}

func (s *memStore) PresentParticipants(_ context.Context, sessionID string) ([]model.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Participant
	for _, p := range s.participants {
		if p.SessionID == sessionID && p.LeftAt == nil {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *memStore) Participants(_ context.Context, sessionID string) ([]model.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Participant
	for _, p := range s.participants {
		if p.SessionID == sessionID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *memStore) CountGuests(_ context.Context, sessionID, teacherID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, p := range s.participants {
		if p.SessionID == sessionID && p.UserID != teacherID {
			n++
		}
	}
	return n, nil
}

func (s *memStore) CloseOrphanParticipants(_ context.Context, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, p := range s.participants {
		ls := s.sessions[p.SessionID]
		if p.LeftAt == nil && ls != nil && ls.Status != string(model.SessionStatusActive) {
			p.LeftAt = &at
			n++
		}
	}
	return n, nil
}

func (s *memStore) CreatePeer(_ context.Context, p *model.PeerLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.peers = append(s.peers, &cp)
	return nil
}

func (s *memStore) DisconnectPeers(_ context.Context, sessionID, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.peers {
		if p.SessionID == sessionID && (userID == "" || p.UserID == userID) {
			p.ConnectionStatus = string(model.ConnectionDisconnected)
			p.DisconnectedAt = &at
		}
	}
	return nil
}

func (s *memStore) CreateMessage(_ context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, *m)
	return nil
}

func (s *memStore) Messages(_ context.Context, sessionID string, limit int) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Message
	for _, m := range s.messages {
		if m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *memStore) CreateCaptions(_ context.Context, cs []model.Caption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.captions = append(s.captions, cs...)
	return nil
}

func (s *memStore) Captions(_ context.Context, sessionID, language string, limit int) ([]model.Caption, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Caption
	for _, c := range s.captions {
		if c.SessionID == sessionID && (language == "" || c.Language == language) {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime < out[j].StartTime })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) StartRecording(_ context.Context, rec *model.Recording) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls, ok := s.sessions[rec.SessionID]
	if !ok || ls.Status != string(model.SessionStatusActive) || model.RecordingStatus(ls.RecordingStatus).Busy() {
		return errs.ErrRecordingBusy
	}
	ls.RecordingEnabled = true
	ls.RecordingStatus = string(model.RecordingStatusRecording)
	cp := *rec
	s.recordings = append([]*model.Recording{&cp}, s.recordings...)
	return nil
}

func (s *memStore) TransitionRecording(_ context.Context, sessionID, recordingID string, from, to model.RecordingStatus, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.recordings {
		if r.ID != recordingID || r.SessionID != sessionID {
			continue
		}
		if r.ProcessingStatus != string(from) {
			break
		}
		r.ProcessingStatus = string(to)
		if v, ok := fields["file_path"].(string); ok {
			r.FilePath = v
		}
		if v, ok := fields["recording_ended_at"].(time.Time); ok {
			r.RecordingEndedAt = &v
		}
		s.sessions[sessionID].RecordingStatus = string(to)
		return nil
	}
	if from == model.RecordingStatusRecording {
		return errs.ErrNotRecording
	}
	return errs.ErrNotProcessing
}

func (s *memStore) Recording(_ context.Context, id string) (*model.Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.recordings {
		if r.ID == id {
			cp := *r
			return &cp, nil
		}
	}
	return nil, errs.ErrRecordingNotFound
}

func (s *memStore) Recordings(_ context.Context, sessionID string) ([]model.Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Recording
	for _, r := range s.recordings {
		if r.SessionID == sessionID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *memStore) presentCount(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.participants {
		if p.SessionID == sessionID && p.LeftAt == nil {
			n++
		}
	}
	return n
}

func (s *memStore) messagesOf(sessionID string, typ model.MessageType) []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Message
	for _, m := range s.messages {
		if m.SessionID == sessionID && m.MessageType == string(typ) {
			out = append(out, m)
		}
	}
	return out
}

// fakeConn is an in-memory socket. Frames written by the server are kept in order.
type fakeConn struct {
	in     chan frame
	closed chan struct{}
	once   sync.Once

	mu     sync.Mutex
	frames []model.Envelope
}

type frame struct {
	mt   int
	data []byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan frame, 64), closed: make(chan struct{})}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case fr := <-f.in:
		return fr.mt, fr.data, nil
	case <-f.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	select {
	case <-f.closed:
		return errors.New("use of closed connection")
	default:
	}
	var env model.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	f.mu.Lock()
	f.frames = append(f.frames, env)
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) WriteControl(int, []byte, time.Time) error { return nil }
func (f *fakeConn) SetReadLimit(int64)                        {}
func (f *fakeConn) SetReadDeadline(time.Time) error           { return nil }
func (f *fakeConn) SetWriteDeadline(time.Time) error          { return nil }
func (f *fakeConn) SetPongHandler(func(string) error)         {}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// emit sends a client event to the server.
func (f *fakeConn) emit(t *testing.T, event string, data any) {
	t.Helper()
	raw, err := model.NewEnvelope(event, data)
	require.NoError(t, err)
	f.in <- frame{mt: websocket.TextMessage, data: raw}
}

func (f *fakeConn) emitBinary(data []byte) {
	f.in <- frame{mt: websocket.BinaryMessage, data: data}
}

func (f *fakeConn) events(event string) []model.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Envelope
	for _, e := range f.frames {
		if event == "" || e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeConn) waitEvents(t *testing.T, event string, n int) []model.Envelope {
	t.Helper()
	require.Eventually(t, func() bool { return len(f.events(event)) >= n }, 2*time.Second, 5*time.Millisecond,
		"waiting for %d %q events", n, event)
	return f.events(event)
}

func decodeData[T any](t *testing.T, env model.Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

// fakeTranslator fails for the languages listed in fail.
type fakeTranslator struct {
	fail  map[string]bool
	delay map[string]time.Duration
}

func (f *fakeTranslator) Translate(ctx context.Context, text, source, target string) (*model.CaptionTranslation, error) {
	if d := f.delay[target]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fail[target] {
		return nil, errs.ErrUpstreamUnavailable
	}
	return &model.CaptionTranslation{Text: target + ":" + text}, nil
}

type fakeSpeech struct {
	mu        sync.Mutex
	healthErr error
	calls     int
}

func (f *fakeSpeech) Transcribe(_ context.Context, audio []byte, language string, offset float64) (*model.Transcript, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.healthErr != nil {
		return nil, f.healthErr
	}
	return &model.Transcript{Text: string(audio), Language: language, StartTime: offset, EndTime: offset + 1}, nil
}

func (f *fakeSpeech) Health(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthErr
}

type fakeRecorder struct {
	startErr error
	mu       sync.Mutex
	stopped  []string
}

func (f *fakeRecorder) RecordingStarted(context.Context, string, string) error { return f.startErr }

func (f *fakeRecorder) RecordingStopped(_ context.Context, _, recordingID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, recordingID)
	return nil
}

// fixture is one class with a teacher and enrolled students.
type fixture struct {
	reg      *Registry
	store    *memStore
	classID  string
	teacher  model.Identity
	students []model.Identity
}

func newFixture(t *testing.T, students int, opts ...func(*Options)) *fixture {
	t.Helper()
	store := newMemStore()
	f := &fixture{
		store:   store,
		classID: uuid.New().String(),
		teacher: model.Identity{UserID: uuid.New().String(), Role: model.RoleTeacher, Name: "Ms Teacher"},
	}
	store.addClass(f.classID, f.teacher.UserID)
	for i := 0; i < students; i++ {
		id := model.Identity{UserID: uuid.New().String(), Role: model.RoleStudent}
		store.enroll(f.classID, id.UserID, "Student "+string(rune('A'+i)))
		f.students = append(f.students, id)
	}
	o := Options{
		StoreTimeout:  time.Second,
		ReorderWindow: 30 * time.Millisecond,
		PingInterval:  time.Minute,
		WSBaseURL:     "ws://live.test",
		StreamBaseURL: "http://stream.test",
	}
	for _, fn := range opts {
		fn(&o)
	}
	f.reg = NewRegistry(store, o, zap.NewNop())
	t.Cleanup(func() { f.reg.Shutdown(context.Background()) })
	return f
}

func (f *fixture) start(t *testing.T, maxParticipants int) string {
	t.Helper()
	h, err := f.reg.Start(context.Background(), f.teacher, model.StartSessionRequest{
		ClassID:         f.classID,
		Title:           "Waves",
		MaxParticipants: maxParticipants,
	})
	require.NoError(t, err)
	return h.SessionID
}

func (f *fixture) attach(t *testing.T, ident model.Identity, sessionID string) *fakeConn {
	t.Helper()
	conn := newFakeConn()
	c, err := f.reg.Attach(context.Background(), ident, sessionID, conn)
	require.NoError(t, err)
	go c.Serve()
	conn.waitEvents(t, model.EventJoined, 1)
	return conn
}
