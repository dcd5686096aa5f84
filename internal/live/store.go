package live

import (
	"context"
	"time"

	"github.com/psds-microservice/live-session-service/internal/model"
)

// Store is the durable side of the registry. Rooms call it from their actor goroutine with a
// bounded context; the PostgreSQL implementation lives in internal/repository.
type Store interface {
	Ping(ctx context.Context) error

	// Platform tables (read-only).
	Class(ctx context.Context, classID string) (*model.Class, error)
	IsEnrolled(ctx context.Context, classID, userID string) (bool, error)
	UserName(ctx context.Context, userID string) (string, error)

	// CreateSession inserts the session and the teacher's participant row atomically.
	// A second active session for the class yields errs.ErrActiveSessionExists.
	CreateSession(ctx context.Context, s *model.LiveSession, teacher *model.Participant) error
	Session(ctx context.Context, id string) (*model.LiveSession, error)
	ActiveSessions(ctx context.Context) ([]model.LiveSession, error)
	ActiveSessionsFor(ctx context.Context, ident model.Identity) ([]model.ActiveSession, error)
	// FinishSession moves an active session to a terminal status; a session that is no longer
	// active yields errs.ErrSessionNotActive.
	FinishSession(ctx context.Context, id string, status model.SessionStatus, at time.Time) error
	UpdateSession(ctx context.Context, id string, fields map[string]any) error

	// AdmitParticipant locks the session row, re-checks status and capacity and inserts a
	// present row. An existing present row is returned as is with created == false.
	AdmitParticipant(ctx context.Context, sessionID, userID string, role model.Role, at time.Time) (p *model.Participant, created bool, err error)
	MarkConnected(ctx context.Context, participantID string) error
	CloseParticipant(ctx context.Context, participantID string, at time.Time) error
	CloseAllParticipants(ctx context.Context, sessionID string, at time.Time) (int64, error)
	PresentParticipants(ctx context.Context, sessionID string) ([]model.Participant, error)
	Participants(ctx context.Context, sessionID string) ([]model.Participant, error)
	// CountGuests counts participant rows, present or not, of anyone but the teacher.
	CountGuests(ctx context.Context, sessionID, teacherID string) (int64, error)
	// CloseOrphanParticipants closes present rows of sessions that are no longer active.
	CloseOrphanParticipants(ctx context.Context, at time.Time) (int64, error)

	CreatePeer(ctx context.Context, p *model.PeerLink) error
	// DisconnectPeers marks the user's links disconnected; an empty userID means every link.
	DisconnectPeers(ctx context.Context, sessionID, userID string, at time.Time) error

	CreateMessage(ctx context.Context, m *model.Message) error
	Messages(ctx context.Context, sessionID string, limit int) ([]model.Message, error)
	CreateCaptions(ctx context.Context, cs []model.Caption) error
	Captions(ctx context.Context, sessionID, language string, limit int) ([]model.Caption, error)

	// StartRecording inserts the recording row and flips the session to recording unless a
	// recording is already running or processing (errs.ErrRecordingBusy).
	StartRecording(ctx context.Context, rec *model.Recording) error
	// TransitionRecording moves the recording and its session from one status to another.
	TransitionRecording(ctx context.Context, sessionID, recordingID string, from, to model.RecordingStatus, fields map[string]any) error
	Recording(ctx context.Context, id string) (*model.Recording, error)
	Recordings(ctx context.Context, sessionID string) ([]model.Recording, error)
}
