package model

import "time"

// SessionStatus represents live session state.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusEnded     SessionStatus = "ended"
	SessionStatusCancelled SessionStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusEnded || s == SessionStatusCancelled
}

// RecordingStatus is the per-session recording state machine.
type RecordingStatus string

const (
	RecordingStatusNone       RecordingStatus = "none"
	RecordingStatusRecording  RecordingStatus = "recording"
	RecordingStatusProcessing RecordingStatus = "processing"
	RecordingStatusCompleted  RecordingStatus = "completed"
	RecordingStatusFailed     RecordingStatus = "failed"
)

// Busy reports whether a new recording may not be started.
func (s RecordingStatus) Busy() bool {
	return s == RecordingStatusRecording || s == RecordingStatusProcessing
}

// Role is the participant role inside a session.
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
	// RoleAdmin exists only on identities; admins join as students.
	RoleAdmin Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleTeacher, RoleStudent, RoleAdmin:
		return true
	}
	return false
}

// ConnectionStatus of a participant or peer link.
type ConnectionStatus string

const (
	ConnectionConnecting   ConnectionStatus = "connecting"
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionDisconnected ConnectionStatus = "disconnected"
)

// ConnectionType of a peer link.
type ConnectionType string

const (
	ConnectionBroadcaster ConnectionType = "broadcaster"
	ConnectionParticipant ConnectionType = "participant"
	ConnectionViewer      ConnectionType = "viewer"
)

func (t ConnectionType) Valid() bool {
	switch t {
	case ConnectionBroadcaster, ConnectionParticipant, ConnectionViewer:
		return true
	}
	return false
}

// MessageType of a session log entry.
type MessageType string

const (
	MessageChat        MessageType = "chat"
	MessageSystem      MessageType = "system"
	MessageTranslation MessageType = "translation"
	MessageCaption     MessageType = "caption"
)

// Identity is the authenticated caller, supplied by the auth middleware.
type Identity struct {
	UserID string
	Role   Role
	Name   string
}

// Session is the API view of a live session (not GORM entity).
type Session struct {
	ID                 string          `json:"id"`
	ClassID            string          `json:"class_id"`
	TeacherID          string          `json:"teacher_id"`
	Title              string          `json:"title"`
	Description        string          `json:"description,omitempty"`
	MaxParticipants    int             `json:"max_participants"`
	Status             SessionStatus   `json:"status"`
	StartedAt          time.Time       `json:"started_at"`
	EndedAt            *time.Time      `json:"ended_at,omitempty"`
	RoomID             string          `json:"room_id"`
	StreamURL          string          `json:"stream_url,omitempty"`
	RecordingEnabled   bool            `json:"recording_enabled"`
	RecordingStatus    RecordingStatus `json:"recording_status"`
	TranslationEnabled bool            `json:"translation_enabled"`
	SubtitleEnabled    bool            `json:"subtitle_enabled"`
	AvailableLanguages []string        `json:"available_languages"`
	DefaultLanguage    string          `json:"default_language"`
	ParticipantCount   int             `json:"participant_count"`
}

// RoomHandle is what a successful start or join returns.
type RoomHandle struct {
	SessionID string `json:"session_id"`
	RoomID    string `json:"room_id"`
	StreamURL string `json:"stream_url,omitempty"`
	WSURL     string `json:"ws_url,omitempty"`
}

// RoomIDFor derives the public room handle of a session.
func RoomIDFor(sessionID string) string { return "live-" + sessionID }

// ActiveSession is one row of GET /live/active.
type ActiveSession struct {
	ID               string        `json:"id"`
	Title            string        `json:"title"`
	ClassName        string        `json:"class_name"`
	Subject          string        `json:"subject"`
	TeacherName      string        `json:"teacher_name"`
	StartedAt        time.Time     `json:"started_at"`
	MaxParticipants  int           `json:"max_participants"`
	ParticipantCount int           `json:"participant_count"`
	Status           SessionStatus `json:"status"`
	IsJoined         bool          `json:"is_joined"`
}

// RosterEntry is one present participant in roster-update events.
type RosterEntry struct {
	UserID           string           `json:"user_id"`
	Name             string           `json:"name,omitempty"`
	Role             Role             `json:"role"`
	ConnectionStatus ConnectionStatus `json:"connection_status"`
	JoinedAt         time.Time        `json:"joined_at"`
	ScreenSharing    bool             `json:"screen_sharing,omitempty"`
}

// ParticipantRecord is one attendance row (GET /live/:id/participants).
type ParticipantRecord struct {
	UserID           string           `json:"user_id"`
	Role             Role             `json:"role"`
	ConnectionStatus ConnectionStatus `json:"connection_status"`
	JoinedAt         time.Time        `json:"joined_at"`
	LeftAt           *time.Time       `json:"left_at,omitempty"`
}

// CaptionTranslation is one language of a delivered caption.
type CaptionTranslation struct {
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// CaptionView is the payload of the caption event.
type CaptionView struct {
	ID           string                        `json:"id"`
	SessionID    string                        `json:"session_id"`
	SpeakerID    string                        `json:"speaker_id,omitempty"`
	Text         string                        `json:"text"`
	Language     string                        `json:"language"`
	StartTime    float64                       `json:"start_time"`
	EndTime      float64                       `json:"end_time"`
	Confidence   *float64                      `json:"confidence,omitempty"`
	Translations map[string]CaptionTranslation `json:"translations"`
}

// MessageView is the payload of chat-message events and GET /live/:id/messages.
type MessageView struct {
	ID              string      `json:"id"`
	SessionID       string      `json:"session_id"`
	UserID          string      `json:"user_id"`
	Message         string      `json:"message"`
	MessageType     MessageType `json:"message_type"`
	Language        string      `json:"language"`
	IsTranslated    bool        `json:"is_translated"`
	OriginalMessage *string     `json:"original_message,omitempty"`
	Timestamp       time.Time   `json:"timestamp"`
}

// RecordingView is the API view of a recording.
type RecordingView struct {
	ID              string          `json:"id"`
	SessionID       string          `json:"session_id"`
	Status          RecordingStatus `json:"status"`
	FilePath        string          `json:"file_path,omitempty"`
	FileSize        *int64          `json:"file_size,omitempty"`
	DurationSeconds *int            `json:"duration_seconds,omitempty"`
	StartedAt       time.Time       `json:"started_at"`
	EndedAt         *time.Time      `json:"ended_at,omitempty"`
}

// StartSessionRequest is the request body for POST /live/start.
type StartSessionRequest struct {
	ClassID         string `json:"class_id" binding:"required,uuid"`
	Title           string `json:"title" binding:"required,max=255"`
	Description     string `json:"description"`
	MaxParticipants int    `json:"max_participants" binding:"omitempty,min=1,max=500"`
}

// TranslationSettingsRequest is the request body for POST /live/:id/translation.
type TranslationSettingsRequest struct {
	Enabled   bool     `json:"enabled"`
	Languages []string `json:"languages" binding:"omitempty,dive,min=2,max=10"`
}

// RecordingStatusUpdate is the webhook body reporting the recording artifact outcome.
type RecordingStatusUpdate struct {
	Status          RecordingStatus `json:"status" binding:"required,oneof=completed failed"`
	FilePath        string          `json:"file_path"`
	FileSize        *int64          `json:"file_size"`
	DurationSeconds *int            `json:"duration_seconds"`
}

// ToView converts a stored session.
func (s *LiveSession) ToView() *Session {
	langs := []string(s.AvailableLanguages)
	if len(langs) == 0 {
		langs = []string{"en"}
	}
	return &Session{
		ID:                 s.ID,
		ClassID:            s.ClassID,
		TeacherID:          s.TeacherID,
		Title:              s.Title,
		Description:        s.Description,
		MaxParticipants:    s.MaxParticipants,
		Status:             SessionStatus(s.Status),
		StartedAt:          s.StartedAt,
		EndedAt:            s.EndedAt,
		RoomID:             RoomIDFor(s.ID),
		StreamURL:          s.StreamURL,
		RecordingEnabled:   s.RecordingEnabled,
		RecordingStatus:    RecordingStatus(s.RecordingStatus),
		TranslationEnabled: s.TranslationEnabled,
		SubtitleEnabled:    s.SubtitleEnabled,
		AvailableLanguages: langs,
		DefaultLanguage:    s.DefaultLanguage,
	}
}

// ToView converts a stored message.
func (m *Message) ToView() MessageView {
	return MessageView{
		ID:              m.ID,
		SessionID:       m.SessionID,
		UserID:          m.UserID,
		Message:         m.Message,
		MessageType:     MessageType(m.MessageType),
		Language:        m.Language,
		IsTranslated:    m.IsTranslated,
		OriginalMessage: m.OriginalMessage,
		Timestamp:       m.Timestamp,
	}
}

// ToView converts a stored recording.
func (r *Recording) ToView() RecordingView {
	return RecordingView{
		ID:              r.ID,
		SessionID:       r.SessionID,
		Status:          RecordingStatus(r.ProcessingStatus),
		FilePath:        r.FilePath,
		FileSize:        r.FileSize,
		DurationSeconds: r.DurationSeconds,
		StartedAt:       r.RecordingStartedAt,
		EndedAt:         r.RecordingEndedAt,
	}
}

// Transcript is one recognized fragment of teacher audio. Times are seconds from session start.
type Transcript struct {
	Text       string   `json:"text"`
	Language   string   `json:"language,omitempty"`
	StartTime  float64  `json:"start_time"`
	EndTime    float64  `json:"end_time"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// CaptionRequest is the request body for POST /live/:id/captions (manually typed captions).
type CaptionRequest struct {
	Text      string  `json:"text" binding:"required,max=2000"`
	Language  string  `json:"language" binding:"omitempty,min=2,max=10"`
	StartTime float64 `json:"start_time" binding:"min=0"`
	EndTime   float64 `json:"end_time" binding:"gtefield=StartTime"`
}
