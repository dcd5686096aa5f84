package model

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/datatypes"
)

// LiveSession: сущность живого занятия (GORM).
type LiveSession struct {
	ID                 string         `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	ClassID            string         `gorm:"type:uuid;not null;index"`
	TeacherID          string         `gorm:"type:uuid;not null;index"`
	Title              string         `gorm:"size:255;not null"`
	Description        string         `gorm:"type:text"`
	MaxParticipants    int            `gorm:"not null;default:50"`
	Status             string         `gorm:"size:20;not null;default:active;index"`
	StreamURL          string         `gorm:"size:500"`
	RecordingEnabled   bool           `gorm:"not null;default:false"`
	RecordingStatus    string         `gorm:"size:20;not null;default:none"`
	TranslationEnabled bool           `gorm:"not null;default:false"`
	SubtitleEnabled    bool           `gorm:"not null;default:false"`
	AvailableLanguages pq.StringArray `gorm:"type:text[];not null"`
	DefaultLanguage    string         `gorm:"size:10;not null;default:en"`
	StartedAt          time.Time      `gorm:"not null"`
	EndedAt            *time.Time     `gorm:"column:ended_at"`
	CreatedAt          time.Time      `gorm:"autoCreateTime"`
	UpdatedAt          time.Time      `gorm:"autoUpdateTime"`
}

func (LiveSession) TableName() string { return "live_sessions" }

// Participant is one presence window of a user in a session. Rows are never deleted.
type Participant struct {
	ID               string     `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	SessionID        string     `gorm:"type:uuid;not null;index"`
	UserID           string     `gorm:"type:uuid;not null;index"`
	Role             string     `gorm:"size:20;not null"`
	ConnectionStatus string     `gorm:"size:20;not null;default:connecting"`
	JoinedAt         time.Time  `gorm:"not null"`
	LeftAt           *time.Time `gorm:"column:left_at"`
}

func (Participant) TableName() string { return "live_session_participants" }

// PeerLink is a WebRTC endpoint registered by a user for signaling.
type PeerLink struct {
	ID               string         `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	SessionID        string         `gorm:"type:uuid;not null;index"`
	UserID           string         `gorm:"type:uuid;not null;index"`
	PeerID           string         `gorm:"size:255;not null"`
	ConnectionType   string         `gorm:"size:20;not null;default:participant"`
	IceServers       datatypes.JSON `gorm:"type:jsonb"`
	ConnectionStatus string         `gorm:"size:20;not null;default:connecting"`
	ConnectedAt      *time.Time
	DisconnectedAt   *time.Time
	CreatedAt        time.Time `gorm:"autoCreateTime"`
}

func (PeerLink) TableName() string { return "live_session_peers" }

// Message is a chat/system/translation/caption line of the session log. Immutable.
type Message struct {
	ID              string    `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	SessionID       string    `gorm:"type:uuid;not null;index"`
	UserID          string    `gorm:"type:uuid;not null"`
	Message         string    `gorm:"type:text;not null"`
	MessageType     string    `gorm:"size:20;not null;default:chat"`
	Language        string    `gorm:"size:10;not null;default:en"`
	IsTranslated    bool      `gorm:"not null;default:false"`
	OriginalMessage *string   `gorm:"type:text"`
	Timestamp       time.Time `gorm:"not null;index"`
}

func (Message) TableName() string { return "live_session_messages" }

// Caption is a timed transcript fragment in one language.
type Caption struct {
	ID              string    `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	SessionID       string    `gorm:"type:uuid;not null;index"`
	SpeakerID       *string   `gorm:"type:uuid"`
	TextContent     string    `gorm:"type:text;not null"`
	Language        string    `gorm:"size:10;not null;default:en"`
	StartTime       float64   `gorm:"type:decimal(10,3);not null"`
	EndTime         float64   `gorm:"type:decimal(10,3)"`
	ConfidenceScore *float64  `gorm:"type:decimal(3,2)"`
	IsAutoGenerated bool      `gorm:"not null;default:true"`
	CreatedAt       time.Time `gorm:"autoCreateTime"`
}

func (Caption) TableName() string { return "live_session_captions" }

// Recording is one recording window of a session.
type Recording struct {
	ID                 string `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	SessionID          string `gorm:"type:uuid;not null;index"`
	FilePath           string `gorm:"size:500;not null;default:''"`
	FileSize           *int64
	DurationSeconds    *int
	RecordingStartedAt time.Time  `gorm:"not null"`
	RecordingEndedAt   *time.Time `gorm:"column:recording_ended_at"`
	ProcessingStatus   string     `gorm:"size:20;not null;default:recording"`
	CreatedAt          time.Time  `gorm:"autoCreateTime"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime"`
}

func (Recording) TableName() string { return "live_session_recordings" }

// Class is the read-only view of the platform's classes table.
type Class struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	TeacherID string `gorm:"type:uuid"`
	Name      string
	Subject   string
}

func (Class) TableName() string { return "classes" }
