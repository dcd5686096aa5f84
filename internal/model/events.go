package model

import "encoding/json"

// Event names of the real-time channel.
const (
	// client -> server
	EventJoin             = "join"
	EventLeave            = "leave"
	EventSignalOffer      = "signal-offer"
	EventSignalAnswer     = "signal-answer"
	EventSignalICE        = "signal-ice"
	EventChatSend         = "chat-send"
	EventStartRecording   = "start-recording"
	EventStopRecording    = "stop-recording"
	EventToggleCaptions   = "toggle-captions"
	EventSharePDF         = "share-pdf"
	EventPDFPageChange    = "pdf-page-change"
	EventScreenShareStart = "screen-share-start"
	EventScreenShareStop  = "screen-share-stop"
	EventRegisterPeer     = "register-peer"

	// server -> client
	EventJoined             = "joined"
	EventRosterUpdate       = "roster-update"
	EventChatMessage        = "chat-message"
	EventCaption            = "caption"
	EventRecordingStatus    = "recording-status"
	EventPDFShared          = "pdf-shared"
	EventPDFPageChanged     = "pdf-page-changed"
	EventScreenShareStarted = "screen-share-started"
	EventScreenShareStopped = "screen-share-stopped"
	EventCaptionsStatus     = "captions-status"
	EventSessionEnded       = "session-ended"
	EventError              = "error"
)

// Envelope frames every text message on the WebSocket.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// SignalRequest is the client payload of signal-offer/answer/ice.
type SignalRequest struct {
	TargetUserID string          `json:"target_user_id" validate:"required"`
	Payload      json.RawMessage `json:"payload" validate:"required"`
}

// SignalRelay is what the target receives.
type SignalRelay struct {
	FromUserID string          `json:"from_user_id"`
	Payload    json.RawMessage `json:"payload"`
}

// ChatSendRequest is the client payload of chat-send.
type ChatSendRequest struct {
	Message     string   `json:"message" validate:"required,max=2000"`
	TranslateTo []string `json:"translate_to" validate:"max=5,dive,min=2,max=10"`
}

// ToggleCaptionsRequest is the client payload of toggle-captions.
type ToggleCaptionsRequest struct {
	Enabled bool `json:"enabled"`
}

// SharePDFRequest is the client payload of share-pdf.
type SharePDFRequest struct {
	URL  string `json:"url" validate:"required,url"`
	Name string `json:"name" validate:"max=255"`
	Page int    `json:"page" validate:"min=0"`
}

// PDFPageChangeRequest is the client payload of pdf-page-change.
type PDFPageChangeRequest struct {
	Page int `json:"page" validate:"min=1"`
}

// RegisterPeerRequest is the client payload of register-peer.
type RegisterPeerRequest struct {
	PeerID         string          `json:"peer_id" validate:"required,max=255"`
	ConnectionType ConnectionType  `json:"connection_type" validate:"required,oneof=broadcaster participant viewer"`
	IceServers     json.RawMessage `json:"ice_servers"`
}

// SharedPDF is the current document shown to the room.
type SharedPDF struct {
	URL      string `json:"url"`
	Name     string `json:"name,omitempty"`
	Page     int    `json:"page"`
	SharedBy string `json:"shared_by"`
}

// JoinedPayload is sent to a socket once it is attached to the room.
type JoinedPayload struct {
	SessionID       string          `json:"session_id"`
	RoomID          string          `json:"room_id"`
	Roster          []RosterEntry   `json:"roster"`
	RecordingStatus RecordingStatus `json:"recording_status"`
	CaptionsEnabled bool            `json:"captions_enabled"`
	SharedPDF       *SharedPDF      `json:"shared_pdf,omitempty"`
}

// ErrorPayload is the data of an error event.
type ErrorPayload struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	Event        string `json:"event,omitempty"`
	TargetUserID string `json:"target_user_id,omitempty"`
}

// RecordingStatusPayload is the data of recording-status.
type RecordingStatusPayload struct {
	Status      RecordingStatus `json:"status"`
	RecordingID string          `json:"recording_id,omitempty"`
}

// NewEnvelope marshals data under event.
func NewEnvelope(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}
