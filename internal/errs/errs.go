package errs

import (
	"errors"
	"fmt"
)

// Kinds of failure. Handlers map these to HTTP codes; domain errors below wrap exactly one of them.
var (
	ErrNotFound            = errors.New("not found")
	ErrForbidden           = errors.New("forbidden")
	ErrInvalidState        = errors.New("invalid state")
	ErrFull                = errors.New("full")
	ErrConflict            = errors.New("conflict")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// Доменные сентинель-ошибки.
var (
	ErrSessionNotFound     = fmt.Errorf("session %w", ErrNotFound)
	ErrParticipantNotFound = fmt.Errorf("participant %w", ErrNotFound)
	ErrRecordingNotFound   = fmt.Errorf("recording %w", ErrNotFound)
	ErrClassNotFound       = fmt.Errorf("class %w", ErrNotFound)
	ErrTargetNotFound      = fmt.Errorf("signal target %w", ErrNotFound)

	ErrNotClassOwner   = fmt.Errorf("%w: only the class teacher may do this", ErrForbidden)
	ErrNotEnrolled     = fmt.Errorf("%w: not enrolled in this class", ErrForbidden)
	ErrTeacherOnly     = fmt.Errorf("%w: teacher only", ErrForbidden)
	ErrNotSessionOwner = fmt.Errorf("%w: not the session owner", ErrForbidden)

	ErrSessionNotActive  = fmt.Errorf("%w: session is not active", ErrInvalidState)
	ErrSessionHadMembers = fmt.Errorf("%w: session already had participants", ErrInvalidState)
	ErrRecordingBusy     = fmt.Errorf("%w: recording already in progress", ErrInvalidState)
	ErrNotRecording      = fmt.Errorf("%w: session is not recording", ErrInvalidState)
	ErrNotProcessing     = fmt.Errorf("%w: recording is not processing", ErrInvalidState)
	ErrNotJoined         = fmt.Errorf("%w: user has not joined the session", ErrInvalidState)

	ErrSessionFull         = fmt.Errorf("session is %w", ErrFull)
	ErrActiveSessionExists = fmt.Errorf("%w: class already has an active session", ErrConflict)
	ErrCaptionsUnavailable = fmt.Errorf("captions: %w", ErrUpstreamUnavailable)
	ErrRateLimited         = errors.New("rate limited")
	ErrInvalidMessage      = errors.New("invalid message")
)

// Code returns a short machine-readable code for err, used in HTTP bodies and WS error events.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrFull):
		return "full"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "upstream_unavailable"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrInvalidMessage):
		return "invalid_message"
	default:
		return "internal"
	}
}
