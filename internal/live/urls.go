package live

import (
	"fmt"
	"strings"

	"github.com/psds-microservice/live-session-service/internal/model"
)

// wsURL returns the WebSocket URL for a session (e.g. wss://host/ws/live/<id>). The token is
// appended by the client.
func wsURL(baseURL, sessionID string) string {
	base := strings.TrimRight(baseURL, "/")
	return fmt.Sprintf("%s/ws/live/%s", base, sessionID)
}

// streamURL returns the media URL of the session room.
func streamURL(baseURL, sessionID string) string {
	if baseURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/live/%s", strings.TrimRight(baseURL, "/"), model.RoomIDFor(sessionID))
}
