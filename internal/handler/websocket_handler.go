package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/psds-microservice/live-session-service/internal/errs"
	"github.com/psds-microservice/live-session-service/internal/live"
	"github.com/psds-microservice/live-session-service/internal/model"
	"go.uber.org/zap"
)

// RoomAttacher admits a caller and binds a socket to the caller's seat (live.Registry).
type RoomAttacher interface {
	Join(ctx context.Context, ident model.Identity, sessionID string) (*model.RoomHandle, error)
	Attach(ctx context.Context, ident model.Identity, sessionID string, conn live.Conn) (*live.Client, error)
}

// LiveWSHandler handles WebSocket connections for /ws/live/:sessionId.
type LiveWSHandler struct {
	rooms    RoomAttacher
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewLiveWSHandler creates the WebSocket handler.
func NewLiveWSHandler(rooms RoomAttacher, readBuffer, writeBuffer int, log *zap.Logger) *LiveWSHandler {
	return &LiveWSHandler{
		rooms: rooms,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  readBuffer,
			WriteBufferSize: writeBuffer,
			// Browsers connect from the web app origin; the token is the access control.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: log,
	}
}

// ServeWS admits the caller, upgrades the request and serves the socket until it closes.
// Admission errors are answered as plain HTTP before the upgrade.
func (h *LiveWSHandler) ServeWS(c *gin.Context) {
	ident, ok := identity(c)
	if !ok {
		return
	}
	sessionID := c.Param("sessionId")
	ctx := c.Request.Context()
	if _, err := h.rooms.Join(ctx, ident, sessionID); err != nil {
		writeError(c, h.log, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	client, err := h.rooms.Attach(ctx, ident, sessionID, conn)
	if err != nil {
		// The session may have ended between join and upgrade.
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, errs.Code(err))
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}
	h.log.Debug("websocket attached",
		zap.String("session_id", sessionID),
		zap.String("user_id", ident.UserID))
	client.Serve()
}
