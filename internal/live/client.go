package live

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/psds-microservice/live-session-service/internal/errs"
	"github.com/psds-microservice/live-session-service/internal/model"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

// Conn is the part of *websocket.Conn a client uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Client is one attached socket. Writes go through a buffered channel drained by a single
// writer goroutine; the channel is never closed, done signals shutdown instead.
type Client struct {
	userID string
	room   *Room
	conn   Conn
	log    *zap.Logger

	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(r *Room, userID string, conn Conn) *Client {
	return &Client{
		userID: userID,
		room:   r,
		conn:   conn,
		log:    r.log.With(zap.String("user_id", userID)),
		out:    make(chan []byte, r.reg.opts.SendBuffer),
		done:   make(chan struct{}),
	}
}

// UserID returns the user the socket belongs to.
func (c *Client) UserID() string { return c.userID }

// Serve runs the write loop in a goroutine and the read loop on the caller's goroutine. It
// returns when the socket is closed; the room then treats the user as gone.
func (c *Client) Serve() {
	go c.writePump()
	c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.close()
		c.room.post(func() { c.room.onDisconnect(c) })
	}()
	opts := c.room.reg.opts
	if opts.MaxMessageSize > 0 {
		c.conn.SetReadLimit(opts.MaxMessageSize)
	}
	pongWait := 2 * opts.PingInterval
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("read error", zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if !c.room.post(func() { c.room.dispatch(c, mt, data) }) {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.room.reg.opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg := <-c.out:
			if !c.write(msg) {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-c.done:
			// Flush what the room already queued (e.g. session-ended), then say goodbye.
			for {
				select {
				case msg := <-c.out:
					if !c.write(msg) {
						return
					}
				default:
					_ = c.conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
					return
				}
			}
		}
	}
}

func (c *Client) write(msg []byte) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		c.log.Debug("write error", zap.Error(err))
		return false
	}
	return true
}

// enqueue hands a frame to the writer. A client that cannot keep up is dropped: its socket is
// closed and the read loop reports the disconnect, so the room never skips frames for it.
func (c *Client) enqueue(msg []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.out <- msg:
	default:
		c.log.Warn("send buffer full, dropping client")
		c.close()
		_ = c.conn.Close()
	}
}

func (c *Client) send(event string, data any) {
	msg, err := model.NewEnvelope(event, data)
	if err != nil {
		c.log.Error("marshal event", zap.String("event", event), zap.Error(err))
		return
	}
	c.enqueue(msg)
}

func (c *Client) sendError(err error, event, target string) {
	c.send(model.EventError, model.ErrorPayload{
		Code:         errs.Code(err),
		Message:      err.Error(),
		Event:        event,
		TargetUserID: target,
	})
}

// close stops the writer after it flushes queued frames.
func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}
