package live

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/psds-microservice/live-session-service/internal/errs"
	"github.com/psds-microservice/live-session-service/internal/model"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const roomQueueSize = 256

// Room is the actor of one live session. Every mutation of its state runs on the run goroutine,
// in the order commands were queued. Other goroutines talk to it only through do and post.
type Room struct {
	id      string
	classID string
	reg     *Registry
	log     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	cmds   chan func()
	done   chan struct{}

	// present is the roster size, readable without entering the actor.
	present atomic.Int64

	// Actor-owned state.
	sess         model.LiveSession
	members      map[string]*member
	pdf          *model.SharedPDF
	recording    *model.Recording
	captions     *captionBuffer
	captionTimer *time.Timer
	speechDown   bool
}

type member struct {
	participantID string
	userID        string
	name          string
	role          model.Role
	status        model.ConnectionStatus
	joinedAt      time.Time
	// pendingSince is when the seat started waiting for a socket; used by the stale sweep.
	pendingSince time.Time
	client       *Client
	sharing      bool
	limiter      *rate.Limiter
}

func newRoom(reg *Registry, ls *model.LiveSession, current *model.Recording) *Room {
	ctx, cancel := context.WithCancel(reg.ctx)
	return &Room{
		id:        ls.ID,
		classID:   ls.ClassID,
		reg:       reg,
		log:       reg.log.With(zap.String("session_id", ls.ID)),
		ctx:       ctx,
		cancel:    cancel,
		cmds:      make(chan func(), roomQueueSize),
		done:      make(chan struct{}),
		sess:      *ls,
		members:   make(map[string]*member),
		recording: current,
		captions:  newCaptionBuffer(),
	}
}

func (r *Room) run() {
	defer close(r.done)
	for {
		select {
		case fn := <-r.cmds:
			if r.ctx.Err() != nil {
				return
			}
			r.exec(fn)
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *Room) exec(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("room command panicked", zap.Any("panic", rec))
		}
	}()
	fn()
}

// do runs fn on the actor and waits for its result.
func (r *Room) do(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	select {
	case r.cmds <- func() { errc <- fn() }:
	case <-r.ctx.Done():
		return errs.ErrSessionNotActive
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-errc:
		return err
	case <-r.done:
		select {
		case err := <-errc:
			return err
		default:
			return errs.ErrSessionNotActive
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post queues fn without waiting. It reports false once the room is closed. Never call it from
// the actor goroutine itself.
func (r *Room) post(fn func()) bool {
	select {
	case r.cmds <- fn:
		return true
	case <-r.ctx.Done():
		return false
	}
}

func (r *Room) storeCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.ctx, r.reg.opts.StoreTimeout)
}

func (r *Room) isOwner(userID string) bool {
	return userID == r.sess.TeacherID
}

func (r *Room) handle() *model.RoomHandle {
	return &model.RoomHandle{
		SessionID: r.id,
		RoomID:    model.RoomIDFor(r.id),
		StreamURL: r.sess.StreamURL,
		WSURL:     wsURL(r.reg.opts.WSBaseURL, r.id),
	}
}

// finish moves the session to ended or cancelled and tears the room down.
func (r *Room) finish(ident model.Identity, status model.SessionStatus) error {
	if ident.Role != model.RoleAdmin && !r.isOwner(ident.UserID) {
		return errs.ErrNotSessionOwner
	}
	if model.SessionStatus(r.sess.Status) != model.SessionStatusActive {
		return errs.ErrSessionNotActive
	}
	ctx, cancel := r.storeCtx()
	defer cancel()

	if status == model.SessionStatusCancelled {
		for _, m := range r.members {
			if !r.isOwner(m.userID) {
				return errs.ErrSessionHadMembers
			}
		}
		guests, err := r.reg.store.CountGuests(ctx, r.id, r.sess.TeacherID)
		if err != nil {
			return err
		}
		if guests > 0 {
			return errs.ErrSessionHadMembers
		}
	}

	now := time.Now().UTC()
	if r.recording != nil && model.RecordingStatus(r.recording.ProcessingStatus) == model.RecordingStatusRecording {
		if _, err := r.stopRecording(r.sess.TeacherID); err != nil {
			r.log.Warn("stop recording on end failed", zap.Error(err))
		}
	}
	if err := r.reg.store.FinishSession(ctx, r.id, status, now); err != nil {
		return err
	}
	r.sess.Status = string(status)
	r.sess.EndedAt = &now

	text := "The session has ended"
	if status == model.SessionStatusCancelled {
		text = "The session was cancelled"
	}
	r.system(ident.UserID, text)
	r.broadcast(model.EventSessionEnded, payload{"session_id": r.id, "status": status}, "")
	r.forceDisconnectAll(now)
	r.stopCaptions()
	r.reg.remove(r.id)
	r.cancel()

	r.log.Info("live session finished",
		zap.String("status", string(status)),
		zap.String("user_id", ident.UserID))
	return nil
}

// shutdown closes sockets without touching the store; used on process exit.
func (r *Room) shutdown() {
	for _, m := range r.members {
		if m.client != nil {
			m.client.close()
			m.client = nil
		}
	}
	r.stopCaptions()
	r.cancel()
}

// dispatch handles one frame read from a member's socket.
func (r *Room) dispatch(c *Client, messageType int, data []byte) {
	m := r.members[c.userID]
	if m == nil || m.client != c {
		return
	}
	if messageType == websocket.BinaryMessage {
		r.audio(m, data)
		return
	}

	var env model.Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
		c.sendError(errs.ErrInvalidMessage, "", "")
		return
	}
	var err error
	switch env.Event {
	case model.EventJoin:
		c.send(model.EventJoined, r.joinedPayload())
	case model.EventLeave:
		err = r.removeMember(m.userID)
	case model.EventSignalOffer, model.EventSignalAnswer, model.EventSignalICE:
		r.relaySignal(c, env.Event, env.Data)
	case model.EventRegisterPeer:
		err = r.registerPeer(m, env.Data)
	case model.EventScreenShareStart:
		r.setSharing(m, true)
	case model.EventScreenShareStop:
		r.setSharing(m, false)
	case model.EventChatSend:
		err = r.chat(m, env.Data)
	case model.EventToggleCaptions:
		err = r.toggleCaptions(m, env.Data)
	case model.EventSharePDF:
		err = r.sharePDF(m, env.Data)
	case model.EventPDFPageChange:
		err = r.changePDFPage(m, env.Data)
	case model.EventStartRecording:
		_, err = r.startRecording(m.userID)
	case model.EventStopRecording:
		_, err = r.stopRecording(m.userID)
	default:
		err = fmt.Errorf("%w: unknown event %q", errs.ErrInvalidMessage, env.Event)
	}
	if err != nil {
		c.sendError(err, env.Event, "")
	}
}

// decode unmarshals and validates an event payload.
func (r *Room) decode(data json.RawMessage, dst any) error {
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrInvalidMessage, err)
	}
	if err := r.reg.validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrInvalidMessage, err)
	}
	return nil
}

// broadcast sends an event to every attached member except the given user id.
func (r *Room) broadcast(event string, data any, except string) {
	msg, err := model.NewEnvelope(event, data)
	if err != nil {
		r.log.Error("marshal event", zap.String("event", event), zap.Error(err))
		return
	}
	for _, m := range r.members {
		if m.client == nil || m.userID == except {
			continue
		}
		m.client.enqueue(msg)
	}
}

func (r *Room) roster() []model.RosterEntry {
	out := make([]model.RosterEntry, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, model.RosterEntry{
			UserID:           m.userID,
			Name:             m.name,
			Role:             m.role,
			ConnectionStatus: m.status,
			JoinedAt:         m.joinedAt,
			ScreenSharing:    m.sharing,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

func (r *Room) broadcastRoster() {
	r.broadcast(model.EventRosterUpdate, payload{"participants": r.roster(), "count": len(r.members)}, "")
}

func (r *Room) joinedPayload() model.JoinedPayload {
	return model.JoinedPayload{
		SessionID:       r.id,
		RoomID:          model.RoomIDFor(r.id),
		Roster:          r.roster(),
		RecordingStatus: model.RecordingStatus(r.sess.RecordingStatus),
		CaptionsEnabled: r.sess.SubtitleEnabled,
		SharedPDF:       r.pdf,
	}
}

// payload is a shorthand for ad-hoc event data.
type payload = map[string]any
