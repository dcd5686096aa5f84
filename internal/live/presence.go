package live

import (
	"fmt"
	"time"

	"github.com/psds-microservice/live-session-service/internal/errs"
	"github.com/psds-microservice/live-session-service/internal/model"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// addMember puts an admitted participant on the roster. announce controls the "joined" notice;
// seats restored from the store come back silently.
func (r *Room) addMember(p *model.Participant, name string, announce bool) {
	now := time.Now()
	r.members[p.UserID] = &member{
		participantID: p.ID,
		userID:        p.UserID,
		name:          name,
		role:          model.Role(p.Role),
		status:        model.ConnectionConnecting,
		joinedAt:      p.JoinedAt,
		pendingSince:  now,
		limiter:       rate.NewLimiter(r.reg.opts.ChatRate, r.reg.opts.ChatBurst),
	}
	r.present.Store(int64(len(r.members)))
	if announce {
		r.system(p.UserID, fmt.Sprintf("%s joined the session", name))
	}
	r.broadcastRoster()
	r.log.Info("participant joined", zap.String("user_id", p.UserID), zap.String("role", p.Role))
}

// restoreMembers rebuilds the roster after a restart. Existing seats are kept.
func (r *Room) restoreMembers(present []model.Participant, names map[string]string) {
	for i := range present {
		p := &present[i]
		if _, ok := r.members[p.UserID]; ok {
			continue
		}
		r.members[p.UserID] = &member{
			participantID: p.ID,
			userID:        p.UserID,
			name:          names[p.UserID],
			role:          model.Role(p.Role),
			status:        model.ConnectionConnecting,
			joinedAt:      p.JoinedAt,
			pendingSince:  time.Now(),
			limiter:       rate.NewLimiter(r.reg.opts.ChatRate, r.reg.opts.ChatBurst),
		}
	}
	r.present.Store(int64(len(r.members)))
}

// removeMember is the single teardown path for leave, transport disconnect and stale sweep.
func (r *Room) removeMember(userID string) error {
	m, ok := r.members[userID]
	if !ok {
		return errs.ErrNotJoined
	}
	delete(r.members, userID)
	r.present.Store(int64(len(r.members)))

	now := time.Now().UTC()
	ctx, cancel := r.storeCtx()
	defer cancel()
	if err := r.reg.store.CloseParticipant(ctx, m.participantID, now); err != nil {
		r.log.Error("close participant failed", zap.String("user_id", userID), zap.Error(err))
	}
	if err := r.reg.store.DisconnectPeers(ctx, r.id, userID, now); err != nil {
		r.log.Warn("disconnect peers failed", zap.String("user_id", userID), zap.Error(err))
	}
	if m.client != nil {
		m.client.close()
		m.client = nil
	}
	if m.sharing {
		r.broadcast(model.EventScreenShareStopped, payload{"user_id": userID}, "")
	}
	r.system(userID, fmt.Sprintf("%s left the session", m.name))
	r.broadcastRoster()
	r.log.Info("participant left", zap.String("user_id", userID))
	return nil
}

// forceDisconnectAll closes every seat, peer link and socket of the room.
func (r *Room) forceDisconnectAll(at time.Time) {
	ctx, cancel := r.storeCtx()
	defer cancel()
	if _, err := r.reg.store.CloseAllParticipants(ctx, r.id, at); err != nil {
		r.log.Error("close participants failed", zap.Error(err))
	}
	if err := r.reg.store.DisconnectPeers(ctx, r.id, "", at); err != nil {
		r.log.Warn("disconnect peers failed", zap.Error(err))
	}
	for id, m := range r.members {
		if m.client != nil {
			m.client.close()
		}
		delete(r.members, id)
	}
	r.present.Store(0)
}

// attach binds a socket to the user's seat. A newer socket supersedes the older one; the old
// socket is told so and closed without leaving the session.
func (r *Room) attach(userID string, conn Conn) (*Client, error) {
	m, ok := r.members[userID]
	if !ok {
		return nil, errs.ErrNotJoined
	}
	c := newClient(r, userID, conn)
	if old := m.client; old != nil {
		old.send(model.EventError, model.ErrorPayload{
			Code:    "superseded",
			Message: "connection replaced by a newer one",
		})
		old.close()
		r.log.Info("socket superseded", zap.String("user_id", userID))
	}
	m.client = c
	if m.status != model.ConnectionConnected {
		m.status = model.ConnectionConnected
		ctx, cancel := r.storeCtx()
		defer cancel()
		if err := r.reg.store.MarkConnected(ctx, m.participantID); err != nil {
			r.log.Warn("mark connected failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	c.send(model.EventJoined, r.joinedPayload())
	r.broadcastRoster()
	return c, nil
}

// onDisconnect runs when a socket's read loop ends. Only the current socket of a seat counts.
func (r *Room) onDisconnect(c *Client) {
	m, ok := r.members[c.userID]
	if !ok || m.client != c {
		return
	}
	_ = r.removeMember(c.userID)
}

// sweepStale removes seats that never got a socket before cutoff.
func (r *Room) sweepStale(cutoff time.Time) int {
	n := 0
	for id, m := range r.members {
		if m.client == nil && m.status == model.ConnectionConnecting && m.pendingSince.Before(cutoff) {
			if err := r.removeMember(id); err == nil {
				n++
			}
		}
	}
	if n > 0 {
		r.log.Info("stale participants removed", zap.Int("count", n))
	}
	return n
}
