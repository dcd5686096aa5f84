package live

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/psds-microservice/live-session-service/internal/errs"
	"github.com/psds-microservice/live-session-service/internal/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// relaySignal forwards an offer/answer/ICE candidate to one attached member. The payload is
// opaque. Unknown or unattached targets are reported back to the sender only.
func (r *Room) relaySignal(c *Client, event string, data json.RawMessage) {
	var req model.SignalRequest
	if err := r.decode(data, &req); err != nil {
		c.sendError(err, event, "")
		return
	}
	target, ok := r.members[req.TargetUserID]
	if !ok || target.client == nil || req.TargetUserID == c.userID {
		r.log.Debug("signal target not found",
			zap.String("event", event),
			zap.String("user_id", c.userID),
			zap.String("target_user_id", req.TargetUserID))
		c.sendError(errs.ErrTargetNotFound, event, req.TargetUserID)
		return
	}
	target.client.send(event, model.SignalRelay{FromUserID: c.userID, Payload: req.Payload})
}

// registerPeer records a WebRTC endpoint of the member.
func (r *Room) registerPeer(m *member, data json.RawMessage) error {
	var req model.RegisterPeerRequest
	if err := r.decode(data, &req); err != nil {
		return err
	}
	now := time.Now().UTC()
	link := &model.PeerLink{
		ID:               uuid.New().String(),
		SessionID:        r.id,
		UserID:           m.userID,
		PeerID:           req.PeerID,
		ConnectionType:   string(req.ConnectionType),
		ConnectionStatus: string(model.ConnectionConnected),
		ConnectedAt:      &now,
	}
	if len(req.IceServers) > 0 && string(req.IceServers) != "null" {
		link.IceServers = datatypes.JSON(req.IceServers)
	}
	ctx, cancel := r.storeCtx()
	defer cancel()
	if err := r.reg.store.CreatePeer(ctx, link); err != nil {
		return fmt.Errorf("register peer: %w", err)
	}
	return nil
}

// setSharing toggles screen sharing of the member and tells the room.
func (r *Room) setSharing(m *member, sharing bool) {
	if m.sharing == sharing {
		return
	}
	m.sharing = sharing
	event := model.EventScreenShareStopped
	if sharing {
		event = model.EventScreenShareStarted
	}
	r.broadcast(event, payload{"user_id": m.userID}, "")
}

// sharePDF shows a document to the room; teacher only.
func (r *Room) sharePDF(m *member, data json.RawMessage) error {
	if !r.isOwner(m.userID) {
		return errs.ErrTeacherOnly
	}
	var req model.SharePDFRequest
	if err := r.decode(data, &req); err != nil {
		return err
	}
	page := req.Page
	if page < 1 {
		page = 1
	}
	r.pdf = &model.SharedPDF{URL: req.URL, Name: req.Name, Page: page, SharedBy: m.userID}
	r.broadcast(model.EventPDFShared, r.pdf, "")
	return nil
}

// changePDFPage moves the shared document to another page; teacher only.
func (r *Room) changePDFPage(m *member, data json.RawMessage) error {
	if !r.isOwner(m.userID) {
		return errs.ErrTeacherOnly
	}
	if r.pdf == nil {
		return fmt.Errorf("%w: no document is shared", errs.ErrInvalidState)
	}
	var req model.PDFPageChangeRequest
	if err := r.decode(data, &req); err != nil {
		return err
	}
	r.pdf.Page = req.Page
	r.broadcast(model.EventPDFPageChanged, payload{"page": req.Page, "url": r.pdf.URL}, "")
	return nil
}
