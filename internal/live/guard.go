package live

import (
	"context"
	"time"

	"github.com/psds-microservice/live-session-service/internal/errs"
	"github.com/psds-microservice/live-session-service/internal/model"
)

type nameFunc func(ctx context.Context, ident model.Identity) string

// join admits ident to the room. Checks run in order: session active, membership, existing
// seat (idempotent), capacity. The store re-checks status and capacity under a row lock so
// several instances cannot overfill a session.
func (r *Room) join(ctx context.Context, ident model.Identity, names nameFunc) (*model.RoomHandle, error) {
	var handle *model.RoomHandle
	err := r.do(ctx, func() error {
		h, err := r.admit(ident, names)
		handle = h
		return err
	})
	return handle, err
}

func (r *Room) admit(ident model.Identity, names nameFunc) (*model.RoomHandle, error) {
	if model.SessionStatus(r.sess.Status) != model.SessionStatusActive {
		return nil, errs.ErrSessionNotActive
	}
	ctx, cancel := r.storeCtx()
	defer cancel()

	role, err := r.seatRole(ctx, ident)
	if err != nil {
		return nil, err
	}
	if _, ok := r.members[ident.UserID]; ok {
		return r.handle(), nil
	}
	if role != model.RoleTeacher && r.students() >= r.sess.MaxParticipants-1 {
		return nil, errs.ErrSessionFull
	}

	p, created, err := r.reg.store.AdmitParticipant(ctx, r.id, ident.UserID, role, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	r.addMember(p, names(ctx, ident), created)
	return r.handle(), nil
}

// seatRole decides which seat ident may take. Teachers may only enter their own session;
// students and admins need an active enrollment and sit as students.
func (r *Room) seatRole(ctx context.Context, ident model.Identity) (model.Role, error) {
	if r.isOwner(ident.UserID) {
		return model.RoleTeacher, nil
	}
	if ident.Role == model.RoleTeacher {
		return "", errs.ErrNotSessionOwner
	}
	ok, err := r.reg.store.IsEnrolled(ctx, r.sess.ClassID, ident.UserID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errs.ErrNotEnrolled
	}
	return model.RoleStudent, nil
}

func (r *Room) students() int {
	n := 0
	for _, m := range r.members {
		if m.role != model.RoleTeacher {
			n++
		}
	}
	return n
}
