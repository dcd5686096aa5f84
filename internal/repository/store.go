package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/psds-microservice/live-session-service/internal/errs"
	"github.com/psds-microservice/live-session-service/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store implements live.Store on PostgreSQL via GORM.
type Store struct {
	db *gorm.DB
}

// NewStore creates a store over an open connection.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Class(ctx context.Context, classID string) (*model.Class, error) {
	var c model.Class
	if err := s.db.WithContext(ctx).Where("id = ?", classID).Take(&c).Error; err != nil {
		return nil, notFound(err, errs.ErrClassNotFound)
	}
	return &c, nil
}

func (s *Store) IsEnrolled(ctx context.Context, classID, userID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Table("class_enrollments").
		Where("class_id = ? AND student_id = ? AND is_active = true", classID, userID).
		Count(&n).Error
	return n > 0, err
}

func (s *Store) UserName(ctx context.Context, userID string) (string, error) {
	var name string
	err := s.db.WithContext(ctx).Table("users").Select("full_name").
		Where("id = ?", userID).Limit(1).Scan(&name).Error
	return name, err
}

func (s *Store) CreateSession(ctx context.Context, ls *model.LiveSession, teacher *model.Participant) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(ls).Error; err != nil {
			return err
		}
		teacher.SessionID = ls.ID
		return tx.Create(teacher).Error
	})
	if isUniqueViolation(err) {
		return errs.ErrActiveSessionExists
	}
	return err
}

func (s *Store) Session(ctx context.Context, id string) (*model.LiveSession, error) {
	var ls model.LiveSession
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&ls).Error; err != nil {
		return nil, notFound(err, errs.ErrSessionNotFound)
	}
	return &ls, nil
}

func (s *Store) ActiveSessions(ctx context.Context) ([]model.LiveSession, error) {
	var out []model.LiveSession
	err := s.db.WithContext(ctx).Where("status = ?", model.SessionStatusActive).
		Order("started_at").Find(&out).Error
	return out, err
}

type activeRow struct {
	ID               string
	Title            string
	ClassName        string
	Subject          string
	TeacherName      string
	StartedAt        time.Time
	MaxParticipants  int
	ParticipantCount int
	Status           string
	IsJoined         bool
}

func (s *Store) ActiveSessionsFor(ctx context.Context, ident model.Identity) ([]model.ActiveSession, error) {
	q := s.db.WithContext(ctx).Table("live_sessions AS ls").
		Select(`ls.id, ls.title, c.name AS class_name, c.subject, COALESCE(u.full_name, '') AS teacher_name,
			ls.started_at, ls.max_participants, ls.status,
			(SELECT COUNT(*) FROM live_session_participants p
				WHERE p.session_id = ls.id AND p.left_at IS NULL) AS participant_count,
			EXISTS (SELECT 1 FROM live_session_participants p
				WHERE p.session_id = ls.id AND p.user_id = ? AND p.left_at IS NULL) AS is_joined`, ident.UserID).
		Joins("JOIN classes c ON c.id = ls.class_id").
		Joins("LEFT JOIN users u ON u.id = ls.teacher_id").
		Where("ls.status = ?", model.SessionStatusActive)

	switch ident.Role {
	case model.RoleTeacher:
		q = q.Where("ls.teacher_id = ?", ident.UserID)
	case model.RoleStudent:
		q = q.Where(`EXISTS (SELECT 1 FROM class_enrollments e
			WHERE e.class_id = ls.class_id AND e.student_id = ? AND e.is_active = true)`, ident.UserID)
	}

	var rows []activeRow
	if err := q.Order("ls.started_at DESC").Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.ActiveSession, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.ActiveSession{
			ID:               r.ID,
			Title:            r.Title,
			ClassName:        r.ClassName,
			Subject:          r.Subject,
			TeacherName:      r.TeacherName,
			StartedAt:        r.StartedAt,
			MaxParticipants:  r.MaxParticipants,
			ParticipantCount: r.ParticipantCount,
			Status:           model.SessionStatus(r.Status),
			IsJoined:         r.IsJoined,
		})
	}
	return out, nil
}

func (s *Store) FinishSession(ctx context.Context, id string, status model.SessionStatus, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&model.LiveSession{}).
		Where("id = ? AND status = ?", id, model.SessionStatusActive).
		Updates(map[string]any{"status": string(status), "ended_at": at})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := s.Session(ctx, id); err != nil {
			return err
		}
		return errs.ErrSessionNotActive
	}
	return nil
}

func (s *Store) UpdateSession(ctx context.Context, id string, fields map[string]any) error {
	res := s.db.WithContext(ctx).Model(&model.LiveSession{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errs.ErrSessionNotFound
	}
	return nil
}

func (s *Store) AdmitParticipant(ctx context.Context, sessionID, userID string, role model.Role, at time.Time) (*model.Participant, bool, error) {
	var (
		out     *model.Participant
		created bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ls model.LiveSession
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", sessionID).Take(&ls).Error; err != nil {
			return notFound(err, errs.ErrSessionNotFound)
		}
		if model.SessionStatus(ls.Status) != model.SessionStatusActive {
			return errs.ErrSessionNotActive
		}

		var existing model.Participant
		err := tx.Where("session_id = ? AND user_id = ? AND left_at IS NULL", sessionID, userID).
			Take(&existing).Error
		if err == nil {
			out = &existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		// Место учителя зарезервировано: студентов не больше max-1.
		if role != model.RoleTeacher {
			var students int64
			if err := tx.Model(&model.Participant{}).
				Where("session_id = ? AND role <> ? AND left_at IS NULL", sessionID, model.RoleTeacher).
				Count(&students).Error; err != nil {
				return err
			}
			if students >= int64(ls.MaxParticipants-1) {
				return errs.ErrSessionFull
			}
		}

		p := &model.Participant{
			ID:               uuid.New().String(),
			SessionID:        sessionID,
			UserID:           userID,
			Role:             string(role),
			ConnectionStatus: string(model.ConnectionConnecting),
			JoinedAt:         at,
		}
		if err := tx.Create(p).Error; err != nil {
			return err
		}
		out, created = p, true
		return nil
	})
	if isUniqueViolation(err) {
		// Параллельная вставка того же пользователя: возвращаем уже существующую строку.
		var existing model.Participant
		if e := s.db.WithContext(ctx).
			Where("session_id = ? AND user_id = ? AND left_at IS NULL", sessionID, userID).
			Take(&existing).Error; e != nil {
			return nil, false, e
		}
		return &existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}

func (s *Store) MarkConnected(ctx context.Context, participantID string) error {
	return s.db.WithContext(ctx).Model(&model.Participant{}).
		Where("id = ? AND left_at IS NULL", participantID).
		Update("connection_status", string(model.ConnectionConnected)).Error
}

func (s *Store) CloseParticipant(ctx context.Context, participantID string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&model.Participant{}).
		Where("id = ? AND left_at IS NULL", participantID).
		Updates(map[string]any{"left_at": at, "connection_status": string(model.ConnectionDisconnected)}).Error
}

func (s *Store) CloseAllParticipants(ctx context.Context, sessionID string, at time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&model.Participant{}).
		Where("session_id = ? AND left_at IS NULL", sessionID).
		Updates(map[string]any{"left_at": at, "connection_status": string(model.ConnectionDisconnected)})
	return res.RowsAffected, res.Error
}

func (s *Store) PresentParticipants(ctx context.Context, sessionID string) ([]model.Participant, error) {
	var out []model.Participant
	err := s.db.WithContext(ctx).Where("session_id = ? AND left_at IS NULL", sessionID).
		Order("joined_at").Find(&out).Error
	return out, err
}

func (s *Store) Participants(ctx context.Context, sessionID string) ([]model.Participant, error) {
	var out []model.Participant
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).
		Order("joined_at").Find(&out).Error
	return out, err
}

func (s *Store) CountGuests(ctx context.Context, sessionID, teacherID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.Participant{}).
		Where("session_id = ? AND user_id <> ?", sessionID, teacherID).Count(&n).Error
	return n, err
}

func (s *Store) CloseOrphanParticipants(ctx context.Context, at time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&model.Participant{}).
		Where("left_at IS NULL AND session_id IN (?)",
			s.db.Model(&model.LiveSession{}).Select("id").Where("status <> ?", model.SessionStatusActive)).
		Updates(map[string]any{"left_at": at, "connection_status": string(model.ConnectionDisconnected)})
	return res.RowsAffected, res.Error
}

func (s *Store) CreatePeer(ctx context.Context, p *model.PeerLink) error {
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		if isForeignKeyViolation(err) {
			return errs.ErrSessionNotFound
		}
		return err
	}
	return nil
}

func (s *Store) DisconnectPeers(ctx context.Context, sessionID, userID string, at time.Time) error {
	q := s.db.WithContext(ctx).Model(&model.PeerLink{}).
		Where("session_id = ? AND connection_status <> ?", sessionID, model.ConnectionDisconnected)
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	return q.Updates(map[string]any{
		"connection_status": string(model.ConnectionDisconnected),
		"disconnected_at":   at,
	}).Error
}

func (s *Store) CreateMessage(ctx context.Context, m *model.Message) error {
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		if isForeignKeyViolation(err) {
			return errs.ErrSessionNotFound
		}
		return err
	}
	return nil
}

// Messages returns the latest limit messages in chronological order.
func (s *Store) Messages(ctx context.Context, sessionID string, limit int) ([]model.Message, error) {
	var out []model.Message
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).
		Order("timestamp DESC").Limit(limit).Find(&out).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *Store) CreateCaptions(ctx context.Context, cs []model.Caption) error {
	if len(cs) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Create(&cs).Error
}

func (s *Store) Captions(ctx context.Context, sessionID, language string, limit int) ([]model.Caption, error) {
	q := s.db.WithContext(ctx).Where("session_id = ?", sessionID)
	if language != "" {
		q = q.Where("language = ?", language)
	}
	var out []model.Caption
	err := q.Order("start_time").Limit(limit).Find(&out).Error
	return out, err
}

func (s *Store) StartRecording(ctx context.Context, rec *model.Recording) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.LiveSession{}).
			Where("id = ? AND status = ? AND recording_status NOT IN ?", rec.SessionID, model.SessionStatusActive,
				[]string{string(model.RecordingStatusRecording), string(model.RecordingStatusProcessing)}).
			Updates(map[string]any{
				"recording_enabled": true,
				"recording_status":  string(model.RecordingStatusRecording),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errs.ErrRecordingBusy
		}
		return tx.Create(rec).Error
	})
}

func (s *Store) TransitionRecording(ctx context.Context, sessionID, recordingID string, from, to model.RecordingStatus, fields map[string]any) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		upd := map[string]any{"processing_status": string(to)}
		for k, v := range fields {
			upd[k] = v
		}
		res := tx.Model(&model.Recording{}).
			Where("id = ? AND session_id = ? AND processing_status = ?", recordingID, sessionID, string(from)).
			Updates(upd)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			if from == model.RecordingStatusRecording {
				return errs.ErrNotRecording
			}
			return errs.ErrNotProcessing
		}
		return tx.Model(&model.LiveSession{}).Where("id = ?", sessionID).
			Update("recording_status", string(to)).Error
	})
}

func (s *Store) Recording(ctx context.Context, id string) (*model.Recording, error) {
	var r model.Recording
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&r).Error; err != nil {
		return nil, notFound(err, errs.ErrRecordingNotFound)
	}
	return &r, nil
}

func (s *Store) Recordings(ctx context.Context, sessionID string) ([]model.Recording, error) {
	var out []model.Recording
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).
		Order("recording_started_at DESC").Find(&out).Error
	return out, err
}
