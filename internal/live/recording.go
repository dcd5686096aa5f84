package live

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/psds-microservice/live-session-service/internal/errs"
	"github.com/psds-microservice/live-session-service/internal/model"
	"go.uber.org/zap"
)

// startRecording moves recording from none/completed/failed to recording; teacher only.
func (r *Room) startRecording(userID string) (*model.RecordingView, error) {
	if !r.isOwner(userID) {
		return nil, errs.ErrTeacherOnly
	}
	if model.RecordingStatus(r.sess.RecordingStatus).Busy() {
		return nil, errs.ErrRecordingBusy
	}
	rec := &model.Recording{
		ID:                 uuid.New().String(),
		SessionID:          r.id,
		RecordingStartedAt: time.Now().UTC(),
		ProcessingStatus:   string(model.RecordingStatusRecording),
	}
	ctx, cancel := r.storeCtx()
	defer cancel()
	if err := r.reg.store.StartRecording(ctx, rec); err != nil {
		return nil, err
	}
	r.sess.RecordingEnabled = true
	r.recording = rec
	r.setRecordingStatus(rec, model.RecordingStatusRecording)
	r.log.Info("recording started", zap.String("recording_id", rec.ID))

	if n := r.reg.recorder; n != nil {
		id := rec.ID
		go func() {
			ctx, cancel := context.WithTimeout(r.reg.ctx, r.reg.opts.RecorderTimeout)
			defer cancel()
			if err := n.RecordingStarted(ctx, r.id, id); err != nil {
				r.post(func() { r.failRecording(id, err) })
			}
		}()
	}
	view := rec.ToView()
	return &view, nil
}

// stopRecording moves the running recording to processing; teacher only.
func (r *Room) stopRecording(userID string) (*model.RecordingView, error) {
	if !r.isOwner(userID) {
		return nil, errs.ErrTeacherOnly
	}
	rec := r.recording
	if rec == nil || model.RecordingStatus(rec.ProcessingStatus) != model.RecordingStatusRecording {
		return nil, errs.ErrNotRecording
	}
	now := time.Now().UTC()
	duration := int(now.Sub(rec.RecordingStartedAt).Seconds())
	ctx, cancel := r.storeCtx()
	defer cancel()
	if err := r.reg.store.TransitionRecording(ctx, r.id, rec.ID,
		model.RecordingStatusRecording, model.RecordingStatusProcessing,
		map[string]any{"recording_ended_at": now, "duration_seconds": duration}); err != nil {
		return nil, err
	}
	rec.RecordingEndedAt = &now
	rec.DurationSeconds = &duration
	r.setRecordingStatus(rec, model.RecordingStatusProcessing)
	r.log.Info("recording stopped", zap.String("recording_id", rec.ID), zap.Int("duration_seconds", duration))

	if n := r.reg.recorder; n != nil {
		sessionID, id := r.id, rec.ID
		go func() {
			ctx, cancel := context.WithTimeout(r.reg.ctx, r.reg.opts.RecorderTimeout)
			defer cancel()
			if err := n.RecordingStopped(ctx, sessionID, id); err != nil {
				r.reg.log.Warn("recorder stop notification failed",
					zap.String("session_id", sessionID), zap.String("recording_id", id), zap.Error(err))
			}
		}()
	}
	view := rec.ToView()
	return &view, nil
}

// completeRecording applies the recorder's final status to a processing recording.
func (r *Room) completeRecording(stored *model.Recording, upd model.RecordingStatusUpdate) (*model.RecordingView, error) {
	rec := r.recording
	if rec == nil || rec.ID != stored.ID {
		rec = stored
	}
	if model.RecordingStatus(rec.ProcessingStatus) != model.RecordingStatusProcessing {
		return nil, errs.ErrNotProcessing
	}
	ctx, cancel := r.storeCtx()
	defer cancel()
	if err := r.reg.store.TransitionRecording(ctx, r.id, rec.ID,
		model.RecordingStatusProcessing, upd.Status, recordingResultFields(upd)); err != nil {
		return nil, err
	}
	if upd.FilePath != "" {
		rec.FilePath = upd.FilePath
	}
	if upd.FileSize != nil {
		rec.FileSize = upd.FileSize
	}
	if upd.DurationSeconds != nil {
		rec.DurationSeconds = upd.DurationSeconds
	}
	if r.recording != nil && r.recording.ID == rec.ID {
		r.setRecordingStatus(rec, upd.Status)
	} else {
		rec.ProcessingStatus = string(upd.Status)
	}
	view := rec.ToView()
	return &view, nil
}

// failRecording marks a recording failed after the recorder refused to start it.
func (r *Room) failRecording(recordingID string, cause error) {
	rec := r.recording
	if rec == nil || rec.ID != recordingID {
		return
	}
	from := model.RecordingStatus(rec.ProcessingStatus)
	if from != model.RecordingStatusRecording && from != model.RecordingStatusProcessing {
		return
	}
	now := time.Now().UTC()
	fields := map[string]any{}
	if rec.RecordingEndedAt == nil {
		fields["recording_ended_at"] = now
		rec.RecordingEndedAt = &now
	}
	ctx, cancel := r.storeCtx()
	defer cancel()
	if err := r.reg.store.TransitionRecording(ctx, r.id, rec.ID, from, model.RecordingStatusFailed, fields); err != nil {
		r.log.Error("mark recording failed", zap.String("recording_id", rec.ID), zap.Error(err))
		return
	}
	r.setRecordingStatus(rec, model.RecordingStatusFailed)
	r.log.Warn("recorder refused recording", zap.String("recording_id", rec.ID), zap.Error(cause))
}

func (r *Room) setRecordingStatus(rec *model.Recording, status model.RecordingStatus) {
	rec.ProcessingStatus = string(status)
	r.sess.RecordingStatus = string(status)
	r.broadcast(model.EventRecordingStatus, model.RecordingStatusPayload{
		Status:      status,
		RecordingID: rec.ID,
	}, "")
}

func recordingResultFields(upd model.RecordingStatusUpdate) map[string]any {
	fields := map[string]any{}
	if upd.FilePath != "" {
		fields["file_path"] = upd.FilePath
	}
	if upd.FileSize != nil {
		fields["file_size"] = *upd.FileSize
	}
	if upd.DurationSeconds != nil {
		fields["duration_seconds"] = *upd.DurationSeconds
	}
	return fields
}
