package live

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/psds-microservice/live-session-service/internal/errs"
	"github.com/psds-microservice/live-session-service/internal/model"
	"go.uber.org/zap"
)

// Transcriber turns audio chunks into timed text (speech-to-text service).
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, language string, offset float64) (*model.Transcript, error)
	Health(ctx context.Context) error
}

// Translator translates one text into one language.
type Translator interface {
	Translate(ctx context.Context, text, source, target string) (*model.CaptionTranslation, error)
}

const captionsUnavailableNotice = "Live captions are temporarily unavailable"

// audio handles a binary frame: teacher audio while captions are on goes to speech-to-text.
func (r *Room) audio(m *member, data []byte) {
	speech := r.reg.speech
	if !r.isOwner(m.userID) || !r.sess.SubtitleEnabled || speech == nil || len(data) == 0 {
		return
	}
	offset := time.Since(r.sess.StartedAt).Seconds()
	lang := r.sess.DefaultLanguage
	chunk := append([]byte(nil), data...)
	go func() {
		ctx, cancel := context.WithTimeout(r.ctx, r.reg.opts.SpeechTimeout)
		defer cancel()
		tr, err := speech.Transcribe(ctx, chunk, lang, offset)
		r.post(func() {
			if err != nil {
				r.transcribeFailed(err)
				return
			}
			r.acceptTranscript(*tr, m.userID, true)
		})
	}()
}

func (r *Room) transcribeFailed(err error) {
	if errors.Is(err, errs.ErrUpstreamUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		r.captionsUnavailable(err)
		return
	}
	r.log.Warn("transcription rejected", zap.Error(err))
}

// acceptTranscript enters a fragment into the caption path: translations are fetched off the
// actor, then the caption is stored and queued for ordered delivery.
func (r *Room) acceptTranscript(tr model.Transcript, speakerID string, auto bool) {
	tr.Text = strings.TrimSpace(tr.Text)
	if tr.Text == "" {
		return
	}
	if tr.Language == "" {
		tr.Language = r.sess.DefaultLanguage
	}
	if tr.EndTime < tr.StartTime {
		tr.EndTime = tr.StartTime
	}
	e := r.captions.add(tr.StartTime, time.Now().Add(r.reg.opts.ReorderWindow))
	targets := r.translationTargets(tr.Language)
	translator := r.reg.translator
	if len(targets) == 0 || translator == nil {
		r.captionReady(e, tr, speakerID, auto, nil)
		return
	}
	go func() {
		res := translateAll(r.ctx, translator, r.reg.opts.TranslationTimeout, tr.Text, tr.Language, targets, r.log)
		r.post(func() { r.captionReady(e, tr, speakerID, auto, res) })
	}()
}

// captionReady stores the caption with its translations and releases what is due.
func (r *Room) captionReady(e *captionEntry, tr model.Transcript, speakerID string, auto bool, translations map[string]model.CaptionTranslation) {
	rows := make([]model.Caption, 0, 1+len(translations))
	var speaker *string
	if speakerID != "" {
		speaker = &speakerID
	}
	source := model.Caption{
		ID:              uuid.New().String(),
		SessionID:       r.id,
		SpeakerID:       speaker,
		TextContent:     tr.Text,
		Language:        tr.Language,
		StartTime:       tr.StartTime,
		EndTime:         tr.EndTime,
		ConfidenceScore: tr.Confidence,
		IsAutoGenerated: auto,
	}
	rows = append(rows, source)
	if translations == nil {
		translations = map[string]model.CaptionTranslation{}
	}
	for lang, t := range translations {
		rows = append(rows, model.Caption{
			ID:              uuid.New().String(),
			SessionID:       r.id,
			SpeakerID:       speaker,
			TextContent:     t.Text,
			Language:        lang,
			StartTime:       tr.StartTime,
			EndTime:         tr.EndTime,
			ConfidenceScore: t.Confidence,
			IsAutoGenerated: true,
		})
	}
	ctx, cancel := r.storeCtx()
	defer cancel()
	if err := r.reg.store.CreateCaptions(ctx, rows); err != nil {
		r.log.Error("store captions failed", zap.Float64("start_time", tr.StartTime), zap.Error(err))
	}

	view := captionRowView(&source)
	view.Translations = translations
	r.captions.markReady(e, view)
	if !e.live {
		r.log.Info("late caption stored but not delivered", zap.Float64("start_time", tr.StartTime))
		return
	}
	r.flushCaptions()
}

// flushCaptions delivers every due caption and re-arms the timer for the next one.
func (r *Room) flushCaptions() {
	now := time.Now()
	for _, e := range r.captions.release(now) {
		r.broadcast(model.EventCaption, e.view, "")
	}
	if r.captionTimer != nil {
		r.captionTimer.Stop()
		r.captionTimer = nil
	}
	next, ok := r.captions.next()
	if !ok {
		return
	}
	d := next.Sub(now)
	if d < 0 {
		d = 0
	}
	r.captionTimer = time.AfterFunc(d, func() { r.post(r.flushCaptions) })
}

func (r *Room) stopCaptions() {
	if r.captionTimer != nil {
		r.captionTimer.Stop()
		r.captionTimer = nil
	}
	r.captions.reset()
}

func (r *Room) translationTargets(source string) []string {
	if !r.sess.TranslationEnabled {
		return nil
	}
	return dedupeLanguages(r.sess.AvailableLanguages, source)
}

// toggleCaptions turns live captions on or off; teacher only. Enabling checks the speech
// service first.
func (r *Room) toggleCaptions(m *member, data json.RawMessage) error {
	if !r.isOwner(m.userID) {
		return errs.ErrTeacherOnly
	}
	var req model.ToggleCaptionsRequest
	if err := r.decode(data, &req); err != nil {
		return err
	}
	if !req.Enabled {
		return r.setCaptions(false, "")
	}
	speech := r.reg.speech
	if speech == nil {
		return errs.ErrCaptionsUnavailable
	}
	go func() {
		ctx, cancel := context.WithTimeout(r.ctx, r.reg.opts.SpeechTimeout)
		defer cancel()
		err := speech.Health(ctx)
		r.post(func() {
			if err != nil {
				r.captionsUnavailable(err)
				if c := r.clientOf(m.userID); c != nil {
					c.sendError(errs.ErrCaptionsUnavailable, model.EventToggleCaptions, "")
				}
				return
			}
			r.speechDown = false
			if err := r.setCaptions(true, ""); err != nil {
				r.log.Warn("enable captions failed", zap.Error(err))
			}
		})
	}()
	return nil
}

func (r *Room) setCaptions(enabled bool, reason string) error {
	if r.sess.SubtitleEnabled != enabled {
		ctx, cancel := r.storeCtx()
		defer cancel()
		if err := r.reg.store.UpdateSession(ctx, r.id, map[string]any{"subtitle_enabled": enabled}); err != nil {
			return err
		}
		r.sess.SubtitleEnabled = enabled
	}
	data := payload{"enabled": enabled}
	if reason != "" {
		data["reason"] = reason
	}
	r.broadcast(model.EventCaptionsStatus, data, "")
	return nil
}

// captionsUnavailable disables captions after a speech outage. The room gets one notice per
// outage; chat and signaling keep working.
func (r *Room) captionsUnavailable(err error) {
	if r.speechDown {
		return
	}
	r.speechDown = true
	r.log.Warn("speech service unavailable, captions disabled", zap.Error(err))
	if setErr := r.setCaptions(false, "speech service unavailable"); setErr != nil {
		r.log.Warn("disable captions failed", zap.Error(setErr))
	}
	r.system(r.sess.TeacherID, captionsUnavailableNotice)
}

// setTranslation updates translation settings; teacher only.
func (r *Room) setTranslation(userID string, req model.TranslationSettingsRequest) (*model.Session, error) {
	if !r.isOwner(userID) {
		return nil, errs.ErrTeacherOnly
	}
	langs := dedupeLanguages(req.Languages, "")
	if len(langs) == 0 {
		langs = []string(r.sess.AvailableLanguages)
	}
	if len(langs) == 0 {
		langs = []string{r.sess.DefaultLanguage}
	}
	ctx, cancel := r.storeCtx()
	defer cancel()
	if err := r.reg.store.UpdateSession(ctx, r.id, map[string]any{
		"translation_enabled": req.Enabled,
		"available_languages": pq.StringArray(langs),
	}); err != nil {
		return nil, err
	}
	r.sess.TranslationEnabled = req.Enabled
	r.sess.AvailableLanguages = pq.StringArray(langs)
	view := r.sess.ToView()
	view.ParticipantCount = len(r.members)
	return view, nil
}

func (r *Room) clientOf(userID string) *Client {
	if m, ok := r.members[userID]; ok {
		return m.client
	}
	return nil
}

func captionRowView(c *model.Caption) model.CaptionView {
	v := model.CaptionView{
		ID:         c.ID,
		SessionID:  c.SessionID,
		Text:       c.TextContent,
		Language:   c.Language,
		StartTime:  c.StartTime,
		EndTime:    c.EndTime,
		Confidence: c.ConfidenceScore,
	}
	if c.SpeakerID != nil {
		v.SpeakerID = *c.SpeakerID
	}
	return v
}
