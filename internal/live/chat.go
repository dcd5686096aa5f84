package live

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/psds-microservice/live-session-service/internal/errs"
	"github.com/psds-microservice/live-session-service/internal/model"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// chat persists a chat line and delivers it to the room in arrival order. Requested
// translations follow later as separate translation messages.
func (r *Room) chat(m *member, data json.RawMessage) error {
	var req model.ChatSendRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return errs.ErrInvalidMessage
	}
	req.Message = strings.TrimSpace(req.Message)
	if err := r.reg.validate.Struct(&req); err != nil {
		return errs.ErrInvalidMessage
	}
	if !m.limiter.Allow() {
		return errs.ErrRateLimited
	}

	msg := &model.Message{
		ID:          uuid.New().String(),
		SessionID:   r.id,
		UserID:      m.userID,
		Message:     req.Message,
		MessageType: string(model.MessageChat),
		Language:    r.sess.DefaultLanguage,
		Timestamp:   time.Now().UTC(),
	}
	if err := r.appendMessage(msg); err != nil {
		return err
	}
	if len(req.TranslateTo) > 0 {
		r.translateChat(msg, req.TranslateTo)
	}
	return nil
}

// system appends a system line attributed to userID.
func (r *Room) system(userID, text string) {
	msg := &model.Message{
		ID:          uuid.New().String(),
		SessionID:   r.id,
		UserID:      userID,
		Message:     text,
		MessageType: string(model.MessageSystem),
		Language:    r.sess.DefaultLanguage,
		Timestamp:   time.Now().UTC(),
	}
	if err := r.appendMessage(msg); err != nil {
		r.log.Warn("system message not stored", zap.String("text", text), zap.Error(err))
	}
}

func (r *Room) appendMessage(msg *model.Message) error {
	ctx, cancel := r.storeCtx()
	defer cancel()
	if err := r.reg.store.CreateMessage(ctx, msg); err != nil {
		return err
	}
	r.broadcast(model.EventChatMessage, msg.ToView(), "")
	return nil
}

// translateChat requests translations off the actor; each result is appended when it arrives.
func (r *Room) translateChat(src *model.Message, targets []string) {
	tr := r.reg.translator
	if tr == nil {
		return
	}
	langs := dedupeLanguages(targets, src.Language)
	if len(langs) == 0 {
		return
	}
	text, source := src.Message, src.Language
	go func() {
		results := translateAll(r.ctx, tr, r.reg.opts.TranslationTimeout, text, source, langs, r.log)
		for _, lang := range langs {
			t, ok := results[lang]
			if !ok {
				continue
			}
			original := src.Message
			msg := &model.Message{
				ID:              uuid.New().String(),
				SessionID:       src.SessionID,
				UserID:          src.UserID,
				Message:         t.Text,
				MessageType:     string(model.MessageTranslation),
				Language:        lang,
				IsTranslated:    true,
				OriginalMessage: &original,
				Timestamp:       time.Now().UTC(),
			}
			r.post(func() {
				if err := r.appendMessage(msg); err != nil {
					r.log.Warn("translation message not stored", zap.Error(err))
				}
			})
		}
	}()
}

// translateAll fans text out to every target language in parallel. Each call gets its own
// timeout; failed languages are left out of the result.
func translateAll(ctx context.Context, tr Translator, timeout time.Duration, text, source string, targets []string, log *zap.Logger) map[string]model.CaptionTranslation {
	var mu sync.Mutex
	out := make(map[string]model.CaptionTranslation, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	for _, lang := range targets {
		lang := lang
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, timeout)
			defer cancel()
			res, err := tr.Translate(cctx, text, source, lang)
			if err != nil {
				log.Debug("translation omitted", zap.String("language", lang), zap.Error(err))
				return nil
			}
			mu.Lock()
			out[lang] = *res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func dedupeLanguages(langs []string, exclude string) []string {
	seen := map[string]bool{exclude: true}
	out := make([]string, 0, len(langs))
	for _, l := range langs {
		l = strings.ToLower(strings.TrimSpace(l))
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}
