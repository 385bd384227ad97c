// Package events turns committed domain mutations into plugin hook
// invocations. Every method is fire-and-forget: it builds the hook context for
// the event kind, stamps the current time and hands it to the emitter.
package events

import (
	"context"
	"time"

	"Woe-Notify/pkg/plugin"
)

// Emitter dispatches one event to a user's loaded plugins.
type Emitter interface {
	Emit(ctx context.Context, userID int64, event plugin.Event, pctx plugin.Context)
}

// Source is called by the notification pipeline after each mutation commits.
type Source struct {
	emitter Emitter
	now     func() time.Time
}

// NewSource returns a source that stamps contexts with time.Now.
func NewSource(emitter Emitter) *Source {
	return &Source{emitter: emitter, now: time.Now}
}

// WithClock returns a copy of s reading the time from now.
func (s *Source) WithClock(now func() time.Time) *Source {
	clone := *s
	if now != nil {
		clone.now = now
	}
	return &clone
}

// MessageCreated fires message.create with the full message payload.
func (s *Source) MessageCreated(ctx context.Context, userID int64, msg plugin.Message) {
	s.emit(ctx, userID, plugin.EventMessageCreate, func(pctx *plugin.Context) {
		pctx.Message = &msg
	})
}

// MessageDeleted fires message.delete. Only the id survives deletion; the
// application id is 0 and the content empty.
func (s *Source) MessageDeleted(ctx context.Context, userID, messageID int64) {
	s.emit(ctx, userID, plugin.EventMessageDelete, func(pctx *plugin.Context) {
		pctx.Message = &plugin.Message{ID: messageID, AppID: 0, Content: ""}
	})
}

// MessagesCleared fires message.delete without a message, as sent when a user
// deletes all messages at once.
func (s *Source) MessagesCleared(ctx context.Context, userID int64) {
	s.emit(ctx, userID, plugin.EventMessageDelete, nil)
}

// ApplicationCreated fires application.create.
func (s *Source) ApplicationCreated(ctx context.Context, userID int64, app plugin.Application) {
	s.emit(ctx, userID, plugin.EventApplicationCreate, func(pctx *plugin.Context) {
		pctx.Application = &app
	})
}

// ClientCreated fires client.create.
func (s *Source) ClientCreated(ctx context.Context, userID int64, client plugin.Client) {
	s.emit(ctx, userID, plugin.EventClientCreate, func(pctx *plugin.Context) {
		pctx.Client = &client
	})
}

func (s *Source) emit(ctx context.Context, userID int64, event plugin.Event, fill func(*plugin.Context)) {
	if s == nil || s.emitter == nil {
		return
	}
	pctx := plugin.Context{UserID: userID, Now: plugin.Timestamp(s.now())}
	if fill != nil {
		fill(&pctx)
	}
	s.emitter.Emit(ctx, userID, event, pctx)
}
