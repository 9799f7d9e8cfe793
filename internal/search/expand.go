package search

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/bwads001/claude-conversation-analyzer/internal/store"
)

const (
	DefaultExpandWindow = 10
	MaxExpandWindow     = 200
)

// ExpandRequest selects a conversation and optionally a window around one
// message, identified by its original uuid or its row id.
type ExpandRequest struct {
	ConversationID  uuid.UUID `json:"conversation_id"`
	AnchorMessageID string    `json:"message_id,omitempty"`
	Window          int       `json:"window,omitempty"`
}

// Expansion is a read-only view of a conversation.
type Expansion struct {
	Conversation *store.Conversation    `json:"conversation"`
	Anchor       string                 `json:"anchor,omitempty"`
	Window       int                    `json:"window,omitempty"`
	Messages     []store.Message        `json:"messages"`
	Events       []store.TechnicalEvent `json:"events,omitempty"`
}

// Expand returns the whole conversation, or the messages whose seq lies
// within Window of the anchor. An unknown conversation or anchor yields
// store.ErrNotFound.
func (e *Engine) Expand(ctx context.Context, req ExpandRequest) (*Expansion, error) {
	if req.ConversationID == uuid.Nil {
		return nil, fmt.Errorf("%w: conversation id required", ErrInvalidQuery)
	}
	if req.Window < 0 {
		return nil, fmt.Errorf("%w: window must not be negative", ErrInvalidQuery)
	}
	conv, err := e.store.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}

	out := &Expansion{Conversation: conv, Anchor: req.AnchorMessageID}
	if req.AnchorMessageID == "" {
		out.Messages, err = e.store.ListMessages(ctx, conv.ID)
	} else {
		w := req.Window
		switch {
		case w == 0:
			w = DefaultExpandWindow
		case w > MaxExpandWindow:
			w = MaxExpandWindow
		}
		out.Window = w
		out.Messages, err = e.store.MessageWindow(ctx, conv.ID, req.AnchorMessageID, w)
	}
	if err != nil {
		return nil, err
	}

	events, err := e.store.ListEvents(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	in := make(map[uuid.UUID]bool, len(out.Messages))
	for _, m := range out.Messages {
		in[m.ID] = true
	}
	for _, ev := range events {
		if in[ev.MessageID] {
			out.Events = append(out.Events, ev)
		}
	}
	if out.Messages == nil {
		out.Messages = []store.Message{}
	}
	return out, nil
}
