package bots

import (
	"context"
	"log/slog"
	"strings"

	"github.com/poe-platform/poe-protocol/pkg/poe"
	"github.com/poe-platform/poe-protocol/pkg/server"
)

// CatBot is a demo bot that reacts to a few cat-related keywords. It
// exercises the full event surface: meta, text, suggested replies and
// settings.
type CatBot struct {
	server.BaseHandler
}

func (CatBot) GetResponse(ctx context.Context, request *poe.QueryRequest) <-chan poe.Event {
	events := make(chan poe.Event, 8)
	defer close(events)

	if len(request.Query) == 0 {
		events <- poe.ErrorEvent("empty query", false)
		return events
	}
	lastMessage := strings.ToLower(request.Query[len(request.Query)-1].Content)

	events <- poe.MetaEvent(poe.ContentTypeMarkdown, true, true)
	switch {
	case strings.Contains(lastMessage, "cardboard"):
		events <- poe.TextEvent("crunch ")
		events <- poe.TextEvent("crunch")
	case strings.Contains(lastMessage, "kitchen"),
		strings.Contains(lastMessage, "meal"),
		strings.Contains(lastMessage, "food"):
		events <- poe.TextEvent("meow ")
		events <- poe.TextEvent("meow")
		events <- poe.SuggestedReplyEvent("feed the cat")
	default:
		events <- poe.TextEvent("zzz")
	}
	return events
}

func (CatBot) GetSettings(ctx context.Context, request *poe.SettingsRequest) (*poe.SettingsResponse, error) {
	window := 60 * 60
	return &poe.SettingsResponse{
		ContextClearWindowSecs: &window,
		AllowUserContextClear:  true,
	}, nil
}

func (CatBot) OnFeedback(ctx context.Context, request *poe.ReportFeedbackRequest) error {
	slog.Info("user feedback",
		"user_id", request.UserID,
		"conversation_id", request.ConversationID,
		"message_id", request.MessageID,
		"feedback_type", request.FeedbackType)
	return nil
}
