// Package bots contains sample bot handlers built on the protocol server.
package bots

import (
	"context"

	"github.com/poe-platform/poe-protocol/pkg/poe"
	"github.com/poe-platform/poe-protocol/pkg/server"
)

// EchoBot replies with the user's last message.
type EchoBot struct {
	server.BaseHandler
}

func (EchoBot) GetResponse(ctx context.Context, request *poe.QueryRequest) <-chan poe.Event {
	events := make(chan poe.Event, 1)
	defer close(events)

	if len(request.Query) == 0 {
		events <- poe.ErrorEvent("empty query", false)
		return events
	}
	events <- poe.TextEvent(request.Query[len(request.Query)-1].Content)
	return events
}
