package bots

import (
	"context"
	"fmt"
	"strings"

	"github.com/poe-platform/poe-protocol/pkg/poe"
	"github.com/poe-platform/poe-protocol/pkg/server"
)

// BattleBot delegates each query to several remote bots at once and renders
// their replies side by side, re-emitting the combined transcript as a
// replace_response after every fragment.
type BattleBot struct {
	server.BaseHandler

	Client *poe.Client
	Bots   []string
}

func (b *BattleBot) GetResponse(ctx context.Context, request *poe.QueryRequest) <-chan poe.Event {
	events := make(chan poe.Event)

	go func() {
		defer close(events)

		streams := make([]poe.LabeledStream, len(b.Bots))
		for i, name := range b.Bots {
			streams[i] = poe.LabeledStream{
				Label:  name,
				Events: b.Client.StreamRequest(ctx, request, name),
			}
		}

		responses := make(map[string][]string)
		for merged := range poe.MergeStreams(ctx, streams...) {
			ev := merged.Event
			switch {
			case ev.Err != nil:
				send(ctx, events, poe.ErrorEvent(ev.Err.Error(), poe.IsRetryable(ev.Err)))
				return
			case ev.Meta != nil:
				continue
			case ev.Message.IsSuggestedReply:
				if !send(ctx, events, poe.SuggestedReplyEvent(ev.Message.Text)) {
					return
				}
				continue
			case ev.Message.IsReplaceResponse:
				responses[merged.Label] = []string{ev.Message.Text}
			default:
				responses[merged.Label] = append(responses[merged.Label], ev.Message.Text)
			}
			if !send(ctx, events, poe.ReplaceResponseEvent(b.render(responses))) {
				return
			}
		}
	}()

	return events
}

// render lays out the transcripts in the configured bot order, skipping bots
// that have produced nothing yet.
func (b *BattleBot) render(responses map[string][]string) string {
	var sections []string
	for _, name := range b.Bots {
		chunks, ok := responses[name]
		if !ok {
			continue
		}
		sections = append(sections, fmt.Sprintf("**%s** says:\n%s", name, strings.Join(chunks, "")))
	}
	return strings.Join(sections, "\n\n")
}

func send(ctx context.Context, events chan<- poe.Event, ev poe.Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
