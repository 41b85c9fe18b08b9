package poe

import (
	"context"
	"testing"
	"time"
)

func sourceStream(events ...StreamEvent) <-chan StreamEvent {
	ch := make(chan StreamEvent, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch
}

func TestMergeStreamsFansIn(t *testing.T) {
	left := sourceStream(
		StreamEvent{Message: &BotMessage{Text: "l1"}},
		StreamEvent{Message: &BotMessage{Text: "l2"}},
	)
	right := sourceStream(
		StreamEvent{Message: &BotMessage{Text: "r1"}},
	)

	merged := MergeStreams(context.Background(),
		LabeledStream{Label: "left", Events: left},
		LabeledStream{Label: "right", Events: right},
	)

	perLabel := map[string][]string{}
	for ev := range merged {
		perLabel[ev.Label] = append(perLabel[ev.Label], ev.Event.Message.Text)
	}

	if got := perLabel["left"]; len(got) != 2 || got[0] != "l1" || got[1] != "l2" {
		t.Errorf("per-source order must be preserved, got %v", got)
	}
	if got := perLabel["right"]; len(got) != 1 || got[0] != "r1" {
		t.Errorf("unexpected right stream: %v", got)
	}
}

func TestMergeStreamsClosesWhenSourcesClose(t *testing.T) {
	merged := MergeStreams(context.Background(),
		LabeledStream{Label: "a", Events: sourceStream()},
		LabeledStream{Label: "b", Events: sourceStream()},
	)

	select {
	case _, ok := <-merged:
		if ok {
			t.Fatal("empty sources must yield nothing")
		}
	case <-time.After(time.Second):
		t.Fatal("merged stream did not close")
	}
}

func TestMergeStreamsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	// A source that never closes. Cancellation must release its forwarder.
	stuck := make(chan StreamEvent, 1)
	stuck <- StreamEvent{Message: &BotMessage{Text: "only"}}

	merged := MergeStreams(ctx, LabeledStream{Label: "stuck", Events: stuck})

	ev := <-merged
	if ev.Event.Message == nil || ev.Event.Message.Text != "only" {
		t.Fatalf("expected the buffered element, got %+v", ev)
	}

	cancel()
	stuck <- StreamEvent{Message: &BotMessage{Text: "late"}}

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-merged:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("merged stream did not close after cancellation")
		}
	}
}
