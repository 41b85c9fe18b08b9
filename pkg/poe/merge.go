package poe

import (
	"context"
	"sync"
)

// LabeledStream pairs a source label with its reply stream, for fan-in over
// several bots answering the same query.
type LabeledStream struct {
	Label  string
	Events <-chan StreamEvent
}

// LabeledStreamEvent is one element of a merged stream, tagged with the
// source it came from.
type LabeledStreamEvent struct {
	Label string
	Event StreamEvent
}

// MergeStreams fans in several reply streams into one channel, yielding each
// element as its source produces it. Order is preserved within one source but
// not across sources. A source leaves the merge when its channel closes; the
// returned channel closes once every source has completed or ctx is canceled.
func MergeStreams(ctx context.Context, streams ...LabeledStream) <-chan LabeledStreamEvent {
	out := make(chan LabeledStreamEvent)

	var wg sync.WaitGroup
	for _, stream := range streams {
		wg.Add(1)
		go func(stream LabeledStream) {
			defer wg.Done()
			for ev := range stream.Events {
				select {
				case out <- LabeledStreamEvent{Label: stream.Label, Event: ev}:
				case <-ctx.Done():
					return
				}
			}
		}(stream)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}
