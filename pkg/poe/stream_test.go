package poe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestClient(ts *httptest.Server, opts ...Option) *Client {
	base := []Option{
		WithBaseURL(ts.URL + "/"),
		WithHTTPClient(ts.Client()),
		WithRetryDelay(time.Millisecond),
		WithErrorHandler(func(err error, message string) {}),
	}
	return NewClient("secret-key", append(base, opts...)...)
}

func TestStreamRequestHappyPath(t *testing.T) {
	bot := &fakeBot{
		onQuery: func(n int, w http.ResponseWriter, r *http.Request) {
			writeSSE(w,
				MetaEvent(ContentTypeMarkdown, false, true),
				TextEvent("meow "),
				TextEvent("meow"),
				DoneEvent(),
			)
		},
	}
	ts := httptest.NewServer(bot)
	defer ts.Close()

	client := newTestClient(ts)
	got := drain(client.StreamRequest(context.Background(), testRequest(), "catbot"))

	if len(got.errs) != 0 {
		t.Fatalf("unexpected errors: %v", got.errs)
	}
	if len(got.metas) != 1 || len(got.messages) != 2 {
		t.Fatalf("expected 1 meta and 2 messages, got %+v", got)
	}
	if n := bot.queryCount(); n != 1 {
		t.Errorf("a clean reply takes one attempt, got %d", n)
	}
}

func TestStreamRequestFatalErrorStopsRetrying(t *testing.T) {
	bot := &fakeBot{
		onQuery: func(n int, w http.ResponseWriter, r *http.Request) {
			writeSSE(w,
				TextEvent("a"),
				ErrorEvent("broken permanently", false),
			)
		},
	}
	ts := httptest.NewServer(bot)
	defer ts.Close()

	var observed []string
	client := newTestClient(ts,
		WithNumTries(5),
		WithErrorHandler(func(err error, message string) {
			observed = append(observed, message)
		}),
	)

	got := drain(client.StreamRequest(context.Background(), testRequest(), "bot"))

	if len(got.messages) != 1 || got.messages[0].Text != "a" {
		t.Fatalf("the fragment before the failure must be delivered: %+v", got.messages)
	}
	if len(got.errs) != 1 || IsRetryable(got.errs[0]) {
		t.Fatalf("expected one non-retryable error, got %+v", got.errs)
	}
	if n := bot.queryCount(); n != 1 {
		t.Errorf("a non-retryable failure must not be retried, got %d attempts", n)
	}
	if len(observed) != 1 || !strings.Contains(observed[0], "failed on try 0") {
		t.Errorf("observer should see the failed attempt, got %v", observed)
	}
}

func TestStreamRequestRetriesServerError(t *testing.T) {
	bot := &fakeBot{
		onQuery: func(n int, w http.ResponseWriter, r *http.Request) {
			if n == 1 {
				http.Error(w, "temporary", http.StatusInternalServerError)
				return
			}
			writeSSE(w, TextEvent("hi"), DoneEvent())
		},
	}
	ts := httptest.NewServer(bot)
	defer ts.Close()

	client := newTestClient(ts)
	got := drain(client.StreamRequest(context.Background(), testRequest(), "bot"))

	if len(got.errs) != 0 {
		t.Fatalf("second attempt should succeed: %v", got.errs)
	}
	if len(got.messages) != 1 || got.messages[0].Text != "hi" {
		t.Fatalf("only the successful attempt's output is delivered: %+v", got.messages)
	}
	if n := bot.queryCount(); n != 2 {
		t.Errorf("expected 2 attempts, got %d", n)
	}
}

func TestStreamRequestNoRetryAfterOutput(t *testing.T) {
	bot := &fakeBot{
		onQuery: func(n int, w http.ResponseWriter, r *http.Request) {
			writeSSE(w,
				TextEvent("partial"),
				ErrorEvent("lost the plot", true),
			)
		},
	}
	ts := httptest.NewServer(bot)
	defer ts.Close()

	client := newTestClient(ts, WithNumTries(5))
	got := drain(client.StreamRequest(context.Background(), testRequest(), "bot"))

	if len(got.messages) != 1 || got.messages[0].Text != "partial" {
		t.Fatalf("the delivered fragment stands: %+v", got.messages)
	}
	if len(got.errs) != 1 {
		t.Fatalf("expected a terminal error, got %+v", got.errs)
	}
	if n := bot.queryCount(); n != 1 {
		t.Errorf("delivered output forbids retry, got %d attempts", n)
	}
}

func TestStreamRequestExhaustsRetries(t *testing.T) {
	bot := &fakeBot{
		onQuery: func(n int, w http.ResponseWriter, r *http.Request) {
			http.Error(w, "down", http.StatusBadGateway)
		},
	}
	ts := httptest.NewServer(bot)
	defer ts.Close()

	var mu sync.Mutex
	var observed []string
	client := newTestClient(ts, WithErrorHandler(func(err error, message string) {
		mu.Lock()
		observed = append(observed, message)
		mu.Unlock()
	}))

	got := drain(client.StreamRequest(context.Background(), testRequest(), "somebot"))

	if len(got.errs) != 1 {
		t.Fatalf("expected one terminal error, got %+v", got.errs)
	}
	if !strings.Contains(got.errs[0].Error(), "Error communicating with bot somebot") {
		t.Errorf("terminal error should name the bot: %v", got.errs[0])
	}
	if n := bot.queryCount(); n != DefaultNumTries {
		t.Errorf("expected %d attempts, got %d", DefaultNumTries, n)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(observed) != DefaultNumTries {
		t.Errorf("observer should see every failed attempt, got %v", observed)
	}
}

func TestStreamRequestCancellation(t *testing.T) {
	first := make(chan struct{})
	bot := &fakeBot{
		onQuery: func(n int, w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			writeSSE(w, TextEvent("started"))
			w.(http.Flusher).Flush()
			close(first)
			<-r.Context().Done()
		},
	}
	ts := httptest.NewServer(bot)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := newTestClient(ts)
	stream := client.StreamRequest(ctx, testRequest(), "bot")

	ev := <-stream
	if ev.Message == nil || ev.Message.Text != "started" {
		t.Fatalf("expected the first fragment, got %+v", ev)
	}
	<-first
	cancel()

	closed := make(chan struct{})
	go func() {
		for range stream {
		}
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not close after cancellation")
	}
}

func TestGetFinalResponse(t *testing.T) {
	t.Run("concatenates fragments", func(t *testing.T) {
		bot := &fakeBot{
			onQuery: func(n int, w http.ResponseWriter, r *http.Request) {
				writeSSE(w,
					MetaEvent(ContentTypeMarkdown, false, false),
					TextEvent("meow "),
					TextEvent("meow"),
					SuggestedReplyEvent("feed the cat"),
					DoneEvent(),
				)
			},
		}
		ts := httptest.NewServer(bot)
		defer ts.Close()

		text, err := newTestClient(ts).GetFinalResponse(context.Background(), testRequest(), "catbot")
		if err != nil {
			t.Fatalf("GetFinalResponse: %v", err)
		}
		if text != "meow meow" {
			t.Errorf("expected %q, got %q", "meow meow", text)
		}
	})

	t.Run("replace discards earlier fragments", func(t *testing.T) {
		bot := &fakeBot{
			onQuery: func(n int, w http.ResponseWriter, r *http.Request) {
				writeSSE(w,
					TextEvent("a"),
					ReplaceResponseEvent("b"),
					TextEvent("c"),
					DoneEvent(),
				)
			},
		}
		ts := httptest.NewServer(bot)
		defer ts.Close()

		text, err := newTestClient(ts).GetFinalResponse(context.Background(), testRequest(), "bot")
		if err != nil {
			t.Fatalf("GetFinalResponse: %v", err)
		}
		if text != "bc" {
			t.Errorf("expected %q, got %q", "bc", text)
		}
	})

	t.Run("empty reply is an error", func(t *testing.T) {
		bot := &fakeBot{
			onQuery: func(n int, w http.ResponseWriter, r *http.Request) {
				writeSSE(w, DoneEvent())
			},
		}
		ts := httptest.NewServer(bot)
		defer ts.Close()

		_, err := newTestClient(ts).GetFinalResponse(context.Background(), testRequest(), "quietbot")
		if err == nil || !strings.Contains(err.Error(), "sent no response") {
			t.Fatalf("expected a no-response error, got %v", err)
		}
	})

	t.Run("stream error propagates", func(t *testing.T) {
		bot := &fakeBot{
			onQuery: func(n int, w http.ResponseWriter, r *http.Request) {
				writeSSE(w, ErrorEvent("nope", false))
			},
		}
		ts := httptest.NewServer(bot)
		defer ts.Close()

		_, err := newTestClient(ts).GetFinalResponse(context.Background(), testRequest(), "bot")
		if err == nil || IsRetryable(err) {
			t.Fatalf("expected a non-retryable error, got %v", err)
		}
	})
}
