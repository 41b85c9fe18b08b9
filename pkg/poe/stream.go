package poe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultNumTries is how many physical attempts back one logical
	// reply stream.
	DefaultNumTries = 2

	// DefaultRetryDelay is the fixed pause between attempts.
	DefaultRetryDelay = 500 * time.Millisecond
)

// Client calls remote bots over the query protocol. It wraps each call in
// bounded retry-on-failure semantics: up to NumTries fresh connection
// attempts, never retrying once partial output has been delivered or the bot
// declared the failure non-recoverable.
//
// A Client is safe for concurrent use; the underlying http.Client is shared
// across simultaneous streams.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	numTries   int
	retryDelay time.Duration
	onError    ErrorHandler
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient supplies a shared http.Client. The default carries no
// overall timeout; streams are bounded by the caller's context instead.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithBaseURL overrides the endpoint prefix bot names are appended to.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithNumTries bounds the physical attempts per logical call.
func WithNumTries(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.numTries = n
		}
	}
}

// WithRetryDelay sets the fixed pause between attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) {
		c.retryDelay = d
	}
}

// WithErrorHandler installs the error observer invoked for every failure and
// protocol violation. The default logs through slog.
func WithErrorHandler(h ErrorHandler) Option {
	return func(c *Client) {
		c.onError = h
	}
}

func defaultErrorHandler(err error, message string) {
	slog.Error("poe bot error", "message", message, "error", err)
}

// NewClient creates a client authenticating with apiKey.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{},
		baseURL:    DefaultBaseURL,
		apiKey:     apiKey,
		numTries:   DefaultNumTries,
		retryDelay: DefaultRetryDelay,
		onError:    defaultErrorHandler,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) context(botName string) *botContext {
	return &botContext{
		endpoint:   c.baseURL + botName,
		apiKey:     c.apiKey,
		httpClient: c.httpClient,
		onError:    c.onError,
	}
}

// StreamRequest streams botName's reply to request. The returned channel
// yields the reply messages in arrival order and is closed when the reply
// completes; a terminal failure is delivered as the final element's Err.
//
// Failed attempts that produced no output are retried on a fresh connection
// after the retry delay, up to the attempt ceiling. Cancel ctx to abandon
// the stream; the underlying connection is released immediately.
func (c *Client) StreamRequest(ctx context.Context, request *QueryRequest, botName string) <-chan StreamEvent {
	out := make(chan StreamEvent)

	go func() {
		defer close(out)

		bc := c.context(botName)
		gotResponse := false

		for i := 0; i < c.numTries; i++ {
			err := c.runAttempt(ctx, bc, request, out, &gotResponse)
			if err == nil {
				return
			}
			if ctx.Err() != nil {
				return
			}

			c.onError(err, fmt.Sprintf("Bot request to %s failed on try %d", botName, i))

			var fatal *BotErrorNoRetry
			if errors.As(err, &fatal) {
				c.deliver(ctx, out, StreamEvent{Err: err})
				return
			}
			if gotResponse || i == c.numTries-1 {
				// Partial output already observed by the caller
				// cannot be superseded by a silent retry.
				c.deliver(ctx, out, StreamEvent{Err: &BotError{
					Message: fmt.Sprintf("Error communicating with bot %s", botName),
					Err:     err,
				}})
				return
			}

			select {
			case <-time.After(c.retryDelay):
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// runAttempt drives one physical connection attempt, forwarding its output
// to out. It returns nil on clean completion and the terminal failure
// otherwise.
func (c *Client) runAttempt(ctx context.Context, bc *botContext, request *QueryRequest, out chan<- StreamEvent, gotResponse *bool) error {
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for item := range bc.performQuery(attemptCtx, request) {
		if item.Err != nil {
			return item.Err
		}
		select {
		case out <- item:
			*gotResponse = true
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (c *Client) deliver(ctx context.Context, out chan<- StreamEvent, ev StreamEvent) {
	select {
	case out <- ev:
	case <-ctx.Done():
	}
}

// GetFinalResponse reduces botName's reply to request into a single string,
// collapsing replace_response semantics and dropping meta events and
// suggested replies. A reply with no body text at all is an error on this
// path.
func (c *Client) GetFinalResponse(ctx context.Context, request *QueryRequest, botName string) (string, error) {
	var chunks []string
	for ev := range c.StreamRequest(ctx, request, botName) {
		if ev.Err != nil {
			return "", ev.Err
		}
		if ev.Meta != nil {
			continue
		}
		msg := ev.Message
		if msg.IsSuggestedReply {
			continue
		}
		if msg.IsReplaceResponse {
			chunks = chunks[:0]
		}
		chunks = append(chunks, msg.Text)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(chunks) == 0 {
		return "", &BotError{Message: fmt.Sprintf("Bot %s sent no response", botName)}
	}
	return strings.Join(chunks, ""), nil
}

// FetchSettings retrieves botName's settings.
func (c *Client) FetchSettings(ctx context.Context, botName string) (*SettingsResponse, error) {
	return c.context(botName).fetchSettings(ctx)
}

// ReportFeedback forwards user feedback on a message to botName.
func (c *Client) ReportFeedback(ctx context.Context, botName string, messageID, userID, conversationID Identifier, feedbackType FeedbackType) error {
	return c.context(botName).reportFeedback(ctx, messageID, userID, conversationID, feedbackType)
}
