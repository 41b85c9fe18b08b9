package poe

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrorHandler observes failures for logging or metrics without coupling the
// client to a logging facility. err is the failure, message a human-readable
// description of where it happened.
type ErrorHandler func(err error, message string)

// StreamEvent is one element of the logical reply stream. Exactly one of
// Message, Meta and Err is set. A closed stream with no Err means the reply
// completed cleanly.
type StreamEvent struct {
	Message *BotMessage
	Meta    *MetaMessage
	Err     error
}

// botContext owns the HTTP exchanges against one bot endpoint. Each instance
// is exclusively owned by one logical call; the http.Client behind it may be
// shared freely.
type botContext struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	onError    ErrorHandler
}

func (bc *botContext) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+bc.apiKey)
}

func (bc *botContext) post(ctx context.Context, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, bc.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	bc.setHeaders(req)

	return bc.httpClient.Do(req)
}

// reportError fires a best-effort report_error call back to the bot. It is
// diagnostic only: failures are swallowed, never propagated into the primary
// flow.
func (bc *botContext) reportError(ctx context.Context, message string, metadata map[string]any) {
	if bc.onError != nil {
		long := fmt.Sprintf("Protocol bot error: %s with metadata %v for endpoint %s",
			message, metadata, bc.endpoint)
		bc.onError(&BotError{Message: message}, long)
	}

	if metadata == nil {
		metadata = map[string]any{}
	}
	resp, err := bc.post(ctx, ReportErrorRequest{
		BaseRequest: BaseRequest{Version: ProtocolVersion, Type: RequestTypeReportError},
		Message:     message,
		Metadata:    metadata,
	})
	if err != nil {
		return
	}
	resp.Body.Close()
}

// reportFeedback forwards user feedback on a message to the bot.
func (bc *botContext) reportFeedback(ctx context.Context, messageID, userID, conversationID Identifier, feedbackType FeedbackType) error {
	resp, err := bc.post(ctx, ReportFeedbackRequest{
		BaseRequest:    BaseRequest{Version: ProtocolVersion, Type: RequestTypeReportFeedback},
		MessageID:      messageID,
		UserID:         userID,
		ConversationID: conversationID,
		FeedbackType:   feedbackType,
	})
	if err != nil {
		return fmt.Errorf("failed to report feedback: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("feedback report failed: %s - %s", resp.Status, body)
	}
	return nil
}

// fetchSettings performs a settings request and validates the response shape.
func (bc *botContext) fetchSettings(ctx context.Context) (*SettingsResponse, error) {
	resp, err := bc.post(ctx, SettingsRequest{
		BaseRequest: BaseRequest{Version: ProtocolVersion, Type: RequestTypeSettings},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch settings: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("settings fetch failed: %s - %s", resp.Status, body)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings response: %w", err)
	}

	settings := &SettingsResponse{AllowUserContextClear: true}
	if err := json.Unmarshal(body, settings); err != nil {
		return nil, &InvalidSettingsError{Reason: "response does not match settings schema", Err: err}
	}
	return settings, nil
}

// performQuery opens one streaming exchange for request and lazily yields the
// parsed reply stream. The returned sequence is finite and not restartable;
// a retrying caller must perform a fresh query per attempt. The network
// resource is released on every exit path, including consumer cancellation
// via ctx.
func (bc *botContext) performQuery(ctx context.Context, request *QueryRequest) <-chan StreamEvent {
	events := make(chan StreamEvent)

	go func() {
		defer close(events)

		send := func(ev StreamEvent) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		resp, err := bc.post(ctx, request)
		if err != nil {
			send(StreamEvent{Err: &BotError{Message: "bot connection failed", Err: err}})
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			send(StreamEvent{Err: &BotError{
				Message: fmt.Sprintf("bot returned %s: %s", resp.Status, safeEllipsis(string(body), 500)),
			}})
			return
		}

		cls := newClassifier(request)
		scanner := bufio.NewScanner(resp.Body)
		// A limit-length reply whose text arrives ASCII-escaped can put
		// well over 64KB on a single data line.
		scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
		var eventType, eventData string

		for scanner.Scan() {
			line := scanner.Text()

			// SSE framing: "event: type", "data: payload", blank line
			// terminates one event.
			switch {
			case strings.HasPrefix(line, "event:"):
				eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				eventData = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			case line == "":
				if eventType == "" {
					// A data line without an event name belongs to
					// nothing; drop it rather than letting it attach
					// to the next named event.
					eventData = ""
					continue
				}
				out := cls.classify(Event{Type: eventType, Data: eventData})
				eventType, eventData = "", ""

				if out.violation != nil {
					bc.reportError(ctx, out.violation.message, out.violation.metadata)
				}
				if out.err != nil {
					send(StreamEvent{Err: out.err})
					return
				}
				if out.meta != nil && !send(StreamEvent{Meta: out.meta}) {
					return
				}
				if out.message != nil && !send(StreamEvent{Message: out.message}) {
					return
				}
				if out.done {
					return
				}
			}
		}

		if err := scanner.Err(); err != nil {
			if ctx.Err() != nil {
				return
			}
			send(StreamEvent{Err: &BotError{Message: "bot stream failed", Err: err}})
			return
		}

		// Clean EOF without a done event. The transcript so far stands;
		// report the violation and end the stream normally.
		bc.reportError(ctx, "Bot exited without sending 'done' event",
			map[string]any{"message_id": request.MessageID})
	}()

	return events
}
