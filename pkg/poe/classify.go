package poe

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// violation is a detected deviation from the wire contract. Violations are
// reported to the bot over the report_error side channel; on their own they
// do not abort the stream.
type violation struct {
	message  string
	metadata map[string]any
}

// outcome is the classifier's decision for one wire event. At most one of
// message, meta and done is set; violation and err may accompany any of them.
// A non-nil err terminates the stream.
type outcome struct {
	message   *BotMessage
	meta      *MetaMessage
	done      bool
	violation *violation
	err       error
}

// classifier holds the running state of one physical reply stream: the event
// ordinal, the committed body length and whether anything was reported yet.
// A fresh classifier is created per connection attempt and never reused.
type classifier struct {
	request    *QueryRequest
	eventCount int
	bodyLength int
	gotText    bool
	reported   bool
}

func newClassifier(request *QueryRequest) *classifier {
	return &classifier{request: request}
}

// classify maps one wire event to its outcome and advances the stream state.
func (c *classifier) classify(ev Event) outcome {
	c.eventCount++
	if c.eventCount > MaxEventCount {
		return outcome{
			violation: &violation{"Bot returned too many events", c.metadata(nil)},
			err:       noRetryError("bot returned too many events"),
		}
	}

	switch ev.Type {
	case EventDone:
		out := outcome{done: true}
		// Don't send a report if the bot was already told about some
		// other mistake on this stream.
		if !c.gotText && !c.reported {
			out.violation = &violation{"Bot returned no text in response", c.metadata(nil)}
		}
		return out

	case EventText:
		return c.textOutcome(ev, false)

	case EventReplaceResponse:
		return c.textOutcome(ev, true)

	case EventSuggestedReply:
		text, fail := c.extractText(ev, "suggested_reply")
		if fail != nil {
			return *fail
		}
		return outcome{message: &BotMessage{
			Text:             text,
			Raw:              ev,
			Request:          c.request,
			IsSuggestedReply: true,
		}}

	case EventMeta:
		// A meta event that is not the first event of the stream is
		// dropped without a report.
		if c.eventCount != 1 {
			return outcome{}
		}
		return c.metaOutcome(ev)

	case EventError:
		return c.errorOutcome(ev)

	case EventPing:
		// Transport keep-alive, not part of the logical protocol.
		return outcome{}

	default:
		c.reported = true
		return outcome{violation: &violation{
			fmt.Sprintf("Unknown event type: %s", safeEllipsis(ev.Type, 100)),
			c.metadata(map[string]any{"event_data": safeEllipsis(ev.Data, 500)}),
		}}
	}
}

// textOutcome commits one body fragment, enforcing the length ceiling.
// A replace_response fragment discards all previously committed text first.
func (c *classifier) textOutcome(ev Event, replace bool) outcome {
	context := EventText
	if replace {
		context = EventReplaceResponse
	}
	text, fail := c.extractText(ev, context)
	if fail != nil {
		return *fail
	}

	if replace {
		c.bodyLength = 0
	}
	c.bodyLength += utf8.RuneCountInString(text)
	if c.bodyLength > MessageLengthLimit {
		return outcome{
			violation: &violation{"Bot returned too much text", c.metadata(map[string]any{
				"response_length": c.bodyLength,
			})},
			err: noRetryError("bot returned too much text"),
		}
	}

	c.gotText = true
	return outcome{message: &BotMessage{
		Text:              text,
		Raw:               ev,
		Request:           c.request,
		IsReplaceResponse: replace,
	}}
}

func (c *classifier) metaOutcome(ev Event) outcome {
	fields, fail := c.decodeObject(ev, EventMeta)
	if fail != nil {
		return *fail
	}

	linkify := false
	if raw, ok := fields["linkify"]; ok {
		if err := json.Unmarshal(raw, &linkify); err != nil {
			c.reported = true
			return outcome{violation: &violation{
				"Invalid linkify value in 'meta' event",
				c.metadata(map[string]any{"linkify": string(raw)}),
			}}
		}
	}

	suggestedReplies := false
	if raw, ok := fields["suggested_replies"]; ok {
		if err := json.Unmarshal(raw, &suggestedReplies); err != nil {
			c.reported = true
			return outcome{violation: &violation{
				"Invalid suggested_replies value in 'meta' event",
				c.metadata(map[string]any{"suggested_replies": string(raw)}),
			}}
		}
	}

	contentType := ContentTypeMarkdown
	if raw, ok := fields["content_type"]; ok {
		if err := json.Unmarshal(raw, &contentType); err != nil {
			c.reported = true
			return outcome{violation: &violation{
				"Invalid content_type value in 'meta' event",
				c.metadata(map[string]any{"content_type": string(raw)}),
			}}
		}
	}

	return outcome{meta: &MetaMessage{
		BotMessage: BotMessage{
			Raw:     ev,
			Request: c.request,
		},
		Linkify:          linkify,
		SuggestedReplies: suggestedReplies,
		ContentType:      contentType,
	}}
}

func (c *classifier) errorOutcome(ev Event) outcome {
	fields, fail := c.decodeObject(ev, EventError)
	if fail != nil {
		return *fail
	}

	allowRetry := true
	if raw, ok := fields["allow_retry"]; ok {
		// A malformed allow_retry value keeps the default.
		_ = json.Unmarshal(raw, &allowRetry)
	}

	if allowRetry {
		return outcome{err: &BotError{Message: ev.Data}}
	}
	return outcome{err: noRetryError(ev.Data)}
}

// extractText pulls the mandatory string "text" field out of a text-bearing
// event's payload. Extraction failure is fatal: bad client-visible JSON from
// a bot cannot be fixed by retrying the exact same request.
func (c *classifier) extractText(ev Event, context string) (string, *outcome) {
	fields, fail := c.decodeObject(ev, context)
	if fail != nil {
		return "", fail
	}

	raw, ok := fields["text"]
	var text string
	if !ok || json.Unmarshal(raw, &text) != nil {
		return "", &outcome{
			violation: &violation{
				fmt.Sprintf("Expected string in 'text' field for '%s' event", context),
				c.metadata(map[string]any{"data": ev.Data}),
			},
			err: noRetryError(fmt.Sprintf("expected string in '%s' event", context)),
		}
	}
	return text, nil
}

// decodeObject parses an event payload that the protocol requires to be a
// JSON object. Invalid JSON is non-retryable; valid JSON of the wrong shape
// is treated as retryable.
func (c *classifier) decodeObject(ev Event, context string) (map[string]json.RawMessage, *outcome) {
	if !json.Valid([]byte(ev.Data)) {
		return nil, &outcome{
			violation: &violation{
				fmt.Sprintf("Invalid JSON in '%s' event", context),
				c.metadata(map[string]any{"data": ev.Data}),
			},
			err: noRetryError(fmt.Sprintf("invalid JSON in '%s' event", context)),
		}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(ev.Data), &fields); err != nil || fields == nil {
		return nil, &outcome{
			violation: &violation{
				fmt.Sprintf("Expected JSON dict in '%s' event", context),
				c.metadata(map[string]any{"data": ev.Data}),
			},
			err: &BotError{Message: fmt.Sprintf("expected JSON dict in '%s' event", context)},
		}
	}
	return fields, nil
}

// metadata builds violation metadata, always including the reply's message id.
func (c *classifier) metadata(extra map[string]any) map[string]any {
	md := map[string]any{"message_id": c.request.MessageID}
	for k, v := range extra {
		md[k] = v
	}
	return md
}

// safeEllipsis bounds telemetry size when echoing bot-supplied values back
// into violation reports. Truncation counts characters so it never splits a
// multibyte rune.
func safeEllipsis(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit-3]) + "..."
}
