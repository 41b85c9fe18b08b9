package poe

import "encoding/json"

// Event names used on the wire. Payloads of all events except ping and done
// are JSON objects; the done payload is ignored.
const (
	EventText            = "text"
	EventReplaceResponse = "replace_response"
	EventSuggestedReply  = "suggested_reply"
	EventMeta            = "meta"
	EventError           = "error"
	EventDone            = "done"
	EventPing            = "ping"
)

// Event is one wire-level server-sent event: a name and a string payload.
// Bot handlers produce Events; the client parses them back out of the stream.
type Event struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

func jsonEvent(eventType string, payload any) Event {
	data, err := json.Marshal(payload)
	if err != nil {
		// All payloads below are maps of strings and bools.
		panic("poe: cannot marshal event payload: " + err.Error())
	}
	return Event{Type: eventType, Data: string(data)}
}

// TextEvent appends text to the reply body.
func TextEvent(text string) Event {
	return jsonEvent(EventText, map[string]string{"text": text})
}

// ReplaceResponseEvent replaces the reply body emitted so far with text.
func ReplaceResponseEvent(text string) Event {
	return jsonEvent(EventReplaceResponse, map[string]string{"text": text})
}

// SuggestedReplyEvent offers a follow-up prompt to the user, distinct from
// the answer body.
func SuggestedReplyEvent(text string) Event {
	return jsonEvent(EventSuggestedReply, map[string]string{"text": text})
}

// MetaEvent communicates reply settings. Only honored as the first event of
// a stream.
func MetaEvent(contentType ContentType, linkify, suggestedReplies bool) Event {
	return jsonEvent(EventMeta, map[string]any{
		"content_type":      contentType,
		"linkify":           linkify,
		"suggested_replies": suggestedReplies,
	})
}

// ErrorEvent reports a failure to the caller and terminates the stream.
// allowRetry tells the caller whether re-issuing the request may help.
func ErrorEvent(text string, allowRetry bool) Event {
	payload := map[string]any{"allow_retry": allowRetry}
	if text != "" {
		payload["text"] = text
	}
	return jsonEvent(EventError, payload)
}

// DoneEvent terminates the stream successfully.
func DoneEvent() Event {
	return Event{Type: EventDone, Data: "{}"}
}
