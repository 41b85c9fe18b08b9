// Package poe implements the Poe bot query protocol: the message model shared
// by both sides of the wire, and the streaming client used by one bot to
// delegate part of a conversation to another bot over HTTP + Server-Sent
// Events.
package poe

const (
	// ProtocolVersion is the protocol version sent with every request.
	ProtocolVersion = "1.0"

	// MessageLengthLimit caps the total committed body text of one reply,
	// measured in characters.
	MessageLengthLimit = 10_000

	// MaxEventCount caps the number of events one stream may carry.
	MaxEventCount = 1000

	// DefaultBaseURL is the endpoint prefix for bots hosted on Poe.
	DefaultBaseURL = "https://api.poe.com/bot/"
)

// Request types carried in the "type" field of every request body.
const (
	RequestTypeQuery          = "query"
	RequestTypeSettings       = "settings"
	RequestTypeReportFeedback = "report_feedback"
	RequestTypeReportError    = "report_error"
)

// Identifier is an opaque id assigned by the platform (user, conversation or
// message id).
type Identifier string

// ContentType describes how message content should be rendered.
type ContentType string

const (
	ContentTypeMarkdown ContentType = "text/markdown"
	ContentTypePlain    ContentType = "text/plain"
)

// FeedbackType is the kind of feedback a user gave on a message.
type FeedbackType string

const (
	FeedbackLike    FeedbackType = "like"
	FeedbackDislike FeedbackType = "dislike"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
	RoleBot    Role = "bot"
)

// MessageFeedback is one feedback record attached to a message.
type MessageFeedback struct {
	Type   FeedbackType `json:"type"`
	Reason string       `json:"reason,omitempty"`
}

// ProtocolMessage is one turn in a conversation. Messages are immutable once
// constructed; the conversation history owns them.
type ProtocolMessage struct {
	Role        Role              `json:"role"`
	Content     string            `json:"content"`
	ContentType ContentType       `json:"content_type"`
	Timestamp   int64             `json:"timestamp"`
	MessageID   Identifier        `json:"message_id"`
	MessageType string            `json:"message_type,omitempty"`
	Feedback    []MessageFeedback `json:"feedback"`
}

// BaseRequest carries the fields common to all request bodies.
type BaseRequest struct {
	Version string `json:"version"`
	Type    string `json:"type"`
}

// QueryRequest is a unit of work sent to a remote bot: the conversation so
// far, oldest message first, plus the id to assign the reply. Constructed once
// per call and never mutated.
type QueryRequest struct {
	BaseRequest
	Query          []ProtocolMessage `json:"query"`
	UserID         Identifier        `json:"user_id"`
	ConversationID Identifier        `json:"conversation_id"`
	MessageID      Identifier        `json:"message_id"`
}

// NewQueryRequest builds a QueryRequest with the protocol version and request
// type filled in.
func NewQueryRequest(query []ProtocolMessage, userID, conversationID, messageID Identifier) *QueryRequest {
	return &QueryRequest{
		BaseRequest:    BaseRequest{Version: ProtocolVersion, Type: RequestTypeQuery},
		Query:          query,
		UserID:         userID,
		ConversationID: conversationID,
		MessageID:      messageID,
	}
}

// SettingsRequest asks a bot for its settings.
type SettingsRequest struct {
	BaseRequest
}

// ReportFeedbackRequest forwards user feedback on a message to the bot.
type ReportFeedbackRequest struct {
	BaseRequest
	MessageID      Identifier   `json:"message_id"`
	UserID         Identifier   `json:"user_id"`
	ConversationID Identifier   `json:"conversation_id"`
	FeedbackType   FeedbackType `json:"feedback_type"`
}

// ReportErrorRequest describes a protocol violation detected by the caller.
// It is a diagnostic side channel; bots are expected to log it.
type ReportErrorRequest struct {
	BaseRequest
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata"`
}

// SettingsResponse is a bot's answer to a settings request.
type SettingsResponse struct {
	ContextClearWindowSecs *int `json:"context_clear_window_secs,omitempty"`
	AllowUserContextClear  bool `json:"allow_user_context_clear"`
}

// BotMessage is one fragment of a bot's streamed reply. Instances are
// immutable snapshots: "replace" semantics are expressed by a new instance
// with IsReplaceResponse set, never by mutating history.
type BotMessage struct {
	// Text is the fragment, or the full replacement text when
	// IsReplaceResponse is set.
	Text string

	// Raw is the wire event this message was parsed from, kept for
	// diagnostics.
	Raw Event

	// Request is the query this reply answers.
	Request *QueryRequest

	// RequestID is an optional upstream-assigned id.
	RequestID Identifier

	// IsSuggestedReply marks a suggested follow-up for the user rather
	// than part of the answer body. Mutually exclusive with
	// IsReplaceResponse.
	IsSuggestedReply bool

	// IsReplaceResponse marks text that supersedes all previously emitted
	// body fragments of this reply.
	IsReplaceResponse bool
}

// MetaMessage carries settings-like control data for one reply. It is only
// meaningful as the first event of a reply; bots that send it later are
// ignored.
type MetaMessage struct {
	BotMessage

	Linkify          bool
	SuggestedReplies bool
	ContentType      ContentType
}
