package relay

import "teamchat/internal/model"

// Frame types on the relay wire. Each frame is one JSON object with a
// discriminating "type" field.
const (
	frameMessage    = "message"
	frameHistory    = "history"
	frameReadUpdate = "readUpdate"
	frameSend       = "sendMessage"
)

// ReadUpdate announces that a user has read a conversation up to a message.
type ReadUpdate struct {
	ReaderUserID      int64 `json:"readerUserId"`
	ConversationID    int64 `json:"conversationId"`
	LastReadMessageID int64 `json:"lastReadMessageId"`
}

// inboundFrame is the envelope pushed by the relay.
type inboundFrame struct {
	Type       string          `json:"type"`
	Message    *model.Message  `json:"message,omitempty"`
	Messages   []model.Message `json:"messages,omitempty"`
	ReadUpdate *ReadUpdate     `json:"readUpdate,omitempty"`
}

// outboundFrame is the envelope the client emits.
type outboundFrame struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"conversationId,omitempty"`
	Message        string `json:"message,omitempty"`
	MessageID      int64  `json:"messageId,omitempty"`
}
