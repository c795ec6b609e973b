package model

// Participant describes a user visible in a conversation (lecturer or team member).
type Participant struct {
	UserID int64  `json:"userId"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// Message is a single chat message. MessageID is assigned by the backend,
// is unique across conversations and is never reused.
type Message struct {
	MessageID      int64  `json:"messageId"`
	ConversationID int64  `json:"conversationId"`
	SenderID       int64  `json:"senderId"`
	SenderName     string `json:"senderName"`
	// Body is HTML. It must pass through sanitize.HTML before it is stored
	// or handed to any renderer.
	Body        string  `json:"message"`
	SendAt      int64   `json:"sendAt"`
	ReadUserIDs []int64 `json:"readUserIds"`
}

// HasReader reports whether userID is in the read set.
func (m *Message) HasReader(userID int64) bool {
	for _, id := range m.ReadUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// AddReader adds userID to the read set. Returns false if already present.
func (m *Message) AddReader(userID int64) bool {
	if m.HasReader(userID) {
		return false
	}
	m.ReadUserIDs = append(m.ReadUserIDs, userID)
	return true
}

// RemoveReader removes userID from the read set. Returns false if absent.
func (m *Message) RemoveReader(userID int64) bool {
	for i, id := range m.ReadUserIDs {
		if id == userID {
			m.ReadUserIDs = append(m.ReadUserIDs[:i], m.ReadUserIDs[i+1:]...)
			return true
		}
	}
	return false
}

// ConversationSummary is the list-view projection of a conversation.
// LatestMessage is a denormalized copy, not shared with any detail list.
type ConversationSummary struct {
	ConversationID   int64    `json:"conversationId"`
	ConversationName string   `json:"conversationName"`
	TeamName         string   `json:"teamName"`
	LatestMessage    *Message `json:"latestMessage"`
	IsRead           bool     `json:"isRead"`
	UnreadCount      int      `json:"unreadCount"`
}

// ConversationDetail is the expanded view of a single conversation.
// ChatMessages is kept in arrival order: history first, live appends after.
type ConversationDetail struct {
	ConversationID   int64         `json:"conversationId"`
	ConversationName string        `json:"conversationName"`
	TeamName         string        `json:"teamName"`
	Lecturer         *Participant  `json:"lecturer"`
	TeamMembers      []Participant `json:"teamMembers"`
	ChatMessages     []Message     `json:"chatMessages"`
}
