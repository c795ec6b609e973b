package bus

import "time"

// Event kinds published by the client. Subscribers filter by namespace
// prefix, e.g. "relay." catches every relay lifecycle and frame event.
const (
	KindRelayConnected    = "relay.connected"
	KindRelayDisconnected = "relay.disconnected"
	KindRelayResubscribed = "relay.resubscribed"

	KindMessageReceived = "chat.message_received"
	KindHistoryMerged   = "chat.history_merged"
	KindReceiptUpdated  = "chat.receipt_updated"
	KindSummaryUpdated  = "chat.summary_updated"

	KindSendAck    = "outbox.send_ack"
	KindSendFailed = "outbox.send_failed"

	KindStatusChanged = "session.status_changed"
)

// Event is a domain event delivered to bus subscribers.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
