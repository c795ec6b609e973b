package chat

import "teamchat/internal/model"

// applyReadUpdate reconciles one read-receipt broadcast against a message
// list. The reader is added to the message its cursor points at and
// retracted from every other message: the receipt marker follows the
// reader's cursor instead of accumulating on stale messages.
//
// The sweep is linear over the active conversation on purpose; conversations
// are class-scoped and small, and the retraction pass is what keeps the
// "seen by" markers correct when a cursor moves.
func applyReadUpdate(msgs []model.Message, readerID, lastReadID int64) []int {
	var changed []int
	for i := range msgs {
		if msgs[i].MessageID == lastReadID {
			if msgs[i].AddReader(readerID) {
				changed = append(changed, i)
			}
		} else if msgs[i].RemoveReader(readerID) {
			changed = append(changed, i)
		}
	}
	return changed
}

// appendIfAbsent appends msg unless a message with the same id is already in
// the list. Live echoes and replayed history can both carry a message the
// list already holds; append must stay idempotent.
func appendIfAbsent(msgs []model.Message, msg model.Message) []model.Message {
	for i := range msgs {
		if msgs[i].MessageID == msg.MessageID {
			return msgs
		}
	}
	return append(msgs, msg)
}
