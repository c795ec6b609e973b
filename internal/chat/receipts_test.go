package chat

import (
	"reflect"
	"testing"

	"teamchat/internal/model"
)

func TestApplyReadUpdateMovesMarker(t *testing.T) {
	msgs := []model.Message{
		{MessageID: 1, ReadUserIDs: []int64{7}},
		{MessageID: 2},
		{MessageID: 3},
	}

	changed := applyReadUpdate(msgs, 7, 2)
	if !reflect.DeepEqual(changed, []int{0, 1}) {
		t.Errorf("changed = %v, want [0 1]", changed)
	}
	if msgs[0].HasReader(7) {
		t.Error("reader 7 not retracted from message 1")
	}
	if !msgs[1].HasReader(7) {
		t.Error("reader 7 not added to message 2")
	}
	if msgs[2].HasReader(7) {
		t.Error("reader 7 leaked onto message 3")
	}
}

func TestApplyReadUpdateIsIdempotent(t *testing.T) {
	msgs := []model.Message{
		{MessageID: 1},
		{MessageID: 2, ReadUserIDs: []int64{7}},
	}

	if changed := applyReadUpdate(msgs, 7, 2); changed != nil {
		t.Errorf("changed = %v on already-applied update, want nil", changed)
	}
	if got := msgs[1].ReadUserIDs; !reflect.DeepEqual(got, []int64{7}) {
		t.Errorf("read set = %v, want [7]", got)
	}
}

func TestApplyReadUpdateUnknownMessage(t *testing.T) {
	msgs := []model.Message{
		{MessageID: 1, ReadUserIDs: []int64{7}},
	}

	// A cursor pointing outside the loaded window still retracts the old
	// marker.
	changed := applyReadUpdate(msgs, 7, 99)
	if !reflect.DeepEqual(changed, []int{0}) {
		t.Errorf("changed = %v, want [0]", changed)
	}
	if msgs[0].HasReader(7) {
		t.Error("stale marker not retracted")
	}
}

func TestAppendIfAbsent(t *testing.T) {
	msgs := []model.Message{{MessageID: 1}}

	msgs = appendIfAbsent(msgs, model.Message{MessageID: 2})
	if len(msgs) != 2 {
		t.Fatalf("len = %d after new append, want 2", len(msgs))
	}

	msgs = appendIfAbsent(msgs, model.Message{MessageID: 2})
	if len(msgs) != 2 {
		t.Errorf("len = %d after duplicate append, want 2", len(msgs))
	}
}
