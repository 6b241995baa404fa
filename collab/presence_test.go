package collab

import (
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestCursorStaleBoundary(t *testing.T) {
	tracker := NewPresenceTrackerWithDefaults("self", nil)

	tracker.handleCursor(&CursorMessage{
		Type:     MessageTypeCursor,
		Position: 2,
		UserId:   "u1",
		UserName: "alice",
	})

	lastSeen := tracker.participants["u1"].LastSeen

	visible := tracker.visibleCursors("abc", lastSeen.Add(2999*time.Millisecond))
	assert.Equal(t, 1, len(visible))
	assert.Equal(t, "u1", visible[0].UserId)

	// the boundary at exactly 3000 ms is excluded
	visible = tracker.visibleCursors("abc", lastSeen.Add(3000*time.Millisecond))
	assert.Equal(t, 0, len(visible))

	// the entry still exists. only the visible set expires by time
	assert.Equal(t, 1, len(tracker.Participants()))
}

func TestCursorLineMapping(t *testing.T) {
	tracker := NewPresenceTrackerWithDefaults("self", nil)

	content := "one\ntwo\nthree"

	tracker.handleCursor(&CursorMessage{Type: MessageTypeCursor, Position: 0, UserId: "u1", UserName: "a"})
	tracker.handleCursor(&CursorMessage{Type: MessageTypeCursor, Position: 5, UserId: "u2", UserName: "b"})
	tracker.handleCursor(&CursorMessage{Type: MessageTypeCursor, Position: 9, UserId: "u3", UserName: "c"})

	visible := tracker.VisibleCursors(content)
	assert.Equal(t, 3, len(visible))
	assert.Equal(t, 0, visible[0].Line)
	assert.Equal(t, 1, visible[1].Line)
	assert.Equal(t, 2, visible[2].Line)
}

func TestCursorOffsetClamp(t *testing.T) {
	tracker := NewPresenceTrackerWithDefaults("self", nil)

	tracker.handleCursor(&CursorMessage{Type: MessageTypeCursor, Position: 100, UserId: "u1", UserName: "a"})

	visible := tracker.VisibleCursors("ab")
	assert.Equal(t, 1, len(visible))
	assert.Equal(t, 2, visible[0].Position)
}

func TestSelfExcluded(t *testing.T) {
	tracker := NewPresenceTrackerWithDefaults("self", nil)

	tracker.handleJoined(&UserJoinedMessage{Type: MessageTypeUserJoined, UserId: "self", UserName: "me"})
	tracker.handleCursor(&CursorMessage{Type: MessageTypeCursor, Position: 1, UserId: "self", UserName: "me"})
	tracker.handleEdit(&EditMessage{Type: MessageTypeEdit, Content: "x", UserId: "self"})

	assert.Equal(t, 0, len(tracker.Participants()))
	assert.Equal(t, 0, len(tracker.VisibleCursors("x")))
}

func TestJoinLeaveLifecycle(t *testing.T) {
	tracker := NewPresenceTrackerWithDefaults("self", nil)

	tracker.handleJoined(&UserJoinedMessage{Type: MessageTypeUserJoined, UserId: "u1", UserName: "alice"})
	participants := tracker.Participants()
	assert.Equal(t, 1, len(participants))
	assert.Equal(t, "alice", participants[0].UserName)

	// joined but no cursor message yet: active, not visible
	assert.Equal(t, 0, len(tracker.VisibleCursors("abc")))

	tracker.handleCursor(&CursorMessage{Type: MessageTypeCursor, Position: 1, UserId: "u1", UserName: "alice"})
	assert.Equal(t, 1, len(tracker.VisibleCursors("abc")))

	// an explicit leave removes the entry entirely
	tracker.handleLeft(&UserLeftMessage{Type: MessageTypeUserLeft, UserId: "u1"})
	assert.Equal(t, 0, len(tracker.Participants()))
	assert.Equal(t, 0, len(tracker.VisibleCursors("abc")))
}

func TestEditTouchKeepsParticipantFresh(t *testing.T) {
	tracker := NewPresenceTrackerWithDefaults("self", nil)

	// a content message from an unseen participant creates the entry
	tracker.handleEdit(&EditMessage{Type: MessageTypeEdit, Content: "x", UserId: "u1"})
	assert.Equal(t, 1, len(tracker.Participants()))

	tracker.handleCursor(&CursorMessage{Type: MessageTypeCursor, Position: 1, UserId: "u1", UserName: "alice"})
	before := tracker.participants["u1"].LastSeen

	time.Sleep(5 * time.Millisecond)
	tracker.handleEdit(&EditMessage{Type: MessageTypeEdit, Content: "xy", UserId: "u1"})
	after := tracker.participants["u1"].LastSeen
	assert.Equal(t, true, before.Before(after))

	// the cursor position survives the touch
	assert.Equal(t, 1, tracker.participants["u1"].Position)
}

func TestPresenceMonitorNotifies(t *testing.T) {
	tracker := NewPresenceTrackerWithDefaults("self", nil)

	notify := tracker.UpdateMonitor().NotifyChannel()
	tracker.handleJoined(&UserJoinedMessage{Type: MessageTypeUserJoined, UserId: "u1"})

	select {
	case <-notify:
	case <-time.After(1 * time.Second):
		t.Fatal("presence change not notified")
	}
}

func TestClearDiscardsPresence(t *testing.T) {
	tracker := NewPresenceTrackerWithDefaults("self", nil)

	tracker.handleJoined(&UserJoinedMessage{Type: MessageTypeUserJoined, UserId: "u1"})
	tracker.handleCursor(&CursorMessage{Type: MessageTypeCursor, Position: 1, UserId: "u2", UserName: "b"})
	tracker.Clear()

	assert.Equal(t, 0, len(tracker.Participants()))
}
