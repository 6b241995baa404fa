package collab

import (
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func fastReconcilerSettings() *ReconcilerSettings {
	return &ReconcilerSettings{
		RemoteApplySettleTimeout: 20 * time.Millisecond,
	}
}

func TestEchoSuppression(t *testing.T) {
	reconciler := NewReconciler("u1", nil, fastReconcilerSettings())
	reconciler.SetDocument("Doc", "hello", 3, true)

	// an echo never alters local content, regardless of its content field
	reconciler.remoteEdit(&EditMessage{
		Type:    MessageTypeEdit,
		Content: "stale snapshot",
		Version: intPtr(4),
		UserId:  "u1",
	})

	assert.Equal(t, "hello", reconciler.Content())
	assert.Equal(t, 4, reconciler.Version())
	assert.Equal(t, false, reconciler.IsApplyingRemote())

	// version bookkeeping is monotonic on the echo path
	reconciler.remoteEdit(&EditMessage{
		Type:    MessageTypeEdit,
		Content: "older",
		Version: intPtr(2),
		UserId:  "u1",
	})
	assert.Equal(t, 4, reconciler.Version())
}

func TestRemoteApplyGuard(t *testing.T) {
	reconciler := NewReconciler("u1", nil, fastReconcilerSettings())
	reconciler.SetDocument("Doc", "hello", 3, true)

	reconciler.remoteEdit(&EditMessage{
		Type:    MessageTypeEdit,
		Content: "from remote",
		Version: intPtr(4),
		UserId:  "u2",
	})
	assert.Equal(t, "from remote", reconciler.Content())
	assert.Equal(t, 4, reconciler.Version())
	assert.Equal(t, true, reconciler.IsApplyingRemote())

	// a local change produced during the guarded state is ignored entirely
	applied := reconciler.LocalEdit("feedback loop", 13)
	assert.Equal(t, false, applied)
	assert.Equal(t, "from remote", reconciler.Content())

	// after the settle window local edits resume
	eventually(t, 1*time.Second, func() bool {
		return !reconciler.IsApplyingRemote()
	})
	reconciler.LocalEdit("typed after settle", 18)
	assert.Equal(t, "typed after settle", reconciler.Content())
}

func TestLastWriteWins(t *testing.T) {
	reconciler := NewReconciler("u1", nil, fastReconcilerSettings())
	reconciler.SetDocument("Doc", "", 1, true)

	reconciler.LocalEdit("a", 1)
	assert.Equal(t, "a", reconciler.Content())

	reconciler.remoteEdit(&EditMessage{
		Type:    MessageTypeEdit,
		Content: "b",
		Version: intPtr(2),
		UserId:  "u2",
	})
	assert.Equal(t, "b", reconciler.Content())

	eventually(t, 1*time.Second, func() bool {
		return !reconciler.IsApplyingRemote()
	})
	reconciler.LocalEdit("c", 1)
	assert.Equal(t, "c", reconciler.Content())
}

func TestIdenticalRemoteContentAdoptsVersion(t *testing.T) {
	reconciler := NewReconciler("u1", nil, fastReconcilerSettings())
	reconciler.SetDocument("Doc", "same", 3, true)
	reconciler.MarkConflict()

	// convergence is implicit conflict resolution: adopt the version,
	// clear the conflict indication, no guard engaged
	reconciler.remoteEdit(&EditMessage{
		Type:    MessageTypeEdit,
		Content: "same",
		Version: intPtr(7),
		UserId:  "u2",
	})
	assert.Equal(t, "same", reconciler.Content())
	assert.Equal(t, 7, reconciler.Version())
	assert.Equal(t, false, reconciler.ConflictPending())
	assert.Equal(t, false, reconciler.IsApplyingRemote())
}

func TestCaretClampOnRemoteApply(t *testing.T) {
	reconciler := NewReconciler("u1", nil, fastReconcilerSettings())
	reconciler.SetDocument("Doc", "0123456789", 1, true)
	reconciler.SetCaret(8)

	reconciler.remoteEdit(&EditMessage{
		Type:    MessageTypeEdit,
		Content: "abc",
		Version: intPtr(2),
		UserId:  "u2",
	})
	assert.Equal(t, 3, reconciler.Caret())

	// a caret inside the new content is preserved
	eventually(t, 1*time.Second, func() bool {
		return !reconciler.IsApplyingRemote()
	})
	reconciler.SetCaret(1)
	reconciler.remoteEdit(&EditMessage{
		Type:    MessageTypeEdit,
		Content: "abcdef",
		Version: intPtr(3),
		UserId:  "u2",
	})
	assert.Equal(t, 1, reconciler.Caret())
}

func TestRemoteSavedMessage(t *testing.T) {
	reconciler := NewReconciler("u1", nil, fastReconcilerSettings())
	reconciler.SetDocument("Doc", "hello", 3, true)

	// a bare version bump adopts the version but is not a local save
	reconciler.remoteSaved(&SavedMessage{
		Type:    MessageTypeSaved,
		Version: intPtr(5),
	})
	assert.Equal(t, 5, reconciler.Version())
	assert.Equal(t, 3, reconciler.SavedVersion())
	assert.Equal(t, "hello", reconciler.Content())

	// a saved broadcast carrying content replaces like a remote edit
	content := "persisted elsewhere"
	reconciler.remoteSaved(&SavedMessage{
		Type:    MessageTypeSaved,
		Version: intPtr(6),
		Content: &content,
	})
	assert.Equal(t, "persisted elsewhere", reconciler.Content())
	assert.Equal(t, 6, reconciler.Version())
	assert.Equal(t, 3, reconciler.SavedVersion())
}

func TestLocalEditBeforeLoadIgnored(t *testing.T) {
	reconciler := NewReconciler("u1", nil, fastReconcilerSettings())

	applied := reconciler.LocalEdit("too early", 9)
	assert.Equal(t, false, applied)
	assert.Equal(t, "", reconciler.Content())
}

func TestDirtyTracksPersistedContent(t *testing.T) {
	reconciler := NewReconciler("u1", nil, fastReconcilerSettings())
	reconciler.SetDocument("Doc", "hello", 3, true)
	assert.Equal(t, false, reconciler.Dirty())

	reconciler.LocalEdit("hello!", 6)
	assert.Equal(t, true, reconciler.Dirty())

	reconciler.ConfirmSaved(4, "hello!")
	assert.Equal(t, false, reconciler.Dirty())
	assert.Equal(t, 4, reconciler.Version())
	assert.Equal(t, 4, reconciler.SavedVersion())

	// typing back to the persisted value clears the flag
	reconciler.LocalEdit("hello!?", 7)
	assert.Equal(t, true, reconciler.Dirty())
	reconciler.LocalEdit("hello!", 6)
	assert.Equal(t, false, reconciler.Dirty())
}
