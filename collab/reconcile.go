package collab

import (
	"sync"
	"time"

	"github.com/golang/glog"
)

// the editor's working copy
type DocumentSnapshot struct {
	Title   string
	Content string
	Version int
	Dirty   bool
}

type ReconcilerSettings struct {
	// keeps the remote-apply guard up briefly after a remote replace so the
	// view can finish re-rendering before local-edit detection resumes
	RemoteApplySettleTimeout time.Duration
}

func DefaultReconcilerSettings() *ReconcilerSettings {
	return &ReconcilerSettings{
		RemoteApplySettleTimeout: 200 * time.Millisecond,
	}
}

type ContentListener func(content string, caret int)

// keeps exactly one authoritative view of document content per session
// while multiple writers may be typing concurrently. whole-document
// replace, last write wins.
//
// the version counter is never incremented locally. it only increases or
// is replaced wholesale by a server-supplied value. `savedVersion` tracks
// the last *successfully persisted* version separately, so a live-channel
// version bump is never mistaken for our own save.
type Reconciler struct {
	participantId string

	transport *SessionTransport

	settings *ReconcilerSettings

	contentListeners   *CallbackList[ContentListener]
	localEditListeners *CallbackList[func()]

	mutex                sync.Mutex
	loaded               bool
	title                string
	content              string
	caret                int
	version              int
	savedVersion         int
	lastPersistedContent string
	dirty                bool
	canWrite             bool
	applyingRemote       bool
	settleTimer          *time.Timer
	conflict             bool
}

func NewReconcilerWithDefaults(participantId string, transport *SessionTransport) *Reconciler {
	return NewReconciler(participantId, transport, DefaultReconcilerSettings())
}

func NewReconciler(participantId string, transport *SessionTransport, settings *ReconcilerSettings) *Reconciler {
	reconciler := &Reconciler{
		participantId:      participantId,
		transport:          transport,
		settings:           settings,
		contentListeners:   NewCallbackList[ContentListener](),
		localEditListeners: NewCallbackList[func()](),
	}
	if transport != nil {
		transport.AddEditListener(reconciler.remoteEdit)
		transport.AddSavedListener(reconciler.remoteSaved)
	}
	return reconciler
}

// SetDocument installs the loaded document as the working copy.
func (self *Reconciler) SetDocument(title string, content string, version int, canWrite bool) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.loaded = true
	self.title = title
	self.content = content
	self.caret = len(content)
	self.version = version
	self.savedVersion = version
	self.lastPersistedContent = content
	self.dirty = false
	self.canWrite = canWrite
}

// LocalEdit applies one local content change.
// The change is dropped entirely while a remote edit is being applied.
// The content is applied optimistically, then broadcast when the live
// channel is open and the participant may write. Returns whether the
// change was broadcast.
func (self *Reconciler) LocalEdit(content string, caret int) bool {
	self.mutex.Lock()
	if !self.loaded || self.applyingRemote {
		self.mutex.Unlock()
		return false
	}
	self.content = content
	if len(content) < caret {
		caret = len(content)
	}
	self.caret = caret
	self.dirty = content != self.lastPersistedContent
	version := self.version
	canWrite := self.canWrite
	self.mutex.Unlock()

	for _, listener := range self.localEditListeners.Get() {
		listener()
	}

	if !canWrite {
		return false
	}
	if self.transport == nil || !self.transport.IsOpen() {
		// the periodic autosave path covers persistence
		return false
	}
	baseVersion := version
	return self.transport.SendEdit(content, &baseVersion, self.participantId)
}

func (self *Reconciler) remoteEdit(message *EditMessage) {
	if message.UserId == self.participantId {
		// echo of our own broadcast. version bookkeeping only, never
		// touch content: a keystroke may have landed after the echoed
		// snapshot was produced
		self.mutex.Lock()
		if message.Version != nil && self.version < *message.Version {
			self.version = *message.Version
		}
		self.mutex.Unlock()
		return
	}
	self.applyRemoteContent(message.Content, message.Version)
}

func (self *Reconciler) remoteSaved(message *SavedMessage) {
	if message.Content != nil {
		self.applyRemoteContent(*message.Content, message.Version)
		return
	}
	self.mutex.Lock()
	if message.Version != nil && self.version < *message.Version {
		self.version = *message.Version
	}
	self.mutex.Unlock()
}

func (self *Reconciler) applyRemoteContent(content string, version *int) {
	self.mutex.Lock()
	if content == self.content {
		// convergence is implicit conflict resolution
		if version != nil && self.version < *version {
			self.version = *version
		}
		self.conflict = false
		self.mutex.Unlock()
		return
	}

	self.applyingRemote = true
	self.content = content
	if version != nil {
		self.version = *version
	}
	if len(content) < self.caret {
		self.caret = len(content)
	}
	caret := self.caret
	self.dirty = content != self.lastPersistedContent
	self.armSettleTimer()
	self.mutex.Unlock()

	glog.V(2).Infof("[r]apply remote content\n")
	for _, listener := range self.contentListeners.Get() {
		listener(content, caret)
	}
}

// AdoptServerDocument replaces the working copy with the store's
// authoritative copy after a version conflict. The local edit is
// discarded, not merged, and no blocking error is raised.
func (self *Reconciler) AdoptServerDocument(content string, version int) {
	self.mutex.Lock()
	self.version = version
	self.savedVersion = version
	self.lastPersistedContent = content
	self.conflict = false
	if content == self.content {
		self.dirty = false
		self.mutex.Unlock()
		return
	}

	self.applyingRemote = true
	self.content = content
	if len(content) < self.caret {
		self.caret = len(content)
	}
	caret := self.caret
	self.dirty = false
	self.armSettleTimer()
	self.mutex.Unlock()

	glog.Infof("[r]adopt server copy v%d\n", version)
	for _, listener := range self.contentListeners.Get() {
		listener(content, caret)
	}
}

// ConfirmSaved records a successful persist through the autosave path.
func (self *Reconciler) ConfirmSaved(version int, content string) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.version = version
	self.savedVersion = version
	self.lastPersistedContent = content
	if self.content == content {
		self.dirty = false
	}
}

func (self *Reconciler) MarkConflict() {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.conflict = true
}

// caller must hold self.mutex
func (self *Reconciler) armSettleTimer() {
	if self.settleTimer != nil {
		self.settleTimer.Stop()
	}
	self.settleTimer = time.AfterFunc(self.settings.RemoteApplySettleTimeout, func() {
		self.mutex.Lock()
		defer self.mutex.Unlock()
		self.applyingRemote = false
	})
}

func (self *Reconciler) Snapshot() DocumentSnapshot {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return DocumentSnapshot{
		Title:   self.title,
		Content: self.content,
		Version: self.version,
		Dirty:   self.dirty,
	}
}

func (self *Reconciler) Loaded() bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.loaded
}

func (self *Reconciler) Title() string {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.title
}

func (self *Reconciler) SetTitle(title string) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.title = title
}

func (self *Reconciler) Content() string {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.content
}

func (self *Reconciler) Caret() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.caret
}

func (self *Reconciler) SetCaret(caret int) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	if caret < 0 {
		caret = 0
	}
	if len(self.content) < caret {
		caret = len(self.content)
	}
	self.caret = caret
}

func (self *Reconciler) Version() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.version
}

func (self *Reconciler) SavedVersion() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.savedVersion
}

func (self *Reconciler) Dirty() bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.dirty
}

func (self *Reconciler) CanWrite() bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.canWrite
}

func (self *Reconciler) IsApplyingRemote() bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.applyingRemote
}

func (self *Reconciler) ConflictPending() bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.conflict
}

func (self *Reconciler) AddContentListener(listener ContentListener) func() {
	return self.contentListeners.Add(listener)
}

// notified on every applied local edit. the autosave debounce hangs off this
func (self *Reconciler) AddLocalEditListener(listener func()) func() {
	return self.localEditListeners.Add(listener)
}

func (self *Reconciler) Close() {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	if self.settleTimer != nil {
		self.settleTimer.Stop()
		self.settleTimer = nil
	}
}
