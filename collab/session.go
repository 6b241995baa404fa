package collab

import (
	"context"
	"fmt"

	"github.com/golang/glog"
)

type SessionSettings struct {
	TransportSettings  *SessionTransportSettings
	ReconcilerSettings *ReconcilerSettings
	PresenceSettings   *PresenceSettings
	AutosaverSettings  *AutosaverSettings
}

func DefaultSessionSettings() *SessionSettings {
	return &SessionSettings{
		TransportSettings:  DefaultSessionTransportSettings(),
		ReconcilerSettings: DefaultReconcilerSettings(),
		PresenceSettings:   DefaultPresenceSettings(),
		AutosaverSettings:  DefaultAutosaverSettings(),
	}
}

// one (document, participant) pairing: the live connection context plus
// the reconciliation, presence and autosave machinery around it.
// created when a document is opened, closed when navigating away.
type Session struct {
	ctx    context.Context
	cancel context.CancelFunc

	sessionId Id

	api *DocumentApi

	documentId    string
	participantId string
	displayName   string

	transport         *SessionTransport
	reconciler        *Reconciler
	presence          *PresenceTracker
	cursorBroadcaster *CursorBroadcaster
	autosaver         *Autosaver

	noticeListeners *CallbackList[func(string)]
}

func NewSessionWithDefaults(
	ctx context.Context,
	api *DocumentApi,
	connectUrl string,
	byJwt string,
	documentId string,
) (*Session, error) {
	return NewSession(ctx, api, connectUrl, byJwt, documentId, DefaultSessionSettings())
}

func NewSession(
	ctx context.Context,
	api *DocumentApi,
	connectUrl string,
	byJwt string,
	documentId string,
	settings *SessionSettings,
) (*Session, error) {
	claims, err := ParseByJwtUnverified(byJwt)
	if err != nil {
		return nil, fmt.Errorf("invalid credential: %w", err)
	}

	api.SetByJwt(byJwt)

	cancelCtx, cancel := context.WithCancel(ctx)

	transport := NewSessionTransport(
		cancelCtx,
		connectUrl,
		&SessionAuth{ByJwt: byJwt},
		settings.TransportSettings,
	)
	reconciler := NewReconciler(claims.UserId, transport, settings.ReconcilerSettings)
	presence := NewPresenceTracker(claims.UserId, transport, settings.PresenceSettings)
	cursorBroadcaster := NewCursorBroadcaster(
		cancelCtx,
		transport,
		claims.UserId,
		claims.UserName,
		reconciler.Caret,
		reconciler.CanWrite,
		settings.PresenceSettings,
	)
	autosaver := NewAutosaver(api, documentId, reconciler, settings.AutosaverSettings)

	session := &Session{
		ctx:               cancelCtx,
		cancel:            cancel,
		sessionId:         NewId(),
		api:               api,
		documentId:        documentId,
		participantId:     claims.UserId,
		displayName:       claims.UserName,
		transport:         transport,
		reconciler:        reconciler,
		presence:          presence,
		cursorBroadcaster: cursorBroadcaster,
		autosaver:         autosaver,
		noticeListeners:   NewCallbackList[func(string)](),
	}

	autosaver.AddNoticeListener(session.notify)
	transport.AddDownListener(func(err error) {
		session.notify(err.Error())
	})

	glog.V(2).Infof("[s]%s open document %s as %s\n", session.sessionId, documentId, claims.UserId)
	return session, nil
}

// Load fetches the document and installs the working copy.
// A load failure is fatal to the session: the caller surfaces the error
// and navigates away.
func (self *Session) Load() error {
	result, err := self.api.GetDocumentSync(self.documentId)
	if err != nil {
		return err
	}
	if result.Document == nil {
		return fmt.Errorf("document not found")
	}
	self.reconciler.SetDocument(
		result.Document.Title,
		result.Document.Content,
		result.Document.Version,
		result.Document.Writable(),
	)
	return nil
}

// Connect opens the live channel. Requires a loaded document and a valid
// credential; fails fast otherwise.
func (self *Session) Connect() error {
	if !self.reconciler.Loaded() {
		return fmt.Errorf("document not loaded")
	}
	return self.transport.Connect(self.documentId)
}

// LocalEdit applies one local content change and announces the caret.
func (self *Session) LocalEdit(content string, caret int) bool {
	broadcast := self.reconciler.LocalEdit(content, caret)
	// key-up interaction emits the cursor immediately
	self.cursorBroadcaster.Announce()
	return broadcast
}

// SetCaret moves the local caret, e.g. on a click interaction
func (self *Session) SetCaret(caret int) {
	self.reconciler.SetCaret(caret)
	self.cursorBroadcaster.Announce()
}

// Save persists immediately through the durable store
func (self *Session) Save() {
	self.autosaver.Save()
}

func (self *Session) Rename(title string) error {
	result, err := self.api.RenameDocumentSync(self.documentId, &RenameDocumentArgs{Title: title})
	if err != nil {
		return err
	}
	if result.Document != nil {
		self.reconciler.SetTitle(result.Document.Title)
	} else {
		self.reconciler.SetTitle(title)
	}
	return nil
}

func (self *Session) Snapshot() DocumentSnapshot {
	return self.reconciler.Snapshot()
}

func (self *Session) VisibleCursors() []*VisibleCursor {
	return self.presence.VisibleCursors(self.reconciler.Content())
}

func (self *Session) Participants() []*ParticipantPresence {
	return self.presence.Participants()
}

func (self *Session) PresenceMonitor() *Monitor {
	return self.presence.UpdateMonitor()
}

func (self *Session) ConnectionState() ConnectionState {
	return self.transport.State()
}

func (self *Session) SessionId() Id {
	return self.sessionId
}

func (self *Session) DocumentId() string {
	return self.documentId
}

func (self *Session) ParticipantId() string {
	return self.participantId
}

func (self *Session) Reconciler() *Reconciler {
	return self.reconciler
}

func (self *Session) Transport() *SessionTransport {
	return self.transport
}

func (self *Session) AddContentListener(listener ContentListener) func() {
	return self.reconciler.AddContentListener(listener)
}

// non-fatal, user-visible messages: read-only save attempts, live sync
// unavailable, adopted conflicts
func (self *Session) AddNoticeListener(listener func(string)) func() {
	return self.noticeListeners.Add(listener)
}

func (self *Session) notify(notice string) {
	for _, listener := range self.noticeListeners.Get() {
		listener(notice)
	}
}

// Close tears down the connection with a graceful close code, clears all
// timers, and discards presence state.
func (self *Session) Close() {
	glog.V(2).Infof("[s]%s close\n", self.sessionId)
	self.autosaver.Close()
	self.cursorBroadcaster.Close()
	self.transport.Close()
	self.presence.Clear()
	self.reconciler.Close()
	self.cancel()
}
