package collab

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

type ConnectionState int

const (
	ConnectionStateIdle ConnectionState = iota
	ConnectionStateConnecting
	ConnectionStateOpen
	ConnectionStateClosed
)

func (self ConnectionState) String() string {
	switch self {
	case ConnectionStateIdle:
		return "idle"
	case ConnectionStateConnecting:
		return "connecting"
	case ConnectionStateOpen:
		return "open"
	case ConnectionStateClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int(self))
	}
}

type SessionTransportSettings struct {
	WsHandshakeTimeout   time.Duration
	WriteTimeout         time.Duration
	ReconnectBaseDelay   time.Duration
	MaxReconnectAttempts int
}

func DefaultSessionTransportSettings() *SessionTransportSettings {
	return &SessionTransportSettings{
		WsHandshakeTimeout:   5 * time.Second,
		WriteTimeout:         5 * time.Second,
		ReconnectBaseDelay:   1 * time.Second,
		MaxReconnectAttempts: 5,
	}
}

// linear retry policy, `attempt * baseDelay`, capped at `maxAttempts`
type linearBackOff struct {
	baseDelay   time.Duration
	maxAttempts int

	attempt int
}

func newLinearBackOff(baseDelay time.Duration, maxAttempts int) *linearBackOff {
	return &linearBackOff{
		baseDelay:   baseDelay,
		maxAttempts: maxAttempts,
	}
}

// backoff.BackOff
func (self *linearBackOff) NextBackOff() time.Duration {
	self.attempt += 1
	if self.maxAttempts < self.attempt {
		return backoff.Stop
	}
	return time.Duration(self.attempt) * self.baseDelay
}

// backoff.BackOff
func (self *linearBackOff) Reset() {
	self.attempt = 0
}

type SessionAuth struct {
	ByJwt string
}

func (self *SessionAuth) ParticipantId() (string, error) {
	byJwt, err := ParseByJwtUnverified(self.ByJwt)
	if err != nil {
		return "", err
	}
	return byJwt.UserId, nil
}

// one live connection per open document. the transport does not support
// custom headers, so the document id and bearer credential travel as
// query parameters on the connect url.
type sessionLink struct {
	ctx        context.Context
	cancel     context.CancelFunc
	documentId string
	reconnect  backoff.BackOff
}

type SessionTransport struct {
	ctx    context.Context
	cancel context.CancelFunc

	connectUrl string
	auth       *SessionAuth

	settings *SessionTransportSettings

	editListeners   *CallbackList[func(*EditMessage)]
	cursorListeners *CallbackList[func(*CursorMessage)]
	savedListeners  *CallbackList[func(*SavedMessage)]
	joinedListeners *CallbackList[func(*UserJoinedMessage)]
	leftListeners   *CallbackList[func(*UserLeftMessage)]
	openListeners   *CallbackList[func()]
	downListeners   *CallbackList[func(error)]

	writeMutex sync.Mutex

	mutex      sync.Mutex
	state      ConnectionState
	documentId string
	link       *sessionLink
	conn       *websocket.Conn
}

func NewSessionTransportWithDefaults(ctx context.Context, connectUrl string, auth *SessionAuth) *SessionTransport {
	return NewSessionTransport(ctx, connectUrl, auth, DefaultSessionTransportSettings())
}

func NewSessionTransport(ctx context.Context, connectUrl string, auth *SessionAuth, settings *SessionTransportSettings) *SessionTransport {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &SessionTransport{
		ctx:             cancelCtx,
		cancel:          cancel,
		connectUrl:      connectUrl,
		auth:            auth,
		settings:        settings,
		editListeners:   NewCallbackList[func(*EditMessage)](),
		cursorListeners: NewCallbackList[func(*CursorMessage)](),
		savedListeners:  NewCallbackList[func(*SavedMessage)](),
		joinedListeners: NewCallbackList[func(*UserJoinedMessage)](),
		leftListeners:   NewCallbackList[func(*UserLeftMessage)](),
		openListeners:   NewCallbackList[func()](),
		downListeners:   NewCallbackList[func(error)](),
		state:           ConnectionStateIdle,
	}
}

// Connect opens the live channel for a document.
// - no-op while already connecting, or already open for the same document
// - opening a different document first tears down the existing connection
// - fails fast when no credential is present
func (self *SessionTransport) Connect(documentId string) error {
	if self.auth == nil || self.auth.ByJwt == "" {
		return fmt.Errorf("no credential for live channel")
	}

	self.mutex.Lock()
	if self.state == ConnectionStateConnecting {
		self.mutex.Unlock()
		return nil
	}
	if self.state == ConnectionStateOpen && self.documentId == documentId {
		self.mutex.Unlock()
		return nil
	}

	// at most one live connection at a time
	link := self.link
	conn := self.conn
	self.link = nil
	self.conn = nil

	linkCtx, linkCancel := context.WithCancel(self.ctx)
	nextLink := &sessionLink{
		ctx:        linkCtx,
		cancel:     linkCancel,
		documentId: documentId,
		reconnect:  newLinearBackOff(self.settings.ReconnectBaseDelay, self.settings.MaxReconnectAttempts),
	}
	self.link = nextLink
	self.documentId = documentId
	self.state = ConnectionStateConnecting
	self.mutex.Unlock()

	if conn != nil {
		self.closeNormal(conn)
	}
	if link != nil {
		link.cancel()
	}

	go self.run(nextLink)
	return nil
}

func (self *SessionTransport) run(link *sessionLink) {
	defer link.cancel()

	for {
		dialer := &websocket.Dialer{
			HandshakeTimeout: self.settings.WsHandshakeTimeout,
		}
		connectUrl := fmt.Sprintf(
			"%s?doc_id=%s&token=%s",
			self.connectUrl,
			url.QueryEscape(link.documentId),
			url.QueryEscape(self.auth.ByJwt),
		)

		ws, _, err := dialer.DialContext(link.ctx, connectUrl, nil)
		if err != nil {
			select {
			case <-link.ctx.Done():
				return
			default:
			}
			glog.Infof("[t]dial error %s = %s\n", link.documentId, err)
			if !self.retryAfter(link) {
				return
			}
			continue
		}

		self.mutex.Lock()
		if self.link != link {
			self.mutex.Unlock()
			ws.Close()
			return
		}
		self.conn = ws
		self.state = ConnectionStateOpen
		link.reconnect.Reset()
		self.mutex.Unlock()

		glog.V(2).Infof("[t]open %s\n", link.documentId)
		for _, openListener := range self.openListeners.Get() {
			openListener()
		}

		normalClose := self.readLoop(link, ws)

		self.mutex.Lock()
		if self.link != link {
			self.mutex.Unlock()
			return
		}
		self.conn = nil
		if normalClose {
			// close code 1000. never auto-retried
			self.state = ConnectionStateClosed
			self.link = nil
			self.mutex.Unlock()
			return
		}
		self.state = ConnectionStateConnecting
		self.mutex.Unlock()

		if !self.retryAfter(link) {
			return
		}
	}
}

// blocks until the connection drops. returns whether the peer closed normally.
func (self *SessionTransport) readLoop(link *sessionLink, ws *websocket.Conn) bool {
	// unblock the read when the link is torn down
	stop := context.AfterFunc(link.ctx, func() {
		ws.Close()
	})
	defer stop()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				glog.V(2).Infof("[t]normal close %s\n", link.documentId)
				return true
			}
			glog.Infof("[t]read error %s = %s\n", link.documentId, err)
			return false
		}

		message, err := parseMessage(data)
		if err != nil {
			// discard the single message. parsing continues
			glog.Infof("[t]drop malformed message = %s\n", err)
			continue
		}

		switch v := message.(type) {
		case *EditMessage:
			for _, listener := range self.editListeners.Get() {
				listener(v)
			}
		case *CursorMessage:
			for _, listener := range self.cursorListeners.Get() {
				listener(v)
			}
		case *SavedMessage:
			for _, listener := range self.savedListeners.Get() {
				listener(v)
			}
		case *UserJoinedMessage:
			for _, listener := range self.joinedListeners.Get() {
				listener(v)
			}
		case *UserLeftMessage:
			for _, listener := range self.leftListeners.Get() {
				listener(v)
			}
		default:
			glog.V(2).Infof("[t]ignore unrecognized message kind\n")
		}
	}
}

// schedules the next attempt after an abnormal closure. returns false when
// the attempt budget is exhausted or the link was torn down.
func (self *SessionTransport) retryAfter(link *sessionLink) bool {
	timeout := link.reconnect.NextBackOff()
	if timeout == backoff.Stop {
		self.mutex.Lock()
		if self.link == link {
			self.state = ConnectionStateClosed
			self.link = nil
		}
		self.mutex.Unlock()
		glog.Infof("[t]live sync unavailable %s\n", link.documentId)
		err := fmt.Errorf("live sync unavailable")
		for _, downListener := range self.downListeners.Get() {
			downListener(err)
		}
		return false
	}

	glog.Infof("[t]reconnect %s in %s\n", link.documentId, timeout)
	select {
	case <-link.ctx.Done():
		return false
	case <-time.After(timeout):
		return true
	}
}

// no store and forward. a send while not open is dropped and the
// autosave path covers persistence.
func (self *SessionTransport) SendEdit(content string, baseVersion *int, participantId string) bool {
	return self.send(&EditMessage{
		Type:    MessageTypeEdit,
		Content: content,
		Version: baseVersion,
		UserId:  participantId,
	})
}

func (self *SessionTransport) SendCursor(position int, participantId string, displayName string) bool {
	return self.send(&CursorMessage{
		Type:     MessageTypeCursor,
		Position: position,
		UserId:   participantId,
		UserName: displayName,
	})
}

func (self *SessionTransport) send(message any) bool {
	self.mutex.Lock()
	state := self.state
	conn := self.conn
	self.mutex.Unlock()

	if state != ConnectionStateOpen || conn == nil {
		glog.Infof("[t]drop send, state=%s\n", state)
		return false
	}

	self.writeMutex.Lock()
	defer self.writeMutex.Unlock()

	conn.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
	if err := conn.WriteJSON(message); err != nil {
		glog.Infof("[t]send error = %s\n", err)
		return false
	}
	return true
}

func (self *SessionTransport) AddEditListener(listener func(*EditMessage)) func() {
	return self.editListeners.Add(listener)
}

func (self *SessionTransport) AddCursorListener(listener func(*CursorMessage)) func() {
	return self.cursorListeners.Add(listener)
}

func (self *SessionTransport) AddSavedListener(listener func(*SavedMessage)) func() {
	return self.savedListeners.Add(listener)
}

func (self *SessionTransport) AddJoinedListener(listener func(*UserJoinedMessage)) func() {
	return self.joinedListeners.Add(listener)
}

func (self *SessionTransport) AddLeftListener(listener func(*UserLeftMessage)) func() {
	return self.leftListeners.Add(listener)
}

func (self *SessionTransport) AddOpenListener(listener func()) func() {
	return self.openListeners.Add(listener)
}

// notified when the reconnect budget is exhausted and the caller must
// fall back to the autosave path
func (self *SessionTransport) AddDownListener(listener func(error)) func() {
	return self.downListeners.Add(listener)
}

func (self *SessionTransport) State() ConnectionState {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.state
}

func (self *SessionTransport) IsOpen() bool {
	return self.State() == ConnectionStateOpen
}

func (self *SessionTransport) DocumentId() string {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.documentId
}

// graceful teardown. close code 1000, no reconnect scheduled.
func (self *SessionTransport) Disconnect() {
	self.mutex.Lock()
	link := self.link
	conn := self.conn
	self.link = nil
	self.conn = nil
	self.documentId = ""
	self.state = ConnectionStateClosed
	self.mutex.Unlock()

	if conn != nil {
		self.closeNormal(conn)
	}
	if link != nil {
		link.cancel()
	}
}

func (self *SessionTransport) closeNormal(conn *websocket.Conn) {
	conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect"),
		time.Now().Add(self.settings.WriteTimeout),
	)
	conn.Close()
}

func (self *SessionTransport) Close() {
	self.Disconnect()
	self.cancel()
}
