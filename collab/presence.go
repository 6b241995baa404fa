package collab

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/exp/maps"
)

type PresenceSettings struct {
	// a cursor entry this old is excluded from the visible set
	StaleCursorTimeout      time.Duration
	CursorBroadcastInterval time.Duration
}

func DefaultPresenceSettings() *PresenceSettings {
	return &PresenceSettings{
		StaleCursorTimeout:      3000 * time.Millisecond,
		CursorBroadcastInterval: 500 * time.Millisecond,
	}
}

// no cursor message seen yet for this participant
const noCursor = -1

type ParticipantPresence struct {
	UserId   string
	UserName string
	Position int
	LastSeen time.Time
}

type VisibleCursor struct {
	UserId   string
	UserName string
	Position int
	// zero-based line index, counting line breaks up to the offset
	Line int
}

// the set of remote participants currently believed active, with their
// last-known cursor positions. entries expire from the visible set by
// time and are removed entirely on an explicit leave.
type PresenceTracker struct {
	selfId string

	settings *PresenceSettings

	updateMonitor *Monitor

	mutex        sync.Mutex
	participants map[string]*ParticipantPresence
}

func NewPresenceTrackerWithDefaults(selfId string, transport *SessionTransport) *PresenceTracker {
	return NewPresenceTracker(selfId, transport, DefaultPresenceSettings())
}

func NewPresenceTracker(selfId string, transport *SessionTransport, settings *PresenceSettings) *PresenceTracker {
	tracker := &PresenceTracker{
		selfId:        selfId,
		settings:      settings,
		updateMonitor: NewMonitor(),
		participants:  map[string]*ParticipantPresence{},
	}
	if transport != nil {
		transport.AddJoinedListener(tracker.handleJoined)
		transport.AddLeftListener(tracker.handleLeft)
		transport.AddCursorListener(tracker.handleCursor)
		// a content message also proves the participant is alive
		transport.AddEditListener(tracker.handleEdit)
	}
	return tracker
}

func (self *PresenceTracker) handleJoined(message *UserJoinedMessage) {
	if message.UserId == self.selfId {
		return
	}
	self.mutex.Lock()
	participant, ok := self.participants[message.UserId]
	if !ok {
		participant = &ParticipantPresence{
			UserId:   message.UserId,
			Position: noCursor,
		}
		self.participants[message.UserId] = participant
	}
	if message.UserName != "" {
		participant.UserName = message.UserName
	}
	participant.LastSeen = time.Now()
	self.mutex.Unlock()

	self.updateMonitor.NotifyAll()
}

func (self *PresenceTracker) handleLeft(message *UserLeftMessage) {
	self.mutex.Lock()
	delete(self.participants, message.UserId)
	self.mutex.Unlock()

	self.updateMonitor.NotifyAll()
}

func (self *PresenceTracker) handleCursor(message *CursorMessage) {
	if message.UserId == self.selfId {
		return
	}
	if message.Position < 0 {
		return
	}
	self.mutex.Lock()
	participant, ok := self.participants[message.UserId]
	if !ok {
		participant = &ParticipantPresence{
			UserId: message.UserId,
		}
		self.participants[message.UserId] = participant
	}
	participant.Position = message.Position
	if message.UserName != "" {
		participant.UserName = message.UserName
	}
	participant.LastSeen = time.Now()
	self.mutex.Unlock()

	self.updateMonitor.NotifyAll()
}

func (self *PresenceTracker) handleEdit(message *EditMessage) {
	if message.UserId == self.selfId {
		return
	}
	self.mutex.Lock()
	participant, ok := self.participants[message.UserId]
	if !ok {
		participant = &ParticipantPresence{
			UserId:   message.UserId,
			Position: noCursor,
		}
		self.participants[message.UserId] = participant
	}
	participant.LastSeen = time.Now()
	self.mutex.Unlock()

	self.updateMonitor.NotifyAll()
}

func (self *PresenceTracker) Participants() []*ParticipantPresence {
	self.mutex.Lock()
	participants := []*ParticipantPresence{}
	for _, participant := range maps.Values(self.participants) {
		p := *participant
		participants = append(participants, &p)
	}
	self.mutex.Unlock()

	slices.SortFunc(participants, func(a *ParticipantPresence, b *ParticipantPresence) int {
		return strings.Compare(a.UserId, b.UserId)
	})
	return participants
}

// VisibleCursors maps each live cursor offset to a line number in the
// given content. Entries with `now - lastSeen >= StaleCursorTimeout` are
// excluded (the boundary is excluded).
func (self *PresenceTracker) VisibleCursors(content string) []*VisibleCursor {
	return self.visibleCursors(content, time.Now())
}

func (self *PresenceTracker) visibleCursors(content string, now time.Time) []*VisibleCursor {
	self.mutex.Lock()
	cursors := []*VisibleCursor{}
	for _, participant := range self.participants {
		if participant.Position < 0 {
			continue
		}
		if self.settings.StaleCursorTimeout <= now.Sub(participant.LastSeen) {
			continue
		}
		position := participant.Position
		if len(content) < position {
			position = len(content)
		}
		cursors = append(cursors, &VisibleCursor{
			UserId:   participant.UserId,
			UserName: participant.UserName,
			Position: position,
			Line:     strings.Count(content[:position], "\n"),
		})
	}
	self.mutex.Unlock()

	slices.SortFunc(cursors, func(a *VisibleCursor, b *VisibleCursor) int {
		return strings.Compare(a.UserId, b.UserId)
	})
	return cursors
}

// UpdateMonitor notifies whenever the presence set changes
func (self *PresenceTracker) UpdateMonitor() *Monitor {
	return self.updateMonitor
}

func (self *PresenceTracker) Clear() {
	self.mutex.Lock()
	self.participants = map[string]*ParticipantPresence{}
	self.mutex.Unlock()

	self.updateMonitor.NotifyAll()
}

// emits the local cursor position on a fixed interval while the channel
// is open and the participant may write, plus immediately on demand
// (key-up/click interactions and on reaching open).
type CursorBroadcaster struct {
	ctx    context.Context
	cancel context.CancelFunc

	transport *SessionTransport

	participantId string
	displayName   string

	position func() int
	canWrite func() bool

	settings *PresenceSettings
}

func NewCursorBroadcaster(
	ctx context.Context,
	transport *SessionTransport,
	participantId string,
	displayName string,
	position func() int,
	canWrite func() bool,
	settings *PresenceSettings,
) *CursorBroadcaster {
	cancelCtx, cancel := context.WithCancel(ctx)
	broadcaster := &CursorBroadcaster{
		ctx:           cancelCtx,
		cancel:        cancel,
		transport:     transport,
		participantId: participantId,
		displayName:   displayName,
		position:      position,
		canWrite:      canWrite,
		settings:      settings,
	}
	// announce as soon as the channel reaches open
	transport.AddOpenListener(func() {
		broadcaster.Announce()
	})
	go broadcaster.run()
	return broadcaster
}

func (self *CursorBroadcaster) run() {
	ticker := time.NewTicker(self.settings.CursorBroadcastInterval)
	defer ticker.Stop()

	for {
		select {
		case <-self.ctx.Done():
			return
		case <-ticker.C:
			self.Announce()
		}
	}
}

func (self *CursorBroadcaster) Announce() bool {
	if !self.transport.IsOpen() {
		return false
	}
	if !self.canWrite() {
		return false
	}
	return self.transport.SendCursor(self.position(), self.participantId, self.displayName)
}

func (self *CursorBroadcaster) Close() {
	self.cancel()
}
