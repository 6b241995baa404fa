package collab

import (
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
)

type AutosaverSettings struct {
	// typing inactivity before a persist fires
	SaveDebounceTimeout time.Duration
}

func DefaultAutosaverSettings() *AutosaverSettings {
	return &AutosaverSettings{
		SaveDebounceTimeout: 2000 * time.Millisecond,
	}
}

// persists the working copy through the document store on a debounce
// timer, independent of the live channel. runs with the last
// *successfully saved* version so a live-channel version bump cannot
// cause an optimistic-concurrency false pass. a version conflict is
// resolved by silently adopting the server's copy.
type Autosaver struct {
	api        *DocumentApi
	documentId string
	reconciler *Reconciler

	settings *AutosaverSettings

	savedListeners    *CallbackList[func(version int)]
	conflictListeners *CallbackList[func(version int)]
	noticeListeners   *CallbackList[func(notice string)]

	mutex  sync.Mutex
	timer  *time.Timer
	closed bool
}

func NewAutosaverWithDefaults(api *DocumentApi, documentId string, reconciler *Reconciler) *Autosaver {
	return NewAutosaver(api, documentId, reconciler, DefaultAutosaverSettings())
}

func NewAutosaver(api *DocumentApi, documentId string, reconciler *Reconciler, settings *AutosaverSettings) *Autosaver {
	autosaver := &Autosaver{
		api:               api,
		documentId:        documentId,
		reconciler:        reconciler,
		settings:          settings,
		savedListeners:    NewCallbackList[func(int)](),
		conflictListeners: NewCallbackList[func(int)](),
		noticeListeners:   NewCallbackList[func(string)](),
	}
	reconciler.AddLocalEditListener(autosaver.Touch)
	return autosaver
}

// Touch restarts the debounce window
func (self *Autosaver) Touch() {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	if self.closed {
		return
	}
	if self.timer != nil {
		self.timer.Stop()
	}
	self.timer = time.AfterFunc(self.settings.SaveDebounceTimeout, self.save)
}

// Save persists immediately, e.g. for a manual save action
func (self *Autosaver) Save() {
	self.mutex.Lock()
	if self.timer != nil {
		self.timer.Stop()
		self.timer = nil
	}
	self.mutex.Unlock()
	self.save()
}

func (self *Autosaver) save() {
	if !self.reconciler.Loaded() {
		return
	}
	snapshot := self.reconciler.Snapshot()
	if strings.TrimSpace(snapshot.Title) == "" {
		glog.V(2).Infof("[a]skip save, empty title\n")
		return
	}
	if !snapshot.Dirty {
		return
	}
	if self.reconciler.IsApplyingRemote() {
		// the next local edit re-arms the debounce
		glog.V(2).Infof("[a]skip save, applying remote edit\n")
		return
	}
	if !self.reconciler.CanWrite() {
		// visible, non-fatal
		for _, listener := range self.noticeListeners.Get() {
			listener("read-only access: changes are not saved")
		}
		return
	}

	args := &UpdateDocumentArgs{
		Title:   snapshot.Title,
		Content: snapshot.Content,
		Version: self.reconciler.SavedVersion(),
	}
	self.api.UpdateDocument(self.documentId, args, NewApiCallback(func(result *UpdateDocumentResult, err error) {
		if err != nil {
			// transport-level save failure is non-fatal. the next debounce retries
			glog.Infof("[a]save error = %s\n", err)
			return
		}
		if result.Conflict {
			glog.Infof("[a]version conflict, adopting server copy v%d\n", result.CurrentVersion)
			self.reconciler.AdoptServerDocument(result.CurrentContent, result.CurrentVersion)
			for _, listener := range self.conflictListeners.Get() {
				listener(result.CurrentVersion)
			}
			return
		}
		if result.Document != nil {
			self.reconciler.ConfirmSaved(result.Document.Version, args.Content)
			glog.V(2).Infof("[a]saved v%d\n", result.Document.Version)
			for _, listener := range self.savedListeners.Get() {
				listener(result.Document.Version)
			}
		}
	}))
}

func (self *Autosaver) AddSavedListener(listener func(version int)) func() {
	return self.savedListeners.Add(listener)
}

func (self *Autosaver) AddConflictListener(listener func(version int)) func() {
	return self.conflictListeners.Add(listener)
}

func (self *Autosaver) AddNoticeListener(listener func(notice string)) func() {
	return self.noticeListeners.Add(listener)
}

func (self *Autosaver) Close() {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.closed = true
	if self.timer != nil {
		self.timer.Stop()
		self.timer = nil
	}
}
