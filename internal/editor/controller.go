// Package editor is the client half of the room protocol: it owns the buffer
// of the open file, forwards local edits as debounced file_change events and
// applies remote file_updated events without echoing them back.
package editor

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"codecollab/internal/models"
	"codecollab/internal/utils"
)

const DefaultDebounce = 300 * time.Millisecond

// Origin tags a buffer mutation with where it came from.
type Origin int

const (
	OriginLocal Origin = iota
	OriginRemote
)

func (o Origin) String() string {
	if o == OriginRemote {
		return "remote"
	}
	return "local"
}

// Transport delivers frames to the server.
type Transport interface {
	Send(frame models.WSFrame) error
}

type Option func(*Controller)

func WithDebounce(d time.Duration) Option {
	return func(c *Controller) { c.debounce = d }
}

func WithLogger(log *utils.Logger) Option {
	return func(c *Controller) { c.log = log }
}

// WithRemoteHook registers fn to be called, outside the controller's lock,
// whenever a remote update replaces the buffer. Editor bindings use it to
// push the content into the widget.
func WithRemoteHook(fn func(filename, content string)) Option {
	return func(c *Controller) { c.onRemote = fn }
}

type Controller struct {
	transport Transport
	roomID    string
	username  string
	debounce  time.Duration
	log       *utils.Logger
	onRemote  func(filename, content string)

	mu          sync.Mutex
	selfID      string
	filename    string
	buffer      string
	nextOrigin  *Origin
	dirty       bool
	inflight    []string
	timer       *time.Timer
	files       []string
	projectName string
	language    models.Language
	online      []string
	lastErr     *models.ErrorEvent
	closed      bool
}

func NewController(t Transport, roomID, username string, opts ...Option) *Controller {
	c := &Controller{transport: t, roomID: roomID, username: username, debounce: DefaultDebounce}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = utils.NewNopLogger()
	}
	c.log = c.log.With("roomId", roomID)
	return c
}

// Join asks the server to add this connection to the room.
func (c *Controller) Join() error {
	return c.transport.Send(models.WSFrame{
		Type: models.EventJoinRoom,
		Data: models.JoinRoom{RoomID: c.roomID, Username: c.username},
	})
}

// Open selects filename as the active file. Pending edits to the previous
// file are flushed first.
func (c *Controller) Open(filename, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.flushLocked(); err != nil {
		return err
	}
	c.filename = filename
	c.buffer = content
	c.nextOrigin = nil
	return nil
}

// Changed records a mutation of the local buffer. A mutation that follows a
// remote update consumes the remote tag and is not emitted.
func (c *Controller) Changed(content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.filename == "" {
		return
	}
	origin := c.takeOrigin()
	c.buffer = content
	if origin == OriginRemote {
		return
	}
	c.dirty = true
	c.schedule()
}

func (c *Controller) takeOrigin() Origin {
	if c.nextOrigin == nil {
		return OriginLocal
	}
	o := *c.nextOrigin
	c.nextOrigin = nil
	return o
}

func (c *Controller) schedule() {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.debounce, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if err := c.flushLocked(); err != nil {
			c.log.Warn("flush failed", "file", c.filename, "error", err)
		}
	})
}

// Flush sends any pending local edit immediately.
func (c *Controller) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushLocked()
}

func (c *Controller) flushLocked() error {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if !c.dirty || c.filename == "" {
		return nil
	}
	c.dirty = false
	if err := c.transport.Send(models.WSFrame{
		Type: models.EventFileChange,
		Data: models.FileChange{RoomID: c.roomID, Filename: c.filename, Content: c.buffer, Sender: c.selfID},
	}); err != nil {
		return err
	}
	c.inflight = append(c.inflight, c.filename)
	return nil
}

// Save flushes pending edits and asks the server to persist the whole
// document under the given project name and language.
func (c *Controller) Save(name string, language models.Language) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.filename == "" {
		return errors.New("no file open")
	}
	if err := c.flushLocked(); err != nil {
		return err
	}
	if err := c.transport.Send(models.WSFrame{
		Type: models.EventSaveProject,
		Data: models.SaveProject{RoomID: c.roomID, Content: c.buffer, Language: language, Name: name, Filename: c.filename},
	}); err != nil {
		return err
	}
	c.inflight = append(c.inflight, c.filename)
	return nil
}

// HandleEvent applies one server frame to the controller state.
func (c *Controller) HandleEvent(frame models.InboundFrame) error {
	switch frame.Type {
	case models.EventConnected:
		var ev models.Connected
		if err := json.Unmarshal(frame.Data, &ev); err != nil {
			return err
		}
		c.mu.Lock()
		c.selfID = ev.ConnectionID
		c.mu.Unlock()

	case models.EventRoomData:
		var ev models.RoomData
		if err := json.Unmarshal(frame.Data, &ev); err != nil {
			return err
		}
		c.mu.Lock()
		c.files = fileNames(ev.Files)
		c.projectName = ev.Name
		c.language = ev.Language
		c.online = ev.Online
		c.mu.Unlock()

	case models.EventFileUpdated:
		var ev models.FileUpdated
		if err := json.Unmarshal(frame.Data, &ev); err != nil {
			return err
		}
		c.applyRemote(ev)

	case models.EventFileChangeAck:
		var ev models.FileChangeAck
		if err := json.Unmarshal(frame.Data, &ev); err != nil {
			return err
		}
		c.settle(ev.Filename)

	case models.EventProjectSaved:
		c.settle("")

	case models.EventFileListUpdated:
		var ev models.FileListUpdated
		if err := json.Unmarshal(frame.Data, &ev); err != nil {
			return err
		}
		c.mu.Lock()
		c.files = fileNames(ev.Files)
		if !contains(c.files, c.filename) {
			c.closeFileLocked()
		}
		c.mu.Unlock()

	case models.EventProjectNameUpdated:
		var ev models.ProjectNameUpdated
		if err := json.Unmarshal(frame.Data, &ev); err != nil {
			return err
		}
		c.mu.Lock()
		c.projectName = ev.Name
		c.mu.Unlock()

	case models.EventUserJoined, models.EventUserLeft:
		var ev models.UserListUpdated
		if err := json.Unmarshal(frame.Data, &ev); err != nil {
			return err
		}
		c.mu.Lock()
		c.online = ev.Online
		c.mu.Unlock()

	case models.EventError:
		var ev models.ErrorEvent
		if err := json.Unmarshal(frame.Data, &ev); err != nil {
			return err
		}
		c.log.Warn("server rejected event", "event", ev.Event, "code", ev.Code, "message", ev.Message)
		c.mu.Lock()
		c.lastErr = &ev
		c.mu.Unlock()
		if ev.Event == models.EventFileChange || ev.Event == models.EventSaveProject {
			c.settle("")
		}
	}
	return nil
}

// settle marks the oldest unacknowledged write to filename as processed by
// the server. An empty filename settles the oldest write of any file; the
// server answers writes in the order they were sent.
func (c *Controller) settle(filename string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, name := range c.inflight {
		if filename == "" || name == filename {
			c.inflight = append(c.inflight[:i], c.inflight[i+1:]...)
			return
		}
	}
}

// Pending reports how many sent writes the server has not yet acknowledged.
func (c *Controller) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}

func (c *Controller) pendingFor(filename string) bool {
	for _, name := range c.inflight {
		if name == filename {
			return true
		}
	}
	return false
}

func (c *Controller) applyRemote(ev models.FileUpdated) {
	c.mu.Lock()
	if ev.Filename != c.filename || ev.Content == c.buffer {
		c.mu.Unlock()
		return
	}
	if ev.Sender != "" && ev.Sender == c.selfID {
		c.mu.Unlock()
		return
	}
	// the server processed this before our unacknowledged write to the same
	// file, which will overwrite it
	if c.pendingFor(ev.Filename) {
		c.mu.Unlock()
		return
	}
	// the remote write wins over anything typed since the last flush
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.dirty = false
	c.buffer = ev.Content
	remote := OriginRemote
	c.nextOrigin = &remote
	hook := c.onRemote
	c.mu.Unlock()

	if hook != nil {
		hook(ev.Filename, ev.Content)
	}
}

func (c *Controller) closeFileLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.filename = ""
	c.buffer = ""
	c.dirty = false
	c.nextOrigin = nil
}

// Close stops the debounce timer without flushing.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) Buffer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffer
}

func (c *Controller) Filename() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filename
}

func (c *Controller) ConnectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selfID
}

func (c *Controller) Files() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.files...)
}

func (c *Controller) ProjectName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.projectName
}

func (c *Controller) Language() models.Language {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.language
}

func (c *Controller) Online() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.online...)
}

// LastError returns the most recent error event the server sent, if any.
func (c *Controller) LastError() *models.ErrorEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func fileNames(entries []models.FileEntry) []string {
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	return names
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
