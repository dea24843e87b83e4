package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"codecollab/internal/models"
	"codecollab/internal/presence"
	"codecollab/internal/repositories"
	"codecollab/internal/utils"
)

const maxSaveAttempts = 3

// Executor runs code on behalf of a room member.
type Executor interface {
	Execute(ctx context.Context, req models.ExecuteRequest) (models.ExecuteResult, error)
}

// Engine applies room protocol operations. Every mutation of one project runs
// under that project's lock across load, persist and broadcast, so members
// observe broadcasts in processing order. A nil *Client means the operation
// came from the HTTP surface and has no sender to exclude.
type Engine struct {
	store    repositories.ProjectRepository
	registry *Registry
	runner   Executor
	presence presence.Tracker
	locks    *projectLocks
	log      *utils.Logger
}

func NewEngine(store repositories.ProjectRepository, registry *Registry, runner Executor, tracker presence.Tracker, log *utils.Logger) *Engine {
	if tracker == nil {
		tracker = presence.NewLocalTracker()
	}
	if log == nil {
		log = utils.NewNopLogger()
	}
	return &Engine{
		store:    store,
		registry: registry,
		runner:   runner,
		presence: tracker,
		locks:    newProjectLocks(),
		log:      log,
	}
}

func (e *Engine) Registry() *Registry { return e.registry }

// mutate loads the project, applies fn and persists the result when fn
// reports a change. Stale writes from another instance are retried against a
// fresh copy. Callers hold the project lock.
func (e *Engine) mutate(ctx context.Context, id string, fn func(p *models.Project) (bool, error)) (*models.Project, error) {
	for attempt := 1; ; attempt++ {
		p, err := e.store.Get(ctx, id)
		if err != nil {
			return nil, storeError(err)
		}
		changed, err := fn(p)
		if err != nil {
			return nil, err
		}
		if !changed {
			return p, nil
		}
		err = e.store.Save(ctx, p)
		if err == nil {
			return p, nil
		}
		if errors.Is(err, repositories.ErrStaleWrite) && attempt < maxSaveAttempts {
			e.log.Debug("retrying stale project write", "projectId", id, "attempt", attempt)
			continue
		}
		return nil, storeError(err)
	}
}

func storeError(err error) error {
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return models.WrapError(models.KindPersistence, "Failed to persist project", err)
}

func (e *Engine) syncRoom(p *models.Project) {
	if room, ok := e.registry.Room(p.ID); ok {
		room.Sync(p)
	}
}

func (e *Engine) publish(ctx context.Context, ev models.RoomEvent) {
	ev.At = time.Now().UTC().Format(time.RFC3339)
	if err := e.presence.Publish(ctx, ev); err != nil {
		e.log.Warn("publish room event failed", "event", ev.Type, "roomId", ev.RoomID, "error", err)
	}
}

// Join registers c in the room and replies with the snapshot. An unknown
// project leaves c unregistered.
func (e *Engine) Join(ctx context.Context, c *Client, roomID, username string) (models.RoomData, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		username = models.AnonymousUser
	}

	unlock := e.locks.Lock(roomID)
	defer unlock()

	p, err := e.mutate(ctx, roomID, func(p *models.Project) (bool, error) {
		return p.AddUser(username), nil
	})
	if err != nil {
		return models.RoomData{}, err
	}

	room, live := e.registry.Register(roomID, c, username)
	room.Sync(p)
	if live {
		e.log.Info("room is live", "roomId", roomID)
	}
	if err := e.presence.Join(ctx, roomID, username); err != nil {
		e.log.Warn("presence join failed", "roomId", roomID, "error", err)
	}

	online := room.Online()
	snapshot := models.RoomData{
		Files:    p.FileEntries(),
		Name:     p.Name,
		Language: p.Language,
		Users:    p.Users,
		Online:   online,
	}
	c.Send(models.WSFrame{Type: models.EventRoomData, Data: snapshot})
	e.registry.Broadcast(roomID, models.WSFrame{Type: models.EventUserJoined, Data: models.UserListUpdated{
		Username: username,
		Users:    p.Users,
		Online:   online,
	}}, c.ID)
	e.publish(ctx, models.RoomEvent{Type: models.EventUserJoined, RoomID: roomID, Username: username})
	return snapshot, nil
}

// Leave unregisters c and tells the remaining members. The persisted user
// list keeps the departed user.
func (e *Engine) Leave(ctx context.Context, c *Client, roomID string) {
	unlock := e.locks.Lock(roomID)
	defer unlock()

	username, remaining, ok := e.registry.Unregister(roomID, c.ID)
	if !ok {
		return
	}
	if err := e.presence.Leave(ctx, roomID, username); err != nil {
		e.log.Warn("presence leave failed", "roomId", roomID, "error", err)
	}
	e.publish(ctx, models.RoomEvent{Type: models.EventUserLeft, RoomID: roomID, Username: username})
	if remaining == 0 {
		e.log.Info("room evicted", "roomId", roomID)
		return
	}

	users := []string{}
	if p, err := e.store.Get(ctx, roomID); err == nil {
		users = p.Users
	} else {
		e.log.Warn("load project for user_left failed", "roomId", roomID, "error", err)
	}
	e.registry.Broadcast(roomID, models.WSFrame{Type: models.EventUserLeft, Data: models.UserListUpdated{
		Username: username,
		Users:    users,
		Online:   e.registry.Online(roomID),
	}}, "")
}

// ChangeFile overwrites one file and relays it to every member except the
// sender, who only gets file_change_ack.
func (e *Engine) ChangeFile(ctx context.Context, from *Client, roomID, filename, content string) error {
	unlock := e.locks.Lock(roomID)
	defer unlock()

	p, err := e.mutate(ctx, roomID, func(p *models.Project) (bool, error) {
		f := p.File(filename)
		if f == nil {
			return false, models.NewError(models.KindNotFound, "File not found")
		}
		f.Content = content
		return true, nil
	})
	if err != nil {
		return err
	}
	e.syncRoom(p)

	sender := clientID(from)
	e.registry.Broadcast(roomID, models.WSFrame{Type: models.EventFileUpdated, Data: models.FileUpdated{
		Filename: filename,
		Content:  content,
		Sender:   sender,
	}}, sender)
	if from != nil {
		from.Send(models.WSFrame{Type: models.EventFileChangeAck, Data: models.FileChangeAck{Filename: filename}})
	}
	e.publish(ctx, models.RoomEvent{Type: models.EventFileUpdated, RoomID: roomID, Filename: filename})
	return nil
}

func (e *Engine) CreateFile(ctx context.Context, roomID, name, content string) ([]models.FileEntry, error) {
	if strings.TrimSpace(name) == "" {
		return nil, models.NewError(models.KindValidation, "File name is required")
	}
	return e.updateFileList(ctx, roomID, func(p *models.Project) (bool, error) {
		if p.HasFile(name) {
			return false, models.NewError(models.KindConflict, "File already exists")
		}
		p.Files = append(p.Files, models.File{Name: name, Content: content})
		return true, nil
	})
}

func (e *Engine) RenameFile(ctx context.Context, roomID, oldName, newName string) ([]models.FileEntry, error) {
	if strings.TrimSpace(newName) == "" {
		return nil, models.NewError(models.KindValidation, "New file name is required")
	}
	return e.updateFileList(ctx, roomID, func(p *models.Project) (bool, error) {
		f := p.File(oldName)
		if f == nil {
			return false, models.NewError(models.KindNotFound, "File not found")
		}
		if oldName == newName {
			return false, nil
		}
		if p.HasFile(newName) {
			return false, models.NewError(models.KindConflict, "File with new name already exists")
		}
		f.Name = newName
		return true, nil
	})
}

// DeleteFile removes the file; deleting a missing file is a no-op.
func (e *Engine) DeleteFile(ctx context.Context, roomID, filename string) ([]models.FileEntry, error) {
	return e.updateFileList(ctx, roomID, func(p *models.Project) (bool, error) {
		return p.RemoveFile(filename), nil
	})
}

// updateFileList persists a list-shaped change and broadcasts the full list to
// every member, including the originator.
func (e *Engine) updateFileList(ctx context.Context, roomID string, fn func(p *models.Project) (bool, error)) ([]models.FileEntry, error) {
	unlock := e.locks.Lock(roomID)
	defer unlock()

	p, err := e.mutate(ctx, roomID, fn)
	if err != nil {
		return nil, err
	}
	e.syncRoom(p)
	files := p.FileEntries()
	e.registry.Broadcast(roomID, models.WSFrame{Type: models.EventFileListUpdated, Data: models.FileListUpdated{Files: files}}, "")
	e.publish(ctx, models.RoomEvent{Type: models.EventFileListUpdated, RoomID: roomID})
	return files, nil
}

// UpdateFile is the HTTP path for a content write.
func (e *Engine) UpdateFile(ctx context.Context, roomID, filename, content string) error {
	return e.ChangeFile(ctx, nil, roomID, filename, content)
}

func (e *Engine) RenameProject(ctx context.Context, roomID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.NewError(models.KindValidation, "Project name is required")
	}

	unlock := e.locks.Lock(roomID)
	defer unlock()

	p, err := e.mutate(ctx, roomID, func(p *models.Project) (bool, error) {
		if p.Name == name {
			return false, nil
		}
		p.Name = name
		return true, nil
	})
	if err != nil {
		return err
	}
	e.syncRoom(p)
	e.registry.Broadcast(roomID, models.WSFrame{Type: models.EventProjectNameUpdated, Data: models.ProjectNameUpdated{Name: p.Name}}, "")
	e.publish(ctx, models.RoomEvent{Type: models.EventProjectNameUpdated, RoomID: roomID})
	return nil
}

// SaveProject persists the saver's whole-document state. The saver gets
// project_saved, everyone else project_saved_by_other and, when the content
// changed, the new file content.
func (e *Engine) SaveProject(ctx context.Context, from *Client, savedBy string, req models.SaveProject) error {
	roomID := req.RoomID
	unlock := e.locks.Lock(roomID)
	defer unlock()

	var target string
	var contentChanged bool
	p, err := e.mutate(ctx, roomID, func(p *models.Project) (bool, error) {
		target, contentChanged = "", false
		if name := strings.TrimSpace(req.Name); name != "" {
			p.Name = name
		}
		if req.Language != "" {
			p.Language = req.Language
		}
		var f *models.File
		switch {
		case req.Filename != "":
			if f = p.File(req.Filename); f == nil {
				return false, models.NewError(models.KindNotFound, "File not found")
			}
		case len(p.Files) == 1:
			f = &p.Files[0]
		case len(p.Files) == 0:
			return false, models.NewError(models.KindValidation, "Project has no file to save")
		default:
			return false, models.NewError(models.KindValidation, "Filename is required for multi-file projects")
		}
		target = f.Name
		contentChanged = f.Content != req.Content
		f.Content = req.Content
		return true, nil
	})
	if err != nil {
		return err
	}
	e.syncRoom(p)

	sender := clientID(from)
	if from != nil {
		from.Send(models.WSFrame{Type: models.EventProjectSaved, Data: models.ProjectSaved{Success: true}})
	}
	if contentChanged {
		e.registry.Broadcast(roomID, models.WSFrame{Type: models.EventFileUpdated, Data: models.FileUpdated{
			Filename: target,
			Content:  req.Content,
			Sender:   sender,
		}}, sender)
	}
	e.registry.Broadcast(roomID, models.WSFrame{Type: models.EventProjectSavedOther, Data: models.ProjectSavedByOther{SavedBy: savedBy}}, sender)
	e.publish(ctx, models.RoomEvent{Type: models.EventProjectSaved, RoomID: roomID, Username: savedBy, Filename: target})
	return nil
}

// SyncRemote reloads a live room after another instance changed its project
// and relays the differences to local members. Content changes are compared
// against the room's last known contents, so a write this instance already
// relayed is not sent twice.
func (e *Engine) SyncRemote(ctx context.Context, ev models.RoomEvent) error {
	room, ok := e.registry.Room(ev.RoomID)
	if !ok {
		return nil
	}
	unlock := e.locks.Lock(ev.RoomID)
	defer unlock()

	p, err := e.store.Get(ctx, ev.RoomID)
	if err != nil {
		return storeError(err)
	}
	name, _, files := room.Snapshot()
	changed := room.changedFiles(p)
	room.Sync(p)

	if p.Name != name {
		e.registry.Broadcast(ev.RoomID, models.WSFrame{Type: models.EventProjectNameUpdated, Data: models.ProjectNameUpdated{Name: p.Name}}, "")
	}
	if entries := p.FileEntries(); !sameEntries(files, entries) {
		e.registry.Broadcast(ev.RoomID, models.WSFrame{Type: models.EventFileListUpdated, Data: models.FileListUpdated{Files: entries}}, "")
	}
	for _, f := range changed {
		e.registry.Broadcast(ev.RoomID, models.WSFrame{Type: models.EventFileUpdated, Data: models.FileUpdated{
			Filename: f.Name,
			Content:  f.Content,
		}}, "")
	}
	if ev.Type == models.EventProjectSaved {
		e.registry.Broadcast(ev.RoomID, models.WSFrame{Type: models.EventProjectSavedOther, Data: models.ProjectSavedByOther{SavedBy: ev.Username}}, "")
	}
	return nil
}

func sameEntries(a, b []models.FileEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// CursorMove relays presence only; nothing is persisted.
func (e *Engine) CursorMove(from *Client, roomID, username string, pos models.CursorPosition) {
	e.registry.Broadcast(roomID, models.WSFrame{Type: models.EventCursorMoved, Data: models.CursorMoved{
		Username:     username,
		ConnectionID: from.ID,
		Position:     pos,
	}}, from.ID)
}

// Execute never takes a project lock.
func (e *Engine) Execute(ctx context.Context, req models.ExecuteRequest) (models.ExecuteResult, error) {
	if e.runner == nil {
		return models.ExecuteResult{}, models.NewError(models.KindExternalService, "Code execution is not configured")
	}
	return e.runner.Execute(ctx, req)
}

/*** HTTP helpers ***/

func (e *Engine) CreateProject(ctx context.Context, req models.CreateProjectRequest) (*models.Project, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, models.NewError(models.KindValidation, "Project name is required")
	}
	lang := req.Language
	if lang == "" {
		lang = models.LangPython
	}
	p := &models.Project{Name: name, Language: lang, Files: req.Files, Users: []string{}}
	seen := make(map[string]struct{}, len(req.Files))
	for _, f := range req.Files {
		if _, dup := seen[f.Name]; dup {
			return nil, models.NewError(models.KindConflict, "Duplicate file name: "+f.Name)
		}
		seen[f.Name] = struct{}{}
	}
	for _, u := range req.Users {
		if u = strings.TrimSpace(u); u != "" {
			p.AddUser(u)
		}
	}
	created, err := e.store.Create(ctx, p)
	if err != nil {
		return nil, storeError(err)
	}
	return created, nil
}

func (e *Engine) Project(ctx context.Context, id string) (*models.Project, error) {
	p, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}
	return p, nil
}

// AddUser records username in the project's persisted members without
// joining a room.
func (e *Engine) AddUser(ctx context.Context, id, username string) ([]string, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, models.NewError(models.KindValidation, "User name is required")
	}
	unlock := e.locks.Lock(id)
	defer unlock()

	p, err := e.mutate(ctx, id, func(p *models.Project) (bool, error) {
		return p.AddUser(username), nil
	})
	if err != nil {
		return nil, err
	}
	return p.Users, nil
}

// Online reports the live users of a room across instances.
func (e *Engine) Online(ctx context.Context, id string) ([]string, error) {
	if _, err := e.Project(ctx, id); err != nil {
		return nil, err
	}
	online, err := e.presence.Online(ctx, id)
	if err != nil {
		e.log.Warn("presence lookup failed, using local room", "roomId", id, "error", err)
		return e.registry.Online(id), nil
	}
	return online, nil
}
