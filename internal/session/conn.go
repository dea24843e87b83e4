package session

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"codecollab/internal/metrics"
	"codecollab/internal/models"
	"codecollab/internal/utils"
)

type State int

const (
	StateDisconnected State = iota
	StateJoining
	StateJoined
)

func (s State) String() string {
	switch s {
	case StateJoining:
		return "joining"
	case StateJoined:
		return "joined"
	default:
		return "disconnected"
	}
}

// Conn drives one connection through Disconnected -> Joining -> Joined ->
// Disconnected and dispatches its inbound events to the Engine. Handle is
// called from the connection's single read loop.
type Conn struct {
	engine *Engine
	client *Client
	log    *utils.Logger

	mu       sync.Mutex
	state    State
	roomID   string
	username string

	runCtx    context.Context
	cancelRun context.CancelFunc
	runs      sync.WaitGroup
}

func NewConn(engine *Engine, client *Client, log *utils.Logger) *Conn {
	if log == nil {
		log = utils.NewNopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		engine:    engine,
		client:    client,
		log:       log.With("connectionId", client.ID),
		runCtx:    ctx,
		cancelRun: cancel,
	}
}

func (c *Conn) Client() *Client { return c.client }

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

func (c *Conn) setState(state State, roomID, username string) {
	c.mu.Lock()
	c.state, c.roomID, c.username = state, roomID, username
	c.mu.Unlock()
}

// Open announces the server-assigned connection id to the client.
func (c *Conn) Open() {
	metrics.ConnectionOpened()
	c.client.Send(models.WSFrame{Type: models.EventConnected, Data: models.Connected{ConnectionID: c.client.ID}})
}

// Close leaves the current room and cancels in-flight runs.
func (c *Conn) Close(ctx context.Context) {
	c.cancelRun()
	if roomID := c.RoomID(); roomID != "" {
		c.engine.Leave(ctx, c.client, roomID)
	}
	c.setState(StateDisconnected, "", "")
	c.runs.Wait()
	metrics.ConnectionClosed()
}

// Handle dispatches one inbound frame. Failures go back to this connection
// only as an error event.
func (c *Conn) Handle(ctx context.Context, frame models.InboundFrame) {
	if !c.client.Allow() {
		c.fail(frame.Type, models.NewError(models.KindRateLimited, "Too many events"))
		return
	}
	if err := c.dispatch(ctx, frame); err != nil {
		c.fail(frame.Type, err)
		return
	}
	metrics.SocketEvent(frame.Type, "ok")
}

func (c *Conn) fail(event string, err error) {
	kind := models.KindOf(err)
	metrics.SocketEvent(event, string(kind))
	if kind == models.KindInternal || kind == models.KindPersistence {
		c.log.Error("event failed", "event", event, "roomId", c.RoomID(), "error", err)
	} else {
		c.log.Warn("event rejected", "event", event, "roomId", c.RoomID(), "error", err)
	}
	c.client.SendError(event, err)
}

func decode(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return models.NewError(models.KindValidation, "Missing event payload")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return models.WrapError(models.KindValidation, "Invalid event payload", err)
	}
	return nil
}

// joined checks the connection is in roomID (or any room when roomID is
// empty) and returns the effective room and username.
func (c *Conn) joined(roomID string) (string, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateJoined {
		return "", "", models.NewError(models.KindNotJoined, "Join a room first")
	}
	if roomID != "" && roomID != c.roomID {
		return "", "", models.NewError(models.KindNotJoined, "Not joined to room "+roomID)
	}
	return c.roomID, c.username, nil
}

func (c *Conn) dispatch(ctx context.Context, frame models.InboundFrame) error {
	switch frame.Type {
	case models.EventJoinRoom:
		var req models.JoinRoom
		if err := decode(frame.Data, &req); err != nil {
			return err
		}
		return c.join(ctx, req)

	case models.EventLeaveRoom:
		roomID, _, err := c.joined("")
		if err != nil {
			return err
		}
		c.engine.Leave(ctx, c.client, roomID)
		c.setState(StateDisconnected, "", "")
		return nil

	case models.EventFileChange:
		var req models.FileChange
		if err := decode(frame.Data, &req); err != nil {
			return err
		}
		roomID, _, err := c.joined(req.RoomID)
		if err != nil {
			return err
		}
		return c.engine.ChangeFile(ctx, c.client, roomID, req.Filename, req.Content)

	case models.EventFileCreate:
		var req models.FileCreate
		if err := decode(frame.Data, &req); err != nil {
			return err
		}
		roomID, _, err := c.joined(req.RoomID)
		if err != nil {
			return err
		}
		_, err = c.engine.CreateFile(ctx, roomID, req.Name, req.Content)
		return err

	case models.EventFileRename:
		var req models.FileRename
		if err := decode(frame.Data, &req); err != nil {
			return err
		}
		roomID, _, err := c.joined(req.RoomID)
		if err != nil {
			return err
		}
		_, err = c.engine.RenameFile(ctx, roomID, req.OldName, req.NewName)
		return err

	case models.EventFileDelete:
		var req models.FileDelete
		if err := decode(frame.Data, &req); err != nil {
			return err
		}
		roomID, _, err := c.joined(req.RoomID)
		if err != nil {
			return err
		}
		_, err = c.engine.DeleteFile(ctx, roomID, req.Filename)
		return err

	case models.EventProjectNameChange:
		var req models.ProjectNameChange
		if err := decode(frame.Data, &req); err != nil {
			return err
		}
		roomID, _, err := c.joined(req.RoomID)
		if err != nil {
			return err
		}
		return c.engine.RenameProject(ctx, roomID, req.Name)

	case models.EventSaveProject:
		var req models.SaveProject
		if err := decode(frame.Data, &req); err != nil {
			return err
		}
		roomID, username, err := c.joined(req.RoomID)
		if err != nil {
			return err
		}
		req.RoomID = roomID
		return c.engine.SaveProject(ctx, c.client, username, req)

	case models.EventCursorMove:
		var req models.CursorMove
		if err := decode(frame.Data, &req); err != nil {
			return err
		}
		roomID, username, err := c.joined(req.RoomID)
		if err != nil {
			return err
		}
		c.engine.CursorMove(c.client, roomID, username, req.Position)
		return nil

	case models.EventRunCode:
		var req models.RunCode
		if err := decode(frame.Data, &req); err != nil {
			return err
		}
		c.run(req)
		return nil

	default:
		return models.NewError(models.KindValidation, "Unknown event type: "+frame.Type)
	}
}

func (c *Conn) join(ctx context.Context, req models.JoinRoom) error {
	if req.RoomID == "" {
		return models.NewError(models.KindValidation, "Room id is required")
	}
	if prev := c.RoomID(); prev != "" {
		c.engine.Leave(ctx, c.client, prev)
	}
	c.setState(StateJoining, req.RoomID, "")

	if _, err := c.engine.Join(ctx, c.client, req.RoomID, req.Username); err != nil {
		c.setState(StateDisconnected, "", "")
		return err
	}
	username := strings.TrimSpace(req.Username)
	if username == "" {
		username = models.AnonymousUser
	}
	c.setState(StateJoined, req.RoomID, username)
	c.log.Info("joined room", "roomId", req.RoomID, "username", username)
	return nil
}

// run executes off the read loop so a slow sandbox never stalls room events.
func (c *Conn) run(req models.RunCode) {
	c.runs.Add(1)
	go func() {
		defer c.runs.Done()
		res, err := c.engine.Execute(c.runCtx, models.ExecuteRequest{Code: req.Code, Language: req.Language, Input: req.Input})
		out := models.RunResult{ExecuteResult: res}
		if err != nil {
			resp := models.ToErrorResponse(err)
			out.Error = &resp
			metrics.SocketEvent(models.EventRunCode, string(models.KindOf(err)))
		}
		c.client.Send(models.WSFrame{Type: models.EventRunResult, Data: out})
	}()
}
