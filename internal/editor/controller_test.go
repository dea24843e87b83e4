package editor

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codecollab/internal/api"
	"codecollab/internal/exec"
	"codecollab/internal/models"
	"codecollab/internal/repositories"
	"codecollab/internal/routers"
	"codecollab/internal/session"
)

type recordingTransport struct {
	mu     sync.Mutex
	frames []models.WSFrame
}

func (r *recordingTransport) Send(frame models.WSFrame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frame)
	return nil
}

func (r *recordingTransport) ofType(typ string) []models.WSFrame {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.WSFrame
	for _, f := range r.frames {
		if f.Type == typ {
			out = append(out, f)
		}
	}
	return out
}

func inbound(t *testing.T, typ string, data any) models.InboundFrame {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return models.InboundFrame{Type: typ, Data: raw}
}

func newTestController(t *testing.T, opts ...Option) (*Controller, *recordingTransport) {
	t.Helper()
	tr := &recordingTransport{}
	opts = append([]Option{WithDebounce(time.Hour)}, opts...)
	c := NewController(tr, "room-1", "alice", opts...)
	t.Cleanup(c.Close)
	require.NoError(t, c.HandleEvent(inbound(t, models.EventConnected, models.Connected{ConnectionID: "self"})))
	require.NoError(t, c.Open("main.py", ""))
	return c, tr
}

func TestLocalEditsAreDebounced(t *testing.T) {
	c, tr := newTestController(t, WithDebounce(20*time.Millisecond))

	c.Changed("p")
	c.Changed("pr")
	c.Changed("print(1)")

	require.Eventually(t, func() bool { return len(tr.ofType(models.EventFileChange)) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(40 * time.Millisecond)

	sent := tr.ofType(models.EventFileChange)
	require.Len(t, sent, 1)
	change := sent[0].Data.(models.FileChange)
	assert.Equal(t, "print(1)", change.Content)
	assert.Equal(t, "main.py", change.Filename)
	assert.Equal(t, "self", change.Sender)
	assert.Equal(t, "room-1", change.RoomID)
}

func TestRemoteUpdateIsNotReEmitted(t *testing.T) {
	var hooked []string
	var c *Controller
	c, tr := newTestController(t, WithRemoteHook(func(_, content string) {
		hooked = append(hooked, content)
		// the widget reports the programmatic change like any other
		c.Changed(content)
	}))

	require.NoError(t, c.HandleEvent(inbound(t, models.EventFileUpdated, models.FileUpdated{Filename: "main.py", Content: "remote", Sender: "other"})))
	assert.Equal(t, "remote", c.Buffer())
	assert.Equal(t, []string{"remote"}, hooked)

	require.NoError(t, c.Flush())
	assert.Empty(t, tr.ofType(models.EventFileChange), "remote content must not be echoed")

	// the tag is consumed once, the next keystroke is local again
	c.Changed("remote!")
	require.NoError(t, c.Flush())
	sent := tr.ofType(models.EventFileChange)
	require.Len(t, sent, 1)
	assert.Equal(t, "remote!", sent[0].Data.(models.FileChange).Content)
}

func TestRemoteUpdateIgnoredForOwnSenderOrOtherFile(t *testing.T) {
	c, _ := newTestController(t)
	c.Changed("mine")

	require.NoError(t, c.HandleEvent(inbound(t, models.EventFileUpdated, models.FileUpdated{Filename: "main.py", Content: "echo", Sender: "self"})))
	assert.Equal(t, "mine", c.Buffer())

	require.NoError(t, c.HandleEvent(inbound(t, models.EventFileUpdated, models.FileUpdated{Filename: "util.py", Content: "other file", Sender: "other"})))
	assert.Equal(t, "mine", c.Buffer())

	// identical content is not a change and leaves the pending edit alone
	require.NoError(t, c.HandleEvent(inbound(t, models.EventFileUpdated, models.FileUpdated{Filename: "main.py", Content: "mine", Sender: "other"})))
	c.Changed("mine2")
	assert.Equal(t, "mine2", c.Buffer())
}

func TestRemoteUpdateDiscardsUnflushedEdits(t *testing.T) {
	c, tr := newTestController(t)
	c.Changed("typed but not flushed")

	require.NoError(t, c.HandleEvent(inbound(t, models.EventFileUpdated, models.FileUpdated{Filename: "main.py", Content: "winner", Sender: "other"})))
	require.NoError(t, c.Flush())

	assert.Equal(t, "winner", c.Buffer())
	assert.Empty(t, tr.ofType(models.EventFileChange))
}

func TestRemoteUpdateBeforeAckIsStale(t *testing.T) {
	c, _ := newTestController(t)
	c.Changed("y")
	require.NoError(t, c.Flush())
	require.Equal(t, 1, c.Pending())

	// processed by the server ahead of our write
	require.NoError(t, c.HandleEvent(inbound(t, models.EventFileUpdated, models.FileUpdated{Filename: "main.py", Content: "x", Sender: "other"})))
	assert.Equal(t, "y", c.Buffer())

	require.NoError(t, c.HandleEvent(inbound(t, models.EventFileChangeAck, models.FileChangeAck{Filename: "main.py"})))
	assert.Equal(t, 0, c.Pending())

	require.NoError(t, c.HandleEvent(inbound(t, models.EventFileUpdated, models.FileUpdated{Filename: "main.py", Content: "z", Sender: "other"})))
	assert.Equal(t, "z", c.Buffer())
}

func TestRejectedWriteSettles(t *testing.T) {
	c, _ := newTestController(t)
	c.Changed("y")
	require.NoError(t, c.Flush())

	require.NoError(t, c.HandleEvent(inbound(t, models.EventError, models.ErrorEvent{Code: "not_found", Event: models.EventFileChange})))
	assert.Equal(t, 0, c.Pending())
}

func TestSwitchingFilesKeepsRemoteUpdatesForTheNewFile(t *testing.T) {
	c, _ := newTestController(t)
	c.Changed("edit to main")
	require.NoError(t, c.Open("util.py", "old"))
	require.Equal(t, 1, c.Pending())

	// util.py has no write of ours outstanding, so the update applies at once
	require.NoError(t, c.HandleEvent(inbound(t, models.EventFileUpdated, models.FileUpdated{Filename: "util.py", Content: "new", Sender: "other"})))
	assert.Equal(t, "new", c.Buffer())

	require.NoError(t, c.HandleEvent(inbound(t, models.EventFileChangeAck, models.FileChangeAck{Filename: "main.py"})))
	assert.Equal(t, 0, c.Pending())
	assert.Equal(t, "new", c.Buffer())
}

func TestAcksSettleTheirOwnFile(t *testing.T) {
	c, _ := newTestController(t)
	c.Changed("a")
	require.NoError(t, c.Open("util.py", ""))
	c.Changed("b")
	require.NoError(t, c.Flush())
	require.Equal(t, 2, c.Pending())

	require.NoError(t, c.HandleEvent(inbound(t, models.EventFileChangeAck, models.FileChangeAck{Filename: "main.py"})))
	require.Equal(t, 1, c.Pending())

	// util.py is still outstanding, so an update for it is stale
	require.NoError(t, c.HandleEvent(inbound(t, models.EventFileUpdated, models.FileUpdated{Filename: "util.py", Content: "stale", Sender: "other"})))
	assert.Equal(t, "b", c.Buffer())

	require.NoError(t, c.HandleEvent(inbound(t, models.EventFileChangeAck, models.FileChangeAck{Filename: "util.py"})))
	assert.Equal(t, 0, c.Pending())
}

func TestSaveFlushesThenSaves(t *testing.T) {
	c, tr := newTestController(t)
	c.Changed("final")

	require.NoError(t, c.Save("demo", models.LangPython))

	require.Len(t, tr.ofType(models.EventFileChange), 1)
	saves := tr.ofType(models.EventSaveProject)
	require.Len(t, saves, 1)
	save := saves[0].Data.(models.SaveProject)
	assert.Equal(t, "final", save.Content)
	assert.Equal(t, "main.py", save.Filename)
	assert.Equal(t, models.LangPython, save.Language)

	tr.mu.Lock()
	last := tr.frames[len(tr.frames)-1].Type
	tr.mu.Unlock()
	assert.Equal(t, models.EventSaveProject, last)
	assert.Equal(t, 2, c.Pending())

	require.NoError(t, c.HandleEvent(inbound(t, models.EventFileChangeAck, models.FileChangeAck{Filename: "main.py"})))
	require.NoError(t, c.HandleEvent(inbound(t, models.EventProjectSaved, models.ProjectSaved{Success: true})))
	assert.Equal(t, 0, c.Pending())
}

func TestSaveWithoutOpenFile(t *testing.T) {
	c := NewController(&recordingTransport{}, "room-1", "alice")
	assert.Error(t, c.Save("demo", models.LangPython))
}

func TestRoomStateEvents(t *testing.T) {
	c, _ := newTestController(t)

	require.NoError(t, c.HandleEvent(inbound(t, models.EventRoomData, models.RoomData{
		Files:    []models.FileEntry{{Name: "main.py"}, {Name: "util.py"}},
		Name:     "demo",
		Language: models.LangGo,
		Online:   []string{"alice"},
	})))
	assert.Equal(t, []string{"main.py", "util.py"}, c.Files())
	assert.Equal(t, "demo", c.ProjectName())
	assert.Equal(t, models.LangGo, c.Language())

	require.NoError(t, c.HandleEvent(inbound(t, models.EventUserJoined, models.UserListUpdated{Username: "bob", Online: []string{"alice", "bob"}})))
	assert.Equal(t, []string{"alice", "bob"}, c.Online())

	require.NoError(t, c.HandleEvent(inbound(t, models.EventProjectNameUpdated, models.ProjectNameUpdated{Name: "renamed"})))
	assert.Equal(t, "renamed", c.ProjectName())

	require.NoError(t, c.HandleEvent(inbound(t, models.EventError, models.ErrorEvent{Code: "conflict", Event: models.EventFileCreate})))
	require.NotNil(t, c.LastError())
	assert.Equal(t, "conflict", c.LastError().Code)

	// deleting the open file closes it
	require.NoError(t, c.HandleEvent(inbound(t, models.EventFileListUpdated, models.FileListUpdated{Files: []models.FileEntry{{Name: "util.py"}}})))
	assert.Equal(t, "", c.Filename())
	assert.Equal(t, []string{"util.py"}, c.Files())

	assert.Error(t, c.HandleEvent(models.InboundFrame{Type: models.EventFileUpdated, Data: json.RawMessage(`"nope"`)}))
}

/*** end to end over the real server ***/

type collabServer struct {
	url   string
	store *repositories.MemoryProjectRepository
	id    string
}

func newCollabServer(t *testing.T) *collabServer {
	t.Helper()
	store := repositories.NewMemoryProjectRepository()
	engine := session.NewEngine(store, session.NewRegistry(), exec.NewRunner(exec.NewJudge0Client("http://127.0.0.1:0", "", ""), time.Second, nil), nil, nil)
	server := httptest.NewServer(routers.New(api.NewHandlers(nil, engine, api.Options{AllowedOrigins: []string{"*"}}), []string{"*"}))
	t.Cleanup(server.Close)

	p, err := engine.CreateProject(context.Background(), models.CreateProjectRequest{
		Name:     "demo",
		Language: models.LangPython,
		Files:    []models.File{{Name: "main.py"}},
	})
	require.NoError(t, err)
	return &collabServer{url: "ws" + strings.TrimPrefix(server.URL, "http") + "/ws", store: store, id: p.ID}
}

func (s *collabServer) content(t *testing.T) string {
	t.Helper()
	p, err := s.store.Get(context.Background(), s.id)
	require.NoError(t, err)
	return p.File("main.py").Content
}

// peer wires a controller to a fake widget that reports programmatic
// changes, and records every file_updated it receives.
type peer struct {
	*Controller
	mu       sync.Mutex
	received []models.FileUpdated
}

func (p *peer) updates() []models.FileUpdated {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.FileUpdated(nil), p.received...)
}

func connectPeer(t *testing.T, ctx context.Context, s *collabServer, username string) *peer {
	t.Helper()
	p := &peer{}
	tr, err := Dial(ctx, s.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })

	p.Controller = NewController(tr, s.id, username,
		WithDebounce(10*time.Millisecond),
		WithRemoteHook(func(_, content string) { p.Changed(content) }),
	)
	t.Cleanup(p.Controller.Close)
	go func() {
		_ = tr.Run(ctx, func(frame models.InboundFrame) {
			if frame.Type == models.EventFileUpdated {
				var ev models.FileUpdated
				_ = json.Unmarshal(frame.Data, &ev)
				p.mu.Lock()
				p.received = append(p.received, ev)
				p.mu.Unlock()
			}
			_ = p.HandleEvent(frame)
		})
	}()
	require.NoError(t, p.Join())
	require.Eventually(t, func() bool { return len(p.Files()) == 1 && p.ConnectionID() != "" }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, p.Open("main.py", ""))
	return p
}

func TestLastWriteWinsAcrossPeers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := newCollabServer(t)
	a := connectPeer(t, ctx, s, "alice")
	b := connectPeer(t, ctx, s, "bob")

	a.Changed("x")
	require.NoError(t, a.Flush())
	require.Eventually(t, func() bool { return b.Buffer() == "x" }, 2*time.Second, 5*time.Millisecond)

	b.Changed("y")
	require.NoError(t, b.Flush())
	require.Eventually(t, func() bool { return a.Buffer() == "y" }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, "y", s.content(t))
	assert.Equal(t, "y", b.Buffer())
	for _, ev := range b.updates() {
		assert.NotEqual(t, b.ConnectionID(), ev.Sender, "b must never receive its own write")
		assert.NotEqual(t, "y", ev.Content)
	}
	for _, ev := range a.updates() {
		assert.NotEqual(t, "x", ev.Content, "a must never receive its own write")
	}
}

func TestConcurrentFlushesConverge(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := newCollabServer(t)
	a := connectPeer(t, ctx, s, "alice")
	b := connectPeer(t, ctx, s, "bob")

	a.Changed("x")
	b.Changed("y")
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = a.Flush() }()
	go func() { defer wg.Done(); _ = b.Flush() }()
	wg.Wait()

	require.Eventually(t, func() bool {
		final := s.content(t)
		return (final == "x" || final == "y") && a.Buffer() == final && b.Buffer() == final
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConnectJoinsAndStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := newCollabServer(t)

	c, done, err := Connect(ctx, s.url, s.id, "carol", WithDebounce(5*time.Millisecond))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return c.ProjectName() == "demo" }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"carol"}, c.Online())

	require.NoError(t, c.Open("main.py", ""))
	c.Changed("print('hi')")
	require.Eventually(t, func() bool { return s.content(t) == "print('hi')" && c.Pending() == 0 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not stop")
	}
}

func TestDialFailure(t *testing.T) {
	_, err := Dial(context.Background(), "ws://127.0.0.1:1/ws", nil)
	assert.Error(t, err)
}
