package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"codecollab/internal/exec"
	"codecollab/internal/models"
	"codecollab/internal/session"
	"codecollab/internal/utils"
)

const maxFrameBytes = 4 << 20

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

type Options struct {
	AllowedOrigins  []string
	EventsPerSecond float64
	EventBurst      int
	Checks          map[string]ReadinessCheck
}

type Handlers struct {
	log      *utils.Logger
	engine   *session.Engine
	opts     Options
	upgrader websocket.Upgrader
	conns    sync.WaitGroup
}

func NewHandlers(log *utils.Logger, engine *session.Engine, opts Options) *Handlers {
	if log == nil {
		log = utils.NewNopLogger()
	}
	h := &Handlers{log: log, engine: engine, opts: opts}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

func (h *Handlers) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failed := map[string]string{}
	for name, check := range h.opts.Checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		h.log.Warn("readiness check failed", "failures", failed)
		utils.JSON(w, http.StatusServiceUnavailable, models.ErrorResponse{
			Code:    "not_ready",
			Message: "Dependencies unavailable",
			Details: failed,
		})
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (h *Handlers) ListLanguages(w http.ResponseWriter, _ *http.Request) {
	utils.JSON(w, http.StatusOK, exec.Languages())
}

/*** Projects ***/

func (h *Handlers) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req models.CreateProjectRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.engine.CreateProject(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/projects/"+p.ID)
	utils.JSON(w, http.StatusCreated, models.CreateProjectResponse{
		Message:   "Project created successfully!",
		ProjectID: p.ID,
	})
}

func (h *Handlers) GetProject(w http.ResponseWriter, r *http.Request) {
	p, err := h.engine.Project(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.JSON(w, http.StatusOK, p)
}

func (h *Handlers) JoinProject(w http.ResponseWriter, r *http.Request) {
	var req models.JoinProjectRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	users, err := h.engine.AddUser(r.Context(), chi.URLParam(r, "id"), req.UserName)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.JSON(w, http.StatusOK, models.UsersResponse{Message: "User joined project", Users: users})
}

func (h *Handlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	p, err := h.engine.Project(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.JSON(w, http.StatusOK, models.UsersResponse{Users: p.Users})
}

func (h *Handlers) Presence(w http.ResponseWriter, r *http.Request) {
	online, err := h.engine.Online(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.JSON(w, http.StatusOK, models.UsersResponse{Users: online})
}

/*** Files ***/

func fileParam(r *http.Request) string {
	raw := chi.URLParam(r, "name")
	if name, err := url.PathUnescape(raw); err == nil {
		return name
	}
	return raw
}

func (h *Handlers) ListFiles(w http.ResponseWriter, r *http.Request) {
	p, err := h.engine.Project(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.JSON(w, http.StatusOK, models.FilesResponse{Files: p.FileEntries()})
}

func (h *Handlers) GetFile(w http.ResponseWriter, r *http.Request) {
	p, err := h.engine.Project(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	f := p.File(fileParam(r))
	if f == nil {
		h.fail(w, r, models.NewError(models.KindNotFound, "File not found"))
		return
	}
	utils.JSON(w, http.StatusOK, f)
}

func (h *Handlers) CreateFile(w http.ResponseWriter, r *http.Request) {
	var req models.CreateFileRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	files, err := h.engine.CreateFile(r.Context(), chi.URLParam(r, "id"), req.Name, req.Content)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.JSON(w, http.StatusCreated, models.FilesResponse{Message: "File created", Files: files})
}

func (h *Handlers) UpdateFile(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateFileRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.engine.UpdateFile(r.Context(), chi.URLParam(r, "id"), fileParam(r), req.Content); err != nil {
		h.fail(w, r, err)
		return
	}
	utils.JSON(w, http.StatusOK, models.MessageResponse{Message: "File updated"})
}

func (h *Handlers) RenameFile(w http.ResponseWriter, r *http.Request) {
	var req models.RenameFileRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if _, err := h.engine.RenameFile(r.Context(), chi.URLParam(r, "id"), fileParam(r), req.NewName); err != nil {
		h.fail(w, r, err)
		return
	}
	utils.JSON(w, http.StatusOK, models.MessageResponse{Message: "File renamed"})
}

func (h *Handlers) DeleteFile(w http.ResponseWriter, r *http.Request) {
	files, err := h.engine.DeleteFile(r.Context(), chi.URLParam(r, "id"), fileParam(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.JSON(w, http.StatusOK, models.FilesResponse{Message: "File deleted", Files: files})
}

/*** Execution ***/

func (h *Handlers) Execute(w http.ResponseWriter, r *http.Request) {
	var req models.ExecuteRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.engine.Execute(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.JSON(w, http.StatusOK, res)
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := models.KindOf(err)
	if status := models.HTTPStatus(kind); status >= http.StatusInternalServerError {
		h.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "kind", kind, "error", err)
	} else {
		h.log.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "kind", kind, "error", err)
	}
	utils.Error(w, err)
}

/*** Collab WebSocket: room protocol ***/

// Drain waits until every websocket handler has left its room, or ctx is
// done. Call it after the registry has closed the sockets.
func (h *Handlers) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handlers) CollabWS(w http.ResponseWriter, r *http.Request) {
	// counted before the upgrade, while the server still tracks the request
	h.conns.Add(1)
	defer h.conns.Done()
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	ws.SetReadLimit(maxFrameBytes)

	client := session.NewClient(ws)
	defer client.Close()
	if h.opts.EventsPerSecond > 0 && h.opts.EventBurst > 0 {
		client.SetRateLimit(h.opts.EventsPerSecond, h.opts.EventBurst)
	}
	conn := session.NewConn(h.engine, client, h.log)
	conn.Open()
	defer conn.Close(context.Background())

	// Event handling is detached from the request so persists triggered by a
	// connection complete even if it drops mid-event.
	ctx := context.Background()
	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("websocket closed", "connectionId", client.ID, "error", err)
			}
			return
		}
		var frame models.InboundFrame
		if err := json.Unmarshal(msg, &frame); err != nil || frame.Type == "" {
			client.SendError("", models.WrapError(models.KindValidation, "Malformed frame", err))
			continue
		}
		conn.Handle(ctx, frame)
	}
}
