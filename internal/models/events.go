package models

import "encoding/json"

// Room protocol event names.
const (
	EventConnected          = "connected"
	EventJoinRoom           = "join_room"
	EventRoomData           = "room_data"
	EventFileChange         = "file_change"
	EventFileUpdated        = "file_updated"
	EventFileChangeAck      = "file_change_ack"
	EventFileCreate         = "file_create"
	EventFileListUpdated    = "file_list_updated"
	EventFileRename         = "file_rename"
	EventFileDelete         = "file_delete"
	EventProjectNameChange  = "project_name_change"
	EventProjectNameUpdated = "project_name_updated"
	EventSaveProject        = "save_project"
	EventProjectSaved       = "project_saved"
	EventProjectSavedOther  = "project_saved_by_other"
	EventUserJoined         = "user_joined"
	EventUserLeft           = "user_left"
	EventCursorMove         = "cursor_move"
	EventCursorMoved        = "cursor_moved"
	EventRunCode            = "run_code"
	EventRunResult          = "run_result"
	EventLeaveRoom          = "leave_room"
	EventError              = "error"
)

type WSFrame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// InboundFrame defers decoding of the payload until the event type is known.
type InboundFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type Connected struct {
	ConnectionID string `json:"connectionId"`
}

type JoinRoom struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
}

type RoomData struct {
	Files    []FileEntry `json:"files"`
	Name     string      `json:"name"`
	Language Language    `json:"language"`
	Users    []string    `json:"users"`
	Online   []string    `json:"online"`
}

type FileChange struct {
	RoomID   string `json:"roomId"`
	Filename string `json:"filename"`
	Content  string `json:"content"`
	Sender   string `json:"sender,omitempty"`
}

type FileUpdated struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
	Sender   string `json:"sender,omitempty"`
}

// FileChangeAck tells the sender its file_change was persisted. It is
// ordered after every file_updated the sender was sent for earlier writes.
type FileChangeAck struct {
	Filename string `json:"filename"`
}

type FileCreate struct {
	RoomID  string `json:"roomId"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

type FileListUpdated struct {
	Files []FileEntry `json:"files"`
}

type FileRename struct {
	RoomID  string `json:"roomId"`
	OldName string `json:"oldName"`
	NewName string `json:"newName"`
}

type FileDelete struct {
	RoomID   string `json:"roomId"`
	Filename string `json:"filename"`
}

type ProjectNameChange struct {
	RoomID string `json:"roomId"`
	Name   string `json:"name"`
}

type ProjectNameUpdated struct {
	Name string `json:"name"`
}

// SaveProject persists the whole-document state. Filename is optional; when
// empty the content is written to the project's first file.
type SaveProject struct {
	RoomID   string   `json:"roomId"`
	Content  string   `json:"content"`
	Language Language `json:"language"`
	Name     string   `json:"name"`
	Filename string   `json:"filename,omitempty"`
}

type ProjectSaved struct {
	Success bool `json:"success"`
}

type ProjectSavedByOther struct {
	SavedBy string `json:"savedBy"`
}

// UserListUpdated backs user_joined and user_left. Users is the persisted
// membership history, Online the live set after the change.
type UserListUpdated struct {
	Username string   `json:"username"`
	Users    []string `json:"users"`
	Online   []string `json:"online"`
}

type CursorPosition struct {
	LineNumber int `json:"lineNumber"`
	Column     int `json:"column"`
}

type CursorMove struct {
	RoomID   string         `json:"roomId"`
	Position CursorPosition `json:"position"`
	Username string         `json:"username,omitempty"`
}

type CursorMoved struct {
	Username     string         `json:"username"`
	ConnectionID string         `json:"connectionId"`
	Position     CursorPosition `json:"position"`
}

type RunCode struct {
	RoomID   string   `json:"roomId"`
	Code     string   `json:"code"`
	Language Language `json:"language"`
	Input    string   `json:"input,omitempty"`
}

type RunResult struct {
	ExecuteResult
	Error *ErrorResponse `json:"error,omitempty"`
}

type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
}

// RoomEvent is published to other services on the room event feed.
type RoomEvent struct {
	Type     string `json:"type"`
	RoomID   string `json:"roomId"`
	Username string `json:"username,omitempty"`
	Filename string `json:"filename,omitempty"`
	Instance string `json:"instance,omitempty"`
	At       string `json:"at"`
}
