package models

import "time"

type Language string

const (
	LangPython     Language = "python"
	LangJava       Language = "java"
	LangCPP        Language = "cpp"
	LangC          Language = "c"
	LangJavaScript Language = "javascript"
	LangTypeScript Language = "typescript"
	LangGo         Language = "go"
)

// AnonymousUser is used when a client joins without a display name.
const AnonymousUser = "Anonymous"

/*** Project store aggregate ***/

type File struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Language  Language  `json:"language"`
	Files     []File    `json:"files"`
	Users     []string  `json:"users"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
}

// FileEntry is the name-only view of a file used in list events.
type FileEntry struct {
	Name string `json:"name"`
}

func (p *Project) FileEntries() []FileEntry {
	out := make([]FileEntry, 0, len(p.Files))
	for _, f := range p.Files {
		out = append(out, FileEntry{Name: f.Name})
	}
	return out
}

func (p *Project) File(name string) *File {
	for i := range p.Files {
		if p.Files[i].Name == name {
			return &p.Files[i]
		}
	}
	return nil
}

func (p *Project) HasFile(name string) bool { return p.File(name) != nil }

// RemoveFile drops the named file and reports whether it existed.
func (p *Project) RemoveFile(name string) bool {
	kept := p.Files[:0]
	removed := false
	for _, f := range p.Files {
		if f.Name == name {
			removed = true
			continue
		}
		kept = append(kept, f)
	}
	p.Files = kept
	return removed
}

// AddUser appends username to the historical member list if absent.
func (p *Project) AddUser(username string) bool {
	for _, u := range p.Users {
		if u == username {
			return false
		}
	}
	p.Users = append(p.Users, username)
	return true
}

// Clone returns a deep copy so stores never share slices with callers.
func (p *Project) Clone() *Project {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Files = append(make([]File, 0, len(p.Files)), p.Files...)
	cp.Users = append(make([]string, 0, len(p.Users)), p.Users...)
	return &cp
}

/*** HTTP payloads ***/

type CreateProjectRequest struct {
	Name     string   `json:"name"`
	Language Language `json:"language"`
	Users    []string `json:"users,omitempty"`
	Files    []File   `json:"files,omitempty"`
}

type CreateProjectResponse struct {
	Message   string `json:"message"`
	ProjectID string `json:"projectId"`
}

type JoinProjectRequest struct {
	UserName string `json:"userName"`
}

type UsersResponse struct {
	Message string   `json:"message,omitempty"`
	Users   []string `json:"users"`
}

type FilesResponse struct {
	Message string      `json:"message,omitempty"`
	Files   []FileEntry `json:"files"`
}

type CreateFileRequest struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type UpdateFileRequest struct {
	Content string `json:"content"`
}

type RenameFileRequest struct {
	NewName string `json:"newName"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type ExecuteRequest struct {
	Code     string   `json:"code"`
	Language Language `json:"language"`
	Input    string   `json:"input,omitempty"`
}

type ExecuteResult struct {
	Output        string `json:"output"`
	Stderr        string `json:"stderr"`
	CompileOutput string `json:"compile_output"`
	Status        string `json:"status,omitempty"`
}

type LanguageInfo struct {
	Name      Language `json:"name"`
	SandboxID int      `json:"sandboxId"`
	FileName  string   `json:"fileName"`
}

// uniform error payload
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}
