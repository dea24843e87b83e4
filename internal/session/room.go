package session

import (
	"sort"
	"sync"

	"codecollab/internal/models"
)

type member struct {
	client   *Client
	username string
}

// Room is the live set of connections joined to one project, plus a cache of
// the project's name, language and file list for snapshot replies.
type Room struct {
	ID string

	mu       sync.Mutex
	members  map[string]member
	name     string
	language models.Language
	files    []models.FileEntry
	contents map[string]string
}

func NewRoom(id string) *Room {
	return &Room{ID: id, members: make(map[string]member)}
}

func (r *Room) join(c *Client, username string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[c.ID] = member{client: c, username: username}
	return len(r.members)
}

func (r *Room) leave(connID string) (username string, remaining int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[connID]
	if !ok {
		return "", len(r.members), false
	}
	delete(r.members, connID)
	return m.username, len(r.members), true
}

func (r *Room) GetClientCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

func (r *Room) Has(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.members[connID]
	return ok
}

func (r *Room) Members() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.members))
	for id := range r.members {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Online lists the distinct usernames of joined connections.
func (r *Room) Online() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]struct{}, len(r.members))
	out := make([]string, 0, len(r.members))
	for _, m := range r.members {
		if _, dup := seen[m.username]; dup {
			continue
		}
		seen[m.username] = struct{}{}
		out = append(out, m.username)
	}
	sort.Strings(out)
	return out
}

// Sync mirrors the project's metadata and file contents after a load or
// persist.
func (r *Room) Sync(p *models.Project) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.name = p.Name
	r.language = p.Language
	r.files = p.FileEntries()
	r.contents = make(map[string]string, len(p.Files))
	for _, f := range p.Files {
		r.contents[f.Name] = f.Content
	}
}

// changedFiles returns the files of p whose content differs from the last
// Sync, in project order.
func (r *Room) changedFiles(p *models.Project) []models.File {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.File
	for _, f := range p.Files {
		prev, ok := r.contents[f.Name]
		if (ok && prev == f.Content) || (!ok && f.Content == "") {
			continue
		}
		out = append(out, f)
	}
	return out
}

func (r *Room) Snapshot() (name string, language models.Language, files []models.FileEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.name, r.language, append([]models.FileEntry(nil), r.files...)
}

// Broadcast delivers frame to every member except the excluded connection id
// and returns the number of recipients.
func (r *Room) Broadcast(excluding string, frame models.WSFrame) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, m := range r.members {
		if id == excluding {
			continue
		}
		m.client.Send(frame)
		n++
	}
	return n
}

func (r *Room) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.members {
		m.client.Close()
	}
}
