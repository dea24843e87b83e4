package repositories

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"codecollab/internal/models"
)

// MemoryProjectRepository keeps projects in process memory. Used by tests
// and by STORE_DRIVER=memory.
type MemoryProjectRepository struct {
	mu       sync.RWMutex
	projects map[string]*models.Project
}

func NewMemoryProjectRepository() *MemoryProjectRepository {
	return &MemoryProjectRepository{projects: make(map[string]*models.Project)}
}

func (r *MemoryProjectRepository) Create(_ context.Context, p *models.Project) (*models.Project, error) {
	created := p.Clone()
	if created.ID == "" {
		created.ID = uuid.NewString()
	}
	if created.CreatedAt.IsZero() {
		created.CreatedAt = time.Now().UTC()
	}
	created.Version = 1

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.projects[created.ID]; exists {
		return nil, models.NewError(models.KindConflict, "Project already exists")
	}
	r.projects[created.ID] = created
	return created.Clone(), nil
}

func (r *MemoryProjectRepository) Get(_ context.Context, id string) (*models.Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.projects[id]
	if !ok {
		return nil, ProjectNotFound(id)
	}
	return p.Clone(), nil
}

func (r *MemoryProjectRepository) Save(_ context.Context, p *models.Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.projects[p.ID]
	if !ok {
		return ProjectNotFound(p.ID)
	}
	if stored.Version != p.Version {
		return ErrStaleWrite
	}
	p.Version++
	r.projects[p.ID] = p.Clone()
	return nil
}

func (r *MemoryProjectRepository) Close(context.Context) error { return nil }
