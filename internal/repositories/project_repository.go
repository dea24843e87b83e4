package repositories

import (
	"context"
	"errors"

	"codecollab/internal/models"
)

// ErrStaleWrite is returned by Save when the stored version moved on since
// the project was loaded.
var ErrStaleWrite = errors.New("stale project version")

// ProjectRepository is the Project Store contract. Files live inside the
// project aggregate and are never addressed separately.
type ProjectRepository interface {
	Create(ctx context.Context, p *models.Project) (*models.Project, error)
	Get(ctx context.Context, id string) (*models.Project, error)
	// Save persists p if p.Version matches the stored version and bumps
	// p.Version on success.
	Save(ctx context.Context, p *models.Project) error
	Close(ctx context.Context) error
}

func ProjectNotFound(id string) error {
	return &models.AppError{Kind: models.KindNotFound, Message: "Project not found", Details: map[string]string{"id": id}}
}
