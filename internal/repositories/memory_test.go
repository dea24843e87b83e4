package repositories

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codecollab/internal/models"
)

func TestMemoryRepositoryCreateAndGet(t *testing.T) {
	repo := NewMemoryProjectRepository()
	ctx := context.Background()

	created, err := repo.Create(ctx, &models.Project{Name: "demo", Language: models.LangPython})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, int64(1), created.Version)
	assert.False(t, created.CreatedAt.IsZero())

	got, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "demo", got.Name)

	got.Name = "mutated"
	again, _ := repo.Get(ctx, created.ID)
	assert.Equal(t, "demo", again.Name, "callers must not alias stored state")
}

func TestMemoryRepositoryGetMissing(t *testing.T) {
	repo := NewMemoryProjectRepository()
	_, err := repo.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestMemoryRepositorySaveBumpsVersion(t *testing.T) {
	repo := NewMemoryProjectRepository()
	ctx := context.Background()
	p, _ := repo.Create(ctx, &models.Project{Name: "demo"})

	p.Files = append(p.Files, models.File{Name: "main.py", Content: "print(1)"})
	require.NoError(t, repo.Save(ctx, p))
	assert.Equal(t, int64(2), p.Version)

	stored, _ := repo.Get(ctx, p.ID)
	assert.Equal(t, int64(2), stored.Version)
	assert.Len(t, stored.Files, 1)
}

func TestMemoryRepositoryRejectsStaleWrite(t *testing.T) {
	repo := NewMemoryProjectRepository()
	ctx := context.Background()
	p, _ := repo.Create(ctx, &models.Project{Name: "demo"})

	first, _ := repo.Get(ctx, p.ID)
	second, _ := repo.Get(ctx, p.ID)

	first.Name = "first"
	require.NoError(t, repo.Save(ctx, first))

	second.Name = "second"
	assert.ErrorIs(t, repo.Save(ctx, second), ErrStaleWrite)

	stored, _ := repo.Get(ctx, p.ID)
	assert.Equal(t, "first", stored.Name)
}

func TestMemoryRepositorySaveMissing(t *testing.T) {
	repo := NewMemoryProjectRepository()
	err := repo.Save(context.Background(), &models.Project{ID: "nope"})
	assert.True(t, errors.Is(err, models.ErrNotFound))
}
