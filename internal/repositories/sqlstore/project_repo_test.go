package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"codecollab/internal/models"
	"codecollab/internal/repositories"
)

// setupTestRepo creates an isolated in-memory SQLite database for tests.
func setupTestRepo(t *testing.T) *Repo {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	repo, err := New(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close(context.Background()) })
	return repo
}

func TestCreateAndGetPreservesFileOrder(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, &models.Project{
		Name:     "demo",
		Language: models.LangJava,
		Files:    []models.File{{Name: "b.java", Content: "b"}, {Name: "a.java", Content: "a"}},
		Users:    []string{"alice"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, int64(1), created.Version)

	got, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "demo", got.Name)
	assert.Equal(t, models.LangJava, got.Language)
	require.Len(t, got.Files, 2)
	assert.Equal(t, "b.java", got.Files[0].Name)
	assert.Equal(t, "a.java", got.Files[1].Name)
	assert.Equal(t, []string{"alice"}, got.Users)
}

func TestGetMissingProject(t *testing.T) {
	repo := setupTestRepo(t)
	_, err := repo.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestSaveReplacesFilesAndBumpsVersion(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	p, err := repo.Create(ctx, &models.Project{Name: "demo", Files: []models.File{{Name: "main.py"}}})
	require.NoError(t, err)

	p.Files[0].Content = "print(1)"
	p.Files = append(p.Files, models.File{Name: "util.py", Content: "x = 1"})
	p.AddUser("bob")
	p.Name = "renamed"
	require.NoError(t, repo.Save(ctx, p))
	assert.Equal(t, int64(2), p.Version)

	got, err := repo.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, int64(2), got.Version)
	require.Len(t, got.Files, 2)
	assert.Equal(t, "print(1)", got.Files[0].Content)
	assert.Equal(t, "util.py", got.Files[1].Name)
	assert.Equal(t, []string{"bob"}, got.Users)

	got.RemoveFile("main.py")
	require.NoError(t, repo.Save(ctx, got))
	again, _ := repo.Get(ctx, p.ID)
	require.Len(t, again.Files, 1)
	assert.Equal(t, "util.py", again.Files[0].Name)
}

func TestSaveRejectsStaleVersion(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	p, err := repo.Create(ctx, &models.Project{Name: "demo"})
	require.NoError(t, err)

	first, _ := repo.Get(ctx, p.ID)
	second, _ := repo.Get(ctx, p.ID)

	first.Name = "first"
	require.NoError(t, repo.Save(ctx, first))

	second.Name = "second"
	assert.ErrorIs(t, repo.Save(ctx, second), repositories.ErrStaleWrite)
	assert.Equal(t, int64(1), second.Version, "failed save must not bump the version")
}

func TestSaveMissingProject(t *testing.T) {
	repo := setupTestRepo(t)
	err := repo.Save(context.Background(), &models.Project{ID: "ghost", Version: 1})
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("oracle", "dsn")
	assert.Error(t, err)
}

func TestPingAfterClose(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Ping(ctx))
	require.NoError(t, repo.Close(ctx))
	assert.Error(t, repo.Ping(ctx))
}
