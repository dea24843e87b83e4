package mongo

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"codecollab/internal/models"
	"codecollab/internal/repositories"
)

func TestDocumentConversionRoundTrip(t *testing.T) {
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	p := &models.Project{
		ID:        "abc",
		Name:      "demo",
		Language:  models.LangPython,
		Files:     []models.File{{Name: "main.py", Content: "print(1)"}},
		Users:     []string{"alice"},
		Version:   3,
		CreatedAt: created,
	}

	raw, err := bson.Marshal(toDocument(p))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded bson.M
	if err := bson.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["_id"] != "abc" || decoded["version"] != int64(3) {
		t.Fatalf("unexpected document keys: %#v", decoded)
	}

	var doc projectDocument
	if err := bson.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal document: %v", err)
	}
	back := fromDocument(doc)
	if back.Name != "demo" || back.Language != models.LangPython || len(back.Files) != 1 ||
		back.Files[0].Content != "print(1)" || back.Users[0] != "alice" || !back.CreatedAt.Equal(created) {
		t.Fatalf("unexpected project after round trip: %#v", back)
	}
}

func TestToDocumentNeverStoresNilUsers(t *testing.T) {
	doc := toDocument(&models.Project{ID: "x"})
	if doc.Users == nil || doc.Files == nil {
		t.Fatalf("expected empty slices, got %#v", doc)
	}
}

func TestNewClientRequiresURI(t *testing.T) {
	if _, err := NewClient(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty uri")
	}
}

func TestDBOnNilClient(t *testing.T) {
	var c *Client
	if _, err := c.DB("x"); err == nil {
		t.Fatalf("expected error for nil client")
	}
	if err := c.Disconnect(context.Background()); err != nil {
		t.Fatalf("disconnect on nil client should be a no-op: %v", err)
	}
}

// Runs against a real server when MONGO_TEST_URI is set.
func TestRepoAgainstServer(t *testing.T) {
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set")
	}
	ctx := context.Background()
	client, err := NewClient(ctx, uri)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	repo, err := NewProjectRepo(client, "code_editor_test", "projects_"+time.Now().Format("150405.000"))
	if err != nil {
		t.Fatalf("repo: %v", err)
	}
	defer func() {
		_ = repo.col.Drop(ctx)
		_ = repo.Close(ctx)
	}()

	p, err := repo.Create(ctx, &models.Project{Name: "demo", Language: models.LangGo})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	stale, _ := repo.Get(ctx, p.ID)

	p.Files = append(p.Files, models.File{Name: "main.go"})
	if err := repo.Save(ctx, p); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := repo.Save(ctx, stale); !errors.Is(err, repositories.ErrStaleWrite) {
		t.Fatalf("expected stale write, got %v", err)
	}
	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
