package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"codecollab/internal/models"
	"codecollab/internal/repositories"
)

type fileDocument struct {
	Name    string `bson:"name"`
	Content string `bson:"content"`
}

type projectDocument struct {
	ID        string         `bson:"_id"`
	Name      string         `bson:"name"`
	Language  string         `bson:"language"`
	Files     []fileDocument `bson:"files"`
	Users     []string       `bson:"users"`
	Version   int64          `bson:"version"`
	CreatedAt time.Time      `bson:"createdAt"`
}

// Repo stores each project, files included, as a single document.
type Repo struct {
	client *Client
	col    *mongo.Collection
}

func NewProjectRepo(c *Client, dbName, colName string) (*Repo, error) {
	db, err := c.DB(dbName)
	if err != nil {
		return nil, err
	}
	if colName == "" {
		colName = "projects"
	}
	return &Repo{client: c, col: db.Collection(colName)}, nil
}

func (r *Repo) Create(ctx context.Context, p *models.Project) (*models.Project, error) {
	created := p.Clone()
	if created.ID == "" {
		created.ID = primitive.NewObjectID().Hex()
	}
	if created.CreatedAt.IsZero() {
		created.CreatedAt = time.Now().UTC()
	}
	created.Version = 1
	if _, err := r.col.InsertOne(ctx, toDocument(created)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, models.NewError(models.KindConflict, "Project already exists")
		}
		return nil, fmt.Errorf("insert project: %w", err)
	}
	return created, nil
}

func (r *Repo) Get(ctx context.Context, id string) (*models.Project, error) {
	var doc projectDocument
	if err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repositories.ProjectNotFound(id)
		}
		return nil, fmt.Errorf("find project: %w", err)
	}
	return fromDocument(doc), nil
}

func (r *Repo) Save(ctx context.Context, p *models.Project) error {
	next := toDocument(p)
	next.Version = p.Version + 1

	res, err := r.col.ReplaceOne(ctx, bson.M{"_id": p.ID, "version": p.Version}, next)
	if err != nil {
		return fmt.Errorf("replace project: %w", err)
	}
	if res.MatchedCount == 0 {
		n, err := r.col.CountDocuments(ctx, bson.M{"_id": p.ID})
		if err != nil {
			return fmt.Errorf("count project: %w", err)
		}
		if n == 0 {
			return repositories.ProjectNotFound(p.ID)
		}
		return repositories.ErrStaleWrite
	}
	p.Version = next.Version
	return nil
}

func (r *Repo) Ping(ctx context.Context) error { return r.client.Ping(ctx) }

func (r *Repo) Close(ctx context.Context) error { return r.client.Disconnect(ctx) }

func toDocument(p *models.Project) projectDocument {
	files := make([]fileDocument, 0, len(p.Files))
	for _, f := range p.Files {
		files = append(files, fileDocument{Name: f.Name, Content: f.Content})
	}
	users := p.Users
	if users == nil {
		users = []string{}
	}
	return projectDocument{
		ID:        p.ID,
		Name:      p.Name,
		Language:  string(p.Language),
		Files:     files,
		Users:     users,
		Version:   p.Version,
		CreatedAt: p.CreatedAt,
	}
}

func fromDocument(doc projectDocument) *models.Project {
	files := make([]models.File, 0, len(doc.Files))
	for _, f := range doc.Files {
		files = append(files, models.File{Name: f.Name, Content: f.Content})
	}
	return &models.Project{
		ID:        doc.ID,
		Name:      doc.Name,
		Language:  models.Language(doc.Language),
		Files:     files,
		Users:     append([]string{}, doc.Users...),
		Version:   doc.Version,
		CreatedAt: doc.CreatedAt,
	}
}
