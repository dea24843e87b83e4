package sqlstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"codecollab/internal/models"
	"codecollab/internal/repositories"
)

type projectRecord struct {
	ID        string `gorm:"primaryKey"`
	Name      string
	Language  string
	Users     string `gorm:"type:text"`
	Version   int64
	CreatedAt time.Time
	Files     []fileRecord `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE"`
}

func (projectRecord) TableName() string { return "projects" }

type fileRecord struct {
	ID        uint   `gorm:"primaryKey"`
	ProjectID string `gorm:"index;uniqueIndex:idx_project_file_name"`
	Name      string `gorm:"uniqueIndex:idx_project_file_name"`
	Position  int
	Content   string `gorm:"type:text"`
}

func (fileRecord) TableName() string { return "project_files" }

// Repo maps the project aggregate onto a projects table and an ordered
// project_files table.
type Repo struct {
	DB *gorm.DB
}

// Open connects with the named dialect ("postgres" or "sqlite") and migrates
// the schema.
func Open(driver, dsn string) (*Repo, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, err
	}
	return New(db)
}

func New(db *gorm.DB) (*Repo, error) {
	if err := db.AutoMigrate(&projectRecord{}, &fileRecord{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Repo{DB: db}, nil
}

func (r *Repo) Create(ctx context.Context, p *models.Project) (*models.Project, error) {
	created := p.Clone()
	if created.ID == "" {
		created.ID = uuid.NewString()
	}
	if created.CreatedAt.IsZero() {
		created.CreatedAt = time.Now().UTC()
	}
	created.Version = 1

	rec, err := toRecord(created)
	if err != nil {
		return nil, err
	}
	if err := r.DB.WithContext(ctx).Create(&rec).Error; err != nil {
		return nil, fmt.Errorf("insert project: %w", err)
	}
	return created, nil
}

func (r *Repo) Get(ctx context.Context, id string) (*models.Project, error) {
	var rec projectRecord
	err := r.DB.WithContext(ctx).
		Preload("Files", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repositories.ProjectNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("find project: %w", err)
	}
	return fromRecord(rec)
}

func (r *Repo) Save(ctx context.Context, p *models.Project) error {
	users, err := json.Marshal(nonNil(p.Users))
	if err != nil {
		return err
	}
	next := p.Version + 1

	err = r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&projectRecord{}).
			Where("id = ? AND version = ?", p.ID, p.Version).
			Updates(map[string]any{
				"name":     p.Name,
				"language": string(p.Language),
				"users":    string(users),
				"version":  next,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&projectRecord{}).Where("id = ?", p.ID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return repositories.ProjectNotFound(p.ID)
			}
			return repositories.ErrStaleWrite
		}

		if err := tx.Where("project_id = ?", p.ID).Delete(&fileRecord{}).Error; err != nil {
			return err
		}
		if files := fileRecords(p); len(files) > 0 {
			if err := tx.Create(&files).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	p.Version = next
	return nil
}

func (r *Repo) Ping(ctx context.Context) error {
	sqlDB, err := r.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (r *Repo) Close(context.Context) error {
	sqlDB, err := r.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRecord(p *models.Project) (projectRecord, error) {
	users, err := json.Marshal(nonNil(p.Users))
	if err != nil {
		return projectRecord{}, err
	}
	return projectRecord{
		ID:        p.ID,
		Name:      p.Name,
		Language:  string(p.Language),
		Users:     string(users),
		Version:   p.Version,
		CreatedAt: p.CreatedAt,
		Files:     fileRecords(p),
	}, nil
}

func fileRecords(p *models.Project) []fileRecord {
	out := make([]fileRecord, 0, len(p.Files))
	for i, f := range p.Files {
		out = append(out, fileRecord{ProjectID: p.ID, Name: f.Name, Position: i, Content: f.Content})
	}
	return out
}

func fromRecord(rec projectRecord) (*models.Project, error) {
	var users []string
	if rec.Users != "" {
		if err := json.Unmarshal([]byte(rec.Users), &users); err != nil {
			return nil, fmt.Errorf("decode users: %w", err)
		}
	}
	files := make([]models.File, 0, len(rec.Files))
	for _, f := range rec.Files {
		files = append(files, models.File{Name: f.Name, Content: f.Content})
	}
	return &models.Project{
		ID:        rec.ID,
		Name:      rec.Name,
		Language:  models.Language(rec.Language),
		Files:     files,
		Users:     nonNil(users),
		Version:   rec.Version,
		CreatedAt: rec.CreatedAt,
	}, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
