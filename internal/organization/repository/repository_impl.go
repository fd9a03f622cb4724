package repository

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"gorm.io/gorm"

	"github.com/thelab33/futurefunded/internal/organization/domain"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Organization, error) {
	var item domain.Organization
	err := db.WithContext(ctx).Raw(
		`SELECT id, slug, name, created_at, updated_at
		 FROM organizations
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, domain.ErrNotFound
	}
	return &item, nil
}

func (r *repo) FindBySlug(ctx context.Context, db *gorm.DB, raw string) (*domain.Organization, error) {
	normalized := slug.Make(strings.TrimSpace(raw))
	if normalized == "" {
		return nil, domain.ErrInvalidSlug
	}
	var item domain.Organization
	err := db.WithContext(ctx).Raw(
		`SELECT id, slug, name, created_at, updated_at
		 FROM organizations
		 WHERE slug = ?
		 LIMIT 1`,
		normalized,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, domain.ErrNotFound
	}
	return &item, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, org *domain.Organization) error {
	if org.Slug == "" {
		org.Slug = slug.Make(org.Name)
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO organizations (id, slug, name, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (slug) DO NOTHING`,
		org.ID,
		org.Slug,
		org.Name,
		org.CreatedAt,
		org.UpdatedAt,
	).Error
}
