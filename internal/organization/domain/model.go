package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrNotFound    = errors.New("organization_not_found")
	ErrInvalidSlug = errors.New("invalid_slug")
)

// Organization is a fundraising tenant. Donations may reference one or be
// platform-level with a null org id.
type Organization struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	Slug      string       `json:"slug" gorm:"type:text;not null;uniqueIndex"`
	Name      string       `json:"name" gorm:"type:text;not null"`
	CreatedAt time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time    `json:"updated_at" gorm:"not null"`
}

func (Organization) TableName() string { return "organizations" }

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Organization, error)
	FindBySlug(ctx context.Context, db *gorm.DB, slug string) (*Organization, error)
	Insert(ctx context.Context, db *gorm.DB, org *Organization) error
}
