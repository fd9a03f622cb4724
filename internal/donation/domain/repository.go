package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository persists donations and provider events. Implementations are
// expected to retry transient lock errors and to translate schema and lock
// failures into the tagged errors above.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, donation *Donation) error
	AttachIntent(ctx context.Context, db *gorm.DB, id snowflake.ID, intentID, status string) error
	UpdateStatusByID(ctx context.Context, db *gorm.DB, id snowflake.ID, status string, paid bool) error
	UpdateStatusByIntentID(ctx context.Context, db *gorm.DB, intentID, status string, paid bool) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Donation, error)
	FindByIntentID(ctx context.Context, db *gorm.DB, intentID string) (*Donation, error)
	InsertEvent(ctx context.Context, db *gorm.DB, event *ProviderEvent) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*ProviderEvent, error)
	MarkEventProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID) error
}
