package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"gorm.io/gorm"

	orgdomain "github.com/thelab33/futurefunded/internal/organization/domain"
)

const defaultOrgSlug = "main"

// EnsureDefaultOrg seeds the platform organization so donations without an
// org reference have a tenant to roll up under.
func EnsureDefaultOrg(db *gorm.DB, platformName string) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}
	if platformName == "" {
		platformName = "FutureFunded"
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing orgdomain.Organization
		err := tx.WithContext(ctx).
			Where("slug = ?", defaultOrgSlug).
			First(&existing).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		now := time.Now().UTC()
		org := orgdomain.Organization{
			ID:        node.Generate(),
			Slug:      slug.Make(defaultOrgSlug),
			Name:      platformName,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return tx.WithContext(ctx).Create(&org).Error
	})
}
