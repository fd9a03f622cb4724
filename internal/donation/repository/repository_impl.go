package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/thelab33/futurefunded/internal/donation/domain"
	pkgdb "github.com/thelab33/futurefunded/pkg/db"
)

const (
	lockRetryAttempts = 6
	lockRetryBackoff  = 50 * time.Millisecond
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// withLockRetry re-runs fn on lock contention with linear backoff. SQLite
// under concurrent writers returns "database is locked" even with a busy
// timeout set; other backends map their serialization failures here too.
func withLockRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= lockRetryAttempts; attempt++ {
		err = fn()
		if err == nil || !pkgdb.IsLockedErr(err) {
			return translate(err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * lockRetryBackoff):
		}
	}
	return fmt.Errorf("%w: %v", domain.ErrTransientDB, err)
}

// translate maps driver errors onto the domain's tagged errors so callers
// never match on message text.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case pkgdb.IsMissingTableErr(err):
		return fmt.Errorf("%w: %v", domain.ErrSchemaMissing, err)
	case pkgdb.IsLockedErr(err):
		return fmt.Errorf("%w: %v", domain.ErrTransientDB, err)
	default:
		return err
	}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, donation *domain.Donation) error {
	return withLockRetry(ctx, func() error {
		return db.WithContext(ctx).Exec(
			`INSERT INTO donations (
				id, org_id, donor_name, donor_email, amount_cents, currency,
				provider, provider_intent_id, provider_status, paid_at, note,
				anonymous, cover_fees, round_up, breakdown, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			donation.ID,
			donation.OrgID,
			donation.DonorName,
			donation.DonorEmail,
			donation.AmountCents,
			donation.Currency,
			donation.Provider,
			donation.ProviderIntentID,
			donation.ProviderStatus,
			donation.PaidAt,
			donation.Note,
			donation.Anonymous,
			donation.CoverFees,
			donation.RoundUp,
			donation.Breakdown,
			donation.CreatedAt,
			donation.UpdatedAt,
		).Error
	})
}

func (r *repo) AttachIntent(ctx context.Context, db *gorm.DB, id snowflake.ID, intentID, status string) error {
	return withLockRetry(ctx, func() error {
		return db.WithContext(ctx).Exec(
			`UPDATE donations
			 SET provider_intent_id = ?, provider_status = ?, updated_at = ?
			 WHERE id = ?`,
			intentID,
			status,
			time.Now().UTC(),
			id,
		).Error
	})
}

func (r *repo) UpdateStatusByID(ctx context.Context, db *gorm.DB, id snowflake.ID, status string, paid bool) error {
	return r.updateStatus(ctx, db, "id = ?", id, status, paid)
}

func (r *repo) UpdateStatusByIntentID(ctx context.Context, db *gorm.DB, intentID, status string, paid bool) error {
	return r.updateStatus(ctx, db, "provider_intent_id = ?", intentID, status, paid)
}

func (r *repo) updateStatus(ctx context.Context, db *gorm.DB, where string, arg any, status string, paid bool) error {
	return withLockRetry(ctx, func() error {
		now := time.Now().UTC()
		query := `UPDATE donations
			 SET provider_status = ?, updated_at = ?
			 WHERE ` + where
		args := []any{status, now, arg}
		if paid {
			query = `UPDATE donations
			 SET provider_status = ?, paid_at = COALESCE(paid_at, ?), updated_at = ?
			 WHERE ` + where
			args = []any{status, now, now, arg}
		}

		result := db.WithContext(ctx).Exec(query, args...)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Donation, error) {
	return r.findOne(ctx, db, "id = ?", id)
}

func (r *repo) FindByIntentID(ctx context.Context, db *gorm.DB, intentID string) (*domain.Donation, error) {
	return r.findOne(ctx, db, "provider_intent_id = ?", intentID)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, where string, arg any) (*domain.Donation, error) {
	var item domain.Donation
	var err error
	retryErr := withLockRetry(ctx, func() error {
		err = db.WithContext(ctx).Raw(
			`SELECT id, org_id, donor_name, donor_email, amount_cents, currency,
				provider, provider_intent_id, provider_status, paid_at, note,
				anonymous, cover_fees, round_up, breakdown, created_at, updated_at
			 FROM donations
			 WHERE `+where+`
			 LIMIT 1`,
			arg,
		).Scan(&item).Error
		return err
	})
	if retryErr != nil {
		return nil, retryErr
	}
	if item.ID == 0 {
		return nil, domain.ErrNotFound
	}
	return &item, nil
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.ProviderEvent) (bool, error) {
	var inserted bool
	err := withLockRetry(ctx, func() error {
		res := db.WithContext(ctx).Exec(
			`INSERT INTO provider_events (
				id, provider, provider_event_id, event_type, livemode,
				object_id, payload, received_at, processed_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (provider, provider_event_id) DO NOTHING`,
			event.ID,
			event.Provider,
			event.ProviderEventID,
			event.EventType,
			event.Livemode,
			event.ObjectID,
			event.Payload,
			event.ReceivedAt,
			event.ProcessedAt,
		)
		if res.Error != nil {
			return res.Error
		}
		inserted = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

func (r *repo) FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*domain.ProviderEvent, error) {
	var item domain.ProviderEvent
	err := withLockRetry(ctx, func() error {
		return db.WithContext(ctx).Raw(
			`SELECT id, provider, provider_event_id, event_type, livemode,
				object_id, payload, received_at, processed_at
			 FROM provider_events
			 WHERE provider = ? AND provider_event_id = ?
			 LIMIT 1`,
			provider,
			providerEventID,
		).Scan(&item).Error
	})
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) MarkEventProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return withLockRetry(ctx, func() error {
		return db.WithContext(ctx).Exec(
			`UPDATE provider_events
			 SET processed_at = ?
			 WHERE id = ?`,
			time.Now().UTC(),
			id,
		).Error
	})
}
