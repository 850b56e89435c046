// Package listings lets parcel owners offer their land for sale or lease.
package listings

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/terrahash/landregistry/internal/cache"
	"github.com/terrahash/landregistry/internal/database"
	"github.com/terrahash/landregistry/internal/events"
	"github.com/terrahash/landregistry/internal/ledger"
	"github.com/terrahash/landregistry/pkg/errors"
	"github.com/terrahash/landregistry/pkg/models"
	"github.com/terrahash/landregistry/pkg/validation"
)

var (
	ErrMissingFields      = errors.Invalid.Explain("Missing required fields: parcel_id, type, price_kes")
	ErrInvalidType        = errors.Invalid.Explain("Invalid listing type")
	ErrLeasePeriodMissing = errors.Invalid.Explain("lease_period is required for LEASE type")
	ErrInvalidLeasePeriod = errors.Invalid.Explain("Invalid lease_period")
	ErrInvalidPrice       = errors.Invalid.Explain("price_kes must be greater than 0")
	ErrInvalidPhone       = errors.Invalid.Explain("Invalid contact_phone")
	ErrParcelNotFound     = errors.NotFound.Explain("Parcel not found")
	ErrNotParcelOwner     = errors.Forbidden.Explain("You can only create listings for your own parcels")
	ErrParcelNotOwned     = errors.Invalid.Explain("Only OWNED parcels can be listed")
	ErrAlreadyListed      = errors.Conflict.Explain("This parcel already has an active listing")
	ErrListingNotFound    = errors.NotFound.Explain("Listing not found")
	ErrNotListingOwner    = errors.Forbidden.Explain("You can only change your own listings")
)

// Deps are the optional collaborators of the listing service
type Deps struct {
	Ledger ledger.Ledger
	Cache  cache.ListCache
	Events events.Publisher
}

// Service implements listing management
type Service struct {
	db        *gorm.DB
	ledger    ledger.Ledger
	cache     cache.ListCache
	publisher events.Publisher
	validator *validation.Validator
	logger    *zap.Logger
}

func NewService(db *gorm.DB, deps Deps, v *validation.Validator, logger *zap.Logger) *Service {
	if deps.Cache == nil {
		deps.Cache = cache.Noop{}
	}
	if deps.Events == nil {
		deps.Events = events.Noop{}
	}
	return &Service{
		db:        db,
		ledger:    deps.Ledger,
		cache:     deps.Cache,
		publisher: deps.Events,
		validator: v,
		logger:    logger.Named("listings"),
	}
}

// Mine returns the caller's listings, newest first
func (s *Service) Mine(ctx context.Context, user *models.User) ([]models.Listing, error) {
	var rows []models.Listing
	err := s.db.WithContext(ctx).
		Preload("Parcel").
		Where("owner_id = ?", user.ID).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list own listings: %w", err)
	}
	return rows, nil
}

// AllForGov returns every listing with its parcel and owner
func (s *Service) AllForGov(ctx context.Context) ([]models.Listing, error) {
	var rows []models.Listing
	err := s.db.WithContext(ctx).
		Preload("Parcel").
		Preload("Owner").
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list listings: %w", err)
	}
	return rows, nil
}

// Create lists one of the caller's owned parcels
func (s *Service) Create(ctx context.Context, user *models.User, req *models.CreateListingRequest) (*models.Listing, error) {
	if strings.TrimSpace(req.ParcelID) == "" || req.Type == "" || req.PriceKES == nil {
		return nil, ErrMissingFields
	}
	if !req.Type.Valid() {
		return nil, ErrInvalidType
	}
	var period *models.LeasePeriod
	if req.Type == models.ListingLease {
		if req.LeasePeriod == nil || *req.LeasePeriod == "" {
			return nil, ErrLeasePeriodMissing
		}
		if !req.LeasePeriod.Valid() {
			return nil, ErrInvalidLeasePeriod
		}
		period = req.LeasePeriod
	}
	if !req.PriceKES.IsPositive() {
		return nil, ErrInvalidPrice
	}
	phone, err := s.phone(req.ContactPhone)
	if err != nil {
		return nil, err
	}

	var parcel models.Parcel
	err = s.db.WithContext(ctx).Select("parcel_id", "owner_id", "status").First(&parcel, "parcel_id = ?", req.ParcelID).Error
	if database.IsNotFound(err) {
		return nil, ErrParcelNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load parcel: %w", err)
	}
	if parcel.OwnerID == nil || *parcel.OwnerID != user.ID {
		return nil, ErrNotParcelOwner
	}
	if parcel.Status != models.ParcelOwned {
		return nil, ErrParcelNotOwned
	}

	listing := &models.Listing{
		ID:           uuid.NewString(),
		ParcelID:     parcel.ParcelID,
		OwnerID:      user.ID,
		Type:         req.Type,
		PriceKES:     req.PriceKES.Round(2),
		LeasePeriod:  period,
		Description:  s.validator.SanitizePtr(req.Description),
		Terms:        s.validator.SanitizePtr(req.Terms),
		ContactPhone: phone,
		Active:       true,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		active, err := hasActiveListing(tx, parcel.ParcelID, "")
		if err != nil {
			return err
		}
		if active {
			return ErrAlreadyListed
		}
		return tx.Omit(clause.Associations).Create(listing).Error
	})
	if errors.Is(err, ErrAlreadyListed) {
		return nil, ErrAlreadyListed
	}
	if err != nil {
		return nil, fmt.Errorf("create listing: %w", err)
	}

	if listing.Type == models.ListingLease && s.ledger != nil {
		s.openLeaseTopic(ctx, listing)
	}

	s.changed(ctx, events.ListingCreated, listing, user)
	return s.get(ctx, listing.ID)
}

// openLeaseTopic gives a lease listing its own record topic. Leases fall back
// to the parcel topic when this fails.
func (s *Service) openLeaseTopic(ctx context.Context, listing *models.Listing) {
	topicID, err := s.ledger.CreateTopic(ctx, "lease:"+listing.ParcelID)
	if err != nil {
		s.logger.Warn("Lease topic not created", zap.String("listing_id", listing.ID), zap.Error(err))
		return
	}
	if err := s.db.WithContext(ctx).Model(listing).Update("topic_id", topicID).Error; err != nil {
		s.logger.Warn("Lease topic not saved", zap.String("listing_id", listing.ID), zap.Error(err))
		return
	}
	listing.TopicID = &topicID
}

// Update changes the caller's listing
func (s *Service) Update(ctx context.Context, user *models.User, id string, req *models.UpdateListingRequest) (*models.Listing, error) {
	listing, err := s.owned(ctx, user, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if req.PriceKES != nil {
		if !req.PriceKES.IsPositive() {
			return nil, ErrInvalidPrice
		}
		updates["price_kes"] = req.PriceKES.Round(2)
	}
	if req.LeasePeriod != nil && listing.Type == models.ListingLease {
		if !req.LeasePeriod.Valid() {
			return nil, ErrInvalidLeasePeriod
		}
		updates["lease_period"] = *req.LeasePeriod
	}
	if req.Description != nil {
		updates["description"] = s.validator.SanitizePtr(req.Description)
	}
	if req.Terms != nil {
		updates["terms"] = s.validator.SanitizePtr(req.Terms)
	}
	if req.ContactPhone != nil {
		phone, err := s.phone(req.ContactPhone)
		if err != nil {
			return nil, err
		}
		updates["contact_phone"] = phone
	}
	if req.Active != nil {
		updates["active"] = *req.Active
	}
	if len(updates) == 0 {
		return s.get(ctx, listing.ID)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if req.Active != nil && *req.Active && !listing.Active {
			var parcel models.Parcel
			if err := tx.Select("parcel_id", "owner_id").First(&parcel, "parcel_id = ?", listing.ParcelID).Error; err != nil {
				return err
			}
			if parcel.OwnerID == nil || *parcel.OwnerID != user.ID {
				return ErrNotParcelOwner
			}
			active, err := hasActiveListing(tx, listing.ParcelID, listing.ID)
			if err != nil {
				return err
			}
			if active {
				return ErrAlreadyListed
			}
		}
		return tx.Model(&models.Listing{}).Where("id = ?", listing.ID).Updates(updates).Error
	})
	switch {
	case errors.Is(err, ErrAlreadyListed):
		return nil, ErrAlreadyListed
	case errors.Is(err, ErrNotParcelOwner):
		return nil, ErrNotParcelOwner
	case err != nil:
		return nil, fmt.Errorf("update listing: %w", err)
	}

	updated, err := s.get(ctx, listing.ID)
	if err != nil {
		return nil, err
	}
	s.changed(ctx, events.ListingUpdated, updated, user)
	return updated, nil
}

// Delete removes the caller's listing
func (s *Service) Delete(ctx context.Context, user *models.User, id string) error {
	listing, err := s.owned(ctx, user, id)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Delete(&models.Listing{}, "id = ?", listing.ID).Error; err != nil {
		return fmt.Errorf("delete listing: %w", err)
	}
	s.changed(ctx, events.ListingDeleted, listing, user)
	return nil
}

func (s *Service) owned(ctx context.Context, user *models.User, id string) (*models.Listing, error) {
	var listing models.Listing
	err := s.db.WithContext(ctx).First(&listing, "id = ?", id).Error
	if database.IsNotFound(err) {
		return nil, ErrListingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load listing: %w", err)
	}
	if listing.OwnerID != user.ID {
		return nil, ErrNotListingOwner
	}
	return &listing, nil
}

func (s *Service) get(ctx context.Context, id string) (*models.Listing, error) {
	var listing models.Listing
	if err := s.db.WithContext(ctx).Preload("Parcel").First(&listing, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("reload listing: %w", err)
	}
	return &listing, nil
}

func (s *Service) phone(raw *string) (*string, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	phone, err := validation.NormalizePhone(*raw)
	if err != nil {
		return nil, ErrInvalidPhone.Wrap(err)
	}
	return &phone, nil
}

func hasActiveListing(tx *gorm.DB, parcelID, exceptID string) (bool, error) {
	q := tx.Model(&models.Listing{}).Where("parcel_id = ? AND active = ?", parcelID, true)
	if exceptID != "" {
		q = q.Where("id <> ?", exceptID)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Service) changed(ctx context.Context, t events.Type, listing *models.Listing, actor *models.User) {
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.Warn("Public list cache not invalidated", zap.Error(err))
	}
	events.Emit(ctx, s.publisher, s.logger, events.New(t, listing.ParcelID, actor.ID, listing))
}
