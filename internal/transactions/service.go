// Package transactions records parcel purchases and leases.
package transactions

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
	"github.com/terrahash/landregistry/internal/payments"
	"github.com/terrahash/landregistry/pkg/errors"
	"github.com/terrahash/landregistry/pkg/logger"
	"github.com/terrahash/landregistry/pkg/models"
)

var (
	ErrInvalidInput         = errors.Invalid.Reason("INVALID_INPUT").Explain("listing_id is required")
	ErrListingNotFound      = errors.NotFound.Reason("LISTING_NOT_FOUND").Explain("Active listing not found")
	ErrSaleListingNotFound  = errors.NotFound.Explain("Active sale listing not found")
	ErrInvalidPurchase      = errors.Invalid.Reason("INVALID_PURCHASE").Explain("Cannot purchase your own land")
	ErrBuyerNotFound        = errors.NotFound.Reason("BUYER_NOT_FOUND").Explain("Buyer information not found")
	ErrPaymentRequired      = payments.ErrPaymentNotVerified.Explain("payment_hash is required")
	ErrPaymentAlreadyUsed   = errors.Conflict.Reason("PAYMENT_ALREADY_USED").Explain("Payment has already been used for another transaction")
	ErrTransactionFailed    = errors.Internal.Reason("TRANSACTION_FAILED").Explain("Failed to create transaction")
	ErrParcelNotOwned       = errors.Invalid.Explain("Parcel must be owned to be sold")
	ErrPendingExists        = errors.Invalid.Explain("You already have a pending transaction for this listing")
	ErrTransactionNotFound  = errors.NotFound.Explain("Transaction not found")
	ErrHashRequired         = errors.Invalid.Explain("transaction_hash is required")
	ErrHashUsed             = errors.Invalid.Explain("Transaction hash already used")
	ErrNotBuyer             = errors.Forbidden.Explain("Only the buyer can change this transaction")
	ErrNotParticipant       = errors.Forbidden.Explain("Not authorized to view this transaction")
	ErrTransactionNotActive = errors.Invalid.Explain("Transaction is no longer pending")
)

// Deps are the optional collaborators of the transaction service. A nil
// Verifier accepts purchases without an on-chain payment check.
type Deps struct {
	Ledger   ledger.Ledger
	Verifier payments.Verifier
	Cache    cache.ListCache
	Events   events.Publisher
}

// Service implements the purchase and lease flows
type Service struct {
	db        *gorm.DB
	ledger    ledger.Ledger
	verifier  payments.Verifier
	cache     cache.ListCache
	publisher events.Publisher
	logger    *zap.Logger
}

func NewService(db *gorm.DB, deps Deps, logger *zap.Logger) *Service {
	if deps.Cache == nil {
		deps.Cache = cache.Noop{}
	}
	if deps.Events == nil {
		deps.Events = events.Noop{}
	}
	return &Service{
		db:        db,
		ledger:    deps.Ledger,
		verifier:  deps.Verifier,
		cache:     deps.Cache,
		publisher: deps.Events,
		logger:    logger.Named("transactions"),
	}
}

func withParties(db *gorm.DB) *gorm.DB {
	return db.Preload("Listing").Preload("Parcel").Preload("Buyer").Preload("Seller")
}

// Initiate opens a two-step purchase of an active sale listing
func (s *Service) Initiate(ctx context.Context, user *models.User, listingID string) (*models.Transaction, error) {
	if strings.TrimSpace(listingID) == "" {
		return nil, ErrInvalidInput
	}
	var listing models.Listing
	err := s.db.WithContext(ctx).Preload("Parcel").
		Where("id = ? AND active = ? AND type = ?", listingID, true, models.ListingSale).
		First(&listing).Error
	if database.IsNotFound(err) {
		return nil, ErrSaleListingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load listing: %w", err)
	}
	if listing.Parcel == nil || listing.Parcel.OwnerID == nil || listing.Parcel.Status != models.ParcelOwned {
		return nil, ErrParcelNotOwned
	}
	if *listing.Parcel.OwnerID == user.ID {
		return nil, ErrInvalidPurchase
	}

	tx := &models.Transaction{
		ID:        uuid.NewString(),
		ListingID: listing.ID,
		BuyerID:   user.ID,
		SellerID:  *listing.Parcel.OwnerID,
		ParcelID:  listing.ParcelID,
		Type:      models.TransactionPurchase,
		Status:    models.TransactionInitiated,
		AmountKES: listing.PriceKES,
	}
	err = s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		var pending int64
		err := db.Model(&models.Transaction{}).
			Where("listing_id = ? AND buyer_id = ? AND status = ?", listing.ID, user.ID, models.TransactionInitiated).
			Count(&pending).Error
		if err != nil {
			return err
		}
		if pending > 0 {
			return ErrPendingExists
		}
		return db.Omit(clause.Associations).Create(tx).Error
	})
	if errors.Is(err, ErrPendingExists) {
		return nil, ErrPendingExists
	}
	if err != nil {
		return nil, fmt.Errorf("initiate transaction: %w", err)
	}
	return s.load(ctx, tx.ID)
}

// Complete settles an initiated purchase: the transaction, the parcel owner
// and the listing change together or not at all.
func (s *Service) Complete(ctx context.Context, user *models.User, id, hash string) (*models.Transaction, error) {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return nil, ErrHashRequired
	}
	tx, err := s.pending(ctx, user, id)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		var used int64
		if err := db.Model(&models.Transaction{}).Where("transaction_hash = ?", hash).Count(&used).Error; err != nil {
			return err
		}
		if used > 0 {
			return ErrHashUsed
		}
		if err := db.Model(&models.Transaction{}).Where("id = ?", tx.ID).Updates(map[string]any{
			"status":           models.TransactionCompleted,
			"transaction_hash": hash,
		}).Error; err != nil {
			return err
		}
		if err := db.Model(&models.Parcel{}).Where("parcel_id = ?", tx.ParcelID).Updates(map[string]any{
			"owner_id": tx.BuyerID,
			"status":   models.ParcelOwned,
		}).Error; err != nil {
			return err
		}
		return db.Model(&models.Listing{}).Where("id = ?", tx.ListingID).Update("active", false).Error
	})
	switch {
	case errors.Is(err, ErrHashUsed), database.IsUniqueViolation(err):
		return nil, ErrHashUsed
	case err != nil:
		return nil, fmt.Errorf("complete transaction: %w", err)
	}

	completed, err := s.load(ctx, tx.ID)
	if err != nil {
		return nil, err
	}
	s.ownershipChanged(ctx, completed)
	events.Emit(ctx, s.publisher, s.logger, events.New(events.TransactionCompleted, completed.ParcelID, user.ID, completed))
	return completed, nil
}

// Fail abandons an initiated purchase
func (s *Service) Fail(ctx context.Context, user *models.User, id, reason string) (*models.Transaction, error) {
	tx, err := s.pending(ctx, user, id)
	if err != nil {
		return nil, err
	}
	updates := map[string]any{"status": models.TransactionFailed}
	if reason = strings.TrimSpace(reason); reason != "" {
		updates["failure_reason"] = reason
	}
	if err := s.db.WithContext(ctx).Model(&models.Transaction{}).Where("id = ?", tx.ID).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("fail transaction: %w", err)
	}
	failed, err := s.load(ctx, tx.ID)
	if err != nil {
		return nil, err
	}
	events.Emit(ctx, s.publisher, s.logger, events.New(events.TransactionFailed, failed.ParcelID, user.ID, failed))
	return failed, nil
}

// pending loads an INITIATED transaction owned by the buyer
func (s *Service) pending(ctx context.Context, user *models.User, id string) (*models.Transaction, error) {
	var tx models.Transaction
	err := s.db.WithContext(ctx).First(&tx, "id = ?", id).Error
	if database.IsNotFound(err) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load transaction: %w", err)
	}
	if tx.BuyerID != user.ID {
		return nil, ErrNotBuyer
	}
	if tx.Status != models.TransactionInitiated {
		return nil, ErrTransactionNotActive.Explain("Transaction is already %s", strings.ToLower(string(tx.Status)))
	}
	return &tx, nil
}

// Get returns a transaction to its buyer, its seller or a GOV user
func (s *Service) Get(ctx context.Context, user *models.User, id string) (*models.Transaction, error) {
	tx, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if user.Type != models.UserGov && tx.BuyerID != user.ID && tx.SellerID != user.ID {
		return nil, ErrNotParticipant
	}
	return tx, nil
}

// Mine returns transactions where the caller is buyer or seller
func (s *Service) Mine(ctx context.Context, user *models.User) ([]models.Transaction, error) {
	var rows []models.Transaction
	err := withParties(s.db.WithContext(ctx)).
		Where("buyer_id = ? OR seller_id = ?", user.ID, user.ID).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return rows, nil
}

// AllForGov returns every transaction
func (s *Service) AllForGov(ctx context.Context) ([]models.Transaction, error) {
	var rows []models.Transaction
	if err := withParties(s.db.WithContext(ctx)).Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return rows, nil
}

func (s *Service) load(ctx context.Context, id string) (*models.Transaction, error) {
	var tx models.Transaction
	err := withParties(s.db.WithContext(ctx)).First(&tx, "id = ?", id).Error
	if database.IsNotFound(err) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load transaction: %w", err)
	}
	return &tx, nil
}

func (s *Service) ownershipChanged(ctx context.Context, tx *models.Transaction) {
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.Warn("Public list cache not invalidated", zap.Error(err))
	}
	if tx.Type == models.TransactionPurchase {
		logger.Audit(s.logger, "parcel_owner_changed", tx.BuyerID, "", map[string]any{
			"parcelID":      tx.ParcelID,
			"transactionID": tx.ID,
			"sellerID":      tx.SellerID,
		})
	}
}
