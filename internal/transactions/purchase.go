package transactions

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm/clause"

	"github.com/terrahash/landregistry/internal/database"
	"github.com/terrahash/landregistry/internal/events"
	"github.com/terrahash/landregistry/internal/payments"
	"github.com/terrahash/landregistry/pkg/metrics"
	"github.com/terrahash/landregistry/pkg/models"
)

// leaseRecord is the topic message written for every lease
type leaseRecord struct {
	Type         string              `json:"type"`
	ListingID    string              `json:"listing_id"`
	ParcelID     string              `json:"parcel_id"`
	LessorWallet string              `json:"lessor_wallet"`
	LesseeWallet string              `json:"lessee_wallet"`
	PriceKES     string              `json:"price_kes"`
	LeasePeriod  *models.LeasePeriod `json:"lease_period,omitempty"`
	PaymentHash  string              `json:"payment_hash,omitempty"`
	RecordedAt   time.Time           `json:"recorded_at"`
}

// Purchase buys or leases a listing in one request:
//  1. load the active listing with its parcel and seller
//  2. check the buyer
//  3. verify the payment
//  4. move the NFT (sale) or record the lease on the ledger
//  5. insert the transaction
//  6. hand the parcel to the buyer and close the listing, best effort
//  7. publish the outcome
func (s *Service) Purchase(ctx context.Context, user *models.User, req *models.PurchaseRequest) (resp *models.TransactionResponse, err error) {
	listingType := "unknown"
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		metrics.PurchasesTotal.WithLabelValues(listingType, result).Inc()
	}()

	if strings.TrimSpace(req.ListingID) == "" {
		return nil, ErrInvalidInput
	}

	var listing models.Listing
	err = s.db.WithContext(ctx).Preload("Parcel.Owner").
		Where("id = ? AND active = ?", req.ListingID, true).
		First(&listing).Error
	if database.IsNotFound(err) {
		return nil, ErrListingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load listing: %w", err)
	}
	listingType = strings.ToLower(string(listing.Type))
	parcel := listing.Parcel
	if parcel == nil || parcel.OwnerID == nil || parcel.Owner == nil {
		return nil, ErrListingNotFound
	}
	seller := parcel.Owner

	if seller.ID == user.ID {
		return nil, ErrInvalidPurchase
	}
	var buyer models.User
	err = s.db.WithContext(ctx).First(&buyer, "id = ?", user.ID).Error
	if database.IsNotFound(err) {
		return nil, ErrBuyerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load buyer: %w", err)
	}

	paymentHash := strings.ToLower(strings.TrimSpace(req.PaymentHash))
	if err := s.verifyPayment(ctx, paymentHash, &buyer, seller, &listing); err != nil {
		return nil, err
	}

	ledgerTxID, err := s.recordOnLedger(ctx, &listing, &buyer, seller, paymentHash)
	if err != nil {
		return nil, err
	}

	tx := &models.Transaction{
		ID:              uuid.NewString(),
		ListingID:       listing.ID,
		BuyerID:         buyer.ID,
		SellerID:        seller.ID,
		ParcelID:        parcel.ParcelID,
		Type:            models.TransactionPurchase,
		Status:          models.TransactionCompleted,
		AmountKES:       listing.PriceKES,
		PaymentHash:     optional(paymentHash),
		TransactionHash: optional(ledgerTxID),
	}
	if listing.Type == models.ListingLease {
		tx.Type = models.TransactionLease
	}
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(tx).Error; err != nil {
		if paymentHash != "" && database.IsUniqueViolation(err) {
			return nil, ErrPaymentAlreadyUsed
		}
		s.logger.Error("Transaction insert failed after ledger call",
			zap.String("listing_id", listing.ID),
			zap.String("ledger_tx", ledgerTxID),
			zap.Error(err))
		return nil, ErrTransactionFailed.Wrap(err)
	}

	s.followUp(ctx, tx, &listing)
	events.Emit(ctx, s.publisher, s.logger, events.New(events.TransactionCompleted, tx.ParcelID, buyer.ID, tx))

	return &models.TransactionResponse{
		Transaction: tx,
		Listing: models.ListingSummary{
			ID:           listing.ID,
			Type:         listing.Type,
			PriceKES:     listing.PriceKES,
			SellerWallet: seller.WalletAddress,
			Parcel: models.ParcelSummary{
				ParcelID:    parcel.ParcelID,
				AreaM2:      parcel.AreaM2,
				AdminRegion: parcel.AdminRegion,
			},
		},
	}, nil
}

// verifyPayment rejects reused payments and, with a verifier configured,
// payments that did not settle on chain.
func (s *Service) verifyPayment(ctx context.Context, hash string, buyer, seller *models.User, listing *models.Listing) error {
	if hash == "" {
		if s.verifier != nil {
			return ErrPaymentRequired
		}
		return nil
	}
	var used int64
	if err := s.db.WithContext(ctx).Model(&models.Transaction{}).Where("payment_hash = ?", hash).Count(&used).Error; err != nil {
		return fmt.Errorf("check payment hash: %w", err)
	}
	if used > 0 {
		return ErrPaymentAlreadyUsed
	}
	if s.verifier == nil {
		return nil
	}
	return s.verifier.Verify(ctx, payments.Payment{
		Hash:   hash,
		From:   buyer.WalletAddress,
		To:     seller.WalletAddress,
		Amount: listing.PriceKES,
	})
}

// recordOnLedger moves the NFT for a sale or writes a lease record. It
// returns the ledger transaction id, empty when nothing was sent.
func (s *Service) recordOnLedger(ctx context.Context, listing *models.Listing, buyer, seller *models.User, paymentHash string) (string, error) {
	if s.ledger == nil {
		return "", nil
	}
	parcel := listing.Parcel

	if listing.Type == models.ListingSale {
		if parcel.NFTSerial == nil {
			s.logger.Debug("Parcel has no NFT, sale recorded off chain", zap.String("parcel_id", parcel.ParcelID))
			return "", nil
		}
		from, err := s.ledger.ResolveAccountID(ctx, seller.WalletAddress)
		if err != nil {
			return "", err
		}
		to, err := s.ledger.ResolveAccountID(ctx, buyer.WalletAddress)
		if err != nil {
			return "", err
		}
		return s.ledger.TransferApprovedNFT(ctx, *parcel.NFTSerial, from, to)
	}

	topicID := listing.TopicID
	if topicID == nil {
		topicID = parcel.TopicID
	}
	if topicID == nil {
		s.logger.Debug("No lease topic, lease recorded off chain", zap.String("listing_id", listing.ID))
		return "", nil
	}
	msg, err := json.Marshal(leaseRecord{
		Type:         string(models.TransactionLease),
		ListingID:    listing.ID,
		ParcelID:     parcel.ParcelID,
		LessorWallet: seller.WalletAddress,
		LesseeWallet: buyer.WalletAddress,
		PriceKES:     listing.PriceKES.StringFixed(2),
		LeasePeriod:  listing.LeasePeriod,
		PaymentHash:  paymentHash,
		RecordedAt:   time.Now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("encode lease record: %w", err)
	}
	return s.ledger.SubmitTopicMessage(ctx, *topicID, msg)
}

// followUp applies the side effects of a completed purchase. Failures are
// logged; the transaction stands either way.
func (s *Service) followUp(ctx context.Context, tx *models.Transaction, listing *models.Listing) {
	if tx.Type == models.TransactionPurchase {
		err := s.db.WithContext(ctx).Model(&models.Parcel{}).
			Where("parcel_id = ?", tx.ParcelID).
			Updates(map[string]any{"owner_id": tx.BuyerID, "status": models.ParcelOwned}).Error
		if err != nil {
			s.logger.Error("Parcel ownership update failed",
				zap.String("parcel_id", tx.ParcelID),
				zap.String("transaction_id", tx.ID),
				zap.Error(err))
		}
	}
	err := s.db.WithContext(ctx).Model(&models.Listing{}).Where("id = ?", listing.ID).Update("active", false).Error
	if err != nil {
		s.logger.Error("Listing deactivation failed",
			zap.String("listing_id", listing.ID),
			zap.String("transaction_id", tx.ID),
			zap.Error(err))
	}
	s.ownershipChanged(ctx, tx)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
