package identities

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/terrahash/landregistry/internal/database"
	"github.com/terrahash/landregistry/pkg/errors"
	"github.com/terrahash/landregistry/pkg/logger"
	"github.com/terrahash/landregistry/pkg/models"
)

var (
	ErrUserExists        = errors.Invalid.Reason("USER_EXISTS").Explain("User already exists")
	ErrStatusRequired    = errors.Invalid.Reason("STATUS_REQUIRED").Explain("Status is required")
	ErrUserIDRequired    = errors.Invalid.Reason("USER_ID_REQUIRED").Explain("User ID is required")
	ErrInvalidStatus     = errors.Invalid.Reason("INVALID_STATUS").Explain("Invalid status")
	ErrWhitelistNotFound = errors.NotFound.Reason("NOT_FOUND").Explain("Whitelist entry not found")
)

// ListWhitelists returns every government whitelist entry, newest first
func (s *Service) ListWhitelists(ctx context.Context) ([]models.GovWhitelist, error) {
	var rows []models.GovWhitelist
	err := s.db.WithContext(ctx).Preload("User").Order("added_at DESC").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list whitelists: %w", err)
	}
	return rows, nil
}

// AddGovUser creates a GOV user with an ACTIVE whitelist entry
func (s *Service) AddGovUser(ctx context.Context, actor *models.User, req *models.AddGovUserRequest) (*models.User, error) {
	wallet, err := normalizeWallet(req.WalletAddress)
	if err != nil {
		return nil, err
	}
	if s.isRoot(wallet) {
		return nil, ErrUserExists
	}
	var fullName *string
	if name := strings.TrimSpace(req.FullName); name != "" {
		fullName = &name
	}

	user := &models.User{
		ID:            uuid.NewString(),
		Type:          models.UserGov,
		FullName:      fullName,
		WalletAddress: wallet,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.User{}).Where("wallet_address = ?", wallet).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrUserExists
		}
		if err := tx.Create(user).Error; err != nil {
			return err
		}
		return tx.Create(&models.GovWhitelist{
			ID:     uuid.NewString(),
			UserID: user.ID,
			Status: models.WhitelistActive,
		}).Error
	})
	if err != nil {
		if errors.Is(err, ErrUserExists) || database.IsUniqueViolation(err) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("add government user: %w", err)
	}

	logger.Audit(s.logger, "whitelist_add", actorID(actor), "", map[string]any{
		"govUserID": user.ID,
		"wallet":    wallet,
	})
	return user, nil
}

// SetWhitelistStatus activates or revokes a government user's access
func (s *Service) SetWhitelistStatus(ctx context.Context, actor *models.User, req *models.UpdateWhitelistRequest) (*models.GovWhitelist, error) {
	if req.Status == "" {
		return nil, ErrStatusRequired
	}
	if strings.TrimSpace(req.UserID) == "" {
		return nil, ErrUserIDRequired
	}
	if req.Status != models.WhitelistActive && req.Status != models.WhitelistRevoked {
		return nil, ErrInvalidStatus
	}

	var row models.GovWhitelist
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", req.UserID).First(&row).Error; err != nil {
			return err
		}
		row.Status = req.Status
		return tx.Model(&row).Update("status", req.Status).Error
	})
	if database.IsNotFound(err) {
		return nil, ErrWhitelistNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update whitelist: %w", err)
	}

	logger.Audit(s.logger, "whitelist_status", actorID(actor), "", map[string]any{
		"govUserID": req.UserID,
		"status":    string(req.Status),
	})
	s.logger.Debug("Whitelist updated", zap.String("userID", req.UserID))
	return &row, nil
}

func actorID(u *models.User) string {
	if u == nil {
		return ""
	}
	return u.ID
}
