// Package identities handles wallet registration, sessions and the
// government whitelist.
package identities

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/terrahash/landregistry/internal/config"
	"github.com/terrahash/landregistry/internal/database"
	"github.com/terrahash/landregistry/pkg/errors"
	"github.com/terrahash/landregistry/pkg/logger"
	"github.com/terrahash/landregistry/pkg/models"
	"github.com/terrahash/landregistry/pkg/validation"
)

var (
	ErrWalletRequired      = errors.Invalid.Reason("WALLET_ADDRESS_REQUIRED").Explain("wallet_address is required")
	ErrInvalidWallet       = errors.Invalid.Reason("INVALID_WALLET_ADDRESS").Explain("Invalid wallet address format")
	ErrInvalidFullName     = errors.Invalid.Reason("INVALID_FULL_NAME_LENGTH").Explain("full_name must be between 2 and 100 characters")
	ErrWalletRegistered    = errors.Conflict.Reason("WALLET_ALREADY_REGISTERED").Explain("Wallet already registered")
	ErrWalletNotRegistered = errors.NotFound.Reason("WALLET_NOT_REGISTERED").Explain("Wallet not registered")
	ErrGovAccessRevoked    = errors.Forbidden.Reason("GOVERNMENT_ACCESS_REVOKED").Explain("Government access has been revoked. Please contact an administrator.")
	ErrTOTPRequired        = errors.Unauthorized.Reason("TOTP_REQUIRED").Explain("totp_code is required for root login")
	ErrInvalidTOTP         = errors.Unauthorized.Reason("INVALID_TOTP").Explain("Invalid totp_code")
	ErrNotAuthenticated    = errors.Unauthorized.Reason("NOT_AUTHENTICATED").Explain("Not authenticated")
)

const rootName = "Root User"

// Authenticated is the outcome of a register or login
type Authenticated struct {
	User   *models.User
	Token  string
	Claims *Claims
}

// Service implements the wallet identity operations
type Service struct {
	db          *gorm.DB
	sessions    *Sessions
	rootWallets map[string]struct{}
	totpSecret  string
	logger      *zap.Logger
}

func NewService(db *gorm.DB, sessions *Sessions, root config.RootConfig, logger *zap.Logger) *Service {
	wallets := make(map[string]struct{}, len(root.AdminWallets))
	for _, w := range root.AdminWallets {
		wallets[strings.ToLower(strings.TrimSpace(w))] = struct{}{}
	}
	return &Service{
		db:          db,
		sessions:    sessions,
		rootWallets: wallets,
		totpSecret:  root.TOTPSecret,
		logger:      logger.Named("identities"),
	}
}

func (s *Service) Sessions() *Sessions { return s.sessions }

func (s *Service) isRoot(wallet string) bool {
	_, ok := s.rootWallets[wallet]
	return ok
}

func rootUser(wallet string) *models.User {
	name := rootName
	now := time.Now().UTC()
	return &models.User{
		ID:            models.RootUserID,
		Type:          models.UserRoot,
		FullName:      &name,
		WalletAddress: wallet,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func normalizeWallet(address string) (string, error) {
	if strings.TrimSpace(address) == "" {
		return "", ErrWalletRequired
	}
	wallet, err := validation.NormalizeWallet(address)
	if err != nil {
		return "", ErrInvalidWallet
	}
	return wallet, nil
}

func (s *Service) findByWallet(ctx context.Context, wallet string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("wallet_address = ?", wallet).First(&user).Error
	if database.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find user by wallet: %w", err)
	}
	return &user, nil
}

// CheckWallet tells whether address belongs to a known user
func (s *Service) CheckWallet(ctx context.Context, address string) (*models.CheckWalletResponse, error) {
	wallet, err := normalizeWallet(address)
	if err != nil {
		return nil, err
	}
	if s.isRoot(wallet) {
		return &models.CheckWalletResponse{Exists: true, User: rootUser(wallet)}, nil
	}
	user, err := s.findByWallet(ctx, wallet)
	if err != nil {
		return nil, err
	}
	return &models.CheckWalletResponse{Exists: user != nil, User: user}, nil
}

// Register creates a PUBLIC user and opens a session for it
func (s *Service) Register(ctx context.Context, req *models.RegisterRequest) (*Authenticated, error) {
	wallet, err := normalizeWallet(req.WalletAddress)
	if err != nil {
		return nil, err
	}
	var fullName *string
	if name := strings.TrimSpace(req.FullName); name != "" {
		if !validation.LengthBetween(name, 2, 100) {
			return nil, ErrInvalidFullName
		}
		fullName = &name
	}
	if s.isRoot(wallet) {
		return nil, ErrWalletRegistered
	}
	existing, err := s.findByWallet(ctx, wallet)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrWalletRegistered
	}

	user := &models.User{
		ID:            uuid.NewString(),
		Type:          models.UserPublic,
		FullName:      fullName,
		WalletAddress: wallet,
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return nil, ErrWalletRegistered
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	s.logger.Info("User registered", zap.String("userID", user.ID), zap.String("wallet", wallet))
	return s.open(user)
}

// Login opens a session for an existing wallet
func (s *Service) Login(ctx context.Context, req *models.LoginRequest) (*Authenticated, error) {
	wallet, err := normalizeWallet(req.WalletAddress)
	if err != nil {
		return nil, err
	}
	if s.isRoot(wallet) {
		if s.totpSecret != "" {
			if req.TOTPCode == "" {
				return nil, ErrTOTPRequired
			}
			if !totp.Validate(req.TOTPCode, s.totpSecret) {
				return nil, ErrInvalidTOTP
			}
		}
		return s.open(rootUser(wallet))
	}

	user, err := s.findByWallet(ctx, wallet)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrWalletNotRegistered
	}
	if user.Type == models.UserGov {
		active, err := s.isWhitelisted(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		if !active {
			return nil, ErrGovAccessRevoked
		}
	}
	return s.open(user)
}

func (s *Service) isWhitelisted(ctx context.Context, userID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.GovWhitelist{}).
		Where("user_id = ? AND status = ?", userID, models.WhitelistActive).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check whitelist: %w", err)
	}
	return count > 0, nil
}

func (s *Service) open(user *models.User) (*Authenticated, error) {
	token, claims, err := s.sessions.Issue(user)
	if err != nil {
		return nil, err
	}
	return &Authenticated{User: user, Token: token, Claims: claims}, nil
}

// Logout revokes the session so the token stops working before it expires
func (s *Service) Logout(ctx context.Context, claims *Claims) error {
	if err := s.sessions.Revoke(ctx, claims); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	if claims != nil {
		logger.Audit(s.logger, "logout", claims.UserID, "", nil)
	}
	return nil
}

// Authenticate resolves a session token to its claims
func (s *Service) Authenticate(ctx context.Context, token string) (*Claims, error) {
	if token == "" {
		return nil, ErrNotAuthenticated
	}
	return s.sessions.Parse(ctx, token)
}

// Me loads the user behind a session. A session whose user row is gone is
// treated as unauthenticated.
func (s *Service) Me(ctx context.Context, claims *Claims) (*models.User, error) {
	if claims == nil {
		return nil, ErrNotAuthenticated
	}
	if claims.UserID == models.RootUserID {
		if !s.isRoot(claims.Wallet) {
			return nil, ErrNotAuthenticated
		}
		return rootUser(claims.Wallet), nil
	}
	var user models.User
	err := s.db.WithContext(ctx).First(&user, "id = ?", claims.UserID).Error
	if database.IsNotFound(err) {
		return nil, ErrNotAuthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("load session user: %w", err)
	}
	return &user, nil
}
