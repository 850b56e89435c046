// Package objections lets the public contest parcel records and GOV users review them.
package objections

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/terrahash/landregistry/internal/database"
	"github.com/terrahash/landregistry/internal/events"
	"github.com/terrahash/landregistry/internal/ledger"
	"github.com/terrahash/landregistry/pkg/errors"
	"github.com/terrahash/landregistry/pkg/logger"
	"github.com/terrahash/landregistry/pkg/models"
	"github.com/terrahash/landregistry/pkg/validation"
)

var (
	ErrInvalidInput       = errors.Invalid.Reason("INVALID_INPUT").Explain("parcel_id and message are required")
	ErrMessageLength      = errors.Invalid.Reason("INVALID_INPUT").Explain("Message must be between 10 and 1000 characters")
	ErrParcelNotFound     = errors.NotFound.Reason("PARCEL_NOT_FOUND").Explain("Parcel not found")
	ErrDuplicateObjection = errors.Invalid.Reason("DUPLICATE_OBJECTION").Explain("You already have a pending objection for this parcel")
	ErrInvalidStatus      = errors.Invalid.Explain("Invalid status. Must be PENDING, REVIEWED or RESOLVED")
	ErrObjectionNotFound  = errors.NotFound.Reason("OBJECTION_NOT_FOUND").Explain("Objection not found")
)

// topicMessage is what an objection looks like on the parcel topic
type topicMessage struct {
	Type        string    `json:"type"`
	ObjectionID string    `json:"objection_id"`
	ParcelID    string    `json:"parcel_id"`
	Wallet      string    `json:"wallet"`
	Message     string    `json:"message"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Service implements objection filing and review
type Service struct {
	db        *gorm.DB
	ledger    ledger.Ledger
	publisher events.Publisher
	validator *validation.Validator
	logger    *zap.Logger
}

// Deps are the optional adapters of the objection service
type Deps struct {
	Ledger ledger.Ledger
	Events events.Publisher
}

// NewService creates the objection service
func NewService(db *gorm.DB, deps Deps, v *validation.Validator, logger *zap.Logger) *Service {
	if deps.Events == nil {
		deps.Events = events.Noop{}
	}
	return &Service{
		db:        db,
		ledger:    deps.Ledger,
		publisher: deps.Events,
		validator: v,
		logger:    logger.Named("objections"),
	}
}

// Create files an objection. When the parcel has a topic the objection is
// also written to the ledger, but a ledger failure does not block it.
func (s *Service) Create(ctx context.Context, user *models.User, req *models.CreateObjectionRequest) (*models.Objection, error) {
	parcelID := strings.TrimSpace(req.ParcelID)
	message := s.validator.Sanitize(req.Message)
	if parcelID == "" || message == "" {
		return nil, ErrInvalidInput
	}
	if !validation.LengthBetween(message, 10, 1000) {
		return nil, ErrMessageLength
	}

	var parcel models.Parcel
	err := s.db.WithContext(ctx).Select("parcel_id", "topic_id").First(&parcel, "parcel_id = ?", parcelID).Error
	if database.IsNotFound(err) {
		return nil, ErrParcelNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load parcel: %w", err)
	}

	var pending int64
	err = s.db.WithContext(ctx).Model(&models.Objection{}).
		Where("parcel_id = ? AND user_id = ? AND status = ?", parcelID, user.ID, models.ObjectionPending).
		Count(&pending).Error
	if err != nil {
		return nil, fmt.Errorf("check pending objections: %w", err)
	}
	if pending > 0 {
		return nil, ErrDuplicateObjection
	}

	objection := &models.Objection{
		ID:       uuid.NewString(),
		ParcelID: parcelID,
		UserID:   user.ID,
		Message:  message,
		Status:   models.ObjectionPending,
		TopicID:  parcel.TopicID,
	}
	if parcel.TopicID != nil && s.ledger != nil {
		objection.HashTopic = s.submit(ctx, *parcel.TopicID, objection, user)
	}

	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(objection).Error; err != nil {
		return nil, fmt.Errorf("create objection: %w", err)
	}
	events.Emit(ctx, s.publisher, s.logger, events.New(events.ObjectionCreated, parcelID, user.ID, objection))
	return objection, nil
}

func (s *Service) submit(ctx context.Context, topicID string, o *models.Objection, user *models.User) bool {
	msg, err := json.Marshal(topicMessage{
		Type:        "OBJECTION",
		ObjectionID: o.ID,
		ParcelID:    o.ParcelID,
		Wallet:      user.WalletAddress,
		Message:     o.Message,
		SubmittedAt: time.Now().UTC(),
	})
	if err != nil {
		return false
	}
	if _, err := s.ledger.SubmitTopicMessage(ctx, topicID, msg); err != nil {
		s.logger.Warn("Objection not written to topic",
			zap.String("parcel_id", o.ParcelID),
			zap.String("topic_id", topicID),
			zap.Error(err))
		return false
	}
	return true
}

// UpdateStatus moves an objection through review
func (s *Service) UpdateStatus(ctx context.Context, actor *models.User, id string, status models.ObjectionStatus) (*models.Objection, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}
	var objection models.Objection
	err := s.db.WithContext(ctx).First(&objection, "id = ?", id).Error
	if database.IsNotFound(err) {
		return nil, ErrObjectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load objection: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(&objection).Update("status", status).Error; err != nil {
		return nil, fmt.Errorf("update objection: %w", err)
	}
	objection.Status = status

	logger.Audit(s.logger, "objection_status", actor.ID, "", map[string]any{
		"objectionID": objection.ID,
		"parcelID":    objection.ParcelID,
		"status":      string(status),
	})
	events.Emit(ctx, s.publisher, s.logger, events.New(events.ObjectionUpdated, objection.ParcelID, actor.ID, &objection))
	return &objection, nil
}

// AllForGov returns every objection with its parcel and author
func (s *Service) AllForGov(ctx context.Context) ([]models.Objection, error) {
	var rows []models.Objection
	err := s.db.WithContext(ctx).Preload("Parcel").Preload("User").Order("created_at DESC").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list objections: %w", err)
	}
	return rows, nil
}

// Mine returns the objections filed by user
func (s *Service) Mine(ctx context.Context, user *models.User) ([]models.Objection, error) {
	var rows []models.Objection
	err := s.db.WithContext(ctx).Preload("Parcel").
		Where("user_id = ?", user.ID).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list own objections: %w", err)
	}
	return rows, nil
}
