// Package parcels manages the land register: parcel records, their NFTs and
// the public map list.
package parcels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/terrahash/landregistry/internal/cache"
	"github.com/terrahash/landregistry/internal/database"
	"github.com/terrahash/landregistry/internal/events"
	"github.com/terrahash/landregistry/internal/geometry"
	"github.com/terrahash/landregistry/internal/ledger"
	"github.com/terrahash/landregistry/internal/storage"
	"github.com/terrahash/landregistry/pkg/errors"
	"github.com/terrahash/landregistry/pkg/logger"
	"github.com/terrahash/landregistry/pkg/models"
)

var (
	ErrParcelNotFound  = errors.NotFound.Reason("NOT_FOUND").Explain("Parcel not found")
	ErrMissingFields   = errors.Invalid.Explain("Missing required fields")
	ErrInvalidStatus   = errors.Invalid.Explain("Invalid status. Must be UNCLAIMED or OWNED")
	ErrOwnerRequired   = errors.Invalid.Explain("Owner is required for OWNED status")
	ErrOwnerNotFound   = errors.Invalid.Reason("OWNER_NOT_FOUND").Explain("Owner does not exist")
	ErrParcelOverlap   = errors.Conflict.Reason("PARCEL_OVERLAP").Explain("Parcel geometry overlaps an existing parcel")
	ErrDuplicateParcel = errors.Conflict.Reason("DUPLICATE_PARCEL").Explain("Parcel ID already exists")
	ErrParcelInUse     = errors.Conflict.Reason("PARCEL_HAS_TRANSACTIONS").Explain("Parcel has recorded transactions and cannot be deleted")
	ErrPinningDisabled = errors.Internal.Reason("IPFS_NOT_CONFIGURED").Explain("Metadata pinning is not configured")
)

// Deps are the optional collaborators of the parcel service. A nil Ledger
// keeps parcels off chain.
type Deps struct {
	Ledger ledger.Ledger
	Pinner storage.Pinner
	Cache  cache.ListCache
	Events events.Publisher
}

// Service implements parcel registration and lookup
type Service struct {
	db        *gorm.DB
	ledger    ledger.Ledger
	pinner    storage.Pinner
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
		pinner:    deps.Pinner,
		cache:     deps.Cache,
		publisher: deps.Events,
		logger:    logger.Named("parcels"),
	}
}

// withRelations preloads the owner and listings; the best listing is attached by attachListing.
func withRelations(db *gorm.DB) *gorm.DB {
	return db.Preload("Owner").Preload("Listings", func(db *gorm.DB) *gorm.DB {
		return db.Order("active DESC").Order("created_at DESC")
	})
}

// attachListing exposes the parcel's single listing, preferring the active one.
func attachListing(p *models.Parcel) {
	p.Listing = nil
	if len(p.Listings) > 0 {
		l := p.Listings[0]
		p.Listing = &l
	}
}

// List returns parcels newest first
func (s *Service) List(ctx context.Context, filter models.ParcelFilter) ([]models.Parcel, error) {
	q := withRelations(s.db.WithContext(ctx)).Order("created_at DESC")
	if filter.Status != "" {
		if !filter.Status.Valid() {
			return nil, ErrInvalidStatus
		}
		q = q.Where("status = ?", filter.Status)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		q = q.Where("LOWER(parcel_id) LIKE ?", "%"+strings.ToLower(search)+"%")
	}
	if filter.UserID != "" {
		q = q.Where("owner_id = ?", filter.UserID)
	}

	var parcels []models.Parcel
	if err := q.Find(&parcels).Error; err != nil {
		return nil, fmt.Errorf("list parcels: %w", err)
	}
	for i := range parcels {
		attachListing(&parcels[i])
	}
	return parcels, nil
}

// Get loads one parcel with its owner and listing
func (s *Service) Get(ctx context.Context, parcelID string) (*models.Parcel, error) {
	var p models.Parcel
	err := withRelations(s.db.WithContext(ctx)).First(&p, "parcel_id = ?", parcelID).Error
	if database.IsNotFound(err) {
		return nil, ErrParcelNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get parcel: %w", err)
	}
	attachListing(&p)
	return &p, nil
}

// Create registers a parcel. With a ledger configured the parcel is minted as
// an NFT and its id is derived from the token serial.
func (s *Service) Create(ctx context.Context, actor *models.User, req *models.CreateParcelRequest) (*models.Parcel, error) {
	if len(req.GeometryGeoJSON) == 0 || req.AdminRegion == nil || req.Status == "" {
		return nil, ErrMissingFields
	}
	if !req.Status.Valid() {
		return nil, ErrInvalidStatus
	}
	parcelID := strings.TrimSpace(req.ParcelID)
	if s.ledger == nil && parcelID == "" {
		return nil, ErrMissingFields.WithField("required", "parcel_id", "parcel_id is required")
	}

	p := &models.Parcel{
		ParcelID:    parcelID,
		AdminRegion: *req.AdminRegion,
		Status:      req.Status,
		Notes:       req.Notes,
		AssetURLs:   req.AssetURLs,
		CertifURL:   req.CertifURL,
	}
	if p.AssetURLs == nil {
		p.AssetURLs = []string{}
	}

	var owner *models.User
	if req.Status == models.ParcelOwned {
		var err error
		if owner, err = s.loadOwner(ctx, req.OwnerID); err != nil {
			return nil, err
		}
		p.OwnerID = &owner.ID
	}

	geom, err := geometry.Parse(req.GeometryGeoJSON)
	if err != nil {
		return nil, err
	}
	p.GeometryGeoJSON = compactJSON(req.GeometryGeoJSON)
	p.AreaM2 = req.AreaM2
	if p.AreaM2 <= 0 {
		p.AreaM2 = geometry.AreaM2(geom)
	}
	if err := s.checkOverlap(ctx, "", req.GeometryGeoJSON); err != nil {
		return nil, err
	}

	if s.ledger != nil {
		if err := s.mint(ctx, p, owner, geom.GeoJSONType()); err != nil {
			return nil, err
		}
	}

	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(p).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return nil, ErrDuplicateParcel
		}
		return nil, fmt.Errorf("create parcel: %w", err)
	}

	s.changed(ctx, events.ParcelCreated, p.ParcelID, actor, p)
	logger.Audit(s.logger, "parcel_created", actorID(actor), "", map[string]any{
		"parcelID": p.ParcelID,
		"status":   string(p.Status),
	})
	return s.Get(ctx, p.ParcelID)
}

// mint pins the parcel metadata, mints its NFT and opens its objection topic.
func (s *Service) mint(ctx context.Context, p *models.Parcel, owner *models.User, geomType string) error {
	ownerAccount := s.ledger.TreasuryAccountID()
	if owner != nil {
		account, err := s.ledger.ResolveAccountID(ctx, owner.WalletAddress)
		if err != nil {
			return err
		}
		ownerAccount = account
	}

	name := p.ParcelID
	if name == "" {
		name = "TerraHash Land Parcel"
	}
	uri, err := s.pinMetadata(ctx, name, p, geomType)
	if err != nil {
		return err
	}
	serial, err := s.ledger.MintParcelNFT(ctx, []byte(uri), ownerAccount)
	if err != nil {
		return err
	}
	p.ParcelID = fmt.Sprintf("PARCEL-%s-%d", s.ledger.TokenNumber(), serial)
	p.NFTSerial = &serial
	p.MetadataURI = &uri

	// a missing topic only disables on-chain objections, the NFT already exists
	topicID, err := s.ledger.CreateTopic(ctx, "objections:"+p.ParcelID)
	if err != nil {
		s.logger.Warn("Objection topic not created", zap.String("parcel_id", p.ParcelID), zap.Error(err))
		return nil
	}
	p.TopicID = &topicID
	return nil
}

func (s *Service) pinMetadata(ctx context.Context, name string, p *models.Parcel, geomType string) (string, error) {
	if s.pinner == nil {
		return "", ErrPinningDisabled
	}
	pinned, err := s.pinner.PinJSON(ctx, name, ledger.ParcelMetadata(name, p, geomType))
	if err != nil {
		return "", err
	}
	return pinned.URI, nil
}

func (s *Service) loadOwner(ctx context.Context, ownerID *string) (*models.User, error) {
	if ownerID == nil || strings.TrimSpace(*ownerID) == "" {
		return nil, ErrOwnerRequired
	}
	var owner models.User
	err := s.db.WithContext(ctx).First(&owner, "id = ?", *ownerID).Error
	if database.IsNotFound(err) {
		return nil, ErrOwnerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load owner: %w", err)
	}
	return &owner, nil
}

// checkOverlap rejects raw when it overlaps any parcel other than exceptID.
func (s *Service) checkOverlap(ctx context.Context, exceptID string, raw []byte) error {
	candidate, err := geometry.Parse(raw)
	if err != nil {
		return err
	}
	var rows []models.Parcel
	q := s.db.WithContext(ctx).Select("parcel_id", "geometry_geojson")
	if exceptID != "" {
		q = q.Where("parcel_id <> ?", exceptID)
	}
	if err := q.Find(&rows).Error; err != nil {
		return fmt.Errorf("load parcel geometries: %w", err)
	}
	for _, row := range rows {
		existing, err := geometry.Parse(row.GeometryGeoJSON)
		if err != nil {
			s.logger.Warn("Stored parcel has invalid geometry", zap.String("parcel_id", row.ParcelID))
			continue
		}
		if geometry.Overlaps(candidate, existing) {
			return ErrParcelOverlap.WithField("overlap", "geometry_geojson", row.ParcelID)
		}
	}
	return nil
}

// Update applies the provided fields of req to a parcel
func (s *Service) Update(ctx context.Context, actor *models.User, parcelID string, req *models.UpdateParcelRequest) (*models.Parcel, error) {
	var p models.Parcel
	err := s.db.WithContext(ctx).First(&p, "parcel_id = ?", parcelID).Error
	if database.IsNotFound(err) {
		return nil, ErrParcelNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load parcel: %w", err)
	}
	previousOwner := p.OwnerID

	var geomType string
	if len(req.GeometryGeoJSON) > 0 && string(req.GeometryGeoJSON) != "null" {
		geom, err := geometry.Parse(req.GeometryGeoJSON)
		if err != nil {
			return nil, err
		}
		if err := s.checkOverlap(ctx, p.ParcelID, req.GeometryGeoJSON); err != nil {
			return nil, err
		}
		p.GeometryGeoJSON = compactJSON(req.GeometryGeoJSON)
		geomType = geom.GeoJSONType()
		if req.AreaM2 == nil {
			p.AreaM2 = geometry.AreaM2(geom)
		}
	}
	if req.AreaM2 != nil {
		p.AreaM2 = *req.AreaM2
	}
	if req.AdminRegion != nil {
		p.AdminRegion = *req.AdminRegion
	}
	if req.Notes != nil {
		p.Notes = req.Notes
	}
	if req.AssetURLs != nil {
		p.AssetURLs = req.AssetURLs
	}
	if req.CertifURL != nil {
		p.CertifURL = req.CertifURL
	}

	owner, err := s.applyOwnership(ctx, &p, req.Status, req.OwnerID)
	if err != nil {
		return nil, err
	}

	if s.ledger != nil && p.NFTSerial != nil {
		if geomType == "" {
			if g, err := geometry.Parse(p.GeometryGeoJSON); err == nil {
				geomType = g.GeoJSONType()
			}
		}
		if err := s.syncLedger(ctx, &p, previousOwner, owner, geomType); err != nil {
			return nil, err
		}
	}

	if err := s.db.WithContext(ctx).Omit(clause.Associations).Save(&p).Error; err != nil {
		return nil, fmt.Errorf("update parcel: %w", err)
	}

	s.changed(ctx, events.ParcelUpdated, p.ParcelID, actor, &p)
	if !sameOwner(previousOwner, p.OwnerID) {
		logger.Audit(s.logger, "parcel_owner_changed", actorID(actor), "", map[string]any{
			"parcelID": p.ParcelID,
			"ownerID":  deref(p.OwnerID),
		})
	}
	return s.Get(ctx, p.ParcelID)
}

// applyOwnership keeps status OWNED and a non-nil owner in step.
func (s *Service) applyOwnership(ctx context.Context, p *models.Parcel, status *models.ParcelStatus, ownerID *string) (*models.User, error) {
	target := p.Status
	if status != nil {
		if !status.Valid() {
			return nil, ErrInvalidStatus
		}
		target = *status
	} else if ownerID != nil {
		target = models.ParcelOwned
		if *ownerID == "" {
			target = models.ParcelUnclaimed
		}
	}

	if target == models.ParcelUnclaimed {
		p.Status = models.ParcelUnclaimed
		p.OwnerID = nil
		return nil, nil
	}

	candidate := ownerID
	if candidate == nil {
		candidate = p.OwnerID
	}
	owner, err := s.loadOwner(ctx, candidate)
	if err != nil {
		return nil, err
	}
	p.Status = models.ParcelOwned
	p.OwnerID = &owner.ID
	return owner, nil
}

// syncLedger re-pins metadata and moves a treasury-held NFT to a new owner.
func (s *Service) syncLedger(ctx context.Context, p *models.Parcel, previousOwner *string, owner *models.User, geomType string) error {
	uri, err := s.pinMetadata(ctx, p.ParcelID, p, geomType)
	if err != nil {
		return err
	}
	if err := s.ledger.UpdateParcelMetadata(ctx, *p.NFTSerial, []byte(uri)); err != nil {
		return err
	}
	p.MetadataURI = &uri

	if owner == nil || sameOwner(previousOwner, p.OwnerID) {
		return nil
	}
	if previousOwner != nil {
		// the NFT sits in the previous owner's account; only a sale can move it
		s.logger.Warn("Parcel reassigned away from an NFT holder",
			zap.String("parcel_id", p.ParcelID),
			zap.String("previous_owner", *previousOwner))
		return nil
	}
	account, err := s.ledger.ResolveAccountID(ctx, owner.WalletAddress)
	if err != nil {
		return err
	}
	_, err = s.ledger.TransferParcelNFT(ctx, *p.NFTSerial, account)
	return err
}

// SetStatus changes only the ownership of a parcel
func (s *Service) SetStatus(ctx context.Context, actor *models.User, parcelID string, req *models.SetParcelStatusRequest) (*models.Parcel, error) {
	if req.Status == "" || !req.Status.Valid() {
		return nil, ErrInvalidStatus
	}
	if req.Status == models.ParcelOwned && (req.OwnerID == nil || *req.OwnerID == "") {
		return nil, ErrOwnerRequired
	}
	status := req.Status
	return s.Update(ctx, actor, parcelID, &models.UpdateParcelRequest{Status: &status, OwnerID: req.OwnerID})
}

// Delete removes a parcel with its listings and objections. Parcels that
// appear in transactions are kept.
func (s *Service) Delete(ctx context.Context, actor *models.User, parcelID string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p models.Parcel
		if err := tx.Select("parcel_id").First(&p, "parcel_id = ?", parcelID).Error; err != nil {
			return err
		}
		var count int64
		if err := tx.Model(&models.Transaction{}).Where("parcel_id = ?", parcelID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrParcelInUse
		}
		if err := tx.Where("parcel_id = ?", parcelID).Delete(&models.Objection{}).Error; err != nil {
			return err
		}
		if err := tx.Where("parcel_id = ?", parcelID).Delete(&models.Listing{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Parcel{}, "parcel_id = ?", parcelID).Error
	})
	switch {
	case database.IsNotFound(err):
		return ErrParcelNotFound
	case errors.Is(err, ErrParcelInUse):
		return ErrParcelInUse
	case err != nil:
		return fmt.Errorf("delete parcel: %w", err)
	}

	s.changed(ctx, events.ParcelDeleted, parcelID, actor, nil)
	logger.Audit(s.logger, "parcel_deleted", actorID(actor), "", map[string]any{"parcelID": parcelID})
	return nil
}

// changed invalidates the public list and announces the change
func (s *Service) changed(ctx context.Context, t events.Type, parcelID string, actor *models.User, payload any) {
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.Warn("Public list cache not invalidated", zap.Error(err))
	}
	events.Emit(ctx, s.publisher, s.logger, events.New(t, parcelID, actorID(actor), payload))
}

// compactJSON strips insignificant whitespace before storage
func compactJSON(raw json.RawMessage) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}

func sameOwner(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func actorID(u *models.User) string {
	if u == nil {
		return ""
	}
	return u.ID
}
