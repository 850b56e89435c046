package models

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// RegisterRequest represents a wallet registration request
type RegisterRequest struct {
	WalletAddress string `json:"wallet_address"`
	FullName      string `json:"full_name"`
}

// LoginRequest represents a wallet login request
type LoginRequest struct {
	WalletAddress string `json:"wallet_address"`
	TOTPCode      string `json:"totp_code,omitempty"`
}

// CheckWalletResponse tells the UI whether a wallet needs to register
type CheckWalletResponse struct {
	Exists bool  `json:"exists"`
	User   *User `json:"user"`
}

// AddGovUserRequest whitelists a new government wallet
type AddGovUserRequest struct {
	WalletAddress string `json:"wallet_address"`
	FullName      string `json:"full_name"`
}

// UpdateWhitelistRequest changes a government user's access
type UpdateWhitelistRequest struct {
	UserID string          `json:"user_id"`
	Status WhitelistStatus `json:"status"`
}

// ParcelFilter narrows the parcel list
type ParcelFilter struct {
	Status ParcelStatus
	Search string
	UserID string
}

// CreateParcelRequest registers a parcel. ParcelID is required when no ledger mints the id.
type CreateParcelRequest struct {
	ParcelID        string          `json:"parcel_id" validate:"max=64"`
	GeometryGeoJSON json.RawMessage `json:"geometry_geojson" validate:"required"`
	AreaM2          float64         `json:"area_m2" validate:"gte=0"`
	AdminRegion     *AdminRegion    `json:"admin_region" validate:"required"`
	Status          ParcelStatus    `json:"status" validate:"required,parcel_status"`
	OwnerID         *string         `json:"owner_id"`
	Notes           *string         `json:"notes" validate:"omitempty,max=2000"`
	AssetURLs       []string        `json:"asset_url" validate:"omitempty,dive,url"`
	CertifURL       *string         `json:"certif_url" validate:"omitempty,url"`
}

// UpdateParcelRequest is a partial parcel update; nil fields are left untouched.
type UpdateParcelRequest struct {
	GeometryGeoJSON json.RawMessage `json:"geometry_geojson"`
	AreaM2          *float64        `json:"area_m2" validate:"omitempty,gte=0"`
	AdminRegion     *AdminRegion    `json:"admin_region"`
	Status          *ParcelStatus   `json:"status" validate:"omitempty,parcel_status"`
	OwnerID         *string         `json:"owner_id"`
	Notes           *string         `json:"notes" validate:"omitempty,max=2000"`
	AssetURLs       []string        `json:"asset_url" validate:"omitempty,dive,url"`
	CertifURL       *string         `json:"certif_url" validate:"omitempty,url"`
}

// SetParcelStatusRequest changes ownership status only
type SetParcelStatusRequest struct {
	Status  ParcelStatus `json:"status" validate:"required,parcel_status"`
	OwnerID *string      `json:"owner_id"`
}

// PublicListQuery filters the public map list
type PublicListQuery struct {
	Q           string `form:"q" validate:"max=100"`
	Status      string `form:"status" validate:"parcel_filter"`
	ListingType string `form:"listing_type" validate:"listing_filter"`
}

// PublicListResult is the public map payload
type PublicListResult struct {
	Parcels     []Parcel `json:"parcels"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// CreateListingRequest offers a parcel for sale or lease
type CreateListingRequest struct {
	ParcelID     string           `json:"parcel_id" validate:"required"`
	Type         ListingType      `json:"type" validate:"required,listing_type"`
	PriceKES     *decimal.Decimal `json:"price_kes" validate:"required"`
	LeasePeriod  *LeasePeriod     `json:"lease_period" validate:"omitempty,lease_period"`
	Description  *string          `json:"description" validate:"omitempty,max=5000"`
	Terms        *string          `json:"terms" validate:"omitempty,max=5000"`
	ContactPhone *string          `json:"contact_phone" validate:"omitempty,phone"`
}

// UpdateListingRequest is a partial listing update
type UpdateListingRequest struct {
	PriceKES     *decimal.Decimal `json:"price_kes"`
	LeasePeriod  *LeasePeriod     `json:"lease_period" validate:"omitempty,lease_period"`
	Description  *string          `json:"description" validate:"omitempty,max=5000"`
	Terms        *string          `json:"terms" validate:"omitempty,max=5000"`
	ContactPhone *string          `json:"contact_phone" validate:"omitempty,phone"`
	Active       *bool            `json:"active"`
}

// PurchaseRequest buys or leases a listing with an on-chain payment
type PurchaseRequest struct {
	ListingID   string `json:"listing_id"`
	PaymentHash string `json:"payment_hash"`
}

// InitiateRequest opens a two-step purchase
type InitiateRequest struct {
	ListingID string `json:"listing_id"`
}

// CompleteRequest closes a two-step purchase
type CompleteRequest struct {
	TransactionHash string `json:"transaction_hash" validate:"required,max=128"`
}

// FailRequest abandons a two-step purchase
type FailRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// ParcelSummary is the parcel block of a purchase response
type ParcelSummary struct {
	ParcelID    string      `json:"parcel_id"`
	AreaM2      float64     `json:"area_m2"`
	AdminRegion AdminRegion `json:"admin_region"`
}

// ListingSummary is the listing block of a purchase response
type ListingSummary struct {
	ID           string          `json:"id"`
	Type         ListingType     `json:"type"`
	PriceKES     decimal.Decimal `json:"price_kes"`
	SellerWallet string          `json:"seller_wallet"`
	Parcel       ParcelSummary   `json:"parcel"`
}

// TransactionResponse is returned by the purchase flow
type TransactionResponse struct {
	Transaction *Transaction   `json:"transaction"`
	Listing     ListingSummary `json:"listing"`
}

// CreateObjectionRequest files an objection against a parcel
type CreateObjectionRequest struct {
	ParcelID string `json:"parcel_id"`
	Message  string `json:"message"`
}

// UpdateObjectionStatusRequest moves an objection through review
type UpdateObjectionStatusRequest struct {
	Status ObjectionStatus `json:"status" validate:"required,objection_status"`
}

// UploadResult describes a stored file
type UploadResult struct {
	URL      string `json:"url"`
	PublicID string `json:"public_id"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Format   string `json:"format"`
}
