package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// UserType is the role a wallet logs in with
type UserType string

const (
	UserPublic UserType = "PUBLIC"
	UserGov    UserType = "GOV"
	UserRoot   UserType = "ROOT"
)

// RootUserID identifies the virtual root administrator, which has no row.
const RootUserID = "root"

// User represents a wallet-backed account
type User struct {
	ID            string    `json:"id" gorm:"primaryKey;size:36"`
	Type          UserType  `json:"type" gorm:"size:10;not null;default:PUBLIC"`
	FullName      *string   `json:"full_name"`
	WalletAddress string    `json:"wallet_address" gorm:"size:42;uniqueIndex;not null"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// IsRoot reports whether u is the virtual root administrator
func (u *User) IsRoot() bool {
	return u != nil && u.Type == UserRoot && u.ID == RootUserID
}

// WhitelistStatus of a government account
type WhitelistStatus string

const (
	WhitelistActive  WhitelistStatus = "ACTIVE"
	WhitelistRevoked WhitelistStatus = "REVOKED"
)

// GovWhitelist grants a GOV user the right to log in
type GovWhitelist struct {
	ID        string          `json:"id" gorm:"primaryKey;size:36"`
	UserID    string          `json:"user_id" gorm:"size:36;uniqueIndex;not null"`
	User      *User           `json:"user,omitempty" gorm:"foreignKey:UserID"`
	Status    WhitelistStatus `json:"status" gorm:"size:10;not null;default:ACTIVE"`
	AddedAt   time.Time       `json:"added_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (GovWhitelist) TableName() string { return "gov_whitelist" }

// AdminRegion locates a parcel administratively
type AdminRegion struct {
	Country string `json:"country"`
	State   string `json:"state"`
	City    string `json:"city"`
}

// ParcelStatus of a land parcel
type ParcelStatus string

const (
	ParcelUnclaimed ParcelStatus = "UNCLAIMED"
	ParcelOwned     ParcelStatus = "OWNED"
)

// Valid reports whether s is a known parcel status
func (s ParcelStatus) Valid() bool {
	return s == ParcelUnclaimed || s == ParcelOwned
}

// Parcel is a registered piece of land. Status OWNED always carries an owner.
type Parcel struct {
	ParcelID        string          `json:"parcel_id" gorm:"primaryKey;size:64"`
	GeometryGeoJSON json.RawMessage `json:"geometry_geojson" gorm:"column:geometry_geojson;type:text;serializer:json;not null"`
	AreaM2          float64         `json:"area_m2"`
	AdminRegion     AdminRegion     `json:"admin_region" gorm:"type:text;serializer:json"`
	Status          ParcelStatus    `json:"status" gorm:"size:10;not null;index"`
	OwnerID         *string         `json:"owner_id" gorm:"size:36;index"`
	Owner           *User           `json:"owner,omitempty" gorm:"foreignKey:OwnerID"`
	Notes           *string         `json:"notes"`
	AssetURLs       []string        `json:"asset_url" gorm:"column:asset_url;type:text;serializer:json"`
	CertifURL       *string         `json:"certif_url"`
	NFTSerial       *int64          `json:"nft_serial"`
	TopicID         *string         `json:"topic_id" gorm:"size:32"`
	MetadataURI     *string         `json:"metadata_uri"`
	Listings        []Listing       `json:"-" gorm:"foreignKey:ParcelID;references:ParcelID"`
	Listing         *Listing        `json:"listing" gorm:"-"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// ListingType is what a seller offers
type ListingType string

const (
	ListingSale  ListingType = "SALE"
	ListingLease ListingType = "LEASE"
)

func (t ListingType) Valid() bool {
	return t == ListingSale || t == ListingLease
}

// LeasePeriod is the billing period of a lease listing
type LeasePeriod string

const (
	Lease1Month   LeasePeriod = "1_MONTH"
	Lease6Months  LeasePeriod = "6_MONTHS"
	Lease12Months LeasePeriod = "12_MONTHS"
)

func (p LeasePeriod) Valid() bool {
	switch p {
	case Lease1Month, Lease6Months, Lease12Months:
		return true
	}
	return false
}

// Listing offers an owned parcel for sale or lease. A parcel has at most one active listing.
type Listing struct {
	ID           string          `json:"id" gorm:"primaryKey;size:36"`
	ParcelID     string          `json:"parcel_id" gorm:"size:64;index;not null"`
	Parcel       *Parcel         `json:"parcel,omitempty" gorm:"foreignKey:ParcelID;references:ParcelID"`
	OwnerID      string          `json:"owner_id" gorm:"size:36;index;not null"`
	Owner        *User           `json:"owner,omitempty" gorm:"foreignKey:OwnerID"`
	Type         ListingType     `json:"type" gorm:"size:10;not null"`
	PriceKES     decimal.Decimal `json:"price_kes" gorm:"type:numeric(24,2);not null"`
	LeasePeriod  *LeasePeriod    `json:"lease_period" gorm:"size:12"`
	Description  *string         `json:"description"`
	Terms        *string         `json:"terms"`
	ContactPhone *string         `json:"contact_phone" gorm:"size:32"`
	TopicID      *string         `json:"topic_id" gorm:"size:32"`
	Active       bool            `json:"active" gorm:"not null;index"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// TransactionType mirrors the listing type that produced the transaction
type TransactionType string

const (
	TransactionPurchase TransactionType = "PURCHASE"
	TransactionLease    TransactionType = "LEASE"
)

// TransactionStatus of a purchase or lease
type TransactionStatus string

const (
	TransactionInitiated TransactionStatus = "INITIATED"
	TransactionCompleted TransactionStatus = "COMPLETED"
	TransactionFailed    TransactionStatus = "FAILED"
)

// Transaction records a purchase or lease of a listed parcel
type Transaction struct {
	ID              string            `json:"id" gorm:"primaryKey;size:36"`
	ListingID       string            `json:"listing_id" gorm:"size:36;index;not null"`
	Listing         *Listing          `json:"listing,omitempty" gorm:"foreignKey:ListingID"`
	BuyerID         string            `json:"buyer_id" gorm:"size:36;index;not null"`
	Buyer           *User             `json:"buyer,omitempty" gorm:"foreignKey:BuyerID"`
	SellerID        string            `json:"seller_id" gorm:"size:36;index;not null"`
	Seller          *User             `json:"seller,omitempty" gorm:"foreignKey:SellerID"`
	ParcelID        string            `json:"parcel_id" gorm:"size:64;index;not null"`
	Parcel          *Parcel           `json:"parcel,omitempty" gorm:"foreignKey:ParcelID;references:ParcelID"`
	Type            TransactionType   `json:"type" gorm:"size:10;not null"`
	Status          TransactionStatus `json:"status" gorm:"size:10;not null;index"`
	AmountKES       decimal.Decimal   `json:"amount_kes" gorm:"type:numeric(24,2);not null"`
	PaymentHash     *string           `json:"payment_hash" gorm:"size:80;uniqueIndex"`
	TransactionHash *string           `json:"transaction_hash" gorm:"size:80;uniqueIndex"`
	FailureReason   *string           `json:"failure_reason"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// ObjectionStatus tracks government review of an objection
type ObjectionStatus string

const (
	ObjectionPending  ObjectionStatus = "PENDING"
	ObjectionReviewed ObjectionStatus = "REVIEWED"
	ObjectionResolved ObjectionStatus = "RESOLVED"
)

func (s ObjectionStatus) Valid() bool {
	switch s {
	case ObjectionPending, ObjectionReviewed, ObjectionResolved:
		return true
	}
	return false
}

// Objection is a public complaint against a parcel record
type Objection struct {
	ID        string          `json:"id" gorm:"primaryKey;size:36"`
	ParcelID  string          `json:"parcel_id" gorm:"size:64;index;not null"`
	Parcel    *Parcel         `json:"parcel,omitempty" gorm:"foreignKey:ParcelID;references:ParcelID"`
	UserID    string          `json:"user_id" gorm:"size:36;index;not null"`
	User      *User           `json:"user,omitempty" gorm:"foreignKey:UserID"`
	Message   string          `json:"message" gorm:"type:text;not null"`
	Status    ObjectionStatus `json:"status" gorm:"size:10;not null;default:PENDING"`
	TopicID   *string         `json:"topic_id" gorm:"size:32"`
	HashTopic bool            `json:"hash_topic"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// All returns every persisted model in migration order
func All() []any {
	return []any{
		&User{},
		&GovWhitelist{},
		&Parcel{},
		&Listing{},
		&Transaction{},
		&Objection{},
	}
}
