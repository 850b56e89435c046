// Package ledger records parcel ownership on Hedera: one NFT per parcel, and
// consensus topics for objections and lease records.
package ledger

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/terrahash/landregistry/pkg/errors"
	"github.com/terrahash/landregistry/pkg/models"
)

var ErrLedger = errors.BadGateway.Reason("LEDGER_ERROR").Explain("Ledger operation failed")

// Ledger is the subset of Hedera the registry uses. Account arguments are
// Hedera account ids ("0.0.1234").
type Ledger interface {
	// MintParcelNFT mints one serial carrying metadata and moves it to owner
	// unless owner is the treasury.
	MintParcelNFT(ctx context.Context, metadata []byte, owner string) (int64, error)
	UpdateParcelMetadata(ctx context.Context, serial int64, metadata []byte) error
	// TransferParcelNFT moves a serial out of the treasury.
	TransferParcelNFT(ctx context.Context, serial int64, to string) (string, error)
	// TransferApprovedNFT spends the seller's allowance to move a serial to the buyer.
	TransferApprovedNFT(ctx context.Context, serial int64, from, to string) (string, error)
	CreateTopic(ctx context.Context, memo string) (string, error)
	SubmitTopicMessage(ctx context.Context, topicID string, message []byte) (string, error)
	// ResolveAccountID maps an EVM wallet address to its Hedera account id.
	ResolveAccountID(ctx context.Context, evmAddress string) (string, error)
	TreasuryAccountID() string
	// TokenNumber is the last component of the NFT token id.
	TokenNumber() string
}

// HIP412 is the NFT metadata document pinned for every parcel.
type HIP412 struct {
	Format      string          `json:"format"`
	Name        string          `json:"name"`
	Creator     string          `json:"creator"`
	Description string          `json:"description"`
	Image       string          `json:"image,omitempty"`
	Type        string          `json:"type,omitempty"`
	Files       []HIP412File    `json:"files"`
	Attributes  []HIP412Trait   `json:"attributes"`
	Properties  json.RawMessage `json:"properties,omitempty"`
}

type HIP412File struct {
	URI           string `json:"uri"`
	Type          string `json:"type"`
	IsDefaultFile bool   `json:"is_default_file"`
}

type HIP412Trait struct {
	TraitType string `json:"trait_type"`
	Value     any    `json:"value"`
}

// ParcelMetadata builds the HIP-412 document describing p.
func ParcelMetadata(name string, p *models.Parcel, geometryType string) HIP412 {
	desc := "No description provided"
	if p.Notes != nil && *p.Notes != "" {
		desc = *p.Notes
	}
	meta := HIP412{
		Format:      "HIP412@2.0.0",
		Name:        name,
		Creator:     "Gov.terrahash",
		Description: desc,
		Files:       []HIP412File{},
		Attributes: []HIP412Trait{
			{TraitType: "Country", Value: p.AdminRegion.Country},
			{TraitType: "State", Value: p.AdminRegion.State},
			{TraitType: "City", Value: p.AdminRegion.City},
			{TraitType: "Area (m²)", Value: p.AreaM2},
			{TraitType: "GeoPoint Type", Value: geometryType},
		},
		Properties: p.GeometryGeoJSON,
	}
	if p.CertifURL != nil && *p.CertifURL != "" {
		meta.Image = *p.CertifURL
		meta.Type = mimeType(*p.CertifURL)
	}
	for i, u := range p.AssetURLs {
		meta.Files = append(meta.Files, HIP412File{URI: u, Type: mimeType(u), IsDefaultFile: i == 0})
	}
	return meta
}

func mimeType(url string) string {
	switch {
	case strings.HasSuffix(strings.ToLower(url), ".png"):
		return "image/png"
	case strings.HasSuffix(strings.ToLower(url), ".pdf"):
		return "application/pdf"
	default:
		return "image/jpeg"
	}
}
