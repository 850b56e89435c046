// Package storage uploads parcel documents to Cloudinary and pins NFT metadata to IPFS.
package storage

import (
	"context"
	"io"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"go.uber.org/zap"

	"github.com/terrahash/landregistry/internal/config"
	"github.com/terrahash/landregistry/pkg/errors"
	"github.com/terrahash/landregistry/pkg/models"
)

var ErrUpload = errors.Internal.Reason("UPLOAD_ERROR").Explain("Failed to upload file")

// Uploader stores a user supplied file and returns where it lives
type Uploader interface {
	Upload(ctx context.Context, filename string, file io.Reader) (*models.UploadResult, error)
}

// Cloudinary uploads into a single folder with automatic resource type detection.
type Cloudinary struct {
	cld    *cloudinary.Cloudinary
	folder string
	logger *zap.Logger
}

var _ Uploader = (*Cloudinary)(nil)

func NewCloudinary(cfg config.CloudinaryConfig, logger *zap.Logger) (*Cloudinary, error) {
	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, err
	}
	cld.Config.URL.Secure = true
	folder := cfg.Folder
	if folder == "" {
		folder = "hedera-parcels"
	}
	return &Cloudinary{cld: cld, folder: folder, logger: logger.Named("cloudinary")}, nil
}

func (c *Cloudinary) Upload(ctx context.Context, filename string, file io.Reader) (*models.UploadResult, error) {
	resp, err := c.cld.Upload.Upload(ctx, file, uploader.UploadParams{
		Folder:         c.folder,
		ResourceType:   "auto",
		UseFilename:    boolPtr(true),
		UniqueFilename: boolPtr(true),
	})
	if err != nil {
		c.logger.Error("Upload failed", zap.String("filename", filename), zap.Error(err))
		return nil, ErrUpload.Wrap(err)
	}
	if resp.Error.Message != "" {
		c.logger.Error("Upload rejected", zap.String("filename", filename), zap.String("reason", resp.Error.Message))
		return nil, ErrUpload.Explain("Upload rejected: %s", resp.Error.Message)
	}
	return &models.UploadResult{
		URL:      resp.SecureURL,
		PublicID: resp.PublicID,
		Width:    resp.Width,
		Height:   resp.Height,
		Format:   resp.Format,
	}, nil
}

func boolPtr(b bool) *bool { return &b }
