package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/terrahash/landregistry/internal/config"
	"github.com/terrahash/landregistry/pkg/errors"
)

var ErrPin = errors.BadGateway.Reason("IPFS_ERROR").Explain("Failed to pin metadata to IPFS")

// Pinned locates a JSON document on IPFS
type Pinned struct {
	CID        string `json:"cid"`
	URI        string `json:"uri"`
	GatewayURL string `json:"gateway_url"`
}

// Pinner stores JSON documents on IPFS
type Pinner interface {
	PinJSON(ctx context.Context, name string, doc any) (*Pinned, error)
}

// Pinata pins through the Pinata pinning API.
type Pinata struct {
	http    *http.Client
	baseURL string
	jwt     string
	gateway string
	logger  *zap.Logger
}

var _ Pinner = (*Pinata)(nil)

func NewPinata(cfg config.PinataConfig, logger *zap.Logger) *Pinata {
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.pinata.cloud"
	}
	return &Pinata{
		http:    &http.Client{Timeout: 30 * time.Second},
		baseURL: strings.TrimRight(base, "/"),
		jwt:     cfg.JWT,
		gateway: strings.TrimSuffix(strings.TrimPrefix(cfg.Gateway, "https://"), "/"),
		logger:  logger.Named("pinata"),
	}
}

type pinRequest struct {
	PinataContent  any `json:"pinataContent"`
	PinataMetadata struct {
		Name string `json:"name"`
	} `json:"pinataMetadata"`
}

type pinResponse struct {
	IpfsHash  string `json:"IpfsHash"`
	PinSize   int64  `json:"PinSize"`
	Timestamp string `json:"Timestamp"`
}

func (p *Pinata) PinJSON(ctx context.Context, name string, doc any) (*Pinned, error) {
	body := pinRequest{PinataContent: doc}
	body.PinataMetadata.Name = name
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/pinning/pinJSONToIPFS", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.jwt)

	resp, err := p.http.Do(req)
	if err != nil {
		p.logger.Error("Pin request failed", zap.String("name", name), zap.Error(err))
		return nil, ErrPin.Wrap(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		p.logger.Error("Pin rejected", zap.String("name", name), zap.Int("status", resp.StatusCode), zap.ByteString("body", msg))
		return nil, ErrPin.Explain("Pinata returned %d", resp.StatusCode)
	}

	var out pinResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, ErrPin.Wrap(err)
	}
	if out.IpfsHash == "" {
		return nil, ErrPin.Explain("Pinata returned no CID")
	}
	return &Pinned{
		CID:        out.IpfsHash,
		URI:        "ipfs://" + out.IpfsHash,
		GatewayURL: fmt.Sprintf("https://%s/ipfs/%s", p.gateway, out.IpfsHash),
	}, nil
}
