// Package testutil provides an in-memory registry database and fakes for the
// ledger, payment, storage and event adapters.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/terrahash/landregistry/internal/database"
	"github.com/terrahash/landregistry/internal/events"
	"github.com/terrahash/landregistry/internal/ledger"
	"github.com/terrahash/landregistry/internal/payments"
	"github.com/terrahash/landregistry/internal/storage"
	"github.com/terrahash/landregistry/pkg/models"
)

// NewDB opens a migrated in-memory SQLite database private to t.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// every pooled connection would otherwise get its own empty database
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

// Wallet returns a deterministic lower-case address for n
func Wallet(n int) string {
	return fmt.Sprintf("0x%040x", n)
}

// CreateUser stores a user of the given type
func CreateUser(t *testing.T, db *gorm.DB, typ models.UserType, wallet string) *models.User {
	t.Helper()
	name := "User " + wallet[len(wallet)-4:]
	u := &models.User{ID: uuid.NewString(), Type: typ, FullName: &name, WalletAddress: wallet}
	require.NoError(t, db.Create(u).Error)
	if typ == models.UserGov {
		require.NoError(t, db.Create(&models.GovWhitelist{
			ID:     uuid.NewString(),
			UserID: u.ID,
			Status: models.WhitelistActive,
		}).Error)
	}
	return u
}

// Square returns a closed GeoJSON polygon with its south-west corner at lon/lat.
func Square(lon, lat, size float64) json.RawMessage {
	ring := [][2]float64{
		{lon, lat}, {lon + size, lat}, {lon + size, lat + size}, {lon, lat + size}, {lon, lat},
	}
	doc, _ := json.Marshal(map[string]any{
		"type":        "Polygon",
		"coordinates": [][][2]float64{ring},
	})
	return doc
}

// CreateParcel stores a parcel; a non-nil owner makes it OWNED.
func CreateParcel(t *testing.T, db *gorm.DB, id string, owner *models.User, lon, lat float64) *models.Parcel {
	t.Helper()
	p := &models.Parcel{
		ParcelID:        id,
		GeometryGeoJSON: Square(lon, lat, 0.001),
		AreaM2:          12345,
		AdminRegion:     models.AdminRegion{Country: "Kenya", State: "Nairobi", City: "Westlands"},
		Status:          models.ParcelUnclaimed,
		AssetURLs:       []string{},
	}
	if owner != nil {
		p.Status = models.ParcelOwned
		p.OwnerID = &owner.ID
	}
	require.NoError(t, db.Create(p).Error)
	return p
}

// CreateListing stores an active listing of parcel by its owner
func CreateListing(t *testing.T, db *gorm.DB, parcel *models.Parcel, typ models.ListingType, price int64) *models.Listing {
	t.Helper()
	require.NotNil(t, parcel.OwnerID, "listing needs an owned parcel")
	l := &models.Listing{
		ID:       uuid.NewString(),
		ParcelID: parcel.ParcelID,
		OwnerID:  *parcel.OwnerID,
		Type:     typ,
		PriceKES: decimal.NewFromInt(price),
		Active:   true,
	}
	if typ == models.ListingLease {
		period := models.Lease6Months
		l.LeasePeriod = &period
	}
	require.NoError(t, db.Create(l).Error)
	return l
}

// FakeLedger records ledger calls in memory. Setting Err fails every call.
type FakeLedger struct {
	mu        sync.Mutex
	Err       error
	serial    int64
	topics    int
	Metadata  map[int64][]byte
	Owners    map[int64]string
	Messages  map[string][][]byte
	Transfers []string
}

var _ ledger.Ledger = (*FakeLedger)(nil)

func NewFakeLedger() *FakeLedger {
	return &FakeLedger{
		Metadata: make(map[int64][]byte),
		Owners:   make(map[int64]string),
		Messages: make(map[string][][]byte),
	}
}

func (f *FakeLedger) fail() error {
	if f.Err != nil {
		return ledger.ErrLedger.Wrap(f.Err)
	}
	return nil
}

func (f *FakeLedger) MintParcelNFT(_ context.Context, metadata []byte, owner string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return 0, err
	}
	f.serial++
	f.Metadata[f.serial] = metadata
	f.Owners[f.serial] = owner
	return f.serial, nil
}

func (f *FakeLedger) UpdateParcelMetadata(_ context.Context, serial int64, metadata []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return err
	}
	f.Metadata[serial] = metadata
	return nil
}

func (f *FakeLedger) TransferParcelNFT(ctx context.Context, serial int64, to string) (string, error) {
	return f.TransferApprovedNFT(ctx, serial, f.TreasuryAccountID(), to)
}

func (f *FakeLedger) TransferApprovedNFT(_ context.Context, serial int64, from, to string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return "", err
	}
	f.Owners[serial] = to
	txID := fmt.Sprintf("0.0.2@1700000000.%09d", len(f.Transfers)+1)
	f.Transfers = append(f.Transfers, fmt.Sprintf("%d:%s->%s", serial, from, to))
	return txID, nil
}

func (f *FakeLedger) CreateTopic(context.Context, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return "", err
	}
	f.topics++
	return fmt.Sprintf("0.0.%d", 5000+f.topics), nil
}

func (f *FakeLedger) SubmitTopicMessage(_ context.Context, topicID string, message []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return "", err
	}
	f.Messages[topicID] = append(f.Messages[topicID], message)
	return fmt.Sprintf("0.0.2@1700000001.%09d", len(f.Messages[topicID])), nil
}

// ResolveAccountID maps a wallet onto a fake account id derived from its tail
func (f *FakeLedger) ResolveAccountID(_ context.Context, evm string) (string, error) {
	if err := f.fail(); err != nil {
		return "", err
	}
	return "0.0." + evm[len(evm)-4:], nil
}

func (f *FakeLedger) TreasuryAccountID() string { return "0.0.2" }
func (f *FakeLedger) TokenNumber() string       { return "7001" }

// MessageCount returns how many messages were sent to topicID
func (f *FakeLedger) MessageCount(topicID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Messages[topicID])
}

// FakeVerifier accepts every payment unless Err is set
type FakeVerifier struct {
	mu       sync.Mutex
	Err      error
	Payments []payments.Payment
}

var _ payments.Verifier = (*FakeVerifier)(nil)

func (f *FakeVerifier) Verify(_ context.Context, p payments.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Payments = append(f.Payments, p)
	return f.Err
}

// FakePinner hands out sequential CIDs
type FakePinner struct {
	mu   sync.Mutex
	Err  error
	Docs map[string]any
}

var _ storage.Pinner = (*FakePinner)(nil)

func (f *FakePinner) PinJSON(_ context.Context, name string, doc any) (*storage.Pinned, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, storage.ErrPin.Wrap(f.Err)
	}
	if f.Docs == nil {
		f.Docs = make(map[string]any)
	}
	f.Docs[name] = doc
	cid := fmt.Sprintf("bafyfake%03d", len(f.Docs))
	return &storage.Pinned{
		CID:        cid,
		URI:        "ipfs://" + cid,
		GatewayURL: "https://gateway.example/ipfs/" + cid,
	}, nil
}

// FakeUploader reads the whole file and reports its size as the width
type FakeUploader struct {
	Err error
}

var _ storage.Uploader = (*FakeUploader)(nil)

func (f *FakeUploader) Upload(_ context.Context, filename string, file io.Reader) (*models.UploadResult, error) {
	if f.Err != nil {
		return nil, storage.ErrUpload.Wrap(f.Err)
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	return &models.UploadResult{
		URL:      "https://res.example/hedera-parcels/" + filename,
		PublicID: "hedera-parcels/" + filename,
		Width:    len(data),
		Format:   "png",
	}, nil
}

// Recorder keeps every published event
type Recorder struct {
	mu     sync.Mutex
	Err    error
	events []events.Event
}

var _ events.Publisher = (*Recorder)(nil)

func (r *Recorder) Publish(_ context.Context, evt events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return r.Err
}

// Types lists the recorded event types in publish order
func (r *Recorder) Types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Type, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}
