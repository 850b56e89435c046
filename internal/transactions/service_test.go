package transactions_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/terrahash/landregistry/internal/events"
	"github.com/terrahash/landregistry/internal/payments"
	"github.com/terrahash/landregistry/internal/transactions"
	"github.com/terrahash/landregistry/pkg/errors"
	"github.com/terrahash/landregistry/pkg/models"
	"github.com/terrahash/landregistry/testutil"
)

const paymentHash = "0x8f1c2d3e4f5a6b7c8d9e0f1a2b3c4d5e6f7a8b9c0d1e2f3a4b5c6d7e8f9a0b1c"

type fixture struct {
	svc      *transactions.Service
	db       *gorm.DB
	ledger   *testutil.FakeLedger
	verifier *testutil.FakeVerifier
	recorder *testutil.Recorder
	seller   *models.User
	buyer    *models.User
	parcel   *models.Parcel
}

func setup(t *testing.T) *fixture {
	db := testutil.NewDB(t)
	f := &fixture{
		db:       db,
		ledger:   testutil.NewFakeLedger(),
		verifier: &testutil.FakeVerifier{},
		recorder: &testutil.Recorder{},
	}
	f.seller = testutil.CreateUser(t, db, models.UserPublic, testutil.Wallet(0x5e11))
	f.buyer = testutil.CreateUser(t, db, models.UserPublic, testutil.Wallet(0xb0b))
	f.parcel = testutil.CreateParcel(t, db, "PARCEL-7001-1", f.seller, 36.70, -1.30)
	serial := int64(1)
	topic := "0.0.9001"
	require.NoError(t, db.Model(f.parcel).Updates(map[string]any{"nft_serial": serial, "topic_id": topic}).Error)
	f.svc = transactions.NewService(db, transactions.Deps{
		Ledger:   f.ledger,
		Verifier: f.verifier,
		Events:   f.recorder,
	}, zap.NewNop())
	return f
}

func loadParcel(t *testing.T, db *gorm.DB, id string) models.Parcel {
	var p models.Parcel
	require.NoError(t, db.First(&p, "parcel_id = ?", id).Error)
	return p
}

func loadListing(t *testing.T, db *gorm.DB, id string) models.Listing {
	var l models.Listing
	require.NoError(t, db.First(&l, "id = ?", id).Error)
	return l
}

func TestPurchaseSale(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	listing := testutil.CreateListing(t, f.db, f.parcel, models.ListingSale, 250000)

	resp, err := f.svc.Purchase(ctx, f.buyer, &models.PurchaseRequest{ListingID: listing.ID, PaymentHash: paymentHash})
	require.NoError(t, err)

	tx := resp.Transaction
	assert.Equal(t, models.TransactionPurchase, tx.Type)
	assert.Equal(t, models.TransactionCompleted, tx.Status)
	assert.Equal(t, f.seller.ID, tx.SellerID)
	require.NotNil(t, tx.TransactionHash)
	assert.Equal(t, paymentHash, *tx.PaymentHash)
	assert.Equal(t, f.seller.WalletAddress, resp.Listing.SellerWallet)
	assert.Equal(t, "PARCEL-7001-1", resp.Listing.Parcel.ParcelID)

	require.Len(t, f.verifier.Payments, 1)
	paid := f.verifier.Payments[0]
	assert.Equal(t, paymentHash, paid.Hash)
	assert.Equal(t, f.buyer.WalletAddress, paid.From)
	assert.Equal(t, f.seller.WalletAddress, paid.To)
	assert.True(t, listing.PriceKES.Equal(paid.Amount))
	assert.Equal(t, "0.0.0b0b", f.ledger.Owners[1])

	p := loadParcel(t, f.db, "PARCEL-7001-1")
	assert.Equal(t, f.buyer.ID, *p.OwnerID)
	assert.False(t, loadListing(t, f.db, listing.ID).Active)
	assert.Equal(t, []events.Type{events.TransactionCompleted}, f.recorder.Types())
}

func TestPurchaseLeaseKeepsOwnership(t *testing.T) {
	f := setup(t)
	listing := testutil.CreateListing(t, f.db, f.parcel, models.ListingLease, 15000)

	resp, err := f.svc.Purchase(context.Background(), f.buyer, &models.PurchaseRequest{ListingID: listing.ID, PaymentHash: paymentHash})
	require.NoError(t, err)
	assert.Equal(t, models.TransactionLease, resp.Transaction.Type)

	require.Equal(t, 1, f.ledger.MessageCount("0.0.9001"))
	var record map[string]any
	require.NoError(t, json.Unmarshal(f.ledger.Messages["0.0.9001"][0], &record))
	assert.Equal(t, "LEASE", record["type"])
	assert.Equal(t, f.buyer.WalletAddress, record["lessee_wallet"])

	p := loadParcel(t, f.db, "PARCEL-7001-1")
	assert.Equal(t, f.seller.ID, *p.OwnerID)
	assert.False(t, loadListing(t, f.db, listing.ID).Active)
}

func TestPurchaseLeaseUsesListingTopic(t *testing.T) {
	f := setup(t)
	listing := testutil.CreateListing(t, f.db, f.parcel, models.ListingLease, 15000)
	require.NoError(t, f.db.Model(listing).Update("topic_id", "0.0.9500").Error)

	_, err := f.svc.Purchase(context.Background(), f.buyer, &models.PurchaseRequest{ListingID: listing.ID, PaymentHash: paymentHash})
	require.NoError(t, err)
	assert.Equal(t, 1, f.ledger.MessageCount("0.0.9500"))
	assert.Zero(t, f.ledger.MessageCount("0.0.9001"))
}

func TestPurchaseRejections(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	listing := testutil.CreateListing(t, f.db, f.parcel, models.ListingSale, 1000)

	_, err := f.svc.Purchase(ctx, f.buyer, &models.PurchaseRequest{})
	assert.ErrorIs(t, err, transactions.ErrInvalidInput)

	_, err = f.svc.Purchase(ctx, f.buyer, &models.PurchaseRequest{ListingID: "missing", PaymentHash: paymentHash})
	assert.ErrorIs(t, err, transactions.ErrListingNotFound)

	_, err = f.svc.Purchase(ctx, f.seller, &models.PurchaseRequest{ListingID: listing.ID, PaymentHash: paymentHash})
	assert.ErrorIs(t, err, transactions.ErrInvalidPurchase)

	ghost := &models.User{ID: "ghost", Type: models.UserPublic}
	_, err = f.svc.Purchase(ctx, ghost, &models.PurchaseRequest{ListingID: listing.ID, PaymentHash: paymentHash})
	assert.ErrorIs(t, err, transactions.ErrBuyerNotFound)

	_, err = f.svc.Purchase(ctx, f.buyer, &models.PurchaseRequest{ListingID: listing.ID})
	assert.Equal(t, 402, errors.HTTPStatus(err))
}

func TestPurchasePaymentNotVerified(t *testing.T) {
	f := setup(t)
	listing := testutil.CreateListing(t, f.db, f.parcel, models.ListingSale, 1000)
	f.verifier.Err = payments.ErrPaymentNotVerified.Explain("value too low")

	_, err := f.svc.Purchase(context.Background(), f.buyer, &models.PurchaseRequest{ListingID: listing.ID, PaymentHash: paymentHash})
	assert.ErrorIs(t, err, payments.ErrPaymentNotVerified)
	assert.Equal(t, 402, errors.HTTPStatus(err))
	assert.Empty(t, f.ledger.Transfers)
}

func TestPurchaseLedgerFailureWritesNothing(t *testing.T) {
	f := setup(t)
	listing := testutil.CreateListing(t, f.db, f.parcel, models.ListingSale, 1000)
	f.ledger.Err = assert.AnError

	_, err := f.svc.Purchase(context.Background(), f.buyer, &models.PurchaseRequest{ListingID: listing.ID, PaymentHash: paymentHash})
	assert.Equal(t, 502, errors.HTTPStatus(err))

	var count int64
	require.NoError(t, f.db.Model(&models.Transaction{}).Count(&count).Error)
	assert.Zero(t, count)
	assert.True(t, loadListing(t, f.db, listing.ID).Active)
}

func TestPurchasePaymentReuse(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	first := testutil.CreateListing(t, f.db, f.parcel, models.ListingSale, 1000)
	_, err := f.svc.Purchase(ctx, f.buyer, &models.PurchaseRequest{ListingID: first.ID, PaymentHash: paymentHash})
	require.NoError(t, err)

	otherSeller := testutil.CreateUser(t, f.db, models.UserPublic, testutil.Wallet(0xabc))
	parcel := testutil.CreateParcel(t, f.db, "P-2", otherSeller, 36.80, -1.30)
	second := testutil.CreateListing(t, f.db, parcel, models.ListingSale, 1000)

	_, err = f.svc.Purchase(ctx, f.buyer, &models.PurchaseRequest{ListingID: second.ID, PaymentHash: paymentHash})
	assert.ErrorIs(t, err, transactions.ErrPaymentAlreadyUsed)
	assert.Equal(t, 409, errors.HTTPStatus(err))
}

func TestPurchaseWithoutAdapters(t *testing.T) {
	db := testutil.NewDB(t)
	seller := testutil.CreateUser(t, db, models.UserPublic, testutil.Wallet(1))
	buyer := testutil.CreateUser(t, db, models.UserPublic, testutil.Wallet(2))
	parcel := testutil.CreateParcel(t, db, "P-1", seller, 36.70, -1.30)
	listing := testutil.CreateListing(t, db, parcel, models.ListingSale, 1000)
	svc := transactions.NewService(db, transactions.Deps{}, zap.NewNop())

	resp, err := svc.Purchase(context.Background(), buyer, &models.PurchaseRequest{ListingID: listing.ID})
	require.NoError(t, err)
	assert.Nil(t, resp.Transaction.PaymentHash)
	assert.Nil(t, resp.Transaction.TransactionHash)
	assert.Equal(t, buyer.ID, *loadParcel(t, db, "P-1").OwnerID)
}
