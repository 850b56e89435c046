package parcels_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/terrahash/landregistry/internal/parcels"
	"github.com/terrahash/landregistry/pkg/models"
	"github.com/terrahash/landregistry/testutil"
)

func ids(ps []models.Parcel) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.ParcelID)
	}
	return out
}

func TestPublicListFilters(t *testing.T) {
	f := setup(t, false)
	ctx := context.Background()
	seller := testutil.CreateUser(t, f.db, models.UserPublic, testutil.Wallet(21))
	lessor := testutil.CreateUser(t, f.db, models.UserPublic, testutil.Wallet(22))

	testutil.CreateParcel(t, f.db, "KE-UNCLAIMED", nil, 36.70, -1.30)
	forSale := testutil.CreateParcel(t, f.db, "KE-SALE", seller, 36.71, -1.30)
	forLease := testutil.CreateParcel(t, f.db, "KE-LEASE", lessor, 36.72, -1.30)
	testutil.CreateListing(t, f.db, forSale, models.ListingSale, 1000)
	testutil.CreateListing(t, f.db, forLease, models.ListingLease, 50)

	res, err := f.svc.PublicList(ctx, models.PublicListQuery{})
	require.NoError(t, err)
	assert.Len(t, res.Parcels, 3)

	res, err = f.svc.PublicList(ctx, models.PublicListQuery{Status: "owned", ListingType: "sale"})
	require.NoError(t, err)
	assert.Equal(t, []string{"KE-SALE"}, ids(res.Parcels))

	// listing type is ignored unless status is OWNED
	res, err = f.svc.PublicList(ctx, models.PublicListQuery{Status: "ALL", ListingType: "LEASE"})
	require.NoError(t, err)
	assert.Len(t, res.Parcels, 3)

	res, err = f.svc.PublicList(ctx, models.PublicListQuery{Q: "westlands"})
	require.NoError(t, err)
	assert.Len(t, res.Parcels, 3)
	assert.Empty(t, res.Suggestions)

	_, err = f.svc.PublicList(ctx, models.PublicListQuery{Status: "SOLD"})
	assert.ErrorIs(t, err, parcels.ErrInvalidFilter)
}

func TestPublicListSuggestions(t *testing.T) {
	f := setup(t, false)
	for i, id := range []string{"PARCEL-7001-1", "PARCEL-7001-2", "PARCEL-7001-3", "PARCEL-7001-4", "PARCEL-7001-5", "PARCEL-7001-6", "ZZZ"} {
		testutil.CreateParcel(t, f.db, id, nil, 36.0+float64(i)*0.01, -1.30)
	}

	res, err := f.svc.PublicList(context.Background(), models.PublicListQuery{Q: "parcel-7001-9"})
	require.NoError(t, err)
	assert.Empty(t, res.Parcels)
	require.Len(t, res.Suggestions, 5)
	assert.Equal(t, "PARCEL-7001-1", res.Suggestions[0])
	assert.NotContains(t, res.Suggestions, "ZZZ")
}

// versionedCache keeps entries in memory; beforeSet runs ahead of each write.
type versionedCache struct {
	mu        sync.Mutex
	version   int64
	entries   map[string][]byte
	beforeSet func()
}

func (c *versionedCache) Version(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version, nil
}

func (c *versionedCache) Get(_ context.Context, version int64, key string, dst any) (bool, error) {
	c.mu.Lock()
	data, ok := c.entries[fmt.Sprintf("%d:%s", version, key)]
	c.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, dst)
}

func (c *versionedCache) Set(_ context.Context, version int64, key string, v any) error {
	if c.beforeSet != nil {
		hook := c.beforeSet
		c.beforeSet = nil
		hook()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = map[string][]byte{}
	}
	c.entries[fmt.Sprintf("%d:%s", version, key)] = data
	return nil
}

func (c *versionedCache) Invalidate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.version++
	return nil
}

func TestPublicListCache(t *testing.T) {
	db := testutil.NewDB(t)
	lists := &versionedCache{}
	svc := parcels.NewService(db, parcels.Deps{Cache: lists}, zap.NewNop())
	ctx := context.Background()
	testutil.CreateParcel(t, db, "KE-1", nil, 36.70, -1.30)

	res, err := svc.PublicList(ctx, models.PublicListQuery{})
	require.NoError(t, err)
	assert.Equal(t, []string{"KE-1"}, ids(res.Parcels))

	// served from the cache until the next invalidation
	testutil.CreateParcel(t, db, "KE-2", nil, 36.71, -1.30)
	res, err = svc.PublicList(ctx, models.PublicListQuery{})
	require.NoError(t, err)
	assert.Equal(t, []string{"KE-1"}, ids(res.Parcels))

	require.NoError(t, lists.Invalidate(ctx))
	res, err = svc.PublicList(ctx, models.PublicListQuery{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"KE-1", "KE-2"}, ids(res.Parcels))
}

func TestPublicListResultOutlivedByInvalidation(t *testing.T) {
	db := testutil.NewDB(t)
	lists := &versionedCache{}
	svc := parcels.NewService(db, parcels.Deps{Cache: lists}, zap.NewNop())
	ctx := context.Background()
	testutil.CreateParcel(t, db, "KE-1", nil, 36.70, -1.30)

	// a parcel write lands after the list was read but before it is cached
	lists.beforeSet = func() {
		testutil.CreateParcel(t, db, "KE-2", nil, 36.71, -1.30)
		require.NoError(t, lists.Invalidate(ctx))
	}
	res, err := svc.PublicList(ctx, models.PublicListQuery{})
	require.NoError(t, err)
	assert.Equal(t, []string{"KE-1"}, ids(res.Parcels))

	res, err = svc.PublicList(ctx, models.PublicListQuery{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"KE-1", "KE-2"}, ids(res.Parcels))
}
