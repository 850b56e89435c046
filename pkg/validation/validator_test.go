package validation_test

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/terrahash/landregistry/pkg/errors"
	"github.com/terrahash/landregistry/pkg/models"
	"github.com/terrahash/landregistry/pkg/validation"
)

func TestNormalizeWallet(t *testing.T) {
	got, err := validation.NormalizeWallet(" 0xABCDEFabcdefABCDEFabcdefABCDEFabcdefABCD ")
	require.NoError(t, err)
	assert.Equal(t, "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd", got)

	for _, bad := range []string{"", "0x123", "abcdefabcdefabcdefabcdefabcdefabcdefabcd", "0xZZCDEFabcdefABCDEFabcdefABCDEFabcdefABCD"} {
		_, err := validation.NormalizeWallet(bad)
		assert.Error(t, err, bad)
	}
}

func TestSanitize(t *testing.T) {
	v := validation.NewValidator(zap.NewNop())
	assert.Equal(t, "Quiet plot near river", v.Sanitize("<script>alert(1)</script>Quiet plot <b>near</b> river"))
	assert.Nil(t, v.SanitizePtr(nil))
	blank := "<p></p>"
	assert.Nil(t, v.SanitizePtr(&blank))
}

func TestSanitizeKeepsPlainText(t *testing.T) {
	v := validation.NewValidator(zap.NewNop())
	cases := []struct {
		in, want string
	}{
		{`The fence isn't where the "survey" & title say`, `The fence isn't where the "survey" & title say`},
		{"Plot 5 < plot 6 by area", "Plot 5 < plot 6 by area"},
		{"Owner's <i>signed</i> deed", "Owner's signed deed"},
		{"&lt;b&gt;bold&lt;/b&gt; claim", "bold claim"},
		{"  padded  ", "padded"},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got := v.Sanitize(tc.in)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, got, v.Sanitize(got))
		})
	}

	long := strings.Repeat(`"it's `, 166) + "done"
	assert.True(t, validation.LengthBetween(v.Sanitize(long), 10, 1000))
}

func TestNormalizePhone(t *testing.T) {
	got, err := validation.NormalizePhone("+254 712-345 678")
	require.NoError(t, err)
	assert.Equal(t, "+254712345678", got)

	_, err = validation.NormalizePhone("call me")
	assert.Error(t, err)
}

func TestLengthBetween(t *testing.T) {
	assert.True(t, validation.LengthBetween("Jo", 2, 100))
	assert.False(t, validation.LengthBetween(" J ", 2, 100))
	assert.True(t, validation.LengthBetween("Ñandú", 5, 5))
}

func TestValidateStruct(t *testing.T) {
	v := validation.NewValidator(zap.NewNop())
	price := decimal.NewFromInt(1000)
	period := models.LeasePeriod("2_YEARS")
	phone := "call me"

	ok := &models.CreateListingRequest{ParcelID: "P-1", Type: models.ListingSale, PriceKES: &price}
	assert.NoError(t, v.ValidateStruct(ok))

	err := v.ValidateStruct(&models.CreateListingRequest{
		ParcelID:     "P-1",
		Type:         "RENT",
		LeasePeriod:  &period,
		ContactPhone: &phone,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, validation.ErrValidation)
	assert.Equal(t, 400, errors.HTTPStatus(err))

	var verr *errors.Error
	require.ErrorAs(t, err, &verr)
	kinds := map[string]string{}
	for _, f := range verr.Fields {
		kinds[f.Field] = f.Kind
	}
	assert.Equal(t, map[string]string{
		"type":          "listing_type",
		"price_kes":     "required",
		"lease_period":  "lease_period",
		"contact_phone": "phone",
	}, kinds)
	assert.Equal(t, "type must be SALE or LEASE", verr.Message)
}

func TestValidateQueryFilters(t *testing.T) {
	v := validation.NewValidator(zap.NewNop())
	assert.NoError(t, v.ValidateStruct(&models.PublicListQuery{}))
	assert.NoError(t, v.ValidateStruct(&models.PublicListQuery{Status: "owned", ListingType: "Lease"}))
	assert.NoError(t, v.ValidateStruct(&models.PublicListQuery{Status: "ALL", ListingType: "ALL"}))
	assert.Error(t, v.ValidateStruct(&models.PublicListQuery{Status: "SOLD"}))
	assert.Error(t, v.ValidateStruct(&models.PublicListQuery{ListingType: "RENT"}))
}
