package factory_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/allocation-engine/factory"
	"github.com/warp/allocation-engine/generic"
	"github.com/warp/allocation-engine/hostel"
	"github.com/warp/allocation-engine/library"
)

func TestParseFeeVersion_HostelPreset(t *testing.T) {
	f := factory.NewFeeFactory()

	v, err := f.ParseFeeVersion(hostel.FeeVersionJSON("2025-01-01", 1500, 2000, 1500, 1000, 500))
	require.NoError(t, err)

	assert.Equal(t, hostel.ID, v.Kind)
	assert.Equal(t, "2025-01-01", v.EffectiveFrom.String())
	require.Len(t, v.Tiers, 3)
	assert.True(t, generic.Money(1500).Equal(v.TierFee(5)))
	assert.True(t, generic.Money(500).Equal(v.TierFee(25)))
	assert.True(t, generic.Money(2000).Equal(v.Deposit))
}

func TestParseFeeVersion_StringAmountsAndNoTiers(t *testing.T) {
	f := factory.NewFeeFactory()

	v, err := f.ParseFeeVersion(`{"kind":"library","effective_from":"2025-06-01","monthly_fee":"650.50","deposit":"0"}`)
	require.NoError(t, err)

	assert.Equal(t, "650.5", v.MonthlyFee.String())
	assert.Empty(t, v.Tiers)
	assert.True(t, v.MonthlyFee.Equal(v.TierFee(20)), "no tiers means the monthly fee")
}

func TestParseFeeVersion_Errors(t *testing.T) {
	f := factory.NewFeeFactory()

	tests := []struct {
		name    string
		json    string
		wantErr error
	}{
		{"unknown kind", `{"kind":"gym","effective_from":"2025-01-01","monthly_fee":1,"deposit":1}`, generic.ErrUnknownKind},
		{"descending tiers", `{"kind":"hostel","effective_from":"2025-01-01","monthly_fee":1,"deposit":1,"tiers":[{"up_to_day":20,"fee":1},{"up_to_day":10,"fee":1}]}`, generic.ErrValidation},
		{"negative deposit", `{"kind":"hostel","effective_from":"2025-01-01","monthly_fee":1,"deposit":-5}`, generic.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ParseFeeVersion(tt.json)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err := f.ParseFeeVersion(`{"kind":"hostel","effective_from":"01/01/2025","monthly_fee":1,"deposit":1}`)
	assert.ErrorContains(t, err, "effective_from")
	_, err = f.ParseFeeVersion(`{not json`)
	assert.Error(t, err)
}

func TestToJSON_RoundTripsPreset(t *testing.T) {
	f := factory.NewFeeFactory()
	v, err := f.ParseFeeVersion(library.FeeVersionJSON("2025-01-01", 600, 500, 600, 300))
	require.NoError(t, err)

	fj := f.ToJSON(*v)
	again, err := f.FromJSON(fj)
	require.NoError(t, err)

	assert.Equal(t, "2025-01-01", fj.EffectiveFrom)
	require.Len(t, fj.Tiers, 2)
	assert.Equal(t, 15, fj.Tiers[0].UpToDay)
	assert.True(t, v.MonthlyFee.Equal(again.MonthlyFee))
	assert.Equal(t, len(v.Tiers), len(again.Tiers))
}
