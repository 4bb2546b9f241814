/*
Package factory provides JSON to Go fee version conversion.

PURPOSE:
  Converts JSON fee definitions into generic.FeeVersion values. Admins post
  these to the API, and config seeds use the same shape, so fee changes
  never need a code change.

JSON SCHEMA:
  {
    "kind": "hostel",
    "effective_from": "2025-01-01",
    "monthly_fee": 1500,
    "deposit": 2000,
    "tiers": [
      {"up_to_day": 10, "fee": 1500},
      {"up_to_day": 20, "fee": 1000},
      {"up_to_day": 31, "fee": 500}
    ]
  }

KEY FEATURES:
  - Resolves the kind through the registry (unknown kinds fail)
  - Amounts accept JSON numbers or strings ("1500.50")
  - Missing tiers mean every start day pays the monthly fee
  - Validates tier ordering and non-negative amounts

USAGE:
  f := factory.NewFeeFactory()
  v, err := f.ParseFeeVersion(hostel.FeeVersionJSON("2025-01-01", 1500, 2000, 1500, 1000, 500))

SEE ALSO:
  - generic/fee.go: FeeVersion and effective fee resolution
  - hostel/fees.go, library/fees.go: JSON presets
*/
package factory

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/allocation-engine/generic"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// FeeVersionJSON is the JSON representation of a fee version.
type FeeVersionJSON struct {
	Kind          string          `json:"kind"`
	EffectiveFrom string          `json:"effective_from"`
	MonthlyFee    decimal.Decimal `json:"monthly_fee"`
	Deposit       decimal.Decimal `json:"deposit"`
	Tiers         []TierJSON      `json:"tiers,omitempty"`
}

// TierJSON is one first-month fee bracket.
type TierJSON struct {
	UpToDay int             `json:"up_to_day"`
	Fee     decimal.Decimal `json:"fee"`
}

// =============================================================================
// FEE FACTORY
// =============================================================================

// FeeFactory converts JSON fee definitions to Go structs.
type FeeFactory struct{}

func NewFeeFactory() *FeeFactory {
	return &FeeFactory{}
}

// ParseFeeVersion parses a JSON string into a validated FeeVersion.
func (f *FeeFactory) ParseFeeVersion(jsonStr string) (*generic.FeeVersion, error) {
	var fj FeeVersionJSON
	if err := json.Unmarshal([]byte(jsonStr), &fj); err != nil {
		return nil, fmt.Errorf("failed to parse fee version JSON: %w", err)
	}
	return f.FromJSON(fj)
}

// FromJSON converts FeeVersionJSON to a validated generic.FeeVersion.
func (f *FeeFactory) FromJSON(fj FeeVersionJSON) (*generic.FeeVersion, error) {
	if _, err := generic.LookupKind(fj.Kind); err != nil {
		return nil, err
	}
	from, err := generic.ParseDate(fj.EffectiveFrom)
	if err != nil {
		return nil, fmt.Errorf("effective_from: %w", err)
	}
	v := &generic.FeeVersion{
		Kind:          fj.Kind,
		EffectiveFrom: from,
		MonthlyFee:    fj.MonthlyFee,
		Deposit:       fj.Deposit,
	}
	for _, t := range fj.Tiers {
		v.Tiers = append(v.Tiers, generic.FeeTier{UpToDay: t.UpToDay, Fee: t.Fee})
	}
	if err := v.Validate(); err != nil {
		return nil, err
	}
	return v, nil
}

// ToJSON converts a FeeVersion back to its JSON shape.
func (f *FeeFactory) ToJSON(v generic.FeeVersion) FeeVersionJSON {
	fj := FeeVersionJSON{
		Kind:          v.Kind,
		EffectiveFrom: v.EffectiveFrom.String(),
		MonthlyFee:    v.MonthlyFee,
		Deposit:       v.Deposit,
	}
	for _, t := range v.Tiers {
		fj.Tiers = append(fj.Tiers, TierJSON{UpToDay: t.UpToDay, Fee: t.Fee})
	}
	return fj
}
