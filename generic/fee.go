package generic

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// FEE VERSIONS - Versioned fee config per kind
// =============================================================================

// FeeTier prices a first month by the day of month the booking starts.
// A tier applies to start days <= UpToDay.
type FeeTier struct {
	UpToDay int             `json:"up_to_day"`
	Fee     decimal.Decimal `json:"fee"`
}

// FeeVersion is the fee config effective from a date onward.
type FeeVersion struct {
	ID            int64
	Kind          string
	EffectiveFrom Date
	MonthlyFee    decimal.Decimal
	Deposit       decimal.Decimal
	Tiers         []FeeTier // ascending UpToDay
	CreatedAt     time.Time
}

// TierFee returns the first-month fee for a booking starting on day.
// Falls back to the monthly fee when no tier covers the day.
func (v FeeVersion) TierFee(day int) decimal.Decimal {
	for _, t := range v.Tiers {
		if day <= t.UpToDay {
			return t.Fee
		}
	}
	return v.MonthlyFee
}

// Validate checks tiers are ascending and amounts non-negative.
func (v FeeVersion) Validate() error {
	if v.MonthlyFee.IsNegative() || v.Deposit.IsNegative() {
		return newError(ErrValidation, "fees must not be negative")
	}
	if v.EffectiveFrom.IsZero() {
		return newError(ErrValidation, "effective_from is required")
	}
	last := 0
	for _, t := range v.Tiers {
		if t.UpToDay <= last || t.UpToDay > 31 {
			return newError(ErrValidation, "fee tiers must ascend by day within 1..31, got %d after %d", t.UpToDay, last)
		}
		if t.Fee.IsNegative() {
			return newError(ErrValidation, "tier fee must not be negative")
		}
		last = t.UpToDay
	}
	return nil
}

// FeeSchedule resolves the fee version in force for a kind on a date.
type FeeSchedule interface {
	EffectiveFee(ctx context.Context, kind string, asOf Date) (FeeVersion, error)
}

// FeeVersionLister is the slice of Store a StoredFees schedule reads.
type FeeVersionLister interface {
	ListFeeVersions(ctx context.Context, kind string) ([]FeeVersion, error)
}

// StoredFees reads versions from a store: latest effective_from <= asOf,
// the kind's defaults when nothing is stored yet.
type StoredFees struct {
	Store FeeVersionLister
}

func (s StoredFees) EffectiveFee(ctx context.Context, kind string, asOf Date) (FeeVersion, error) {
	k, err := LookupKind(kind)
	if err != nil {
		return FeeVersion{}, err
	}
	versions, err := s.Store.ListFeeVersions(ctx, kind)
	if err != nil {
		return FeeVersion{}, fmt.Errorf("list fee versions: %w", err)
	}
	if v, ok := effectiveVersion(versions, asOf); ok {
		return v, nil
	}
	return k.DefaultFees(), nil
}

func effectiveVersion(versions []FeeVersion, asOf Date) (FeeVersion, bool) {
	sorted := append([]FeeVersion(nil), versions...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].EffectiveFrom.After(sorted[j].EffectiveFrom)
	})
	for _, v := range sorted {
		if v.EffectiveFrom.BeforeOrEqual(asOf) {
			return v, true
		}
	}
	return FeeVersion{}, false
}
