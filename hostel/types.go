/*
Package hostel binds hostel beds to the generic allocation engine.

PURPOSE:
  Beds are the bookable unit; rooms group them. A student holds at most one
  pending or approved bed booking at a time.

FEES (defaults, overridable by stored fee versions):
  Monthly fee 1500, deposit 2000.
  First month by start day: 1-10 -> 1500, 11-20 -> 1000, 21-31 -> 500.

INVOICES:
  Numbered INV-HO-{YYYYMM}-{booking}.

SEE ALSO:
  - library/: the other registered kind
  - generic/resource.go: ResourceKind
*/
package hostel

import (
	"github.com/warp/allocation-engine/generic"
)

// =============================================================================
// HOSTEL RESOURCE KIND
// =============================================================================

// ID is the kind id stored on hostel resources, bookings and invoices.
const ID = "hostel"

type kind struct{}

func (kind) KindID() string        { return ID }
func (kind) UnitNoun() string      { return "bed" }
func (kind) InvoicePrefix() string { return "HO" }

// No other booking waives the hostel deposit.
func (kind) DepositWaivers() []string { return nil }

func (kind) DefaultFees() generic.FeeVersion {
	return generic.FeeVersion{
		Kind:          ID,
		EffectiveFrom: generic.NewDate(2000, 1, 1),
		MonthlyFee:    generic.Money(1500),
		Deposit:       generic.Money(2000),
		Tiers: []generic.FeeTier{
			{UpToDay: 10, Fee: generic.Money(1500)},
			{UpToDay: 20, Fee: generic.Money(1000)},
			{UpToDay: 31, Fee: generic.Money(500)},
		},
	}
}

// Kind is the registered hostel kind.
var Kind generic.ResourceKind = kind{}

func init() {
	generic.RegisterKind(Kind)
}
