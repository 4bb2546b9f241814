/*
Package library binds library seats to the generic allocation engine.

PURPOSE:
  Seats are the bookable unit. A student holds at most one pending or
  approved seat booking at a time.

FEES (defaults, overridable by stored fee versions):
  Monthly fee 600, deposit 500.
  First month by start day: 1-15 -> 600, 16-31 -> 300.
  The deposit is waived while the student holds a pending or approved
  hostel booking.

INVOICES:
  Numbered INV-LI-{YYYYMM}-{booking}.

SEE ALSO:
  - hostel/: the kind whose bookings waive the seat deposit
*/
package library

import (
	"github.com/warp/allocation-engine/generic"
	"github.com/warp/allocation-engine/hostel"
)

// ID is the kind id stored on library resources, bookings and invoices.
const ID = "library"

type kind struct{}

func (kind) KindID() string           { return ID }
func (kind) UnitNoun() string         { return "seat" }
func (kind) InvoicePrefix() string    { return "LI" }
func (kind) DepositWaivers() []string { return []string{hostel.ID} }

func (kind) DefaultFees() generic.FeeVersion {
	return generic.FeeVersion{
		Kind:          ID,
		EffectiveFrom: generic.NewDate(2000, 1, 1),
		MonthlyFee:    generic.Money(600),
		Deposit:       generic.Money(500),
		Tiers: []generic.FeeTier{
			{UpToDay: 15, Fee: generic.Money(600)},
			{UpToDay: 31, Fee: generic.Money(300)},
		},
	}
}

// Kind is the registered library kind.
var Kind generic.ResourceKind = kind{}

func init() {
	generic.RegisterKind(Kind)
}
