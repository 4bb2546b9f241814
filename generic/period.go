package generic

// =============================================================================
// BILLING CYCLE - The calendar month an invoice covers
// =============================================================================

// InvoiceWindowDays is how many days before a cycle ends the next invoice
// may be generated. A cycle ending on the 30th opens on the 28th.
const InvoiceWindowDays = 2

// PaymentWindowDays is how long after the invoice month starts a payment
// keeps an invoice settled. Past it the unpaid sweep flags the invoice.
const PaymentWindowDays = 30

// BillingCycle is the [Start, End] calendar month of one invoice.
type BillingCycle struct {
	Start Date
	End   Date
}

// CycleOf returns the billing cycle containing d.
func CycleOf(d Date) BillingCycle {
	return BillingCycle{Start: StartOfMonth(d), End: EndOfMonth(d)}
}

// Contains returns true if d is within the cycle [Start, End].
func (c BillingCycle) Contains(d Date) bool {
	return d.AfterOrEqual(c.Start) && d.BeforeOrEqual(c.End)
}

// DaysLeft returns the days from today to the cycle's last day.
// Negative once the cycle is over.
func (c BillingCycle) DaysLeft(today Date) int {
	return DaysBetween(today, c.End)
}

// InWindow reports whether the next cycle may be invoiced on today.
func (c BillingCycle) InWindow(today Date) bool {
	return c.DaysLeft(today) <= InvoiceWindowDays
}

// WindowOpens is the first day of the cycle's invoice window.
func (c BillingCycle) WindowOpens() Date {
	return c.End.AddDays(-InvoiceWindowDays)
}

// Next returns the following month's cycle.
func (c BillingCycle) Next() BillingCycle {
	return CycleOf(c.Start.AddMonths(1))
}

// PaymentLapsed reports whether the payment window of the invoice month has passed.
func PaymentLapsed(month, today Date) bool {
	return today.After(month.AddDays(PaymentWindowDays))
}

func (c BillingCycle) String() string {
	return "[" + c.Start.String() + ", " + c.End.String() + "]"
}
