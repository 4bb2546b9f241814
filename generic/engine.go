package generic

// Engine bundles the services over one runtime and fee schedule.
type Engine struct {
	Runtime  *Runtime
	Bookings *BookingService
	Invoices *InvoiceService
	Switches *SwitchService
	Registry *RegistryService
}

// NewEngine wires every service. A nil fee schedule reads versions from the store.
func NewEngine(rt *Runtime, fees FeeSchedule) *Engine {
	if fees == nil {
		fees = StoredFees{Store: rt.Store}
	}
	return &Engine{
		Runtime:  rt,
		Bookings: NewBookingService(rt, fees),
		Invoices: NewInvoiceService(rt, fees),
		Switches: NewSwitchService(rt),
		Registry: NewRegistryService(rt),
	}
}
