package generic

// =============================================================================
// ACTOR AND CAPABILITIES
// =============================================================================

// Actor is the caller of a core operation, as asserted by the identity provider.
type Actor struct {
	ID   UserID
	Role Role
}

// SystemActor runs scheduled sweeps.
var SystemActor = Actor{ID: 0, Role: RoleSystem}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// Capability names one permission checked at the start of an operation.
type Capability string

const (
	CapManageRegistry  Capability = "manage_registry"
	CapManageFees      Capability = "manage_fees"
	CapManageUsers     Capability = "manage_users"
	CapViewAll         Capability = "view_all"
	CapCreateBooking   Capability = "create_booking"
	CapDecideBooking   Capability = "decide_booking"
	CapCancelBooking   Capability = "cancel_booking"
	CapScheduleMoveOut Capability = "schedule_move_out"
	CapGenerateInvoice Capability = "generate_invoice"
	CapBulkInvoice     Capability = "bulk_invoice"
	CapMarkPaid        Capability = "mark_paid"
	CapRunSweeps       Capability = "run_sweeps"
	CapRequestSwitch   Capability = "request_switch"
	CapDecideSwitch    Capability = "decide_switch"
	CapCancelSwitch    Capability = "cancel_switch"
)

var capabilityRoles = map[Capability][]Role{
	CapManageRegistry:  {RoleAdmin},
	CapManageFees:      {RoleAdmin},
	CapManageUsers:     {RoleAdmin},
	CapViewAll:         {RoleAdmin, RoleSystem},
	CapCreateBooking:   {RoleStudent},
	CapDecideBooking:   {RoleAdmin},
	CapCancelBooking:   {RoleAdmin, RoleStudent},
	CapScheduleMoveOut: {RoleAdmin},
	CapGenerateInvoice: {RoleAdmin, RoleStudent},
	CapBulkInvoice:     {RoleAdmin, RoleSystem},
	CapMarkPaid:        {RoleAdmin},
	CapRunSweeps:       {RoleAdmin, RoleSystem},
	CapRequestSwitch:   {RoleStudent},
	CapDecideSwitch:    {RoleAdmin},
	CapCancelSwitch:    {RoleAdmin, RoleStudent},
}

// Authorize fails with ErrForbidden unless the actor's role holds the capability.
func Authorize(actor Actor, c Capability) error {
	for _, r := range capabilityRoles[c] {
		if r == actor.Role {
			return nil
		}
	}
	return newError(ErrForbidden, "%s may not %s", roleName(actor.Role), c)
}

// AuthorizeOwner is Authorize plus ownership: students act only on their own
// records, admins and the system on any.
func AuthorizeOwner(actor Actor, c Capability, owner UserID) error {
	if err := Authorize(actor, c); err != nil {
		return err
	}
	if actor.Role == RoleStudent && actor.ID != owner {
		return newError(ErrForbidden, "students may only %s on their own records", c)
	}
	return nil
}

func roleName(r Role) string {
	if r == "" {
		return "anonymous"
	}
	return string(r)
}
