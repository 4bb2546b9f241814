/*
registry.go - Resource registry, live map, users and fee versions

PURPOSE:
  Administrative side of the engine:
  1. Groups (rooms) and resources (beds, seats), with a delete guard
  2. Live map: what every resource of a kind looks like right now
  3. Occupancy audit: resources whose is_booked flag disagrees with
     the approved bookings referencing them
  4. Local user directory for notification addressing
  5. Versioned fee configuration

SEE ALSO:
  - fee.go: effective fee resolution
*/
package generic

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// RegistryService manages resources, users and fee versions.
type RegistryService struct {
	*Runtime
}

func NewRegistryService(rt *Runtime) *RegistryService {
	return &RegistryService{Runtime: rt}
}

// =============================================================================
// GROUPS AND RESOURCES
// =============================================================================

// CreateGroup adds a parent group such as a hostel room.
func (s *RegistryService) CreateGroup(ctx context.Context, actor Actor, kind, label string) (*ResourceGroup, error) {
	if err := Authorize(actor, CapManageRegistry); err != nil {
		return nil, err
	}
	if _, err := LookupKind(kind); err != nil {
		return nil, err
	}
	label = strings.TrimSpace(label)
	if label == "" {
		return nil, newError(ErrValidation, "label is required")
	}

	g := &ResourceGroup{Kind: kind, Label: label}
	err := s.commit(ctx, func(tx Store, fx *Effects) error {
		existing, err := tx.ListGroups(ctx, kind)
		if err != nil {
			return fmt.Errorf("list groups: %w", err)
		}
		for _, e := range existing {
			if e.Label == label {
				return newError(ErrConflict, "%s group %q already exists", kind, label)
			}
		}
		g.CreatedAt = fx.now
		return tx.SaveGroup(ctx, g)
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

// CreateResource adds a bookable unit, optionally inside a group of the same kind.
func (s *RegistryService) CreateResource(ctx context.Context, actor Actor, kind, label string, group *GroupID) (*Resource, error) {
	if err := Authorize(actor, CapManageRegistry); err != nil {
		return nil, err
	}
	k, err := LookupKind(kind)
	if err != nil {
		return nil, err
	}
	label = strings.TrimSpace(label)
	if label == "" {
		return nil, newError(ErrValidation, "label is required")
	}

	r := &Resource{Kind: kind, Label: label, Group: group}
	err = s.commit(ctx, func(tx Store, fx *Effects) error {
		if group != nil {
			groups, err := tx.ListGroups(ctx, kind)
			if err != nil {
				return fmt.Errorf("list groups: %w", err)
			}
			found := false
			for _, g := range groups {
				if g.ID == *group {
					found = true
					break
				}
			}
			if !found {
				return newError(ErrNotFound, "%s group %d not found", kind, *group)
			}
		}
		existing, err := tx.ListResources(ctx, kind)
		if err != nil {
			return fmt.Errorf("list resources: %w", err)
		}
		for _, e := range existing {
			if e.Label == label && sameGroup(e.Group, group) {
				return newError(ErrConflict, "%s %q already exists", k.UnitNoun(), label)
			}
		}
		r.CreatedAt = fx.now
		return tx.SaveResource(ctx, r)
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

func sameGroup(a, b *GroupID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// DeleteResource removes a resource no pending or approved booking references.
func (s *RegistryService) DeleteResource(ctx context.Context, actor Actor, id ResourceID) error {
	if err := Authorize(actor, CapManageRegistry); err != nil {
		return err
	}
	return s.commit(ctx, func(tx Store, fx *Effects) error {
		res, err := loadResource(ctx, tx, id)
		if err != nil {
			return err
		}
		active, err := tx.FindBookings(ctx, BookingFilter{Resource: &id, Statuses: ActiveStatuses})
		if err != nil {
			return fmt.Errorf("find bookings: %w", err)
		}
		if len(active) > 0 || res.IsBooked {
			return newError(ErrConflict, "%s %s has active bookings", res.Kind, res.Label)
		}
		return tx.DeleteResource(ctx, id)
	})
}

func (s *RegistryService) ListGroups(ctx context.Context, kind string) ([]ResourceGroup, error) {
	if _, err := LookupKind(kind); err != nil {
		return nil, err
	}
	return s.Store.ListGroups(ctx, kind)
}

func (s *RegistryService) ListResources(ctx context.Context, kind string) ([]Resource, error) {
	if _, err := LookupKind(kind); err != nil {
		return nil, err
	}
	return s.Store.ListResources(ctx, kind)
}

// =============================================================================
// LIVE MAP
// =============================================================================

// Resource states shown on the live map.
const (
	MapAvailable = "available"
	MapPending   = "pending"
	MapBooked    = "booked"
)

// MapEntry is one resource on the live map.
type MapEntry struct {
	Resource       Resource
	Status         string
	Booking        *Booking // approved holder, or the oldest pending contender
	PendingCount   int
	InvoiceNumber  string
	InvoicePaid    bool
	InvoiceExpired bool
}

// LiveMap reports every resource of a kind with its occupant and the state
// of the occupant's latest invoice.
func (s *RegistryService) LiveMap(ctx context.Context, actor Actor, kind string) ([]MapEntry, error) {
	if err := Authorize(actor, CapViewAll); err != nil {
		return nil, err
	}
	if _, err := LookupKind(kind); err != nil {
		return nil, err
	}
	resources, err := s.Store.ListResources(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	bookings, err := s.Store.FindBookings(ctx, BookingFilter{Kind: kind, Statuses: ActiveStatuses})
	if err != nil {
		return nil, fmt.Errorf("find bookings: %w", err)
	}
	invoices, err := s.Store.FindInvoices(ctx, InvoiceFilter{Kind: kind})
	if err != nil {
		return nil, fmt.Errorf("find invoices: %w", err)
	}

	latest := make(map[BookingID]Invoice)
	for _, inv := range invoices {
		if cur, ok := latest[inv.Booking]; !ok || inv.Month.After(cur.Month) {
			latest[inv.Booking] = inv
		}
	}
	byResource := make(map[ResourceID][]Booking)
	for _, b := range bookings {
		byResource[b.Resource] = append(byResource[b.Resource], b)
	}

	entries := make([]MapEntry, 0, len(resources))
	for _, r := range resources {
		e := MapEntry{Resource: r, Status: MapAvailable}
		for i, b := range byResource[r.ID] {
			switch b.Status {
			case BookingApproved:
				e.Status = MapBooked
				e.Booking = &byResource[r.ID][i]
			case BookingPending:
				e.PendingCount++
				if e.Status == MapAvailable {
					e.Status = MapPending
					e.Booking = &byResource[r.ID][i]
				}
			}
		}
		if e.Status == MapBooked {
			if inv, ok := latest[e.Booking.ID]; ok {
				e.InvoiceNumber = inv.Number
				e.InvoicePaid = inv.IsPaid
				e.InvoiceExpired = inv.Expired
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// =============================================================================
// OCCUPANCY AUDIT
// =============================================================================

// OccupancyViolation is a resource whose flag disagrees with its bookings.
type OccupancyViolation struct {
	Resource Resource
	Holders  []BookingID
}

func (v OccupancyViolation) String() string {
	return fmt.Sprintf("%s %s (id %d): is_booked=%t, approved bookings %v",
		v.Resource.Kind, v.Resource.Label, v.Resource.ID, v.Resource.IsBooked, v.Holders)
}

// AuditOccupancy checks is_booked == (exactly one approved booking) for
// every resource of the kind, or every kind when kind is "".
func (s *RegistryService) AuditOccupancy(ctx context.Context, actor Actor, kind string) ([]OccupancyViolation, error) {
	if err := Authorize(actor, CapViewAll); err != nil {
		return nil, err
	}
	kinds := []string{kind}
	if kind == "" {
		kinds = kinds[:0]
		for _, k := range ListKinds() {
			kinds = append(kinds, k.KindID())
		}
	}

	var violations []OccupancyViolation
	for _, k := range kinds {
		if _, err := LookupKind(k); err != nil {
			return nil, err
		}
		resources, err := s.Store.ListResources(ctx, k)
		if err != nil {
			return nil, fmt.Errorf("list resources: %w", err)
		}
		approved, err := s.Store.FindBookings(ctx, BookingFilter{Kind: k, Statuses: []BookingStatus{BookingApproved}})
		if err != nil {
			return nil, fmt.Errorf("find bookings: %w", err)
		}
		holders := make(map[ResourceID][]BookingID)
		for _, b := range approved {
			holders[b.Resource] = append(holders[b.Resource], b.ID)
		}
		for _, r := range resources {
			h := holders[r.ID]
			if r.IsBooked != (len(h) == 1) || len(h) > 1 {
				violations = append(violations, OccupancyViolation{Resource: r, Holders: h})
			}
		}
	}
	return violations, nil
}

// =============================================================================
// USERS
// =============================================================================

// SaveUser creates or updates a directory record.
func (s *RegistryService) SaveUser(ctx context.Context, actor Actor, u *User) error {
	if err := Authorize(actor, CapManageUsers); err != nil {
		return err
	}
	if strings.TrimSpace(u.Name) == "" {
		return newError(ErrValidation, "name is required")
	}
	switch u.Role {
	case RoleAdmin, RoleStudent:
	default:
		return newError(ErrValidation, "role must be admin or student, got %q", u.Role)
	}
	return s.commit(ctx, func(tx Store, fx *Effects) error {
		if u.ID != 0 {
			existing, err := tx.GetUser(ctx, u.ID)
			if err != nil {
				return fmt.Errorf("get user: %w", err)
			}
			if existing == nil {
				return newError(ErrNotFound, "user %d not found", u.ID)
			}
			u.CreatedAt = existing.CreatedAt
		} else {
			u.CreatedAt = fx.now
		}
		return tx.SaveUser(ctx, u)
	})
}

func (s *RegistryService) GetUser(ctx context.Context, actor Actor, id UserID) (*User, error) {
	if err := authorizeView(actor, id); err != nil {
		return nil, err
	}
	u, err := s.Store.GetUser(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if u == nil {
		return nil, newError(ErrNotFound, "user %d not found", id)
	}
	return u, nil
}

func (s *RegistryService) ListUsers(ctx context.Context, actor Actor) ([]User, error) {
	if err := Authorize(actor, CapManageUsers); err != nil {
		return nil, err
	}
	return s.Store.ListUsers(ctx)
}

// =============================================================================
// FEE VERSIONS
// =============================================================================

// AddFeeVersion stores a new fee version. Versions are never edited; a
// change takes effect by adding a version with a later effective date.
func (s *RegistryService) AddFeeVersion(ctx context.Context, actor Actor, v FeeVersion) (*FeeVersion, error) {
	if err := Authorize(actor, CapManageFees); err != nil {
		return nil, err
	}
	if _, err := LookupKind(v.Kind); err != nil {
		return nil, err
	}
	if err := v.Validate(); err != nil {
		return nil, err
	}
	v.ID = 0
	err := s.commit(ctx, func(tx Store, fx *Effects) error {
		existing, err := tx.ListFeeVersions(ctx, v.Kind)
		if err != nil {
			return fmt.Errorf("list fee versions: %w", err)
		}
		for _, e := range existing {
			if e.EffectiveFrom.Equal(v.EffectiveFrom) {
				return newError(ErrConflict, "a %s fee version already takes effect on %s", v.Kind, v.EffectiveFrom)
			}
		}
		v.CreatedAt = fx.now
		return tx.SaveFeeVersion(ctx, &v)
	})
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ListFeeVersions returns the stored versions of a kind, newest first.
func (s *RegistryService) ListFeeVersions(ctx context.Context, kind string) ([]FeeVersion, error) {
	if _, err := LookupKind(kind); err != nil {
		return nil, err
	}
	versions, err := s.Store.ListFeeVersions(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("list fee versions: %w", err)
	}
	sort.SliceStable(versions, func(i, j int) bool {
		return versions[i].EffectiveFrom.After(versions[j].EffectiveFrom)
	})
	return versions, nil
}
