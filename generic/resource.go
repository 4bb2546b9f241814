/*
resource.go - Resource kind registration and lookup

PURPOSE:
  Provides a registry for domain packages to register their resource kinds.
  The engine is written once against ResourceKind; hostel beds and library
  seats plug in by registering a kind.

HOW IT WORKS:
  1. Domain packages define their ResourceKind implementation
  2. Domain packages register it on init()
  3. The engine, stores and API resolve kind ids through the registry

USAGE:
  // In hostel/types.go
  func init() {
      generic.RegisterKind(Kind)
  }

  // Anywhere
  kind, err := generic.LookupKind("hostel")

SEE ALSO:
  - types.go: Resource and Booking
  - hostel/types.go, library/types.go: kind implementations
*/
package generic

import (
	"fmt"
	"sort"
	"sync"
)

// ResourceKind is what distinguishes one bookable domain from another.
type ResourceKind interface {
	// KindID is the stable id stored on resources, bookings and invoices.
	KindID() string

	// UnitNoun names one resource in messages ("bed", "seat").
	UnitNoun() string

	// InvoicePrefix is the kind segment of invoice numbers ("HO", "LI").
	InvoicePrefix() string

	// DefaultFees applies when no fee version is stored for the kind.
	DefaultFees() FeeVersion

	// DepositWaivers lists kind ids whose active booking waives this kind's deposit.
	DepositWaivers() []string
}

// =============================================================================
// KIND REGISTRY
// =============================================================================

var (
	kindRegistry = make(map[string]ResourceKind)
	registryMu   sync.RWMutex
)

// RegisterKind adds a resource kind to the global registry.
// Call this from domain package init() functions.
func RegisterKind(k ResourceKind) {
	registryMu.Lock()
	defer registryMu.Unlock()
	kindRegistry[k.KindID()] = k
}

// LookupKind finds a registered kind by id.
func LookupKind(id string) (ResourceKind, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	k, ok := kindRegistry[id]
	if !ok {
		return nil, newError(ErrUnknownKind, "unknown resource kind: %s", id)
	}
	return k, nil
}

// MustLookupKind finds a registered kind or panics.
func MustLookupKind(id string) ResourceKind {
	k, err := LookupKind(id)
	if err != nil {
		panic(fmt.Sprintf("resource kind not registered: %s", id))
	}
	return k
}

// ListKinds returns all registered kinds ordered by id.
func ListKinds() []ResourceKind {
	registryMu.RLock()
	defer registryMu.RUnlock()
	result := make([]ResourceKind, 0, len(kindRegistry))
	for _, k := range kindRegistry {
		result = append(result, k)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].KindID() < result[j].KindID() })
	return result
}
