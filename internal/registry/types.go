// Package registry is the single source of truth for module
// definitions and ownership of integration points.
package registry

import (
	"time"

	"github.com/modulecore/lifecycle/internal/moduledef"
)

// Source classifies how a registry entry came to be registered.
type Source string

const (
	SourceManual Source = "manual"
	SourceAutomatic Source = "automatic"
	SourceMarketplace Source = "marketplace"
	SourceSystem Source = "system"
)

// Status is the registry-level lifecycle of a module definition,
// distinct from any per-tenant activation state.
type Status string

const (
	StatusRegistered Status = "registered"
	StatusError Status = "error"
	StatusUnregistered Status = "unregistered"
)

// Transition records a single registry-status change.
type Transition struct {
	From Status
	To Status
	Reason string
	Timestamp time.Time
}

// Metrics tracks registration-time and access counters for an entry.
type Metrics struct {
	RegistrationDurationMs int64
	AccessCount int64
}

// Entry pairs a Module Definition with its registration metadata.
type Entry struct {
	Definition moduledef.Definition
	RegisteredAt time.Time
	Source Source
	Status Status
	Transitions []Transition
	Integrations []moduledef.IntegrationPoint
	Metrics Metrics
}
