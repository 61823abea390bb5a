package platform

import "context"

// ResourceUsage reports the percentages and counters the Validator's
// "resources" category rules evaluate against.
type ResourceUsage struct {
	MemoryPercent       float64
	CPUPercent          float64
	DiskPercent         float64
	NetworkPercent      float64
	DBConnectionCount   int
	ActiveProcessCount  int
}

// CheckResult is a single named health sub-check.
type CheckResult struct {
	Name    string
	Healthy bool
	Detail  string
}

// HealthStatus is the overall system health as the Probe sees it.
type HealthStatus struct {
	Status string // "healthy", "degraded", "unhealthy"
	Score  int    // 0-100
	Checks []CheckResult
}

// NetworkStatus reports connectivity for "network" category rules.
type NetworkStatus struct {
	Connected    bool
	LatencyMs    float64
	BandwidthMbps float64
}

// StorageDevice is a single backing store's capacity/health snapshot.
type StorageDevice struct {
	Name            string
	CapacityPercent float64
	Healthy         bool
}

// SecurityStatus reports active threats and policy posture for
// "security" category rules.
type SecurityStatus struct {
	ActiveThreats int
	PolicyStates  map[string]bool
}

// Snapshot is the full system-state view the Validator evaluates rules
// against. It is taken once per validation run so every rule in that
// run sees a consistent point-in-time picture.
type Snapshot struct {
	Resources ResourceUsage
	Health    HealthStatus
	Network   NetworkStatus
	Storage   []StorageDevice
	Security  SecurityStatus
}

// SystemProbe is the collaborator that produces Snapshots. Only the
// Validator consults it.
type SystemProbe interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// StaticProbe returns a fixed Snapshot, useful for tests and for
// single-node deployments without a live monitoring backend.
type StaticProbe struct {
	Fixed Snapshot
}

func (p StaticProbe) Snapshot(context.Context) (Snapshot, error) {
	return p.Fixed, nil
}

// HealthySnapshot returns a Snapshot representing a fully healthy
// system, a convenient baseline for tests to mutate from.
func HealthySnapshot() Snapshot {
	return Snapshot{
		Resources: ResourceUsage{MemoryPercent: 30, CPUPercent: 20, DiskPercent: 40, NetworkPercent: 10, DBConnectionCount: 5, ActiveProcessCount: 20},
		Health:    HealthStatus{Status: "healthy", Score: 100},
		Network:   NetworkStatus{Connected: true, LatencyMs: 5, BandwidthMbps: 1000},
		Storage:   []StorageDevice{{Name: "primary", CapacityPercent: 40, Healthy: true}},
		Security:  SecurityStatus{ActiveThreats: 0, PolicyStates: map[string]bool{}},
	}
}
