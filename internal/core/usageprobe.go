package core

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/modulecore/lifecycle/internal/orchestrator"
	"github.com/modulecore/lifecycle/internal/platform"
)

// UsageProbe answers the Tenant Security Manager's quota questions
// (security.UsageProbe) directly from the shared Persistence
// collaborator, rather than a separate metrics store — the same
// activation records and configuration values the Orchestrator and
// Tenant Configuration Manager already maintain are sufficient.
type UsageProbe struct {
	persistence platform.Persistence
}

func NewUsageProbe(persistence platform.Persistence) *UsageProbe {
	return &UsageProbe{persistence: persistence}
}

// ActiveModuleCount counts activation records whose key ends in
// "::tenantID" and whose persisted State is active. Activation record
// keys are moduleId::tenantId (lock.PairKey), so an exact tenant
// prefix scan isn't possible; this lists the whole namespace and
// filters, which is acceptable for the record counts a quota check
// needs (low thousands of modules per deployment, not per request).
func (p *UsageProbe) ActiveModuleCount(tenantID string) (int, error) {
	ctx := context.Background()
	it, err := p.persistence.List(ctx, platform.NamespaceActivation, "")
	if err != nil {
		return 0, err
	}
	defer it.Close()

	suffix := "::" + tenantID
	count := 0
	for {
		entry, ok, err := it.Next(ctx)
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}
		if !strings.HasSuffix(entry.Key, suffix) {
			continue
		}
		var rec orchestrator.Record
		if err := json.Unmarshal(entry.Value, &rec); err != nil {
			continue
		}
		if rec.State == orchestrator.StateActive {
			count++
		}
	}
	return count, nil
}

// StorageUsedMB sums the byte size of every configuration value stored
// under tenantID, converted to whole megabytes. Configuration keys are
// tenantId/moduleId, so this scan is a genuine prefix list.
func (p *UsageProbe) StorageUsedMB(tenantID string) (int, error) {
	ctx := context.Background()
	it, err := p.persistence.List(ctx, platform.NamespaceConfig, tenantID+"/")
	if err != nil {
		return 0, err
	}
	defer it.Close()

	var totalBytes int
	for {
		entry, ok, err := it.Next(ctx)
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}
		totalBytes += len(entry.Value)
	}
	return totalBytes / (1024 * 1024), nil
}
