package security

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/modulecore/lifecycle/internal/platform"
)

// maxAuditLogSize bounds the in-memory audit buffer per tenant so a
// runaway caller can't grow it unbounded before retention-based
// eviction catches up.
const maxAuditLogSize = 10000

// auditLog is the append-only audit trail: every entry is persisted
// durably through platform.Persistence.AppendLog, and mirrored into a
// bounded per-tenant in-memory ring for fast recent-history reads.
type auditLog struct {
	persistence platform.Persistence
	clock platform.Clock
	cap int

	mu sync.Mutex
	buffers map[string][]Entry
}

func newAuditLog(persistence platform.Persistence, clock platform.Clock, cap int) *auditLog {
	return &auditLog{persistence: persistence, clock: clock, cap: cap, buffers: make(map[string][]Entry)}
}

func newEntryID() string {
	return "audit-" + uuid.NewString()
}

// Record appends entry to tenantID's audit trail, redacting its
// Details the same way Sanitize redacts data crossing a tenant
// boundary.
func (m *Manager) Record(ctx context.Context, tenantID string, entry Entry) error {
	policy := m.policyFor(tenantID)
	if !policy.Audit.Enable {
		return nil
	}
	if entry.ID == "" {
		entry.ID = newEntryID()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = m.clock.Now()
	}
	entry.Details = redactDetails(entry.Details)

	if err := m.audit.append(ctx, entry); err != nil {
		return err
	}
	return nil
}

func (a *auditLog) append(ctx context.Context, entry Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}
	if a.persistence != nil {
		if err := a.persistence.AppendLog(ctx, platform.NamespaceAudit, raw); err != nil {
			return fmt.Errorf("persist audit entry: %w", err)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	buf := append(a.buffers[entry.TenantID], entry)
	if len(buf) > a.cap {
		buf = buf[len(buf)-a.cap:]
	}
	a.buffers[entry.TenantID] = buf
	return nil
}

// Query returns tenantID's audit entries still within its retention
// window, oldest first. Entries past the cutoff are evicted lazily
// from the in-memory buffer on read rather than proactively swept.
func (m *Manager) Query(tenantID string) []Entry {
	policy := m.policyFor(tenantID)
	retention := policy.Audit.RetentionDays
	if retention <= 0 {
		retention = policy.DataRetentionDays
	}

	m.audit.mu.Lock()
	defer m.audit.mu.Unlock()
	all := m.audit.buffers[tenantID]
	if retention <= 0 {
		out := make([]Entry, len(all))
		copy(out, all)
		return out
	}
	cutoff := m.clock.Now().Add(-time.Duration(retention) * 24 * time.Hour)
	kept := all[:0:0]
	for _, e := range all {
		if e.Timestamp.After(cutoff) {
			kept = append(kept, e)
		}
	}
	m.audit.buffers[tenantID] = kept
	out := make([]Entry, len(kept))
	copy(out, kept)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}
