package security

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/modulecore/lifecycle/internal/platform"
	"github.com/modulecore/lifecycle/internal/platform/coreerrors"
)

// Manager authorizes cross-resource access, sanitizes data at tenant
// boundaries, and records the audit trail. It sits
// below the Tenant Configuration Manager in the dependency order, and
// neither package calls the other: the Orchestrator asks Security to
// authorize an activation before it writes configuration.
type Manager struct {
	persistence platform.Persistence
	clock platform.Clock
	events platform.EventSink
	logger *slog.Logger
	probe UsageProbe

	mu sync.RWMutex
	policies map[string]Policy

	audit *auditLog
}

// New wires a Manager. auditLogSize bounds the in-memory audit ring
// per tenant; 0 or less falls back to maxAuditLogSize.
func New(persistence platform.Persistence, clock platform.Clock, events platform.EventSink, logger *slog.Logger, probe UsageProbe, auditLogSize int) *Manager {
	if clock == nil {
		clock = platform.SystemClock{}
	}
	if events == nil {
		events = platform.NoopEventSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if auditLogSize <= 0 {
		auditLogSize = maxAuditLogSize
	}
	return &Manager{
		persistence: persistence,
		clock: clock,
		events: events,
		logger: logger,
		probe: probe,
		policies: make(map[string]Policy),
		audit: newAuditLog(persistence, clock, auditLogSize),
	}
}

// SetPolicy installs or replaces tenantID's security policy.
func (m *Manager) SetPolicy(tenantID string, policy Policy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies[tenantID] = policy
}

func (m *Manager) policyFor(tenantID string) Policy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.policies[tenantID]; ok {
		return p
	}
	return DefaultPolicy()
}

var operationAllowFlag = map[Operation]func(Policy) bool{
	OperationThemeCustomize: func(p Policy) bool { return p.AllowThemeCustomize },
	OperationModuleConfigure: func(p Policy) bool { return p.AllowModuleConfigure },
	OperationModuleActivate: func(p Policy) bool { return true },
	OperationModuleDeactivate: func(p Policy) bool { return true },
	OperationDataExport: func(p Policy) bool { return p.AllowDataExport },
	OperationDataImport: func(p Policy) bool { return p.AllowDataImport },
}

var operationResourceType = map[Operation]ResourceType{
	OperationThemeCustomize: ResourceTheme,
	OperationModuleConfigure: ResourceConfig,
	OperationModuleActivate: ResourceModule,
	OperationModuleDeactivate: ResourceModule,
	OperationDataExport: ResourceData,
	OperationDataImport: ResourceData,
}

// Validate runs the 4-step authorization check and records the
// resulting audit entry.
// callerTenantID is the tenant the requesting context is scoped to;
// targetTenant is the tenant the operation acts against.
func (m *Manager) Validate(ctx context.Context, callerTenantID, targetTenant string, operation Operation, actorID, sessionID, source string) (Decision, error) {
	policy := m.policyFor(targetTenant)
	resourceType, ok := operationResourceType[operation]
	if !ok {
		resourceType = ResourceData
	}

	decision := Decision{Allowed: true}

	if callerTenantID != targetTenant && !policy.AllowCrossTenantAccess {
		decision.Allowed = false
		decision.Cause = fmt.Sprintf("tenant %q is not permitted cross-tenant access to tenant %q", callerTenantID, targetTenant)
	}

	if decision.Allowed {
		if allowed, declared := operationAllowFlag[operation]; declared && !allowed(policy) {
			decision.Allowed = false
			decision.Cause = fmt.Sprintf("operation %q is disabled by tenant %q's security policy", operation, targetTenant)
		}
	}

	if decision.Allowed && m.probe != nil {
		if warnings := m.countWarnings(targetTenant, operation, policy); len(warnings) > 0 {
			decision.Warnings = append(decision.Warnings, warnings...)
		}
	}

	entry := Entry{
		TenantID: targetTenant,
		ActorID: actorID,
		Operation: operation,
		ResourceType: resourceType,
		Action: actionForOperation(operation),
		Success: decision.Allowed,
		Timestamp: m.clock.Now(),
		SessionID: sessionID,
		Source: source,
	}
	if !decision.Allowed {
		entry.ErrorMessage = decision.Cause
		m.logger.Warn("authorization denied", "tenant_id", targetTenant, "operation", operation, "cause", decision.Cause)
	}
	if err := m.Record(ctx, targetTenant, entry); err != nil {
		return decision, err
	}

	if !decision.Allowed {
		return decision, coreerrors.PermissionDenied("%s", decision.Cause)
	}
	return decision, nil
}

func actionForOperation(op Operation) Action {
	switch op {
	case OperationModuleActivate:
		return ActionActivate
	case OperationModuleDeactivate:
		return ActionDeactivate
	case OperationDataExport:
		return ActionRead
	case OperationDataImport, OperationThemeCustomize, OperationModuleConfigure:
		return ActionWrite
	default:
		return ActionWrite
	}
}

func (m *Manager) countWarnings(tenantID string, operation Operation, policy Policy) []string {
	var warnings []string
	if operation == OperationModuleActivate && policy.MaxActiveModules > 0 {
		if count, err := m.probe.ActiveModuleCount(tenantID); err == nil {
			if ratio := float64(count) / float64(policy.MaxActiveModules); ratio >= 0.9 {
				warnings = append(warnings, fmt.Sprintf("tenant %q is at %d/%d active modules", tenantID, count, policy.MaxActiveModules))
			}
		}
	}
	if (operation == OperationDataImport || operation == OperationDataExport) && policy.MaxStorageMB > 0 {
		if used, err := m.probe.StorageUsedMB(tenantID); err == nil {
			if ratio := float64(used) / float64(policy.MaxStorageMB); ratio >= 0.9 {
				warnings = append(warnings, fmt.Sprintf("tenant %q is at %d/%dMB storage", tenantID, used, policy.MaxStorageMB))
			}
		}
	}
	return warnings
}

// ValidateInheritancePointer rejects a configuration write whose
// declared parent reference is incompatible with the tenant's
// configurationInheritance policy.
func (m *Manager) ValidateInheritancePointer(targetTenant, inheritFromTenant string) error {
	policy := m.policyFor(targetTenant)
	switch policy.ConfigurationInheritance {
	case InheritanceNone:
		if inheritFromTenant != "" {
			return coreerrors.PermissionDenied("tenant %q's policy forbids configuration inheritance", targetTenant)
		}
	case InheritanceDefaultOnly:
		if inheritFromTenant != "" && inheritFromTenant != "default" {
			return coreerrors.PermissionDenied("tenant %q's policy only permits inheriting from the default tenant, got %q", targetTenant, inheritFromTenant)
		}
	case InheritanceFull:
		// any parent reference is permitted
	}
	return nil
}
