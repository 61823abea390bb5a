package security

import "time"

// InheritanceMode bounds how far a tenant's configuration may reach
// into shared defaults.
type InheritanceMode string

const (
	InheritanceNone InheritanceMode = "none"
	InheritanceDefaultOnly InheritanceMode = "default-only"
	InheritanceFull InheritanceMode = "full"
)

// ResourceType names what an authorization check or audit entry is
// about.
type ResourceType string

const (
	ResourceTheme ResourceType = "theme"
	ResourceConfig ResourceType = "config"
	ResourceModule ResourceType = "module"
	ResourceData ResourceType = "data"
)

// Action names what was done to a resource.
type Action string

const (
	ActionRead Action = "read"
	ActionWrite Action = "write"
	ActionDelete Action = "delete"
	ActionActivate Action = "activate"
	ActionDeactivate Action = "deactivate"
)

// Operation names the caller-facing operation an authorization check
// is gating; it is distinct from Action because one operation can
// touch several resources (e.g. module-activate writes config and
// activates a module).
type Operation string

const (
	OperationThemeCustomize Operation = "theme-customize"
	OperationModuleConfigure Operation = "module-configure"
	OperationModuleActivate Operation = "module-activate"
	OperationModuleDeactivate Operation = "module-deactivate"
	OperationDataExport Operation = "data-export"
	OperationDataImport Operation = "data-import"
)

// AuditSettings controls what a tenant's audit log records and for
// how long.
type AuditSettings struct {
	Enable bool
	LogDataAccess bool
	LogConfigChanges bool
	LogThemeChanges bool
	RetentionDays int
}

// Policy is the per-tenant security posture.
type Policy struct {
	AllowCrossTenantAccess bool
	DataRetentionDays int
	ConfigurationInheritance InheritanceMode

	AllowThemeCustomize bool
	AllowModuleConfigure bool
	AllowDataExport bool
	AllowDataImport bool
	MaxActiveModules int
	MaxStorageMB int

	Audit AuditSettings
}

// DefaultPolicy is the conservative posture assumed for any tenant
// without an explicit policy on file: no cross-tenant access, no
// inheritance beyond defaults, data export and import off (theme
// customization and module configuration stay allowed), audit
// logging on.
func DefaultPolicy() Policy {
	return Policy{
		AllowCrossTenantAccess: false,
		DataRetentionDays: 90,
		ConfigurationInheritance: InheritanceDefaultOnly,
		AllowThemeCustomize: true,
		AllowModuleConfigure: true,
		AllowDataExport: false,
		AllowDataImport: false,
		MaxActiveModules: 50,
		MaxStorageMB: 1024,
		Audit: AuditSettings{
			Enable: true,
			LogDataAccess: true,
			LogConfigChanges: true,
			LogThemeChanges: false,
			RetentionDays: 90,
		},
	}
}

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool
	Cause string
	Warnings []string
}

// Entry is one immutable audit record.
type Entry struct {
	ID string
	TenantID string
	ActorID string
	Operation Operation
	ResourceType ResourceType
	ResourceID string
	Action Action
	Details map[string]any
	Success bool
	ErrorMessage string
	Timestamp time.Time
	SessionID string
	Source string
}

// HealthReport is the 0-100 security posture score for a tenant.
type HealthReport struct {
	TenantID string
	Score int
	Issues []string
	Recommendations []string
}

// UsageProbe supplies the live counts Validate needs for count-based
// warnings (e.g. active module count approaching the policy cap).
// Kept as a narrow collaborator so callers that don't track usage can
// pass nil and skip those checks entirely.
type UsageProbe interface {
	ActiveModuleCount(tenantID string) (int, error)
	StorageUsedMB(tenantID string) (int, error)
}
