// Package moduledef holds the immutable descriptor types a module
// declares: capabilities, dependencies, integration points, config
// schema, migrations, and rollback operations. Registry, Validator,
// Migration Manager, and Orchestrator all consume these types without
// owning them — the surface here is the minimum the core actually
// dispatches on.
package moduledef

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var structValidator = validator.New()

// DependencyKind classifies how a declared dependency constrains
// activation ordering.
type DependencyKind string

const (
	DependencyRequired DependencyKind = "required"
	DependencyOptional DependencyKind = "optional"
	DependencyConflicting DependencyKind = "conflicting"
)

// Dependency is one entry in a module's declared dependency list.
type Dependency struct {
	ModuleID string
	Constraint string // semver-like version constraint, e.g. ">=1.2.0"
	Kind DependencyKind
}

// Capability describes one unit of functionality a module exposes,
// along with the capabilities it in turn requires.
type Capability struct {
	ID string
	Category string
	RequiredCapabilities []string
	Methods []string
	Events []string
	Properties []string
}

// FieldType enumerates the config schema field kinds a module's
// ConfigSchema can declare.
type FieldType string

const (
	FieldString FieldType = "string"
	FieldNumber FieldType = "number"
	FieldBoolean FieldType = "boolean"
	FieldArray FieldType = "array"
	FieldObject FieldType = "object"
	FieldDate FieldType = "date"
	FieldURL FieldType = "url"
	FieldEmail FieldType = "email"
	FieldJSON FieldType = "json"
)

// FieldConstraints bounds a config field's acceptable values.
type FieldConstraints struct {
	Min *float64
	Max *float64
	Pattern string
	Enum []any
	Custom func(value any) error
}

// ConfigField is one entry in a module's declared configSchema.
type ConfigField struct {
	Name string
	Type FieldType
	Constraints FieldConstraints
	Sensitive bool
	Inheritable bool
	Default any
	Required bool
}

// ConfigSchema is the full declared schema for a module's
// configuration, keyed by field name.
type ConfigSchema struct {
	Fields map[string]ConfigField
}

func (s ConfigSchema) Field(name string) (ConfigField, bool) {
	f, ok := s.Fields[name]
	return f, ok
}

// IntegrationPointKind enumerates the kinds of reservable integration
// points a module may declare.
type IntegrationPointKind string

const (
	IntegrationRoute IntegrationPointKind = "route"
	IntegrationAPI IntegrationPointKind = "api"
	IntegrationComponent IntegrationPointKind = "component"
	IntegrationNav IntegrationPointKind = "nav"
)

// IntegrationPoint is one route/api/component/nav reservation a module
// declares it wants to own.
type IntegrationPoint struct {
	Kind IntegrationPointKind
	ID string // path for route/api, component id, or nav id
}

// OperationKind tags the body of a module-supplied operation so the
// Operation Engine and Migration Manager can dispatch on it as a small
// tagged variant instead of a polymorphic interface hierarchy.
type OperationKind string

const (
	OpCreateTable OperationKind = "create_table"
	OpAddColumn OperationKind = "add_column"
	OpAddIndex OperationKind = "add_index"
	OpAddConstraint OperationKind = "add_constraint"
	OpCreateView OperationKind = "create_view"
	OpCreateTrigger OperationKind = "create_trigger"
	OpInsertRows OperationKind = "insert_rows"
	OpUpdateRows OperationKind = "update_rows" // widening updates only
	OpCustom OperationKind = "custom"

	// Destructive kinds exist only so the registration step can
	// recognize and reject them; no forward operation may carry one.
	OpDropTable OperationKind = "drop_table"
	OpDropColumn OperationKind = "drop_column"
	OpDropIndex OperationKind = "drop_index"
	OpNarrowType OperationKind = "narrow_type"
	OpDeleteRows OperationKind = "delete_rows"
)

// IsDestructive reports whether kind is forbidden in a forward
// migration operation set.
func (k OperationKind) IsDestructive() bool {
	switch k {
	case OpDropTable, OpDropColumn, OpDropIndex, OpNarrowType, OpDeleteRows:
		return true
	default:
		return false
	}
}

// MigrationDependency mirrors Dependency but scoped to migrations.
type MigrationDependency struct {
	MigrationID string
	Kind DependencyKind
}

// PerformanceEnvelope bounds a migration or operation's execution cost.
type PerformanceEnvelope struct {
	MaxExecutionTimeMs int
	MaxLockTimeMs int
	ResourceCapPercent int
	WarnThresholdMs int
}

// IntegrityCheck is a declared data-integrity assertion run during
// migration.
type IntegrityCheck struct {
	ID string
	Description string
	Predicate func() (observed float64, expected float64, err error)
	ToleranceAbs float64
}

// MigrationDef is one entry in a module's declared migrations list.
type MigrationDef struct {
	ID string
	Version string
	Dependencies []MigrationDependency
	Forward []Operation
	Reverse []Operation
	PreRules []string // rule ids evaluated by the Validator before running
	PostRules []string
	RollbackRules []string
	Integrity []IntegrityCheck
	Performance PerformanceEnvelope
}

// Validate rejects a MigrationDef whose forward set contains a
// destructive operation kind, per the registration-time additive
// discipline.
func (m MigrationDef) Validate() error {
	for _, op := range m.Forward {
		if op.Kind.IsDestructive() {
			return fmt.Errorf("migration %s: forward operation %q is destructive (%s); destructive changes must be expressed as a new additive migration", m.ID, op.ID, op.Kind)
		}
	}
	return nil
}

// Operation is a single declared step inside a migration's forward or
// reverse list, or a module's custom activation/deactivation/rollback
// operation. Body carries whatever parameters the Kind needs; the
// Operation Engine dispatches on Kind rather than a method hierarchy.
type Operation struct {
	ID string
	Kind OperationKind
	Params map[string]any
	Critical bool
	TimeoutMs int
}

// RollbackOperation pairs a forward operation id with its declared
// compensating reverse, plus the safety gates guarding it.
type RollbackOperation struct {
	ForOperationID string
	Reverse Operation
	Critical bool
	TimeoutMs int
	RetryMaxAttempts int
	RetryInitialDelayMs int
	RetryMultiplier float64
	RetryMaxDelayMs int
}

// Definition is the immutable module descriptor.
type Definition struct {
	ID string `validate:"required,max=128"`
	Version string `validate:"required"` // semver-like triplet, e.g. "1.4.2"
	Name string `validate:"required"`
	Description string
	Author string
	License string
	Capabilities []Capability
	Dependencies []Dependency
	Routes []IntegrationPoint
	Components []IntegrationPoint
	APIs []IntegrationPoint
	ConfigSchema ConfigSchema
	DefaultConfig map[string]any
	Migrations []MigrationDef
	RollbackOperations []RollbackOperation

	// ActivationRules/PostActivationRules name the Validator rule ids
	// the Orchestrator evaluates during activation phases 4 and 8.
	// DeactivationRules gates phase 1 of deactivation.
	ActivationRules []string
	PostActivationRules []string
	DeactivationRules []string

	// ActivationOperations/DeactivationOperations are the module's
	// custom operations run as the last step of each phase's plan.
	ActivationOperations []Operation
	DeactivationOperations []Operation

	// RequiredCapabilitySurface is the minimum contract the Registry
	// checks for at registration time: the module must
	// expose these five behaviors, however the caller binds them.
	Initialize func() error
	Cleanup func() error
	GetHealthStatus func() (healthy bool, detail string)
	GetConfigurationSchema func() ConfigSchema
	ValidateConfiguration func(cfg map[string]any) error
}

// IntegrationPoints returns every reservable point the definition
// declares, across routes, components, and apis.
func (d Definition) IntegrationPoints() []IntegrationPoint {
	out := make([]IntegrationPoint, 0, len(d.Routes)+len(d.Components)+len(d.APIs))
	out = append(out, d.Routes...)
	out = append(out, d.Components...)
	out = append(out, d.APIs...)
	return out
}

// ValidateContract checks the required-fields/required-capability
// contract every registered module must satisfy. It does not evaluate
// business rules — that is the Validator's job.
func (d Definition) ValidateContract() error {
	if err := structValidator.Struct(d); err != nil {
		return fmt.Errorf("module definition failed field validation: %w", err)
	}
	if d.Initialize == nil || d.Cleanup == nil || d.GetHealthStatus == nil ||
		d.GetConfigurationSchema == nil || d.ValidateConfiguration == nil {
		return fmt.Errorf("module %s: must expose initialize, cleanup, getHealthStatus, getConfigurationSchema, and validateConfiguration", d.ID)
	}
	for _, m := range d.Migrations {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("module %s: %w", d.ID, err)
		}
	}
	return nil
}
