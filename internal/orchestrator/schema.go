package orchestrator

import (
	"github.com/modulecore/lifecycle/internal/moduledef"
	"github.com/modulecore/lifecycle/internal/tenantconfig"
)

// toConfigSchema translates a module's declared configSchema into the
// Tenant Configuration Manager's schema shape. The field-type and
// constraint vocabularies are deliberately identical strings/layouts
// across moduledef and tenantconfig, so this is a
// mechanical field-by-field copy rather than real translation.
func toConfigSchema(schema moduledef.ConfigSchema) tenantconfig.Schema {
	out := make(tenantconfig.Schema, len(schema.Fields))
	for key, field := range schema.Fields {
		out[key] = tenantconfig.FieldSchema{
			Key: key,
			Type: tenantconfig.FieldType(field.Type),
			Constraint: tenantconfig.Constraint{
				Min: field.Constraints.Min,
				Max: field.Constraints.Max,
				Pattern: field.Constraints.Pattern,
				Enum: field.Constraints.Enum,
				Custom: field.Constraints.Custom,
			},
			Required: field.Required,
			Sensitive: field.Sensitive,
			Inheritable: field.Inheritable,
		}
	}
	return out
}
