package tenantconfig

// Resolve computes the effective configuration for a tenant given its
// own stored values, its declared inheritance policy, and a resolver
// for parent-scope values.
func Resolve(policy InheritancePolicy, resolver ParentResolver, moduleID string, schema Schema, tenantValues map[string]any) (map[string]any, error) {
	switch policy.Strategy {
	case InheritIsolated, "":
		return cloneMap(tenantValues), nil

	case InheritStrict:
		result := map[string]any{}
		if err := applyParents(policy, resolver, moduleID, tenantValues, func(key string, value any) {
			if field, ok := schema[key]; ok && !field.Inheritable {
				return
			}
			result[key] = value
		}); err != nil {
			return nil, err
		}
		return result, nil

	case InheritMerge:
		result := map[string]any{}
		if err := applyParents(policy, resolver, moduleID, tenantValues, func(key string, value any) {
			result[key] = deepMergeValue(result[key], value)
		}); err != nil {
			return nil, err
		}
		for k, v := range tenantValues {
			result[k] = deepMergeValue(result[k], v)
		}
		return result, nil

	case InheritCascade:
		fallthrough
	default:
		result := map[string]any{}
		if err := applyParents(policy, resolver, moduleID, tenantValues, func(key string, value any) {
			result[key] = value
		}); err != nil {
			return nil, err
		}
		for k, v := range tenantValues {
			result[k] = v
		}
		return result, nil
	}
}

func applyParents(policy InheritancePolicy, resolver ParentResolver, moduleID string, tenantValues map[string]any, apply func(key string, value any)) error {
	if resolver == nil {
		return nil
	}
	for _, parent := range policy.Parents {
		if parent.Condition != nil && !parent.Condition(tenantValues) {
			continue
		}
		values, ok, err := resolver.Resolve(parent, moduleID)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		for k, v := range values {
			apply(k, v)
		}
	}
	return nil
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func deepMergeValue(existing, incoming any) any {
	existingMap, eok := existing.(map[string]any)
	incomingMap, iok := incoming.(map[string]any)
	if eok && iok {
		merged := cloneMap(existingMap)
		for k, v := range incomingMap {
			merged[k] = deepMergeValue(merged[k], v)
		}
		return merged
	}
	return incoming
}
