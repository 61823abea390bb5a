package security

import "strings"

const maxStringLen = 1000

// internalOnlyFields strips fields meant only for internal bookkeeping
// before data crosses a tenant boundary.
var internalOnlyFields = map[string]bool{
	"_internal": true,
	"internalId": true,
	"internalNotes": true,
	"_raw": true,
}

// sensitiveKeyMarkers flags any field whose name contains one of these
// substrings (case-insensitive) as needing redaction.
var sensitiveKeyMarkers = []string{
	"password", "secret", "apikey", "api_key", "token", "privatekey",
	"private_key", "ssn", "creditcard", "credit_card",
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, marker := range sensitiveKeyMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// Sanitize recursively walks data, dropping or flagging cross-tenant
// entries, stripping internal-only fields, redacting sensitive keys,
// and truncating oversized strings.
func Sanitize(callerTenantID string, data any, crossTenantAllowed bool) any {
	switch v := data.(type) {
	case map[string]any:
		return sanitizeMap(callerTenantID, v, crossTenantAllowed)
	case []any:
		out := make([]any, 0, len(v))
		for _, item := range v {
			sanitized := Sanitize(callerTenantID, item, crossTenantAllowed)
			if sanitized == nil {
				if _, wasMap := item.(map[string]any); wasMap {
					continue // dropped cross-tenant entry
				}
			}
			out = append(out, sanitized)
		}
		return out
	case string:
		if len(v) > maxStringLen {
			return v[:maxStringLen]
		}
		return v
	default:
		return v
	}
}

func sanitizeMap(callerTenantID string, m map[string]any, crossTenantAllowed bool) any {
	if owner, ok := m["tenantId"].(string); ok && owner != "" && owner != callerTenantID {
		if !crossTenantAllowed {
			return nil
		}
	}

	out := make(map[string]any, len(m))
	for key, value := range m {
		if internalOnlyFields[key] {
			continue
		}
		if isSensitiveKey(key) {
			out[key] = "***REDACTED***"
			continue
		}
		out[key] = Sanitize(callerTenantID, value, crossTenantAllowed)
	}
	if owner, ok := m["tenantId"].(string); ok && owner != "" && owner != callerTenantID && crossTenantAllowed {
		out["_crossTenantReference"] = true
	}
	return out
}

// redactDetails applies the same sensitive-key redaction and
// truncation rules to an audit entry's free-form details map, without
// the tenant-ownership drop (an audit entry is already scoped to one
// tenant by construction).
func redactDetails(details map[string]any) map[string]any {
	if details == nil {
		return nil
	}
	out := make(map[string]any, len(details))
	for key, value := range details {
		if internalOnlyFields[key] {
			continue
		}
		if isSensitiveKey(key) {
			out[key] = "***REDACTED***"
			continue
		}
		if s, ok := value.(string); ok && len(s) > maxStringLen {
			out[key] = s[:maxStringLen]
			continue
		}
		out[key] = value
	}
	return out
}
