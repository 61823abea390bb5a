package tenantconfig

import (
	"regexp"
	"strings"
)

var markupTagPattern = regexp.MustCompile(`<[^>]*>`)

// Sanitize applies rules in declared order to a copy of values. "*"
// matches every string-valued field.
func Sanitize(rules []SanitizeRule, values map[string]any, cipher *FieldCipher) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	for _, rule := range rules {
		fields := matchingFields(rule.Field, out)
		for _, key := range fields {
			s, ok := out[key].(string)
			if !ok {
				continue
			}
			out[key] = applySanitizeKind(rule.Kind, s, cipher)
		}
	}
	return out
}

func matchingFields(pattern string, values map[string]any) []string {
	if pattern == "*" {
		keys := make([]string, 0, len(values))
		for k, v := range values {
			if _, ok := v.(string); ok {
				keys = append(keys, k)
			}
		}
		return keys
	}
	if _, ok := values[pattern]; ok {
		return []string{pattern}
	}
	return nil
}

func applySanitizeKind(kind SanitizeKind, s string, cipher *FieldCipher) string {
	switch kind {
	case SanitizeTrim:
		return strings.TrimSpace(s)
	case SanitizeLowercase:
		return strings.ToLower(s)
	case SanitizeUppercase:
		return strings.ToUpper(s)
	case SanitizeStripMarkup:
		return markupTagPattern.ReplaceAllString(s, "")
	case SanitizeHash:
		return hashValue(s)
	case SanitizeEncrypt:
		if cipher == nil {
			return s
		}
		encrypted, err := cipher.Encrypt(s)
		if err != nil {
			return s
		}
		return encrypted
	default:
		return s
	}
}

// Decrypt reverses every "encrypt" sanitize rule's effect on values,
// so callers reading stored configuration see plaintext rather than
// the ciphertext Sanitize committed. Fields that fail to decrypt (not
// actually ciphertext, or encrypted under a different cipher secret)
// are left as stored rather than surfaced as a read error.
func Decrypt(rules []SanitizeRule, values map[string]any, cipher *FieldCipher) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	if cipher == nil {
		return out
	}
	for _, rule := range rules {
		if rule.Kind != SanitizeEncrypt {
			continue
		}
		for _, key := range matchingFields(rule.Field, out) {
			s, ok := out[key].(string)
			if !ok {
				continue
			}
			if plain, err := cipher.Decrypt(s); err == nil {
				out[key] = plain
			}
		}
	}
	return out
}

// RedactSensitive replaces every field flagged Sensitive in schema
// with a fixed redaction marker, for exports and audit detail.
func RedactSensitive(schema Schema, values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	for key, field := range schema {
		if field.Sensitive {
			if _, ok := out[key]; ok {
				out[key] = "***REDACTED***"
			}
		}
	}
	return out
}
