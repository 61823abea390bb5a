package tenantconfig

import (
	"fmt"
	"net/mail"
	"net/url"
	"regexp"
)

// Validate checks values against schema, returning every violation
// rather than stopping at the first.
func Validate(schema Schema, values map[string]any) []ValidationError {
	var errs []ValidationError
	for key, field := range schema {
		value, present := values[key]
		if !present {
			if field.Required {
				errs = append(errs, ValidationError{Field: key, Reason: "required field missing"})
			}
			continue
		}
		if err := validateType(field, value); err != nil {
			errs = append(errs, ValidationError{Field: key, Reason: err.Error()})
			continue
		}
		if err := validateConstraint(field, value); err != nil {
			errs = append(errs, ValidationError{Field: key, Reason: err.Error()})
		}
	}
	return errs
}

func validateType(field FieldSchema, value any) error {
	switch field.Type {
	case TypeString, TypeDate, TypeJSON:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("expected string, got %T", value)
		}
	case TypeNumber:
		switch value.(type) {
		case float64, float32, int, int64:
		default:
			return fmt.Errorf("expected number, got %T", value)
		}
	case TypeBoolean:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("expected boolean, got %T", value)
		}
	case TypeArray:
		if _, ok := value.([]any); !ok {
			return fmt.Errorf("expected array, got %T", value)
		}
	case TypeObject:
		if _, ok := value.(map[string]any); !ok {
			return fmt.Errorf("expected object, got %T", value)
		}
	case TypeURL:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("expected string url, got %T", value)
		}
		if _, err := url.ParseRequestURI(s); err != nil {
			return fmt.Errorf("invalid url: %v", err)
		}
	case TypeEmail:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("expected string email, got %T", value)
		}
		if _, err := mail.ParseAddress(s); err != nil {
			return fmt.Errorf("invalid email: %v", err)
		}
	}
	return nil
}

func validateConstraint(field FieldSchema, value any) error {
	c := field.Constraint
	if n, ok := asFloat(value); ok {
		if c.Min != nil && n < *c.Min {
			return fmt.Errorf("value %v below minimum %v", n, *c.Min)
		}
		if c.Max != nil && n > *c.Max {
			return fmt.Errorf("value %v above maximum %v", n, *c.Max)
		}
	}
	if c.Pattern != "" {
		s, ok := value.(string)
		if ok {
			matched, err := regexp.MatchString(c.Pattern, s)
			if err != nil {
				return fmt.Errorf("invalid pattern %q: %v", c.Pattern, err)
			}
			if !matched {
				return fmt.Errorf("value %q does not match pattern %q", s, c.Pattern)
			}
		}
	}
	if len(c.Enum) > 0 {
		found := false
		for _, allowed := range c.Enum {
			if allowed == value {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("value %v is not one of %v", value, c.Enum)
		}
	}
	if c.Custom != nil {
		if err := c.Custom(value); err != nil {
			return err
		}
	}
	return nil
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
