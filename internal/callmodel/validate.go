package callmodel

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	// E.164: optional leading +, 8-15 digits, first digit 1-9.
	e164Pattern = regexp.MustCompile(`^\+?[1-9]\d{7,14}$`)
)

// ValidateClaimValue checks value against the declared type of field,
// mirroring the per-field validators the original claim model enforces
// (models/claim.py): phone numbers in E.164, datetimes as ISO-8601/RFC3339.
func ValidateClaimValue(field ClaimField, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("callmodel: claim field %q requires a non-empty value", field.Name)
	}
	switch field.Type {
	case ClaimFieldText, "":
		return nil
	case ClaimFieldEmail:
		if !emailPattern.MatchString(value) {
			return fmt.Errorf("callmodel: claim field %q is not a valid email: %q", field.Name, value)
		}
		return nil
	case ClaimFieldPhoneNumber:
		if !e164Pattern.MatchString(value) {
			return fmt.Errorf("callmodel: claim field %q is not a valid E.164 phone number: %q", field.Name, value)
		}
		return nil
	case ClaimFieldDateTime:
		if _, err := ParseClaimDateTime(value); err != nil {
			return fmt.Errorf("callmodel: claim field %q is not a valid datetime: %w", field.Name, err)
		}
		return nil
	default:
		return fmt.Errorf("callmodel: claim field %q has unknown type %q", field.Name, field.Type)
	}
}

// ParseClaimDateTime accepts RFC3339 and the looser "YYYY-MM-DD HH:MM" form
// the LLM is instructed to emit for claim updates.
func ParseClaimDateTime(value string) (time.Time, error) {
	layouts := []string{
		time.RFC3339,
		"2006-01-02 15:04",
		"2006-01-02T15:04",
		"2006-01-02",
	}
	var lastErr error
	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, lastErr
}

// UpdateClaim validates and applies a single field update, returning an
// error without mutating Claim if the field is unknown or the value fails
// its type check.
func (c *Call) UpdateClaim(fieldName, value string) error {
	field, ok := c.Initiate.FieldByName(fieldName)
	if !ok {
		return fmt.Errorf("callmodel: %q is not a declared claim field", fieldName)
	}
	if err := ValidateClaimValue(field, value); err != nil {
		return err
	}
	if c.Claim == nil {
		c.Claim = make(map[string]string)
	}
	c.Claim[fieldName] = value
	return nil
}

// ValidateLanguage checks that code belongs to the call's configured set of
// available languages.
func (c *Call) ValidateLanguage(code string) error {
	for _, l := range c.Initiate.LanguagesAvailable {
		if l == code {
			return nil
		}
	}
	return fmt.Errorf("callmodel: language %q is not in languages_available", code)
}
