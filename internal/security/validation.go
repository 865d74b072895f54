// Package security provides input validation functionality for group operations.
package security

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	groupNamePattern     = regexp.MustCompile(`^[0-9a-zA-Z]+$`)
	reservedGroupPattern = regexp.MustCompile(`^group[0-9]{7,}$`)
)

// ValidationService provides centralized input validation functions.
// All validation methods return descriptive errors that are safe to show to users.
type ValidationService struct {
	config *SecurityConfig
}

// NewValidationService creates a new validation service with security configuration.
// A nil config uses DefaultSecurityConfig.
func NewValidationService(config *SecurityConfig) *ValidationService {
	if config == nil {
		config = DefaultSecurityConfig()
	}
	return &ValidationService{
		config: config,
	}
}

// ValidateGroupName validates a user-chosen group name.
// Names are 1 to 30 ASCII letters or digits and must not look like the
// auto-generated "group" + 7 or more digits names.
func (v *ValidationService) ValidateGroupName(name string) error {
	if len(name) > v.config.MaxGroupNameLength {
		return fmt.Errorf("The group name is too long. Use at most %d alphanumerical characters.", v.config.MaxGroupNameLength)
	}

	if !groupNamePattern.MatchString(name) {
		return fmt.Errorf("The group name is invalid. Only alphanumerical characters (letters and digits) are allowed.")
	}

	if reservedGroupPattern.MatchString(name) {
		return fmt.Errorf("Group names cannot be of the format \"group\" followed by seven or more digits.")
	}

	return nil
}

// ParseJoinCode splits "<name>-<code>" into the group name and the uppercased code.
//
// Returns:
//   - name: Group name segment, case preserved
//   - code: Code segment uppercased
//   - error: When there is not exactly one "-" or the code is not JoinCodeLength characters
func (v *ValidationService) ParseJoinCode(fullJoinCode string) (name, code string, err error) {
	parts := strings.Split(fullJoinCode, "-")
	if len(parts) != 2 || len(parts[1]) != v.config.JoinCodeLength {
		return "", "", fmt.Errorf("The join code has an incorrect format")
	}

	return parts[0], strings.ToUpper(parts[1]), nil
}

// ValidateRequired ensures a field is not empty.
func (v *ValidationService) ValidateRequired(fieldName, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}
