package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestValidateGroupName tests the group name rules.
func TestValidateGroupName(t *testing.T) {
	v := NewValidationService(nil)

	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{"simple name", "Team1", ""},
		{"thirty characters", strings.Repeat("a", 30), ""},
		{"six digits is not reserved", "group123456", ""},
		{"prefix other than group", "groups1234567", ""},
		{"too long", strings.Repeat("a", 31), "too long"},
		{"empty", "", "invalid"},
		{"space", "my team", "invalid"},
		{"hyphen", "a-b", "invalid"},
		{"non ascii", "équipe", "invalid"},
		{"reserved seven digits", "group1234567", "cannot be of the format"},
		{"reserved many digits", "group0000000000", "cannot be of the format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateGroupName(tt.input)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// TestParseJoinCode tests join code splitting and normalisation.
func TestParseJoinCode(t *testing.T) {
	v := NewValidationService(nil)

	tests := []struct {
		name     string
		input    string
		wantName string
		wantCode string
		wantErr  bool
	}{
		{"valid", "ALPHA-1X2Y", "ALPHA", "1X2Y", false},
		{"lowercase code is uppercased", "alpha-1x2y", "alpha", "1X2Y", false},
		{"no separator", "ALPHA1X2Y", "", "", true},
		{"two separators", "AL-PHA-1X2Y", "", "", true},
		{"short code", "ALPHA-1X2", "", "", true},
		{"long code", "ALPHA-1X2YZ", "", "", true},
		{"empty", "", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, code, err := v.ParseJoinCode(tt.input)
			if tt.wantErr {
				assert.EqualError(t, err, "The join code has an incorrect format")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.wantCode, code)
		})
	}
}

// TestValidateRequired tests blank input detection.
func TestValidateRequired(t *testing.T) {
	v := NewValidationService(nil)

	assert.NoError(t, v.ValidateRequired("uid", "a@example.com"))
	assert.EqualError(t, v.ValidateRequired("uid", "   "), "uid is required")
}
