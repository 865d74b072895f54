// Package models_test provides unit tests for model helpers.
// Tests run without database connections or external dependencies.
package models_test

import (
	"testing"

	"github.com/avissapr/groupwork/internal/models"
	"github.com/stretchr/testify/assert"
)

func intPtr(v int) *int { return &v }

// TestGroup_FullJoinCode verifies the "<name>-<code>" join code text.
func TestGroup_FullJoinCode(t *testing.T) {
	g := models.Group{Name: "ALPHA", JoinCode: "1X2Y"}
	assert.Equal(t, "ALPHA-1X2Y", g.FullJoinCode())
}

// TestGroupRole_MinimumOrZero verifies unset minimums count as zero.
func TestGroupRole_MinimumOrZero(t *testing.T) {
	tests := []struct {
		name     string
		role     models.GroupRole
		min      int
		required bool
	}{
		{"unset minimum", models.GroupRole{}, 0, false},
		{"zero minimum", models.GroupRole{Minimum: intPtr(0)}, 0, false},
		{"required role", models.GroupRole{Minimum: intPtr(2)}, 2, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.min, tt.role.MinimumOrZero())
			assert.Equal(t, tt.required, tt.role.IsRequired())
		})
	}
}

// TestUploadResult_Fold verifies the accumulator never mutates earlier values.
func TestUploadResult_Fold(t *testing.T) {
	var start models.UploadResult

	first := start.WithFailure(models.UploadRowError{Row: 1, Message: "bad"})
	second := first.WithSuccess()
	third := second.WithFailure(models.UploadRowError{Row: 3, Message: "worse"})

	assert.Equal(t, 0, start.Failed)
	assert.Empty(t, start.Errors)

	assert.Equal(t, 1, first.Failed)
	assert.Len(t, first.Errors, 1)

	assert.Equal(t, 1, second.Added)
	assert.Len(t, second.Errors, 1)

	assert.Equal(t, 2, third.Failed)
	assert.Equal(t, 1, third.Added)
	assert.Len(t, third.Errors, 2)
	assert.Equal(t, 3, third.Errors[1].Row)
	assert.Len(t, first.Errors, 1, "earlier accumulator must be unchanged")
}
