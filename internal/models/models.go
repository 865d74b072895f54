// Package models defines the domain entities and data transfer objects for the
// group membership core. Database records are mapped to PostgreSQL tables and the
// derived read-models are built by the services layer.
package models

import "time"

// ============================================================================
// Identity
// ============================================================================

// User is a user eligible to be placed in a group.
//
// Database Table: users
type User struct {
	ID   int64  `db:"user_id"` // Primary key
	UID  string `db:"uid"`     // Unique login identifier (usually an email)
	Name string `db:"name"`    // Display name
}

// AuthzData is the identity context supplied by the surrounding request.
// The core never authenticates; it only compares these ids.
type AuthzData struct {
	AuthnUserID        int64 // The authenticated user performing the request
	UserID             int64 // The effective user (differs when staff emulate a student)
	HasStaffPermission bool  // Caller has instructor-level rights on the assessment
}

// ============================================================================
// Audit
// ============================================================================

// Group log actions.
const (
	GroupActionCreate      = "create"
	GroupActionJoin        = "join"
	GroupActionLeave       = "leave"
	GroupActionUpdateRoles = "update roles"
	GroupActionDelete      = "delete"
)

// GroupLogEntry is an audit record of a membership or role change.
//
// Database Table: group_logs
// Immutability: rows are only ever inserted
type GroupLogEntry struct {
	ID           int64     `db:"id" json:"id"`
	AssessmentID int64     `db:"assessment_id" json:"assessment_id"`
	GroupID      int64     `db:"group_id" json:"group_id"`
	UserID       *int64    `db:"user_id" json:"user_id"` // Subject of the action, nil for group-level actions
	AuthnUserID  int64     `db:"authn_user_id" json:"authn_user_id"`
	Action       string    `db:"action" json:"action"`
	Roles        []string  `db:"roles" json:"roles"` // Role names held after an assignment change
	Date         time.Time `db:"date" json:"date"`
}

// ============================================================================
// Stats
// ============================================================================

// GroupStats summarises how far an assessment's students have formed groups.
type GroupStats struct {
	TotalGroups    int     `json:"total_groups"`
	GroupedUsers   int     `json:"grouped_users"`
	UngroupedUsers int     `json:"ungrouped_users"` // Enrolled students not yet in a group
	GroupedRate    float64 `json:"grouped_rate"`    // Percentage of students in a group (0-100)
}

// ============================================================================
// Bulk upload
// ============================================================================

// UploadRowError describes one rejected CSV row.
type UploadRowError struct {
	Row       int    `json:"row"`
	GroupName string `json:"group_name"`
	UID       string `json:"uid"`
	Message   string `json:"message"`
}

// UploadResult summarises a bulk group upload or a random assignment.
// Values are produced by folding row outcomes, never mutated in place.
type UploadResult struct {
	Added  int              `json:"added"`
	Failed int              `json:"failed"`
	Errors []UploadRowError `json:"errors"`
}

// WithSuccess returns a copy of r with one more added row.
func (r UploadResult) WithSuccess() UploadResult {
	return UploadResult{Added: r.Added + 1, Failed: r.Failed, Errors: r.Errors}
}

// WithFailure returns a copy of r recording a failed row.
func (r UploadResult) WithFailure(e UploadRowError) UploadResult {
	errs := make([]UploadRowError, len(r.Errors), len(r.Errors)+1)
	copy(errs, r.Errors)
	return UploadResult{Added: r.Added, Failed: r.Failed + 1, Errors: append(errs, e)}
}
