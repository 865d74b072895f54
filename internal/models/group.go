// Package models defines data structures for the group membership core.
// This file contains the persisted group entities and the derived read-models.
package models

import "time"

// Group represents a team of users collaborating on one assessment.
//
// Database: groups table, name unique per assessment
type Group struct {
	ID           int64     `db:"id" json:"id"`                       // Primary key
	Name         string    `db:"name" json:"name"`                   // Unique per assessment, [0-9a-zA-Z]{1,30}
	JoinCode     string    `db:"join_code" json:"join_code"`         // 4 uppercase alphanumeric characters
	AssessmentID int64     `db:"assessment_id" json:"assessment_id"` // Foreign key to assessments table
	CreatedAt    time.Time `db:"created_at" json:"created_at"`       // Timestamp when group was created
}

// FullJoinCode returns the code users type to join, "<name>-<code>".
func (g Group) FullJoinCode() string {
	return g.Name + "-" + g.JoinCode
}

// LockedGroup is a group row read with FOR UPDATE inside a transaction.
// Only the repository's locking and insert methods construct it, and they all
// require a pgx.Tx, so holding one means the row lock is held until commit.
type LockedGroup struct {
	Group
}

// GroupConfig is the assessment-level group policy.
//
// Database: group_configs table, one row per assessment
type GroupConfig struct {
	ID                 int64 `db:"id" json:"id"`
	AssessmentID       int64 `db:"assessment_id" json:"assessment_id"`
	CourseInstanceID   int64 `db:"course_instance_id" json:"course_instance_id"`
	Minimum            *int  `db:"minimum" json:"minimum"` // nil = no lower bound
	Maximum            *int  `db:"maximum" json:"maximum"` // nil = unlimited
	HasRoles           bool  `db:"has_roles" json:"has_roles"`
	StudentAuthzCreate bool  `db:"student_authz_create" json:"student_authz_create"`
	StudentAuthzJoin   bool  `db:"student_authz_join" json:"student_authz_join"`
	StudentAuthzLeave  bool  `db:"student_authz_leave" json:"student_authz_leave"`
}

// GroupMember is one row of a group's membership joined with the user record.
type GroupMember struct {
	UserID    int64  `db:"user_id" json:"user_id"`
	UID       string `db:"uid" json:"uid"`
	Name      string `db:"name" json:"name"`
	GroupName string `db:"group_name" json:"group_name"`
	JoinCode  string `db:"join_code" json:"join_code"`
}

// GroupRole is a role definition together with its live occupancy in one group.
//
// Database: group_roles table, count aggregated from group_user_roles
type GroupRole struct {
	ID             int64  `db:"id" json:"id"`
	RoleName       string `db:"role_name" json:"role_name"`
	Minimum        *int   `db:"minimum" json:"minimum"`
	Maximum        *int   `db:"maximum" json:"maximum"`
	CanAssignRoles bool   `db:"can_assign_roles" json:"can_assign_roles"`
	Count          int    `db:"count" json:"count"`
}

// MinimumOrZero returns the role minimum treating unset as 0.
func (r GroupRole) MinimumOrZero() int {
	if r.Minimum == nil {
		return 0
	}
	return *r.Minimum
}

// IsRequired reports whether the role must be filled (minimum > 0).
func (r GroupRole) IsRequired() bool {
	return r.MinimumOrZero() > 0
}

// RoleAssignment is a current (user, role) pair in a group.
//
// Database: group_user_roles table joined with users and group_roles
type RoleAssignment struct {
	UserID      int64  `db:"user_id" json:"user_id"`
	UID         string `db:"uid" json:"uid"`
	RoleName    string `db:"role_name" json:"role_name"`
	GroupRoleID int64  `db:"group_role_id" json:"group_role_id"`
}

// RoleAssignmentUpdate is one row of a replacement role table.
type RoleAssignmentUpdate struct {
	UserID      int64 `json:"user_id"`
	GroupRoleID int64 `json:"group_role_id"`
}

// RolesInfo is the derived role-validity snapshot of a group.
type RolesInfo struct {
	// RoleAssignments groups the current assignments by uid.
	RoleAssignments map[string][]RoleAssignment
	// Assignments holds the same rows in load order.
	Assignments       []RoleAssignment
	GroupRoles        []GroupRole
	ValidationErrors  []GroupRole
	DisabledRoles     []string
	RolesAreBalanced  bool
	UsersWithoutRoles []GroupMember
}

// GroupInfo is the read-model callers render or gate decisions on.
type GroupInfo struct {
	GroupID   int64
	Members   []GroupMember
	Size      int
	Name      string
	JoinCode  string // full "<name>-<code>" string
	Start     bool   // group is ready to start the assessment
	RolesInfo *RolesInfo
}

// QuestionPermissions is the OR of a user's role permissions on one question.
//
// Database: assessment_question_role_permissions table
type QuestionPermissions struct {
	CanView   bool `db:"can_view" json:"can_view"`
	CanSubmit bool `db:"can_submit" json:"can_submit"`
}
