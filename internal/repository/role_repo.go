// Package repository implements the database access layer for the group core.
// This file handles role definitions, role assignments and question permissions.
package repository

import (
	"context"
	"errors"

	"github.com/avissapr/groupwork/internal/database"
	"github.com/avissapr/groupwork/internal/models"
	"github.com/jackc/pgx/v5"
)

const roleColumns = `gr.id, gr.role_name, gr.minimum, gr.maximum, gr.can_assign_roles`

func scanRoles(rows pgx.Rows) ([]models.GroupRole, error) {
	defer rows.Close()

	var roles []models.GroupRole
	for rows.Next() {
		var role models.GroupRole
		err := rows.Scan(&role.ID, &role.RoleName, &role.Minimum, &role.Maximum, &role.CanAssignRoles, &role.Count)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// SelectRoleAssignments retrieves the current (user, role) pairs of a group.
//
// Parameters:
//   - ctx: Context for cancellation and timeout control
//   - q: Pool or transaction to run on
//   - groupID: Group whose assignments to load
//
// Returns:
//   - []models.RoleAssignment: Pairs ordered by uid then role id
//   - error: Database error if query fails
func (r *GroupRepository) SelectRoleAssignments(ctx context.Context, q database.Querier, groupID int64) ([]models.RoleAssignment, error) {
	query := `
		SELECT gur.user_id, u.uid, gr.role_name, gur.group_role_id
		FROM group_user_roles gur
		JOIN users u ON u.user_id = gur.user_id
		JOIN group_roles gr ON gr.id = gur.group_role_id
		WHERE gur.group_id = $1
		ORDER BY u.uid, gr.id
	`

	rows, err := q.Query(ctx, query, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assignments []models.RoleAssignment
	for rows.Next() {
		var a models.RoleAssignment
		if err := rows.Scan(&a.UserID, &a.UID, &a.RoleName, &a.GroupRoleID); err != nil {
			return nil, err
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

// SelectGroupRoles retrieves every role defined for the group's assessment
// along with its occupancy in this group.
//
// Database: LEFT JOIN with group_user_roles so unoccupied roles count 0
func (r *GroupRepository) SelectGroupRoles(ctx context.Context, q database.Querier, groupID int64) ([]models.GroupRole, error) {
	query := `
		SELECT ` + roleColumns + `, COUNT(gur.user_id)::int AS count
		FROM groups g
		JOIN group_roles gr ON gr.assessment_id = g.assessment_id
		LEFT JOIN group_user_roles gur ON gur.group_role_id = gr.id AND gur.group_id = g.id
		WHERE g.id = $1
		GROUP BY gr.id
		ORDER BY gr.id
	`

	rows, err := q.Query(ctx, query, groupID)
	if err != nil {
		return nil, err
	}
	return scanRoles(rows)
}

// SelectUserRoles retrieves the roles a user holds in a group.
func (r *GroupRepository) SelectUserRoles(ctx context.Context, q database.Querier, groupID, userID int64) ([]models.GroupRole, error) {
	query := `
		SELECT ` + roleColumns + `,
		       (SELECT COUNT(*) FROM group_user_roles c
		        WHERE c.group_id = gur.group_id AND c.group_role_id = gr.id)::int AS count
		FROM group_user_roles gur
		JOIN group_roles gr ON gr.id = gur.group_role_id
		WHERE gur.group_id = $1 AND gur.user_id = $2
		ORDER BY gr.id
	`

	rows, err := q.Query(ctx, query, groupID, userID)
	if err != nil {
		return nil, err
	}
	return scanRoles(rows)
}

// SelectSuitableRole picks a role for a member joining a group: any role still
// below its maximum, preferring required roles with the largest shortfall.
//
// Returns:
//   - int64: Role id, valid only when found is true
//   - bool: false when every role is at its maximum (or none are defined)
//   - error: Database error if query fails
func (r *GroupRepository) SelectSuitableRole(ctx context.Context, q database.Querier, groupID, assessmentID int64) (int64, bool, error) {
	query := `
		WITH role_counts AS (
		  SELECT gr.id, gr.minimum, gr.maximum, COUNT(gur.user_id) AS count
		  FROM group_roles gr
		  LEFT JOIN group_user_roles gur ON gur.group_role_id = gr.id AND gur.group_id = $1
		  WHERE gr.assessment_id = $2
		  GROUP BY gr.id
		)
		SELECT id
		FROM role_counts
		WHERE maximum IS NULL OR count < maximum
		ORDER BY (COALESCE(minimum, 0) - count) DESC, id
		LIMIT 1
	`

	var roleID int64
	err := q.QueryRow(ctx, query, groupID, assessmentID).Scan(&roleID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return roleID, true, nil
}

// InsertRoleAssignment gives a member one role.
func (r *GroupRepository) InsertRoleAssignment(ctx context.Context, tx pgx.Tx, groupID, userID, roleID int64) error {
	query := `
		INSERT INTO group_user_roles (group_id, user_id, group_role_id)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
	`

	_, err := tx.Exec(ctx, query, groupID, userID, roleID)
	return err
}

// ReplaceRoleAssignments swaps the group's whole role table for assignments.
//
// Database: DELETE then INSERT ... SELECT FROM unnest, both in the caller's transaction
func (r *GroupRepository) ReplaceRoleAssignments(ctx context.Context, tx pgx.Tx, groupID int64, assignments []models.RoleAssignmentUpdate) error {
	if _, err := tx.Exec(ctx, `DELETE FROM group_user_roles WHERE group_id = $1`, groupID); err != nil {
		return err
	}
	if len(assignments) == 0 {
		return nil
	}

	userIDs := make([]int64, len(assignments))
	roleIDs := make([]int64, len(assignments))
	for i, a := range assignments {
		userIDs[i] = a.UserID
		roleIDs[i] = a.GroupRoleID
	}

	query := `
		INSERT INTO group_user_roles (group_id, user_id, group_role_id)
		SELECT $1, a.user_id, a.group_role_id
		FROM unnest($2::bigint[], $3::bigint[]) AS a(user_id, group_role_id)
		ON CONFLICT DO NOTHING
	`
	_, err := tx.Exec(ctx, query, groupID, userIDs, roleIDs)
	return err
}

// DeleteNonRequiredRoleAssignments clears the group's rows of the assessment's
// roles with minimum 0.
func (r *GroupRepository) DeleteNonRequiredRoleAssignments(ctx context.Context, tx pgx.Tx, groupID, assessmentID int64) error {
	query := `
		DELETE FROM group_user_roles gur
		USING group_roles gr
		WHERE gur.group_id = $1
		  AND gur.group_role_id = gr.id
		  AND gr.assessment_id = $2
		  AND COALESCE(gr.minimum, 0) = 0
	`

	_, err := tx.Exec(ctx, query, groupID, assessmentID)
	return err
}

// SelectQuestionPermissions ORs the view/submit permissions of every role the
// user holds on one assessment question. No roles means no permissions.
func (r *GroupRepository) SelectQuestionPermissions(ctx context.Context, q database.Querier, assessmentQuestionID, groupID, userID int64) (*models.QuestionPermissions, error) {
	query := `
		SELECT COALESCE(BOOL_OR(aqrp.can_view), FALSE),
		       COALESCE(BOOL_OR(aqrp.can_submit), FALSE)
		FROM group_user_roles gur
		JOIN assessment_question_role_permissions aqrp ON aqrp.group_role_id = gur.group_role_id
		WHERE aqrp.assessment_question_id = $1
		  AND gur.group_id = $2
		  AND gur.user_id = $3
	`

	var p models.QuestionPermissions
	if err := q.QueryRow(ctx, query, assessmentQuestionID, groupID, userID).Scan(&p.CanView, &p.CanSubmit); err != nil {
		return nil, err
	}
	return &p, nil
}
