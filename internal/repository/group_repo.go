// Package repository implements the database access layer for the group core.
// This file handles groups, memberships and group configuration.
package repository

import (
	"context"
	"errors"

	"github.com/avissapr/groupwork/internal/database"
	"github.com/avissapr/groupwork/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Constraint names the service translates into user-facing errors.
const (
	ConstraintGroupName       = "groups_assessment_id_name_key"
	ConstraintSingleGroupUser = "group_users_assessment_id_user_id_key"
)

const pgUniqueViolation = "23505"

// IsUniqueViolation reports whether err is a PostgreSQL unique violation.
// An empty constraint matches any unique violation.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgUniqueViolation && (constraint == "" || pgErr.ConstraintName == constraint)
}

// GroupRepository handles group-related database operations.
// Every method takes the Querier to run on so callers decide whether a read
// belongs to an open transaction. Locking methods require a pgx.Tx.
type GroupRepository struct{}

// NewGroupRepository creates a new instance of GroupRepository.
func NewGroupRepository() *GroupRepository {
	return &GroupRepository{}
}

const groupColumns = `g.id, g.name, g.join_code, g.assessment_id, g.created_at`

func scanGroup(row pgx.Row) (*models.Group, error) {
	var g models.Group
	if err := row.Scan(&g.ID, &g.Name, &g.JoinCode, &g.AssessmentID, &g.CreatedAt); err != nil {
		return nil, err
	}
	return &g, nil
}

// GetGroupConfig retrieves the group policy of an assessment.
//
// Parameters:
//   - ctx: Context for cancellation and timeout control
//   - q: Pool or transaction to run on
//   - assessmentID: Assessment whose config to load
//
// Returns:
//   - *models.GroupConfig: The config, or nil if the assessment has none
//   - error: Database error if query fails, nil on success
//
// Database: group_configs.assessment_id is unique
func (r *GroupRepository) GetGroupConfig(ctx context.Context, q database.Querier, assessmentID int64) (*models.GroupConfig, error) {
	query := `
		SELECT id, assessment_id, course_instance_id, minimum, maximum, has_roles,
		       student_authz_create, student_authz_join, student_authz_leave
		FROM group_configs
		WHERE assessment_id = $1
	`

	var c models.GroupConfig
	err := q.QueryRow(ctx, query, assessmentID).Scan(
		&c.ID, &c.AssessmentID, &c.CourseInstanceID, &c.Minimum, &c.Maximum, &c.HasRoles,
		&c.StudentAuthzCreate, &c.StudentAuthzJoin, &c.StudentAuthzLeave,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetGroupID returns the id of the user's group in an assessment.
//
// Returns:
//   - int64: Group id, valid only when found is true
//   - bool: Whether the user is in a group for this assessment
//   - error: Database error if query fails
func (r *GroupRepository) GetGroupID(ctx context.Context, q database.Querier, assessmentID, userID int64) (int64, bool, error) {
	query := `SELECT group_id FROM group_users WHERE assessment_id = $1 AND user_id = $2`

	var groupID int64
	err := q.QueryRow(ctx, query, assessmentID, userID).Scan(&groupID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return groupID, true, nil
}

// SelectGroup loads a group row without locking it. Returns nil if absent.
func (r *GroupRepository) SelectGroup(ctx context.Context, q database.Querier, groupID int64) (*models.Group, error) {
	query := `SELECT ` + groupColumns + ` FROM groups g WHERE g.id = $1`

	g, err := scanGroup(q.QueryRow(ctx, query, groupID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return g, err
}

// LockGroupByID selects a group of an assessment with FOR UPDATE.
//
// Parameters:
//   - ctx: Context for cancellation and timeout control
//   - tx: Transaction holding the lock until commit or rollback
//   - assessmentID: Assessment the group must belong to
//   - groupID: Group to lock
//
// Returns:
//   - *models.LockedGroup: Locked group, or nil if no such group exists
//   - error: Database error if query fails
//
// Database: Row lock serializes concurrent joins of the same group
func (r *GroupRepository) LockGroupByID(ctx context.Context, tx pgx.Tx, assessmentID, groupID int64) (*models.LockedGroup, error) {
	query := `SELECT ` + groupColumns + ` FROM groups g WHERE g.id = $1 AND g.assessment_id = $2 FOR UPDATE`
	return lockGroup(tx.QueryRow(ctx, query, groupID, assessmentID))
}

// LockGroupByName selects a group by its exact (case-sensitive) name with FOR UPDATE.
func (r *GroupRepository) LockGroupByName(ctx context.Context, tx pgx.Tx, assessmentID int64, name string) (*models.LockedGroup, error) {
	query := `SELECT ` + groupColumns + ` FROM groups g WHERE g.assessment_id = $1 AND g.name = $2 FOR UPDATE`
	return lockGroup(tx.QueryRow(ctx, query, assessmentID, name))
}

func lockGroup(row pgx.Row) (*models.LockedGroup, error) {
	g, err := scanGroup(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &models.LockedGroup{Group: *g}, nil
}

// InsertGroup creates a group and returns it locked (rows inserted by a
// transaction are invisible to others until commit).
//
// An empty name is replaced by "group<N>", N being one more than the largest
// numeric suffix of the assessment's "group<digits>" names. The assessment row
// is locked first so concurrent generators cannot pick the same N.
//
// Returns:
//   - *models.LockedGroup: New group with database-generated join code
//   - error: Unique violation on ConstraintGroupName if the name is taken
//
// Database: join_code defaults to 4 random uppercase hex characters
func (r *GroupRepository) InsertGroup(ctx context.Context, tx pgx.Tx, assessmentID int64, name string) (*models.LockedGroup, error) {
	if name == "" {
		return r.insertGeneratedGroup(ctx, tx, assessmentID)
	}

	query := `
		INSERT INTO groups AS g (assessment_id, name)
		VALUES ($1, $2)
		RETURNING ` + groupColumns

	g, err := scanGroup(tx.QueryRow(ctx, query, assessmentID, name))
	if err != nil {
		return nil, err
	}
	return &models.LockedGroup{Group: *g}, nil
}

func (r *GroupRepository) insertGeneratedGroup(ctx context.Context, tx pgx.Tx, assessmentID int64) (*models.LockedGroup, error) {
	if _, err := tx.Exec(ctx, `SELECT 1 FROM assessments WHERE id = $1 FOR UPDATE`, assessmentID); err != nil {
		return nil, err
	}

	// numeric: a 25 digit suffix does not fit a bigint
	query := `
		INSERT INTO groups AS g (assessment_id, name)
		VALUES ($1, 'group' || (
		  SELECT COALESCE(MAX(substring(x.name FROM '^group([0-9]+)$')::numeric), 0) + 1
		  FROM groups x
		  WHERE x.assessment_id = $1
		))
		RETURNING ` + groupColumns

	g, err := scanGroup(tx.QueryRow(ctx, query, assessmentID))
	if err != nil {
		return nil, err
	}
	return &models.LockedGroup{Group: *g}, nil
}

// SelectEligibleUser resolves a uid to a user allowed to join groups in a course instance.
//
// A user is eligible when they are enrolled with status 'joined', hold a course
// role on the instance's course, or the course is an example course and they
// hold a course role on any course.
//
// Returns:
//   - *models.User: The user, or nil when the uid is unknown or ineligible
//   - error: Database error if query fails
func (r *GroupRepository) SelectEligibleUser(ctx context.Context, q database.Querier, courseInstanceID int64, uid string) (*models.User, error) {
	query := `
		SELECT u.user_id, u.uid, u.name
		FROM users u
		WHERE u.uid = $2
		  AND (
		    EXISTS (
		      SELECT 1 FROM enrollments e
		      WHERE e.user_id = u.user_id AND e.course_instance_id = $1 AND e.status = 'joined'
		    )
		    OR EXISTS (
		      SELECT 1
		      FROM course_permissions cp
		      JOIN course_instances ci ON ci.course_id = cp.course_id
		      WHERE ci.id = $1 AND cp.user_id = u.user_id AND cp.course_role != 'None'
		    )
		    OR EXISTS (
		      SELECT 1
		      FROM course_instances ci
		      JOIN courses c ON c.id = ci.course_id
		      JOIN course_permissions cp ON cp.user_id = u.user_id
		      WHERE ci.id = $1 AND c.example_course AND cp.course_role != 'None'
		    )
		  )
	`

	var u models.User
	err := q.QueryRow(ctx, query, courseInstanceID, uid).Scan(&u.ID, &u.UID, &u.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// SelectUngroupedUsers lists the students enrolled in the course instance who
// are not in a group of the assessment, ordered by uid.
func (r *GroupRepository) SelectUngroupedUsers(ctx context.Context, q database.Querier, assessmentID, courseInstanceID int64) ([]models.User, error) {
	query := `
		SELECT u.user_id, u.uid, u.name
		FROM users u
		JOIN enrollments e ON e.user_id = u.user_id
		WHERE e.course_instance_id = $2
		  AND e.status = 'joined'
		  AND NOT EXISTS (
		    SELECT 1 FROM group_users gu
		    WHERE gu.assessment_id = $1 AND gu.user_id = u.user_id
		  )
		ORDER BY u.uid
	`

	rows, err := q.Query(ctx, query, assessmentID, courseInstanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.UID, &u.Name); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// CountMembers returns the current number of members of a group.
func (r *GroupRepository) CountMembers(ctx context.Context, q database.Querier, groupID int64) (int, error) {
	var n int
	err := q.QueryRow(ctx, `SELECT COUNT(*)::int FROM group_users WHERE group_id = $1`, groupID).Scan(&n)
	return n, err
}

// SelectMembers retrieves the members of a group ordered by uid.
//
// Database: JOIN users and groups through group_users
func (r *GroupRepository) SelectMembers(ctx context.Context, q database.Querier, groupID int64) ([]models.GroupMember, error) {
	query := `
		SELECT u.user_id, u.uid, u.name, g.name, g.join_code
		FROM groups g
		JOIN group_users gu ON gu.group_id = g.id
		JOIN users u ON u.user_id = gu.user_id
		WHERE g.id = $1
		ORDER BY u.uid
	`

	rows, err := q.Query(ctx, query, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []models.GroupMember
	for rows.Next() {
		var m models.GroupMember
		if err := rows.Scan(&m.UserID, &m.UID, &m.Name, &m.GroupName, &m.JoinCode); err != nil {
			return nil, err
		}
		members = append(members, m)
	}

	return members, rows.Err()
}

// InsertMember adds a user to a locked group.
//
// Returns:
//   - error: Unique violation on ConstraintSingleGroupUser when the user is
//     already in a group of the same assessment
func (r *GroupRepository) InsertMember(ctx context.Context, tx pgx.Tx, group *models.LockedGroup, userID int64) error {
	query := `
		INSERT INTO group_users (group_id, user_id, assessment_id)
		VALUES ($1, $2, $3)
	`

	_, err := tx.Exec(ctx, query, group.ID, userID, group.AssessmentID)
	return err
}

// DeleteMember removes a user from a group. Their role assignments cascade.
func (r *GroupRepository) DeleteMember(ctx context.Context, tx pgx.Tx, groupID, userID int64) error {
	_, err := tx.Exec(ctx, `DELETE FROM group_users WHERE group_id = $1 AND user_id = $2`, groupID, userID)
	return err
}

// DeleteGroup removes a group of an assessment.
//
// Returns:
//   - bool: false when no such group existed
//   - error: Database error if deletion fails
//
// Database: ON DELETE CASCADE removes group_users and group_user_roles entries
func (r *GroupRepository) DeleteGroup(ctx context.Context, tx pgx.Tx, assessmentID, groupID int64) (bool, error) {
	tag, err := tx.Exec(ctx, `DELETE FROM groups WHERE id = $1 AND assessment_id = $2`, groupID, assessmentID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteAllGroups removes every group of an assessment and returns their ids.
func (r *GroupRepository) DeleteAllGroups(ctx context.Context, tx pgx.Tx, assessmentID int64) ([]int64, error) {
	rows, err := tx.Query(ctx, `DELETE FROM groups WHERE assessment_id = $1 RETURNING id`, assessmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
