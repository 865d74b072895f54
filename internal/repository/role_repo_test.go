// Package repository_test provides unit tests for the repository layer.
// Role repository tests verify role occupancy, assignment replacement and
// per-question permissions.
package repository_test

import (
	"context"
	"testing"

	"github.com/avissapr/groupwork/internal/models"
	"github.com/avissapr/groupwork/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roleRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{"id", "role_name", "minimum", "maximum", "can_assign_roles", "count"})
}

// TestGroupRepository_SelectGroupRoles verifies role definitions are returned with live counts.
//
// Query Details:
//   - JOIN group_roles on the group's assessment
//   - LEFT JOIN group_user_roles so unoccupied roles report count 0
func TestGroupRepository_SelectGroupRoles(t *testing.T) {
	mock := newMock(t)

	rows := roleRows().
		AddRow(int64(1), "Manager", intPtr(1), intPtr(1), true, 1).
		AddRow(int64(2), "Contributor", intPtr(0), (*int)(nil), false, 0)
	mock.ExpectQuery("SELECT (.+) FROM groups g(.+)JOIN group_roles gr(.+)LEFT JOIN group_user_roles").
		WithArgs(int64(3)).
		WillReturnRows(rows)

	roles, err := repository.NewGroupRepository().SelectGroupRoles(context.Background(), mock, 3)

	require.NoError(t, err)
	require.Len(t, roles, 2)
	assert.True(t, roles[0].CanAssignRoles)
	assert.Equal(t, 1, roles[0].Count)
	assert.Nil(t, roles[1].Maximum, "unlimited maximum should scan as nil")
	assert.False(t, roles[1].IsRequired())
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestGroupRepository_SelectRoleAssignments verifies (user, role) pairs joined with uids.
func TestGroupRepository_SelectRoleAssignments(t *testing.T) {
	mock := newMock(t)

	rows := pgxmock.NewRows([]string{"user_id", "uid", "role_name", "group_role_id"}).
		AddRow(int64(10), "a@example.com", "Manager", int64(1)).
		AddRow(int64(11), "b@example.com", "Recorder", int64(2))
	mock.ExpectQuery("SELECT (.+) FROM group_user_roles gur").
		WithArgs(int64(3)).
		WillReturnRows(rows)

	assignments, err := repository.NewGroupRepository().SelectRoleAssignments(context.Background(), mock, 3)

	require.NoError(t, err)
	assert.Equal(t, []models.RoleAssignment{
		{UserID: 10, UID: "a@example.com", RoleName: "Manager", GroupRoleID: 1},
		{UserID: 11, UID: "b@example.com", RoleName: "Recorder", GroupRoleID: 2},
	}, assignments)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestGroupRepository_SelectUserRoles verifies the roles held by one member.
func TestGroupRepository_SelectUserRoles(t *testing.T) {
	mock := newMock(t)

	mock.ExpectQuery("SELECT (.+) FROM group_user_roles gur(.+)WHERE gur.group_id = \\$1 AND gur.user_id = \\$2").
		WithArgs(int64(3), int64(10)).
		WillReturnRows(roleRows().AddRow(int64(1), "Manager", intPtr(1), intPtr(1), true, 1))

	roles, err := repository.NewGroupRepository().SelectUserRoles(context.Background(), mock, 3, 10)

	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, "Manager", roles[0].RoleName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestGroupRepository_SelectSuitableRole verifies role selection for a growing group.
func TestGroupRepository_SelectSuitableRole(t *testing.T) {
	tests := []struct {
		name      string
		mockSetup func(pgxmock.PgxPoolIface)
		wantID    int64
		wantFound bool
	}{
		{
			name: "role below maximum",
			mockSetup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery("WITH role_counts AS").
					WithArgs(int64(3), int64(5)).
					WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(2)))
			},
			wantID:    2,
			wantFound: true,
		},
		{
			name: "every role full",
			mockSetup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery("WITH role_counts AS").
					WithArgs(int64(3), int64(5)).
					WillReturnError(pgx.ErrNoRows)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMock(t)
			tt.mockSetup(mock)

			id, found, err := repository.NewGroupRepository().SelectSuitableRole(context.Background(), mock, 3, 5)

			require.NoError(t, err)
			assert.Equal(t, tt.wantFound, found)
			assert.Equal(t, tt.wantID, id)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

// TestGroupRepository_ReplaceRoleAssignments verifies the table is replaced, not merged.
//
// Database Operation:
//   - DELETE every group_user_roles row of the group
//   - INSERT the new pairs from two parallel bigint arrays
func TestGroupRepository_ReplaceRoleAssignments(t *testing.T) {
	mock := newMock(t)
	tx := beginTx(t, mock)

	mock.ExpectExec("DELETE FROM group_user_roles WHERE group_id").
		WithArgs(int64(3)).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec("INSERT INTO group_user_roles(.+)unnest").
		WithArgs(int64(3), []int64{10, 10}, []int64{1, 2}).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))

	err := repository.NewGroupRepository().ReplaceRoleAssignments(context.Background(), tx, 3, []models.RoleAssignmentUpdate{
		{UserID: 10, GroupRoleID: 1},
		{UserID: 10, GroupRoleID: 2},
	})

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestGroupRepository_ReplaceRoleAssignments_Empty verifies an empty plan only clears the table.
func TestGroupRepository_ReplaceRoleAssignments_Empty(t *testing.T) {
	mock := newMock(t)
	tx := beginTx(t, mock)

	mock.ExpectExec("DELETE FROM group_user_roles WHERE group_id").
		WithArgs(int64(3)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	err := repository.NewGroupRepository().ReplaceRoleAssignments(context.Background(), tx, 3, nil)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestGroupRepository_DeleteNonRequiredRoleAssignments verifies the size-driven cleanup statement.
func TestGroupRepository_DeleteNonRequiredRoleAssignments(t *testing.T) {
	mock := newMock(t)
	tx := beginTx(t, mock)

	mock.ExpectExec("DELETE FROM group_user_roles gur(.+)USING group_roles gr").
		WithArgs(int64(3), int64(5)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	err := repository.NewGroupRepository().DeleteNonRequiredRoleAssignments(context.Background(), tx, 3, 5)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestGroupRepository_SelectQuestionPermissions verifies OR-ed view/submit flags.
func TestGroupRepository_SelectQuestionPermissions(t *testing.T) {
	mock := newMock(t)

	mock.ExpectQuery("SELECT COALESCE\\(BOOL_OR").
		WithArgs(int64(42), int64(3), int64(10)).
		WillReturnRows(pgxmock.NewRows([]string{"can_view", "can_submit"}).AddRow(true, false))

	perms, err := repository.NewGroupRepository().SelectQuestionPermissions(context.Background(), mock, 42, 3, 10)

	require.NoError(t, err)
	assert.Equal(t, &models.QuestionPermissions{CanView: true, CanSubmit: false}, perms)
	assert.NoError(t, mock.ExpectationsWereMet())
}
