package services

import (
	"context"

	"github.com/avissapr/groupwork/internal/database"
	"github.com/avissapr/groupwork/internal/models"
	"github.com/avissapr/groupwork/internal/repository"
	"github.com/jackc/pgx/v5"
)

// GroupStore is the persistence boundary the group services depend on.
// *repository.GroupRepository is the production implementation.
//
// Methods taking a pgx.Tx must run inside the caller's transaction; methods
// taking a database.Querier may run on the pool or on a transaction.
type GroupStore interface {
	GetGroupConfig(ctx context.Context, q database.Querier, assessmentID int64) (*models.GroupConfig, error)
	GetGroupID(ctx context.Context, q database.Querier, assessmentID, userID int64) (int64, bool, error)
	SelectGroup(ctx context.Context, q database.Querier, groupID int64) (*models.Group, error)
	LockGroupByID(ctx context.Context, tx pgx.Tx, assessmentID, groupID int64) (*models.LockedGroup, error)
	LockGroupByName(ctx context.Context, tx pgx.Tx, assessmentID int64, name string) (*models.LockedGroup, error)
	InsertGroup(ctx context.Context, tx pgx.Tx, assessmentID int64, name string) (*models.LockedGroup, error)
	SelectEligibleUser(ctx context.Context, q database.Querier, courseInstanceID int64, uid string) (*models.User, error)
	CountMembers(ctx context.Context, q database.Querier, groupID int64) (int, error)
	SelectMembers(ctx context.Context, q database.Querier, groupID int64) ([]models.GroupMember, error)
	InsertMember(ctx context.Context, tx pgx.Tx, group *models.LockedGroup, userID int64) error
	DeleteMember(ctx context.Context, tx pgx.Tx, groupID, userID int64) error
	DeleteGroup(ctx context.Context, tx pgx.Tx, assessmentID, groupID int64) (bool, error)
	DeleteAllGroups(ctx context.Context, tx pgx.Tx, assessmentID int64) ([]int64, error)
	InsertGroupLog(ctx context.Context, tx pgx.Tx, entry models.GroupLogEntry) error
	SelectGroupStats(ctx context.Context, q database.Querier, assessmentID, courseInstanceID int64) (*models.GroupStats, error)
	SelectGroupLogs(ctx context.Context, q database.Querier, assessmentID, groupID int64, limit int) ([]models.GroupLogEntry, error)
	SelectUngroupedUsers(ctx context.Context, q database.Querier, assessmentID, courseInstanceID int64) ([]models.User, error)

	SelectRoleAssignments(ctx context.Context, q database.Querier, groupID int64) ([]models.RoleAssignment, error)
	SelectGroupRoles(ctx context.Context, q database.Querier, groupID int64) ([]models.GroupRole, error)
	SelectUserRoles(ctx context.Context, q database.Querier, groupID, userID int64) ([]models.GroupRole, error)
	SelectSuitableRole(ctx context.Context, q database.Querier, groupID, assessmentID int64) (int64, bool, error)
	InsertRoleAssignment(ctx context.Context, tx pgx.Tx, groupID, userID, roleID int64) error
	ReplaceRoleAssignments(ctx context.Context, tx pgx.Tx, groupID int64, assignments []models.RoleAssignmentUpdate) error
	DeleteNonRequiredRoleAssignments(ctx context.Context, tx pgx.Tx, groupID, assessmentID int64) error
	SelectQuestionPermissions(ctx context.Context, q database.Querier, assessmentQuestionID, groupID, userID int64) (*models.QuestionPermissions, error)
}

var _ GroupStore = (*repository.GroupRepository)(nil)
