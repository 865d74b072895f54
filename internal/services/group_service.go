// Package services provides the business logic layer for group membership.
// This file implements the group lifecycle: create, join, add, leave, delete
// and role updates, each as one transaction that locks the group row first.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avissapr/groupwork/internal/database"
	"github.com/avissapr/groupwork/internal/logging"
	"github.com/avissapr/groupwork/internal/metrics"
	"github.com/avissapr/groupwork/internal/models"
	"github.com/avissapr/groupwork/internal/repository"
	"github.com/avissapr/groupwork/internal/security"
	"github.com/jackc/pgx/v5"
)

// Operation names reported to the metrics collector.
const (
	OpCreate      = "create"
	OpJoin        = "join"
	OpAdd         = "add"
	OpCreateOrAdd = "create_or_add"
	OpLeave       = "leave"
	OpUpdateRoles = "update_roles"
	OpDelete      = "delete"
	OpDeleteAll   = "delete_all"
	OpUpload      = "upload"
	OpRandom      = "random"
)

const msgTooManyJoins = "Too many join attempts. Please wait and try again."

// GroupService handles group membership and role assignment.
// It is the only component that mutates group state.
//
// Dependencies:
//   - GroupStore: Persistence boundary (repository.GroupRepository in production)
//   - Transactor: Runs each mutation in one transaction
//   - ValidationService: Group name and join code rules
//   - RateLimiter: Optional per-user join attempt limit
type GroupService struct {
	store       GroupStore
	tx          database.Transactor
	reader      database.Querier // nil means database.DB at call time
	validator   *security.ValidationService
	joinLimiter *security.RateLimiter
	logger      logging.Logger
	metrics     metrics.Collector
}

// Option configures a GroupService.
type Option func(*GroupService)

// WithLogger sets the logger. Defaults to a nop logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *GroupService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector. Defaults to a nop collector.
func WithMetrics(collector metrics.Collector) Option {
	return func(s *GroupService) {
		if collector != nil {
			s.metrics = collector
		}
	}
}

// WithJoinLimiter limits join attempts per authenticated user.
func WithJoinLimiter(limiter *security.RateLimiter) Option {
	return func(s *GroupService) {
		s.joinLimiter = limiter
	}
}

// WithReader sets the querier used for reads outside a transaction.
func WithReader(q database.Querier) Option {
	return func(s *GroupService) {
		s.reader = q
	}
}

// WithValidator replaces the default validation rules.
func WithValidator(v *security.ValidationService) Option {
	return func(s *GroupService) {
		if v != nil {
			s.validator = v
		}
	}
}

// NewGroupService creates a GroupService.
// A nil store uses the PostgreSQL repository and a nil transactor uses the global pool.
//
// Example:
//
//	svc := services.NewGroupService(nil, nil,
//	    services.WithLogger(logger),
//	    services.WithMetrics(collector),
//	)
func NewGroupService(store GroupStore, tx database.Transactor, opts ...Option) *GroupService {
	if store == nil {
		store = repository.NewGroupRepository()
	}
	if tx == nil {
		tx = database.NewTransactor(nil)
	}

	s := &GroupService{
		store:     store,
		tx:        tx,
		validator: security.NewValidationService(nil),
		logger:    logging.NewNop(),
		metrics:   metrics.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *GroupService) querier() database.Querier {
	if s.reader != nil {
		return s.reader
	}
	if database.DB == nil {
		return nil
	}
	return database.DB
}

func (s *GroupService) observe(op string, start time.Time, err error) {
	result := metrics.ResultSuccess
	switch {
	case err == nil:
	case IsGroupOperationError(err), IsAccessDenied(err):
		result = metrics.ResultRejected
	default:
		result = metrics.ResultError
		s.logger.Error("group operation failed", "op", op, "error", err)
	}
	s.metrics.ObserveOperation(op, result, time.Since(start))
}

// ============================================================================
// Reads
// ============================================================================

// GetGroupConfig retrieves the group policy of an assessment.
//
// Returns:
//   - *models.GroupConfig: The assessment's config
//   - error: GroupOperationError if the assessment has no group config, or database error
func (s *GroupService) GetGroupConfig(ctx context.Context, assessmentID int64) (*models.GroupConfig, error) {
	return s.groupConfig(ctx, s.querier(), assessmentID)
}

func (s *GroupService) groupConfig(ctx context.Context, q database.Querier, assessmentID int64) (*models.GroupConfig, error) {
	cfg, err := s.store.GetGroupConfig(ctx, q, assessmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load group config for assessment %d: %w", assessmentID, err)
	}
	if cfg == nil {
		return nil, NewGroupOperationError("Group configuration not found")
	}
	return cfg, nil
}

// GetGroupID returns the user's current group in an assessment; found is false if none.
func (s *GroupService) GetGroupID(ctx context.Context, assessmentID, userID int64) (groupID int64, found bool, err error) {
	return s.store.GetGroupID(ctx, s.querier(), assessmentID, userID)
}

// GetGroupInfo builds the read-model of a group for rendering or gating.
func (s *GroupService) GetGroupInfo(ctx context.Context, groupID int64, cfg *models.GroupConfig) (*models.GroupInfo, error) {
	return loadGroupInfo(ctx, s.store, s.querier(), groupID, cfg)
}

// GetUserRoles returns the roles the user holds in a group.
func (s *GroupService) GetUserRoles(ctx context.Context, groupID, userID int64) ([]models.GroupRole, error) {
	return s.store.SelectUserRoles(ctx, s.querier(), groupID, userID)
}

// GetQuestionGroupPermissions returns the OR of the view/submit permissions
// of every role the user holds for one assessment question.
func (s *GroupService) GetQuestionGroupPermissions(ctx context.Context, assessmentQuestionID, groupID, userID int64) (*models.QuestionPermissions, error) {
	return s.store.SelectQuestionPermissions(ctx, s.querier(), assessmentQuestionID, groupID, userID)
}

// GetGroupStats returns the grouping progress of an assessment.
func (s *GroupService) GetGroupStats(ctx context.Context, assessmentID int64) (*models.GroupStats, error) {
	q := s.querier()
	cfg, err := s.groupConfig(ctx, q, assessmentID)
	if err != nil {
		return nil, err
	}
	return s.store.SelectGroupStats(ctx, q, assessmentID, cfg.CourseInstanceID)
}

// GetGroupLog returns up to limit audit entries of a group of the assessment,
// newest first. The history of a deleted group stays readable; a group of
// another assessment has no entries.
func (s *GroupService) GetGroupLog(ctx context.Context, assessmentID, groupID int64, limit int) ([]models.GroupLogEntry, error) {
	return s.store.SelectGroupLogs(ctx, s.querier(), assessmentID, groupID, limit)
}

// ============================================================================
// Membership
// ============================================================================

// CreateGroup creates a group and adds every uid to it in one transaction.
//
// Parameters:
//   - ctx: Context for cancellation and timeout control
//   - assessmentID: Assessment the group belongs to
//   - name: Group name, 1 to 30 letters or digits, not "group" + 7 or more digits.
//     Empty lets the database name the group "group<N>".
//   - uids: Users to add, at least one
//   - authz: Identity of the caller
//
// Returns:
//   - *models.Group: The created group
//   - error: GroupOperationError, wrapped as "Failed to create the group <name>. <reason>",
//     on invalid name, taken name, empty uids or a rejected member; database
//     error otherwise. Nothing is persisted on error.
func (s *GroupService) CreateGroup(ctx context.Context, assessmentID int64, name string, uids []string, authz models.AuthzData) (group *models.Group, err error) {
	defer func(start time.Time) { s.observe(OpCreate, start, err) }(time.Now())

	err = s.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		cfg, err := s.groupConfig(ctx, tx, assessmentID)
		if err != nil {
			return err
		}
		locked, err := s.createGroupTx(ctx, tx, cfg, name, uids, authz)
		if err != nil {
			return err
		}
		group = &locked.Group
		return nil
	})

	var opErr *GroupOperationError
	if errors.As(err, &opErr) {
		return nil, createFailed(name, opErr)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("group created", "name", group.Name, "group_id", group.ID, "assessment_id", assessmentID, "members", len(uids), "authn_user_id", authz.AuthnUserID)
	return group, nil
}

func createFailed(name string, opErr *GroupOperationError) error {
	if name == "" {
		return NewGroupOperationError("Failed to create the group. %s", opErr.Message)
	}
	return NewGroupOperationError("Failed to create the group %s. %s", name, opErr.Message)
}

// createGroupTx inserts the group and its members. An empty name is generated
// by the store and skips name validation.
func (s *GroupService) createGroupTx(ctx context.Context, tx pgx.Tx, cfg *models.GroupConfig, name string, uids []string, authz models.AuthzData) (*models.LockedGroup, error) {
	if name != "" {
		if err := s.validator.ValidateGroupName(name); err != nil {
			return nil, NewGroupOperationError("%s", err.Error())
		}
	}
	if len(uids) == 0 {
		return nil, NewGroupOperationError("There must be at least one user in the group")
	}

	group, err := s.store.InsertGroup(ctx, tx, cfg.AssessmentID, name)
	if repository.IsUniqueViolation(err, repository.ConstraintGroupName) {
		return nil, NewGroupOperationError("Group name is already taken")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert group: %w", err)
	}

	if err := s.store.InsertGroupLog(ctx, tx, models.GroupLogEntry{
		AssessmentID: group.AssessmentID,
		GroupID:      group.ID,
		AuthnUserID:  authz.AuthnUserID,
		Action:       models.GroupActionCreate,
	}); err != nil {
		return nil, fmt.Errorf("failed to log group creation: %w", err)
	}

	for _, uid := range uids {
		if err := s.addUserToGroupTx(ctx, tx, cfg, group, uid, false, authz); err != nil {
			return nil, err
		}
	}
	return group, nil
}

// JoinGroup adds the user identified by uid to the group named by a
// "<name>-<code>" join code, enforcing the maximum group size.
//
// Returns:
//   - error: GroupOperationError, wrapped as `Cannot join group "<code>": <reason>`
//     for failures after the code was parsed
func (s *GroupService) JoinGroup(ctx context.Context, assessmentID int64, fullJoinCode, uid string, authz models.AuthzData) (err error) {
	defer func(start time.Time) { s.observe(OpJoin, start, err) }(time.Now())

	if s.joinLimiter != nil && !s.joinLimiter.AllowUser(authz.AuthnUserID) {
		s.logger.Warn("join rate limit exceeded", "authn_user_id", authz.AuthnUserID, "assessment_id", assessmentID)
		return &GroupOperationError{Message: msgTooManyJoins}
	}

	name, code, err := s.validator.ParseJoinCode(fullJoinCode)
	if err != nil {
		return NewGroupOperationError("%s", err.Error())
	}

	var groupID int64
	err = s.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		cfg, err := s.groupConfig(ctx, tx, assessmentID)
		if err != nil {
			return err
		}

		group, err := s.store.LockGroupByName(ctx, tx, assessmentID, name)
		if err != nil {
			return fmt.Errorf("failed to lock group: %w", err)
		}
		if group == nil || group.JoinCode != code {
			return NewGroupOperationError("The group does not exist or the join code is incorrect")
		}
		groupID = group.ID

		return s.addUserToGroupTx(ctx, tx, cfg, group, uid, true, authz)
	})

	var opErr *GroupOperationError
	if errors.As(err, &opErr) {
		return NewGroupOperationError("Cannot join group \"%s\": %s", fullJoinCode, opErr.Message)
	}
	if err != nil {
		return err
	}

	s.logger.Info("user joined group", "group_id", groupID, "assessment_id", assessmentID, "uid", uid)
	return nil
}

// AddUserToGroup adds uid to an existing group of the assessment.
// enforceGroupSize rejects the addition when the group is at its maximum.
func (s *GroupService) AddUserToGroup(ctx context.Context, assessmentID, groupID int64, uid string, enforceGroupSize bool, authz models.AuthzData) (err error) {
	defer func(start time.Time) { s.observe(OpAdd, start, err) }(time.Now())

	err = s.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		cfg, err := s.groupConfig(ctx, tx, assessmentID)
		if err != nil {
			return err
		}

		group, err := s.store.LockGroupByID(ctx, tx, assessmentID, groupID)
		if err != nil {
			return fmt.Errorf("failed to lock group: %w", err)
		}
		if group == nil {
			return NewGroupOperationError("Group does not exist")
		}

		return s.addUserToGroupTx(ctx, tx, cfg, group, uid, enforceGroupSize, authz)
	})
	if err != nil {
		return err
	}

	s.logger.Info("user added to group", "group_id", groupID, "assessment_id", assessmentID, "uid", uid, "authn_user_id", authz.AuthnUserID)
	return nil
}

// addUserToGroupTx runs inside the caller's transaction, which holds the lock on group.
func (s *GroupService) addUserToGroupTx(ctx context.Context, tx pgx.Tx, cfg *models.GroupConfig, group *models.LockedGroup, uid string, enforceGroupSize bool, authz models.AuthzData) error {
	user, err := s.store.SelectEligibleUser(ctx, tx, cfg.CourseInstanceID, uid)
	if err != nil {
		return fmt.Errorf("failed to look up user %s: %w", uid, err)
	}
	if user == nil {
		return NewGroupOperationError("User %s is not enrolled in this course", uid)
	}

	alreadyInGroup := func() error {
		if user.ID == authz.AuthnUserID {
			return NewGroupOperationError("You are already in another group.")
		}
		return NewGroupOperationError("User %s is already in another group", uid)
	}

	_, found, err := s.store.GetGroupID(ctx, tx, group.AssessmentID, user.ID)
	if err != nil {
		return fmt.Errorf("failed to check existing group of %s: %w", uid, err)
	}
	if found {
		return alreadyInGroup()
	}

	if enforceGroupSize && cfg.Maximum != nil {
		size, err := s.store.CountMembers(ctx, tx, group.ID)
		if err != nil {
			return fmt.Errorf("failed to count members: %w", err)
		}
		if size >= *cfg.Maximum {
			return NewGroupOperationError("Group is already full")
		}
	}

	err = s.store.InsertMember(ctx, tx, group, user.ID)
	if repository.IsUniqueViolation(err, repository.ConstraintSingleGroupUser) {
		return alreadyInGroup()
	}
	if err != nil {
		return fmt.Errorf("failed to insert member: %w", err)
	}

	if cfg.HasRoles {
		roleID, ok, err := s.store.SelectSuitableRole(ctx, tx, group.ID, group.AssessmentID)
		if err != nil {
			return fmt.Errorf("failed to select role: %w", err)
		}
		if ok {
			if err := s.store.InsertRoleAssignment(ctx, tx, group.ID, user.ID, roleID); err != nil {
				return fmt.Errorf("failed to assign role: %w", err)
			}
		}
	}

	return s.store.InsertGroupLog(ctx, tx, models.GroupLogEntry{
		AssessmentID: group.AssessmentID,
		GroupID:      group.ID,
		UserID:       &user.ID,
		AuthnUserID:  authz.AuthnUserID,
		Action:       models.GroupActionJoin,
	})
}

// CreateOrAddToGroup adds uids to the group called name, creating it when it
// does not exist yet. Existing groups are filled without a size check.
func (s *GroupService) CreateOrAddToGroup(ctx context.Context, assessmentID int64, name string, uids []string, authz models.AuthzData) (group *models.Group, err error) {
	defer func(start time.Time) { s.observe(OpCreateOrAdd, start, err) }(time.Now())

	err = s.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		cfg, err := s.groupConfig(ctx, tx, assessmentID)
		if err != nil {
			return err
		}

		locked, err := s.store.LockGroupByName(ctx, tx, assessmentID, name)
		if err != nil {
			return fmt.Errorf("failed to lock group: %w", err)
		}
		if locked == nil {
			locked, err = s.createGroupTx(ctx, tx, cfg, name, uids, authz)
			if err != nil {
				return err
			}
			group = &locked.Group
			return nil
		}

		for _, uid := range uids {
			if err := s.addUserToGroupTx(ctx, tx, cfg, locked, uid, false, authz); err != nil {
				return err
			}
		}
		group = &locked.Group
		return nil
	})
	if err != nil {
		return nil, err
	}
	return group, nil
}

// LeaveGroup removes userID from their group in the assessment.
//
// When the assessment uses roles and other members remain, the leaver's
// required roles are handed on and the role table replaced with the result.
// If the remaining members no longer exceed the sum of role minimums, the
// group's assignments of non-required roles are cleared as well.
//
// Parameters:
//   - checkGroupID: When non-nil, the user's group must have this id
//
// Returns:
//   - error: GroupOperationError if the user is not in a group,
//     AccessDeniedError if checkGroupID does not match, or database error
func (s *GroupService) LeaveGroup(ctx context.Context, assessmentID, userID, authnUserID int64, checkGroupID *int64) (err error) {
	defer func(start time.Time) { s.observe(OpLeave, start, err) }(time.Now())

	var groupID int64
	err = s.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		id, found, err := s.store.GetGroupID(ctx, tx, assessmentID, userID)
		if err != nil {
			return fmt.Errorf("failed to look up group: %w", err)
		}
		if !found {
			return NewGroupOperationError("The user is not a member of a group in this assessment")
		}
		if checkGroupID != nil && *checkGroupID != id {
			return &AccessDeniedError{Message: "The user is not a member of this group"}
		}
		groupID = id

		group, err := s.store.LockGroupByID(ctx, tx, assessmentID, groupID)
		if err != nil {
			return fmt.Errorf("failed to lock group: %w", err)
		}
		if group == nil {
			return NewGroupOperationError("Group does not exist")
		}

		cfg, err := s.groupConfig(ctx, tx, assessmentID)
		if err != nil {
			return err
		}

		if cfg.HasRoles {
			if err := s.reassignRolesTx(ctx, tx, cfg, groupID, userID); err != nil {
				return err
			}
		}

		if err := s.store.DeleteMember(ctx, tx, groupID, userID); err != nil {
			return fmt.Errorf("failed to delete member: %w", err)
		}

		return s.store.InsertGroupLog(ctx, tx, models.GroupLogEntry{
			AssessmentID: assessmentID,
			GroupID:      groupID,
			UserID:       &userID,
			AuthnUserID:  authnUserID,
			Action:       models.GroupActionLeave,
		})
	})
	if err != nil {
		return err
	}

	s.logger.Info("user left group", "group_id", groupID, "assessment_id", assessmentID, "user_id", userID, "authn_user_id", authnUserID)
	return nil
}

func (s *GroupService) reassignRolesTx(ctx context.Context, tx pgx.Tx, cfg *models.GroupConfig, groupID, leavingUserID int64) error {
	info, err := loadGroupInfo(ctx, s.store, tx, groupID, cfg)
	if err != nil {
		return err
	}
	if info.Size <= 1 {
		return nil
	}

	updates, outcomes := reassignAfterLeave(info, leavingUserID)
	for _, o := range outcomes {
		s.metrics.IncReassignment(o.Branch)
		if o.Branch == BranchUnfilled {
			s.logger.Warn("required role left unfilled after leave", "group_id", groupID, "group_role_id", o.RoleID)
		} else {
			s.logger.Debug("required role reassigned", "group_id", groupID, "group_role_id", o.RoleID, "branch", o.Branch)
		}
	}

	if err := s.store.ReplaceRoleAssignments(ctx, tx, groupID, updates); err != nil {
		return fmt.Errorf("failed to reassign roles: %w", err)
	}

	if info.Size-1 <= MinimumRolesToFill(info.RolesInfo.GroupRoles) {
		if err := s.store.DeleteNonRequiredRoleAssignments(ctx, tx, groupID, cfg.AssessmentID); err != nil {
			return fmt.Errorf("failed to delete non-required roles: %w", err)
		}
	}
	return nil
}

// DeleteGroup removes a group and, by cascade, its memberships and roles.
func (s *GroupService) DeleteGroup(ctx context.Context, assessmentID, groupID, authnUserID int64) (err error) {
	defer func(start time.Time) { s.observe(OpDelete, start, err) }(time.Now())

	err = s.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		deleted, err := s.store.DeleteGroup(ctx, tx, assessmentID, groupID)
		if err != nil {
			return fmt.Errorf("failed to delete group: %w", err)
		}
		if !deleted {
			return NewGroupOperationError("Group does not exist")
		}
		return s.store.InsertGroupLog(ctx, tx, models.GroupLogEntry{
			AssessmentID: assessmentID,
			GroupID:      groupID,
			AuthnUserID:  authnUserID,
			Action:       models.GroupActionDelete,
		})
	})
	if err != nil {
		return err
	}

	s.logger.Info("group deleted", "group_id", groupID, "assessment_id", assessmentID, "authn_user_id", authnUserID)
	return nil
}

// DeleteAllGroups removes every group of an assessment and returns how many were deleted.
func (s *GroupService) DeleteAllGroups(ctx context.Context, assessmentID, authnUserID int64) (count int, err error) {
	defer func(start time.Time) { s.observe(OpDeleteAll, start, err) }(time.Now())

	err = s.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		ids, err := s.store.DeleteAllGroups(ctx, tx, assessmentID)
		if err != nil {
			return fmt.Errorf("failed to delete groups: %w", err)
		}
		for _, id := range ids {
			if err := s.store.InsertGroupLog(ctx, tx, models.GroupLogEntry{
				AssessmentID: assessmentID,
				GroupID:      id,
				AuthnUserID:  authnUserID,
				Action:       models.GroupActionDelete,
			}); err != nil {
				return fmt.Errorf("failed to log deletion of group %d: %w", id, err)
			}
		}
		count = len(ids)
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("all groups deleted", "assessment_id", assessmentID, "count", count, "authn_user_id", authnUserID)
	return count, nil
}

// ============================================================================
// Roles
// ============================================================================

// UpdateGroupRoles replaces a group's role table with the pairs posted in form.
//
// Form keys have the shape "user_role_<roleId>-<userId>"; other keys are
// ignored. When no posted pair uses a role that can assign roles, the first
// such role is added for userID, or for the first member when userID is not
// in the group.
//
// Returns:
//   - error: AccessDeniedError for a malformed key, a pair naming a non-member
//     or an unknown role, or a caller without staff permission who may not
//     assign roles. GroupOperationError if the group or config is missing.
func (s *GroupService) UpdateGroupRoles(ctx context.Context, form map[string]string, assessmentID, groupID, userID int64, hasStaffPermission bool, authnUserID int64) (err error) {
	defer func(start time.Time) { s.observe(OpUpdateRoles, start, err) }(time.Now())

	pairs, err := ParseRoleAssignmentForm(form)
	if err != nil {
		return &AccessDeniedError{Message: "Invalid role assignment"}
	}

	err = s.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		group, err := s.store.LockGroupByID(ctx, tx, assessmentID, groupID)
		if err != nil {
			return fmt.Errorf("failed to lock group: %w", err)
		}
		if group == nil {
			return NewGroupOperationError("Group does not exist")
		}

		cfg, err := s.groupConfig(ctx, tx, assessmentID)
		if err != nil {
			return err
		}
		if !cfg.HasRoles {
			return NewGroupOperationError("This assessment does not use group roles")
		}

		info, err := loadGroupInfo(ctx, s.store, tx, groupID, cfg)
		if err != nil {
			return err
		}

		members := make(map[int64]bool, len(info.Members))
		for _, m := range info.Members {
			members[m.UserID] = true
		}
		roleNames := make(map[int64]string, len(info.RolesInfo.GroupRoles))
		var assignerRoleIDs []int64
		for _, role := range info.RolesInfo.GroupRoles {
			roleNames[role.ID] = role.RoleName
			if role.CanAssignRoles {
				assignerRoleIDs = append(assignerRoleIDs, role.ID)
			}
		}

		for _, p := range pairs {
			if !members[p.UserID] {
				return &AccessDeniedError{Message: fmt.Sprintf("User %d is not a member of this group", p.UserID)}
			}
			if _, ok := roleNames[p.GroupRoleID]; !ok {
				return &AccessDeniedError{Message: fmt.Sprintf("Role %d is not defined for this assessment", p.GroupRoleID)}
			}
		}

		if !hasStaffPermission && !CanUserAssignGroupRoles(info, userID) {
			return &AccessDeniedError{Message: "User does not have permission to assign roles in this group"}
		}

		pairs = withAssigner(pairs, assignerRoleIDs, info.Members, userID)

		if err := s.store.ReplaceRoleAssignments(ctx, tx, groupID, pairs); err != nil {
			return fmt.Errorf("failed to update roles: %w", err)
		}

		held := make(map[int64][]string)
		for _, p := range pairs {
			held[p.UserID] = append(held[p.UserID], roleNames[p.GroupRoleID])
		}
		for _, m := range info.Members {
			memberID := m.UserID
			if err := s.store.InsertGroupLog(ctx, tx, models.GroupLogEntry{
				AssessmentID: assessmentID,
				GroupID:      groupID,
				UserID:       &memberID,
				AuthnUserID:  authnUserID,
				Action:       models.GroupActionUpdateRoles,
				Roles:        held[memberID],
			}); err != nil {
				return fmt.Errorf("failed to log role update: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("group roles updated", "group_id", groupID, "assessment_id", assessmentID, "assignments", len(pairs), "authn_user_id", authnUserID)
	return nil
}

// withAssigner appends an assigner role pair when none of pairs holds one.
func withAssigner(pairs []models.RoleAssignmentUpdate, assignerRoleIDs []int64, members []models.GroupMember, userID int64) []models.RoleAssignmentUpdate {
	if len(assignerRoleIDs) == 0 || len(members) == 0 {
		return pairs
	}

	for _, p := range pairs {
		for _, id := range assignerRoleIDs {
			if p.GroupRoleID == id {
				return pairs
			}
		}
	}

	assignee := members[0].UserID
	for _, m := range members {
		if m.UserID == userID {
			assignee = userID
			break
		}
	}
	return append(pairs, models.RoleAssignmentUpdate{UserID: assignee, GroupRoleID: assignerRoleIDs[0]})
}
