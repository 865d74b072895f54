// Package handlers implements HTTP request handlers for the group core.
// This file contains the JSON endpoints for students and staff.
package handlers

import (
	"context"
	"errors"
	"io"
	"strconv"

	"github.com/avissapr/groupwork/internal/logging"
	"github.com/avissapr/groupwork/internal/middleware"
	"github.com/avissapr/groupwork/internal/models"
	"github.com/avissapr/groupwork/internal/services"
	"github.com/gofiber/fiber/v2"
)

// GroupOperations is the part of services.GroupService the handlers call.
type GroupOperations interface {
	GetGroupConfig(ctx context.Context, assessmentID int64) (*models.GroupConfig, error)
	GetGroupID(ctx context.Context, assessmentID, userID int64) (int64, bool, error)
	GetGroupInfo(ctx context.Context, groupID int64, cfg *models.GroupConfig) (*models.GroupInfo, error)
	GetUserRoles(ctx context.Context, groupID, userID int64) ([]models.GroupRole, error)
	GetQuestionGroupPermissions(ctx context.Context, assessmentQuestionID, groupID, userID int64) (*models.QuestionPermissions, error)
	CreateGroup(ctx context.Context, assessmentID int64, name string, uids []string, authz models.AuthzData) (*models.Group, error)
	CreateOrAddToGroup(ctx context.Context, assessmentID int64, name string, uids []string, authz models.AuthzData) (*models.Group, error)
	JoinGroup(ctx context.Context, assessmentID int64, fullJoinCode, uid string, authz models.AuthzData) error
	AddUserToGroup(ctx context.Context, assessmentID, groupID int64, uid string, enforceGroupSize bool, authz models.AuthzData) error
	LeaveGroup(ctx context.Context, assessmentID, userID, authnUserID int64, checkGroupID *int64) error
	UpdateGroupRoles(ctx context.Context, form map[string]string, assessmentID, groupID, userID int64, hasStaffPermission bool, authnUserID int64) error
	DeleteGroup(ctx context.Context, assessmentID, groupID, authnUserID int64) error
	DeleteAllGroups(ctx context.Context, assessmentID, authnUserID int64) (int, error)
	UploadGroups(ctx context.Context, assessmentID int64, r io.Reader, authz models.AuthzData) (models.UploadResult, error)
	RandomGroups(ctx context.Context, assessmentID int64, minSize, maxSize int, authz models.AuthzData) (models.UploadResult, error)
	GetGroupLog(ctx context.Context, assessmentID, groupID int64, limit int) ([]models.GroupLogEntry, error)
	GetGroupStats(ctx context.Context, assessmentID int64) (*models.GroupStats, error)
}

var _ GroupOperations = (*services.GroupService)(nil)

// GroupHandler serves the group endpoints.
type GroupHandler struct {
	groups GroupOperations
	logger logging.Logger
}

// NewGroupHandler creates a GroupHandler over groups.
func NewGroupHandler(groups GroupOperations, logger logging.Logger) *GroupHandler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &GroupHandler{groups: groups, logger: logger}
}

// Register mounts the student routes on student and the staff routes on instructor.
//
// Example:
//
//	h.Register(
//	    app.Group("/assessments", middleware.AuthRequired(store)),
//	    app.Group("/instructor/assessments", middleware.AuthRequired(store), middleware.StaffOnly()),
//	)
func (h *GroupHandler) Register(student, instructor fiber.Router) {
	student.Get("/:assessment_id/group", h.ShowGroup)
	student.Post("/:assessment_id/group/create", h.CreateGroup)
	student.Post("/:assessment_id/group/join", h.JoinGroup)
	student.Post("/:assessment_id/group/leave", h.LeaveGroup)
	student.Post("/:assessment_id/group/roles", h.UpdateRoles)
	student.Get("/:assessment_id/questions/:question_id/permissions", h.QuestionPermissions)

	instructor.Get("/:assessment_id/groups/stats", h.GroupStats)
	instructor.Post("/:assessment_id/groups", h.AddGroup)
	instructor.Post("/:assessment_id/groups/upload", h.UploadGroups)
	instructor.Post("/:assessment_id/groups/random", h.RandomGroups)
	instructor.Post("/:assessment_id/groups/:group_id/members", h.AddMember)
	instructor.Delete("/:assessment_id/groups/:group_id/members/:user_id", h.RemoveMember)
	instructor.Get("/:assessment_id/groups/:group_id/log", h.GroupLog)
	instructor.Delete("/:assessment_id/groups/:group_id", h.DeleteGroup)
	instructor.Delete("/:assessment_id/groups", h.DeleteAllGroups)
}

// respondError maps service errors to HTTP statuses.
// GroupOperationError and AccessDeniedError messages are safe to show; other
// errors are logged and hidden behind a generic 500.
func (h *GroupHandler) respondError(c *fiber.Ctx, err error) error {
	var opErr *services.GroupOperationError
	var denied *services.AccessDeniedError
	var fe *fiber.Error

	switch {
	case errors.As(err, &opErr):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": opErr.Message})
	case errors.As(err, &denied):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": denied.Message})
	case errors.As(err, &fe):
		return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
	default:
		h.logger.Error("group request failed", "method", c.Method(), "path", c.Path(), "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal server error"})
	}
}

func paramID(c *fiber.Ctx, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Params(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "Invalid "+name)
	}
	return id, nil
}

// ============================================================================
// Student routes
// ============================================================================

type groupResponse struct {
	Config          *models.GroupConfig `json:"config"`
	Group           *groupInfoResponse  `json:"group"`
	Roles           []models.GroupRole  `json:"roles,omitempty"`
	RoleErrors      []models.GroupRole  `json:"role_errors,omitempty"`
	RoleAssignments map[string][]string `json:"role_assignments,omitempty"`
	MyRoles         []models.GroupRole  `json:"my_roles,omitempty"`
	CanAssignRoles  bool                `json:"can_assign_roles"`
}

type groupInfoResponse struct {
	ID                int64                `json:"id"`
	Name              string               `json:"name"`
	JoinCode          string               `json:"join_code"`
	Size              int                  `json:"size"`
	Start             bool                 `json:"start"`
	Members           []models.GroupMember `json:"members"`
	DisabledRoles     []string             `json:"disabled_roles,omitempty"`
	RolesAreBalanced  bool                 `json:"roles_are_balanced"`
	UsersWithoutRoles []string             `json:"users_without_roles,omitempty"`
}

// ShowGroup returns the group config and, if the user is in a group, its info.
//
// Response: 200 {"config": ..., "group": null | {...}}
func (h *GroupHandler) ShowGroup(c *fiber.Ctx) error {
	assessmentID, err := paramID(c, "assessment_id")
	if err != nil {
		return h.respondError(c, err)
	}
	authz := middleware.AuthzFromContext(c)

	cfg, err := h.groups.GetGroupConfig(c.Context(), assessmentID)
	if err != nil {
		return h.respondError(c, err)
	}

	resp := groupResponse{Config: cfg}

	groupID, found, err := h.groups.GetGroupID(c.Context(), assessmentID, authz.UserID)
	if err != nil {
		return h.respondError(c, err)
	}
	if !found {
		return c.JSON(resp)
	}

	info, err := h.groups.GetGroupInfo(c.Context(), groupID, cfg)
	if err != nil {
		return h.respondError(c, err)
	}

	resp.Group = &groupInfoResponse{
		ID:       info.GroupID,
		Name:     info.Name,
		JoinCode: info.JoinCode,
		Size:     info.Size,
		Start:    info.Start,
		Members:  info.Members,
	}

	if info.RolesInfo != nil {
		resp.Roles = info.RolesInfo.GroupRoles
		resp.RoleErrors = info.RolesInfo.ValidationErrors
		resp.CanAssignRoles = authz.HasStaffPermission || services.CanUserAssignGroupRoles(info, authz.UserID)
		resp.RoleAssignments = make(map[string][]string, len(info.RolesInfo.RoleAssignments))
		for uid, held := range info.RolesInfo.RoleAssignments {
			for _, a := range held {
				resp.RoleAssignments[uid] = append(resp.RoleAssignments[uid], a.RoleName)
			}
		}
		resp.MyRoles, err = h.groups.GetUserRoles(c.Context(), groupID, authz.UserID)
		if err != nil {
			return h.respondError(c, err)
		}
		resp.Group.DisabledRoles = info.RolesInfo.DisabledRoles
		resp.Group.RolesAreBalanced = info.RolesInfo.RolesAreBalanced
		for _, m := range info.RolesInfo.UsersWithoutRoles {
			resp.Group.UsersWithoutRoles = append(resp.Group.UsersWithoutRoles, m.UID)
		}
	}

	return c.JSON(resp)
}

// studentAllowed reports whether the config lets students perform an action
// themselves. Staff are always allowed.
func (h *GroupHandler) studentAllowed(c *fiber.Ctx, assessmentID int64, allowed func(*models.GroupConfig) bool) error {
	authz := middleware.AuthzFromContext(c)
	if authz.HasStaffPermission {
		return nil
	}
	cfg, err := h.groups.GetGroupConfig(c.Context(), assessmentID)
	if err != nil {
		return err
	}
	if !allowed(cfg) {
		return &services.AccessDeniedError{Message: "This action is not available to students for this assessment"}
	}
	return nil
}

// CreateGroup creates a group containing the current user.
//
// Request: {"group_name": "Team1"}, an empty name is generated as "group<N>"
// Response: 201 {"id": ..., "name": ..., "join_code": "<name>-<code>"}
func (h *GroupHandler) CreateGroup(c *fiber.Ctx) error {
	assessmentID, err := paramID(c, "assessment_id")
	if err != nil {
		return h.respondError(c, err)
	}

	var req struct {
		GroupName string `json:"group_name" form:"group_name"`
	}
	if err := c.BodyParser(&req); err != nil {
		return h.respondError(c, fiber.NewError(fiber.StatusBadRequest, "Invalid request body"))
	}

	if err := h.studentAllowed(c, assessmentID, func(cfg *models.GroupConfig) bool { return cfg.StudentAuthzCreate }); err != nil {
		return h.respondError(c, err)
	}

	group, err := h.groups.CreateGroup(c.Context(), assessmentID, req.GroupName, []string{middleware.UIDFromContext(c)}, middleware.AuthzFromContext(c))
	if err != nil {
		return h.respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":        group.ID,
		"name":      group.Name,
		"join_code": group.FullJoinCode(),
	})
}

// JoinGroup adds the current user to the group named by a join code.
//
// Request: {"join_code": "Team1-AB12"}
func (h *GroupHandler) JoinGroup(c *fiber.Ctx) error {
	assessmentID, err := paramID(c, "assessment_id")
	if err != nil {
		return h.respondError(c, err)
	}

	var req struct {
		JoinCode string `json:"join_code" form:"join_code"`
	}
	if err := c.BodyParser(&req); err != nil {
		return h.respondError(c, fiber.NewError(fiber.StatusBadRequest, "Invalid request body"))
	}

	if err := h.studentAllowed(c, assessmentID, func(cfg *models.GroupConfig) bool { return cfg.StudentAuthzJoin }); err != nil {
		return h.respondError(c, err)
	}

	if err := h.groups.JoinGroup(c.Context(), assessmentID, req.JoinCode, middleware.UIDFromContext(c), middleware.AuthzFromContext(c)); err != nil {
		return h.respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// LeaveGroup removes the current user from their group.
func (h *GroupHandler) LeaveGroup(c *fiber.Ctx) error {
	assessmentID, err := paramID(c, "assessment_id")
	if err != nil {
		return h.respondError(c, err)
	}

	if err := h.studentAllowed(c, assessmentID, func(cfg *models.GroupConfig) bool { return cfg.StudentAuthzLeave }); err != nil {
		return h.respondError(c, err)
	}

	authz := middleware.AuthzFromContext(c)
	if err := h.groups.LeaveGroup(c.Context(), assessmentID, authz.UserID, authz.AuthnUserID, nil); err != nil {
		return h.respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// UpdateRoles replaces the role table of the current user's group.
//
// Request: form-encoded keys "user_role_<roleId>-<userId>"
func (h *GroupHandler) UpdateRoles(c *fiber.Ctx) error {
	assessmentID, err := paramID(c, "assessment_id")
	if err != nil {
		return h.respondError(c, err)
	}
	authz := middleware.AuthzFromContext(c)

	groupID, found, err := h.groups.GetGroupID(c.Context(), assessmentID, authz.UserID)
	if err != nil {
		return h.respondError(c, err)
	}
	if !found {
		return h.respondError(c, services.NewGroupOperationError("The user is not a member of a group in this assessment"))
	}

	form := make(map[string]string)
	c.Request().PostArgs().VisitAll(func(key, value []byte) {
		form[string(key)] = string(value)
	})

	if err := h.groups.UpdateGroupRoles(c.Context(), form, assessmentID, groupID, authz.UserID, authz.HasStaffPermission, authz.AuthnUserID); err != nil {
		return h.respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// QuestionPermissions returns whether the current user's roles let them view
// and submit one question.
func (h *GroupHandler) QuestionPermissions(c *fiber.Ctx) error {
	assessmentID, err := paramID(c, "assessment_id")
	if err != nil {
		return h.respondError(c, err)
	}
	questionID, err := paramID(c, "question_id")
	if err != nil {
		return h.respondError(c, err)
	}
	authz := middleware.AuthzFromContext(c)

	groupID, found, err := h.groups.GetGroupID(c.Context(), assessmentID, authz.UserID)
	if err != nil {
		return h.respondError(c, err)
	}
	if !found {
		return c.JSON(models.QuestionPermissions{})
	}

	perms, err := h.groups.GetQuestionGroupPermissions(c.Context(), questionID, groupID, authz.UserID)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(perms)
}

// ============================================================================
// Staff routes
// ============================================================================

// AddGroup creates a group or adds users to the existing group of that name.
//
// Request: {"group_name": "Team1", "uids": ["a@example.com", "b@example.com"]}
// An empty group_name always creates a new, generated "group<N>".
func (h *GroupHandler) AddGroup(c *fiber.Ctx) error {
	assessmentID, err := paramID(c, "assessment_id")
	if err != nil {
		return h.respondError(c, err)
	}

	var req struct {
		GroupName string   `json:"group_name"`
		UIDs      []string `json:"uids"`
	}
	if err := c.BodyParser(&req); err != nil {
		return h.respondError(c, fiber.NewError(fiber.StatusBadRequest, "Invalid request body"))
	}

	group, err := h.groups.CreateOrAddToGroup(c.Context(), assessmentID, req.GroupName, req.UIDs, middleware.AuthzFromContext(c))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": group.ID, "name": group.Name})
}

// AddMember adds one user to a group without a size check.
//
// Request: {"uid": "a@example.com"}
func (h *GroupHandler) AddMember(c *fiber.Ctx) error {
	assessmentID, err := paramID(c, "assessment_id")
	if err != nil {
		return h.respondError(c, err)
	}
	groupID, err := paramID(c, "group_id")
	if err != nil {
		return h.respondError(c, err)
	}

	var req struct {
		UID string `json:"uid" form:"uid"`
	}
	if err := c.BodyParser(&req); err != nil {
		return h.respondError(c, fiber.NewError(fiber.StatusBadRequest, "Invalid request body"))
	}

	if err := h.groups.AddUserToGroup(c.Context(), assessmentID, groupID, req.UID, false, middleware.AuthzFromContext(c)); err != nil {
		return h.respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// RemoveMember removes a user from the given group.
func (h *GroupHandler) RemoveMember(c *fiber.Ctx) error {
	assessmentID, err := paramID(c, "assessment_id")
	if err != nil {
		return h.respondError(c, err)
	}
	groupID, err := paramID(c, "group_id")
	if err != nil {
		return h.respondError(c, err)
	}
	userID, err := paramID(c, "user_id")
	if err != nil {
		return h.respondError(c, err)
	}

	authz := middleware.AuthzFromContext(c)
	if err := h.groups.LeaveGroup(c.Context(), assessmentID, userID, authz.AuthnUserID, &groupID); err != nil {
		return h.respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// DeleteGroup deletes one group.
func (h *GroupHandler) DeleteGroup(c *fiber.Ctx) error {
	assessmentID, err := paramID(c, "assessment_id")
	if err != nil {
		return h.respondError(c, err)
	}
	groupID, err := paramID(c, "group_id")
	if err != nil {
		return h.respondError(c, err)
	}

	if err := h.groups.DeleteGroup(c.Context(), assessmentID, groupID, middleware.AuthzFromContext(c).AuthnUserID); err != nil {
		return h.respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// DeleteAllGroups deletes every group of the assessment.
//
// Response: 200 {"deleted": <count>}
func (h *GroupHandler) DeleteAllGroups(c *fiber.Ctx) error {
	assessmentID, err := paramID(c, "assessment_id")
	if err != nil {
		return h.respondError(c, err)
	}

	count, err := h.groups.DeleteAllGroups(c.Context(), assessmentID, middleware.AuthzFromContext(c).AuthnUserID)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(fiber.Map{"deleted": count})
}

// UploadGroups assigns users to groups from a "groupname,uid" CSV file.
//
// Request: multipart form with a "file" field
// Response: 200 models.UploadResult
func (h *GroupHandler) UploadGroups(c *fiber.Ctx) error {
	assessmentID, err := paramID(c, "assessment_id")
	if err != nil {
		return h.respondError(c, err)
	}

	header, err := c.FormFile("file")
	if err != nil {
		return h.respondError(c, services.NewGroupOperationError("A CSV file is required"))
	}
	file, err := header.Open()
	if err != nil {
		return h.respondError(c, err)
	}
	defer file.Close()

	result, err := h.groups.UploadGroups(c.Context(), assessmentID, file, middleware.AuthzFromContext(c))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(result)
}

// RandomGroups places every enrolled student without a group into a new,
// randomly composed group.
//
// Request: {"min_size": 2, "max_size": 3}, zero or missing sizes use the group config
// Response: 200 models.UploadResult, one entry per group
func (h *GroupHandler) RandomGroups(c *fiber.Ctx) error {
	assessmentID, err := paramID(c, "assessment_id")
	if err != nil {
		return h.respondError(c, err)
	}

	var req struct {
		MinSize int `json:"min_size" form:"min_size"`
		MaxSize int `json:"max_size" form:"max_size"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return h.respondError(c, fiber.NewError(fiber.StatusBadRequest, "Invalid request body"))
		}
	}
	if req.MinSize < 0 || req.MaxSize < 0 {
		return h.respondError(c, fiber.NewError(fiber.StatusBadRequest, "Group sizes cannot be negative"))
	}

	result, err := h.groups.RandomGroups(c.Context(), assessmentID, req.MinSize, req.MaxSize, middleware.AuthzFromContext(c))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(result)
}

// GroupLog returns the audit history of a group of the assessment, newest
// first. A group of another assessment has an empty history.
//
// Query: ?limit=<n> (optional)
// Response: 200 [models.GroupLogEntry]
func (h *GroupHandler) GroupLog(c *fiber.Ctx) error {
	assessmentID, err := paramID(c, "assessment_id")
	if err != nil {
		return h.respondError(c, err)
	}
	groupID, err := paramID(c, "group_id")
	if err != nil {
		return h.respondError(c, err)
	}

	logs, err := h.groups.GetGroupLog(c.Context(), assessmentID, groupID, c.QueryInt("limit", 0))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(logs)
}

// GroupStats returns how many students of the assessment are in a group.
//
// Response: 200 models.GroupStats
func (h *GroupHandler) GroupStats(c *fiber.Ctx) error {
	assessmentID, err := paramID(c, "assessment_id")
	if err != nil {
		return h.respondError(c, err)
	}

	stats, err := h.groups.GetGroupStats(c.Context(), assessmentID)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(stats)
}
