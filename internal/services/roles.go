package services

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/avissapr/groupwork/internal/models"
)

// Outcomes of filling one orphaned role after a member leaves.
const (
	BranchUnassigned = "unassigned" // given to a member holding no role
	BranchSteal      = "steal"      // replaced a non-required role of another member
	BranchDuplicate  = "duplicate"  // added to a member who already holds another role
	BranchUnfilled   = "unfilled"   // nobody could take it
)

// RoleFormKeyPrefix prefixes the posted role assignment keys "user_role_<roleId>-<userId>".
const RoleFormKeyPrefix = "user_role_"

// BuildRolesInfo derives the role validity snapshot of a group from its
// members, current assignments and role definitions with live counts.
func BuildRolesInfo(members []models.GroupMember, assignments []models.RoleAssignment, roles []models.GroupRole) *models.RolesInfo {
	byUID := make(map[string][]models.RoleAssignment, len(assignments))
	for _, a := range assignments {
		byUID[a.UID] = append(byUID[a.UID], a)
	}

	// A zero bound is treated as unset.
	var validationErrors []models.GroupRole
	for _, role := range roles {
		tooFew := role.Minimum != nil && *role.Minimum > 0 && role.Count < *role.Minimum
		tooMany := role.Maximum != nil && *role.Maximum > 0 && role.Count > *role.Maximum
		if tooFew || tooMany {
			validationErrors = append(validationErrors, role)
		}
	}

	minimumRolesToFill := MinimumRolesToFill(roles)

	var disabledRoles []string
	if len(members) <= minimumRolesToFill {
		for _, role := range roles {
			if !role.IsRequired() {
				disabledRoles = append(disabledRoles, role.RoleName)
			}
		}
	}

	balanced := true
	if len(members) >= minimumRolesToFill {
		for _, held := range byUID {
			if len(held) != 1 {
				balanced = false
				break
			}
		}
	}

	var usersWithoutRoles []models.GroupMember
	for _, m := range members {
		if _, ok := byUID[m.UID]; !ok {
			usersWithoutRoles = append(usersWithoutRoles, m)
		}
	}

	return &models.RolesInfo{
		RoleAssignments:   byUID,
		Assignments:       assignments,
		GroupRoles:        roles,
		ValidationErrors:  validationErrors,
		DisabledRoles:     disabledRoles,
		RolesAreBalanced:  balanced,
		UsersWithoutRoles: usersWithoutRoles,
	}
}

// MinimumRolesToFill sums the role minimums, treating unset as 0.
func MinimumRolesToFill(roles []models.GroupRole) int {
	sum := 0
	for _, role := range roles {
		sum += role.MinimumOrZero()
	}
	return sum
}

// RolesReady reports whether the roles allow the group to start.
func RolesReady(info *models.RolesInfo) bool {
	return info.RolesAreBalanced && len(info.ValidationErrors) == 0 && len(info.UsersWithoutRoles) == 0
}

type reassignment struct {
	RoleID int64
	Branch string
}

// GetGroupRoleReassignmentsAfterLeave computes the complete role table a group
// should have once leavingUserID has left. The result never contains the
// leaving user. Required roles the leaver held that fall to or below their
// minimum are handed on, best effort; see reassignAfterLeave.
func GetGroupRoleReassignmentsAfterLeave(info *models.GroupInfo, leavingUserID int64) []models.RoleAssignmentUpdate {
	updates, _ := reassignAfterLeave(info, leavingUserID)
	return updates
}

// reassignAfterLeave returns the new role table and, per orphaned role, which
// branch filled it. Branches are tried in order: a member without a role, then
// replacing the first non-required assignment, then any member who does not
// hold that role yet.
func reassignAfterLeave(info *models.GroupInfo, leavingUserID int64) ([]models.RoleAssignmentUpdate, []reassignment) {
	if info == nil || info.RolesInfo == nil {
		return []models.RoleAssignmentUpdate{}, nil
	}
	rolesInfo := info.RolesInfo

	leaverRoles := make(map[int64]bool)
	updates := make([]models.RoleAssignmentUpdate, 0, len(rolesInfo.Assignments))
	for _, a := range rolesInfo.Assignments {
		if a.UserID == leavingUserID {
			leaverRoles[a.GroupRoleID] = true
			continue
		}
		updates = append(updates, models.RoleAssignmentUpdate{UserID: a.UserID, GroupRoleID: a.GroupRoleID})
	}

	minimums := make(map[int64]int, len(rolesInfo.GroupRoles))
	var orphaned []int64
	for _, role := range rolesInfo.GroupRoles {
		minimums[role.ID] = role.MinimumOrZero()
		if role.IsRequired() && role.Count <= role.MinimumOrZero() && leaverRoles[role.ID] {
			orphaned = append(orphaned, role.ID)
		}
	}

	holdsAny := func(userID int64) bool {
		for _, u := range updates {
			if u.UserID == userID {
				return true
			}
		}
		return false
	}
	holds := func(userID, roleID int64) bool {
		for _, u := range updates {
			if u.UserID == userID && u.GroupRoleID == roleID {
				return true
			}
		}
		return false
	}

	outcomes := make([]reassignment, 0, len(orphaned))
	for _, roleID := range orphaned {
		branch := BranchUnfilled

		for _, m := range info.Members {
			if m.UserID != leavingUserID && !holdsAny(m.UserID) {
				updates = append(updates, models.RoleAssignmentUpdate{UserID: m.UserID, GroupRoleID: roleID})
				branch = BranchUnassigned
				break
			}
		}

		if branch == BranchUnfilled {
			for i := range updates {
				if minimums[updates[i].GroupRoleID] == 0 {
					updates[i].GroupRoleID = roleID
					branch = BranchSteal
					break
				}
			}
		}

		if branch == BranchUnfilled {
			for _, m := range info.Members {
				if m.UserID != leavingUserID && !holds(m.UserID, roleID) {
					updates = append(updates, models.RoleAssignmentUpdate{UserID: m.UserID, GroupRoleID: roleID})
					branch = BranchDuplicate
					break
				}
			}
		}

		outcomes = append(outcomes, reassignment{RoleID: roleID, Branch: branch})
	}

	return updates, outcomes
}

// CanUserAssignGroupRoles reports whether userID may edit the group's roles.
// Holders of an assigner role may; when nobody holds one, anyone may.
func CanUserAssignGroupRoles(info *models.GroupInfo, userID int64) bool {
	if info == nil || info.RolesInfo == nil {
		return true
	}

	assignerRoles := make(map[int64]bool)
	for _, role := range info.RolesInfo.GroupRoles {
		if role.CanAssignRoles {
			assignerRoles[role.ID] = true
		}
	}

	found := false
	for _, a := range info.RolesInfo.Assignments {
		if !assignerRoles[a.GroupRoleID] {
			continue
		}
		if a.UserID == userID {
			return true
		}
		found = true
	}
	return !found
}

// ParseRoleAssignmentForm extracts (user, role) pairs from posted form keys
// of the shape "user_role_<roleId>-<userId>". Other keys are ignored; the
// pairs are returned sorted by key so the result does not depend on map order.
func ParseRoleAssignmentForm(form map[string]string) ([]models.RoleAssignmentUpdate, error) {
	keys := make([]string, 0, len(form))
	for key := range form {
		if strings.HasPrefix(key, RoleFormKeyPrefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	pairs := make([]models.RoleAssignmentUpdate, 0, len(keys))
	for _, key := range keys {
		ids := strings.Split(strings.TrimPrefix(key, RoleFormKeyPrefix), "-")
		if len(ids) != 2 {
			return nil, fmt.Errorf("malformed role assignment key %q", key)
		}
		roleID, err := strconv.ParseInt(ids[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed role id in %q: %w", key, err)
		}
		userID, err := strconv.ParseInt(ids[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed user id in %q: %w", key, err)
		}
		pairs = append(pairs, models.RoleAssignmentUpdate{UserID: userID, GroupRoleID: roleID})
	}
	return pairs, nil
}
