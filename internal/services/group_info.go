package services

import (
	"context"
	"fmt"

	"github.com/avissapr/groupwork/internal/database"
	"github.com/avissapr/groupwork/internal/models"
)

// loadGroupInfo builds the GroupInfo read-model on q, which may be an open
// transaction. It performs no writes.
//
// Readiness (Start) requires the configured minimum size and, when the
// assessment uses roles, balanced roles with no validation errors and no
// member left without a role.
func loadGroupInfo(ctx context.Context, store GroupStore, q database.Querier, groupID int64, cfg *models.GroupConfig) (*models.GroupInfo, error) {
	group, err := store.SelectGroup(ctx, q, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to load group %d: %w", groupID, err)
	}
	if group == nil {
		return nil, NewGroupOperationError("Group does not exist")
	}

	members, err := store.SelectMembers(ctx, q, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to load members of group %d: %w", groupID, err)
	}

	minimum := 0
	if cfg != nil && cfg.Minimum != nil {
		minimum = *cfg.Minimum
	}

	info := &models.GroupInfo{
		GroupID:  group.ID,
		Members:  members,
		Size:     len(members),
		Name:     group.Name,
		JoinCode: group.FullJoinCode(),
		Start:    minimum-len(members) <= 0,
	}

	if cfg != nil && cfg.HasRoles {
		assignments, err := store.SelectRoleAssignments(ctx, q, groupID)
		if err != nil {
			return nil, fmt.Errorf("failed to load role assignments of group %d: %w", groupID, err)
		}
		roles, err := store.SelectGroupRoles(ctx, q, groupID)
		if err != nil {
			return nil, fmt.Errorf("failed to load roles of group %d: %w", groupID, err)
		}

		info.RolesInfo = BuildRolesInfo(members, assignments, roles)
		info.Start = info.Start && RolesReady(info.RolesInfo)
	}

	return info, nil
}
