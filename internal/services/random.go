package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/avissapr/groupwork/internal/models"
)

// defaultRandomGroupSize is used when neither the request nor the config bounds the size.
const defaultRandomGroupSize = 3

// RandomGroups shuffles the enrolled students without a group into new,
// system-named groups. Each group is created in its own transaction.
//
// Sizes differ by at most one and never exceed maxSize. A group under
// minSize is only created when no split satisfies both bounds.
//
// Parameters:
//   - minSize, maxSize: Size bounds; zero falls back to the assessment's
//     minimum and maximum, then to each other, then to 3
//
// Returns:
//   - models.UploadResult: One success or failure per group, failures carry
//     the group's uids joined by commas
//   - error: GroupOperationError for invalid bounds, or the first infrastructure error
func (s *GroupService) RandomGroups(ctx context.Context, assessmentID int64, minSize, maxSize int, authz models.AuthzData) (result models.UploadResult, err error) {
	defer func(start time.Time) { s.observe(OpRandom, start, err) }(time.Now())

	q := s.querier()
	cfg, err := s.groupConfig(ctx, q, assessmentID)
	if err != nil {
		return result, err
	}

	minSize, maxSize = randomGroupBounds(cfg, minSize, maxSize)
	if minSize < 1 || maxSize < minSize {
		return result, NewGroupOperationError("Invalid group size: minimum %d, maximum %d", minSize, maxSize)
	}

	users, err := s.store.SelectUngroupedUsers(ctx, q, assessmentID, cfg.CourseInstanceID)
	if err != nil {
		return result, fmt.Errorf("failed to list ungrouped users: %w", err)
	}

	uids := make([]string, len(users))
	for i, u := range users {
		uids[i] = u.UID
	}
	rand.Shuffle(len(uids), func(i, j int) { uids[i], uids[j] = uids[j], uids[i] })

	for i, members := range splitEvenly(uids, maxSize) {
		if len(members) < minSize {
			s.logger.Warn("random group below minimum size", "assessment_id", assessmentID, "size", len(members), "minimum", minSize)
		}

		_, err := s.CreateGroup(ctx, assessmentID, "", members, authz)
		var opErr *GroupOperationError
		switch {
		case err == nil:
			result = result.WithSuccess()
		case errors.As(err, &opErr):
			result = result.WithFailure(models.UploadRowError{Row: i + 1, UID: strings.Join(members, ","), Message: opErr.Message})
		default:
			return result, fmt.Errorf("random grouping stopped at group %d: %w", i+1, err)
		}
	}

	s.logger.Info("random groups created", "assessment_id", assessmentID, "students", len(uids), "added", result.Added, "failed", result.Failed, "authn_user_id", authz.AuthnUserID)
	return result, nil
}

func randomGroupBounds(cfg *models.GroupConfig, minSize, maxSize int) (int, int) {
	if minSize == 0 && cfg.Minimum != nil {
		minSize = *cfg.Minimum
	}
	if maxSize == 0 && cfg.Maximum != nil {
		maxSize = *cfg.Maximum
	}
	switch {
	case minSize == 0 && maxSize == 0:
		minSize, maxSize = defaultRandomGroupSize, defaultRandomGroupSize
	case maxSize == 0:
		maxSize = minSize
	case minSize == 0:
		minSize = 1
	}
	return minSize, maxSize
}

// splitEvenly cuts uids into the fewest groups of at most maxSize members,
// sizes differing by at most one. Fewer groups would break maxSize and more
// would only shrink them, so a group under minSize means no split fits both.
func splitEvenly(uids []string, maxSize int) [][]string {
	n := len(uids)
	if n == 0 {
		return nil
	}

	count := (n + maxSize - 1) / maxSize

	groups := make([][]string, 0, count)
	start := 0
	for i := 0; i < count; i++ {
		size := n / count
		if i < n%count {
			size++
		}
		groups = append(groups, uids[start:start+size])
		start += size
	}
	return groups
}
