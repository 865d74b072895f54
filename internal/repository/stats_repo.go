package repository

import (
	"context"

	"github.com/avissapr/groupwork/internal/database"
	"github.com/avissapr/groupwork/internal/models"
)

// SelectGroupStats returns the grouping progress of an assessment.
// Enrolled counts students with status 'joined' in the course instance;
// GroupedUsers counts every member, staff included.
//
// Database Query:
//   - Single round trip with scalar subqueries
//   - Ungrouped = enrolled students without a group_users row for the assessment
func (r *GroupRepository) SelectGroupStats(ctx context.Context, q database.Querier, assessmentID, courseInstanceID int64) (*models.GroupStats, error) {
	query := `
		SELECT
			(SELECT COUNT(*)::int FROM groups g WHERE g.assessment_id = $1) AS total_groups,
			(SELECT COUNT(*)::int FROM group_users gu WHERE gu.assessment_id = $1) AS grouped_users,
			(SELECT COUNT(*)::int
			 FROM enrollments e
			 WHERE e.course_instance_id = $2 AND e.status = 'joined'
			   AND NOT EXISTS (
			     SELECT 1 FROM group_users gu
			     WHERE gu.assessment_id = $1 AND gu.user_id = e.user_id
			   )) AS ungrouped_users
	`

	stats := &models.GroupStats{}
	err := q.QueryRow(ctx, query, assessmentID, courseInstanceID).Scan(
		&stats.TotalGroups,
		&stats.GroupedUsers,
		&stats.UngroupedUsers,
	)
	if err != nil {
		return nil, err
	}

	if total := stats.GroupedUsers + stats.UngroupedUsers; total > 0 {
		stats.GroupedRate = float64(stats.GroupedUsers) / float64(total) * 100
	}

	return stats, nil
}
