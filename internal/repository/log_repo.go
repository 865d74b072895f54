package repository

import (
	"context"

	"github.com/avissapr/groupwork/internal/database"
	"github.com/avissapr/groupwork/internal/models"
	"github.com/jackc/pgx/v5"
)

// DefaultLogLimit caps SelectGroupLogs when the caller passes a non-positive limit.
const DefaultLogLimit = 100

// InsertGroupLog records an audit entry in the current transaction.
//
// Immutability Note:
//
//	group_logs rows are never updated or deleted, and they carry no foreign
//	key to groups so the history outlives a deleted group.
func (r *GroupRepository) InsertGroupLog(ctx context.Context, tx pgx.Tx, entry models.GroupLogEntry) error {
	query := `
		INSERT INTO group_logs (assessment_id, group_id, user_id, authn_user_id, action, roles)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	roles := entry.Roles
	if roles == nil {
		roles = []string{}
	}

	_, err := tx.Exec(ctx, query, entry.AssessmentID, entry.GroupID, entry.UserID, entry.AuthnUserID, entry.Action, roles)
	return err
}

// SelectGroupLogs returns the most recent audit entries of a group, newest first.
//
// Parameters:
//   - q: pool or transaction
//   - assessmentID: assessment the group belongs to; other assessments' entries are never returned
//   - groupID: group whose history is read (may already be deleted)
//   - limit: maximum number of entries; DefaultLogLimit when <= 0
//
// Returns an empty slice when the group has no history.
func (r *GroupRepository) SelectGroupLogs(ctx context.Context, q database.Querier, assessmentID, groupID int64, limit int) ([]models.GroupLogEntry, error) {
	if limit <= 0 {
		limit = DefaultLogLimit
	}

	query := `
		SELECT id, assessment_id, group_id, user_id, authn_user_id, action, roles, date
		FROM group_logs
		WHERE assessment_id = $1 AND group_id = $2
		ORDER BY date DESC, id DESC
		LIMIT $3
	`

	rows, err := q.Query(ctx, query, assessmentID, groupID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []models.GroupLogEntry{}
	for rows.Next() {
		var entry models.GroupLogEntry
		if err := rows.Scan(
			&entry.ID,
			&entry.AssessmentID,
			&entry.GroupID,
			&entry.UserID, // NULL for group-level actions
			&entry.AuthnUserID,
			&entry.Action,
			&entry.Roles,
			&entry.Date,
		); err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}
