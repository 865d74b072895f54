package services

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/avissapr/groupwork/internal/models"
)

// UploadGroups reads "groupname,uid" rows and places each uid in the named
// group, creating groups as needed. Every row runs in its own transaction.
//
// Row failures caused by business rules are collected in the result; an
// infrastructure error stops the upload and is returned with the rows
// processed so far.
//
// Parameters:
//   - r: CSV with a header naming the groupname and uid columns (any order, case-insensitive)
//
// Returns:
//   - models.UploadResult: Added and failed counts with per-row errors in row order
//   - error: GroupOperationError for a malformed header, or the first infrastructure error
func (s *GroupService) UploadGroups(ctx context.Context, assessmentID int64, r io.Reader, authz models.AuthzData) (result models.UploadResult, err error) {
	defer func(start time.Time) { s.observe(OpUpload, start, err) }(time.Now())

	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return result, NewGroupOperationError("The uploaded file is empty")
	}
	if err != nil {
		return result, NewGroupOperationError("The uploaded file is not valid CSV: %s", err.Error())
	}

	nameCol, uidCol := -1, -1
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "groupname", "group_name":
			nameCol = i
		case "uid":
			uidCol = i
		}
	}
	if nameCol < 0 || uidCol < 0 {
		return result, NewGroupOperationError("The uploaded file must have groupname and uid columns")
	}

	for row := 2; ; row++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			result = result.WithFailure(models.UploadRowError{Row: row, Message: "Malformed CSV row"})
			continue
		}

		name, uid := field(record, nameCol), field(record, uidCol)
		if name == "" || uid == "" {
			result = result.WithFailure(models.UploadRowError{Row: row, GroupName: name, UID: uid, Message: "Missing group name or uid"})
			continue
		}

		_, err = s.CreateOrAddToGroup(ctx, assessmentID, name, []string{uid}, authz)
		var opErr *GroupOperationError
		switch {
		case err == nil:
			result = result.WithSuccess()
		case errors.As(err, &opErr):
			result = result.WithFailure(models.UploadRowError{Row: row, GroupName: name, UID: uid, Message: opErr.Message})
		default:
			return result, fmt.Errorf("upload stopped at row %d: %w", row, err)
		}
	}

	s.logger.Info("groups uploaded", "assessment_id", assessmentID, "added", result.Added, "failed", result.Failed, "authn_user_id", authz.AuthnUserID)
	return result, nil
}

func field(record []string, i int) string {
	if i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}
