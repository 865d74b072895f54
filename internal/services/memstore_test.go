package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/avissapr/groupwork/internal/database"
	"github.com/avissapr/groupwork/internal/models"
	"github.com/avissapr/groupwork/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// memStore is an in-memory GroupStore with the same constraints as the schema:
// unique group names per assessment and one group per user per assessment.
type memStore struct {
	configs     map[int64]models.GroupConfig
	users       map[string]models.User // eligible users by uid
	groups      map[int64]models.Group
	members     map[int64][]int64 // group id -> user ids
	roles       map[int64][]models.GroupRole
	assignments []memAssignment
	permissions []memPermission
	logs        []models.GroupLogEntry
	nextGroupID int64

	failOn  string // method name that returns errInjected
	txCount int
}

type memAssignment struct {
	GroupID, UserID, RoleID int64
}

type memPermission struct {
	QuestionID, RoleID int64
	CanView, CanSubmit bool
}

var errInjected = errors.New("injected failure")

var _ GroupStore = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		configs:     map[int64]models.GroupConfig{},
		users:       map[string]models.User{},
		groups:      map[int64]models.Group{},
		members:     map[int64][]int64{},
		roles:       map[int64][]models.GroupRole{},
		nextGroupID: 1,
	}
}

func (m *memStore) clone() *memStore {
	c := *m
	c.configs = make(map[int64]models.GroupConfig, len(m.configs))
	for k, v := range m.configs {
		c.configs[k] = v
	}
	c.users = make(map[string]models.User, len(m.users))
	for k, v := range m.users {
		c.users[k] = v
	}
	c.groups = make(map[int64]models.Group, len(m.groups))
	for k, v := range m.groups {
		c.groups[k] = v
	}
	c.members = make(map[int64][]int64, len(m.members))
	for k, v := range m.members {
		c.members[k] = append([]int64(nil), v...)
	}
	c.roles = make(map[int64][]models.GroupRole, len(m.roles))
	for k, v := range m.roles {
		c.roles[k] = append([]models.GroupRole(nil), v...)
	}
	c.assignments = append([]memAssignment(nil), m.assignments...)
	c.permissions = append([]memPermission(nil), m.permissions...)
	c.logs = append([]models.GroupLogEntry(nil), m.logs...)
	return &c
}

func (m *memStore) fail(method string) error {
	if m.failOn == method {
		return errInjected
	}
	return nil
}

// memTransactor snapshots the store and restores it when fn fails.
type memTransactor struct {
	store *memStore
}

var _ database.Transactor = (*memTransactor)(nil)

func (t *memTransactor) RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	t.store.txCount++
	snapshot := t.store.clone()
	if err := fn(nil); err != nil {
		*t.store = *snapshot
		return err
	}
	return nil
}

// ----------------------------------------------------------------------------
// fixtures

func intPtr(n int) *int { return &n }

func (m *memStore) addConfig(cfg models.GroupConfig) {
	m.configs[cfg.AssessmentID] = cfg
}

func (m *memStore) addUser(id int64, uid string) models.User {
	u := models.User{ID: id, UID: uid, Name: uid}
	m.users[uid] = u
	return u
}

func (m *memStore) addRole(assessmentID int64, role models.GroupRole) {
	m.roles[assessmentID] = append(m.roles[assessmentID], role)
}

func (m *memStore) addGroup(assessmentID int64, name, code string, userIDs ...int64) int64 {
	id := m.nextGroupID
	m.nextGroupID++
	m.groups[id] = models.Group{ID: id, Name: name, JoinCode: code, AssessmentID: assessmentID, CreatedAt: time.Unix(0, 0)}
	m.members[id] = append([]int64(nil), userIDs...)
	return id
}

func (m *memStore) assign(groupID, userID, roleID int64) {
	m.assignments = append(m.assignments, memAssignment{GroupID: groupID, UserID: userID, RoleID: roleID})
}

func (m *memStore) userByID(id int64) models.User {
	for _, u := range m.users {
		if u.ID == id {
			return u
		}
	}
	return models.User{ID: id, UID: fmt.Sprintf("user%d", id)}
}

func (m *memStore) rolePairs(groupID int64) []models.RoleAssignmentUpdate {
	var out []models.RoleAssignmentUpdate
	for _, a := range m.assignments {
		if a.GroupID == groupID {
			out = append(out, models.RoleAssignmentUpdate{UserID: a.UserID, GroupRoleID: a.RoleID})
		}
	}
	return out
}

func (m *memStore) groupOf(assessmentID, userID int64) (int64, bool) {
	for id, users := range m.members {
		if m.groups[id].AssessmentID != assessmentID {
			continue
		}
		for _, u := range users {
			if u == userID {
				return id, true
			}
		}
	}
	return 0, false
}

func uniqueViolation(constraint string) error {
	return &pgconn.PgError{Code: "23505", ConstraintName: constraint}
}

// ----------------------------------------------------------------------------
// GroupStore

func (m *memStore) GetGroupConfig(_ context.Context, _ database.Querier, assessmentID int64) (*models.GroupConfig, error) {
	if err := m.fail("GetGroupConfig"); err != nil {
		return nil, err
	}
	cfg, ok := m.configs[assessmentID]
	if !ok {
		return nil, nil
	}
	return &cfg, nil
}

func (m *memStore) GetGroupID(_ context.Context, _ database.Querier, assessmentID, userID int64) (int64, bool, error) {
	if err := m.fail("GetGroupID"); err != nil {
		return 0, false, err
	}
	id, ok := m.groupOf(assessmentID, userID)
	return id, ok, nil
}

func (m *memStore) SelectGroup(_ context.Context, _ database.Querier, groupID int64) (*models.Group, error) {
	g, ok := m.groups[groupID]
	if !ok {
		return nil, nil
	}
	return &g, nil
}

func (m *memStore) LockGroupByID(_ context.Context, _ pgx.Tx, assessmentID, groupID int64) (*models.LockedGroup, error) {
	g, ok := m.groups[groupID]
	if !ok || g.AssessmentID != assessmentID {
		return nil, nil
	}
	return &models.LockedGroup{Group: g}, nil
}

func (m *memStore) LockGroupByName(_ context.Context, _ pgx.Tx, assessmentID int64, name string) (*models.LockedGroup, error) {
	for _, g := range m.groups {
		if g.AssessmentID == assessmentID && g.Name == name {
			return &models.LockedGroup{Group: g}, nil
		}
	}
	return nil, nil
}

func (m *memStore) InsertGroup(_ context.Context, _ pgx.Tx, assessmentID int64, name string) (*models.LockedGroup, error) {
	if err := m.fail("InsertGroup"); err != nil {
		return nil, err
	}
	if name == "" {
		name = m.nextGeneratedName(assessmentID)
	}
	for _, g := range m.groups {
		if g.AssessmentID == assessmentID && g.Name == name {
			return nil, uniqueViolation(repository.ConstraintGroupName)
		}
	}
	id := m.addGroup(assessmentID, name, fmt.Sprintf("%04X", m.nextGroupID))
	return &models.LockedGroup{Group: m.groups[id]}, nil
}

func (m *memStore) nextGeneratedName(assessmentID int64) string {
	highest := 0
	for _, g := range m.groups {
		var n int
		if g.AssessmentID == assessmentID && generatedName.MatchString(g.Name) {
			if _, err := fmt.Sscanf(g.Name, "group%d", &n); err == nil && n > highest {
				highest = n
			}
		}
	}
	return fmt.Sprintf("group%d", highest+1)
}

var generatedName = regexp.MustCompile(`^group[0-9]+$`)

func (m *memStore) SelectUngroupedUsers(_ context.Context, _ database.Querier, assessmentID, _ int64) ([]models.User, error) {
	if err := m.fail("SelectUngroupedUsers"); err != nil {
		return nil, err
	}
	grouped := make(map[int64]bool)
	for id, g := range m.groups {
		if g.AssessmentID == assessmentID {
			for _, u := range m.members[id] {
				grouped[u] = true
			}
		}
	}
	out := []models.User{}
	for _, u := range m.users {
		if !grouped[u.ID] {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}

func (m *memStore) SelectEligibleUser(_ context.Context, _ database.Querier, _ int64, uid string) (*models.User, error) {
	u, ok := m.users[uid]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *memStore) CountMembers(_ context.Context, _ database.Querier, groupID int64) (int, error) {
	return len(m.members[groupID]), nil
}

func (m *memStore) SelectMembers(_ context.Context, _ database.Querier, groupID int64) ([]models.GroupMember, error) {
	g := m.groups[groupID]
	var out []models.GroupMember
	for _, id := range m.members[groupID] {
		u := m.userByID(id)
		out = append(out, models.GroupMember{UserID: u.ID, UID: u.UID, Name: u.Name, GroupName: g.Name, JoinCode: g.JoinCode})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}

func (m *memStore) InsertMember(_ context.Context, _ pgx.Tx, group *models.LockedGroup, userID int64) error {
	if err := m.fail("InsertMember"); err != nil {
		return err
	}
	if _, ok := m.groupOf(group.AssessmentID, userID); ok {
		return uniqueViolation(repository.ConstraintSingleGroupUser)
	}
	m.members[group.ID] = append(m.members[group.ID], userID)
	return nil
}

func (m *memStore) DeleteMember(_ context.Context, _ pgx.Tx, groupID, userID int64) error {
	kept := m.members[groupID][:0:0]
	for _, u := range m.members[groupID] {
		if u != userID {
			kept = append(kept, u)
		}
	}
	m.members[groupID] = kept

	var assignments []memAssignment
	for _, a := range m.assignments {
		if !(a.GroupID == groupID && a.UserID == userID) {
			assignments = append(assignments, a)
		}
	}
	m.assignments = assignments
	return nil
}

func (m *memStore) deleteGroup(groupID int64) {
	delete(m.groups, groupID)
	delete(m.members, groupID)
	var assignments []memAssignment
	for _, a := range m.assignments {
		if a.GroupID != groupID {
			assignments = append(assignments, a)
		}
	}
	m.assignments = assignments
}

func (m *memStore) DeleteGroup(_ context.Context, _ pgx.Tx, assessmentID, groupID int64) (bool, error) {
	g, ok := m.groups[groupID]
	if !ok || g.AssessmentID != assessmentID {
		return false, nil
	}
	m.deleteGroup(groupID)
	return true, nil
}

func (m *memStore) DeleteAllGroups(_ context.Context, _ pgx.Tx, assessmentID int64) ([]int64, error) {
	var ids []int64
	for id, g := range m.groups {
		if g.AssessmentID == assessmentID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		m.deleteGroup(id)
	}
	return ids, nil
}

// SelectGroupStats treats every eligible user as an enrolled student.
func (m *memStore) SelectGroupStats(_ context.Context, _ database.Querier, assessmentID, _ int64) (*models.GroupStats, error) {
	if err := m.fail("SelectGroupStats"); err != nil {
		return nil, err
	}
	stats := &models.GroupStats{}
	grouped := make(map[int64]bool)
	for id, g := range m.groups {
		if g.AssessmentID != assessmentID {
			continue
		}
		stats.TotalGroups++
		for _, u := range m.members[id] {
			grouped[u] = true
		}
	}
	stats.GroupedUsers = len(grouped)
	for _, u := range m.users {
		if !grouped[u.ID] {
			stats.UngroupedUsers++
		}
	}
	if total := stats.GroupedUsers + stats.UngroupedUsers; total > 0 {
		stats.GroupedRate = float64(stats.GroupedUsers) / float64(total) * 100
	}
	return stats, nil
}

func (m *memStore) SelectGroupLogs(_ context.Context, _ database.Querier, assessmentID, groupID int64, limit int) ([]models.GroupLogEntry, error) {
	if err := m.fail("SelectGroupLogs"); err != nil {
		return nil, err
	}
	out := []models.GroupLogEntry{}
	for i := len(m.logs) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if m.logs[i].AssessmentID == assessmentID && m.logs[i].GroupID == groupID {
			out = append(out, m.logs[i])
		}
	}
	return out, nil
}

func (m *memStore) InsertGroupLog(_ context.Context, _ pgx.Tx, entry models.GroupLogEntry) error {
	if err := m.fail("InsertGroupLog"); err != nil {
		return err
	}
	m.logs = append(m.logs, entry)
	return nil
}

func (m *memStore) SelectRoleAssignments(_ context.Context, _ database.Querier, groupID int64) ([]models.RoleAssignment, error) {
	names := map[int64]string{}
	for _, roles := range m.roles {
		for _, r := range roles {
			names[r.ID] = r.RoleName
		}
	}
	var out []models.RoleAssignment
	for _, a := range m.assignments {
		if a.GroupID == groupID {
			u := m.userByID(a.UserID)
			out = append(out, models.RoleAssignment{UserID: a.UserID, UID: u.UID, RoleName: names[a.RoleID], GroupRoleID: a.RoleID})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].UID != out[j].UID {
			return out[i].UID < out[j].UID
		}
		return out[i].GroupRoleID < out[j].GroupRoleID
	})
	return out, nil
}

func (m *memStore) roleCount(groupID, roleID int64) int {
	n := 0
	for _, a := range m.assignments {
		if a.GroupID == groupID && a.RoleID == roleID {
			n++
		}
	}
	return n
}

func (m *memStore) SelectGroupRoles(_ context.Context, _ database.Querier, groupID int64) ([]models.GroupRole, error) {
	g := m.groups[groupID]
	var out []models.GroupRole
	for _, r := range m.roles[g.AssessmentID] {
		r.Count = m.roleCount(groupID, r.ID)
		out = append(out, r)
	}
	return out, nil
}

func (m *memStore) SelectUserRoles(_ context.Context, _ database.Querier, groupID, userID int64) ([]models.GroupRole, error) {
	g := m.groups[groupID]
	var out []models.GroupRole
	for _, r := range m.roles[g.AssessmentID] {
		for _, a := range m.assignments {
			if a.GroupID == groupID && a.UserID == userID && a.RoleID == r.ID {
				r.Count = m.roleCount(groupID, r.ID)
				out = append(out, r)
			}
		}
	}
	return out, nil
}

func (m *memStore) SelectSuitableRole(_ context.Context, _ database.Querier, groupID, assessmentID int64) (int64, bool, error) {
	var best *models.GroupRole
	bestShortfall := 0
	for _, r := range m.roles[assessmentID] {
		count := m.roleCount(groupID, r.ID)
		if r.Maximum != nil && count >= *r.Maximum {
			continue
		}
		shortfall := r.MinimumOrZero() - count
		if best == nil || shortfall > bestShortfall {
			role := r
			best, bestShortfall = &role, shortfall
		}
	}
	if best == nil {
		return 0, false, nil
	}
	return best.ID, true, nil
}

func (m *memStore) InsertRoleAssignment(_ context.Context, _ pgx.Tx, groupID, userID, roleID int64) error {
	m.assign(groupID, userID, roleID)
	return nil
}

func (m *memStore) ReplaceRoleAssignments(_ context.Context, _ pgx.Tx, groupID int64, assignments []models.RoleAssignmentUpdate) error {
	if err := m.fail("ReplaceRoleAssignments"); err != nil {
		return err
	}
	var kept []memAssignment
	for _, a := range m.assignments {
		if a.GroupID != groupID {
			kept = append(kept, a)
		}
	}
	for _, a := range assignments {
		kept = append(kept, memAssignment{GroupID: groupID, UserID: a.UserID, RoleID: a.GroupRoleID})
	}
	m.assignments = kept
	return nil
}

func (m *memStore) DeleteNonRequiredRoleAssignments(_ context.Context, _ pgx.Tx, groupID, assessmentID int64) error {
	optional := map[int64]bool{}
	for _, r := range m.roles[assessmentID] {
		if !r.IsRequired() {
			optional[r.ID] = true
		}
	}
	var kept []memAssignment
	for _, a := range m.assignments {
		if !(a.GroupID == groupID && optional[a.RoleID]) {
			kept = append(kept, a)
		}
	}
	m.assignments = kept
	return nil
}

func (m *memStore) SelectQuestionPermissions(_ context.Context, _ database.Querier, assessmentQuestionID, groupID, userID int64) (*models.QuestionPermissions, error) {
	var p models.QuestionPermissions
	for _, a := range m.assignments {
		if a.GroupID != groupID || a.UserID != userID {
			continue
		}
		for _, perm := range m.permissions {
			if perm.QuestionID == assessmentQuestionID && perm.RoleID == a.RoleID {
				p.CanView = p.CanView || perm.CanView
				p.CanSubmit = p.CanSubmit || perm.CanSubmit
			}
		}
	}
	return &p, nil
}
