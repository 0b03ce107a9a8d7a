// ABOUTME: Project repository with membership management
// ABOUTME: The owner is always a member and can never be removed

package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/taskdeck/taskdeck/internal/store"
)

// ProjectRepo persists projects and their member rows.
type ProjectRepo struct {
	db *store.Coordinator
}

func NewProjectRepo(db *store.Coordinator) *ProjectRepo {
	return &ProjectRepo{db: db}
}

// NewProject carries the caller-supplied fields of project creation.
type NewProject struct {
	Name        string
	Description string
	Color       string
	OwnerID     string
}

// Create inserts the project and its owner membership in one batch.
func (r *ProjectRepo) Create(ctx context.Context, np NewProject) (*Project, error) {
	now := time.Now().UTC()
	project := &Project{
		ID:          r.db.GenerateID(),
		Name:        np.Name,
		Description: np.Description,
		Color:       np.Color,
		Status:      ProjectActive,
		OwnerID:     np.OwnerID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if project.Color == "" {
		project.Color = "#3880ff"
	}

	err := r.db.ExecuteBatch(ctx, []store.Statement{
		{
			SQL: `INSERT INTO projects (id, name, description, color, status, owner_id, created_at, updated_at)
			      VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			Args: []any{project.ID, project.Name, project.Description, project.Color,
				string(project.Status), project.OwnerID, formatTime(now), formatTime(now)},
		},
		{
			SQL: `INSERT INTO project_members (id, project_id, user_id, role, joined_at)
			      VALUES (?, ?, ?, ?, ?)`,
			Args: []any{r.db.GenerateID(), project.ID, project.OwnerID, string(RoleOwner), formatTime(now)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("inserting project: %w", err)
	}
	return project, nil
}

// Get loads one project. Returns ErrNotFound for an unknown id.
func (r *ProjectRepo) Get(ctx context.Context, id string) (*Project, error) {
	rows, err := r.db.Query(ctx, "SELECT * FROM projects WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("loading project: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return projectFromRow(rows[0]), nil
}

// ListByOwner returns the projects the user owns, newest first.
func (r *ProjectRepo) ListByOwner(ctx context.Context, ownerID string) ([]*Project, error) {
	rows, err := r.db.Query(ctx,
		"SELECT * FROM projects WHERE owner_id = ? ORDER BY created_at DESC", ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	projects := make([]*Project, len(rows))
	for i, row := range rows {
		projects[i] = projectFromRow(row)
	}
	return projects, nil
}

// ProjectUpdate carries optional fields of a partial project update.
type ProjectUpdate struct {
	Name        *string
	Description *string
	Color       *string
	Status      *ProjectStatus
}

// Update applies the provided fields and returns the result.
func (r *ProjectRepo) Update(ctx context.Context, id string, update ProjectUpdate) (*Project, error) {
	if _, err := r.Get(ctx, id); err != nil {
		return nil, err
	}

	sql := "UPDATE projects SET updated_at = ?"
	args := []any{formatTime(time.Now())}
	add := func(col string, val any) {
		sql += ", " + col + " = ?"
		args = append(args, val)
	}
	if update.Name != nil {
		add("name", *update.Name)
	}
	if update.Description != nil {
		add("description", *update.Description)
	}
	if update.Color != nil {
		add("color", *update.Color)
	}
	if update.Status != nil {
		add("status", string(*update.Status))
	}
	sql += " WHERE id = ?"
	args = append(args, id)

	if _, err := r.db.Run(ctx, sql, args...); err != nil {
		return nil, fmt.Errorf("updating project: %w", err)
	}
	return r.Get(ctx, id)
}

// Delete removes the project and its memberships and detaches its tasks.
func (r *ProjectRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}

	err := r.db.ExecuteBatch(ctx, []store.Statement{
		{SQL: "UPDATE tasks SET project_id = ? WHERE project_id = ?", Args: []any{nil, id}},
		{SQL: "DELETE FROM project_members WHERE project_id = ?", Args: []any{id}},
		{SQL: "DELETE FROM projects WHERE id = ?", Args: []any{id}},
	})
	if err != nil {
		return fmt.Errorf("deleting project: %w", err)
	}
	return nil
}

// AddMember adds a user to the project. Adding the same user twice fails on
// the membership uniqueness constraint.
func (r *ProjectRepo) AddMember(ctx context.Context, projectID, userID string, role MemberRole) (*Member, error) {
	if _, err := r.Get(ctx, projectID); err != nil {
		return nil, err
	}
	if role == "" {
		role = RoleMember
	}

	member := &Member{
		ID:        r.db.GenerateID(),
		ProjectID: projectID,
		UserID:    userID,
		Role:      role,
		JoinedAt:  time.Now().UTC(),
	}
	_, err := r.db.Run(ctx,
		`INSERT INTO project_members (id, project_id, user_id, role, joined_at) VALUES (?, ?, ?, ?, ?)`,
		member.ID, member.ProjectID, member.UserID, string(member.Role), formatTime(member.JoinedAt))
	if err != nil {
		return nil, fmt.Errorf("adding member: %w", err)
	}
	return member, nil
}

// RemoveMember drops a membership. The owner's membership is permanent.
func (r *ProjectRepo) RemoveMember(ctx context.Context, projectID, userID string) error {
	project, err := r.Get(ctx, projectID)
	if err != nil {
		return err
	}
	if project.OwnerID == userID {
		return ErrOwnerRemoval
	}

	res, err := r.db.Run(ctx,
		"DELETE FROM project_members WHERE project_id = ? AND user_id = ?", projectID, userID)
	if err != nil {
		return fmt.Errorf("removing member: %w", err)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListMembers returns the project's memberships.
func (r *ProjectRepo) ListMembers(ctx context.Context, projectID string) ([]*Member, error) {
	rows, err := r.db.Query(ctx,
		"SELECT * FROM project_members WHERE project_id = ? ORDER BY joined_at", projectID)
	if err != nil {
		return nil, fmt.Errorf("listing members: %w", err)
	}
	members := make([]*Member, len(rows))
	for i, row := range rows {
		members[i] = &Member{
			ID:        rowStr(row, "id"),
			ProjectID: rowStr(row, "project_id"),
			UserID:    rowStr(row, "user_id"),
			Role:      MemberRole(rowStr(row, "role")),
			JoinedAt:  rowTime(row, "joined_at"),
		}
	}
	return members, nil
}

func projectFromRow(row store.Row) *Project {
	return &Project{
		ID:          rowStr(row, "id"),
		Name:        rowStr(row, "name"),
		Description: rowStr(row, "description"),
		Color:       rowStr(row, "color"),
		Status:      ProjectStatus(rowStr(row, "status")),
		OwnerID:     rowStr(row, "owner_id"),
		CreatedAt:   rowTime(row, "created_at"),
		UpdatedAt:   rowTime(row, "updated_at"),
	}
}
