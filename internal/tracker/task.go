// ABOUTME: Task repository over the persistence coordinator
// ABOUTME: Completion timestamps follow status transitions in and out of COMPLETED

package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/taskdeck/taskdeck/internal/store"
)

// TaskRepo persists tasks through the coordinator's statement surface.
type TaskRepo struct {
	db *store.Coordinator
}

func NewTaskRepo(db *store.Coordinator) *TaskRepo {
	return &TaskRepo{db: db}
}

// TaskFilter narrows ListByUser. Zero values mean no constraint.
type TaskFilter struct {
	Status    TaskStatus
	Priority  Priority
	ProjectID string
}

// NewTask carries the caller-supplied fields of task creation.
type NewTask struct {
	Title       string
	Description string
	Priority    Priority
	UserID      string
	ProjectID   string
	CategoryID  string
	Tags        []string
	DueAt       *time.Time
}

// Create inserts a task in TODO state and returns it.
func (r *TaskRepo) Create(ctx context.Context, nt NewTask) (*Task, error) {
	if nt.Priority == "" {
		nt.Priority = PriorityMedium
	}
	task := &Task{
		ID:          r.db.GenerateID(),
		Title:       nt.Title,
		Description: nt.Description,
		Status:      StatusTodo,
		Priority:    nt.Priority,
		UserID:      nt.UserID,
		ProjectID:   nt.ProjectID,
		CategoryID:  nt.CategoryID,
		Tags:        nt.Tags,
		Attachments: []string{},
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
		DueAt:       nt.DueAt,
	}
	if task.Tags == nil {
		task.Tags = []string{}
	}

	tags, _ := json.Marshal(task.Tags)
	var due any
	if task.DueAt != nil {
		due = formatTime(*task.DueAt)
	}
	_, err := r.db.Run(ctx,
		`INSERT INTO tasks (id, title, description, status, priority, user_id, project_id, category_id, tags, attachments, created_at, updated_at, due_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.Title, task.Description, string(task.Status), string(task.Priority),
		task.UserID, nullable(task.ProjectID), nullable(task.CategoryID),
		string(tags), "[]", formatTime(task.CreatedAt), formatTime(task.UpdatedAt), due)
	if err != nil {
		return nil, fmt.Errorf("inserting task: %w", err)
	}
	return task, nil
}

// Get loads one task. Returns ErrNotFound for an unknown id.
func (r *TaskRepo) Get(ctx context.Context, id string) (*Task, error) {
	rows, err := r.db.Query(ctx, "SELECT * FROM tasks WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("loading task: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return taskFromRow(rows[0]), nil
}

// ListByUser returns the user's tasks, newest first, optionally filtered.
func (r *TaskRepo) ListByUser(ctx context.Context, userID string, filter TaskFilter) ([]*Task, error) {
	sql := "SELECT * FROM tasks WHERE user_id = ?"
	args := []any{userID}
	if filter.Status != "" {
		sql += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.Priority != "" {
		sql += " AND priority = ?"
		args = append(args, string(filter.Priority))
	}
	if filter.ProjectID != "" {
		sql += " AND project_id = ?"
		args = append(args, filter.ProjectID)
	}
	sql += " ORDER BY created_at DESC"

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	tasks := make([]*Task, len(rows))
	for i, row := range rows {
		tasks[i] = taskFromRow(row)
	}
	return tasks, nil
}

// TaskUpdate carries optional fields of a partial task update.
type TaskUpdate struct {
	Title       *string
	Description *string
	Priority    *Priority
	ProjectID   *string
	CategoryID  *string
	Tags        []string
	DueAt       *time.Time
	ClearDueAt  bool
}

// Update applies the provided fields and returns the result.
func (r *TaskRepo) Update(ctx context.Context, id string, update TaskUpdate) (*Task, error) {
	if _, err := r.Get(ctx, id); err != nil {
		return nil, err
	}

	sql := "UPDATE tasks SET updated_at = ?"
	args := []any{formatTime(time.Now())}
	add := func(col string, val any) {
		sql += ", " + col + " = ?"
		args = append(args, val)
	}
	if update.Title != nil {
		add("title", *update.Title)
	}
	if update.Description != nil {
		add("description", *update.Description)
	}
	if update.Priority != nil {
		add("priority", string(*update.Priority))
	}
	if update.ProjectID != nil {
		add("project_id", nullable(*update.ProjectID))
	}
	if update.CategoryID != nil {
		add("category_id", nullable(*update.CategoryID))
	}
	if update.Tags != nil {
		tags, _ := json.Marshal(update.Tags)
		add("tags", string(tags))
	}
	if update.DueAt != nil {
		add("due_at", formatTime(*update.DueAt))
	} else if update.ClearDueAt {
		add("due_at", nil)
	}
	sql += " WHERE id = ?"
	args = append(args, id)

	if _, err := r.db.Run(ctx, sql, args...); err != nil {
		return nil, fmt.Errorf("updating task: %w", err)
	}
	return r.Get(ctx, id)
}

// SetStatus transitions the task. Entering COMPLETED stamps completed_at,
// leaving it clears the stamp.
func (r *TaskRepo) SetStatus(ctx context.Context, id string, status TaskStatus) (*Task, error) {
	if _, err := r.Get(ctx, id); err != nil {
		return nil, err
	}

	var completedAt any
	if status == StatusCompleted {
		completedAt = formatTime(time.Now())
	}
	_, err := r.db.Run(ctx,
		"UPDATE tasks SET status = ?, completed_at = ?, updated_at = ? WHERE id = ?",
		string(status), completedAt, formatTime(time.Now()), id)
	if err != nil {
		return nil, fmt.Errorf("updating task status: %w", err)
	}
	return r.Get(ctx, id)
}

// Delete removes the task. Deleting an unknown id is ErrNotFound.
func (r *TaskRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.Run(ctx, "DELETE FROM tasks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting task: %w", err)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func taskFromRow(row store.Row) *Task {
	task := &Task{
		ID:          rowStr(row, "id"),
		Title:       rowStr(row, "title"),
		Description: rowStr(row, "description"),
		Status:      TaskStatus(rowStr(row, "status")),
		Priority:    Priority(rowStr(row, "priority")),
		UserID:      rowStr(row, "user_id"),
		ProjectID:   rowStr(row, "project_id"),
		CategoryID:  rowStr(row, "category_id"),
		CreatedAt:   rowTime(row, "created_at"),
		UpdatedAt:   rowTime(row, "updated_at"),
		DueAt:       rowTimePtr(row, "due_at"),
		CompletedAt: rowTimePtr(row, "completed_at"),
	}
	if err := json.Unmarshal([]byte(rowStr(row, "tags")), &task.Tags); err != nil || task.Tags == nil {
		task.Tags = []string{}
	}
	if err := json.Unmarshal([]byte(rowStr(row, "attachments")), &task.Attachments); err != nil || task.Attachments == nil {
		task.Attachments = []string{}
	}
	return task
}

// nullable maps an empty string onto SQL NULL for optional references.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
