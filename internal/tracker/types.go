// ABOUTME: Domain types for tasks, projects and categories
// ABOUTME: String enums for status, priority and membership roles plus shared row decoding

package tracker

import (
	"errors"
	"time"

	"github.com/taskdeck/taskdeck/internal/store"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrOwnerRemoval = errors.New("project owner cannot be removed")
)

// Task status values.
type TaskStatus string

const (
	StatusTodo       TaskStatus = "TODO"
	StatusInProgress TaskStatus = "IN_PROGRESS"
	StatusCompleted  TaskStatus = "COMPLETED"
	StatusCancelled  TaskStatus = "CANCELLED"
)

// Task priority values.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// Project status values.
type ProjectStatus string

const (
	ProjectActive    ProjectStatus = "ACTIVE"
	ProjectOnHold    ProjectStatus = "ON_HOLD"
	ProjectCompleted ProjectStatus = "COMPLETED"
	ProjectArchived  ProjectStatus = "ARCHIVED"
)

// Project membership roles.
type MemberRole string

const (
	RoleOwner  MemberRole = "OWNER"
	RoleAdmin  MemberRole = "ADMIN"
	RoleMember MemberRole = "MEMBER"
	RoleViewer MemberRole = "VIEWER"
)

// Task is one tracked item. Tags and attachments are stored as JSON arrays.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      TaskStatus `json:"status"`
	Priority    Priority   `json:"priority"`
	UserID      string     `json:"user_id"`
	ProjectID   string     `json:"project_id,omitempty"`
	CategoryID  string     `json:"category_id,omitempty"`
	Tags        []string   `json:"tags"`
	Attachments []string   `json:"attachments"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DueAt       *time.Time `json:"due_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Project groups tasks under an owner.
type Project struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Color       string        `json:"color"`
	Status      ProjectStatus `json:"status"`
	OwnerID     string        `json:"owner_id"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Member is one user's membership in a project.
type Member struct {
	ID        string     `json:"id"`
	ProjectID string     `json:"project_id"`
	UserID    string     `json:"user_id"`
	Role      MemberRole `json:"role"`
	JoinedAt  time.Time  `json:"joined_at"`
}

// Category labels tasks. A category with an empty user id is global.
type Category struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Icon        string `json:"icon,omitempty"`
	Color       string `json:"color,omitempty"`
	Description string `json:"description,omitempty"`
	UserID      string `json:"user_id,omitempty"`
}

func rowStr(row store.Row, col string) string {
	switch v := row[col].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}

func rowTime(row store.Row, col string) time.Time {
	t, _ := time.Parse(time.RFC3339, rowStr(row, col))
	return t
}

func rowTimePtr(row store.Row, col string) *time.Time {
	s := rowStr(row, col)
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
