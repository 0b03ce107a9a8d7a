// ABOUTME: Category repository
// ABOUTME: Categories are global (no owner) or private to one user

package tracker

import (
	"context"
	"fmt"

	"github.com/taskdeck/taskdeck/internal/store"
)

// CategoryRepo persists task categories.
type CategoryRepo struct {
	db *store.Coordinator
}

func NewCategoryRepo(db *store.Coordinator) *CategoryRepo {
	return &CategoryRepo{db: db}
}

// Create inserts the category. An empty UserID makes it globally visible.
func (r *CategoryRepo) Create(ctx context.Context, cat Category) (*Category, error) {
	cat.ID = r.db.GenerateID()
	_, err := r.db.Run(ctx,
		`INSERT INTO categories (id, name, icon, color, description, user_id) VALUES (?, ?, ?, ?, ?, ?)`,
		cat.ID, cat.Name, cat.Icon, cat.Color, cat.Description, nullable(cat.UserID))
	if err != nil {
		return nil, fmt.Errorf("inserting category: %w", err)
	}
	return &cat, nil
}

// Get loads one category. Returns ErrNotFound for an unknown id.
func (r *CategoryRepo) Get(ctx context.Context, id string) (*Category, error) {
	rows, err := r.db.Query(ctx, "SELECT * FROM categories WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("loading category: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return categoryFromRow(rows[0]), nil
}

// ListForUser returns the global categories plus the user's own.
func (r *CategoryRepo) ListForUser(ctx context.Context, userID string) ([]*Category, error) {
	global, err := r.db.Query(ctx, "SELECT * FROM categories WHERE user_id IS NULL ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("listing global categories: %w", err)
	}
	own, err := r.db.Query(ctx, "SELECT * FROM categories WHERE user_id = ? ORDER BY name", userID)
	if err != nil {
		return nil, fmt.Errorf("listing user categories: %w", err)
	}

	categories := make([]*Category, 0, len(global)+len(own))
	for _, row := range global {
		categories = append(categories, categoryFromRow(row))
	}
	for _, row := range own {
		categories = append(categories, categoryFromRow(row))
	}
	return categories, nil
}

// CategoryUpdate carries optional fields of a partial category update.
type CategoryUpdate struct {
	Name        *string
	Icon        *string
	Color       *string
	Description *string
}

// Update applies the provided fields and returns the result.
func (r *CategoryRepo) Update(ctx context.Context, id string, update CategoryUpdate) (*Category, error) {
	if _, err := r.Get(ctx, id); err != nil {
		return nil, err
	}

	sql := "UPDATE categories SET"
	var args []any
	add := func(col string, val any) {
		if len(args) > 0 {
			sql += ","
		}
		sql += " " + col + " = ?"
		args = append(args, val)
	}
	if update.Name != nil {
		add("name", *update.Name)
	}
	if update.Icon != nil {
		add("icon", *update.Icon)
	}
	if update.Color != nil {
		add("color", *update.Color)
	}
	if update.Description != nil {
		add("description", *update.Description)
	}
	if len(args) == 0 {
		return r.Get(ctx, id)
	}
	sql += " WHERE id = ?"
	args = append(args, id)

	if _, err := r.db.Run(ctx, sql, args...); err != nil {
		return nil, fmt.Errorf("updating category: %w", err)
	}
	return r.Get(ctx, id)
}

// Delete removes the category and detaches its tasks.
func (r *CategoryRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}

	err := r.db.ExecuteBatch(ctx, []store.Statement{
		{SQL: "UPDATE tasks SET category_id = ? WHERE category_id = ?", Args: []any{nil, id}},
		{SQL: "DELETE FROM categories WHERE id = ?", Args: []any{id}},
	})
	if err != nil {
		return fmt.Errorf("deleting category: %w", err)
	}
	return nil
}

func categoryFromRow(row store.Row) *Category {
	return &Category{
		ID:          rowStr(row, "id"),
		Name:        rowStr(row, "name"),
		Icon:        rowStr(row, "icon"),
		Color:       rowStr(row, "color"),
		Description: rowStr(row, "description"),
		UserID:      rowStr(row, "user_id"),
	}
}
