package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"bilancio/internal/core"

	"github.com/google/uuid"
)

const categoryColumns = `id, user_id, name, category_type, color, icon, is_system, parent_category_id, created_at, updated_at`

func scanCategory(row interface{ Scan(...any) error }) (core.Category, error) {
	var (
		c                      core.Category
		userID, color, icon, parentID sql.NullString
	)
	err := row.Scan(&c.ID, &userID, &c.Name, &c.Type, &color, &icon, &c.IsSystem, &parentID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return core.Category{}, err
	}
	c.UserID = userID.String
	c.Color = color.String
	c.Icon = icon.String
	c.ParentID = parentID.String
	return c, nil
}

func getCategoryTx(ctx context.Context, tx *sql.Tx, id string) (core.Category, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+categoryColumns+` FROM transaction_categories WHERE id = ?`, id)
	c, err := scanCategory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Category{}, fmt.Errorf("category %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Category{}, fmt.Errorf("get category: %w", err)
	}
	return c, nil
}

// CreateCategoryParams describes a new category. An empty UserID together
// with IsSystem creates a system-wide category.
type CreateCategoryParams struct {
	UserID   string // empty = system scope
	Name     string
	Type     core.CategoryType
	Color    string
	Icon     string
	IsSystem bool
	ParentID string // empty = root category
}

// CreateCategory inserts a category, validating that the parent (if any)
// exists and shares the new category's owner scope.
func (r *SQLiteRepository) CreateCategory(ctx context.Context, params CreateCategoryParams) (core.Category, error) {
	category := core.Category{
		ID:        uuid.NewString(),
		UserID:    params.UserID,
		Name:      params.Name,
		Type:      params.Type,
		Color:     params.Color,
		Icon:      params.Icon,
		IsSystem:  params.IsSystem,
		ParentID:  params.ParentID,
		CreatedAt: now(),
		UpdatedAt: now(),
	}
	if err := category.Validate(); err != nil {
		return core.Category{}, fmt.Errorf("validate category: %w", err)
	}

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if category.UserID != "" {
			var exists int
			err := tx.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, category.UserID).Scan(&exists)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("user %s: %w", category.UserID, core.ErrNotFound)
			}
			if err != nil {
				return fmt.Errorf("get user: %w", err)
			}
		}

		if category.ParentID != "" {
			parent, err := getCategoryTx(ctx, tx, category.ParentID)
			if err != nil {
				if errors.Is(err, core.ErrNotFound) {
					return fmt.Errorf("parent %s: %w", category.ParentID, core.ErrInvalidParent)
				}
				return err
			}
			// Parent and child must share the owner scope: both system,
			// or both owned by the same user.
			if parent.UserID != category.UserID {
				return fmt.Errorf("parent scope mismatch: %w", core.ErrInvalidParent)
			}
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO transaction_categories
			 (id, user_id, name, category_type, color, icon, is_system, parent_category_id, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			category.ID, nullStr(category.UserID), category.Name, category.Type,
			nullStr(category.Color), nullStr(category.Icon), category.IsSystem,
			nullStr(category.ParentID), category.CreatedAt, category.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert category: %w", err)
		}
		return nil
	})
	if err != nil {
		return core.Category{}, err
	}

	slog.InfoContext(ctx, "Category created",
		"id", category.ID, "name", category.Name, "type", category.Type, "system", category.IsSystem)
	return category, nil
}

// GetCategory fetches a category by identifier.
func (r *SQLiteRepository) GetCategory(ctx context.Context, id string) (core.Category, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+categoryColumns+` FROM transaction_categories WHERE id = ?`, id)
	c, err := scanCategory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Category{}, fmt.Errorf("category %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Category{}, fmt.Errorf("get category: %w", err)
	}
	return c, nil
}

// ListCategories returns the categories visible to a user: their own plus
// the system-wide set.
func (r *SQLiteRepository) ListCategories(ctx context.Context, userID string) ([]core.Category, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+categoryColumns+` FROM transaction_categories
		 WHERE user_id = ? OR user_id IS NULL
		 ORDER BY name, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var categories []core.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return categories, nil
}

// subtree loads a category's whole subtree (root included) in one query.
func subtree(ctx context.Context, q interface {
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
}, rootID string) ([]core.Category, error) {
	rows, err := q.QueryContext(ctx,
		`WITH RECURSIVE sub(id) AS (
			SELECT id FROM transaction_categories WHERE id = ?
			UNION ALL
			SELECT c.id FROM transaction_categories c JOIN sub s ON c.parent_category_id = s.id
		 )
		 SELECT `+categoryColumns+` FROM transaction_categories WHERE id IN (SELECT id FROM sub)`,
		rootID)
	if err != nil {
		return nil, fmt.Errorf("load subtree: %w", err)
	}
	defer rows.Close()

	var categories []core.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load subtree: %w", err)
	}
	return categories, nil
}

// dfsOrder arranges a subtree depth-first starting below root, children
// sorted by name then id for a stable order.
func dfsOrder(rootID string, nodes []core.Category) []core.Category {
	children := make(map[string][]core.Category)
	for _, c := range nodes {
		if c.ID == rootID {
			continue
		}
		children[c.ParentID] = append(children[c.ParentID], c)
	}
	for _, cs := range children {
		sort.Slice(cs, func(i, j int) bool {
			if cs[i].Name != cs[j].Name {
				return cs[i].Name < cs[j].Name
			}
			return cs[i].ID < cs[j].ID
		})
	}

	var ordered []core.Category
	var walk func(id string)
	walk = func(id string) {
		for _, c := range children[id] {
			ordered = append(ordered, c)
			walk(c.ID)
		}
	}
	walk(rootID)
	return ordered
}

// ListDescendants returns every category below the given one, depth-first.
// The root itself is not included.
func (r *SQLiteRepository) ListDescendants(ctx context.Context, id string) ([]core.Category, error) {
	if _, err := r.GetCategory(ctx, id); err != nil {
		return nil, err
	}
	nodes, err := subtree(ctx, r.db, id)
	if err != nil {
		return nil, err
	}
	return dfsOrder(id, nodes), nil
}

// Reparent moves a category under a new parent (or to the root for an empty
// newParentID). The ancestor walk and the write happen in the same
// transaction so a concurrent reparent cannot sneak a cycle in.
func (r *SQLiteRepository) Reparent(ctx context.Context, id, newParentID string) error {
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		category, err := getCategoryTx(ctx, tx, id)
		if err != nil {
			return err
		}

		if newParentID != "" {
			if newParentID == id {
				return core.ErrCycleDetected
			}
			parent, err := getCategoryTx(ctx, tx, newParentID)
			if err != nil {
				if errors.Is(err, core.ErrNotFound) {
					return fmt.Errorf("parent %s: %w", newParentID, core.ErrInvalidParent)
				}
				return err
			}
			if parent.UserID != category.UserID {
				return fmt.Errorf("parent scope mismatch: %w", core.ErrInvalidParent)
			}

			// Walk the ancestor chain of the new parent; finding the
			// category itself means the move would close a cycle.
			ancestor := parent
			for ancestor.ParentID != "" {
				if ancestor.ParentID == id {
					return core.ErrCycleDetected
				}
				ancestor, err = getCategoryTx(ctx, tx, ancestor.ParentID)
				if err != nil {
					return err
				}
			}
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE transaction_categories SET parent_category_id = ?, updated_at = ? WHERE id = ?`,
			nullStr(newParentID), now(), id)
		if err != nil {
			return fmt.Errorf("update category: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "Category reparented", "id", id, "new_parent", newParentID)
	return nil
}

// DeleteCategory removes a category and its whole subtree together with the
// budgets targeting any of those categories. Transactions referencing a
// deleted category keep their rows and only lose the category reference.
func (r *SQLiteRepository) DeleteCategory(ctx context.Context, id string) error {
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := getCategoryTx(ctx, tx, id); err != nil {
			return err
		}
		nodes, err := subtree(ctx, tx, id)
		if err != nil {
			return err
		}

		ids := make([]string, len(nodes))
		args := make([]any, len(nodes))
		for i, c := range nodes {
			ids[i] = c.ID
			args[i] = c.ID
		}
		placeholders := strings.Repeat("?,", len(ids))
		placeholders = placeholders[:len(placeholders)-1]

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM budgets WHERE category_id IN (`+placeholders+`)`, args...); err != nil {
			return fmt.Errorf("delete budgets: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE transactions SET category_id = NULL, updated_at = ?
			 WHERE category_id IN (`+placeholders+`)`,
			append([]any{now()}, args...)...); err != nil {
			return fmt.Errorf("clear transaction categories: %w", err)
		}
		// Break parent links before deleting so the self-referencing
		// foreign key allows any deletion order.
		if _, err := tx.ExecContext(ctx,
			`UPDATE transaction_categories SET parent_category_id = NULL
			 WHERE parent_category_id IN (`+placeholders+`)`, args...); err != nil {
			return fmt.Errorf("clear parent links: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM transaction_categories WHERE id IN (`+placeholders+`)`, args...); err != nil {
			return fmt.Errorf("delete categories: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "Category subtree deleted", "id", id)
	return nil
}

// SubtreeIDs returns the ids of a category and all of its descendants; the
// budget evaluator uses this set to include subcategory spend.
func (r *SQLiteRepository) SubtreeIDs(ctx context.Context, id string) ([]string, error) {
	if _, err := r.GetCategory(ctx, id); err != nil {
		return nil, err
	}
	nodes, err := subtree(ctx, r.db, id)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(nodes))
	for i, c := range nodes {
		ids[i] = c.ID
	}
	return ids, nil
}
