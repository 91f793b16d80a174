package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"bilancio/internal/core"

	"github.com/google/uuid"
)

// CreateUser registers a user. Email uniqueness is case-insensitive; a
// duplicate fails with core.ErrDuplicateEmail.
func (r *SQLiteRepository) CreateUser(ctx context.Context, email, hashedPassword, fullName string) (core.User, error) {
	user := core.User{
		ID:             uuid.NewString(),
		Email:          email,
		HashedPassword: hashedPassword,
		FullName:       fullName,
		CreatedAt:      now(),
		UpdatedAt:      now(),
	}
	if err := user.Validate(); err != nil {
		return core.User{}, fmt.Errorf("validate user: %w", err)
	}

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		// The email column collates NOCASE, so this equality check is
		// case-insensitive. The unique index backs it up under races.
		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM users WHERE email = ? LIMIT 1`, user.Email).Scan(&exists)
		if err == nil {
			return core.ErrDuplicateEmail
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check email: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO users (id, email, hashed_password, full_name, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			user.ID, user.Email, user.HashedPassword, user.FullName, user.CreatedAt, user.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert user: %w", err)
		}
		return nil
	})
	if err != nil {
		return core.User{}, err
	}

	slog.InfoContext(ctx, "User created", "id", user.ID, "email", user.Email)
	return user, nil
}

// GetUser fetches a user by identifier.
func (r *SQLiteRepository) GetUser(ctx context.Context, id string) (core.User, error) {
	var u core.User
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, hashed_password, full_name, created_at, updated_at
		 FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Email, &u.HashedPassword, &u.FullName, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, fmt.Errorf("user %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// UpdateUserParams carries the mutable user fields; empty strings leave the
// stored value unchanged.
type UpdateUserParams struct {
	Email          string
	HashedPassword string
	FullName       string
}

// UpdateUser applies the given changes. Changing the email re-checks the
// case-insensitive uniqueness rule.
func (r *SQLiteRepository) UpdateUser(ctx context.Context, id string, params UpdateUserParams) (core.User, error) {
	var updated core.User
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var u core.User
		err := tx.QueryRowContext(ctx,
			`SELECT id, email, hashed_password, full_name, created_at, updated_at
			 FROM users WHERE id = ?`, id).
			Scan(&u.ID, &u.Email, &u.HashedPassword, &u.FullName, &u.CreatedAt, &u.UpdatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("user %s: %w", id, core.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("get user: %w", err)
		}

		if params.Email != "" && params.Email != u.Email {
			var exists int
			err := tx.QueryRowContext(ctx,
				`SELECT 1 FROM users WHERE email = ? AND id != ? LIMIT 1`,
				params.Email, id).Scan(&exists)
			if err == nil {
				return core.ErrDuplicateEmail
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("check email: %w", err)
			}
			u.Email = params.Email
		}
		if params.HashedPassword != "" {
			u.HashedPassword = params.HashedPassword
		}
		if params.FullName != "" {
			u.FullName = params.FullName
		}
		u.UpdatedAt = now()

		if err := u.Validate(); err != nil {
			return fmt.Errorf("validate user: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE users SET email = ?, hashed_password = ?, full_name = ?, updated_at = ?
			 WHERE id = ?`,
			u.Email, u.HashedPassword, u.FullName, u.UpdatedAt, u.ID)
		if err != nil {
			return fmt.Errorf("update user: %w", err)
		}
		updated = u
		return nil
	})
	if err != nil {
		return core.User{}, err
	}
	return updated, nil
}

// DeleteUser removes a user together with everything it owns: budgets,
// transactions, accounts and categories, in dependency order inside one
// transaction.
func (r *SQLiteRepository) DeleteUser(ctx context.Context, id string) error {
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, id).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("user %s: %w", id, core.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("get user: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM budgets WHERE user_id = ?`, id); err != nil {
			return fmt.Errorf("delete budgets: %w", err)
		}

		// Transfer counterpart legs always live on an account of the same
		// user, so clearing links inside the user's accounts is enough to
		// break the mutual references before deleting the rows.
		if _, err := tx.ExecContext(ctx,
			`UPDATE transactions SET linked_transaction_id = NULL
			 WHERE account_id IN (SELECT id FROM accounts WHERE user_id = ?)`, id); err != nil {
			return fmt.Errorf("clear transfer links: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM transactions
			 WHERE account_id IN (SELECT id FROM accounts WHERE user_id = ?)`, id); err != nil {
			return fmt.Errorf("delete transactions: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM accounts WHERE user_id = ?`, id); err != nil {
			return fmt.Errorf("delete accounts: %w", err)
		}

		// Break parent references first so the self-referencing foreign key
		// does not constrain the deletion order of the category rows.
		if _, err := tx.ExecContext(ctx,
			`UPDATE transaction_categories SET parent_category_id = NULL
			 WHERE user_id = ?`, id); err != nil {
			return fmt.Errorf("clear category parents: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM transaction_categories WHERE user_id = ?`, id); err != nil {
			return fmt.Errorf("delete categories: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM users WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "User deleted with owned records", "id", id)
	return nil
}
