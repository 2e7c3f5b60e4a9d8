package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"dealroom/internal/domain/entity"
	"dealroom/internal/domain/repository"
	"dealroom/pkg/errors"
)

type sqliteUserRepository struct {
	db *sql.DB
}

func NewSQLiteUserRepository(db *sql.DB) repository.UserRepository {
	return &sqliteUserRepository{db: db}
}

func (r *sqliteUserRepository) Create(ctx context.Context, user *entity.User) error {
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, username, role, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			email = excluded.email,
			username = excluded.username,
			role = excluded.role,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		user.ID, user.Email, user.Username, string(user.Role), user.Status,
		formatTime(user.CreatedAt), formatTime(user.UpdatedAt),
	)
	if err != nil {
		return errors.Internal("Failed to create user", err)
	}
	return nil
}

func (r *sqliteUserRepository) GetByID(ctx context.Context, id string) (*entity.User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, email, username, role, status, created_at, updated_at
		FROM users WHERE id = ?`, id)
	user, err := scanUser(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFound("User", err)
	}
	if err != nil {
		return nil, errors.Internal("Failed to get user", err)
	}
	return user, nil
}

func (r *sqliteUserRepository) ListByRole(ctx context.Context, role entity.Role, limit int) ([]*entity.User, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, email, username, role, status, created_at, updated_at
		FROM users WHERE role = ?
		ORDER BY username, id
		LIMIT ?`, string(role), limit)
	if err != nil {
		return nil, errors.Internal("Failed to list users", err)
	}
	defer rows.Close()

	users := []*entity.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, errors.Internal("Failed to parse user", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Internal("Failed to list users", err)
	}
	return users, nil
}

func scanUser(row rowScanner) (*entity.User, error) {
	var (
		user                 entity.User
		role                 string
		createdAt, updatedAt string
	)
	if err := row.Scan(&user.ID, &user.Email, &user.Username, &role, &user.Status, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	user.Role = entity.Role(role)
	user.CreatedAt = parseTime(createdAt)
	user.UpdatedAt = parseTime(updatedAt)
	return &user, nil
}
