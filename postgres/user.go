package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/salesboard/salesboard/models"
)

type userRepository struct {
	db *sql.DB
}

func (repo *userRepository) GetByID(ctx context.Context, id string) (models.User, error) {
	const q = `SELECT id, name, account_type, created_at FROM users WHERE id = $1`

	var user models.User

	err := repo.db.QueryRowContext(ctx, q, id).Scan(&user.ID, &user.Name, &user.AccountType, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, fmt.Errorf("%w: %s", models.ErrUserNotFound, id)
		}

		return models.User{}, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

func (repo *userRepository) Select(ctx context.Context) ([]models.User, error) {
	const q = `SELECT id, name, account_type, created_at FROM users ORDER BY created_at, id`

	rows, err := repo.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to select users: %w", err)
	}

	defer rows.Close()

	var ans []models.User

	for rows.Next() {
		var user models.User

		if err := rows.Scan(&user.ID, &user.Name, &user.AccountType, &user.CreatedAt); err != nil {
			return nil, err
		}

		ans = append(ans, user)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return ans, nil
}

func (repo *userRepository) Create(ctx context.Context, user *models.User) error {
	if err := user.Validate(); err != nil {
		return err
	}

	const q = `INSERT INTO users (id, name, account_type, created_at) VALUES ($1, $2, $3, $4)`

	_, err := repo.db.ExecContext(ctx, q, user.ID, user.Name, user.AccountType, user.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}
