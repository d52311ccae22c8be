package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/salesboard/salesboard/models"
)

type targetRepository struct {
	db *sql.DB
}

func (repo *targetRepository) Create(ctx context.Context, target *models.Target) error {
	if err := target.Validate(); err != nil {
		return err
	}

	const q = `INSERT INTO targets (id, target_value, created_at) VALUES ($1, $2, $3)`

	_, err := repo.db.ExecContext(ctx, q, target.ID, target.TargetValue, target.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create target: %w", err)
	}

	return nil
}

func (repo *targetRepository) Select(ctx context.Context) ([]models.Target, error) {
	const q = `SELECT id, target_value, created_at FROM targets ORDER BY created_at DESC`

	rows, err := repo.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to select targets: %w", err)
	}

	defer rows.Close()

	var ans []models.Target

	for rows.Next() {
		var target models.Target

		if err := rows.Scan(&target.ID, &target.TargetValue, &target.CreatedAt); err != nil {
			return nil, err
		}

		ans = append(ans, target)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return ans, nil
}
