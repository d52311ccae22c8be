package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/salesboard/salesboard/models"
)

// PostgreSQL error codes surfaced to callers as typed errors.
const (
	pgForeignKeyViolation = "23503"
	pgNoDataFound         = "P0002"
)

type dealRepository struct {
	db *sql.DB
}

func (repo *dealRepository) Create(ctx context.Context, deal *models.Deal) error {
	if err := deal.Validate(); err != nil {
		return err
	}

	const q = `INSERT INTO deals (id, user_id, client_name, value, created_at) VALUES ($1, $2, $3, $4, $5)`

	_, err := repo.db.ExecContext(ctx, q, deal.ID, deal.UserID, deal.ClientName, deal.Value, deal.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			// Referential integrity violation: the owning user is gone.
			return fmt.Errorf("%w: %s", models.ErrUserNotFound, deal.UserID)
		}

		return fmt.Errorf("failed to create deal: %w", err)
	}

	return nil
}

func (repo *dealRepository) Delete(ctx context.Context, id string) error {
	const q = `DELETE FROM deals WHERE id = $1`

	result, err := repo.db.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("failed to delete deal: %w", err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("%w: %s", models.ErrDealNotFound, id)
	}

	return nil
}

func (repo *dealRepository) Select(ctx context.Context, params models.DealSelectParams) ([]models.Deal, error) {
	q := `SELECT id, user_id, client_name, value, created_at FROM deals`

	var args []any

	if params.UserID != "" {
		q += ` WHERE user_id = $1`

		args = append(args, params.UserID)
	}

	q += ` ORDER BY created_at DESC`

	if params.Limit > 0 {
		q += fmt.Sprintf(` LIMIT $%d`, len(args)+1)

		args = append(args, params.Limit)
	}

	rows, err := repo.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select deals: %w", err)
	}

	defer rows.Close()

	var ans []models.Deal

	for rows.Next() {
		var deal models.Deal

		if err := rows.Scan(&deal.ID, &deal.UserID, &deal.ClientName, &deal.Value, &deal.CreatedAt); err != nil {
			return nil, err
		}

		ans = append(ans, deal)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return ans, nil
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError

	return errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation
}

func isMissingUser(err error) bool {
	var pgErr *pgconn.PgError

	return errors.As(err, &pgErr) && pgErr.Code == pgNoDataFound
}
