// Package sqlite is the single-node record store used for local runs.
// It mirrors the postgres store's behavior; change events are emitted
// in-process through Feed since SQLite has no notification primitive.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite" // sqlite driver

	"github.com/salesboard/salesboard/dispatch"
	"github.com/salesboard/salesboard/models"
)

type Store struct {
	db   *sql.DB
	feed *feed
}

func New(path string) (*Store, error) {
	db, err := initDatabase(path)
	if err != nil {
		return nil, err
	}

	return &Store{db: db, feed: newFeed()}, nil
}

func (s *Store) Users() models.UserRepository     { return &userRepo{store: s} }
func (s *Store) Deals() models.DealRepository     { return &dealRepo{store: s} }
func (s *Store) Targets() models.TargetRepository { return &targetRepo{store: s} }

// Feed is the store's change-event source for the dispatcher.
func (s *Store) Feed() dispatch.Source {
	return s.feed
}

// RemoveUserCascade deletes the user's deals and then the user in one
// transaction, so no partially-cascaded state is observable.
func (s *Store) RemoveUserCascade(ctx context.Context, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin cascade: %w", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM deals WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("failed to delete deals: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("%w: %s", models.ErrUserNotFound, userID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cascade: %w", err)
	}

	s.feed.publish(dispatch.TopicDeals)
	s.feed.publish(dispatch.TopicUsers)

	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func initDatabase(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	statements := []string{
		`PRAGMA foreign_keys = ON`,
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			account_type TEXT NOT NULL CHECK (account_type IN ('rep', 'admin')),
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS deals (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id),
			client_name TEXT NOT NULL,
			value REAL NOT NULL CHECK (value >= 0),
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS deals_user_id_idx ON deals(user_id)`,
		`CREATE TABLE IF NOT EXISTS targets (
			id TEXT PRIMARY KEY,
			target_value REAL NOT NULL CHECK (target_value >= 0),
			created_at TIMESTAMP NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to init sqlite schema: %w", err)
		}
	}

	return db, nil
}

func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

type userRepo struct {
	store *Store
}

func (r *userRepo) GetByID(ctx context.Context, id string) (models.User, error) {
	const q = `SELECT id, name, account_type, created_at FROM users WHERE id = ?`

	var user models.User

	err := r.store.db.QueryRowContext(ctx, q, id).Scan(&user.ID, &user.Name, &user.AccountType, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, fmt.Errorf("%w: %s", models.ErrUserNotFound, id)
		}

		return models.User{}, err
	}

	return user, nil
}

func (r *userRepo) Select(ctx context.Context) ([]models.User, error) {
	const q = `SELECT id, name, account_type, created_at FROM users ORDER BY created_at, id`

	rows, err := r.store.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
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

func (r *userRepo) Create(ctx context.Context, user *models.User) error {
	if err := user.Validate(); err != nil {
		return err
	}

	const q = `INSERT INTO users (id, name, account_type, created_at) VALUES (?, ?, ?, ?)`

	if _, err := r.store.db.ExecContext(ctx, q, user.ID, user.Name, user.AccountType, user.CreatedAt); err != nil {
		return err
	}

	r.store.feed.publish(dispatch.TopicUsers)

	return nil
}

type dealRepo struct {
	store *Store
}

func (r *dealRepo) Create(ctx context.Context, deal *models.Deal) error {
	if err := deal.Validate(); err != nil {
		return err
	}

	const q = `INSERT INTO deals (id, user_id, client_name, value, created_at) VALUES (?, ?, ?, ?, ?)`

	_, err := r.store.db.ExecContext(ctx, q, deal.ID, deal.UserID, deal.ClientName, deal.Value, deal.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: %s", models.ErrUserNotFound, deal.UserID)
		}

		return err
	}

	r.store.feed.publish(dispatch.TopicDeals)

	return nil
}

func (r *dealRepo) Delete(ctx context.Context, id string) error {
	const q = `DELETE FROM deals WHERE id = ?`

	result, err := r.store.db.ExecContext(ctx, q, id)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("%w: %s", models.ErrDealNotFound, id)
	}

	r.store.feed.publish(dispatch.TopicDeals)

	return nil
}

func (r *dealRepo) Select(ctx context.Context, params models.DealSelectParams) ([]models.Deal, error) {
	q := `SELECT id, user_id, client_name, value, created_at FROM deals`

	var args []any

	if params.UserID != "" {
		q += ` WHERE user_id = ?`

		args = append(args, params.UserID)
	}

	q += ` ORDER BY created_at DESC`

	if params.Limit > 0 {
		q += ` LIMIT ?`

		args = append(args, params.Limit)
	}

	rows, err := r.store.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
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

type targetRepo struct {
	store *Store
}

func (r *targetRepo) Create(ctx context.Context, target *models.Target) error {
	if err := target.Validate(); err != nil {
		return err
	}

	const q = `INSERT INTO targets (id, target_value, created_at) VALUES (?, ?, ?)`

	if _, err := r.store.db.ExecContext(ctx, q, target.ID, target.TargetValue, target.CreatedAt); err != nil {
		return err
	}

	r.store.feed.publish(dispatch.TopicTargets)

	return nil
}

func (r *targetRepo) Select(ctx context.Context) ([]models.Target, error) {
	const q = `SELECT id, target_value, created_at FROM targets ORDER BY created_at DESC`

	rows, err := r.store.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
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
