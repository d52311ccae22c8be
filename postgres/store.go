package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/salesboard/salesboard/models"
)

// Store implements models.Store over PostgreSQL. Change notifications
// are emitted by statement-level triggers (see ensureSchema) and
// consumed through Listener, so every connected dashboard instance
// observes every write.
type Store struct {
	db      *sql.DB
	users   *userRepository
	deals   *dealRepository
	targets *targetRepository
}

// NewStore ensures the schema exists and returns the store.
func NewStore(db *sql.DB) (*Store, error) {
	if err := ensureSchema(db); err != nil {
		return nil, err
	}

	return &Store{
		db:      db,
		users:   &userRepository{db: db},
		deals:   &dealRepository{db: db},
		targets: &targetRepository{db: db},
	}, nil
}

func (s *Store) Users() models.UserRepository     { return s.users }
func (s *Store) Deals() models.DealRepository     { return s.deals }
func (s *Store) Targets() models.TargetRepository { return s.targets }

// RemoveUserCascade deletes the user and all of their deals in one
// transaction server-side via the delete_employee function.
func (s *Store) RemoveUserCascade(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `SELECT delete_employee($1)`, userID)
	if err != nil {
		if isMissingUser(err) {
			return fmt.Errorf("%w: %s", models.ErrUserNotFound, userID)
		}

		return fmt.Errorf("delete_employee: %w", err)
	}

	return nil
}

// schemaStatements run in order on startup. Triggers fire per statement,
// not per row, so a cascade produces one notification per affected
// table.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		account_type TEXT NOT NULL CHECK (account_type IN ('rep', 'admin')),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS deals (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		client_name TEXT NOT NULL,
		value DOUBLE PRECISION NOT NULL CHECK (value >= 0),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS deals_user_id_idx ON deals(user_id)`,
	`CREATE TABLE IF NOT EXISTS targets (
		id TEXT PRIMARY KEY,
		target_value DOUBLE PRECISION NOT NULL CHECK (target_value >= 0),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE OR REPLACE VIEW sales_by_user AS
		SELECT u.id AS user_id, u.name, u.account_type, COALESCE(SUM(d.value), 0) AS total_sales
		FROM users u
		LEFT JOIN deals d ON d.user_id = u.id
		GROUP BY u.id, u.name, u.account_type`,
	`CREATE OR REPLACE FUNCTION delete_employee(target_user_id TEXT) RETURNS void AS $$
	BEGIN
		DELETE FROM deals WHERE user_id = target_user_id;
		DELETE FROM users WHERE id = target_user_id;
		IF NOT FOUND THEN
			RAISE EXCEPTION 'user % not found', target_user_id USING ERRCODE = 'P0002';
		END IF;
	END;
	$$ LANGUAGE plpgsql`,
	`CREATE OR REPLACE FUNCTION notify_change() RETURNS trigger AS $$
	BEGIN
		PERFORM pg_notify('salesboard_changes', TG_TABLE_NAME);
		RETURN NULL;
	END;
	$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS users_notify ON users`,
	`CREATE TRIGGER users_notify AFTER INSERT OR UPDATE OR DELETE ON users
		FOR EACH STATEMENT EXECUTE FUNCTION notify_change()`,
	`DROP TRIGGER IF EXISTS deals_notify ON deals`,
	`CREATE TRIGGER deals_notify AFTER INSERT OR UPDATE OR DELETE ON deals
		FOR EACH STATEMENT EXECUTE FUNCTION notify_change()`,
	`DROP TRIGGER IF EXISTS targets_notify ON targets`,
	`CREATE TRIGGER targets_notify AFTER INSERT OR UPDATE OR DELETE ON targets
		FOR EACH STATEMENT EXECUTE FUNCTION notify_change()`,
}

func ensureSchema(db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}

	return nil
}
