package sieve

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Store handles Sieve script persistence, adapted from the teacher's
// mattn/go-sqlite3-backed script store (store.go) but keyed by account
// rather than user, since this engine has no user-account layer of
// its own.
type Store struct {
	db *sql.DB
}

// EnsureSchema creates the sieve_scripts and vacation_responses tables
// if they don't already exist. The teacher assumes its equivalent
// tables are provisioned by an external migration tool; this repo
// ships no such tool, so cmd/meli calls this once at startup instead.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS sieve_scripts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			account_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			content TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (account_id, name)
		)
	`)
	if err != nil {
		return fmt.Errorf("create sieve_scripts: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS vacation_responses (
			account_id INTEGER NOT NULL,
			sender_address TEXT NOT NULL,
			responded_at TIMESTAMP NOT NULL,
			PRIMARY KEY (account_id, sender_address)
		)
	`)
	if err != nil {
		return fmt.Errorf("create vacation_responses: %w", err)
	}
	return nil
}

// NewStore creates a new Sieve script store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// GetActiveScript returns the active Sieve script for an account.
func (s *Store) GetActiveScript(ctx context.Context, accountID int64) (*Script, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("store or database is nil")
	}

	script := &Script{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, name, content, is_active, created_at, updated_at
		FROM sieve_scripts
		WHERE account_id = ? AND is_active = TRUE
		LIMIT 1
	`, accountID).Scan(
		&script.ID, &script.AccountID, &script.Name, &script.Content,
		&script.IsActive, &script.CreatedAt, &script.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return script, nil
}

// GetScript returns a specific Sieve script by name.
func (s *Store) GetScript(ctx context.Context, accountID int64, name string) (*Script, error) {
	script := &Script{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, name, content, is_active, created_at, updated_at
		FROM sieve_scripts
		WHERE account_id = ? AND name = ?
	`, accountID, name).Scan(
		&script.ID, &script.AccountID, &script.Name, &script.Content,
		&script.IsActive, &script.CreatedAt, &script.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return script, nil
}

// ListScripts returns all Sieve scripts for an account.
func (s *Store) ListScripts(ctx context.Context, accountID int64) ([]*Script, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, name, content, is_active, created_at, updated_at
		FROM sieve_scripts
		WHERE account_id = ?
		ORDER BY name
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scripts []*Script
	for rows.Next() {
		script := &Script{}
		err := rows.Scan(
			&script.ID, &script.AccountID, &script.Name, &script.Content,
			&script.IsActive, &script.CreatedAt, &script.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, script)
	}
	return scripts, rows.Err()
}

// CreateScript creates a new Sieve script, rejecting content that
// fails to parse.
func (s *Store) CreateScript(ctx context.Context, accountID int64, name, content string) (*Script, error) {
	if _, err := Parse(content); err != nil {
		return nil, err
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO sieve_scripts (account_id, name, content, is_active, created_at, updated_at)
		VALUES (?, ?, ?, FALSE, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`, accountID, name, content)
	if err != nil {
		return nil, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	return &Script{
		ID:        id,
		AccountID: accountID,
		Name:      name,
		Content:   content,
		IsActive:  false,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}, nil
}

// UpdateScript updates an existing Sieve script's content.
func (s *Store) UpdateScript(ctx context.Context, accountID int64, name, content string) error {
	if _, err := Parse(content); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE sieve_scripts
		SET content = ?, updated_at = CURRENT_TIMESTAMP
		WHERE account_id = ? AND name = ?
	`, content, accountID, name)
	return err
}

// DeleteScript deletes a Sieve script.
func (s *Store) DeleteScript(ctx context.Context, accountID int64, name string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM sieve_scripts
		WHERE account_id = ? AND name = ?
	`, accountID, name)
	return err
}

// SetActiveScript sets which script is active for an account,
// deactivating any other. An empty name deactivates all scripts.
func (s *Store) SetActiveScript(ctx context.Context, accountID int64, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE sieve_scripts
		SET is_active = FALSE, updated_at = CURRENT_TIMESTAMP
		WHERE account_id = ?
	`, accountID)
	if err != nil {
		return err
	}

	if name != "" {
		_, err = tx.ExecContext(ctx, `
			UPDATE sieve_scripts
			SET is_active = TRUE, updated_at = CURRENT_TIMESTAMP
			WHERE account_id = ? AND name = ?
		`, accountID, name)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// RenameScript renames a Sieve script.
func (s *Store) RenameScript(ctx context.Context, accountID int64, oldName, newName string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sieve_scripts
		SET name = ?, updated_at = CURRENT_TIMESTAMP
		WHERE account_id = ? AND name = ?
	`, newName, accountID, oldName)
	return err
}

// ScriptExists reports whether a script with the given name exists.
func (s *Store) ScriptExists(ctx context.Context, accountID int64, name string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sieve_scripts
		WHERE account_id = ? AND name = ?
	`, accountID, name).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// CountScripts returns the number of scripts for an account.
func (s *Store) CountScripts(ctx context.Context, accountID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sieve_scripts
		WHERE account_id = ?
	`, accountID).Scan(&count)
	return count, err
}
