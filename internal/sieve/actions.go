package sieve

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// VacationStore rate-limits vacation auto-replies per account per
// sender, adapted from the teacher's per-user vacation_responses
// table (actions.go) to the per-account scoping this engine uses.
type VacationStore struct {
	db *sql.DB
}

// NewVacationStore creates a new vacation store.
func NewVacationStore(db *sql.DB) *VacationStore {
	return &VacationStore{db: db}
}

// ShouldRespond reports whether accountID may send another vacation
// response to senderAddr, given the minimum interval in days.
func (s *VacationStore) ShouldRespond(ctx context.Context, accountID int64, senderAddr string, days int) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("vacation store or database is nil")
	}

	senderAddr = strings.ToLower(extractAddressPart(senderAddr, AddrAll))

	var respondedAt time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT responded_at FROM vacation_responses
		WHERE account_id = ? AND sender_address = ?
	`, accountID, senderAddr).Scan(&respondedAt)

	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, err
	}

	minInterval := time.Duration(days) * 24 * time.Hour
	return time.Since(respondedAt) > minInterval, nil
}

// RecordResponse records that accountID just sent a vacation response
// to senderAddr.
func (s *VacationStore) RecordResponse(ctx context.Context, accountID int64, senderAddr string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("vacation store or database is nil")
	}

	senderAddr = strings.ToLower(extractAddressPart(senderAddr, AddrAll))

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vacation_responses (account_id, sender_address, responded_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (account_id, sender_address) DO UPDATE SET responded_at = CURRENT_TIMESTAMP
	`, accountID, senderAddr)

	return err
}

// CleanupOldResponses removes vacation response records older than maxAge.
func (s *VacationStore) CleanupOldResponses(ctx context.Context, maxAge time.Duration) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("vacation store or database is nil")
	}

	cutoff := time.Now().Add(-maxAge)
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM vacation_responses WHERE responded_at < ?
	`, cutoff)
	return err
}
