// Package sieve implements the RFC 5228 filtering-language subset
// described in spec.md §4.6: a combinator-built parser compiling
// script text into a RuleBlock, and an evaluator producing a
// Disposition for one Message.
package sieve

import (
	"context"
	"database/sql"
	"time"
)

// Script is a stored Sieve script for one account.
type Script struct {
	ID        int64
	AccountID int64
	Name      string
	Content   string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
	Parsed    RuleBlock // compiled representation, nil until parsed
}

// Executor evaluates an account's active Sieve script against
// incoming messages, grounded on the teacher's sieve.Executor
// (database-backed script lookup feeding a pure evaluation function).
type Executor struct {
	store         *Store
	vacationStore *VacationStore
}

// NewExecutor creates a new Sieve executor.
func NewExecutor(db *sql.DB) *Executor {
	return &Executor{
		store:         NewStore(db),
		vacationStore: NewVacationStore(db),
	}
}

// Execute runs the active Sieve script for an account against msg. A
// missing script, or one that fails to parse, yields a plain Keep
// disposition rather than an error (spec.md §7's downgrade policy).
func (e *Executor) Execute(ctx context.Context, accountID int64, msg *Message) (*Disposition, error) {
	script, err := e.store.GetActiveScript(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if script == nil {
		return &Disposition{Keep: true}, nil
	}

	if script.Parsed == nil {
		parsed, err := Parse(script.Content)
		if err != nil {
			return &Disposition{Keep: true}, nil
		}
		script.Parsed = parsed
	}

	return Evaluate(ctx, script.Parsed, msg, e.vacationStore, accountID), nil
}
