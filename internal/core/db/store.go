package db

import (
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/quillpolicy/quill/internal/types"
)

// Decision is one recorded authorization outcome. The policy itself is
// never persisted; the audit trail records what was asked and what was
// answered.
type Decision struct {
	DecisionID   types.DecisionID `db:"decision_id"`
	CreatedAt    time.Time        `db:"created_at"`
	Predicate    string           `db:"predicate"`
	Args         string           `db:"args"`
	Allowed      bool             `db:"allowed"`
	MatchedRules int              `db:"matched_rules"`
	DurationUs   int64            `db:"duration_us"`
}

// DecisionStore records and lists authorization decisions.
type DecisionStore struct {
	q *Queries
}

// NewDecisionStore opens the audit store on an existing connection,
// running pending migrations first.
func NewDecisionStore(conn *sqlx.DB) (*DecisionStore, error) {
	if err := MigrateUp(conn); err != nil {
		return nil, fmt.Errorf("failed to migrate audit store: %w", err)
	}
	q, err := LoadQueries(conn)
	if err != nil {
		return nil, err
	}
	return &DecisionStore{q: q}, nil
}

// Record persists one decision. The id and timestamp are assigned here.
func (s *DecisionStore) Record(predicate string, args []*types.Term, allowed bool, matched int, duration time.Duration) (types.DecisionID, error) {
	id := types.NewDecisionID()
	rendered := make([]string, len(args))
	for i, a := range args {
		rendered[i] = types.Format(a)
	}
	_, err := s.q.Exec("insert-decision",
		string(id),
		time.Now().UTC(),
		predicate,
		"("+strings.Join(rendered, ", ")+")",
		allowed,
		matched,
		duration.Microseconds(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to record decision: %w", err)
	}
	return id, nil
}

// List returns the most recent decisions, newest first.
func (s *DecisionStore) List(limit int) ([]Decision, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []Decision
	if err := s.q.Select("list-decisions", &out, limit); err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}
	return out, nil
}

// Counts returns total and denied decision counts.
func (s *DecisionStore) Counts() (total, denied int64, err error) {
	if err = s.q.Get("count-decisions", &total); err != nil {
		return 0, 0, err
	}
	if err = s.q.Get("count-denied", &denied); err != nil {
		return 0, 0, err
	}
	return total, denied, nil
}
