package backup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"gastos/internal/core"
	"gastos/internal/ports"
)

// Conflict pairs a stored expense with an incoming one sharing its natural
// key. It only lives until the user resolves it.
type Conflict struct {
	Existing core.Expense
	Incoming core.Expense
}

// Detector splits incoming expenses into safe inserts and conflicts.
type Detector struct {
	store ports.ExpenseReader
}

func NewDetector(store ports.ExpenseReader) *Detector {
	return &Detector{store: store}
}

// Classify looks every incoming expense up by (name, amount, timestamp).
// Description and category are not compared. Incoming expenses are only
// checked against stored rows, never against each other.
func (d *Detector) Classify(ctx context.Context, incoming []core.Expense) ([]core.Expense, []Conflict, error) {
	var (
		insert    []core.Expense
		conflicts []Conflict
	)
	for _, e := range incoming {
		existing, err := d.store.FindByNaturalKey(ctx, e.Name, e.Amount, e.Timestamp)
		switch {
		case err == nil:
			conflicts = append(conflicts, Conflict{Existing: existing, Incoming: e})
		case errors.Is(err, ports.ErrNotFound):
			insert = append(insert, e)
		default:
			return nil, nil, fmt.Errorf("lookup %q: %w", e.Name, err)
		}
	}
	return insert, conflicts, nil
}

// Resolution counts what Resolve did.
type Resolution struct {
	Discarded  int
	Replaced   int
	Duplicated int
}

// Resolver writes the user's conflict decisions to the record store.
type Resolver struct {
	store ports.ExpenseWriter
}

func NewResolver(store ports.ExpenseWriter) *Resolver {
	return &Resolver{store: store}
}

// Resolve applies three disjoint batches. Discarded conflicts are dropped,
// replaced ones overwrite the stored row keeping its ID, duplicated ones are
// inserted as new rows. Keeping the batches disjoint is up to the caller.
func (r *Resolver) Resolve(ctx context.Context, discard, replace, duplicate []Conflict) (Resolution, error) {
	res := Resolution{Discarded: len(discard)}

	for _, c := range replace {
		updated := c.Incoming
		updated.ID = c.Existing.ID
		if err := r.store.UpdateExpense(ctx, updated); err != nil {
			return res, fmt.Errorf("replace expense %d: %w", c.Existing.ID, err)
		}
		res.Replaced++
	}

	if len(duplicate) > 0 {
		fresh := make([]core.Expense, len(duplicate))
		for i, c := range duplicate {
			fresh[i] = c.Incoming
			fresh[i].ID = 0
		}
		if err := r.store.InsertExpenses(ctx, fresh); err != nil {
			return res, fmt.Errorf("insert duplicates: %w", err)
		}
		res.Duplicated = len(fresh)
	}

	return res, nil
}

// Decision is the user's answer for one conflict.
type Decision int

const (
	Discard Decision = iota + 1
	Replace
	Duplicate
)

func (d Decision) String() string {
	switch d {
	case Discard:
		return "discard"
	case Replace:
		return "replace"
	case Duplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// ParseDecision accepts discard, replace or duplicate in any case.
func ParseDecision(s string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "discard":
		return Discard, nil
	case "replace":
		return Replace, nil
	case "duplicate":
		return Duplicate, nil
	default:
		return 0, fmt.Errorf("unknown decision %q", s)
	}
}

// State of a Session.
type State int

const (
	Presenting State = iota
	AwaitingDecision
	Applying
	Done
)

func (s State) String() string {
	switch s {
	case Presenting:
		return "presenting"
	case AwaitingDecision:
		return "awaiting_decision"
	case Applying:
		return "applying"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

var (
	ErrInvalidState     = errors.New("conflict session: operation not allowed in current state")
	ErrInvalidSelection = errors.New("conflict session: every conflict must be selected exactly once")
	ErrStaleDecision    = errors.New("conflict session: decision is not for the current conflict")
)

// Session walks the user through pending conflicts one at a time.
//
//	Presenting -Next-> AwaitingDecision -Decide-> Presenting | Applying -Apply-> Done
//
// DecideRemaining jumps straight to Applying. A session with no conflicts
// starts in Applying.
type Session struct {
	mu        sync.Mutex
	resolver  *Resolver
	conflicts []Conflict
	decisions []Decision
	pos       int
	state     State
	applying  bool
	result    Resolution
}

func NewSession(resolver *Resolver, conflicts []Conflict) *Session {
	s := &Session{
		resolver:  resolver,
		conflicts: conflicts,
		decisions: make([]Decision, len(conflicts)),
	}
	if len(conflicts) == 0 {
		s.state = Applying
	}
	return s
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Len is the total number of conflicts in the session.
func (s *Session) Len() int {
	return len(s.conflicts)
}

// Pending is the number of conflicts still without a decision.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conflicts) - s.pos
}

// Conflicts returns every conflict in presentation order.
func (s *Session) Conflicts() []Conflict {
	return append([]Conflict(nil), s.conflicts...)
}

// Next presents the current conflict. Calling it again before Decide
// returns the same conflict. ok is false once the queue is drained.
func (s *Session) Next() (index int, c Conflict, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case Presenting:
		s.state = AwaitingDecision
		return s.pos, s.conflicts[s.pos], true
	case AwaitingDecision:
		return s.pos, s.conflicts[s.pos], true
	default:
		return 0, Conflict{}, false
	}
}

// Decide records d for the conflict returned by Next.
func (s *Session) Decide(d Decision) error {
	if err := validDecision(d); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != AwaitingDecision {
		return ErrInvalidState
	}
	s.recordLocked(d, false)
	return nil
}

// DecideRemaining records d for the current and every later conflict.
func (s *Session) DecideRemaining(d Decision) error {
	if err := validDecision(d); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Presenting && s.state != AwaitingDecision {
		return ErrInvalidState
	}
	s.recordLocked(d, true)
	return nil
}

// DecideAt is Decide (or DecideRemaining when remaining is set) for a
// caller that names the conflict it answers. It fails with
// ErrStaleDecision unless index is still the current conflict.
func (s *Session) DecideAt(index int, d Decision, remaining bool) error {
	if err := validDecision(d); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Presenting && s.state != AwaitingDecision {
		return ErrInvalidState
	}
	if index != s.pos {
		return fmt.Errorf("%w: conflict %d answered, current is %d", ErrStaleDecision, index, s.pos)
	}
	s.recordLocked(d, remaining)
	return nil
}

func (s *Session) recordLocked(d Decision, remaining bool) {
	s.decisions[s.pos] = d
	s.pos++
	if remaining {
		for ; s.pos < len(s.conflicts); s.pos++ {
			s.decisions[s.pos] = d
		}
	}
	s.advanceLocked()
}

// Select sets every decision at once from index lists, replacing any made
// so far. Each index must appear in exactly one list.
func (s *Session) Select(discard, replace, duplicate []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Done || s.applying {
		return ErrInvalidState
	}

	decisions := make([]Decision, len(s.conflicts))
	mark := func(idx []int, d Decision) error {
		for _, i := range idx {
			if i < 0 || i >= len(decisions) || decisions[i] != 0 {
				return fmt.Errorf("%w: index %d", ErrInvalidSelection, i)
			}
			decisions[i] = d
		}
		return nil
	}
	if err := mark(discard, Discard); err != nil {
		return err
	}
	if err := mark(replace, Replace); err != nil {
		return err
	}
	if err := mark(duplicate, Duplicate); err != nil {
		return err
	}
	for i, d := range decisions {
		if d == 0 {
			return fmt.Errorf("%w: index %d missing", ErrInvalidSelection, i)
		}
	}

	s.decisions = decisions
	s.pos = len(s.conflicts)
	s.advanceLocked()
	return nil
}

// Batches returns the decided conflicts grouped by decision.
func (s *Session) Batches() (discard, replace, duplicate []Conflict) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batchesLocked()
}

func (s *Session) batchesLocked() (discard, replace, duplicate []Conflict) {
	for i := 0; i < s.pos; i++ {
		switch s.decisions[i] {
		case Discard:
			discard = append(discard, s.conflicts[i])
		case Replace:
			replace = append(replace, s.conflicts[i])
		case Duplicate:
			duplicate = append(duplicate, s.conflicts[i])
		}
	}
	return discard, replace, duplicate
}

// Apply hands the three batches to the resolver. It is only valid once
// every conflict has a decision. The session stays in Applying while the
// resolver writes and ends in Done even when it fails, since part of the
// batch may already be written.
func (s *Session) Apply(ctx context.Context) (Resolution, error) {
	s.mu.Lock()
	if s.state != Applying || s.applying {
		s.mu.Unlock()
		return Resolution{}, ErrInvalidState
	}
	discard, replace, duplicate := s.batchesLocked()
	s.applying = true
	s.mu.Unlock()

	res, err := s.resolver.Resolve(ctx, discard, replace, duplicate)

	s.mu.Lock()
	s.result = res
	s.applying = false
	s.state = Done
	s.mu.Unlock()
	return res, err
}

// Result is what Apply reported.
func (s *Session) Result() Resolution {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

func (s *Session) advanceLocked() {
	if s.pos >= len(s.conflicts) {
		s.state = Applying
	} else {
		s.state = Presenting
	}
}

func validDecision(d Decision) error {
	if d < Discard || d > Duplicate {
		return fmt.Errorf("invalid decision %d", d)
	}
	return nil
}
