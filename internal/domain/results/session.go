package results

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/lrlichardi/laboratory/internal/domain/results")

// CommitTimeout bounds the bulk update and the refetch that follows it. Both
// run detached from the caller's cancellation.
const CommitTimeout = 30 * time.Second

// SessionState is the edit state of one order.
type SessionState int

const (
	StateClean SessionState = iota
	StateDirty
	StateSaving
)

func (s SessionState) String() string {
	switch s {
	case StateClean:
		return "clean"
	case StateDirty:
		return "dirty"
	case StateSaving:
		return "saving"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s SessionState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *SessionState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "clean":
		*s = StateClean
	case "dirty":
		*s = StateDirty
	case "saving":
		*s = StateSaving
	default:
		return fmt.Errorf("unknown session state %q", b)
	}
	return nil
}

// CommitResult describes a finished commit.
type CommitResult struct {
	Commands int  `json:"commands"`
	Defaults int  `json:"defaults"`
	Noop     bool `json:"noop,omitempty"`
	// Stale is set when the update was accepted but the order could not be
	// fetched again; the session keeps the previous order.
	Stale bool `json:"stale,omitempty"`
}

// SessionView is a consistent copy of a session's state.
type SessionView struct {
	OrderID     string                     `json:"order_id"`
	State       SessionState               `json:"state"`
	Order       *Order                     `json:"order"`
	Drafts      DraftMap                   `json:"drafts"`
	Percentages map[string]PercentageCheck `json:"percentages,omitempty"`
}

// Session holds the uncommitted edits of one order. Stage and Discard are
// synchronous; Commit, Refresh and DeleteLine call the repository without
// holding the state lock. While a commit is in flight every other
// operation fails with ErrSaveInProgress.
type Session struct {
	repo  OrderRepository
	rules Rules
	log   zerolog.Logger

	mu     sync.Mutex
	order  *Order
	drafts DraftMap
	state  SessionState

	// fetchMu keeps order fetches from overlapping.
	fetchMu sync.Mutex
}

// NewSession starts a clean session over an already fetched order.
func NewSession(order *Order, repo OrderRepository, rules Rules, logger zerolog.Logger) *Session {
	return &Session{
		repo:   repo,
		rules:  rules,
		log:    logger.With().Str("order_id", order.ID).Logger(),
		order:  order.Clone(),
		drafts: DraftMap{},
	}
}

func (s *Session) OrderID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.ID
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns a copy of the session that later edits do not affect.
func (s *Session) Snapshot() SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *Session) viewLocked() SessionView {
	v := SessionView{
		OrderID: s.order.ID,
		State:   s.state,
		Order:   s.order.Clone(),
		Drafts:  s.drafts.Clone(),
	}
	for _, line := range s.order.Lines {
		c := CheckPercentages(line, s.drafts, s.rules.Hemogram)
		if c.Count == 0 {
			continue
		}
		if v.Percentages == nil {
			v.Percentages = map[string]PercentageCheck{}
		}
		v.Percentages[line.ID] = c
	}
	return v
}

// Stage records value as the pending edit of an analyte, replacing any
// earlier draft for it, and recomputes the derived values of its line.
func (s *Session) Stage(analyteID, value string) (SessionView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateSaving {
		return SessionView{}, ErrSaveInProgress
	}
	line, a, ok := s.order.FindAnalyte(analyteID)
	if !ok {
		return SessionView{}, fmt.Errorf("%w: %s", ErrUnknownAnalyte, analyteID)
	}

	next := s.drafts.Clone()
	next[a.ID] = Draft{
		OrderLineID: line.ID,
		AnalyteID:   a.ID,
		Kind:        ParseKind(string(a.ItemDef.Kind)),
		Value:       value,
	}
	s.drafts = RecomputeDerived(*line, next, s.rules.Hemogram)
	s.state = stateFor(s.drafts)
	return s.viewLocked(), nil
}

// Discard drops every draft without persisting anything.
func (s *Session) Discard() (SessionView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateSaving {
		return SessionView{}, ErrSaveInProgress
	}
	s.drafts = DraftMap{}
	s.state = StateClean
	return s.viewLocked(), nil
}

// Commit submits the drafts and the injected defaults as one bulk update.
// An empty plan is a no-op. On failure the drafts are kept untouched and the
// session returns to its previous state; on success they are cleared and the
// order is fetched again. Once issued, the update and the refetch are not
// cancelled with ctx; only CommitTimeout ends them.
func (s *Session) Commit(ctx context.Context) (CommitResult, error) {
	s.mu.Lock()
	if s.state == StateSaving {
		s.mu.Unlock()
		return CommitResult{}, ErrSaveInProgress
	}
	plan, err := BuildCommands(s.order, s.drafts, s.rules)
	if err != nil {
		s.mu.Unlock()
		return CommitResult{}, err
	}
	if plan.Empty() {
		s.mu.Unlock()
		return CommitResult{Noop: true}, nil
	}
	orderID := s.order.ID
	prev := s.state
	s.state = StateSaving
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), CommitTimeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "results.Session.Commit")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.id", orderID),
		attribute.Int("commit.commands", len(plan.Commands)),
		attribute.Int("commit.defaults", plan.Defaults),
	)

	if err := s.repo.BulkUpdate(ctx, orderID, plan.Commands); err != nil {
		s.mu.Lock()
		s.state = prev
		s.mu.Unlock()
		span.RecordError(err)
		span.SetStatus(codes.Error, "bulk update failed")
		s.log.Error().Err(err).Int("commands", len(plan.Commands)).Msg("commit rejected, drafts kept")
		return CommitResult{}, fmt.Errorf("bulk update order %s: %w", orderID, err)
	}

	s.mu.Lock()
	s.drafts = DraftMap{}
	s.state = StateClean
	s.mu.Unlock()

	res := CommitResult{Commands: len(plan.Commands), Defaults: plan.Defaults}
	if err := s.refetch(ctx); err != nil {
		res.Stale = true
		s.log.Warn().Err(err).Msg("refetch after commit failed")
	}
	s.log.Info().Int("commands", res.Commands).Int("defaults", res.Defaults).Msg("commit applied")
	return res, nil
}

// Refresh replaces the order with the backend's current version. Drafts
// whose analyte no longer exists are dropped.
func (s *Session) Refresh(ctx context.Context) (SessionView, error) {
	if s.State() == StateSaving {
		return SessionView{}, ErrSaveInProgress
	}
	if err := s.refetch(ctx); err != nil {
		return SessionView{}, err
	}
	return s.Snapshot(), nil
}

// DeleteLine removes an order line. The line and its drafts disappear from
// the session at once; the delete call is then issued on its own and the
// order is fetched again whether or not it succeeded, which restores the
// line if the backend refused to delete it.
func (s *Session) DeleteLine(ctx context.Context, lineID string) (SessionView, error) {
	s.mu.Lock()
	if s.state == StateSaving {
		s.mu.Unlock()
		return SessionView{}, ErrSaveInProgress
	}
	line, ok := s.order.Line(lineID)
	if !ok {
		s.mu.Unlock()
		return SessionView{}, fmt.Errorf("order line %s: %w", lineID, ErrNotFound)
	}
	ids := make([]string, 0, len(line.Analytes))
	for _, a := range line.Analytes {
		ids = append(ids, a.ID)
	}
	s.drafts = s.drafts.Without(ids...)
	s.order = s.order.WithoutLine(lineID)
	s.state = stateFor(s.drafts)
	s.mu.Unlock()

	delErr := s.repo.DeleteLine(ctx, lineID)
	if delErr != nil {
		s.log.Warn().Err(delErr).Str("line_id", lineID).Msg("line delete failed, restoring from backend")
		delErr = fmt.Errorf("delete order line %s: %w", lineID, delErr)
	}
	if err := s.refetch(ctx); err != nil {
		return s.Snapshot(), errors.Join(delErr, err)
	}
	return s.Snapshot(), delErr
}

func (s *Session) refetch(ctx context.Context) error {
	s.fetchMu.Lock()
	defer s.fetchMu.Unlock()

	s.mu.Lock()
	orderID := s.order.ID
	s.mu.Unlock()

	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("fetch order %s: %w", orderID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = o.Clone()
	if s.state == StateSaving {
		return nil
	}
	for id := range s.drafts {
		if _, _, ok := s.order.FindAnalyte(id); !ok {
			delete(s.drafts, id)
		}
	}
	s.state = stateFor(s.drafts)
	return nil
}

func stateFor(d DraftMap) SessionState {
	if len(d) == 0 {
		return StateClean
	}
	return StateDirty
}
