package results

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"

	"github.com/lrlichardi/laboratory/internal/domain/refrange"
)

const (
	DefaultSessionTTL  = 30 * time.Minute
	DefaultMaxSessions = 1000
)

type ServiceOptions struct {
	SessionTTL  time.Duration
	MaxSessions int
	Logger      zerolog.Logger
}

// Service owns the edit sessions of open orders. Sessions are kept in memory
// and expire after SessionTTL without use; every access restarts the timer.
// An expired session loses its uncommitted drafts. A session with a commit in
// flight is pinned and never replaced.
type Service struct {
	repo     OrderRepository
	rules    Rules
	resolver *refrange.Resolver
	sessions *expirable.LRU[string, *Session]
	log      zerolog.Logger
	now      func() time.Time

	mu     sync.Mutex
	pinned map[string]*pin
}

type pin struct {
	sess *Session
	refs int
}

func NewService(repo OrderRepository, rules Rules, resolver *refrange.Resolver, opts ServiceOptions) *Service {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = DefaultSessionTTL
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = DefaultMaxSessions
	}
	if resolver == nil {
		resolver = refrange.NewResolver(0)
	}
	log := opts.Logger.With().Str("component", "results").Logger()
	onEvict := func(orderID string, s *Session) {
		if s.State() != StateClean {
			log.Warn().Str("order_id", orderID).Msg("session evicted with pending drafts")
		}
	}
	return &Service{
		repo:     repo,
		rules:    rules,
		resolver: resolver,
		sessions: expirable.NewLRU[string, *Session](opts.MaxSessions, onEvict, opts.SessionTTL),
		log:      log,
		now:      time.Now,
		pinned:   map[string]*pin{},
	}
}

func (s *Service) Rules() Rules { return s.rules }

// OpenSessions counts the sessions currently held in memory.
func (s *Service) OpenSessions() int { return s.sessions.Len() }

// session returns the open session of an order, fetching the order when no
// session exists yet.
func (s *Service) session(ctx context.Context, orderID string) (*Session, error) {
	if sess, ok := s.lookup(orderID); ok {
		return sess, nil
	}
	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("fetch order %s: %w", orderID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Another request may have opened the session while we fetched.
	if sess, ok := s.lookupLocked(orderID); ok {
		return sess, nil
	}
	sess := NewSession(o, s.repo, s.rules, s.log)
	s.sessions.Add(orderID, sess)
	return sess, nil
}

func (s *Service) lookup(orderID string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookupLocked(orderID)
}

// lookupLocked returns the open session of an order and restarts its idle
// timer. The LRU only sets an expiry on Add, so the session is added again.
func (s *Service) lookupLocked(orderID string) (*Session, bool) {
	if p, ok := s.pinned[orderID]; ok {
		return p.sess, true
	}
	sess, ok := s.sessions.Get(orderID)
	if !ok {
		return nil, false
	}
	s.sessions.Add(orderID, sess)
	return sess, true
}

// hold keeps sess reachable while a commit runs, even if its idle timer
// fires. The returned func releases it and puts it back in the store.
func (s *Service) hold(orderID string, sess *Session) func() {
	s.mu.Lock()
	p, ok := s.pinned[orderID]
	if !ok {
		p = &pin{sess: sess}
		s.pinned[orderID] = p
	}
	p.refs++
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		p.refs--
		if p.refs > 0 {
			return
		}
		delete(s.pinned, orderID)
		s.sessions.Add(orderID, p.sess)
	}
}

// OpenOrder returns the order with its pending drafts.
func (s *Service) OpenOrder(ctx context.Context, orderID string) (SessionView, error) {
	sess, err := s.session(ctx, orderID)
	if err != nil {
		return SessionView{}, err
	}
	return sess.Snapshot(), nil
}

func (s *Service) Refresh(ctx context.Context, orderID string) (SessionView, error) {
	sess, err := s.session(ctx, orderID)
	if err != nil {
		return SessionView{}, err
	}
	return sess.Refresh(ctx)
}

func (s *Service) Stage(ctx context.Context, orderID, analyteID, value string) (SessionView, error) {
	sess, err := s.session(ctx, orderID)
	if err != nil {
		return SessionView{}, err
	}
	return sess.Stage(analyteID, value)
}

func (s *Service) Discard(ctx context.Context, orderID string) (SessionView, error) {
	sess, err := s.session(ctx, orderID)
	if err != nil {
		return SessionView{}, err
	}
	return sess.Discard()
}

func (s *Service) Commit(ctx context.Context, orderID string) (CommitResult, SessionView, error) {
	sess, err := s.session(ctx, orderID)
	if err != nil {
		return CommitResult{}, SessionView{}, err
	}
	release := s.hold(orderID, sess)
	defer release()
	res, err := sess.Commit(ctx)
	return res, sess.Snapshot(), err
}

func (s *Service) DeleteLine(ctx context.Context, orderID, lineID string) (SessionView, error) {
	sess, err := s.session(ctx, orderID)
	if err != nil {
		return SessionView{}, err
	}
	return sess.DeleteLine(ctx, lineID)
}

// CloseSession forgets an order's session and its drafts. It reports false
// when no session was open. A session with a commit in flight is kept.
func (s *Service) CloseSession(orderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pinned[orderID]; ok {
		return false, ErrSaveInProgress
	}
	sess, ok := s.sessions.Peek(orderID)
	if !ok {
		return false, nil
	}
	if sess.State() == StateSaving {
		return false, ErrSaveInProgress
	}
	return s.sessions.Remove(orderID), nil
}

// UpdateStatus moves an order to a new status after checking the
// transition against the backend's current status.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, to OrderStatus) (SessionView, error) {
	sess, err := s.session(ctx, orderID)
	if err != nil {
		return SessionView{}, err
	}
	if sess.State() == StateSaving {
		return SessionView{}, ErrSaveInProgress
	}
	from := sess.Snapshot().Order.Status
	if err := ValidateTransition(from, to); err != nil {
		return SessionView{}, err
	}
	if err := s.repo.UpdateStatus(ctx, orderID, to); err != nil {
		return SessionView{}, fmt.Errorf("update status of order %s: %w", orderID, err)
	}
	s.log.Info().Str("order_id", orderID).Str("from", string(from)).Str("to", string(to)).Msg("order status changed")
	view, err := sess.Refresh(ctx)
	if errors.Is(err, ErrSaveInProgress) {
		return sess.Snapshot(), nil
	}
	return view, err
}

// Report builds the printable report from the persisted order. Drafts are
// never shown on a report.
func (s *Service) Report(ctx context.Context, orderID string) (*Report, error) {
	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("fetch order %s: %w", orderID, err)
	}
	r := BuildReport(o, s.rules, s.resolver, s.now())
	return &r, nil
}

// ResolveRequest asks for the reference text of an analyte outside any
// order.
type ResolveRequest struct {
	Text     string `json:"text"`
	Sex      string `json:"sex"`
	AgeYears int    `json:"age_years"`
	// Apply forces filtering; otherwise it is decided by the allow-list.
	Apply    *bool  `json:"apply,omitempty"`
	ItemKey  string `json:"item_key,omitempty"`
	Label    string `json:"label,omitempty"`
	ExamName string `json:"exam_name,omitempty"`
}

func (s *Service) ResolveReference(req ResolveRequest) refrange.Resolution {
	applies := s.rules.SexAge.Applies(req.ItemKey, req.Label, req.ExamName)
	if req.Apply != nil {
		applies = *req.Apply
	}
	return s.resolver.Explain(req.Text, req.Sex, req.AgeYears, applies)
}
