package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/docportal/core"
	"github.com/poiesic/docportal/metrics"
	"github.com/poiesic/docportal/storage"
)

const (
	DefaultMinContextChunks = 1
	DefaultHistoryWindow    = 10
)

// DefaultScaffold is the instruction block placed at the top of every prompt.
const DefaultScaffold = `You answer questions about a collection of documents.
Use only the numbered context passages below. Cite the passages you rely on by number, like [2].
If the passages do not contain the answer, say that you do not know.`

// Manager owns conversation sessions. It is safe for concurrent use.
type Manager struct {
	sessions      storage.SessionRepository
	counter       Counter
	scaffold      string
	minContext    int
	historyWindow int
	locks         sync.Map // session id -> *sync.Mutex
	now           func() time.Time
	logger        *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager) error

// WithCounter sets the budget unit. Default is CharCounter.
func WithCounter(counter Counter) Option {
	return func(m *Manager) error {
		if counter == nil {
			return fmt.Errorf("%w: counter cannot be nil", core.ErrInvalidConfig)
		}
		m.counter = counter
		return nil
	}
}

// WithScaffold sets the instruction block. Default is DefaultScaffold.
func WithScaffold(scaffold string) Option {
	return func(m *Manager) error {
		m.scaffold = scaffold
		return nil
	}
}

// WithMinContextChunks sets how many retrieved chunks survive trimming.
// Default is 1.
func WithMinContextChunks(n int) Option {
	return func(m *Manager) error {
		if n < 0 {
			return fmt.Errorf("%w: min context chunks cannot be negative", core.ErrInvalidConfig)
		}
		m.minContext = n
		return nil
	}
}

// WithHistoryWindow caps how many recent turns are considered for a
// prompt before budget trimming. 0 means no cap. Default is 10.
func WithHistoryWindow(turns int) Option {
	return func(m *Manager) error {
		if turns < 0 {
			return fmt.Errorf("%w: history window cannot be negative", core.ErrInvalidConfig)
		}
		m.historyWindow = turns
		return nil
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) error {
		if now != nil {
			m.now = now
		}
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) error {
		if logger == nil {
			logger = slog.Default()
		}
		m.logger = logger
		return nil
	}
}

// NewManager creates a session manager.
func NewManager(sessions storage.SessionRepository, opts ...Option) (*Manager, error) {
	if sessions == nil {
		return nil, ErrSessionRepositoryRequired
	}
	m := &Manager{
		sessions:      sessions,
		counter:       CharCounter{},
		scaffold:      DefaultScaffold,
		minContext:    DefaultMinContextChunks,
		historyWindow: DefaultHistoryWindow,
		now:           func() time.Time { return time.Now().UTC() },
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	m.logger = m.logger.With("component", "session")
	return m, nil
}

// Counter returns the budget counter in use.
func (m *Manager) Counter() Counter {
	return m.counter
}

// Open starts a new active session, optionally scoped to documentIDs.
func (m *Manager) Open(ctx context.Context, documentIDs ...string) (*core.Session, error) {
	now := m.now()
	sess := &core.Session{
		ID:          uuid.NewString(),
		State:       core.SessionActive,
		DocumentIDs: slices.Clone(documentIDs),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.sessions.SaveSession(ctx, sess); err != nil {
		return nil, err
	}
	metrics.ActiveSessions.Inc()
	m.logger.Info("session opened", "session", sess.ID, "documents", len(documentIDs))
	return sess, nil
}

// Get returns a session by id.
func (m *Manager) Get(ctx context.Context, id string) (*core.Session, error) {
	sess, err := m.sessions.GetSession(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", core.ErrSessionNotFound, id)
	}
	return sess, err
}

// List returns every session ordered by creation time.
func (m *Manager) List(ctx context.Context) ([]*core.Session, error) {
	return m.sessions.ListSessions(ctx)
}

// AppendTurn adds a turn to an active session. An assistant turn takes
// the citations of the most recently built prompt.
func (m *Manager) AppendTurn(ctx context.Context, id string, role core.Role, text string) (*core.Turn, error) {
	turn := core.Turn{Role: role, Text: text}
	if err := core.ValidateTurn(&turn); err != nil {
		return nil, err
	}
	return m.appendTurn(ctx, id, turn, true)
}

// appendTurn stores turn. With pending set, an assistant turn takes the
// session's pending citations; otherwise turn.Citations is kept as given.
// Any assistant turn clears the pending citations.
func (m *Manager) appendTurn(ctx context.Context, id string, turn core.Turn, pending bool) (*core.Turn, error) {
	var stored core.Turn
	err := m.mutate(ctx, id, func(sess *core.Session) error {
		turn.CreatedAt = m.now()
		if turn.Role == core.RoleAssistant {
			if pending {
				turn.Citations = sess.PendingCitations
			}
			sess.PendingCitations = nil
		}
		sess.Turns = append(sess.Turns, turn)
		stored = turn
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.logger.Debug("turn appended", "session", id, "role", turn.Role, "citations", len(turn.Citations))
	return &stored, nil
}

// Close moves a session to the closed state. Closing a closed session is a no-op.
func (m *Manager) Close(ctx context.Context, id string) error {
	unlock := m.lock(id)
	defer unlock()

	sess, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if sess.IsClosed() {
		return nil
	}
	return m.close(ctx, sess)
}

// close must be called with the session lock held.
func (m *Manager) close(ctx context.Context, sess *core.Session) error {
	now := m.now()
	sess.State = core.SessionClosed
	sess.ClosedAt = now
	sess.UpdatedAt = now
	sess.PendingCitations = nil
	if err := m.sessions.SaveSession(ctx, sess); err != nil {
		return err
	}
	metrics.ActiveSessions.Dec()
	m.logger.Info("session closed", "session", sess.ID, "turns", len(sess.Turns))
	return nil
}

// CloseIdle closes active sessions untouched for longer than ttl and
// returns how many were closed.
func (m *Manager) CloseIdle(ctx context.Context, ttl time.Duration) (int, error) {
	if ttl <= 0 {
		return 0, fmt.Errorf("%w: ttl must be positive", core.ErrInvalidConfig)
	}
	all, err := m.sessions.ListSessions(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := m.now().Add(-ttl)
	closed := 0
	for _, candidate := range all {
		if candidate.IsClosed() || !candidate.UpdatedAt.Before(cutoff) {
			continue
		}
		ok, err := m.closeIfIdle(ctx, candidate.ID, cutoff)
		if err != nil {
			return closed, err
		}
		if ok {
			closed++
		}
	}
	return closed, nil
}

// closeIfIdle re-checks idleness under the lock; the session may have
// been touched since it was listed.
func (m *Manager) closeIfIdle(ctx context.Context, id string, cutoff time.Time) (bool, error) {
	unlock := m.lock(id)
	defer unlock()

	sess, err := m.sessions.GetSession(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if sess.IsClosed() || !sess.UpdatedAt.Before(cutoff) {
		return false, nil
	}
	return true, m.close(ctx, sess)
}

// mutate loads an active session, applies fn and saves the result, all
// under the session lock.
func (m *Manager) mutate(ctx context.Context, id string, fn func(*core.Session) error) error {
	unlock := m.lock(id)
	defer unlock()

	sess, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if sess.IsClosed() {
		return fmt.Errorf("%w: %s", core.ErrSessionClosed, id)
	}
	if err := fn(sess); err != nil {
		return err
	}
	sess.UpdatedAt = m.now()
	return m.sessions.SaveSession(ctx, sess)
}

func (m *Manager) lock(id string) func() {
	v, _ := m.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
