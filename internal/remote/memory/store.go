package memory

import (
	"context"
	"database/sql"
	"sort"
	"sync"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/mesbridge/internal/config"
	"github.com/Additional-Code/mesbridge/internal/entity"
	"github.com/Additional-Code/mesbridge/internal/remote"
)

// DriverName is the REMOTE_DRIVER value served by this package.
const DriverName = "memory"

// Module registers the in-process driver with the remote multiplexer.
var Module = fx.Provide(
	NewStore,
	fx.Annotate(
		func(s *Store) *Store { return s },
		fx.As(new(remote.Driver)),
		fx.ResultTags(`group:"remote_drivers"`),
	),
)

// Store holds the remote order tables in process. A session that allocates an
// order id holds the table lock until it commits or rolls back.
type Store struct {
	lock chan struct{}

	mu       sync.RWMutex
	headers  map[int64]entity.RemoteHeader
	lines    map[int64][]entity.RemoteLine
	statuses map[int64]entity.RemoteStatus

	logger *zap.Logger
}

// NewStore builds an empty store.
func NewStore(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		lock:     make(chan struct{}, 1),
		headers:  make(map[int64]entity.RemoteHeader),
		lines:    make(map[int64][]entity.RemoteLine),
		statuses: make(map[int64]entity.RemoteStatus),
		logger:   logger,
	}
}

// Name implements remote.Driver.
func (s *Store) Name() string { return DriverName }

// WithSession implements remote.Provider.
func (s *Store) WithSession(ctx context.Context, settings config.Remote, fn remote.SessionFunc) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	sess := &session{store: s}
	defer func() {
		if r := recover(); r != nil {
			sess.rollback()
			panic(r)
		}
		sess.rollback()
	}()

	return fn(ctx, sess)
}

// SeedHeader stores a committed header directly, as if written by another client.
func (s *Store) SeedHeader(h entity.RemoteHeader) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.headers[h.OrderID] = h
}

// SetOperationStatus records the status the remote system reports for an operation.
func (s *Store) SetOperationStatus(operationID, code int64, notes string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[operationID] = entity.RemoteStatus{Found: true, Code: code, Notes: notes}
}

// Header returns the committed header for orderID.
func (s *Store) Header(orderID int64) (entity.RemoteHeader, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.headers[orderID]
	return h, ok
}

// Lines returns the committed lines for orderID in line order.
func (s *Store) Lines(orderID int64) []entity.RemoteLine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]entity.RemoteLine(nil), s.lines[orderID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].LineNo < out[j].LineNo })
	return out
}

// OrderIDs lists committed header ids in ascending order.
func (s *Store) OrderIDs() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int64, 0, len(s.headers))
	for id := range s.headers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

type session struct {
	store   *Store
	locked  bool
	done    bool
	headers []entity.RemoteHeader
	lines   []entity.RemoteLine
}

func (s *session) AllocateOrderID(ctx context.Context, floor int64) (int64, error) {
	if s.done {
		return 0, sql.ErrTxDone
	}
	if !s.locked {
		select {
		case s.store.lock <- struct{}{}:
			s.locked = true
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	s.store.mu.RLock()
	next := floor
	for id := range s.store.headers {
		if id > next {
			next = id
		}
	}
	s.store.mu.RUnlock()

	return next + 1, nil
}

func (s *session) InsertHeader(ctx context.Context, header *entity.RemoteHeader) error {
	if s.done {
		return sql.ErrTxDone
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.headers = append(s.headers, *header)
	return nil
}

func (s *session) InsertLine(ctx context.Context, line *entity.RemoteLine) error {
	if s.done {
		return sql.ErrTxDone
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.lines = append(s.lines, *line)
	return nil
}

func (s *session) CountRows(_ context.Context, orderID int64) (int, int, error) {
	if s.done {
		return 0, 0, sql.ErrTxDone
	}
	s.store.mu.RLock()
	headers, lines := 0, len(s.store.lines[orderID])
	if _, ok := s.store.headers[orderID]; ok {
		headers++
	}
	s.store.mu.RUnlock()

	for _, h := range s.headers {
		if h.OrderID == orderID {
			headers++
		}
	}
	for _, l := range s.lines {
		if l.OrderID == orderID {
			lines++
		}
	}
	return headers, lines, nil
}

func (s *session) OperationStatus(_ context.Context, operationID int64) (entity.RemoteStatus, error) {
	if s.done {
		return entity.RemoteStatus{}, sql.ErrTxDone
	}
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	return s.store.statuses[operationID], nil
}

func (s *session) Commit(ctx context.Context) error {
	if s.done {
		return sql.ErrTxDone
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.store.mu.Lock()
	for _, h := range s.headers {
		s.store.headers[h.OrderID] = h
	}
	for _, l := range s.lines {
		s.store.lines[l.OrderID] = append(s.store.lines[l.OrderID], l)
	}
	s.store.mu.Unlock()

	s.store.logger.Debug("memory remote committed",
		zap.Int("headers", len(s.headers)),
		zap.Int("lines", len(s.lines)))
	s.finish()
	return nil
}

func (s *session) rollback() {
	if s.done {
		return
	}
	s.finish()
}

func (s *session) finish() {
	s.done = true
	s.headers = nil
	s.lines = nil
	if s.locked {
		<-s.store.lock
		s.locked = false
	}
}
