package remote

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/mesbridge/internal/config"
	"github.com/Additional-Code/mesbridge/internal/entity"
	"github.com/Additional-Code/mesbridge/pkg/errorbank"
)

// Session is a transactional unit of work against the remote order tables.
// It is only valid inside the callback passed to Provider.WithSession.
type Session interface {
	// AllocateOrderID locks the order table and returns max(existing, floor)+1.
	// The lock is held until the session ends.
	AllocateOrderID(ctx context.Context, floor int64) (int64, error)
	InsertHeader(ctx context.Context, header *entity.RemoteHeader) error
	InsertLine(ctx context.Context, line *entity.RemoteLine) error
	// CountRows re-reads how many header and line rows exist for orderID.
	CountRows(ctx context.Context, orderID int64) (headers int, lines int, err error)
	OperationStatus(ctx context.Context, operationID int64) (entity.RemoteStatus, error)
	Commit(ctx context.Context) error
}

// SessionFunc is the unit of work run inside a session.
type SessionFunc func(ctx context.Context, s Session) error

// Provider opens scoped sessions. Implementations roll back whatever was not
// committed when fn returns, errors or panics, and release the connection
// exactly once.
type Provider interface {
	WithSession(ctx context.Context, settings config.Remote, fn SessionFunc) error
}

// Driver is a Provider registered under a REMOTE_DRIVER name.
type Driver interface {
	Provider
	Name() string
}

// Module wires the driver multiplexer. Drivers register into the
// "remote_drivers" group.
var Module = fx.Provide(
	NewMux,
	func(m *Mux) Provider { return m },
)

// MuxParams collects the registered drivers.
type MuxParams struct {
	fx.In

	Drivers []Driver `group:"remote_drivers"`
	Logger  *zap.Logger
}

// Mux routes each session to the driver named by the settings it is given.
type Mux struct {
	drivers map[string]Driver
	logger  *zap.Logger
}

// NewMux indexes drivers by name.
func NewMux(p MuxParams) *Mux {
	m := &Mux{drivers: make(map[string]Driver, len(p.Drivers)), logger: p.Logger}
	names := make([]string, 0, len(p.Drivers))
	for _, d := range p.Drivers {
		m.drivers[d.Name()] = d
		names = append(names, d.Name())
	}
	if m.logger != nil {
		m.logger.Debug("remote drivers registered", zap.Strings("drivers", names))
	}
	return m
}

// WithSession validates settings before any I/O and delegates to the driver.
func (m *Mux) WithSession(ctx context.Context, settings config.Remote, fn SessionFunc) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	d, ok := m.drivers[settings.Driver]
	if !ok {
		return errorbank.Configuration(fmt.Sprintf("remote driver %q is not registered", settings.Driver))
	}
	return d.WithSession(ctx, settings, fn)
}
