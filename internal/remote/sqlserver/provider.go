package sqlserver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mssqldialect"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/mesbridge/internal/config"
	"github.com/Additional-Code/mesbridge/internal/remote"
	"github.com/Additional-Code/mesbridge/pkg/errorbank"
)

var tracer = otel.Tracer("github.com/Additional-Code/mesbridge/remote/sqlserver")

// DriverName is the REMOTE_DRIVER value served by this package.
const DriverName = "sqlserver"

// Module registers the SQL Server driver with the remote multiplexer.
var Module = fx.Provide(
	fx.Annotate(
		New,
		fx.As(new(remote.Driver)),
		fx.ResultTags(`group:"remote_drivers"`),
	),
)

// Opener returns a dedicated *sql.DB for one session.
type Opener func(ctx context.Context, settings config.Remote) (*sql.DB, error)

// Provider opens one SERIALIZABLE transaction per session on its own connection.
type Provider struct {
	open   Opener
	logger *zap.Logger
}

// New builds a provider that dials SQL Server with go-mssqldb.
func New(logger *zap.Logger) *Provider {
	return NewWithOpener(Open, logger)
}

// NewWithOpener builds a provider around a custom connection opener.
func NewWithOpener(open Opener, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{open: open, logger: logger}
}

// Name implements remote.Driver.
func (p *Provider) Name() string { return DriverName }

// WithSession runs fn inside a transaction. Anything fn did not commit is
// rolled back, and the connection is closed on every path.
func (p *Provider) WithSession(ctx context.Context, settings config.Remote, fn remote.SessionFunc) (err error) {
	if err := settings.Validate(); err != nil {
		return err
	}

	ctx, span := tracer.Start(ctx, "RemoteSession",
		trace.WithAttributes(
			attribute.String("db.system", "mssql"),
			attribute.String("db.name", settings.Database),
			attribute.String("net.peer.name", settings.Host),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "remote session failed")
		}
		span.End()
	}()

	sqldb, err := p.open(ctx, settings)
	if err != nil {
		return errorbank.Connectivity("open remote connection", errorbank.WithCause(err))
	}
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, mssqldialect.New())
	defer func() {
		if cerr := db.Close(); cerr != nil {
			p.logger.Warn("close remote connection", zap.Error(cerr))
		}
	}()

	if err := db.PingContext(ctx); err != nil {
		return connectivityOrTimeout(ctx, "reach remote database", err)
	}

	tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return connectivityOrTimeout(ctx, "begin remote transaction", err)
	}

	s := &session{tx: tx}
	defer func() {
		if r := recover(); r != nil {
			p.rollback(s)
			panic(r)
		}
		if !s.committed {
			p.rollback(s)
		}
	}()

	return fn(ctx, s)
}

func (p *Provider) rollback(s *session) {
	if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		p.logger.Warn("rollback remote transaction", zap.Error(err))
	}
}

func connectivityOrTimeout(ctx context.Context, msg string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errorbank.Timeout(msg, errorbank.WithCause(err))
	}
	return errorbank.Connectivity(msg, errorbank.WithCause(err))
}

// Open dials SQL Server for one session, pinned to the configured database.
func Open(_ context.Context, settings config.Remote) (*sql.DB, error) {
	connector, err := mssql.NewConnector(DSN(settings))
	if err != nil {
		return nil, fmt.Errorf("build sqlserver connector: %w", err)
	}
	return sql.OpenDB(connector), nil
}

// DSN renders the go-mssqldb URL for settings.
func DSN(settings config.Remote) string {
	query := url.Values{}
	query.Set("database", settings.Database)
	if settings.ConnectTimeout > 0 {
		query.Set("connection timeout", strconv.Itoa(int(settings.ConnectTimeout.Seconds())))
	}
	u := &url.URL{
		Scheme:   "sqlserver",
		Host:     net.JoinHostPort(settings.Host, strconv.Itoa(settings.Port)),
		RawQuery: query.Encode(),
	}
	if settings.User != "" {
		u.User = url.UserPassword(settings.User, settings.Password)
	}
	return u.String()
}
