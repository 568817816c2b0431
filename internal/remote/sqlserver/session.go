package sqlserver

import (
	"context"
	"database/sql"
	"errors"

	"github.com/uptrace/bun"

	"github.com/Additional-Code/mesbridge/internal/entity"
)

const allocateQuery = "SELECT MAX(ID_ORDINI) FROM OPTIMA_Orders WITH (TABLOCKX, HOLDLOCK)"

const statusQuery = "SELECT TOP 1 SyncStatus, SyncNotes FROM OPTIMA_Orders WHERE ID_OPERATIONS = ?"

type session struct {
	tx        bun.Tx
	committed bool
}

func (s *session) AllocateOrderID(ctx context.Context, floor int64) (int64, error) {
	var current sql.NullInt64
	if err := s.tx.NewRaw(allocateQuery).Scan(ctx, &current); err != nil {
		return 0, err
	}
	next := floor
	if current.Valid && current.Int64 > next {
		next = current.Int64
	}
	return next + 1, nil
}

func (s *session) InsertHeader(ctx context.Context, header *entity.RemoteHeader) error {
	_, err := s.tx.NewInsert().Model(header).Returning("NULL").Exec(ctx)
	return err
}

func (s *session) InsertLine(ctx context.Context, line *entity.RemoteLine) error {
	_, err := s.tx.NewInsert().Model(line).Returning("NULL").Exec(ctx)
	return err
}

func (s *session) CountRows(ctx context.Context, orderID int64) (int, int, error) {
	headers, err := s.tx.NewSelect().
		Model((*entity.RemoteHeader)(nil)).
		Where("ID_ORDINI = ?", orderID).
		Count(ctx)
	if err != nil {
		return 0, 0, err
	}
	lines, err := s.tx.NewSelect().
		Model((*entity.RemoteLine)(nil)).
		Where("ID_ORDINI = ?", orderID).
		Count(ctx)
	if err != nil {
		return 0, 0, err
	}
	return headers, lines, nil
}

func (s *session) OperationStatus(ctx context.Context, operationID int64) (entity.RemoteStatus, error) {
	var (
		code  sql.NullInt64
		notes sql.NullString
	)
	err := s.tx.NewRaw(statusQuery, operationID).Scan(ctx, &code, &notes)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.RemoteStatus{}, nil
	}
	if err != nil {
		return entity.RemoteStatus{}, err
	}
	return entity.RemoteStatus{Found: true, Code: code.Int64, Notes: notes.String}, nil
}

func (s *session) Commit(context.Context) error {
	if err := s.tx.Commit(); err != nil {
		return err
	}
	s.committed = true
	return nil
}
