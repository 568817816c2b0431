package entity

import (
	"database/sql"
	"time"

	"github.com/uptrace/bun"
)

// SyncLogStatus is the lifecycle of one audit entry.
type SyncLogStatus string

const (
	SyncLogPending   SyncLogStatus = "Pending"
	SyncLogCompleted SyncLogStatus = "Completed"
	SyncLogFailed    SyncLogStatus = "Failed"
)

// SyncLogTypeOrder marks entries produced by order synchronization.
const SyncLogTypeOrder = "Order"

// SyncLog is the audit record of a single sync attempt. It is written once as
// Pending and finished at most once.
type SyncLog struct {
	bun.BaseModel `bun:"table:sync_logs"`

	ID          string        `bun:"id,pk" json:"id"`
	SyncType    string        `bun:"sync_type" json:"sync_type"`
	Reference   string        `bun:"reference" json:"reference"`
	OperationID sql.NullInt64 `bun:"operation_id" json:"-"`
	Actor       string        `bun:"actor" json:"actor"`
	Status      SyncLogStatus `bun:"status" json:"status"`
	Message     string        `bun:"message" json:"message"`
	CreatedAt   time.Time     `bun:"created_at" json:"created_at"`
	FinishedAt  bun.NullTime  `bun:"finished_at" json:"finished_at"`
}
