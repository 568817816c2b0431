package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// SyncRequest triggers a background sync of one order.
type SyncRequest struct {
	Actor string `json:"actor"`
}

// OrderSubmittedRequest is the ERP submit hook payload.
type OrderSubmittedRequest struct {
	Order          string `json:"order"`
	SendToRemote   bool   `json:"send_to_remote"`
	RemoteOrderRef string `json:"remote_order_ref"`
	Actor          string `json:"actor"`
}

// AckResponse acknowledges that a sync request was accepted.
type AckResponse struct {
	JobID     string `json:"job_id,omitempty"`
	JobName   string `json:"job_name"`
	Order     string `json:"order"`
	Duplicate bool   `json:"duplicate"`
	Skipped   bool   `json:"skipped"`
	Message   string `json:"message"`
}

// RemoteOrderResponse is the shadow record as exposed via transport layers.
type RemoteOrderResponse struct {
	Name              string                    `json:"name"`
	SalesOrder        string                    `json:"sales_order"`
	Customer          string                    `json:"customer"`
	CustomerReference string                    `json:"customer_reference"`
	OrderDate         time.Time                 `json:"order_date"`
	DeliveryDate      *time.Time                `json:"delivery_date,omitempty"`
	Status            string                    `json:"status"`
	SyncStatus        string                    `json:"sync_status"`
	RemoteOrderID     int64                     `json:"remote_order_id,omitempty"`
	OperationID       int64                     `json:"operation_id,omitempty"`
	SyncMessage       string                    `json:"sync_message,omitempty"`
	UpdatedAt         time.Time                 `json:"updated_at"`
	Items             []RemoteOrderItemResponse `json:"items"`
}

// RemoteOrderItemResponse is one mirrored line.
type RemoteOrderItemResponse struct {
	Idx        int             `json:"idx"`
	ItemCode   string          `json:"item_code"`
	ItemName   string          `json:"item_name"`
	Qty        decimal.Decimal `json:"qty"`
	SyncStatus string          `json:"sync_status"`
}

// SyncLogResponse is one sync attempt.
type SyncLogResponse struct {
	ID          string     `json:"id"`
	Reference   string     `json:"reference"`
	OperationID *int64     `json:"operation_id,omitempty"`
	Actor       string     `json:"actor"`
	Status      string     `json:"status"`
	Message     string     `json:"message,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// ReconcileResponse summarizes a reconciliation pass.
type ReconcileResponse struct {
	Checked   int `json:"checked"`
	Synced    int `json:"synced"`
	Failed    int `json:"failed"`
	Unchanged int `json:"unchanged"`
	Errors    int `json:"errors"`
}
