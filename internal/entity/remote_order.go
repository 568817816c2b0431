package entity

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// RemoteOrderStatus tracks the shadow record's business status.
type RemoteOrderStatus string

const (
	RemoteOrderPending RemoteOrderStatus = "Pending"
	RemoteOrderSynced  RemoteOrderStatus = "Synced"
	RemoteOrderFailed  RemoteOrderStatus = "Failed"
)

// SyncStatus tracks where a shadow record or one of its lines is in the sync lifecycle.
type SyncStatus string

const (
	SyncPending    SyncStatus = "Pending"
	SyncInProgress SyncStatus = "In Progress"
	SyncCompleted  SyncStatus = "Completed"
	SyncFailed     SyncStatus = "Failed"
)

// RemoteOrder is the local mirror of an order written to the remote system.
// There is at most one per sales order and it is never deleted.
type RemoteOrder struct {
	bun.BaseModel `bun:"table:remote_orders"`

	Name              string            `bun:"name,pk" json:"name"`
	SalesOrder        string            `bun:"sales_order,unique" json:"sales_order"`
	Customer          string            `bun:"customer" json:"customer"`
	CustomerReference string            `bun:"customer_reference" json:"customer_reference"`
	OrderDate         time.Time         `bun:"order_date" json:"order_date"`
	DeliveryDate      time.Time         `bun:"delivery_date,nullzero" json:"delivery_date"`
	DeliveryAddress   string            `bun:"delivery_address" json:"delivery_address"`
	DeliveryCity      string            `bun:"delivery_city" json:"delivery_city"`
	DeliveryZip       string            `bun:"delivery_zip" json:"delivery_zip"`
	DeliveryCountry   string            `bun:"delivery_country" json:"delivery_country"`
	Status            RemoteOrderStatus `bun:"status" json:"status"`
	SyncStatus        SyncStatus        `bun:"sync_status" json:"sync_status"`
	RemoteOrderID     int64             `bun:"remote_order_id,nullzero" json:"remote_order_id,omitempty"`
	OperationID       int64             `bun:"operation_id,nullzero" json:"operation_id,omitempty"`
	SyncMessage       string            `bun:"sync_message" json:"sync_message"`
	CreatedAt         time.Time         `bun:"created_at" json:"created_at"`
	UpdatedAt         time.Time         `bun:"updated_at" json:"updated_at"`

	Items []RemoteOrderItem `bun:"rel:has-many,join:name=parent" json:"items"`
}

// RemoteOrderItem mirrors one sales order line.
type RemoteOrderItem struct {
	bun.BaseModel `bun:"table:remote_order_items"`

	Parent      string          `bun:"parent,pk" json:"-"`
	Idx         int             `bun:"idx,pk" json:"idx"`
	ItemCode    string          `bun:"item_code" json:"item_code"`
	ItemName    string          `bun:"item_name" json:"item_name"`
	Description string          `bun:"description" json:"description"`
	Qty         decimal.Decimal `bun:"qty,type:numeric" json:"qty"`
	Rate        decimal.Decimal `bun:"rate,type:numeric" json:"rate"`
	Amount      decimal.Decimal `bun:"amount,type:numeric" json:"amount"`
	SyncStatus  SyncStatus      `bun:"sync_status" json:"sync_status"`
}

// RemoteOrderName is the deterministic shadow record name for a sales order.
func RemoteOrderName(salesOrder string) string {
	return "RO-" + salesOrder
}

// MirrorItems rebuilds the shadow item collection from the order's current lines.
func MirrorItems(order *SalesOrder, status SyncStatus) []RemoteOrderItem {
	items := make([]RemoteOrderItem, 0, len(order.Items))
	for i, it := range order.Items {
		items = append(items, RemoteOrderItem{
			Parent:      RemoteOrderName(order.Name),
			Idx:         i + 1,
			ItemCode:    it.ItemCode,
			ItemName:    it.ItemName,
			Description: it.Description,
			Qty:         it.Qty,
			Rate:        it.Rate,
			Amount:      it.Amount,
			SyncStatus:  status,
		})
	}
	return items
}

// SetItemsStatus stamps every mirrored line with status.
func (o *RemoteOrder) SetItemsStatus(status SyncStatus) {
	for i := range o.Items {
		o.Items[i].SyncStatus = status
	}
}
