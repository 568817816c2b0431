package entity

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// OrderSyncStatus is the ERP-facing sync state written back onto a sales order.
type OrderSyncStatus string

const (
	OrderSyncNone   OrderSyncStatus = ""
	OrderSyncQueued OrderSyncStatus = "Queued"
	OrderSyncSynced OrderSyncStatus = "Synced"
	OrderSyncFailed OrderSyncStatus = "Failed"
)

// SalesOrder is the ERP's confirmed order as read by the sync pipeline.
type SalesOrder struct {
	bun.BaseModel `bun:"table:sales_orders"`

	Name                string          `bun:"name,pk" json:"name"`
	Customer            string          `bun:"customer" json:"customer"`
	CustomerName        string          `bun:"customer_name" json:"customer_name"`
	RemoteCustomerID    int64           `bun:"remote_customer_id,nullzero" json:"remote_customer_id,omitempty"`
	PONumber            string          `bun:"po_no" json:"po_no"`
	TransactionDate     time.Time       `bun:"transaction_date" json:"transaction_date"`
	DeliveryDate        time.Time       `bun:"delivery_date,nullzero" json:"delivery_date"`
	ShippingAddressName string          `bun:"shipping_address_name" json:"shipping_address_name"`
	Owner               string          `bun:"owner" json:"owner"`
	SendToRemote        bool            `bun:"send_to_remote" json:"send_to_remote"`
	RemoteOrderRef      string          `bun:"remote_order_ref" json:"remote_order_ref"`
	RemoteOrderID       int64           `bun:"remote_order_id,nullzero" json:"remote_order_id,omitempty"`
	SyncStatus          OrderSyncStatus `bun:"sync_status" json:"sync_status"`
	SyncError           string          `bun:"sync_error" json:"sync_error"`

	Items []SalesOrderItem `bun:"rel:has-many,join:name=parent" json:"items"`
}

// SalesOrderItem is one line of a sales order. Idx orders lines starting at 1.
type SalesOrderItem struct {
	bun.BaseModel `bun:"table:sales_order_items"`

	Parent      string          `bun:"parent,pk" json:"parent"`
	Idx         int             `bun:"idx,pk" json:"idx"`
	ItemCode    string          `bun:"item_code" json:"item_code"`
	ItemName    string          `bun:"item_name" json:"item_name"`
	Description string          `bun:"description" json:"description"`
	Qty         decimal.Decimal `bun:"qty,type:numeric" json:"qty"`
	Rate        decimal.Decimal `bun:"rate,type:numeric" json:"rate"`
	Amount      decimal.Decimal `bun:"amount,type:numeric" json:"amount"`
	ItemGroup   string          `bun:"item_group" json:"item_group"`
	Width       sql.NullFloat64 `bun:"width" json:"-"`
	Height      sql.NullFloat64 `bun:"height" json:"-"`
}

// Dimensions returns the item's width and height in millimetres and whether
// both were present on the source item.
func (i SalesOrderItem) Dimensions() (width, height float64, ok bool) {
	if !i.Width.Valid || !i.Height.Valid || i.Width.Float64 <= 0 || i.Height.Float64 <= 0 {
		return 0, 0, false
	}
	return i.Width.Float64, i.Height.Float64, true
}

// DefaultDimensions fills in missing item dimensions. It is applied once when
// the order is loaded so downstream mapping always sees explicit values.
func (o *SalesOrder) DefaultDimensions(width, height float64) {
	for i := range o.Items {
		if _, _, ok := o.Items[i].Dimensions(); ok {
			continue
		}
		o.Items[i].Width = sql.NullFloat64{Float64: width, Valid: true}
		o.Items[i].Height = sql.NullFloat64{Float64: height, Valid: true}
	}
}

// Address is an ERP address record linked from a sales order.
type Address struct {
	bun.BaseModel `bun:"table:addresses"`

	Name         string `bun:"name,pk" json:"name"`
	AddressLine1 string `bun:"address_line1" json:"address_line1"`
	City         string `bun:"city" json:"city"`
	Pincode      string `bun:"pincode" json:"pincode"`
	State        string `bun:"state" json:"state"`
	Country      string `bun:"country" json:"country"`
}

// Shipping is the resolved delivery destination of an order. Every field is
// the empty string when the order has no linked address.
type Shipping struct {
	Address string
	City    string
	Pincode string
	State   string
	Country string
}

// ShippingFrom flattens an optional address.
func ShippingFrom(addr *Address) Shipping {
	if addr == nil {
		return Shipping{}
	}
	return Shipping{
		Address: addr.AddressLine1,
		City:    addr.City,
		Pincode: addr.Pincode,
		State:   addr.State,
		Country: addr.Country,
	}
}

// SyncState is the write-back applied to a sales order after a sync attempt.
type SyncState struct {
	Status         OrderSyncStatus
	RemoteOrderRef string
	RemoteOrderID  int64
	Error          string
}
