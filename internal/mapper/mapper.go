package mapper

import (
	"fmt"
	"strings"

	"go.uber.org/fx"

	"github.com/Additional-Code/mesbridge/internal/config"
	"github.com/Additional-Code/mesbridge/internal/entity"
	"github.com/Additional-Code/mesbridge/pkg/errorbank"
)

// Column widths of the remote connector tables.
const (
	limitZip       = 12
	limitShape     = 12
	limitShipDescr = 40
	limitCity      = 40
	limitCategory  = 40
	limitRef       = 30
	limitCode      = 30
	limitAddress   = 50
	limitMaterial  = 50
	limitNotes     = 64
	limitAgent     = 64
	limitDescMat   = 64
)

// Module provides the mapper to Fx.
var Module = fx.Provide(New)

// Mapper turns ERP orders into remote connector rows. It performs no I/O.
type Mapper struct {
	defaultCustomerID int64
	defaultWidthMM    float64
	defaultHeightMM   float64
}

// New builds a mapper using the configured sync defaults.
func New(cfg config.Config) *Mapper {
	return &Mapper{
		defaultCustomerID: cfg.Sync.DefaultCustomerID,
		defaultWidthMM:    cfg.Sync.DefaultWidthMM,
		defaultHeightMM:   cfg.Sync.DefaultHeightMM,
	}
}

// Validate reports orders that cannot be mapped at all.
func (m *Mapper) Validate(order *entity.SalesOrder) error {
	if order == nil {
		return errorbank.Validation("order is required")
	}
	if strings.TrimSpace(order.Customer) == "" {
		return errorbank.Validation(fmt.Sprintf("order %s has no customer", order.Name))
	}
	if order.TransactionDate.IsZero() {
		return errorbank.Validation(fmt.Sprintf("order %s has no transaction date", order.Name))
	}
	if len(order.Items) == 0 {
		return errorbank.Validation(fmt.Sprintf("order %s has no items", order.Name))
	}
	for i, it := range order.Items {
		if strings.TrimSpace(it.ItemCode) == "" {
			return errorbank.Validation(fmt.Sprintf("order %s line %d has no item code", order.Name, i+1))
		}
	}
	return nil
}

// Header maps the order onto an OPTIMA_Orders row. The allocated id doubles
// as the operation id the remote system reports status under.
func (m *Mapper) Header(order *entity.SalesOrder, ship entity.Shipping, orderID int64, agent string) entity.RemoteHeader {
	customerID := order.RemoteCustomerID
	if customerID <= 0 {
		customerID = m.defaultCustomerID
	}
	customerName := order.CustomerName
	if customerName == "" {
		customerName = order.Customer
	}
	province := ship.State
	if province == "" {
		province = ship.Country
	}

	return entity.RemoteHeader{
		OrderID:      orderID,
		OperationID:  orderID,
		CustomerID:   customerID,
		Reference:    Truncate(order.Name, limitRef),
		CustomerRef:  Truncate(order.PONumber, limitRef),
		OrderDate:    order.TransactionDate,
		DeliveryDate: order.DeliveryDate,
		StartDate:    order.TransactionDate,
		EndDate:      order.DeliveryDate,
		Confirmed:    entity.RemoteConfirmedFlag,
		Notes:        Truncate(order.PONumber, limitNotes),
		ShipDescr1:   Truncate(order.Customer, limitShipDescr),
		ShipDescr2:   Truncate(customerName, limitShipDescr),
		ShipAddress:  Truncate(ship.Address, limitAddress),
		ShipZip:      Truncate(ship.Pincode, limitZip),
		ShipCity:     Truncate(ship.City, limitCity),
		ShipProvince: Truncate(province, limitRef),
		CustomerJob:  Truncate(order.Name, limitRef),
		InternalRef:  Truncate(order.Name, limitRef),
		AgentRef:     Truncate(agent, limitAgent),
		OrderState:   entity.RemoteOrderToImport,
		DocumentType: entity.RemoteDocumentType,
	}
}

// Line maps one order item onto an OPTIMA_OrderLines row. seq starts at 1.
// Items without both dimensions get the configured defaults.
func (m *Mapper) Line(seq int, item entity.SalesOrderItem, orderID int64) entity.RemoteLine {
	width, height, ok := item.Dimensions()
	if !ok {
		width, height = m.defaultWidthMM, m.defaultHeightMM
	}
	description := item.Description
	if strings.TrimSpace(description) == "" {
		description = item.ItemName
	}

	return entity.RemoteLine{
		OrderID:      orderID,
		LineNo:       seq,
		Qty:          item.Qty,
		MaterialDesc: Truncate(description, limitMaterial),
		CustomerCode: Truncate(item.ItemCode, limitCode),
		Description:  Truncate(description, limitDescMat),
		UnitID:       entity.RemoteUnitMillimetre,
		RegistryCode: Truncate(item.ItemCode, limitCode),
		ProductCode:  Truncate(item.ItemCode, limitCode),
		WidthMM:      width,
		HeightMM:     height,
		PieceID:      seq,
		Shape:        Truncate(entity.RemoteShapeRectangle, limitShape),
		Category:     Truncate(item.ItemGroup, limitCategory),
	}
}

// Truncate cuts s to at most n characters.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
