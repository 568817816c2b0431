package mapper

import (
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Additional-Code/mesbridge/internal/config"
	"github.com/Additional-Code/mesbridge/internal/entity"
	"github.com/Additional-Code/mesbridge/pkg/errorbank"
)

func newMapper() *Mapper {
	return New(config.Config{Sync: config.Sync{DefaultCustomerID: 1}})
}

func sampleOrder() *entity.SalesOrder {
	return &entity.SalesOrder{
		Name:            "SO-0001",
		Customer:        "CUST-0001",
		CustomerName:    "Acme",
		PONumber:        "PO-77",
		TransactionDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		DeliveryDate:    time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		Items: []entity.SalesOrderItem{
			{ItemCode: "GL-4MM", ItemName: "Float glass 4mm", Qty: decimal.NewFromInt(3), ItemGroup: "Glass"},
		},
	}
}

func TestTruncate(t *testing.T) {
	forty := strings.Repeat("a", 40)

	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"exactly at limit", forty, 40, forty},
		{"one over limit", forty + "b", 40, forty},
		{"empty", "", 40, ""},
		{"shorter", "Acme", 40, "Acme"},
		{"multibyte counted as characters", "Müller Glas GmbH", 6, "Müller"},
		{"zero limit", "Acme", 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Truncate(tt.in, tt.n))
		})
	}
}

func TestHeader_CustomerNameBoundary(t *testing.T) {
	m := newMapper()
	forty := strings.Repeat("N", 40)

	order := sampleOrder()
	order.CustomerName = forty
	assert.Equal(t, forty, m.Header(order, entity.Shipping{}, 1001, "admin").ShipDescr2)

	order.CustomerName = forty + "X"
	assert.Equal(t, forty, m.Header(order, entity.Shipping{}, 1001, "admin").ShipDescr2)
}

func TestHeader_FixedLiteralsAndReferences(t *testing.T) {
	m := newMapper()
	order := sampleOrder()
	ship := entity.Shipping{Address: "Moi Avenue 1", City: "Nairobi", Pincode: "00100", Country: "Kenya"}

	h := m.Header(order, ship, 1001, "ops@example.com")

	assert.Equal(t, int64(1001), h.OrderID)
	assert.Equal(t, int64(1001), h.OperationID)
	assert.Equal(t, int64(1), h.CustomerID)
	assert.Equal(t, "SO-0001", h.Reference)
	assert.Equal(t, "PO-77", h.CustomerRef)
	assert.Equal(t, "PO-77", h.Notes)
	assert.Equal(t, "CUST-0001", h.ShipDescr1)
	assert.Equal(t, "Acme", h.ShipDescr2)
	assert.Equal(t, "Moi Avenue 1", h.ShipAddress)
	assert.Equal(t, "00100", h.ShipZip)
	assert.Equal(t, "Nairobi", h.ShipCity)
	assert.Equal(t, "Kenya", h.ShipProvince)
	assert.Equal(t, "SO-0001", h.CustomerJob)
	assert.Equal(t, "SO-0001", h.InternalRef)
	assert.Equal(t, "ops@example.com", h.AgentRef)
	assert.Equal(t, "Y", h.Confirmed)
	assert.Equal(t, "1", h.OrderState)
	assert.Equal(t, "SALES_ORDER", h.DocumentType)
	assert.Equal(t, order.TransactionDate, h.OrderDate)
	assert.Equal(t, order.TransactionDate, h.StartDate)
	assert.Equal(t, order.DeliveryDate, h.DeliveryDate)
	assert.Equal(t, order.DeliveryDate, h.EndDate)
}

func TestHeader_MissingShippingAndNameFallbacks(t *testing.T) {
	m := newMapper()
	order := sampleOrder()
	order.CustomerName = ""
	order.RemoteCustomerID = 44934

	h := m.Header(order, entity.ShippingFrom(nil), 1001, "")

	assert.Equal(t, int64(44934), h.CustomerID)
	assert.Equal(t, "CUST-0001", h.ShipDescr2)
	assert.Equal(t, "", h.ShipAddress)
	assert.Equal(t, "", h.ShipCity)
	assert.Equal(t, "", h.ShipZip)
	assert.Equal(t, "", h.ShipProvince)
}

func TestHeader_TruncatesEveryLimitedField(t *testing.T) {
	m := newMapper()
	long := strings.Repeat("x", 100)
	order := sampleOrder()
	order.Name = long
	order.PONumber = long
	order.Customer = long
	order.CustomerName = long

	h := m.Header(order, entity.Shipping{Address: long, City: long, Pincode: long, State: long}, 1, long)

	assert.Len(t, h.Reference, 30)
	assert.Len(t, h.CustomerRef, 30)
	assert.Len(t, h.Notes, 64)
	assert.Len(t, h.ShipDescr1, 40)
	assert.Len(t, h.ShipDescr2, 40)
	assert.Len(t, h.ShipAddress, 50)
	assert.Len(t, h.ShipZip, 12)
	assert.Len(t, h.ShipCity, 40)
	assert.Len(t, h.ShipProvince, 30)
	assert.Len(t, h.CustomerJob, 30)
	assert.Len(t, h.InternalRef, 30)
	assert.Len(t, h.AgentRef, 64)
}

func TestLine(t *testing.T) {
	m := newMapper()
	item := entity.SalesOrderItem{
		ItemCode:  "GL-4MM",
		ItemName:  "Float glass 4mm",
		Qty:       decimal.NewFromInt(3),
		ItemGroup: "Glass",
		Width:     sql.NullFloat64{Float64: 600, Valid: true},
		Height:    sql.NullFloat64{Float64: 900, Valid: true},
	}

	l := m.Line(2, item, 1001)

	assert.Equal(t, int64(1001), l.OrderID)
	assert.Equal(t, 2, l.LineNo)
	assert.Equal(t, 2, l.PieceID)
	assert.True(t, decimal.NewFromInt(3).Equal(l.Qty))
	assert.Equal(t, "Float glass 4mm", l.Description)
	assert.Equal(t, "Float glass 4mm", l.MaterialDesc)
	assert.Equal(t, "GL-4MM", l.CustomerCode)
	assert.Equal(t, "GL-4MM", l.RegistryCode)
	assert.Equal(t, "GL-4MM", l.ProductCode)
	assert.Equal(t, 0, l.UnitID)
	assert.Equal(t, "RECT", l.Shape)
	assert.Equal(t, "Glass", l.Category)
	assert.Equal(t, 600.0, l.WidthMM)
	assert.Equal(t, 900.0, l.HeightMM)
}

func TestLine_DescriptionPreferredAndTruncated(t *testing.T) {
	m := newMapper()
	item := entity.SalesOrderItem{
		ItemCode:    strings.Repeat("C", 31),
		ItemName:    "ignored",
		Description: strings.Repeat("d", 70),
		ItemGroup:   strings.Repeat("g", 41),
	}

	l := m.Line(1, item, 1001)

	assert.Len(t, l.Description, 64)
	assert.Len(t, l.MaterialDesc, 50)
	assert.Len(t, l.ProductCode, 30)
	assert.Len(t, l.Category, 40)
}

func TestValidate(t *testing.T) {
	m := newMapper()

	require.NoError(t, m.Validate(sampleOrder()))

	noCustomer := sampleOrder()
	noCustomer.Customer = " "
	assert.Equal(t, errorbank.KindValidation, errorbank.KindOf(m.Validate(noCustomer)))

	noItems := sampleOrder()
	noItems.Items = nil
	assert.Equal(t, errorbank.KindValidation, errorbank.KindOf(m.Validate(noItems)))

	noCode := sampleOrder()
	noCode.Items[0].ItemCode = ""
	assert.Equal(t, errorbank.KindValidation, errorbank.KindOf(m.Validate(noCode)))

	noDate := sampleOrder()
	noDate.TransactionDate = time.Time{}
	assert.Equal(t, errorbank.KindValidation, errorbank.KindOf(m.Validate(noDate)))

	assert.Equal(t, errorbank.KindValidation, errorbank.KindOf(m.Validate(nil)))
}

func TestLine_MissingDimensionsUseConfiguredDefaults(t *testing.T) {
	m := New(config.Config{Sync: config.Sync{DefaultCustomerID: 1, DefaultWidthMM: 1000, DefaultHeightMM: 2000}})

	l := m.Line(1, entity.SalesOrderItem{ItemCode: "GL-6MM", Width: sql.NullFloat64{Float64: 600, Valid: true}}, 1001)
	assert.Equal(t, 1000.0, l.WidthMM)
	assert.Equal(t, 2000.0, l.HeightMM)

	l = m.Line(2, entity.SalesOrderItem{ItemCode: "GL-4MM",
		Width:  sql.NullFloat64{Float64: 600, Valid: true},
		Height: sql.NullFloat64{Float64: 900, Valid: true}}, 1001)
	assert.Equal(t, 600.0, l.WidthMM)
	assert.Equal(t, 900.0, l.HeightMM)
}
