package seeder

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/mesbridge/internal/entity"
	"github.com/Additional-Code/mesbridge/internal/repository/salesorder"
)

// Module provides the seeder to Fx.
var Module = fx.Provide(New)

// Orders is the order store the seeder writes to.
type Orders interface {
	Get(ctx context.Context, name string) (*entity.SalesOrder, error)
	Address(ctx context.Context, name string) (*entity.Address, error)
	Create(ctx context.Context, order *entity.SalesOrder) error
	CreateAddress(ctx context.Context, addr *entity.Address) error
}

// Seeder performs database seeding for local/dev setups.
type Seeder struct {
	orders Orders
	logger *zap.Logger
	now    func() time.Time
}

// New constructs a Seeder backed by the sales order repository.
func New(orders *salesorder.Repository, logger *zap.Logger) *Seeder {
	return NewWith(orders, logger)
}

// NewWith constructs a Seeder over any order store.
func NewWith(orders Orders, logger *zap.Logger) *Seeder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Seeder{orders: orders, logger: logger, now: time.Now}
}

// SampleAddress is the shipping address of the sample order.
func SampleAddress() entity.Address {
	return entity.Address{
		Name:         "Acme-Shipping",
		AddressLine1: "Mombasa Road 12",
		City:         "Nairobi",
		Pincode:      "00100",
		Country:      "Kenya",
	}
}

// SampleOrder is a confirmed order ready to be sent to the remote system.
func SampleOrder(now time.Time) entity.SalesOrder {
	day := now.UTC().Truncate(24 * time.Hour)
	return entity.SalesOrder{
		Name:                "SO-0001",
		Customer:            "CUST-0001",
		CustomerName:        "Acme",
		PONumber:            "PO-0001",
		TransactionDate:     day,
		DeliveryDate:        day.AddDate(0, 0, 14),
		ShippingAddressName: "Acme-Shipping",
		Owner:               "sales@acme.test",
		SendToRemote:        true,
		Items: []entity.SalesOrderItem{
			{
				Idx:       1,
				ItemCode:  "GL-4MM-CLR",
				ItemName:  "Clear float glass 4mm",
				Qty:       decimal.NewFromInt(4),
				Rate:      decimal.RequireFromString("35.50"),
				Amount:    decimal.RequireFromString("142.00"),
				ItemGroup: "Float Glass",
				Width:     sql.NullFloat64{Float64: 1200, Valid: true},
				Height:    sql.NullFloat64{Float64: 800, Valid: true},
			},
			{
				Idx:       2,
				ItemCode:  "GL-6MM-TMP",
				ItemName:  "Tempered glass 6mm",
				Qty:       decimal.NewFromInt(2),
				Rate:      decimal.RequireFromString("80.00"),
				Amount:    decimal.RequireFromString("160.00"),
				ItemGroup: "Tempered Glass",
			},
		},
	}
}

// Orders seeds the sample order and its address if they are missing.
func (s *Seeder) Orders(ctx context.Context) error {
	addr := SampleAddress()
	existing, err := s.orders.Address(ctx, addr.Name)
	if err != nil {
		return err
	}
	if existing == nil {
		if err := s.orders.CreateAddress(ctx, &addr); err != nil {
			return err
		}
	}

	order := SampleOrder(s.now())
	_, err = s.orders.Get(ctx, order.Name)
	switch {
	case err == nil:
		s.logger.Info("sample order already present", zap.String("order", order.Name))
		return nil
	case !errors.Is(err, salesorder.ErrNotFound):
		return err
	}

	if err := s.orders.Create(ctx, &order); err != nil {
		return err
	}
	s.logger.Info("seeded orders", zap.String("order", order.Name), zap.Int("items", len(order.Items)))
	return nil
}
