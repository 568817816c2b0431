package entity

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// Fixed literals written on every remote header.
const (
	RemoteConfirmedFlag = "Y"
	RemoteOrderToImport = "1"
	RemoteDocumentType  = "SALES_ORDER"
)

// Fixed literals written on every remote line.
const (
	RemoteUnitMillimetre = 0
	RemoteShapeRectangle = "RECT"
)

// RemoteHeader is one row of the remote OPTIMA_Orders connector table.
type RemoteHeader struct {
	bun.BaseModel `bun:"table:OPTIMA_Orders"`

	OrderID      int64     `bun:"ID_ORDINI"`
	OperationID  int64     `bun:"ID_OPERATIONS"`
	CustomerID   int64     `bun:"CLIENTE"`
	Reference    string    `bun:"RIF"`
	CustomerRef  string    `bun:"RIFCLI"`
	OrderDate    time.Time `bun:"DATAORD"`
	DeliveryDate time.Time `bun:"DATACONS,nullzero"`
	StartDate    time.Time `bun:"DATAINIZIO"`
	EndDate      time.Time `bun:"DATAFINE,nullzero"`
	Confirmed    string    `bun:"DEF"`
	Notes        string    `bun:"NOTES"`
	ShipDescr1   string    `bun:"DESCR1_SPED"`
	ShipDescr2   string    `bun:"DESCR2_SPED"`
	ShipAddress  string    `bun:"INDIRI_SPED"`
	ShipZip      string    `bun:"CAP_SPED"`
	ShipCity     string    `bun:"LOCALITA_SPED"`
	ShipProvince string    `bun:"PROV_SPED"`
	CustomerJob  string    `bun:"COMMESSA_CLI"`
	InternalRef  string    `bun:"RIFINTERNO"`
	AgentRef     string    `bun:"RIFAGENTE"`
	OrderState   string    `bun:"statoordine"`
	DocumentType string    `bun:"DESCR_TIPICAUDOC"`
}

// RemoteLine is one row of the remote OPTIMA_OrderLines connector table.
type RemoteLine struct {
	bun.BaseModel `bun:"table:OPTIMA_OrderLines"`

	OrderID      int64           `bun:"ID_ORDINI"`
	LineNo       int             `bun:"RIGA"`
	Qty          decimal.Decimal `bun:"QTAPZ"`
	MaterialDesc string          `bun:"DESCR_MAT_COMP"`
	CustomerCode string          `bun:"COD_ART_CLIENTE"`
	Description  string          `bun:"DESCMAT"`
	UnitID       int             `bun:"ID_UM"`
	RegistryCode string          `bun:"CODICE_ANAGRAFICA"`
	ProductCode  string          `bun:"PRODOTTI_CODICE"`
	WidthMM      float64         `bun:"DIMXPZ"`
	HeightMM     float64         `bun:"DIMYPZ"`
	PieceID      int             `bun:"ID_PZ"`
	Shape        string          `bun:"SAGOMA"`
	Category     string          `bun:"CATEGORIE"`
}

// RemoteStatus is the processing outcome the remote system reports for an operation.
// Code is positive once the order was imported, negative on rejection and zero
// while pending.
type RemoteStatus struct {
	Found bool
	Code  int64
	Notes string
}
