package models

import "time"

// Certificate is one credit letter offered by a supplier, as read from a spreadsheet row.
type Certificate struct {
	ID            string     `json:"id"`            // "<workbook>#<row>"
	Administrator string     `json:"administrator"` // Administradora
	Type          string     `json:"type"`          // Imóvel, Auto, Serviços ...
	Credit        float64    `json:"credit"`        // Crédito, in BRL
	SupplierEntry float64    `json:"supplierEntry"` // Entrada Fornecedor, in BRL
	Installments  string     `json:"installments"`  // raw Parcelas text
	DueDate       *time.Time `json:"dueDate,omitempty"`
	Supplier      string     `json:"-"` // back-office only, never exposed
	Source        string     `json:"source"`
}

// GroupKey identifies the (administrator, type) partition a certificate belongs to.
type GroupKey struct {
	Administrator string `json:"administradora"`
	Type          string `json:"tipo"`
}

func (k GroupKey) String() string {
	return k.Administrator + "|" + k.Type
}
