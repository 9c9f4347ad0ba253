package models

import "time"

// JunctionRequest asks for the cheapest combination of certificates reaching a desired credit.
type JunctionRequest struct {
	Type            string   `json:"tipo"`
	DesiredCredit   float64  `json:"credito_desejado"`
	EntryCeiling    *float64 `json:"entrada_max,omitempty"`    // max entry/credit ratio, default 0.47
	ExtraCommission *float64 `json:"comissao_extra,omitempty"` // consultant commission, e.g. 0.02
	Prefix          string   `json:"prefix,omitempty"`         // bucket prefix override
}

// JunctionOption is one combined offer inside a single (administrator, type) group.
type JunctionOption struct {
	Administrator    string  `json:"administradora"`
	Type             string  `json:"tipo"`
	CreditTotal      float64 `json:"credito_total"`
	Entry            float64 `json:"entrada"`
	Installments     string  `json:"parcelas"`
	NearestDueDate   string  `json:"vencimento_mais_proximo"` // dd/mm/yyyy or ""
	CertificatesUsed int     `json:"cartas_usadas"`
	Solver           string  `json:"solver"`
}

// CommissionPolicy reports the rates applied to compute the entry.
type CommissionPolicy struct {
	Base  float64 `json:"base"`
	Extra float64 `json:"extra_usada"`
	Total float64 `json:"total"`
}

// Governance documents the combination rules used for the response.
type Governance struct {
	Rule         string `json:"regra"`
	MixSuppliers bool   `json:"mix_fornecedores"`
	Solver       string `json:"solver"`
}

// JunctionResponse is returned by the junction endpoint.
type JunctionResponse struct {
	ID         string            `json:"id,omitempty"`
	Options    []JunctionOption  `json:"opcoes"`
	Info       string            `json:"info,omitempty"`
	Commission *CommissionPolicy `json:"politica_comissao,omitempty"`
	Governance *Governance       `json:"governanca,omitempty"`
	Message    string            `json:"mensagem,omitempty"`
}

// JunctionRun is a persisted request/response pair.
type JunctionRun struct {
	ID        string           `json:"id"`
	CreatedAt time.Time        `json:"createdAt"`
	Request   JunctionRequest  `json:"request"`
	Response  JunctionResponse `json:"response"`
}

// JunctionRunSummary is the list view of a JunctionRun.
type JunctionRunSummary struct {
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"createdAt"`
	Type          string    `json:"tipo"`
	DesiredCredit float64   `json:"credito_desejado"`
	OptionCount   int       `json:"opcoes"`
}

// ShadowResult compares the exact and approximate solvers on one group.
type ShadowResult struct {
	RunID     string    `json:"runId"`
	GroupKey  string    `json:"groupKey"`
	GroupSize int       `json:"groupSize"`
	Target    float64   `json:"target"`
	ExactSum  float64   `json:"exactSum"`
	ApproxSum float64   `json:"approxSum"`
	Ratio     float64   `json:"ratio"`
	Diverged  bool      `json:"diverged"`
	CreatedAt time.Time `json:"createdAt"`
}
