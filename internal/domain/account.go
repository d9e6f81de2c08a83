package domain

// Account is a persisted ledger balance.
// Seq is the ledger sequence number of the last change to the row.
type Account struct {
	Address string `json:"address"`
	Balance Amount `json:"balance"`
	Seq     uint64 `json:"seq"`
}

// Allowance is the amount a spender may move out of an owner's balance.
type Allowance struct {
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
	Amount  Amount `json:"amount"`
	Seq     uint64 `json:"seq"`
}

// TokenInfo describes the token and its supply.
type TokenInfo struct {
	Name        string   `json:"name"`
	Symbol      string   `json:"symbol"`
	Decimals    int      `json:"decimals"`
	Owner       string   `json:"owner"`
	TotalSupply Amount   `json:"total_supply"`
	MaxSupply   Amount   `json:"max_supply"`
	Minters     []string `json:"minters"`
}

// LedgerState is a full copy of the ledger used for persistence and recovery.
type LedgerState struct {
	Owner       string      `json:"owner"`
	TotalSupply Amount      `json:"total_supply"`
	MaxSupply   Amount      `json:"max_supply"`
	Seq         uint64      `json:"seq"`
	Accounts    []Account   `json:"accounts"`
	Allowances  []Allowance `json:"allowances"`
	Minters     []string    `json:"minters"`
}
