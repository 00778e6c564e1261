package domain

// TransactionRecord is one row of the durable transaction ledger as read
// back for callers.
type TransactionRecord struct {
	TransactionID   string `json:"transaction_id"`
	ChainID         uint64 `json:"chain_id"`
	Signer          string `json:"signer"`
	UserOpHash      string `json:"user_op_hash"`
	TransactionHash string `json:"tx_hash"`
	Nonce           uint64 `json:"nonce"`
	Status          string `json:"status"`
	BlockNumber     uint64 `json:"block_number"`
	GasUsed         uint64 `json:"gas_used"`
	GasCost         string `json:"gas_cost"`
	RevertReason    string `json:"revert_reason,omitempty"`
}
