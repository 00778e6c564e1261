package streaming

import (
	"encoding/json"
	"errors"

	"github.com/thirdweb-dev/engine-sub003/internal/domain"
)

type MessageType string

const (
	MessageTypeSubmitted MessageType = "submitted"
	MessageTypeConfirmed MessageType = "confirmed"
)

// Message is the wire envelope for transaction lifecycle events. One topic
// per chain; consumers switch on Type.
type Message struct {
	Type          MessageType           `json:"type"`
	TransactionID string                `json:"transaction_id"`
	ChainID       uint64                `json:"chain_id"`
	TraceID       string                `json:"trace_id,omitempty"`
	Signer        string                `json:"signer,omitempty"`
	UserOpHash    string                `json:"user_op_hash,omitempty"`
	TxHash        string                `json:"tx_hash,omitempty"`
	Nonce         uint64                `json:"nonce,omitempty"`
	Status        string                `json:"status,omitempty"`
	BlockNumber   uint64                `json:"block_number,omitempty"`
	GasUsed       uint64                `json:"gas_used,omitempty"`
	GasCost       string                `json:"gas_cost,omitempty"`
	Revert        *domain.DecodedRevert `json:"revert,omitempty"`
}

func Encode(msg Message) ([]byte, error) {
	if msg.Type == "" {
		return nil, errors.New("message type is required")
	}
	if msg.TransactionID == "" {
		return nil, errors.New("transaction_id is required")
	}
	if msg.ChainID == 0 {
		return nil, errors.New("chain_id is required")
	}
	return json.Marshal(msg)
}

func Decode(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	if msg.Type == "" {
		return Message{}, errors.New("message type is missing")
	}
	if msg.TransactionID == "" {
		return Message{}, errors.New("transaction_id is missing")
	}
	return msg, nil
}
