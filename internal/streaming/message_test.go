package streaming

import (
	"testing"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	payload, err := Encode(Message{
		Type:          MessageTypeConfirmed,
		TransactionID: "tx-1",
		ChainID:       137,
		TxHash:        "0xtx",
		Status:        "success",
		BlockNumber:   42,
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	msg, err := Decode(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Type != MessageTypeConfirmed || msg.TransactionID != "tx-1" || msg.ChainID != 137 {
		t.Errorf("unexpected message: %+v", msg)
	}
	if msg.TxHash != "0xtx" || msg.BlockNumber != 42 {
		t.Errorf("unexpected message: %+v", msg)
	}
}

func TestEncode_RejectsIncompleteMessages(t *testing.T) {
	cases := []struct {
		name string
		msg  Message
	}{
		{"missing type", Message{TransactionID: "tx-1", ChainID: 1}},
		{"missing transaction id", Message{Type: MessageTypeSubmitted, ChainID: 1}},
		{"missing chain id", Message{Type: MessageTypeSubmitted, TransactionID: "tx-1"}},
	}
	for _, c := range cases {
		if _, err := Encode(c.msg); err == nil {
			t.Errorf("%s: expected encode error", c.name)
		}
	}
}

func TestDecode_RejectsMalformedPayloads(t *testing.T) {
	if _, err := Decode([]byte("not json")); err == nil {
		t.Error("expected error for malformed json")
	}
	if _, err := Decode([]byte(`{"chain_id":1}`)); err == nil {
		t.Error("expected error for missing type")
	}
	if _, err := Decode([]byte(`{"type":"submitted"}`)); err == nil {
		t.Error("expected error for missing transaction id")
	}
}
