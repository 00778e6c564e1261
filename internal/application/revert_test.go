package application

import (
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/thirdweb-dev/engine-sub003/internal/domain"
)

func encodeErrorString(t *testing.T, message string) []byte {
	t.Helper()
	args := abi.Arguments{{Type: mustNewType("string")}}
	packed, err := args.Pack(message)
	if err != nil {
		t.Fatalf("pack revert string: %v", err)
	}
	// Error(string) selector.
	return append([]byte{0x08, 0xc3, 0x79, 0xa0}, packed...)
}

func TestRevertDecoder_DecodesRegisteredError(t *testing.T) {
	decoder := NewRevertDecoder()
	errDef := abi.NewError("InsufficientBalance", abi.Arguments{
		{Name: "required", Type: mustNewType("uint256")},
		{Name: "available", Type: mustNewType("uint256")},
	})
	decoder.Register(errDef)

	packed, err := errDef.Inputs.Pack(big.NewInt(100), big.NewInt(42))
	if err != nil {
		t.Fatalf("pack error args: %v", err)
	}
	data := append([]byte{}, errDef.ID[:4]...)
	data = append(data, packed...)

	decoded := decoder.Decode(data)
	if decoded == nil {
		t.Fatal("expected decoded revert")
	}
	if decoded.ErrorName != "InsufficientBalance" {
		t.Errorf("unexpected error name %q", decoded.ErrorName)
	}
	required, ok := decoded.Args["required"].(*big.Int)
	if !ok || required.Int64() != 100 {
		t.Errorf("unexpected required arg %v", decoded.Args["required"])
	}
	available, ok := decoded.Args["available"].(*big.Int)
	if !ok || available.Int64() != 42 {
		t.Errorf("unexpected available arg %v", decoded.Args["available"])
	}
}

func TestRevertDecoder_FallsBackToErrorString(t *testing.T) {
	decoder := NewRevertDecoder()

	decoded := decoder.Decode(encodeErrorString(t, "transfer failed"))
	if decoded == nil {
		t.Fatal("expected decoded revert")
	}
	if decoded.ErrorName != "Error" {
		t.Errorf("unexpected error name %q", decoded.ErrorName)
	}
	if decoded.Args["message"] != "transfer failed" {
		t.Errorf("unexpected message %v", decoded.Args["message"])
	}
}

func TestRevertDecoder_UndecodablePayloadIsNil(t *testing.T) {
	decoder := NewRevertDecoder()

	if decoded := decoder.Decode([]byte{0xde, 0xad, 0xbe, 0xef, 0x01}); decoded != nil {
		t.Errorf("unknown selector must not decode, got %+v", decoded)
	}
	if decoded := decoder.Decode([]byte{0x01, 0x02}); decoded != nil {
		t.Errorf("short payload must not decode, got %+v", decoded)
	}
}

func TestRevertDecoder_DecodeReceiptScansRevertReasonEvent(t *testing.T) {
	decoder := NewRevertDecoder()

	inner := encodeErrorString(t, "not authorized")
	packed, err := revertReasonArgs.Pack(big.NewInt(7), inner)
	if err != nil {
		t.Fatalf("pack event data: %v", err)
	}
	receipt := domain.UserOpReceipt{
		Success: false,
		Logs: []domain.EventLog{
			{Topics: []string{"0xdeadbeef"}, Data: "0x00"},
			{
				Topics: []string{revertReasonTopic.Hex()},
				Data:   "0x" + hex.EncodeToString(packed),
			},
		},
	}

	decoded := decoder.DecodeReceipt(receipt)
	if decoded == nil {
		t.Fatal("expected decoded revert from event")
	}
	if decoded.Args["message"] != "not authorized" {
		t.Errorf("unexpected message %v", decoded.Args["message"])
	}
}

func TestRevertDecoder_DecodeReceiptFallsBackToRevertData(t *testing.T) {
	decoder := NewRevertDecoder()

	receipt := domain.UserOpReceipt{
		Success:    false,
		RevertData: "0x" + hex.EncodeToString(encodeErrorString(t, "paused")),
	}
	decoded := decoder.DecodeReceipt(receipt)
	if decoded == nil {
		t.Fatal("expected decoded revert from receipt field")
	}
	if decoded.Args["message"] != "paused" {
		t.Errorf("unexpected message %v", decoded.Args["message"])
	}

	if decoded := decoder.DecodeReceipt(domain.UserOpReceipt{Success: false}); decoded != nil {
		t.Errorf("receipt without revert payload must decode to nil, got %+v", decoded)
	}
}
