package application

import (
	"encoding/hex"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/thirdweb-dev/engine-sub003/internal/domain"
)

// revertReasonTopic is the topic0 of the entrypoint's
// UserOperationRevertReason(bytes32,address,uint256,bytes) event.
var revertReasonTopic = common.HexToHash(
	"0x1c4fada7374c0a9ee8841fc38afe82932dc0f8e69012e927f061a8bae611a201",
)

var revertReasonArgs = abi.Arguments{
	{Name: "nonce", Type: mustNewType("uint256")},
	{Name: "revertReason", Type: mustNewType("bytes")},
}

func mustNewType(t string) abi.Type {
	parsed, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return parsed
}

// RevertDecoder turns raw revert payloads into named errors with named
// arguments by matching the 4-byte selector against registered error ABI
// definitions. Decoding failure is graceful: the caller still reports the
// terminal outcome, just without a decoded reason.
type RevertDecoder struct {
	errors map[[4]byte]abi.Error
}

func NewRevertDecoder() *RevertDecoder {
	return &RevertDecoder{errors: make(map[[4]byte]abi.Error)}
}

// RegisterABI adds every error definition from a contract ABI document.
func (d *RevertDecoder) RegisterABI(abiJSON string) error {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return err
	}
	for _, errDef := range parsed.Errors {
		d.Register(errDef)
	}
	return nil
}

func (d *RevertDecoder) Register(errDef abi.Error) {
	var selector [4]byte
	copy(selector[:], errDef.ID[:4])
	d.errors[selector] = errDef
}

// DecodeReceipt scans receipt logs for a revert-reason event and decodes its
// payload. Returns nil when no decodable reason is present.
func (d *RevertDecoder) DecodeReceipt(receipt domain.UserOpReceipt) *domain.DecodedRevert {
	if data := extractRevertData(receipt); len(data) > 0 {
		return d.Decode(data)
	}
	if receipt.RevertData != "" {
		if data, err := hexDecode(receipt.RevertData); err == nil {
			return d.Decode(data)
		}
	}
	return nil
}

// Decode resolves a raw revert payload against the registered definitions,
// falling back to the solidity built-ins Error(string) and Panic(uint256).
func (d *RevertDecoder) Decode(data []byte) *domain.DecodedRevert {
	if len(data) < 4 {
		return nil
	}
	raw := "0x" + hex.EncodeToString(data)

	var selector [4]byte
	copy(selector[:], data[:4])
	if errDef, ok := d.errors[selector]; ok {
		args := make(map[string]any)
		if err := errDef.Inputs.UnpackIntoMap(args, data[4:]); err == nil {
			return &domain.DecodedRevert{ErrorName: errDef.Name, Args: args, Raw: raw}
		}
	}

	if reason, err := abi.UnpackRevert(data); err == nil {
		return &domain.DecodedRevert{
			ErrorName: "Error",
			Args:      map[string]any{"message": reason},
			Raw:       raw,
		}
	}
	return nil
}

// extractRevertData pulls the revertReason bytes out of the entrypoint's
// revert-reason event, if the receipt carries one.
func extractRevertData(receipt domain.UserOpReceipt) []byte {
	for _, log := range receipt.Logs {
		if len(log.Topics) == 0 {
			continue
		}
		if common.HexToHash(log.Topics[0]) != revertReasonTopic {
			continue
		}
		data, err := hexDecode(log.Data)
		if err != nil {
			continue
		}
		values, err := revertReasonArgs.Unpack(data)
		if err != nil || len(values) != 2 {
			continue
		}
		if reason, ok := values[1].([]byte); ok && len(reason) > 0 {
			return reason
		}
	}
	return nil
}

func hexDecode(value string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(value, "0x"))
}
