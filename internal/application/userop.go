package application

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/thirdweb-dev/engine-sub003/internal/domain"
)

const accountABIJSON = `[
	{"type":"function","name":"execute","inputs":[
		{"name":"target","type":"address"},
		{"name":"value","type":"uint256"},
		{"name":"calldata","type":"bytes"}]},
	{"type":"function","name":"executeBatch","inputs":[
		{"name":"targets","type":"address[]"},
		{"name":"values","type":"uint256[]"},
		{"name":"calldatas","type":"bytes[]"}]}
]`

const factoryABIJSON = `[
	{"type":"function","name":"createAccount","inputs":[
		{"name":"admin","type":"address"},
		{"name":"data","type":"bytes"}],
	 "outputs":[{"name":"account","type":"address"}]}
]`

// Default gas settings for built operations. The bundler re-estimates during
// simulation; these only need to be generous enough to pass admission.
var (
	defaultCallGasLimit         = big.NewInt(600_000)
	defaultVerificationGasLimit = big.NewInt(500_000)
	defaultPreVerificationGas   = big.NewInt(100_000)
	defaultMaxFeePerGas         = big.NewInt(30_000_000_000) // 30 gwei
	defaultMaxPriorityFee       = big.NewInt(1_000_000_000)  // 1 gwei
)

// UserOpBuilder assembles and hashes ERC-4337 user operations for a resolved
// smart account.
type UserOpBuilder struct {
	accountABI abi.ABI
	factoryABI abi.ABI
}

func NewUserOpBuilder() (*UserOpBuilder, error) {
	accountABI, err := abi.JSON(strings.NewReader(accountABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse account abi: %w", err)
	}
	factoryABI, err := abi.JSON(strings.NewReader(factoryABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse factory abi: %w", err)
	}
	return &UserOpBuilder{accountABI: accountABI, factoryABI: factoryABI}, nil
}

// Build produces an unsigned operation for the batched call set. When the
// account is not yet deployed, initCode carries the factory call that
// deploys it.
func (b *UserOpBuilder) Build(options domain.ExecutionOptions, calls []domain.Call, nonce uint64, deployed bool) (*domain.UserOperation, error) {
	callData, err := b.encodeCalls(calls)
	if err != nil {
		return nil, err
	}

	initCode := "0x"
	if !deployed {
		initCode, err = b.encodeInitCode(options)
		if err != nil {
			return nil, err
		}
	}

	paymasterAndData := "0x"
	if options.SponsorGas {
		// Paymaster payload is attached by the bundler-side sponsorship
		// service; the sponsor-gas flag only opts the operation in.
		paymasterAndData = "0x" + strings.Repeat("00", 20)
	}

	return &domain.UserOperation{
		Sender:               options.SmartAccountAddress,
		Nonce:                hexutil.EncodeUint64(nonce),
		InitCode:             initCode,
		CallData:             callData,
		CallGasLimit:         hexutil.EncodeBig(defaultCallGasLimit),
		VerificationGasLimit: hexutil.EncodeBig(defaultVerificationGasLimit),
		PreVerificationGas:   hexutil.EncodeBig(defaultPreVerificationGas),
		MaxFeePerGas:         hexutil.EncodeBig(defaultMaxFeePerGas),
		MaxPriorityFeePerGas: hexutil.EncodeBig(defaultMaxPriorityFee),
		PaymasterAndData:     paymasterAndData,
		Signature:            "0x",
	}, nil
}

func (b *UserOpBuilder) encodeCalls(calls []domain.Call) (string, error) {
	if len(calls) == 1 {
		call := calls[0]
		data, err := hexDecode(call.Data)
		if err != nil {
			return "", fmt.Errorf("decode calldata: %w", err)
		}
		packed, err := b.accountABI.Pack("execute",
			common.HexToAddress(call.To), valueOrZero(call.Value), data)
		if err != nil {
			return "", fmt.Errorf("pack execute: %w", err)
		}
		return hexutil.Encode(packed), nil
	}

	targets := make([]common.Address, len(calls))
	values := make([]*big.Int, len(calls))
	datas := make([][]byte, len(calls))
	for i, call := range calls {
		data, err := hexDecode(call.Data)
		if err != nil {
			return "", fmt.Errorf("decode calldata %d: %w", i, err)
		}
		targets[i] = common.HexToAddress(call.To)
		values[i] = valueOrZero(call.Value)
		datas[i] = data
	}
	packed, err := b.accountABI.Pack("executeBatch", targets, values, datas)
	if err != nil {
		return "", fmt.Errorf("pack executeBatch: %w", err)
	}
	return hexutil.Encode(packed), nil
}

func (b *UserOpBuilder) encodeInitCode(options domain.ExecutionOptions) (string, error) {
	createCall, err := b.factoryABI.Pack("createAccount",
		common.HexToAddress(options.Signer), []byte(options.Salt))
	if err != nil {
		return "", fmt.Errorf("pack createAccount: %w", err)
	}
	initCode := append(common.HexToAddress(options.Factory).Bytes(), createCall...)
	return hexutil.Encode(initCode), nil
}

var userOpHashArgs = abi.Arguments{
	{Type: mustNewType("bytes32")},
	{Type: mustNewType("address")},
	{Type: mustNewType("uint256")},
}

// Hash computes the canonical user-operation hash the signer signs:
// keccak256(abi.encode(keccak256(packedOp), entrypoint, chainId)).
func (b *UserOpBuilder) Hash(op *domain.UserOperation, entrypoint string, chainID uint64) ([]byte, error) {
	packed, err := packForHashing(op)
	if err != nil {
		return nil, err
	}
	var inner [32]byte
	copy(inner[:], crypto.Keccak256(packed))
	encoded, err := userOpHashArgs.Pack(inner, common.HexToAddress(entrypoint), new(big.Int).SetUint64(chainID))
	if err != nil {
		return nil, fmt.Errorf("pack user op hash: %w", err)
	}
	return crypto.Keccak256(encoded), nil
}

var userOpPackArgs = abi.Arguments{
	{Type: mustNewType("address")}, // sender
	{Type: mustNewType("uint256")}, // nonce
	{Type: mustNewType("bytes32")}, // keccak(initCode)
	{Type: mustNewType("bytes32")}, // keccak(callData)
	{Type: mustNewType("uint256")}, // callGasLimit
	{Type: mustNewType("uint256")}, // verificationGasLimit
	{Type: mustNewType("uint256")}, // preVerificationGas
	{Type: mustNewType("uint256")}, // maxFeePerGas
	{Type: mustNewType("uint256")}, // maxPriorityFeePerGas
	{Type: mustNewType("bytes32")}, // keccak(paymasterAndData)
}

func packForHashing(op *domain.UserOperation) ([]byte, error) {
	nonce, err := hexutil.DecodeBig(op.Nonce)
	if err != nil {
		return nil, fmt.Errorf("decode nonce: %w", err)
	}
	initCode, err := hexDecode(op.InitCode)
	if err != nil {
		return nil, fmt.Errorf("decode initCode: %w", err)
	}
	callData, err := hexDecode(op.CallData)
	if err != nil {
		return nil, fmt.Errorf("decode callData: %w", err)
	}
	paymasterAndData, err := hexDecode(op.PaymasterAndData)
	if err != nil {
		return nil, fmt.Errorf("decode paymasterAndData: %w", err)
	}

	fields := []*big.Int{}
	for _, raw := range []string{op.CallGasLimit, op.VerificationGasLimit, op.PreVerificationGas, op.MaxFeePerGas, op.MaxPriorityFeePerGas} {
		value, err := hexutil.DecodeBig(raw)
		if err != nil {
			return nil, fmt.Errorf("decode gas field %q: %w", raw, err)
		}
		fields = append(fields, value)
	}

	return userOpPackArgs.Pack(
		common.HexToAddress(op.Sender),
		nonce,
		toBytes32(crypto.Keccak256(initCode)),
		toBytes32(crypto.Keccak256(callData)),
		fields[0], fields[1], fields[2], fields[3], fields[4],
		toBytes32(crypto.Keccak256(paymasterAndData)),
	)
}

func toBytes32(data []byte) [32]byte {
	var out [32]byte
	copy(out[:], data)
	return out
}

func valueOrZero(value *big.Int) *big.Int {
	if value == nil {
		return new(big.Int)
	}
	return value
}
