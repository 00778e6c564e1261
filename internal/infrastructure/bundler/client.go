// Package bundler talks JSON-RPC to per-chain node and bundler endpoints:
// deployment checks against the node, user-operation submission and receipt
// polling against the bundler.
package bundler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/thirdweb-dev/engine-sub003/internal/domain"
)

// ChainResolver supplies the endpoints for a chain id.
type ChainResolver interface {
	Chain(chainID uint64) (domain.ChainInfo, error)
}

type Client struct {
	chains     ChainResolver
	httpClient *http.Client
	idCounter  uint64
}

func NewClient(chains ChainResolver) (*Client, error) {
	if chains == nil {
		return nil, errors.New("chain resolver is required")
	}
	return &Client{
		chains:     chains,
		httpClient: &http.Client{},
	}, nil
}

func (c *Client) IsDeployed(ctx context.Context, chainID uint64, address string) (bool, error) {
	chain, err := c.chains.Chain(chainID)
	if err != nil {
		return false, err
	}
	var code string
	if err := c.call(ctx, chain.RPCURL, "eth_getCode", []any{address, "latest"}, &code); err != nil {
		return false, err
	}
	return code != "" && code != "0x", nil
}

func (c *Client) SendUserOperation(ctx context.Context, chainID uint64, op *domain.UserOperation, entrypoint string) (string, error) {
	chain, err := c.chains.Chain(chainID)
	if err != nil {
		return "", err
	}
	var userOpHash string
	if err := c.call(ctx, chain.BundlerURL, "eth_sendUserOperation", []any{op, entrypoint}, &userOpHash); err != nil {
		return "", err
	}
	if userOpHash == "" {
		return "", errors.New("bundler returned empty user operation hash")
	}
	return userOpHash, nil
}

func (c *Client) GetUserOperationReceipt(ctx context.Context, chainID uint64, userOpHash string) (domain.UserOpReceipt, bool, error) {
	chain, err := c.chains.Chain(chainID)
	if err != nil {
		return domain.UserOpReceipt{}, false, err
	}
	var raw *rpcUserOpReceipt
	if err := c.call(ctx, chain.BundlerURL, "eth_getUserOperationReceipt", []any{userOpHash}, &raw); err != nil {
		return domain.UserOpReceipt{}, false, err
	}
	if raw == nil {
		return domain.UserOpReceipt{}, false, nil
	}
	receipt, err := raw.toDomain()
	if err != nil {
		return domain.UserOpReceipt{}, false, err
	}
	return receipt, true, nil
}

// rpcUserOpReceipt is the bundler's wire shape; quantities arrive as hex
// strings and the inner receipt carries the inclusion details.
type rpcUserOpReceipt struct {
	UserOpHash    string             `json:"userOpHash"`
	Sender        string             `json:"sender"`
	Nonce         string             `json:"nonce"`
	ActualGasUsed string             `json:"actualGasUsed"`
	ActualGasCost string             `json:"actualGasCost"`
	Success       bool               `json:"success"`
	Reason        string             `json:"reason"`
	Logs          []domain.EventLog  `json:"logs"`
	Receipt       rpcInnerTxnReceipt `json:"receipt"`
}

type rpcInnerTxnReceipt struct {
	TransactionHash string `json:"transactionHash"`
	BlockNumber     string `json:"blockNumber"`
}

func (r *rpcUserOpReceipt) toDomain() (domain.UserOpReceipt, error) {
	nonce, err := parseHexUint(r.Nonce)
	if err != nil {
		return domain.UserOpReceipt{}, fmt.Errorf("receipt nonce: %w", err)
	}
	gasUsed, err := parseHexUint(r.ActualGasUsed)
	if err != nil {
		return domain.UserOpReceipt{}, fmt.Errorf("receipt gas used: %w", err)
	}
	blockNumber, err := parseHexUint(r.Receipt.BlockNumber)
	if err != nil {
		return domain.UserOpReceipt{}, fmt.Errorf("receipt block number: %w", err)
	}
	gasCost, err := parseHexBig(r.ActualGasCost)
	if err != nil {
		return domain.UserOpReceipt{}, fmt.Errorf("receipt gas cost: %w", err)
	}
	return domain.UserOpReceipt{
		UserOpHash:      r.UserOpHash,
		TransactionHash: r.Receipt.TransactionHash,
		BlockNumber:     blockNumber,
		Nonce:           nonce,
		GasUsed:         gasUsed,
		GasCost:         gasCost,
		Success:         r.Success,
		RevertData:      r.Reason,
		Logs:            r.Logs,
	}, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *Client) call(ctx context.Context, url, method string, params []any, result any) error {
	if url == "" {
		return fmt.Errorf("no endpoint configured for %s", method)
	}
	id := atomic.AddUint64(&c.idCounter, 1)
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("rpc status %d", resp.StatusCode)
	}

	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return err
	}
	if decoded.Error != nil {
		return fmt.Errorf("rpc error %d: %s", decoded.Error.Code, decoded.Error.Message)
	}
	if result == nil {
		return nil
	}
	if len(decoded.Result) == 0 {
		return errors.New("rpc result is empty")
	}
	return json.Unmarshal(decoded.Result, result)
}

func parseHexUint(value string) (uint64, error) {
	trimmed := strings.TrimPrefix(value, "0x")
	if trimmed == "" {
		return 0, errors.New("empty hex value")
	}
	return strconv.ParseUint(trimmed, 16, 64)
}

func parseHexBig(value string) (*big.Int, error) {
	trimmed := strings.TrimPrefix(value, "0x")
	if trimmed == "" {
		return nil, errors.New("empty hex value")
	}
	parsed, ok := new(big.Int).SetString(trimmed, 16)
	if !ok {
		return nil, fmt.Errorf("malformed hex quantity %q", value)
	}
	return parsed, nil
}
