// Package signer provides key custody backends. LocalSigner keeps raw
// private keys in process memory, keyed by their derived address; it is the
// backend for development and self-hosted deployments.
package signer

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/thirdweb-dev/engine-sub003/internal/domain"
)

// ChainResolver supplies the node endpoint for raw-transaction broadcast.
type ChainResolver interface {
	Chain(chainID uint64) (domain.ChainInfo, error)
}

type LocalSigner struct {
	keys       map[string]*ecdsa.PrivateKey
	chains     ChainResolver
	httpClient *http.Client
	idCounter  uint64
}

// NewLocalSigner derives an address for each hex-encoded private key and
// indexes the keys by it. Addresses are matched case-insensitively.
func NewLocalSigner(hexKeys []string, chains ChainResolver) (*LocalSigner, error) {
	keys := make(map[string]*ecdsa.PrivateKey, len(hexKeys))
	for _, hexKey := range hexKeys {
		trimmed := strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
		if trimmed == "" {
			continue
		}
		key, err := crypto.HexToECDSA(trimmed)
		if err != nil {
			return nil, fmt.Errorf("parse signer key: %w", err)
		}
		address := strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex())
		keys[address] = key
	}
	return &LocalSigner{
		keys:       keys,
		chains:     chains,
		httpClient: &http.Client{},
	}, nil
}

func (s *LocalSigner) key(signer string) (*ecdsa.PrivateKey, error) {
	key, ok := s.keys[strings.ToLower(signer)]
	if !ok {
		return nil, domain.NewError(domain.ErrorKindAccount, domain.CodeAccountNotFound,
			"no key held for signer "+signer, nil)
	}
	return key, nil
}

// SignMessage signs per EIP-191 personal-message rules, which is what
// smart-account validation expects for a user-operation hash.
func (s *LocalSigner) SignMessage(_ context.Context, signer string, message []byte) ([]byte, error) {
	key, err := s.key(signer)
	if err != nil {
		return nil, err
	}
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	digest := crypto.Keccak256([]byte(prefixed))
	signature, err := crypto.Sign(digest, key)
	if err != nil {
		return nil, err
	}
	// Recovery id to the 27/28 convention contracts check against.
	signature[64] += 27
	return signature, nil
}

func (s *LocalSigner) SignTransaction(_ context.Context, signer string, rawTx []byte) ([]byte, error) {
	key, err := s.key(signer)
	if err != nil {
		return nil, err
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(rawTx); err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(tx.ChainId()), key)
	if err != nil {
		return nil, err
	}
	return signed.MarshalBinary()
}

func (s *LocalSigner) SignTypedData(_ context.Context, signer string, typedData []byte) ([]byte, error) {
	key, err := s.key(signer)
	if err != nil {
		return nil, err
	}
	var parsed apitypes.TypedData
	if err := json.Unmarshal(typedData, &parsed); err != nil {
		return nil, fmt.Errorf("decode typed data: %w", err)
	}
	digest, _, err := apitypes.TypedDataAndHash(parsed)
	if err != nil {
		return nil, err
	}
	signature, err := crypto.Sign(digest, key)
	if err != nil {
		return nil, err
	}
	signature[64] += 27
	return signature, nil
}

func (s *LocalSigner) SendRawTransaction(ctx context.Context, chainID uint64, rawTx []byte) (string, error) {
	if s.chains == nil {
		return "", errors.New("no chain resolver configured for broadcast")
	}
	chain, err := s.chains.Chain(chainID)
	if err != nil {
		return "", err
	}
	var txHash string
	if err := s.call(ctx, chain.RPCURL, "eth_sendRawTransaction",
		[]any{hexutil.Encode(rawTx)}, &txHash); err != nil {
		return "", err
	}
	return txHash, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *LocalSigner) call(ctx context.Context, url, method string, params []any, result any) error {
	if url == "" {
		return fmt.Errorf("no endpoint configured for %s", method)
	}
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      atomic.AddUint64(&s.idCounter, 1),
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
	resp, err := s.httpClient.Do(req)
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
	if len(decoded.Result) == 0 {
		return errors.New("rpc result is empty")
	}
	return json.Unmarshal(decoded.Result, result)
}
