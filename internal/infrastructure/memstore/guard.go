package memstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// DeployGuard serializes first-time smart-account deployments in memory.
type DeployGuard struct {
	mu      sync.Mutex
	holders map[string]string
}

func NewDeployGuard() *DeployGuard {
	return &DeployGuard{holders: make(map[string]string)}
}

func guardEntryKey(chainID uint64, account string) string {
	return fmt.Sprintf("%d:%s", chainID, strings.ToLower(account))
}

func (g *DeployGuard) Acquire(_ context.Context, chainID uint64, account, transactionID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := guardEntryKey(chainID, account)
	if _, held := g.holders[key]; held {
		return false, nil
	}
	g.holders[key] = transactionID
	return true, nil
}

func (g *DeployGuard) Holder(_ context.Context, chainID uint64, account string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.holders[guardEntryKey(chainID, account)], nil
}

func (g *DeployGuard) Release(_ context.Context, chainID uint64, account string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.holders, guardEntryKey(chainID, account))
	return nil
}
