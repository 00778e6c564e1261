package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/thirdweb-dev/engine-sub003/internal/domain"
)

// guardTTL bounds how long a deployment claim can outlive its owner. A
// crashed confirm worker must not block an account forever.
const guardTTL = 30 * time.Minute

// DeployGuard is the short-lived distributed flag that serializes first-time
// smart-account deployments. The claim value is the owning transaction id.
type DeployGuard struct {
	client *redis.Client
}

func NewDeployGuard(client *redis.Client) *DeployGuard {
	return &DeployGuard{client: client}
}

func guardKey(chainID uint64, account string) string {
	return fmt.Sprintf("%s:deploying:%d:%s", keyPrefix, chainID, strings.ToLower(account))
}

func (g *DeployGuard) Acquire(ctx context.Context, chainID uint64, account, transactionID string) (bool, error) {
	claimed, err := g.client.SetNX(ctx, guardKey(chainID, account), transactionID, guardTTL).Result()
	if err != nil {
		return false, guardError("acquire deploy guard", err)
	}
	return claimed, nil
}

func (g *DeployGuard) Holder(ctx context.Context, chainID uint64, account string) (string, error) {
	holder, err := g.client.Get(ctx, guardKey(chainID, account)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", guardError("read deploy guard", err)
	}
	return holder, nil
}

func (g *DeployGuard) Release(ctx context.Context, chainID uint64, account string) error {
	if err := g.client.Del(ctx, guardKey(chainID, account)).Err(); err != nil {
		return guardError("release deploy guard", err)
	}
	return nil
}

func guardError(op string, err error) error {
	return domain.NewError(domain.ErrorKindNonceStore, domain.CodeUnknownStoreError, op, err)
}
