package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// The lease is renewed once per processed record. The TTL must outlast the
// longest gap between renewals: a send held to the provider's 30s timeout,
// the checkpoint retry backoff, and an inter-send delay of up to 55s.
const defaultLeaseTTL = 120 * time.Second

// renewScript extends the lease only while this owner still holds it.
var renewScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// releaseScript deletes the lease only while this owner still holds it.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// CampaignLease is the single-owner guard for a campaign run. Two runner
// instances must never process the same campaign id concurrently; the lease
// makes the second Acquire fail, and losing the lease mid-run pauses the
// runner before the checkpoint store's version check would have to catch
// the double-writer.
type CampaignLease struct {
	client *goredis.Client
	owner  string
	ttl    time.Duration
}

func NewCampaignLease(client *goredis.Client, ttl time.Duration) (*CampaignLease, error) {
	return newCampaignLease(client, uuid.NewString(), ttl)
}

func newCampaignLease(client *goredis.Client, owner string, ttl time.Duration) (*CampaignLease, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if strings.TrimSpace(owner) == "" {
		return nil, fmt.Errorf("lease owner is required")
	}
	if ttl <= 0 {
		ttl = defaultLeaseTTL
	}

	return &CampaignLease{
		client: client,
		owner:  owner,
		ttl:    ttl,
	}, nil
}

func (l *CampaignLease) Acquire(ctx context.Context, campaignID string) (bool, error) {
	if l == nil || l.client == nil {
		return false, fmt.Errorf("lease is not initialized")
	}
	key, err := leaseKey(campaignID)
	if err != nil {
		return false, err
	}

	ok, err := l.client.SetNX(ctx, key, l.owner, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire campaign lease: %w", err)
	}
	return ok, nil
}

// Renew extends the lease TTL. Returns false when another owner holds the
// lease or it expired, in which case the caller must stop processing.
func (l *CampaignLease) Renew(ctx context.Context, campaignID string) (bool, error) {
	if l == nil || l.client == nil {
		return false, fmt.Errorf("lease is not initialized")
	}
	key, err := leaseKey(campaignID)
	if err != nil {
		return false, err
	}

	result, err := renewScript.Run(ctx, l.client, []string{key}, l.owner, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to renew campaign lease: %w", err)
	}
	return result == 1, nil
}

func (l *CampaignLease) Release(ctx context.Context, campaignID string) error {
	if l == nil || l.client == nil {
		return fmt.Errorf("lease is not initialized")
	}
	key, err := leaseKey(campaignID)
	if err != nil {
		return err
	}

	if _, err := releaseScript.Run(ctx, l.client, []string{key}, l.owner).Int(); err != nil {
		return fmt.Errorf("failed to release campaign lease: %w", err)
	}
	return nil
}

func leaseKey(campaignID string) (string, error) {
	campaignID = strings.TrimSpace(campaignID)
	if campaignID == "" {
		return "", fmt.Errorf("campaign id is required")
	}
	return fmt.Sprintf("campaign:lease:%s", campaignID), nil
}
