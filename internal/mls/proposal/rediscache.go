package proposal

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kindlyrobotics/mlsengine/internal/mlserrors"
)

// RedisCache is an alternate Cache backend for deployments where the
// delivery service fans proposals out to multiple group-state-owner
// processes: every Put sets a TTL-bound key so proposals a commit
// never arrives to consume are reclaimed automatically, mirroring the
// typing-indicator TTL-key pattern in internal/messaging/messaging.go
// ("typing:<conversation>:<user>" set with a few seconds' TTL).
//
// Ordering is tracked with a Redis list alongside the hash entries
// since a plain SCAN over keys has no arrival order; that is exactly
// what the in-process MemoryCache's ordered slice gives for free, and
// is the reason RedisCache exists only as an alternate, not the
// default.
type RedisCache struct {
	client  *redis.Client
	groupID string
	ttl     time.Duration
}

// NewRedisCache constructs a RedisCache scoped to one group id. ttl
// bounds how long an unreferenced proposal survives before expiring
// out of the cache, matching the epoch's expected lifetime.
func NewRedisCache(client *redis.Client, groupID string, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, groupID: groupID, ttl: ttl}
}

func (c *RedisCache) entryKey(ref Ref) string {
	return fmt.Sprintf("mls:proposal:%s:%s", c.groupID, hex.EncodeToString(ref[:]))
}

func (c *RedisCache) orderKey() string {
	return fmt.Sprintf("mls:proposal-order:%s", c.groupID)
}

func (c *RedisCache) Put(ref Ref, p Proposal) error {
	ctx := context.Background()
	data, err := json.Marshal(wireProposal(p))
	if err != nil {
		return mlserrors.Wrap(mlserrors.CodecError, "marshal proposal", err)
	}
	key := c.entryKey(ref)
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return mlserrors.Wrap(mlserrors.StorageError, "redis set proposal", err)
	}
	if err := c.client.RPush(ctx, c.orderKey(), hex.EncodeToString(ref[:])).Err(); err != nil {
		return mlserrors.Wrap(mlserrors.StorageError, "redis rpush proposal order", err)
	}
	c.client.Expire(ctx, c.orderKey(), c.ttl)
	return nil
}

func (c *RedisCache) Get(ref Ref) (Proposal, bool, error) {
	ctx := context.Background()
	data, err := c.client.Get(ctx, c.entryKey(ref)).Bytes()
	if err == redis.Nil {
		return Proposal{}, false, nil
	}
	if err != nil {
		return Proposal{}, false, mlserrors.Wrap(mlserrors.StorageError, "redis get proposal", err)
	}
	var w wireProposalT
	if err := json.Unmarshal(data, &w); err != nil {
		return Proposal{}, false, mlserrors.Wrap(mlserrors.CodecError, "unmarshal proposal", err)
	}
	return w.toProposal(), true, nil
}

func (c *RedisCache) All() ([]Entry, error) {
	ctx := context.Background()
	refs, err := c.client.LRange(ctx, c.orderKey(), 0, -1).Result()
	if err != nil && err != redis.Nil {
		return nil, mlserrors.Wrap(mlserrors.StorageError, "redis lrange proposal order", err)
	}
	out := make([]Entry, 0, len(refs))
	for _, hexRef := range refs {
		raw, err := hex.DecodeString(hexRef)
		if err != nil || len(raw) != RefSize {
			continue
		}
		var ref Ref
		copy(ref[:], raw)
		p, ok, err := c.Get(ref)
		if err != nil {
			return nil, err
		}
		if !ok {
			// Entry expired out of the hash before the order list did;
			// skip it rather than surfacing a spurious reference.
			continue
		}
		out = append(out, Entry{Ref: ref, Proposal: p})
	}
	return out, nil
}

func (c *RedisCache) Clear() error {
	ctx := context.Background()
	all, err := c.client.LRange(ctx, c.orderKey(), 0, -1).Result()
	if err != nil && err != redis.Nil {
		return mlserrors.Wrap(mlserrors.StorageError, "redis lrange for clear", err)
	}
	for _, hexRef := range all {
		c.client.Del(ctx, fmt.Sprintf("mls:proposal:%s:%s", c.groupID, hexRef))
	}
	if err := c.client.Del(ctx, c.orderKey()).Err(); err != nil {
		return mlserrors.Wrap(mlserrors.StorageError, "redis del proposal order", err)
	}
	return nil
}

// wireProposalT is the JSON-friendly projection of Proposal used only
// by RedisCache's transport; the in-process MemoryCache never
// serializes proposals at all.
type wireProposalT struct {
	Type                   Type
	Add                    *Add
	Update                 *Update
	Remove                 *Remove
	PreSharedKey           *PreSharedKey
	ReInit                 *ReInit
	ExternalInit           *ExternalInit
	GroupContextExtensions *GroupContextExtensions
}

func wireProposal(p Proposal) wireProposalT {
	return wireProposalT{
		Type:                   p.Type,
		Add:                    p.Add,
		Update:                 p.Update,
		Remove:                 p.Remove,
		PreSharedKey:           p.PreSharedKey,
		ReInit:                 p.ReInit,
		ExternalInit:           p.ExternalInit,
		GroupContextExtensions: p.GroupContextExtensions,
	}
}

func (w wireProposalT) toProposal() Proposal {
	return Proposal{
		Type:                   w.Type,
		Add:                    w.Add,
		Update:                 w.Update,
		Remove:                 w.Remove,
		PreSharedKey:           w.PreSharedKey,
		ReInit:                 w.ReInit,
		ExternalInit:           w.ExternalInit,
		GroupContextExtensions: w.GroupContextExtensions,
	}
}
