package hintstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/anthanhphan/go-distributed-kv/internal/node/domain"
	"github.com/anthanhphan/go-distributed-kv/internal/node/port"
	"github.com/anthanhphan/gosdk/logger"
	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "hints"

var _ port.HintStore = (*RedisStore)(nil)

// deleteScript removes acknowledged hints and drops the target from the
// pending set once its hash is empty, atomically with respect to Add.
var deleteScript = redis.NewScript(`
for i = 2, #ARGV do
	redis.call('HDEL', KEYS[1], ARGV[i])
end
if redis.call('HLEN', KEYS[1]) == 0 then
	redis.call('SREM', KEYS[2], ARGV[1])
end
return 0
`)

// RedisStore keeps one hash per target host (field = hint ID) plus a set of
// hosts with pending hints.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) hashKey(target string) string {
	return s.prefix + ":" + target
}

func (s *RedisStore) targetsKey() string {
	return s.prefix + ":_targets"
}

func (s *RedisStore) Add(ctx context.Context, h domain.Hint) error {
	data, err := json.Marshal(h)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.hashKey(h.Target.Host), strconv.FormatInt(h.ID, 10), data)
		pipe.SAdd(ctx, s.targetsKey(), h.Target.Host)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store hint for %s: %w", h.Target.Host, err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context, target string) ([]domain.Hint, error) {
	fields, err := s.client.HGetAll(ctx, s.hashKey(target)).Result()
	if err != nil {
		return nil, fmt.Errorf("list hints for %s: %w", target, err)
	}
	out := make([]domain.Hint, 0, len(fields))
	for field, raw := range fields {
		var h domain.Hint
		if err := json.Unmarshal([]byte(raw), &h); err != nil {
			logger.Warnw("Skipping undecodable hint", "target", target, "field", field, "error", err.Error())
			continue
		}
		out = append(out, h)
	}
	sortByID(out)
	return out, nil
}

func (s *RedisStore) Delete(ctx context.Context, target string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, target)
	for _, id := range ids {
		args = append(args, strconv.FormatInt(id, 10))
	}
	if err := deleteScript.Run(ctx, s.client, []string{s.hashKey(target), s.targetsKey()}, args...).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("delete hints for %s: %w", target, err)
	}
	return nil
}

func (s *RedisStore) Targets(ctx context.Context) ([]string, error) {
	hosts, err := s.client.SMembers(ctx, s.targetsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list hint targets: %w", err)
	}
	sort.Strings(hosts)
	return hosts, nil
}
