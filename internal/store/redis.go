package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/hospital-transfers/internal/apperr"
)

// Redis keeps each record in a hash (rec:<path>) whose fields hold JSON
// values, and each collection in a set (col:<path>) of child keys. Every
// write publishes on chg:<path> for the path and all of its ancestors.
type Redis struct {
	client *redis.Client
	log    *zap.Logger
}

func NewRedis(client *redis.Client, log *zap.Logger) *Redis {
	return &Redis{client: client, log: log}
}

func recordKey(path string) string     { return "rec:" + path }
func collectionKey(path string) string { return "col:" + path }
func changeChannel(path string) string { return "chg:" + path }

func (r *Redis) Read(ctx context.Context, path string) (Snapshot, error) {
	if err := checkPath(path); err != nil {
		return Snapshot{}, err
	}

	hash, err := r.client.HGetAll(ctx, recordKey(path)).Result()
	if err != nil {
		return Snapshot{}, apperr.Store("read "+path, err)
	}
	if len(hash) > 0 {
		return recordSnapshot(path, rawFields(hash)), nil
	}

	keys, err := r.client.SMembers(ctx, collectionKey(path)).Result()
	if err != nil {
		return Snapshot{}, apperr.Store("read "+path, err)
	}
	if len(keys) == 0 {
		return Snapshot{Path: path}, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.HGetAll(ctx, recordKey(path+"/"+key))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return Snapshot{}, apperr.Store("read "+path, err)
	}

	children := make(map[string]map[string]json.RawMessage, len(keys))
	for i, key := range keys {
		hash := cmds[i].Val()
		if len(hash) == 0 {
			continue
		}
		children[key] = rawFields(hash)
	}
	return collectionSnapshot(path, children), nil
}

func (r *Redis) Write(ctx context.Context, path string, value any) error {
	if err := checkPath(path); err != nil {
		return err
	}
	fields, err := encodeRecord(value)
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, recordKey(path))
		pipe.HSet(ctx, recordKey(path), hashValues(fields))
		r.link(ctx, pipe, path)
		return nil
	})
	if err != nil {
		return apperr.Store("write "+path, err)
	}
	return r.publish(ctx, path)
}

func (r *Redis) Merge(ctx context.Context, path string, partial map[string]any) error {
	if err := checkPath(path); err != nil {
		return err
	}
	fields, err := encodePartial(partial)
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, recordKey(path), hashValues(fields))
		r.link(ctx, pipe, path)
		return nil
	})
	if err != nil {
		return apperr.Store("merge "+path, err)
	}
	return r.publish(ctx, path)
}

var mergeIfScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
if redis.call("HGET", KEYS[1], ARGV[1]) ~= ARGV[2] then
  return 0
end
for i = 3, #ARGV, 2 do
  redis.call("HSET", KEYS[1], ARGV[i], ARGV[i + 1])
end
return 1
`)

func (r *Redis) MergeIf(ctx context.Context, path, field string, expected any, partial map[string]any) error {
	if err := checkPath(path); err != nil {
		return err
	}
	want, err := json.Marshal(expected)
	if err != nil {
		return err
	}
	fields, err := encodePartial(partial)
	if err != nil {
		return err
	}

	args := []any{field, string(want)}
	for k, v := range fields {
		args = append(args, k, string(v))
	}

	res, err := mergeIfScript.Run(ctx, r.client, []string{recordKey(path)}, args...).Int()
	if err != nil {
		return apperr.Store("conditional merge "+path, err)
	}
	switch res {
	case -1:
		return apperr.NotFound("record %s", path)
	case 0:
		return ErrPreconditionFailed
	}
	return r.publish(ctx, path)
}

func (r *Redis) Append(ctx context.Context, path string, value any) (string, error) {
	if err := checkPath(path); err != nil {
		return "", err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return "", apperr.Store("generate id", err)
	}
	key := id.String()
	if err := r.Write(ctx, path+"/"+key, value); err != nil {
		return "", err
	}
	return key, nil
}

func (r *Redis) Delete(ctx context.Context, path string) error {
	if err := checkPath(path); err != nil {
		return err
	}

	keys, err := r.client.SMembers(ctx, collectionKey(path)).Result()
	if err != nil {
		return apperr.Store("delete "+path, err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, recordKey(path))
		for _, key := range keys {
			pipe.Del(ctx, recordKey(path+"/"+key))
		}
		pipe.Del(ctx, collectionKey(path))
		if parent, key := split(path); parent != "" {
			pipe.SRem(ctx, collectionKey(parent), key)
		}
		return nil
	})
	if err != nil {
		return apperr.Store("delete "+path, err)
	}
	return r.publish(ctx, path)
}

func (r *Redis) Subscribe(ctx context.Context, path string, fn func(Snapshot)) (Subscription, error) {
	if err := checkPath(path); err != nil {
		return nil, err
	}

	ps := r.client.Subscribe(ctx, changeChannel(path))
	// Wait for the subscription to be confirmed so no write after the
	// initial read can be missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, apperr.Store("subscribe "+path, err)
	}

	snap, err := r.Read(ctx, path)
	if err != nil {
		_ = ps.Close()
		return nil, err
	}
	fn(snap)

	subCtx, cancel := context.WithCancel(ctx)
	sub := &redisSubscription{ps: ps, cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(sub.done)
		ch := ps.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				// Coalesce bursts: one re-read covers every queued change.
				for len(ch) > 0 {
					<-ch
				}
				snap, err := r.Read(subCtx, path)
				if err != nil {
					if subCtx.Err() != nil {
						return
					}
					r.log.Warn("subscription read failed", zap.String("path", path), zap.Error(err))
					continue
				}
				fn(snap)
			}
		}
	}()

	return sub, nil
}

func (r *Redis) link(ctx context.Context, pipe redis.Pipeliner, path string) {
	if parent, key := split(path); parent != "" {
		pipe.SAdd(ctx, collectionKey(parent), key)
	}
}

func (r *Redis) publish(ctx context.Context, path string) error {
	pipe := r.client.Pipeline()
	for _, p := range lineage(path) {
		pipe.Publish(ctx, changeChannel(p), path)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return apperr.Store("publish change "+path, err)
	}
	return nil
}

type redisSubscription struct {
	ps     *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *redisSubscription) Close() {
	s.once.Do(func() {
		s.cancel()
		_ = s.ps.Close()
		<-s.done
	})
}

func rawFields(hash map[string]string) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(hash))
	for k, v := range hash {
		out[k] = json.RawMessage(v)
	}
	return out
}

func hashValues(fields map[string]json.RawMessage) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = string(v)
	}
	return out
}
