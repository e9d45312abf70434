package queue

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"
	"github.com/pydea-rs/tayadex-backend/pkg/errors"
)

// RedisQueue keeps items in a Redis list so they survive restarts.
// Items are pushed on the left and popped from the right.
type RedisQueue struct {
	client *redis.Client
	key    string
}

func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	return &RedisQueue{client: client, key: key}
}

func (q *RedisQueue) Enqueue(ctx context.Context, item *WorkItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return errors.New(errors.ErrQueue, "序列化队列任务失败", err)
	}
	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		return errors.New(errors.ErrQueue, "写入队列失败", err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (*WorkItem, error) {
	data, err := q.client.RPop(ctx, q.key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.New(errors.ErrQueue, "读取队列失败", err)
	}

	var item WorkItem
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, errors.New(errors.ErrQueue, "反序列化队列任务失败", err)
	}
	return &item, nil
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, errors.New(errors.ErrQueue, "获取队列长度失败", err)
	}
	return n, nil
}
