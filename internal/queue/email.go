package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/neurolancer/backend/internal/logger"
)

const (
	OutboxKey    = "neurolancer:email:outbox"
	digestPrefix = "neurolancer:email:digest:"
)

// Email письмо, которое заберёт внешний отправщик.
type Email struct {
	UserID    uuid.UUID `json:"user_id"`
	To        string    `json:"to"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Category  string    `json:"category"`
	CreatedAt time.Time `json:"created_at"`
}

// DigestEntry уведомление, отложенное до ежедневной или еженедельной сводки.
type DigestEntry struct {
	UserID    uuid.UUID `json:"user_id"`
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// DigestKey имя списка сводки для частоты.
func DigestKey(frequency string) string {
	return digestPrefix + frequency
}

// RedisOutbox кладёт письма в Redis-список, откуда их читает почтовый воркер.
type RedisOutbox struct {
	rdb redis.UniversalClient
}

// NewRedisOutbox создаёт очередь писем поверх Redis.
func NewRedisOutbox(rdb redis.UniversalClient) *RedisOutbox {
	return &RedisOutbox{rdb: rdb}
}

// Enqueue добавляет письмо в очередь.
func (o *RedisOutbox) Enqueue(ctx context.Context, email Email) error {
	b, err := json.Marshal(email)
	if err != nil {
		return fmt.Errorf("queue: marshal email: %w", err)
	}
	if err := o.rdb.LPush(ctx, OutboxKey, b).Err(); err != nil {
		return fmt.Errorf("queue: enqueue email: %w", err)
	}
	return nil
}

// AddToDigest откладывает уведомление в сводку.
func (o *RedisOutbox) AddToDigest(ctx context.Context, frequency string, entry DigestEntry) error {
	b, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("queue: marshal digest entry: %w", err)
	}
	if err := o.rdb.RPush(ctx, DigestKey(frequency), b).Err(); err != nil {
		return fmt.Errorf("queue: push digest: %w", err)
	}
	return nil
}

// DrainDigest атомарно забирает и очищает сводку.
func (o *RedisOutbox) DrainDigest(ctx context.Context, frequency string) ([]DigestEntry, error) {
	key := DigestKey(frequency)

	var items *redis.StringSliceCmd
	_, err := o.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		items = pipe.LRange(ctx, key, 0, -1)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("queue: drain digest: %w", err)
	}

	raw, err := items.Result()
	if err != nil {
		return nil, fmt.Errorf("queue: drain digest: %w", err)
	}

	entries := make([]DigestEntry, 0, len(raw))
	for _, item := range raw {
		var entry DigestEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			logger.Log.WithError(err).WithField("key", key).Warn("queue: пропущена повреждённая запись сводки")
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// MemoryOutbox хранит письма в памяти и пишет их в лог. Используется без Redis.
type MemoryOutbox struct {
	mu      sync.Mutex
	sent    []Email
	digests map[string][]DigestEntry
}

// NewMemoryOutbox создаёт очередь в памяти.
func NewMemoryOutbox() *MemoryOutbox {
	return &MemoryOutbox{digests: make(map[string][]DigestEntry)}
}

// Enqueue запоминает письмо и пишет его в лог.
func (o *MemoryOutbox) Enqueue(_ context.Context, email Email) error {
	o.mu.Lock()
	o.sent = append(o.sent, email)
	o.mu.Unlock()

	logger.Log.WithFields(logrus.Fields{
		"to":       email.To,
		"subject":  email.Subject,
		"category": email.Category,
	}).Info("email поставлен в очередь")
	return nil
}

// AddToDigest откладывает уведомление в сводку.
func (o *MemoryOutbox) AddToDigest(_ context.Context, frequency string, entry DigestEntry) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.digests[frequency] = append(o.digests[frequency], entry)
	return nil
}

// DrainDigest забирает и очищает сводку.
func (o *MemoryOutbox) DrainDigest(_ context.Context, frequency string) ([]DigestEntry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	entries := o.digests[frequency]
	delete(o.digests, frequency)
	return entries, nil
}

// Sent возвращает копию отправленных писем.
func (o *MemoryOutbox) Sent() []Email {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Email, len(o.sent))
	copy(out, o.sent)
	return out
}
