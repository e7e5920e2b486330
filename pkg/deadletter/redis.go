package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	jqerrors "github.com/vnykmshr/joinq/pkg/common/errors"
	"github.com/vnykmshr/joinq/pkg/common/validation"
)

// DefaultKey is the Redis list used when RedisConfig.Key is empty.
const DefaultKey = "joinq:deadletter"

// RedisConfig holds configuration for a Redis-backed sink.
type RedisConfig struct {
	// Client is the Redis connection. Required.
	Client redis.UniversalClient

	// Key is the Redis list entries are pushed to.
	Key string

	// MaxLen trims the list to the newest MaxLen entries. Defaults to 10000.
	MaxLen int64

	// TTL expires the whole list after the last write. Zero keeps it forever.
	TTL time.Duration

	// Timeout bounds each Redis round trip. Defaults to 500ms.
	Timeout time.Duration
}

// Redis pushes entries as JSON onto a Redis list, newest at the head.
type Redis struct {
	config RedisConfig
}

// NewRedis creates a Redis sink. It does not contact Redis.
func NewRedis(config RedisConfig) (*Redis, error) {
	if config.Client == nil {
		return nil, validation.ValidateNotNil("deadletter", "client", nil)
	}
	if config.Key == "" {
		config.Key = DefaultKey
	}
	if config.MaxLen == 0 {
		config.MaxLen = 10000
	}
	if config.MaxLen < 0 {
		return nil, jqerrors.NewValidationError("deadletter", "maxLen", config.MaxLen, "cannot be negative").
			WithHint("use 0 for the default of 10000")
	}
	if err := validation.ValidateNonNegativeDuration("deadletter", "ttl", config.TTL); err != nil {
		return nil, err
	}
	if config.Timeout <= 0 {
		config.Timeout = 500 * time.Millisecond
	}
	return &Redis{config: config}, nil
}

// Key returns the Redis list key.
func (r *Redis) Key() string {
	return r.config.Key
}

// Send pushes entry and trims the list in one pipeline.
func (r *Redis) Send(ctx context.Context, entry Entry) error {
	data, err := marshalEntry(entry)
	if err != nil {
		return jqerrors.NewOperationError("deadletter", "Send", err).WithContext("item " + entry.ItemID)
	}

	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	pipe := r.config.Client.TxPipeline()
	pipe.LPush(ctx, r.config.Key, data)
	pipe.LTrim(ctx, r.config.Key, 0, r.config.MaxLen-1)
	if r.config.TTL > 0 {
		pipe.Expire(ctx, r.config.Key, r.config.TTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return jqerrors.NewOperationError("deadletter", "Send", err).WithContext("key " + r.config.Key)
	}
	return nil
}

// Entries reads back every entry, newest first. Payloads come back as
// decoded JSON values.
func (r *Redis) Entries(ctx context.Context) ([]Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	raw, err := r.config.Client.LRange(ctx, r.config.Key, 0, -1).Result()
	if err != nil {
		return nil, jqerrors.NewOperationError("deadletter", "Entries", err).WithContext("key " + r.config.Key)
	}

	entries := make([]Entry, 0, len(raw))
	for _, s := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(s), &e); err != nil {
			return nil, jqerrors.NewOperationError("deadletter", "Entries", err).WithContext("key " + r.config.Key)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// marshalEntry encodes entry, falling back to the payload's %v form when the
// payload itself is not JSON-encodable.
func marshalEntry(entry Entry) ([]byte, error) {
	data, err := json.Marshal(entry)
	if err == nil {
		return data, nil
	}
	entry.Payload = fmt.Sprintf("%v", entry.Payload)
	return json.Marshal(entry)
}
