package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/Meridian-Network/rewards_core/pkg/logger"
)

const (
	channelLevelChanged       = "rewards.level_changed"
	channelCommissionCredited = "rewards.commission_credited"

	publishTimeout = 2 * time.Second
)

// RedisPublisher publishes hook events on Redis pub/sub channels. Each
// publish runs in its own goroutine so a slow or unreachable Redis never
// blocks the caller; failures are logged and swallowed because the
// triggering operation has already committed.
type RedisPublisher struct {
	client *redis.Client
	log    *logger.Logger
}

var _ Hooks = (*RedisPublisher)(nil)

// NewRedisPublisher wraps an existing Redis client.
func NewRedisPublisher(client *redis.Client, log *logger.Logger) *RedisPublisher {
	if log == nil {
		log = logger.NewDefault("notify")
	}
	return &RedisPublisher{client: client, log: log}
}

type levelChangedEvent struct {
	UserID   string `json:"user_id"`
	OldLevel string `json:"old_level"`
	NewLevel string `json:"new_level"`
	At       string `json:"at"`
}

type commissionCreditedEvent struct {
	UserID string `json:"user_id"`
	Amount int64  `json:"amount"`
	Depth  int    `json:"depth"`
	At     string `json:"at"`
}

func (p *RedisPublisher) LevelChanged(ctx context.Context, userID, oldLevel, newLevel string) {
	go p.publish(ctx, channelLevelChanged, levelChangedEvent{
		UserID:   userID,
		OldLevel: oldLevel,
		NewLevel: newLevel,
		At:       time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (p *RedisPublisher) CommissionCredited(ctx context.Context, userID string, amount int64, depth int) {
	go p.publish(ctx, channelCommissionCredited, commissionCreditedEvent{
		UserID: userID,
		Amount: amount,
		Depth:  depth,
		At:     time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (p *RedisPublisher) publish(ctx context.Context, channel string, event interface{}) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.log.WithError(err).WithField("channel", channel).Warn("encode notify event")
		return
	}

	// detach from the caller's deadline; the operation already committed
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := p.client.Publish(pubCtx, channel, payload).Err(); err != nil {
		p.log.WithError(err).WithField("channel", channel).Warn("publish notify event")
	}
}
