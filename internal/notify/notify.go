// Package notify delivers low-stock events. Delivery is fire-and-forget: failures are
// logged and never reach the stock operation that raised the event.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"invoice-recon/internal/core"
)

const (
	DefaultChannel = "inventory.low_stock"

	EventLowStockRaised       = "low_stock.raised"
	EventLowStockAcknowledged = "low_stock.acknowledged"

	publishTimeout = 2 * time.Second
)

// Event is the JSON payload published for every alert change.
type Event struct {
	Type       string    `json:"type"`
	ItemID     int       `json:"item_id"`
	AlertIDs   []int     `json:"alert_ids"`
	StockLevel string    `json:"stock_level,omitempty"`
	Threshold  string    `json:"threshold,omitempty"`
	Actor      string    `json:"actor,omitempty"`
	At         time.Time `json:"at"`
}

func raisedEvent(a core.LowStockAlert) Event {
	return Event{
		Type:       EventLowStockRaised,
		ItemID:     a.InventoryItemID,
		AlertIDs:   []int{a.ID},
		StockLevel: a.StockLevel.String(),
		Threshold:  a.Threshold.String(),
		At:         a.CreatedAt,
	}
}

func acknowledgedEvent(itemID int, alertIDs []int, actor string) Event {
	return Event{
		Type:     EventLowStockAcknowledged,
		ItemID:   itemID,
		AlertIDs: alertIDs,
		Actor:    actor,
		At:       time.Now().UTC(),
	}
}

// RedisPublisher publishes events on a Redis pub/sub channel.
type RedisPublisher struct {
	rdb     *redis.Client
	channel string
	log     zerolog.Logger
}

func NewRedisPublisher(rdb *redis.Client, channel string, log zerolog.Logger) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{rdb: rdb, channel: channel, log: log.With().Str("component", "notify").Logger()}
}

func (p *RedisPublisher) LowStockRaised(ctx context.Context, alert core.LowStockAlert) {
	p.publish(ctx, raisedEvent(alert))
}

func (p *RedisPublisher) LowStockAcknowledged(ctx context.Context, itemID int, alertIDs []int, actor string) {
	p.publish(ctx, acknowledgedEvent(itemID, alertIDs, actor))
}

func (p *RedisPublisher) publish(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.log.Error().Err(err).Str("event", ev.Type).Msg("failed to encode notification")
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
		p.log.Warn().Err(err).Str("event", ev.Type).Int("item_id", ev.ItemID).Msg("failed to publish notification")
		return
	}
	p.log.Debug().Str("event", ev.Type).Int("item_id", ev.ItemID).Msg("notification published")
}

// LogNotifier records events in the service log only.
type LogNotifier struct {
	log zerolog.Logger
}

func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log.With().Str("component", "notify").Logger()}
}

func (n *LogNotifier) LowStockRaised(_ context.Context, alert core.LowStockAlert) {
	n.log.Warn().Int("item_id", alert.InventoryItemID).Int("alert_id", alert.ID).
		Str("stock_level", alert.StockLevel.String()).Str("threshold", alert.Threshold.String()).
		Msg(EventLowStockRaised)
}

func (n *LogNotifier) LowStockAcknowledged(_ context.Context, itemID int, alertIDs []int, actor string) {
	n.log.Info().Int("item_id", itemID).Ints("alert_ids", alertIDs).Str("actor", actor).
		Msg(EventLowStockAcknowledged)
}
