package notifications

import (
	"context"
	"encoding/json"
	"log/slog"
	"runtime/debug"

	"crowdledger/internal/models"
	"crowdledger/internal/observability"

	"github.com/redis/go-redis/v9"
)

// EventsChannel is the Redis channel carrying campaign events between
// instances.
const EventsChannel = "campaigns:events"

// Notifier publishes campaign events. With Redis every instance receives them
// through its subscriber; without Redis they go straight to the local hub.
type Notifier struct {
	rdb   *redis.Client
	local *FeedHub
}

// NewNotifier creates a new Notifier instance using the provided Redis client.
// local may be nil when this process serves no websocket clients.
func NewNotifier(rdb *redis.Client, local *FeedHub) *Notifier {
	return &Notifier{rdb: rdb, local: local}
}

// Publish encodes event and fans it out. Failures are logged, never returned:
// the mutation that produced the event has already committed.
func (n *Notifier) Publish(ctx context.Context, event models.CampaignEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		observability.GlobalLogger.ErrorContext(ctx, "failed to encode campaign event",
			slog.String("type", event.Type),
			slog.String("error", err.Error()),
		)
		return
	}
	observability.WebSocketEventsTotal.WithLabelValues(event.Type).Inc()

	if n.rdb != nil {
		err := n.rdb.Publish(context.WithoutCancel(ctx), EventsChannel, payload).Err()
		if err == nil {
			return
		}
		observability.GlobalLogger.WarnContext(ctx, "event publish failed, delivering locally",
			slog.String("type", event.Type),
			slog.String("error", err.Error()),
		)
	}
	if n.local != nil {
		n.local.BroadcastAll(payload)
	}
}

// StartSubscriber subscribes to EventsChannel and calls onMessage for each
// payload until ctx is cancelled.
func (n *Notifier) StartSubscriber(ctx context.Context, onMessage func(payload string)) error {
	if n.rdb == nil {
		return nil
	}
	sub := n.rdb.Subscribe(ctx, EventsChannel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return err
	}
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							observability.GlobalLogger.Error("panic in event subscriber",
								slog.Any("panic", r),
								slog.String("stack", string(debug.Stack())),
							)
						}
					}()
					onMessage(msg.Payload)
				}()
			}
		}
	}()

	return nil
}
