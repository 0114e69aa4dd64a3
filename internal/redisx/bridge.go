package redisx

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/redis/go-redis/v9"
)

// LocalBroadcaster is the process-local fan-out the bridge feeds into.
type LocalBroadcaster interface {
	Publish(roomKey string, event []byte)
}

// Bridge fans room events across tracker instances over Redis Pub/Sub.
// Publishes go to one channel per room; a single subscriber goroutine per
// process delivers incoming messages to the local registry, so the per-room
// delivery order each member sees is the Redis channel order.
//
// Pub/Sub is fire-and-forget: an instance that is down misses messages, which
// matches the no-replay contract — its viewers re-query on reconnect.
type Bridge struct {
	RDB   *redis.Client
	Local LocalBroadcaster
}

// Publish sends the event to every instance's local registry, this one
// included (delivery to local members also goes through the subscription,
// keeping a single ordering path).
func (b *Bridge) Publish(roomKey string, event []byte) {
	ch := fmt.Sprintf(ChannelRoom, roomKey)
	if err := b.RDB.Publish(context.Background(), ch, event).Err(); err != nil {
		log.Printf("redisx: publish %s: %v", ch, err)
		// degrade to local-only delivery rather than dropping the event
		b.Local.Publish(roomKey, event)
	}
}

// Run subscribes to all room channels and pumps messages into the local
// registry until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	sub := b.RDB.PSubscribe(ctx, ChannelRoomPattern)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redisx: subscribe %s: %w", ChannelRoomPattern, err)
	}

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-msgs:
			if !ok {
				return nil
			}
			roomKey := strings.TrimPrefix(m.Channel, "room.")
			b.Local.Publish(roomKey, []byte(m.Payload))
		}
	}
}
