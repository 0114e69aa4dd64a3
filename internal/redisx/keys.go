package redisx

import "time"

const (
	// Cache of the last committed viewer frame: order_status:{order_id}
	KeyOrderStatus = "order_status:%s"

	// Dedup for consumed events: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Pub/sub channel per room: room.{roomKey}. One channel per room keeps
	// per-room FIFO intact across the bridge.
	ChannelRoom        = "room.%s"
	ChannelRoomPattern = "room.*"
)

var (
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
