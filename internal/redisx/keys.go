package redisx

import "time"

const (
	// Session: session:{token} -> {"account_id": "...", "role": "customer|admin"}
	KeySession = "session:%s"

	// Cached order snapshot: order:{order_id} -> order JSON
	KeyOrder = "order:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLSession    = 24 * time.Hour
	TTLOrderCache = 5 * time.Minute
	TTLDedup      = 48 * time.Hour
)
