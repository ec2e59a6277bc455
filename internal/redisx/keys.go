package redisx

import "time"

const (
	// Cache status order: order_status:{order_id} -> {"status": "...", "version": n}
	KeyOrderStatus = "order_status:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Per-user cart critical section (cart mutations vs checkout): lock:cart:{user_id}
	KeyLockCart = "lock:cart:%s"

	// Per-outTradeNo critical section for gateway reports: lock:payment:{out_trade_no}
	KeyLockPayment = "lock:payment:%s"
)

var (
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
	TTLLock        = 10 * time.Second
)
