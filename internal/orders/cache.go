package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/ariefcatur/go-checkout-reconcile/internal/redisx"
	"github.com/redis/go-redis/v9"
)

type StatusView struct {
	OrderID string `json:"order_id"`
	Status  Status `json:"status"`
	Version int    `json:"version"`
}

// StatusCache is a read-through cache in front of orders.status. Writers
// store the new version after commit, readers fill misses from the database,
// and the higher version always wins.
type StatusCache struct {
	Redis *redis.Client
}

func statusKey(orderID string) string { return fmt.Sprintf(redisx.KeyOrderStatus, orderID) }

func (c *StatusCache) Get(ctx context.Context, orderID string) (StatusView, bool) {
	if c == nil || c.Redis == nil {
		return StatusView{}, false
	}
	s, err := c.Redis.Get(ctx, statusKey(orderID)).Result()
	if err != nil || s == "" {
		return StatusView{}, false
	}
	var v StatusView
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return StatusView{}, false
	}
	return v, true
}

// setIfNewer keeps the highest version: a read-through fill that loaded an
// older row never overwrites what a later transition wrote.
var setIfNewer = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
  local ok, v = pcall(cjson.decode, cur)
  if ok and type(v) == 'table' and tonumber(v.version) and tonumber(v.version) >= tonumber(ARGV[2]) then
    return 0
  end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

// Set stores v unless the cache already holds the same or a newer version.
func (c *StatusCache) Set(ctx context.Context, v StatusView) {
	if c == nil || c.Redis == nil {
		return
	}
	b, _ := json.Marshal(v)
	_ = setIfNewer.Run(ctx, c.Redis, []string{statusKey(v.OrderID)},
		string(b), v.Version, redisx.TTLStatusCache.Milliseconds()).Err()
}
