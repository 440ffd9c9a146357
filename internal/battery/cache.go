// Package battery reports controller charge level and charging state from
// UPower, behind a short-lived cache.
package battery

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/padwatch/padwatch/internal/logging"
)

var log = logging.L("battery")

// Unknown is the percentage label reported when no reading is available.
const Unknown = "Unknown"

// DefaultTTL is how long a successful reading is reused.
const DefaultTTL = 10 * time.Second

// queryTimeout bounds one shared query to the battery subsystem.
const queryTimeout = 5 * time.Second

// ErrNotFound means the battery subsystem has no entry for the address.
var ErrNotFound = errors.New("battery: device not found")

// Info is one battery reading.
type Info struct {
	Percentage string `json:"battery"`
	Charging   bool   `json:"charging"`
}

// UnknownInfo is returned whenever a lookup fails.
var UnknownInfo = Info{Percentage: Unknown}

// Querier reads the battery state of one controller.
type Querier interface {
	Query(ctx context.Context, mac string) (Info, error)
}

type entry struct {
	info       Info
	observedAt time.Time
}

// Cache maps a hardware address to its last reading for ttl. Failed queries
// are never cached. Concurrent misses for the same address share one query.
type Cache struct {
	querier Querier
	ttl     time.Duration
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]entry

	group singleflight.Group
}

func NewCache(q Querier, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		querier: q,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]entry),
	}
}

// Get returns the reading for mac, querying the battery subsystem on a miss
// or after expiry. It returns UnknownInfo on failure. The cache lock is not
// held while the query runs.
func (c *Cache) Get(ctx context.Context, mac string) Info {
	key := strings.ToLower(strings.TrimSpace(mac))
	if key == "" {
		return UnknownInfo
	}

	c.mu.Lock()
	e, ok := c.entries[key]
	fresh := ok && c.now().Sub(e.observedAt) < c.ttl
	c.mu.Unlock()
	if fresh {
		return e.info
	}

	// The shared query outlives any one caller's cancellation; a caller
	// that gives up only stops waiting for it.
	ch := c.group.DoChan(key, func() (interface{}, error) {
		qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), queryTimeout)
		defer cancel()
		info, err := c.querier.Query(qctx, key)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = entry{info: info, observedAt: c.now()}
		c.mu.Unlock()
		return info, nil
	})

	select {
	case <-ctx.Done():
		log.Debug("battery lookup abandoned", zap.String(logging.KeyMAC, key), zap.Error(ctx.Err()))
		return UnknownInfo
	case res := <-ch:
		if res.Err != nil {
			if errors.Is(res.Err, ErrNotFound) {
				log.Debug("no battery entry", zap.String(logging.KeyMAC, key))
			} else {
				log.Warn("battery query failed", zap.String(logging.KeyMAC, key), zap.Error(res.Err))
			}
			return UnknownInfo
		}
		return res.Val.(Info)
	}
}
