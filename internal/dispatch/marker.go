package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/brightline-labs/voicecore/pkg/logging"
)

// DefaultMarkerTTL bounds how long a (call_id, job_kind) dedup marker is
// remembered — long enough to absorb the queue's redelivery window, short
// enough not to leak keys forever.
const DefaultMarkerTTL = 24 * time.Hour

// Marker deduplicates post_call/training job deliveries by (call_id,
// job_kind), ported from lease.DynamoManager's Redis SET-with-TTL fast-path
// idiom and generalized from a cache-of-record to the record itself: here
// Redis is the only store, since losing a marker just means an extra (safe,
// idempotent-at-the-email-provider level) report send rather than a stale
// lease.
type Marker struct {
	redis  *redis.Client
	logger *logging.Logger
}

// NewMarker builds a Marker. A nil redisClient makes every claim succeed,
// i.e. dedup is disabled rather than the dispatcher refusing to run.
func NewMarker(redisClient *redis.Client, logger *logging.Logger) *Marker {
	if logger == nil {
		logger = logging.Default()
	}
	return &Marker{redis: redisClient, logger: logger}
}

// Claim reports whether this call is the first to claim (callID, jobKind)
// within ttl. A false result with a nil error means a prior delivery already
// claimed it and the caller should skip the job as a duplicate.
func (m *Marker) Claim(ctx context.Context, callID, jobKind string, ttl time.Duration) (bool, error) {
	if m.redis == nil {
		return true, nil
	}
	if ttl <= 0 {
		ttl = DefaultMarkerTTL
	}
	ok, err := m.redis.SetNX(ctx, markerKey(callID, jobKind), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dispatch: dedup marker: %w", err)
	}
	if !ok {
		m.logger.Debug("dispatch: duplicate job delivery suppressed", "call_id", callID, "job_kind", jobKind)
	}
	return ok, nil
}

func markerKey(callID, jobKind string) string { return "dispatch:marker:" + jobKind + ":" + callID }

var _ Deduplicator = (*Marker)(nil)
