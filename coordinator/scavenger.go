package coordinator

import (
	"context"
	"log/slog"
	"time"

	"github.com/c3po-dev/c3po/internal/coordinator/messaging"
	"github.com/c3po-dev/c3po/internal/coordinator/registry"
)

// scavengeInterval is how often the background sweep runs. It's
// independent of heartbeatTTL/messageTTL: those set the thresholds records
// become eligible for collection at, this just sets how promptly the
// sweep notices.
const scavengeInterval = time.Minute

// runScavenger periodically clears zombie registry records (spec.md §5: an
// unregister and a racing heartbeat can leave a record neither side
// intends to keep) and expired inbox entries (messaging.Engine.SweepExpired).
// It mirrors the teacher's cleanupWorker ticker loop
// (internal/hub/service/worker_connector_service.go): run on a ticker and
// exit when ctx is cancelled, where the teacher checks a shutdown channel.
func runScavenger(ctx context.Context, reg *registry.Registry, msg *messaging.Engine, staleAfter time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(scavengeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := reg.SweepStale(ctx, staleAfter); err != nil {
				logger.Warn("scavenger: sweep stale agents", "error", err)
			}
			if err := msg.SweepExpired(ctx); err != nil {
				logger.Warn("scavenger: sweep expired messages", "error", err)
			}
		}
	}
}
