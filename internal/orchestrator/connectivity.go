package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/jake-wickstrom/tabletop-tracker/internal/syncclient"
)

// Prober checks server reachability.
type Prober interface {
	HealthCheck(ctx context.Context) (*syncclient.HealthResponse, error)
}

// WatchConnectivity probes every interval until ctx is done and calls
// onOnline on each offline-to-online transition. The first probe only
// establishes the baseline.
func WatchConnectivity(ctx context.Context, p Prober, every time.Duration, onOnline func()) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	online := probe(ctx, p, every)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := probe(ctx, p, every)
			if now && !online {
				slog.Info("connectivity: back online")
				onOnline()
			} else if !now && online {
				slog.Info("connectivity: offline")
			}
			online = now
		}
	}
}

func probe(ctx context.Context, p Prober, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	resp, err := p.HealthCheck(ctx)
	return err == nil && resp != nil && resp.Status == "ok"
}
