package grpcserver

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/and161185/practigate/internal/verification"
)

// VerificationHealthService is the health service name tracking the verification backend.
const VerificationHealthService = "practigate.verification"

// DefaultProbeInterval is how often WatchVerification probes.
const DefaultProbeInterval = 30 * time.Second

// Prober reports whether a dependency answers.
type Prober interface {
	IsAvailable(ctx context.Context) bool
}

var _ Prober = (*verification.Client)(nil)

// WatchVerification probes p every interval and mirrors the result into hs
// until ctx ends. It blocks.
func WatchVerification(ctx context.Context, hs *health.Server, p Prober, interval time.Duration, log *zap.Logger) {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	last := healthpb.HealthCheckResponse_UNKNOWN
	probe := func() {
		st := healthpb.HealthCheckResponse_NOT_SERVING
		if p.IsAvailable(ctx) {
			st = healthpb.HealthCheckResponse_SERVING
		}
		if ctx.Err() != nil {
			return
		}
		hs.SetServingStatus(VerificationHealthService, st)
		if st != last {
			log.Info("verification service health changed", zap.String("status", st.String()))
			last = st
		}
	}

	probe()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			probe()
		}
	}
}
