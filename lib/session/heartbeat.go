package session

import (
	"context"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
)

// LatencyProbeConfig configures the periodic ping loop for an SSH session.
// Only sessions whose Transport implements Pinger run a probe.
type LatencyProbeConfig struct {
	// Pinger measures one round trip on the control channel.
	Pinger Pinger
	// Interval is the cadence between pings.
	Interval time.Duration
	// Deadline is how long a single ping may take before it counts as
	// missed; exceeding it transitions the session to Errored.
	Deadline time.Duration
	// OnLatency is called with the measured round-trip time on success.
	OnLatency func(time.Duration)
	// OnMissed is called once the deadline is exceeded.
	OnMissed func(error)
	Clock    clockwork.Clock
}

func (c *LatencyProbeConfig) CheckAndSetDefaults() error {
	if c.Pinger == nil {
		return trace.BadParameter("LatencyProbeConfig: Pinger is required")
	}
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.Deadline <= 0 {
		c.Deadline = 10 * time.Second
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// runLatencyProbe pings at a fixed cadence until ctx is cancelled. A missed
// ping (exceeding Deadline) invokes OnMissed once and stops the loop; the
// caller is responsible for transitioning the session to Errored.
func runLatencyProbe(ctx context.Context, cfg LatencyProbeConfig) error {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return trace.Wrap(err)
	}

	ticker := cfg.Clock.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			pingCtx, cancel := context.WithTimeout(ctx, cfg.Deadline)
			rtt, err := cfg.Pinger.Ping(pingCtx)
			cancel()
			if err != nil {
				if cfg.OnMissed != nil {
					cfg.OnMissed(err)
				}
				return trace.Wrap(err, "ssh latency probe missed deadline")
			}
			if cfg.OnLatency != nil {
				cfg.OnLatency(rtt)
			}
		}
	}
}
