package heartbeat

import (
	"context"
	"time"

	"envnode-go/bus"
	"envnode-go/types"
	"envnode-go/x/timex"
)

var (
	topicConfigHeartbeat = bus.T("config", "heartbeat")
	topicHeartbeat       = bus.T("node", "heartbeat")
)

const defaultInterval = 5 * time.Second

// Service publishes a retained liveness beacon on node/heartbeat. The
// uplink forwards it, so the beacon also exercises the link at a known
// cadence.
type Service struct {
	seq uint32
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(topicConfigHeartbeat)
	defer conn.Unsubscribe(cfgSub)

	tick := time.NewTicker(defaultInterval)
	defer tick.Stop()

	s.beat(conn)

	for {
		select {
		case <-ctx.Done():
			println("[heartbeat] stopping")
			return
		case <-tick.C:
			s.beat(conn)
		case msg := <-cfgSub.Channel():
			if m, ok := msg.Payload.(map[string]any); ok {
				if interval, ok := m["interval"].(float64); ok {
					if d := time.Duration(interval * float64(time.Second)); d > 0 {
						tick.Reset(d)
						println("[heartbeat] interval set to", int64(d/time.Millisecond), "ms")
					}
				}
			}
		}
	}
}

func (s *Service) beat(conn *bus.Connection) {
	s.seq++
	conn.Publish(conn.NewMessage(topicHeartbeat, types.Heartbeat{
		Seq:     s.seq,
		UptimeS: timex.UptimeS(),
		TSms:    timex.NowMs(),
	}, true))
}

// Start the heartbeat service.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	go s.serviceLoop(ctx, conn)
	return nil
}
