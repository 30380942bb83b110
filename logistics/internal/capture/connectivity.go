package capture

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/telhawk-systems/logistics-bridge/common/database"
)

// Pinger checks that a remote endpoint answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ProbeConnectivity is online when the pinger answers within the timeout.
type ProbeConnectivity struct {
	pinger  Pinger
	timeout time.Duration
}

// NewProbeConnectivity creates a probing Connectivity.
func NewProbeConnectivity(p Pinger, timeout time.Duration) *ProbeConnectivity {
	return &ProbeConnectivity{pinger: p, timeout: timeout}
}

func (p *ProbeConnectivity) Online(ctx context.Context) bool {
	ctx, cancel := database.RemoteContext(ctx, p.timeout)
	defer cancel()
	return p.pinger.Ping(ctx) == nil
}

// SwitchConnectivity is set by hand, for tests and forced offline mode.
type SwitchConnectivity struct {
	online atomic.Bool
}

// NewSwitchConnectivity creates a switch in the given state.
func NewSwitchConnectivity(online bool) *SwitchConnectivity {
	s := &SwitchConnectivity{}
	s.online.Store(online)
	return s
}

// Set changes the state.
func (s *SwitchConnectivity) Set(online bool) { s.online.Store(online) }

func (s *SwitchConnectivity) Online(context.Context) bool { return s.online.Load() }
