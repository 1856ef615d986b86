package backtest

import (
	"sync/atomic"
	"time"
)

// Event is a per-bar occurrence worth streaming: fills, risk decisions,
// funding settlements and dropped orders.
type Event struct {
	Time  time.Time
	Index int
	Kind  string
	Code  string
	Msg   string
}

const (
	EventFill         = "FILL"
	EventFunding      = "FUNDING"
	EventInvalidOrder = "INVALID_ORDER"
	EventRiskRejected = "RISK_REJECTED"
	EventRiskResized  = "RISK_RESIZED"
	EventForcedClose  = "FORCED_CLOSE"
	EventUnfilled     = "UNFILLED"
	EventEndOfReplay  = "END_OF_REPLAY"
)

// Monitor receives the run as it happens. Implementations must not block.
type Monitor interface {
	OnBar(EquityPoint)
	OnEvent(Event)
}

type nopMonitor struct{}

func (nopMonitor) OnBar(EquityPoint) {}
func (nopMonitor) OnEvent(Event)     {}

// ChannelMonitor forwards to buffered channels and drops what does not
// fit, so a slow reader never stalls a run.
type ChannelMonitor struct {
	Bars   chan EquityPoint
	Events chan Event

	dropped atomic.Int64
}

func NewChannelMonitor(buf int) *ChannelMonitor {
	return &ChannelMonitor{
		Bars:   make(chan EquityPoint, buf),
		Events: make(chan Event, buf),
	}
}

func (m *ChannelMonitor) OnBar(p EquityPoint) {
	select {
	case m.Bars <- p:
	default:
		m.dropped.Add(1)
	}
}

func (m *ChannelMonitor) OnEvent(e Event) {
	select {
	case m.Events <- e:
	default:
		m.dropped.Add(1)
	}
}

// Dropped counts messages discarded because a channel was full.
func (m *ChannelMonitor) Dropped() int64 { return m.dropped.Load() }
