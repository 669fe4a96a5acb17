package p2p

// Metrics receives node counters. telemetry.Metrics implements it.
type Metrics interface {
	SetPeerCount(n int)
	IncSent(transport string, ok bool)
	IncReceived(typ string)
	IncDropped()
	IncSubscriberMissed()
}

type NoopMetrics struct{}

func (NoopMetrics) SetPeerCount(int)     {}
func (NoopMetrics) IncSent(string, bool) {}
func (NoopMetrics) IncReceived(string)   {}
func (NoopMetrics) IncDropped()          {}
func (NoopMetrics) IncSubscriberMissed() {}
