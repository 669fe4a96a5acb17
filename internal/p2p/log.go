package p2p

// Logf writes a node-prefixed line when Debug is on. It also serves as the
// DHT's log sink.
func (n *Node) Logf(format string, args ...any) {
	if !n.cfg.Debug {
		return
	}
	if n.cfg.Logger != nil {
		n.cfg.Logger.Printf("[node %s] "+format, append([]any{n.self}, args...)...)
	}
}
