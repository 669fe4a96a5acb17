package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"p2p-overlay/internal/errs"
	"p2p-overlay/internal/proto"
)

// LANConfig controls LAN discovery behavior.
type LANConfig struct {
	Port    int
	Timeout time.Duration
}

const (
	DefaultLANPort    = 42042
	DefaultLANTimeout = 1 * time.Second

	lanMaxDatagram = 2048
)

func DefaultLANConfig() LANConfig {
	return LANConfig{
		Port:    DefaultLANPort,
		Timeout: DefaultLANTimeout,
	}
}

// lanMessage is the discovery datagram, JSON encoded.
type lanMessage struct {
	Type      string       `json:"type"` // "ping" or "pong"
	ID        proto.NodeID `json:"id"`
	Listen    string       `json:"listen,omitempty"`
	Protocols []string     `json:"protocols,omitempty"`
	Version   string       `json:"version,omitempty"`
}

// LAN finds peers on the local network with a UDP broadcast ping. Started
// nodes answer pings with a pong carrying their advertised PeerInfo.
type LAN struct {
	cfg    LANConfig
	logger Logger

	mu      sync.Mutex
	local   proto.PeerInfo
	conn    *net.UDPConn
	stop    chan struct{}
	done    chan struct{}
	started bool
}

func NewLAN(cfg LANConfig, logger Logger) *LAN {
	if cfg.Port == 0 {
		cfg.Port = DefaultLANPort
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultLANTimeout
	}
	return &LAN{cfg: cfg, logger: orNop(logger)}
}

func (l *LAN) Name() string { return "lan" }

// Advertise sets the PeerInfo sent in pongs.
func (l *LAN) Advertise(info proto.PeerInfo) {
	l.mu.Lock()
	l.local = info.Clone()
	l.mu.Unlock()
}

func (l *LAN) localInfo() proto.PeerInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.local.Clone()
}

// Start binds the responder socket. Calling it again is a no-op.
func (l *LAN) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return nil
	}

	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			return reuseControl(network, address, c)
		},
	}
	pc, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf(":%d", l.cfg.Port))
	if err != nil {
		return errs.E(errs.KindDiscovery, "lan listen", err)
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		_ = pc.Close()
		return errs.Ef(errs.KindDiscovery, "lan listen", "not a UDP conn")
	}

	l.conn = conn
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	l.started = true
	go l.respond(conn, l.stop, l.done)
	return nil
}

func (l *LAN) Stop() error {
	l.mu.Lock()
	if !l.started {
		l.mu.Unlock()
		return nil
	}
	l.started = false
	close(l.stop)
	done := l.done
	l.mu.Unlock()

	<-done
	return nil
}

func (l *LAN) respond(conn *net.UDPConn, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer conn.Close()

	buf := make([]byte, lanMaxDatagram)
	for {
		select {
		case <-stop:
			return
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			continue
		}
		reply, ok := l.answer(buf[:n])
		if !ok {
			continue
		}
		if _, err := conn.WriteToUDP(reply, addr); err != nil {
			l.logger.Printf("[lan] pong to %s: %v", addr, err)
		}
	}
}

// answer builds the pong for a ping datagram. Own pings and nodes that
// have not advertised yet get no answer.
func (l *LAN) answer(datagram []byte) ([]byte, bool) {
	var msg lanMessage
	if err := json.Unmarshal(datagram, &msg); err != nil || msg.Type != "ping" {
		return nil, false
	}
	local := l.localInfo()
	if local.ID.IsZero() || msg.ID == local.ID {
		return nil, false
	}
	data, err := json.Marshal(lanMessage{
		Type:      "pong",
		ID:        local.ID,
		Listen:    listenPortOnly(local.Address),
		Protocols: local.Protocols,
		Version:   local.ClientVersion,
	})
	if err != nil {
		return nil, false
	}
	return data, true
}

// Discover broadcasts a ping and collects pongs for cfg.Timeout or until
// ctx ends.
func (l *LAN) Discover(ctx context.Context) ([]proto.PeerInfo, error) {
	l.mu.Lock()
	started := l.started
	l.mu.Unlock()
	if !started {
		return nil, errs.E(errs.KindDiscovery, "lan discover", ErrNotStarted)
	}
	local := l.localInfo()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero})
	if err != nil {
		return nil, errs.E(errs.KindDiscovery, "lan discover", err)
	}
	defer conn.Close()

	ping, err := json.Marshal(lanMessage{Type: "ping", ID: local.ID, Listen: local.Address})
	if err != nil {
		return nil, errs.E(errs.KindSerialization, "lan discover", err)
	}

	targets := interfaceBroadcastAddrs(l.cfg.Port)
	if len(targets) == 0 {
		targets = append(targets, &net.UDPAddr{IP: net.IPv4bcast, Port: l.cfg.Port})
	}
	var sendErr error
	for _, dst := range targets {
		if _, err := conn.WriteToUDP(ping, dst); err != nil {
			sendErr = err
		}
	}
	if sendErr != nil && !errors.Is(sendErr, syscall.EADDRNOTAVAIL) {
		l.logger.Printf("[lan] broadcast: %v", sendErr)
	}
	// same-host nodes
	_, _ = conn.WriteToUDP(ping, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: l.cfg.Port})

	deadline := time.Now().Add(l.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, errs.E(errs.KindDiscovery, "lan discover", err)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stop()

	seen := make(map[proto.NodeID]struct{})
	out := make([]proto.PeerInfo, 0, 4)
	buf := make([]byte, lanMaxDatagram)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			break
		}
		info, ok := parsePong(from, buf[:n])
		if !ok || info.ID == local.ID {
			continue
		}
		if _, dup := seen[info.ID]; dup {
			continue
		}
		seen[info.ID] = struct{}{}
		out = append(out, info)
	}
	return out, nil
}

func parsePong(from *net.UDPAddr, datagram []byte) (proto.PeerInfo, bool) {
	var msg lanMessage
	if err := json.Unmarshal(datagram, &msg); err != nil || msg.Type != "pong" {
		return proto.PeerInfo{}, false
	}
	if msg.ID.IsZero() {
		return proto.PeerInfo{}, false
	}
	return proto.PeerInfo{
		ID:            msg.ID,
		Address:       normalizeListen(from, msg.Listen),
		Protocols:     msg.Protocols,
		ClientVersion: msg.Version,
	}, true
}

func interfaceBroadcastAddrs(port int) []*net.UDPAddr {
	out := make([]*net.UDPAddr, 0, 8)

	ifaces, err := net.Interfaces()
	if err != nil {
		return out
	}
	for _, it := range ifaces {
		if it.Flags&net.FlagUp == 0 || it.Flags&net.FlagPointToPoint != 0 {
			continue
		}
		addrs, err := it.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok || ipnet.IP == nil {
				continue
			}
			ip4 := ipnet.IP.To4()
			mask := ipnet.Mask
			if ip4 == nil || len(mask) != 4 {
				continue
			}
			// broadcast = ip | ^mask
			b := net.IPv4(
				ip4[0]|^mask[0],
				ip4[1]|^mask[1],
				ip4[2]|^mask[2],
				ip4[3]|^mask[3],
			)
			out = append(out, &net.UDPAddr{IP: b, Port: port})
		}
	}
	return out
}
