package discovery

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"

	"p2p-overlay/internal/errs"
	"p2p-overlay/internal/proto"
)

const (
	DefaultMDNSService  = "_overlay._udp"
	DefaultMDNSDomain   = "local."
	DefaultMDNSPort     = 5353
	DefaultMDNSInterval = 30 * time.Second

	mdnsRecordTTL = 120 // seconds
)

var mdnsGroup = net.IPv4(224, 0, 0, 251)

type MDNSConfig struct {
	Service          string
	Domain           string
	Port             int
	AnnounceInterval time.Duration
	// QueryTimeout bounds how long Discover waits for answers.
	QueryTimeout time.Duration
}

func DefaultMDNSConfig() MDNSConfig {
	return MDNSConfig{
		Service:          DefaultMDNSService,
		Domain:           DefaultMDNSDomain,
		Port:             DefaultMDNSPort,
		AnnounceInterval: DefaultMDNSInterval,
		QueryTimeout:     time.Second,
	}
}

type mdnsEntry struct {
	info proto.PeerInfo
	seen time.Time
}

// MDNS announces the local node on multicast DNS and collects the
// announcements of others. Each node is a PTR record under the service
// name plus a TXT record carrying its PeerInfo.
type MDNS struct {
	cfg    MDNSConfig
	logger Logger

	mu      sync.Mutex
	local   proto.PeerInfo
	peers   map[proto.NodeID]mdnsEntry
	recv    *net.UDPConn
	send    *net.UDPConn
	stop    chan struct{}
	wg      sync.WaitGroup
	started bool
}

func NewMDNS(cfg MDNSConfig, logger Logger) *MDNS {
	def := DefaultMDNSConfig()
	if cfg.Service == "" {
		cfg.Service = def.Service
	}
	if cfg.Domain == "" {
		cfg.Domain = def.Domain
	}
	if cfg.Port == 0 {
		cfg.Port = def.Port
	}
	if cfg.AnnounceInterval <= 0 {
		cfg.AnnounceInterval = def.AnnounceInterval
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = def.QueryTimeout
	}
	return &MDNS{
		cfg:    cfg,
		logger: orNop(logger),
		peers:  make(map[proto.NodeID]mdnsEntry),
	}
}

func (m *MDNS) Name() string { return "mdns" }

func (m *MDNS) Advertise(info proto.PeerInfo) {
	m.mu.Lock()
	m.local = info.Clone()
	m.mu.Unlock()
}

func (m *MDNS) serviceName() string {
	return dns.Fqdn(m.cfg.Service + "." + strings.TrimSuffix(m.cfg.Domain, "."))
}

func (m *MDNS) groupAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: mdnsGroup, Port: m.cfg.Port}
}

func (m *MDNS) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}

	recv, err := net.ListenMulticastUDP("udp4", nil, m.groupAddr())
	if err != nil {
		return errs.E(errs.KindDiscovery, "mdns listen", err)
	}
	send, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero})
	if err != nil {
		_ = recv.Close()
		return errs.E(errs.KindDiscovery, "mdns listen", err)
	}

	m.recv, m.send = recv, send
	m.stop = make(chan struct{})
	m.started = true

	m.wg.Add(2)
	go m.recvLoop(recv)
	go m.announceLoop(m.stop)
	return nil
}

func (m *MDNS) Stop() error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = false
	close(m.stop)
	recv, send := m.recv, m.send
	m.recv, m.send = nil, nil
	m.mu.Unlock()

	_ = recv.Close()
	_ = send.Close()
	m.wg.Wait()
	return nil
}

func (m *MDNS) announceLoop(stop <-chan struct{}) {
	defer m.wg.Done()

	m.announce()
	m.query()

	t := time.NewTicker(m.cfg.AnnounceInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			m.announce()
			m.expire()
		}
	}
}

func (m *MDNS) recvLoop(conn *net.UDPConn) {
	defer m.wg.Done()

	buf := make([]byte, 9000)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		var msg dns.Msg
		if err := msg.Unpack(buf[:n]); err != nil {
			continue
		}
		if !msg.Response {
			if m.asksForService(&msg) {
				m.announce()
			}
			continue
		}
		m.mu.Lock()
		self := m.local.ID
		m.mu.Unlock()
		for _, info := range parseAnnouncement(&msg, m.serviceName(), from) {
			if info.ID == self {
				continue
			}
			m.mu.Lock()
			m.peers[info.ID] = mdnsEntry{info: info, seen: time.Now()}
			m.mu.Unlock()
		}
	}
}

func (m *MDNS) asksForService(msg *dns.Msg) bool {
	svc := m.serviceName()
	for _, q := range msg.Question {
		if strings.EqualFold(q.Name, svc) && (q.Qtype == dns.TypePTR || q.Qtype == dns.TypeANY) {
			return true
		}
	}
	return false
}

func (m *MDNS) write(msg *dns.Msg) {
	m.mu.Lock()
	send := m.send
	m.mu.Unlock()
	if send == nil {
		return
	}
	data, err := msg.Pack()
	if err != nil {
		m.logger.Printf("[mdns] pack: %v", err)
		return
	}
	if _, err := send.WriteToUDP(data, m.groupAddr()); err != nil {
		m.logger.Printf("[mdns] send: %v", err)
	}
}

func (m *MDNS) announce() {
	m.mu.Lock()
	local := m.local.Clone()
	m.mu.Unlock()
	if local.ID.IsZero() {
		return
	}
	m.write(buildAnnouncement(m.serviceName(), local))
}

func (m *MDNS) query() {
	q := new(dns.Msg)
	q.SetQuestion(m.serviceName(), dns.TypePTR)
	q.Id = 0
	q.RecursionDesired = false
	m.write(q)
}

// expire forgets peers that missed several announce rounds.
func (m *MDNS) expire() {
	cutoff := time.Now().Add(-3 * m.cfg.AnnounceInterval)
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.peers {
		if e.seen.Before(cutoff) {
			delete(m.peers, id)
		}
	}
}

// Discover sends a query, waits QueryTimeout (or until ctx ends) for
// answers, then returns every peer heard from so far.
func (m *MDNS) Discover(ctx context.Context) ([]proto.PeerInfo, error) {
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if !started {
		return nil, errs.E(errs.KindDiscovery, "mdns discover", ErrNotStarted)
	}

	m.query()
	t := time.NewTimer(m.cfg.QueryTimeout)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]proto.PeerInfo, 0, len(m.peers))
	for _, e := range m.peers {
		out = append(out, e.info.Clone())
	}
	return out, nil
}

func instanceName(service string, id proto.NodeID) string {
	return id.Hex()[:16] + "." + service
}

func buildAnnouncement(service string, local proto.PeerInfo) *dns.Msg {
	inst := instanceName(service, local.ID)

	txt := []string{"id=" + local.ID.Hex(), "addr=" + listenPortOnly(local.Address)}
	if len(local.Protocols) > 0 {
		txt = append(txt, "proto="+strings.Join(local.Protocols, ","))
	}
	if local.ClientVersion != "" {
		txt = append(txt, "ver="+local.ClientVersion)
	}

	msg := new(dns.Msg)
	msg.Response = true
	msg.Authoritative = true
	msg.Answer = []dns.RR{
		&dns.PTR{
			Hdr: dns.RR_Header{Name: service, Rrtype: dns.TypePTR, Class: dns.ClassINET, Ttl: mdnsRecordTTL},
			Ptr: inst,
		},
		&dns.TXT{
			Hdr: dns.RR_Header{Name: inst, Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: mdnsRecordTTL},
			Txt: txt,
		},
	}
	return msg
}

// parseAnnouncement extracts PeerInfo from the TXT records of instances
// under service. from fills in the host of ":port" addresses.
func parseAnnouncement(msg *dns.Msg, service string, from *net.UDPAddr) []proto.PeerInfo {
	suffix := "." + strings.ToLower(service)
	var out []proto.PeerInfo
	for _, rr := range append(append([]dns.RR{}, msg.Answer...), msg.Extra...) {
		txt, ok := rr.(*dns.TXT)
		if !ok || !strings.HasSuffix(strings.ToLower(txt.Hdr.Name), suffix) {
			continue
		}
		var info proto.PeerInfo
		for _, kv := range txt.Txt {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				continue
			}
			switch k {
			case "id":
				id, err := proto.ParseNodeIDHex(v)
				if err != nil {
					continue
				}
				info.ID = id
			case "addr":
				info.Address = normalizeListen(from, v)
			case "proto":
				info.Protocols = strings.Split(v, ",")
			case "ver":
				info.ClientVersion = v
			}
		}
		if !info.ID.IsZero() {
			out = append(out, info)
		}
	}
	return out
}
