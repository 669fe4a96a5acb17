package discovery

import (
	"context"
	"errors"
	"net"
	"os"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"p2p-overlay/internal/errs"
	"p2p-overlay/internal/proto"
	"p2p-overlay/internal/storage"
)

func testInfo(addr string, protos ...string) proto.PeerInfo {
	return proto.PeerInfo{ID: proto.RandomNodeID(), Address: addr, Protocols: protos, ClientVersion: "test/1"}
}

func TestStatic_ParseAndDiscover(t *testing.T) {
	id := proto.RandomNodeID()
	s, err := NewStatic("seeds", []string{
		"tcp://" + id.Hex() + "@10.0.0.1:4001",
		"overlay://" + id.Hex() + "@10.0.0.2:4002",
	})
	require.NoError(t, err)
	assert.Equal(t, "seeds", s.Name())

	got, err := s.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, id, got[0].ID)
	assert.Equal(t, "10.0.0.1:4001", got[0].Address)
	assert.Equal(t, []string{"tcp"}, got[0].Protocols)
	assert.Empty(t, got[1].Protocols)

	got[0].Protocols[0] = "mutated"
	again, _ := s.Discover(context.Background())
	assert.Equal(t, "tcp", again[0].Protocols[0])
}

func TestStatic_BadEntries(t *testing.T) {
	for _, e := range []string{
		"10.0.0.1:4001",
		"tcp://10.0.0.1:4001",
		"tcp://nothex@10.0.0.1:4001",
		"tcp://abcd@10.0.0.1:4001",
	} {
		_, err := NewStatic("", []string{e})
		assert.True(t, errors.Is(err, ErrBadEntry), e)
	}
}

func TestPeerURL_RoundTrip(t *testing.T) {
	p := testInfo("127.0.0.1:9000", "ws", "tcp")
	back, err := ParsePeerURL(PeerURL(p))
	require.NoError(t, err)
	assert.Equal(t, p.ID, back.ID)
	assert.Equal(t, p.Address, back.Address)
	assert.Equal(t, []string{"ws"}, back.Protocols)
}

func TestPeerStore_Records(t *testing.T) {
	ps := NewPeerStore(storage.NewMemory())
	a, b, c := testInfo("a:1"), testInfo("b:1"), testInfo("")

	require.NoError(t, ps.NoteSeen(a))
	require.NoError(t, ps.NoteSuccess(b))
	require.NoError(t, ps.NoteSeen(c))
	for i := 0; i < 3; i++ {
		require.NoError(t, ps.NoteFailure(a))
	}

	n, err := ps.Failures(a.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := ps.Candidates(2, 0)
	require.NoError(t, err)
	require.Len(t, got, 1, "failed and address-less peers are skipped")
	assert.Equal(t, b.ID, got[0].ID)

	require.NoError(t, ps.NoteSuccess(a))
	got, err = ps.Candidates(2, 0)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	require.NoError(t, ps.Forget(a.ID))
	got, err = ps.Discover(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestPeerStore_OrderAndLimit(t *testing.T) {
	ps := NewPeerStore(storage.NewMemory())
	base := time.Unix(1_700_000_000, 0)
	var infos []proto.PeerInfo
	for i := 0; i < 4; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		ps.now = func() time.Time { return at }
		p := testInfo("h:1")
		infos = append(infos, p)
		require.NoError(t, ps.NoteSuccess(p))
	}

	got, err := ps.Candidates(0, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, infos[3].ID, got[0].ID)
	assert.Equal(t, infos[2].ID, got[1].ID)
}

func TestPeerStore_PersistsAcrossReopen(t *testing.T) {
	path := t.TempDir() + "/peers.db"
	db, err := storage.OpenBolt(path)
	require.NoError(t, err)
	p := testInfo("10.1.1.1:4000", "tcp")
	require.NoError(t, NewPeerStore(db).NoteSuccess(p))
	require.NoError(t, db.Close())

	db, err = storage.OpenBolt(path)
	require.NoError(t, err)
	defer db.Close()
	got, err := NewPeerStore(db).Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, p.ID, got[0].ID)
	assert.Equal(t, []string{"tcp"}, got[0].Protocols)
}

func TestLAN_AnswerAndParse(t *testing.T) {
	l := NewLAN(DefaultLANConfig(), nil)

	ping := []byte(`{"type":"ping","id":"` + proto.RandomNodeID().Hex() + `"}`)
	_, ok := l.answer(ping)
	assert.False(t, ok, "no answer before Advertise")

	local := testInfo("0.0.0.0:4100", "tcp")
	l.Advertise(local)

	reply, ok := l.answer(ping)
	require.True(t, ok)

	own := []byte(`{"type":"ping","id":"` + local.ID.Hex() + `"}`)
	_, ok = l.answer(own)
	assert.False(t, ok, "own ping ignored")

	from := &net.UDPAddr{IP: net.IPv4(192, 168, 1, 7), Port: 50000}
	info, ok := parsePong(from, reply)
	require.True(t, ok)
	assert.Equal(t, local.ID, info.ID)
	assert.Equal(t, "192.168.1.7:4100", info.Address)
	assert.Equal(t, []string{"tcp"}, info.Protocols)
	assert.Equal(t, "test/1", info.ClientVersion)

	_, ok = parsePong(from, ping)
	assert.False(t, ok)
}

func TestLAN_DiscoverBeforeStart(t *testing.T) {
	_, err := NewLAN(DefaultLANConfig(), nil).Discover(context.Background())
	assert.True(t, errors.Is(err, ErrNotStarted))
	assert.Equal(t, errs.KindDiscovery, errs.KindOf(err))
}

func TestLAN_UDP(t *testing.T) {
	if os.Getenv("P2P_LAN_UDP_TEST") == "" {
		t.Skip("set P2P_LAN_UDP_TEST=1 to enable")
	}
	cfg := LANConfig{Port: 42142, Timeout: 500 * time.Millisecond}

	responder := NewLAN(cfg, nil)
	responder.Advertise(testInfo("127.0.0.1:4100", "tcp"))
	require.NoError(t, responder.Start())
	defer responder.Stop()

	seeker := NewLAN(cfg, nil)
	seeker.Advertise(testInfo("127.0.0.1:4200", "tcp"))
	require.NoError(t, seeker.Start())
	defer seeker.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := seeker.Discover(context.Background())
		require.NoError(t, err)
		if len(got) > 0 {
			return
		}
	}
	t.Fatal("responder never answered")
}

func TestMDNS_AnnouncementRoundTrip(t *testing.T) {
	m := NewMDNS(MDNSConfig{}, nil)
	svc := m.serviceName()
	assert.Equal(t, "_overlay._udp.local.", svc)

	local := testInfo("0.0.0.0:4300", "tcp", "ws")
	msg := buildAnnouncement(svc, local)

	wire, err := msg.Pack()
	require.NoError(t, err)
	var back dns.Msg
	require.NoError(t, back.Unpack(wire))

	from := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 9), Port: 5353}
	got := parseAnnouncement(&back, svc, from)
	require.Len(t, got, 1)
	assert.Equal(t, local.ID, got[0].ID)
	assert.Equal(t, "10.0.0.9:4300", got[0].Address)
	assert.Equal(t, []string{"tcp", "ws"}, got[0].Protocols)
	assert.Equal(t, "test/1", got[0].ClientVersion)

	assert.Empty(t, parseAnnouncement(&back, "_other._udp.local.", from))
}

func TestMDNS_AnswersQueries(t *testing.T) {
	m := NewMDNS(MDNSConfig{Service: "_x._udp"}, nil)
	q := new(dns.Msg)
	q.SetQuestion("_x._udp.local.", dns.TypePTR)
	assert.True(t, m.asksForService(q))
	q.SetQuestion("_y._udp.local.", dns.TypePTR)
	assert.False(t, m.asksForService(q))
}

func TestMDNS_DiscoverBeforeStart(t *testing.T) {
	m := NewMDNS(DefaultMDNSConfig(), nil)
	_, err := m.Discover(context.Background())
	assert.True(t, errors.Is(err, ErrNotStarted))
	require.NoError(t, m.Stop())
}

func TestMDNS_Multicast(t *testing.T) {
	if os.Getenv("P2P_MDNS_TEST") == "" {
		t.Skip("set P2P_MDNS_TEST=1 to enable")
	}
	cfg := MDNSConfig{Port: 15353, AnnounceInterval: time.Second, QueryTimeout: 500 * time.Millisecond}

	a, b := NewMDNS(cfg, nil), NewMDNS(cfg, nil)
	ia, ib := testInfo("127.0.0.1:1", "tcp"), testInfo("127.0.0.1:2", "tcp")
	a.Advertise(ia)
	b.Advertise(ib)
	require.NoError(t, a.Start())
	defer a.Stop()
	require.NoError(t, b.Start())
	defer b.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := a.Discover(context.Background())
		require.NoError(t, err)
		for _, p := range got {
			if p.ID == ib.ID {
				return
			}
		}
	}
	t.Fatal("b not discovered")
}
