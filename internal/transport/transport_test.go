package transport

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"p2p-overlay/internal/errs"
)

func recv(t *testing.T, tr Transport) Packet {
	t.Helper()
	select {
	case p, ok := <-tr.Incoming():
		require.True(t, ok, "incoming closed")
		return p
	case <-time.After(5 * time.Second):
		t.Fatalf("%s: no packet", tr.Kind())
	}
	return Packet{}
}

func pair(t *testing.T, kind Kind) (Transport, Transport, string) {
	t.Helper()
	hub := NewHub()
	a, err := New(kind, hub)
	require.NoError(t, err)
	b, err := New(kind, hub)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})

	_, err = a.Listen("127.0.0.1", 0)
	require.NoError(t, err)
	addrB, err := b.Listen("127.0.0.1", 0)
	require.NoError(t, err)
	return a, b, addrB
}

func TestTransport_RoundTripAndReply(t *testing.T) {
	for _, kind := range []Kind{KindMemory, KindTCP, KindWebSocket, KindQUIC, KindZMQ} {
		t.Run(kind.String(), func(t *testing.T) {
			a, b, addrB := pair(t, kind)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			require.NoError(t, a.SendTo(ctx, addrB, []byte("hello")))
			p := recv(t, b)
			assert.Equal(t, []byte("hello"), p.Data)
			require.NotEmpty(t, p.From)

			require.NoError(t, b.SendTo(ctx, p.From, []byte("world")))
			r := recv(t, a)
			assert.Equal(t, []byte("world"), r.Data)
		})
	}
}

func TestTransport_OrderWithinConnection(t *testing.T) {
	for _, kind := range []Kind{KindMemory, KindTCP, KindWebSocket} {
		t.Run(kind.String(), func(t *testing.T) {
			a, b, addrB := pair(t, kind)
			ctx := context.Background()
			for i := 0; i < 20; i++ {
				require.NoError(t, a.SendTo(ctx, addrB, []byte{byte(i)}))
			}
			for i := 0; i < 20; i++ {
				p := recv(t, b)
				require.Equal(t, []byte{byte(i)}, p.Data)
			}
		})
	}
}

func TestTransport_CloseIdempotentAndClosesIncoming(t *testing.T) {
	for _, kind := range []Kind{KindMemory, KindTCP, KindWebSocket, KindQUIC, KindZMQ} {
		t.Run(kind.String(), func(t *testing.T) {
			tr, err := New(kind, NewHub())
			require.NoError(t, err)
			_, err = tr.Listen("127.0.0.1", 0)
			require.NoError(t, err)

			require.NoError(t, tr.Close())
			require.NoError(t, tr.Close())

			select {
			case _, ok := <-tr.Incoming():
				assert.False(t, ok)
			case <-time.After(5 * time.Second):
				t.Fatal("incoming not closed")
			}

			_, err = tr.Listen("127.0.0.1", 0)
			assert.True(t, errors.Is(err, ErrClosed))
			assert.Equal(t, errs.KindTransport, errs.KindOf(err))
		})
	}
}

func TestTransport_ListenTwiceReturnsBound(t *testing.T) {
	tr := NewTCP()
	defer tr.Close()
	first, err := tr.Listen("127.0.0.1", 0)
	require.NoError(t, err)
	second, err := tr.Listen("127.0.0.1", 0)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestTCP_DialFailure(t *testing.T) {
	l := NewTCP()
	addr, err := l.Listen("127.0.0.1", 0)
	require.NoError(t, err)
	require.NoError(t, l.Close())

	tr := NewTCP()
	defer tr.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err = tr.SendTo(ctx, addr, []byte("x"))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindTransport))
}

func TestMemory_UnknownAddress(t *testing.T) {
	hub := NewHub()
	m := NewMemory(hub)
	defer m.Close()

	err := m.SendTo(context.Background(), "nowhere:1", []byte("x"))
	assert.True(t, errors.Is(err, ErrUnreachable))
	assert.True(t, errors.Is(m.Connect(context.Background(), "nowhere:1"), ErrUnreachable))
}

func TestMemory_UnbindOnClose(t *testing.T) {
	hub := NewHub()
	a, b := NewMemory(hub), NewMemory(hub)
	defer a.Close()
	addr, err := b.Listen("node", 7)
	require.NoError(t, err)
	assert.Equal(t, "node:7", addr)

	_, err = NewMemory(hub).Listen("node", 7)
	require.Error(t, err)

	require.NoError(t, b.Close())
	assert.True(t, errors.Is(a.SendTo(context.Background(), addr, []byte("x")), ErrUnreachable))
}

func TestMemory_SenderCopy(t *testing.T) {
	a, b, addrB := pair(t, KindMemory)
	buf := []byte("abc")
	require.NoError(t, a.SendTo(context.Background(), addrB, buf))
	buf[0] = 'z'
	assert.Equal(t, []byte("abc"), recv(t, b).Data)
}

func TestFrame_Limits(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("abc")))
	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)

	assert.True(t, errors.Is(WriteFrame(&buf, make([]byte, MaxUnitSize+1)), ErrTooLarge))

	huge := []byte{0xff, 0xff, 0xff, 0xff}
	_, err = ReadFrame(bytes.NewReader(huge))
	assert.True(t, errors.Is(err, ErrTooLarge))
}

func TestNew_UnknownKind(t *testing.T) {
	_, err := New("carrier-pigeon", nil)
	assert.True(t, errors.Is(err, ErrUnknownKind))
}
