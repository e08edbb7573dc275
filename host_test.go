//go:build linux
// +build linux

package asnet

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"
)

func testHost(t *testing.T, options ...Option) *Host {
	t.Helper()
	options = append([]Option{WithLogger(zaptest.NewLogger(t))}, options...)
	h, err := New(options...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func testServer(t *testing.T, options ...Option) *Host {
	t.Helper()
	options = append([]Option{WithLogger(zaptest.NewLogger(t))}, options...)
	h, err := Bind("127.0.0.1:0", options...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

// pump services h until at least want events accumulated.
func pump(t *testing.T, h *Host, want int) []Event {
	t.Helper()
	var events []Event
	deadline := time.Now().Add(5 * time.Second)
	for len(events) < want {
		require.False(t, time.Now().After(deadline),
			"timed out waiting for %d events, have %d: %v", want, len(events), events)
		batch, err := h.Service(20 * time.Millisecond)
		require.NoError(t, err)
		events = append(events, batch...)
	}
	return events
}

// pumpPair interleaves servicing of two hosts until each accumulated its
// wanted number of events.
func pumpPair(t *testing.T, a, b *Host, wantA, wantB int) ([]Event, []Event) {
	t.Helper()
	var ea, eb []Event
	deadline := time.Now().Add(5 * time.Second)
	for len(ea) < wantA || len(eb) < wantB {
		require.False(t, time.Now().After(deadline),
			"timed out waiting for %d/%d events, have %d/%d", wantA, wantB, len(ea), len(eb))
		batch, err := a.Service(10 * time.Millisecond)
		require.NoError(t, err)
		ea = append(ea, batch...)
		batch, err = b.Service(10 * time.Millisecond)
		require.NoError(t, err)
		eb = append(eb, batch...)
	}
	return ea, eb
}

// pumpUntilDisconnect services h until the terminal Disconnect for id shows
// up, returning every event collected on the way.
func pumpUntilDisconnect(t *testing.T, h *Host, id PeerID) []Event {
	t.Helper()
	var events []Event
	deadline := time.Now().Add(10 * time.Second)
	for {
		require.False(t, time.Now().After(deadline),
			"no disconnect for peer %d, events so far: %v", id, events)
		batch, err := h.Service(20 * time.Millisecond)
		require.NoError(t, err)
		events = append(events, batch...)
		for _, ev := range batch {
			if ev.Kind == EventDisconnect && ev.Peer == id {
				return events
			}
		}
	}
}

// rawRig wires a Host-driven client to a plain TCP listener so tests can
// observe raw wire bytes on the far side.
type rawRig struct {
	host *Host
	id   PeerID
	conn net.Conn
}

func dialRawRig(t *testing.T, options ...Option) *rawRig {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	host := testHost(t, options...)
	id, err := host.Connect(ln.Addr().String())
	require.NoError(t, err)

	conn, err := ln.Accept()
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	events := pump(t, host, 1)
	require.Len(t, events, 1)
	require.Equal(t, EventConnect, events[0].Kind)
	require.Equal(t, id, events[0].Peer)
	return &rawRig{host: host, id: id, conn: conn}
}

func TestConnectAccept(t *testing.T) {
	server := testServer(t)
	client := testHost(t)

	laddr, ok := server.ListenAddr().(*net.TCPAddr)
	require.True(t, ok)
	require.NotZero(t, laddr.Port)

	id, err := client.Connect(laddr.String())
	require.NoError(t, err)
	assert.Equal(t, PeerID(1), id)

	clientEvents, serverEvents := pumpPair(t, client, server, 1, 1)

	require.Len(t, clientEvents, 1)
	assert.Equal(t, EventConnect, clientEvents[0].Kind)
	assert.Equal(t, id, clientEvents[0].Peer)

	require.Len(t, serverEvents, 1)
	assert.Equal(t, EventConnect, serverEvents[0].Kind)
	assert.Equal(t, PeerID(1), serverEvents[0].Peer)

	assert.Equal(t, 1, client.PeerCount())
	assert.Equal(t, 1, server.PeerCount())

	peerAddr, err := server.PeerAddr(serverEvents[0].Peer)
	require.NoError(t, err)
	require.NotNil(t, peerAddr)

	_, err = client.PeerAddr(PeerID(99))
	assert.ErrorIs(t, err, ErrUnknownPeer)
}

func TestRawWireScenario(t *testing.T) {
	server := testServer(t)

	conn, err := net.Dial("tcp", server.ListenAddr().String())
	require.NoError(t, err)
	defer conn.Close()

	events := pump(t, server, 1)
	require.Len(t, events, 1)
	assert.Equal(t, EventConnect, events[0].Kind)
	assert.Equal(t, PeerID(1), events[0].Peer)

	_, err = conn.Write([]byte{0x00, 0x00, 0x00, 0x03, 0x00, 'a', 'b', 'c'})
	require.NoError(t, err)

	events = pump(t, server, 1)
	require.Len(t, events, 1)
	assert.Equal(t, EventReceive, events[0].Kind)
	assert.Equal(t, PeerID(1), events[0].Peer)
	assert.Equal(t, []byte("abc"), events[0].Payload)
	assert.Equal(t, byte(0), events[0].Channel)
}

func TestSendOrdering(t *testing.T) {
	server := testServer(t)
	client := testHost(t)

	id, err := client.Connect(server.ListenAddr().String())
	require.NoError(t, err)
	clientEvents, serverEvents := pumpPair(t, client, server, 1, 1)
	require.Equal(t, EventConnect, clientEvents[0].Kind)
	serverPeer := serverEvents[0].Peer

	const n = 50
	for i := 0; i < n; i++ {
		payload := []byte(fmt.Sprintf("packet-%02d", i))
		require.NoError(t, client.Send(id, payload, byte(i%3)))
	}

	_, received := pumpPair(t, client, server, 0, n)
	require.Len(t, received, n)
	for i, ev := range received {
		require.Equal(t, EventReceive, ev.Kind)
		assert.Equal(t, serverPeer, ev.Peer)
		assert.Equal(t, fmt.Sprintf("packet-%02d", i), string(ev.Payload))
		assert.Equal(t, byte(i%3), ev.Channel)
	}
}

func TestSendValidation(t *testing.T) {
	server := testServer(t)
	client := testHost(t, WithMaxFrameLength(1024))

	err := client.Send(PeerID(7), []byte("x"), 0)
	assert.ErrorIs(t, err, ErrUnknownPeer)

	id, err := client.Connect(server.ListenAddr().String())
	require.NoError(t, err)

	assert.ErrorIs(t, client.Send(id, nil, 0), ErrEmptyPayload)
	assert.ErrorIs(t, client.Send(id, []byte{}, 0), ErrEmptyPayload)
	assert.ErrorIs(t, client.Send(id, make([]byte, 1025), 0), ErrPacketTooLarge)
	assert.NoError(t, client.Send(id, make([]byte, 1024), 0))
}

func TestSendWhileConnecting(t *testing.T) {
	server := testServer(t)
	client := testHost(t)

	id, err := client.Connect(server.ListenAddr().String())
	require.NoError(t, err)

	// The dial has not been resolved by a Service call yet, so this is
	// queued and delivered once the connection establishes.
	require.NoError(t, client.Send(id, []byte("early"), 2))

	clientEvents, serverEvents := pumpPair(t, client, server, 1, 2)
	require.Equal(t, EventConnect, clientEvents[0].Kind)

	require.Len(t, serverEvents, 2)
	assert.Equal(t, EventConnect, serverEvents[0].Kind)
	assert.Equal(t, EventReceive, serverEvents[1].Kind)
	assert.Equal(t, []byte("early"), serverEvents[1].Payload)
	assert.Equal(t, byte(2), serverEvents[1].Channel)
}

func TestBackpressureCap(t *testing.T) {
	rig := dialRawRig(t, WithSocketSendBuffer(16<<10), WithIdleTimeout(-1))
	require.NoError(t, rig.conn.(*net.TCPConn).SetReadBuffer(16<<10))

	payload := bytes.Repeat([]byte{0xa5}, 2<<20)
	want := appendFrame(nil, 3, payload)
	require.NoError(t, rig.host.Send(rig.id, payload, 3))

	var got []byte
	g := new(errgroup.Group)
	g.Go(func() error {
		buf := make([]byte, 8<<10)
		for {
			n, err := rig.conn.Read(buf)
			got = append(got, buf[:n]...)
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
			// Slow reader: back-pressure has to hold the line on our side.
			time.Sleep(time.Millisecond)
		}
	})

	deadline := time.Now().Add(60 * time.Second)
	for {
		p := rig.host.peersByID[rig.id]
		require.NotNil(t, p)
		if !p.pendingOut() {
			break
		}
		require.False(t, time.Now().After(deadline), "transfer did not finish")
		_, err := rig.host.Service(10 * time.Millisecond)
		require.NoError(t, err)
		// The staged bytes never exceed the cap, however large the packet.
		assert.LessOrEqual(t, p.outBuf.Len(), DefaultWriteBufferCap)
	}

	// Close to hand the reader its EOF, then compare the wire bytes.
	rig.host.Disconnect(rig.id)
	require.NoError(t, g.Wait())
	assert.Equal(t, want, got)

	stats := rig.host.Stats()
	assert.Equal(t, uint64(len(want)), stats.BytesSent)
	assert.Equal(t, uint64(1), stats.PacketsSent)
}

func TestDisconnectGraceful(t *testing.T) {
	rig := dialRawRig(t, WithSocketSendBuffer(16<<10), WithIdleTimeout(-1))
	require.NoError(t, rig.conn.(*net.TCPConn).SetReadBuffer(16<<10))

	var want []byte
	for i := 0; i < 3; i++ {
		payload := bytes.Repeat([]byte{byte('a' + i)}, 64<<10)
		require.NoError(t, rig.host.Send(rig.id, payload, byte(i)))
		want = appendFrame(want, byte(i), payload)
	}

	rig.host.Disconnect(rig.id)

	// 192 KiB cannot all have fit into the socket, so the peer must be
	// draining rather than closed.
	p := rig.host.peersByID[rig.id]
	require.NotNil(t, p)
	assert.Equal(t, stateDisconnecting, p.state)

	// No new sends are accepted while draining.
	assert.ErrorIs(t, rig.host.Send(rig.id, []byte("late"), 0), ErrPeerClosed)

	var got []byte
	g := new(errgroup.Group)
	g.Go(func() error {
		b, err := io.ReadAll(rig.conn)
		got = b
		return err
	})

	events := pumpUntilDisconnect(t, rig.host, rig.id)
	last := events[len(events)-1]
	assert.Equal(t, EventDisconnect, last.Kind)
	assert.Equal(t, ReasonRequested, last.Reason)
	for _, ev := range events[:len(events)-1] {
		assert.NotEqual(t, EventDisconnect, ev.Kind, "second disconnect for the peer")
		assert.NotEqual(t, EventReceive, ev.Kind, "receive after disconnect was requested")
	}

	// Everything queued before the disconnect arrived intact.
	require.NoError(t, g.Wait())
	assert.Equal(t, want, got)
	assert.Equal(t, 0, rig.host.PeerCount())
}

func TestDisconnectNowDiscards(t *testing.T) {
	rig := dialRawRig(t, WithSocketSendBuffer(16<<10), WithIdleTimeout(-1))
	require.NoError(t, rig.conn.(*net.TCPConn).SetReadBuffer(16<<10))

	payload := bytes.Repeat([]byte{0x33}, 256<<10)
	want := appendFrame(nil, 0, payload)
	require.NoError(t, rig.host.Send(rig.id, payload, 0))

	rig.host.DisconnectNow(rig.id)

	// The peer is gone immediately; its id is stale.
	assert.ErrorIs(t, rig.host.Send(rig.id, []byte("x"), 0), ErrUnknownPeer)
	assert.Equal(t, 0, rig.host.PeerCount())

	// Exactly one terminal event was queued, delivered without blocking.
	events, err := rig.host.Service(0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventDisconnect, events[0].Kind)
	assert.Equal(t, rig.id, events[0].Peer)
	assert.Equal(t, ReasonRequested, events[0].Reason)

	// And nothing ever follows it.
	for i := 0; i < 3; i++ {
		events, err := rig.host.Service(0)
		require.NoError(t, err)
		assert.Empty(t, events)
	}

	// The wire carries at most a prefix of the frame: queued-but-unsent
	// bytes were discarded.
	got, err := io.ReadAll(rig.conn)
	require.NoError(t, err)
	assert.Less(t, len(got), len(want))
	assert.Equal(t, want[:len(got)], got)
}

func TestRemoteCloseDrains(t *testing.T) {
	server := testServer(t, WithSocketSendBuffer(16<<10), WithIdleTimeout(-1))

	conn, err := net.Dial("tcp", server.ListenAddr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.(*net.TCPConn).SetReadBuffer(16<<10))

	events := pump(t, server, 1)
	require.Equal(t, EventConnect, events[0].Kind)
	peer := events[0].Peer

	payload := bytes.Repeat([]byte{0x42}, 512<<10)
	want := appendFrame(nil, 1, payload)
	require.NoError(t, server.Send(peer, payload, 1))

	// Half-close: the server still owes half a megabyte and must drain it
	// before tearing the peer down.
	require.NoError(t, conn.(*net.TCPConn).CloseWrite())

	var got []byte
	g := new(errgroup.Group)
	g.Go(func() error {
		b, err := io.ReadAll(conn)
		got = b
		return err
	})

	events = pumpUntilDisconnect(t, server, peer)
	last := events[len(events)-1]
	assert.Equal(t, ReasonRemote, last.Reason)
	for _, ev := range events {
		assert.NotEqual(t, EventReceive, ev.Kind)
		assert.NotEqual(t, EventTimeout, ev.Kind)
	}

	require.NoError(t, g.Wait())
	assert.Equal(t, want, got)
}

func TestWriteInterestDropsWhenDrained(t *testing.T) {
	rig := dialRawRig(t, WithSocketSendBuffer(16<<10), WithIdleTimeout(-1))
	require.NoError(t, rig.conn.(*net.TCPConn).SetReadBuffer(16<<10))

	p := rig.host.peersByID[rig.id]
	require.NotNil(t, p)
	assert.Equal(t, interestRead, p.interest)

	payload := bytes.Repeat([]byte{1}, 256<<10)
	require.NoError(t, rig.host.Send(rig.id, payload, 0))
	assert.Equal(t, interestRead|interestWrite, p.interest)

	g := new(errgroup.Group)
	g.Go(func() error {
		_, err := io.Copy(io.Discard, rig.conn)
		return err
	})

	deadline := time.Now().Add(30 * time.Second)
	for p.pendingOut() {
		require.False(t, time.Now().After(deadline))
		_, err := rig.host.Service(10 * time.Millisecond)
		require.NoError(t, err)
	}
	assert.Equal(t, interestRead, p.interest)

	rig.host.DisconnectNow(rig.id)
	require.NoError(t, g.Wait())
}

func TestIdleTimeout(t *testing.T) {
	mock := clock.NewMock()
	server := testServer(t, WithClock(mock))

	conn, err := net.Dial("tcp", server.ListenAddr().String())
	require.NoError(t, err)
	defer conn.Close()

	events := pump(t, server, 1)
	require.Equal(t, EventConnect, events[0].Kind)
	peer := events[0].Peer

	// Step past the default idle deadline with no bytes moving.
	mock.Add(DefaultIdleTimeout + time.Second)

	events = pump(t, server, 2)
	require.Len(t, events, 2)
	assert.Equal(t, EventTimeout, events[0].Kind)
	assert.Equal(t, peer, events[0].Peer)
	assert.Equal(t, EventDisconnect, events[1].Kind)
	assert.Equal(t, peer, events[1].Peer)
	assert.Equal(t, ReasonTimeout, events[1].Reason)
	assert.Equal(t, 0, server.PeerCount())
}

func TestIdleTimeoutDisabled(t *testing.T) {
	mock := clock.NewMock()
	server := testServer(t, WithClock(mock), WithIdleTimeout(-1))

	conn, err := net.Dial("tcp", server.ListenAddr().String())
	require.NoError(t, err)
	defer conn.Close()

	events := pump(t, server, 1)
	require.Equal(t, EventConnect, events[0].Kind)

	mock.Add(time.Hour)

	got, err := server.Service(0)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 1, server.PeerCount())
}

func TestConnectRefused(t *testing.T) {
	// Bind a port, note it, and close it again so the dial gets refused.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	client := testHost(t)
	id, err := client.Connect(addr)
	require.NoError(t, err, "the failure is asynchronous")

	events := pumpUntilDisconnect(t, client, id)
	last := events[len(events)-1]
	assert.Equal(t, ReasonConnectFailed, last.Reason)
	for _, ev := range events {
		assert.NotEqual(t, EventConnect, ev.Kind)
	}
	assert.Equal(t, 0, client.PeerCount())
}

func TestConnectTimeout(t *testing.T) {
	mock := clock.NewMock()
	client := testHost(t, WithClock(mock), WithConnectTimeout(2*time.Second))

	// A blackhole address: SYNs leave and nothing comes back. If this
	// environment routes it after all, the dial fails some other way but
	// with the same terminal reason.
	id, err := client.Connect("10.255.255.1:9")
	if err != nil {
		t.Skipf("dial failed synchronously: %v", err)
	}

	events, err := client.Service(0)
	require.NoError(t, err)
	if len(events) == 0 {
		// Still in flight; run out the dial deadline.
		mock.Add(3 * time.Second)
		events = pumpUntilDisconnect(t, client, id)
	}
	last := events[len(events)-1]
	assert.Equal(t, EventDisconnect, last.Kind)
	assert.Equal(t, ReasonConnectFailed, last.Reason)
	assert.Equal(t, 0, client.PeerCount())
}

func TestDisconnectConnecting(t *testing.T) {
	server := testServer(t)
	client := testHost(t)

	id, err := client.Connect(server.ListenAddr().String())
	require.NoError(t, err)

	// Nothing was delivered yet, so there is nothing to drain.
	client.Disconnect(id)

	events, err := client.Service(0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventDisconnect, events[0].Kind)
	assert.Equal(t, id, events[0].Peer)
	assert.Equal(t, ReasonRequested, events[0].Reason)
	assert.Equal(t, 0, client.PeerCount())
}

func TestDisconnectUnknownIsNoop(t *testing.T) {
	client := testHost(t)
	client.Disconnect(PeerID(12345))
	client.DisconnectNow(PeerID(12345))

	events, err := client.Service(0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestMalformedFrameDisconnects(t *testing.T) {
	t.Run("oversize length", func(t *testing.T) {
		server := testServer(t, WithMaxFrameLength(1024))

		conn, err := net.Dial("tcp", server.ListenAddr().String())
		require.NoError(t, err)
		defer conn.Close()

		events := pump(t, server, 1)
		peer := events[0].Peer

		// A good frame first, then a header declaring twice the limit:
		// the good one is delivered, the bad one kills the connection.
		buf := appendFrame(nil, 0, []byte("ok"))
		buf = appendFrameHeader(buf, 0, 2048)
		_, err = conn.Write(buf)
		require.NoError(t, err)

		events = pump(t, server, 2)
		require.Len(t, events, 2)
		assert.Equal(t, EventReceive, events[0].Kind)
		assert.Equal(t, []byte("ok"), events[0].Payload)
		assert.Equal(t, EventDisconnect, events[1].Kind)
		assert.Equal(t, peer, events[1].Peer)
		assert.Equal(t, ReasonProtocol, events[1].Reason)
	})

	t.Run("zero length", func(t *testing.T) {
		server := testServer(t)

		conn, err := net.Dial("tcp", server.ListenAddr().String())
		require.NoError(t, err)
		defer conn.Close()

		events := pump(t, server, 1)
		peer := events[0].Peer

		_, err = conn.Write([]byte{0, 0, 0, 0, 7})
		require.NoError(t, err)

		events = pump(t, server, 1)
		require.Len(t, events, 1)
		assert.Equal(t, EventDisconnect, events[0].Kind)
		assert.Equal(t, peer, events[0].Peer)
		assert.Equal(t, ReasonProtocol, events[0].Reason)
	})
}

func TestTimeoutMsec(t *testing.T) {
	assert.Equal(t, -1, timeoutMsec(-time.Second))
	assert.Equal(t, 0, timeoutMsec(0))
	assert.Equal(t, 1, timeoutMsec(100*time.Microsecond))
	assert.Equal(t, 250, timeoutMsec(250*time.Millisecond))
}

func TestServiceZeroNeverBlocks(t *testing.T) {
	server := testServer(t)

	start := time.Now()
	for i := 0; i < 10; i++ {
		events, err := server.Service(0)
		require.NoError(t, err)
		assert.Empty(t, events)
	}
	assert.Less(t, time.Since(start), time.Second)
}

func TestClose(t *testing.T) {
	server := testServer(t)
	client := testHost(t)

	id, err := client.Connect(server.ListenAddr().String())
	require.NoError(t, err)
	pumpPair(t, client, server, 1, 1)

	require.NoError(t, client.Close())
	assert.ErrorIs(t, client.Close(), ErrHostClosed)

	_, err = client.Service(0)
	assert.ErrorIs(t, err, ErrHostClosed)
	assert.ErrorIs(t, client.Send(id, []byte("x"), 0), ErrHostClosed)
	_, err = client.Connect(server.ListenAddr().String())
	assert.ErrorIs(t, err, ErrHostClosed)
	assert.Equal(t, 0, client.PeerCount())
}

func TestFlushWithoutService(t *testing.T) {
	rig := dialRawRig(t, WithSocketSendBuffer(16<<10), WithIdleTimeout(-1))
	require.NoError(t, rig.conn.(*net.TCPConn).SetReadBuffer(16<<10))

	payload := bytes.Repeat([]byte{0x7e}, 512<<10)
	want := appendFrame(nil, 5, payload)
	require.NoError(t, rig.host.Send(rig.id, payload, 5))

	var got []byte
	g := new(errgroup.Group)
	g.Go(func() error {
		buf := make([]byte, 8<<10)
		for {
			n, err := rig.conn.Read(buf)
			got = append(got, buf[:n]...)
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
		}
	})

	// Drain with Flush alone; no polling involved.
	deadline := time.Now().Add(30 * time.Second)
	for {
		p := rig.host.peersByID[rig.id]
		require.NotNil(t, p)
		if !p.pendingOut() {
			break
		}
		require.False(t, time.Now().After(deadline), "flush never drained")
		rig.host.Flush()
		time.Sleep(time.Millisecond)
	}

	rig.host.DisconnectNow(rig.id)
	require.NoError(t, g.Wait())
	assert.Equal(t, want, got)
}

func TestOutboundInboundBuffered(t *testing.T) {
	rig := dialRawRig(t, WithSocketSendBuffer(16<<10), WithIdleTimeout(-1))
	require.NoError(t, rig.conn.(*net.TCPConn).SetReadBuffer(16<<10))

	_, err := rig.host.OutboundBuffered(PeerID(99))
	assert.ErrorIs(t, err, ErrUnknownPeer)

	payload := bytes.Repeat([]byte{2}, 256<<10)
	require.NoError(t, rig.host.Send(rig.id, payload, 0))

	// The socket cannot have taken everything; some of it is buffered.
	buffered, err := rig.host.OutboundBuffered(rig.id)
	require.NoError(t, err)
	assert.Positive(t, buffered)
	assert.LessOrEqual(t, buffered, len(payload)+frameHeaderLen)

	// A partial frame on the inbound side stays buffered until complete.
	_, err = rig.conn.Write([]byte{0, 0, 0, 9, 1, 'p', 'a', 'r'})
	require.NoError(t, err)
	deadline := time.Now().Add(5 * time.Second)
	for {
		require.False(t, time.Now().After(deadline), "partial frame never buffered")
		_, err := rig.host.Service(10 * time.Millisecond)
		require.NoError(t, err)
		n, err := rig.host.InboundBuffered(rig.id)
		require.NoError(t, err)
		if n == 8 {
			break
		}
	}
}
