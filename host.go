//go:build linux
// +build linux

package asnet

import (
	"net"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/valyala/bytebufferpool"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/htrefil/asnet/sockets"
)

// Host owns the event loop: the poller, the optional listening socket, and
// every peer. All methods except Stats must be called from one goroutine;
// the Host carries no internal synchronization. The sole suspension point
// is the bounded poll inside Service.
type Host struct {
	opts   *Options
	logger *zap.SugaredLogger
	id     string
	clock  clock.Clock

	poller *poller

	listenFd   int
	listenAddr net.Addr
	connOpts   []sockets.Option

	peersByID map[PeerID]*peer
	peersByFd map[int]*peer
	nextID    PeerID

	events  []Event
	readBuf []byte

	stats  hostStats
	closed bool
}

// New creates a client-only Host: it can dial out but not accept.
func New(options ...Option) (*Host, error) {
	opts := loadOptions(options...)
	logger, err := buildLogger(opts)
	if err != nil {
		return nil, errors.Wrap(err, "build logger")
	}
	poller, err := openPoller(opts.PollEventsCap)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()[:8]
	return &Host{
		opts:      opts,
		logger:    logger.Sugar().With("host", id),
		id:        id,
		clock:     opts.Clock,
		poller:    poller,
		listenFd:  -1,
		connOpts:  sockets.SetOptions("tcp", opts.connSocketOptions()),
		peersByID: make(map[PeerID]*peer),
		peersByFd: make(map[int]*peer),
		readBuf:   make([]byte, opts.ReadBufferCap),
	}, nil
}

// Bind creates a Host accepting connections on addr, "host:port" form.
// Port 0 binds a free port; ListenAddr reports the one chosen.
func Bind(addr string, options ...Option) (*Host, error) {
	h, err := New(options...)
	if err != nil {
		return nil, err
	}
	lfd, laddr, err := sockets.TCPSocket("tcp", addr, true, sockets.SetOptions("tcp", h.opts.listenSocketOptions())...)
	if err != nil {
		_ = h.Close()
		return nil, err
	}
	if err = h.poller.register(lfd, interestRead); err != nil {
		unix.Close(lfd)
		_ = h.Close()
		return nil, err
	}
	h.listenFd = lfd
	h.listenAddr = laddr
	h.logger.Infow("listening", "addr", laddr)
	return h, nil
}

// Connect starts a non-blocking dial to addr and returns the new peer's id
// immediately. The dial resolves through events: Connect on success,
// Disconnect with reason ConnectFailed on refusal, error, or deadline.
// Packets may be sent on the returned id right away; they are queued until
// the connection is established.
func (h *Host) Connect(addr string) (PeerID, error) {
	if h.closed {
		return 0, ErrHostClosed
	}
	fd, raddr, err := sockets.TCPSocket("tcp", addr, false, h.connOpts...)
	if err != nil {
		return 0, err
	}
	p, err := h.addPeer(fd, raddr, stateConnecting, interestWrite)
	if err != nil {
		return 0, err
	}
	if h.opts.ConnectTimeout > 0 {
		p.dialDeadline = h.clock.Now().Add(h.opts.ConnectTimeout)
	}
	h.stats.dialed.Inc()
	h.logger.Debugw("dialing", "peer", p.id, "addr", raddr)
	return p.id, nil
}

// addPeer registers fd with the poller and tracks a new peer for it. Peer
// ids are assigned monotonically and never reused, so a stale id can never
// alias a later connection; id 0 is never assigned.
func (h *Host) addPeer(fd int, addr net.Addr, state connState, in interest) (*peer, error) {
	if err := h.poller.register(fd, in); err != nil {
		unix.Close(fd)
		return nil, err
	}
	h.nextID++
	p := &peer{
		id:           h.nextID,
		fd:           fd,
		addr:         addr,
		state:        state,
		interest:     in,
		inbound:      bytebufferpool.Get(),
		outBuf:       bytebufferpool.Get(),
		lastActivity: h.clock.Now(),
	}
	h.peersByID[p.id] = p
	h.peersByFd[fd] = p
	h.stats.peers.Inc()
	return p, nil
}

// Service performs exactly one poll and drives every connection the kernel
// reported ready, returning all events produced in occurrence order.
// timeout < 0 blocks until there is activity, 0 never blocks, positive
// bounds the wait. Events queued between calls, by DisconnectNow or a
// failed optimistic flush, are delivered first without waiting.
//
// Only poller failures are returned as errors; anything that goes wrong on
// a single connection becomes a Disconnect event for that peer alone.
func (h *Host) Service(timeout time.Duration) ([]Event, error) {
	if h.closed {
		return nil, ErrHostClosed
	}
	msec := timeoutMsec(timeout)
	if len(h.events) > 0 {
		msec = 0
	}
	ready, err := h.poller.wait(msec)
	// Sampled after the poll so time spent sleeping never postdates the
	// activity stamps it is compared against.
	now := h.clock.Now()
	if err != nil {
		return h.takeEvents(), err
	}
	for _, ev := range ready {
		h.handleReady(ev, now)
	}
	h.sweepDeadlines(now)
	return h.takeEvents(), nil
}

func (h *Host) handleReady(ev pollEvent, now time.Time) {
	if ev.fd == h.listenFd {
		h.acceptPeers(now)
		return
	}
	p := h.peersByFd[ev.fd]
	if p == nil {
		// Torn down earlier in this batch.
		return
	}
	if p.state == stateConnecting {
		// Failed dials surface as writable too (via EPOLLERR/EPOLLHUP),
		// so writable readiness fully resolves the dial either way.
		if ev.writable {
			h.finishConnect(p, now)
		}
		return
	}
	if ev.readable && p.state == stateConnected {
		h.readPeer(p, now)
	}
	if ev.writable && (p.state == stateConnected || p.state == stateDisconnecting) {
		h.writePeer(p, now)
	}
}

// acceptPeers accepts until the listener would block. Accepted connections
// are Connected immediately; the transport handshake already happened.
func (h *Host) acceptPeers(now time.Time) {
	for {
		fd, sa, err := sockets.Accept(h.listenFd)
		if err != nil {
			switch err {
			case unix.EAGAIN:
				return
			case unix.EINTR, unix.ECONNABORTED:
				continue
			default:
				h.logger.Warnw("accept failed", "error", err)
				return
			}
		}
		for _, opt := range h.connOpts {
			if err := opt.SetSockOpt(fd, opt.Opt); err != nil {
				h.logger.Warnw("socket option on accepted conn", "error", err)
			}
		}
		p, err := h.addPeer(fd, sockets.SockaddrToTCPAddr(sa), stateAccepting, interestRead)
		if err != nil {
			h.logger.Warnw("register accepted conn", "error", err)
			continue
		}
		p.state = stateConnected
		p.lastActivity = now
		h.stats.accepted.Inc()
		h.pushEvent(Event{Kind: EventConnect, Peer: p.id})
		h.logger.Debugw("accepted", "peer", p.id, "addr", p.addr)
	}
}

// sweepDeadlines enforces dial and idle deadlines against the clock sample
// taken after this call's poll.
func (h *Host) sweepDeadlines(now time.Time) {
	idle := h.opts.IdleTimeout
	for _, p := range h.peersByID {
		switch p.state {
		case stateConnecting:
			if !p.dialDeadline.IsZero() && now.After(p.dialDeadline) {
				h.logger.Debugw("dial timed out", "peer", p.id, "addr", p.addr)
				h.closePeer(p, ReasonConnectFailed)
			}
		case stateConnected, stateDisconnecting:
			if idle > 0 && now.Sub(p.lastActivity) > idle {
				h.pushEvent(Event{Kind: EventTimeout, Peer: p.id})
				h.closePeer(p, ReasonTimeout)
			}
		}
	}
}

// Send enqueues payload as a single frame tagged with channel on peer id.
// The payload is not copied; the caller must not modify it afterwards.
// Sends on a Connecting peer are queued and delivered once the connection
// establishes. Sends on a Disconnecting or Disconnected peer fail with
// ErrPeerClosed. Delivery is not acknowledged: a packet accepted here can
// still be lost if the connection fails before it drains.
func (h *Host) Send(id PeerID, payload []byte, channel byte) error {
	if h.closed {
		return ErrHostClosed
	}
	p := h.peersByID[id]
	if p == nil {
		return ErrUnknownPeer
	}
	if p.state == stateDisconnecting || p.state == stateDisconnected {
		return ErrPeerClosed
	}
	if len(payload) == 0 {
		return ErrEmptyPayload
	}
	if len(payload) > h.opts.MaxFrameLength {
		return ErrPacketTooLarge
	}
	p.outQueue = append(p.outQueue, outPacket{channel: channel, payload: payload})
	p.queuedBytes += len(payload)
	h.stats.packetsSent.Inc()
	if p.state == stateConnected {
		// Optimistic flush; whatever the socket refuses stays staged and
		// the peer keeps writable interest.
		h.writePeer(p, h.clock.Now())
	}
	return nil
}

// Disconnect requests a graceful close of id: packets already queued are
// delivered first, then the connection closes with reason Requested. No
// further sends are accepted and no further Receive events are produced.
// Unknown ids are ignored.
func (h *Host) Disconnect(id PeerID) {
	p := h.peersByID[id]
	if p == nil {
		return
	}
	switch p.state {
	case stateConnecting:
		// Nothing can have been delivered yet; don't wait out the dial.
		h.closePeer(p, ReasonRequested)
	case stateConnected:
		if !p.pendingOut() {
			h.closePeer(p, ReasonRequested)
			return
		}
		p.state = stateDisconnecting
		p.reason = ReasonRequested
		h.updateInterest(p)
	}
}

// DisconnectNow closes id immediately, discarding queued but unsent
// packets. The terminal Disconnect event is still delivered. Unknown ids
// are ignored.
func (h *Host) DisconnectNow(id PeerID) {
	p := h.peersByID[id]
	if p == nil {
		return
	}
	h.closePeer(p, ReasonRequested)
}

// Flush tries to push pending outbound bytes for every peer without
// polling for readiness.
func (h *Host) Flush() {
	if h.closed {
		return
	}
	now := h.clock.Now()
	for _, p := range h.peersByID {
		if (p.state == stateConnected || p.state == stateDisconnecting) && p.pendingOut() {
			h.writePeer(p, now)
		}
	}
}

// Close tears down every peer, the listener, and the poller. Peers closed
// this way produce no Disconnect events. The Host is unusable afterwards;
// all operations fail with ErrHostClosed.
func (h *Host) Close() error {
	if h.closed {
		return ErrHostClosed
	}
	h.closed = true
	var err error
	for _, p := range h.peersByID {
		p.state = stateDisconnected
		err = multierr.Append(err, h.teardownPeer(p))
	}
	if h.listenFd >= 0 {
		err = multierr.Append(err, errors.Wrap(unix.Close(h.listenFd), "close listener"))
		h.listenFd = -1
	}
	err = multierr.Append(err, h.poller.close())
	h.events = nil
	h.logger.Infow("closed")
	_ = h.logger.Sync()
	return err
}

// ListenAddr returns the listener's bound address, or nil for client-only
// hosts.
func (h *Host) ListenAddr() net.Addr {
	return h.listenAddr
}

// PeerAddr returns the remote address of peer id.
func (h *Host) PeerAddr(id PeerID) (net.Addr, error) {
	p := h.peersByID[id]
	if p == nil {
		return nil, ErrUnknownPeer
	}
	return p.addr, nil
}

// PeerCount returns the number of tracked peers in any live state.
func (h *Host) PeerCount() int {
	return len(h.peersByID)
}

// OutboundBuffered returns the bytes accepted from Send for id but not yet
// written to the socket.
func (h *Host) OutboundBuffered(id PeerID) (int, error) {
	p := h.peersByID[id]
	if p == nil {
		return 0, ErrUnknownPeer
	}
	return p.outboundBuffered(), nil
}

// InboundBuffered returns the bytes received from id not yet decoded into
// a complete frame.
func (h *Host) InboundBuffered(id PeerID) (int, error) {
	p := h.peersByID[id]
	if p == nil {
		return 0, ErrUnknownPeer
	}
	return p.inboundBuffered(), nil
}

func (h *Host) pushEvent(ev Event) {
	h.events = append(h.events, ev)
}

// takeEvents hands the accumulated batch over to the caller and starts a
// fresh one, so a returned batch is never mutated by later activity.
func (h *Host) takeEvents() []Event {
	evs := h.events
	h.events = nil
	return evs
}

// timeoutMsec converts a Service timeout to poll milliseconds: negative
// waits indefinitely, zero polls without blocking, and positive values
// round up so a sub-millisecond bound stays non-zero.
func timeoutMsec(d time.Duration) int {
	switch {
	case d < 0:
		return -1
	case d == 0:
		return 0
	default:
		msec := int(d / time.Millisecond)
		if msec == 0 {
			msec = 1
		}
		return msec
	}
}
