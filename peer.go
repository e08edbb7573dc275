//go:build linux
// +build linux

package asnet

import (
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/valyala/bytebufferpool"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// connState tracks where a peer is in its connection lifecycle.
type connState int

const (
	// stateConnecting means the dial is in flight; the socket is registered
	// writable and resolves on the first writable or error readiness.
	stateConnecting connState = iota
	// stateAccepting is the transient state of an inbound connection while
	// it is being set up; it becomes stateConnected before the accept loop
	// moves on.
	stateAccepting
	// stateConnected is the normal bidirectional state.
	stateConnected
	// stateDisconnecting drains queued outbound bytes before closing; no
	// further reads are taken and no further sends are accepted.
	stateDisconnecting
	// stateDisconnected is terminal; the peer is removed from the Host.
	stateDisconnected
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateAccepting:
		return "accepting"
	case stateConnected:
		return "connected"
	case stateDisconnecting:
		return "disconnecting"
	case stateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// outPacket is one queued application packet awaiting framing.
type outPacket struct {
	channel byte
	payload []byte
}

// peer is the engine-side record of one TCP connection. It is owned
// exclusively by its Host and carries no synchronization.
//
// Buffer invariants, preserved across partial reads and writes:
//   - inbound holds the undecoded tail of the byte stream read so far;
//     complete frames are decoded out of it immediately.
//   - outBuf holds framed bytes the socket has not accepted yet, in queue
//     order, and never grows past the configured write buffer cap.
//   - outQueue holds whole packets not yet staged; staged is the packet
//     currently being streamed through outBuf when it is too large to
//     stage in one piece.
type peer struct {
	id     PeerID
	fd     int
	addr   net.Addr
	state  connState
	reason DisconnectReason

	interest interest

	inbound *bytebufferpool.ByteBuffer

	outQueue    []outPacket
	staged      outPacket
	stagedOff   int
	queuedBytes int
	outBuf      *bytebufferpool.ByteBuffer

	lastActivity time.Time
	dialDeadline time.Time
}

// pendingOut reports whether any outbound bytes remain to stage or write.
func (p *peer) pendingOut() bool {
	return p.outBuf.Len() > 0 || p.staged.payload != nil || len(p.outQueue) > 0
}

// outboundBuffered is the number of bytes accepted from Send but not yet
// written to the socket: unstaged payload bytes plus staged frame bytes.
func (p *peer) outboundBuffered() int {
	return p.queuedBytes + p.outBuf.Len()
}

// inboundBuffered is the number of received bytes not yet decoded into a
// complete frame.
func (p *peer) inboundBuffered() int {
	return len(p.inbound.B)
}

// readPeer drains p's socket and decodes every complete frame, in order.
// EOF moves the peer to draining when it still owes bytes, otherwise it
// closes with reason Remote.
func (h *Host) readPeer(p *peer, now time.Time) {
	for {
		n, err := unix.Read(p.fd, h.readBuf)
		if n > 0 {
			p.inbound.B = append(p.inbound.B, h.readBuf[:n]...)
			h.stats.bytesReceived.Add(uint64(n))
			p.lastActivity = now
			if !h.decodeFrames(p) {
				return
			}
			continue
		}
		if err != nil {
			if err == unix.EAGAIN {
				return
			}
			if err == unix.EINTR {
				continue
			}
			h.logger.Debugw("read failed", "peer", p.id, "error", err)
			h.closePeer(p, ReasonError)
			return
		}
		// EOF. A partially decoded frame tail is discarded; anything still
		// queued locally is owed to the half-closed socket first.
		if p.pendingOut() {
			p.state = stateDisconnecting
			p.reason = ReasonRemote
			h.updateInterest(p)
		} else {
			h.closePeer(p, ReasonRemote)
		}
		return
	}
}

// decodeFrames parses every complete frame buffered on p, emitting Receive
// events in decode order, and compacts the buffer down to the undecoded
// tail. Returns false if a malformed frame tore the peer down.
func (h *Host) decodeFrames(p *peer) bool {
	off := 0
	for {
		channel, payload, consumed, err := parseFrame(p.inbound.B[off:], h.opts.MaxFrameLength)
		if err != nil {
			h.logger.Warnw("malformed frame", "peer", p.id, "error", err)
			h.closePeer(p, ReasonProtocol)
			return false
		}
		if consumed == 0 {
			break
		}
		// The parsed payload aliases the inbound buffer, which is about to
		// be compacted; events carry their own copy.
		out := make([]byte, len(payload))
		copy(out, payload)
		h.pushEvent(Event{Kind: EventReceive, Peer: p.id, Payload: out, Channel: channel})
		h.stats.packetsReceived.Inc()
		off += consumed
	}
	if off > 0 {
		p.inbound.B = append(p.inbound.B[:0], p.inbound.B[off:]...)
	}
	return true
}

// writePeer stages queued packets and flushes them until the socket would
// block or everything drained. A draining peer that reaches empty closes
// with the reason recorded when the drain began.
func (h *Host) writePeer(p *peer, now time.Time) {
	for {
		h.stageFrames(p)
		if p.outBuf.Len() == 0 {
			break
		}
		n, err := unix.Write(p.fd, p.outBuf.B)
		if n > 0 {
			p.outBuf.B = p.outBuf.B[:copy(p.outBuf.B, p.outBuf.B[n:])]
			h.stats.bytesSent.Add(uint64(n))
			p.lastActivity = now
		}
		if err != nil {
			if err == unix.EAGAIN {
				break
			}
			if err == unix.EINTR {
				continue
			}
			h.logger.Debugw("write failed", "peer", p.id, "error", err)
			h.closePeer(p, ReasonError)
			return
		}
		if n == 0 {
			break
		}
	}
	if p.state == stateDisconnecting && !p.pendingOut() {
		h.closePeer(p, p.reason)
		return
	}
	h.updateInterest(p)
}

// stageFrames moves queued packets into p's staging buffer, framing them on
// the way, without letting the buffer exceed the write buffer cap. A packet
// larger than the cap streams through in chunks as the socket drains.
func (h *Host) stageFrames(p *peer) {
	for {
		room := h.opts.WriteBufferCap - p.outBuf.Len()
		if p.staged.payload != nil {
			if room <= 0 {
				return
			}
			rest := p.staged.payload[p.stagedOff:]
			n := len(rest)
			if n > room {
				n = room
			}
			p.outBuf.B = append(p.outBuf.B, rest[:n]...)
			p.stagedOff += n
			p.queuedBytes -= n
			if p.stagedOff == len(p.staged.payload) {
				p.staged = outPacket{}
				p.stagedOff = 0
			}
			continue
		}
		if len(p.outQueue) == 0 {
			return
		}
		// Starting a frame needs room for the header plus at least one
		// payload byte, so every pass makes progress.
		if room < frameHeaderLen+1 {
			return
		}
		next := p.outQueue[0]
		p.outQueue[0] = outPacket{}
		p.outQueue = p.outQueue[1:]
		if len(p.outQueue) == 0 {
			p.outQueue = nil
		}
		p.outBuf.B = appendFrameHeader(p.outBuf.B, next.channel, len(next.payload))
		room -= frameHeaderLen
		n := len(next.payload)
		if n > room {
			n = room
		}
		p.outBuf.B = append(p.outBuf.B, next.payload[:n]...)
		p.queuedBytes -= n
		if n < len(next.payload) {
			p.staged = next
			p.stagedOff = n
		}
	}
}

// finishConnect resolves an in-flight dial once its socket reports
// writable: SO_ERROR decides between Connected and ConnectFailed.
func (h *Host) finishConnect(p *peer, now time.Time) {
	soErr, err := unix.GetsockoptInt(p.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err == nil && soErr != 0 {
		err = unix.Errno(soErr)
	}
	if err != nil {
		h.logger.Debugw("connect failed", "peer", p.id, "addr", p.addr, "error", err)
		h.closePeer(p, ReasonConnectFailed)
		return
	}
	p.state = stateConnected
	p.lastActivity = now
	p.dialDeadline = time.Time{}
	h.pushEvent(Event{Kind: EventConnect, Peer: p.id})
	h.logger.Debugw("connected", "peer", p.id, "addr", p.addr)
	h.updateInterest(p)
	// Packets queued during the dial can go out now.
	if p.state == stateConnected && p.pendingOut() {
		h.writePeer(p, now)
	}
}

// updateInterest re-registers p for the readiness its state calls for:
// reads only while connected, writes only while bytes are pending.
func (h *Host) updateInterest(p *peer) {
	var want interest
	if p.state == stateConnected {
		want = interestRead
	}
	if p.pendingOut() {
		want |= interestWrite
	}
	if want == p.interest {
		return
	}
	if err := h.poller.modify(p.fd, want); err != nil {
		h.logger.Warnw("update interest failed", "peer", p.id, "error", err)
		h.closePeer(p, ReasonError)
		return
	}
	p.interest = want
}

// closePeer moves p to Disconnected, discarding whatever is still buffered,
// emits the single terminal Disconnect event, and removes the peer from the
// Host. Safe to call repeatedly; only the first call takes effect.
func (h *Host) closePeer(p *peer, reason DisconnectReason) {
	if p.state == stateDisconnected {
		return
	}
	p.state = stateDisconnected
	p.reason = reason
	if err := h.teardownPeer(p); err != nil {
		h.logger.Warnw("peer teardown", "peer", p.id, "error", err)
	}
	h.pushEvent(Event{Kind: EventDisconnect, Peer: p.id, Reason: reason})
	h.stats.disconnects.Inc()
	h.logger.Debugw("peer closed", "peer", p.id, "reason", reason)
}

// teardownPeer releases p's socket and pooled buffers and drops it from the
// peer maps. The terminal event, if any, is the caller's business.
func (h *Host) teardownPeer(p *peer) error {
	err := multierr.Append(
		errors.Wrap(h.poller.deregister(p.fd), "deregister"),
		errors.Wrap(unix.Close(p.fd), "close fd"),
	)
	bytebufferpool.Put(p.inbound)
	bytebufferpool.Put(p.outBuf)
	p.inbound, p.outBuf = nil, nil
	delete(h.peersByID, p.id)
	delete(h.peersByFd, p.fd)
	h.stats.peers.Dec()
	return err
}
