package asnet

import (
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/htrefil/asnet/sockets"
)

// TCPSocketOpt is the type of TCP socket options.
type TCPSocketOpt = sockets.TCPSocketOpt

// Available TCP socket options.
const (
	TCPNoDelay = sockets.TCPNoDelay
	TCPDelay   = sockets.TCPDelay
)

// Defaults applied by normalize when an option is left at its zero value.
const (
	// DefaultReadBufferCap is the size of the scratch buffer used for
	// draining readable sockets.
	DefaultReadBufferCap = 64 << 10

	// DefaultWriteBufferCap bounds the bytes staged on a peer's socket
	// buffer; a frame larger than the cap is streamed through it in
	// chunks as the socket drains.
	DefaultWriteBufferCap = 64 << 10

	// DefaultIdleTimeout is how long a connected peer may stay silent
	// before it is timed out.
	DefaultIdleTimeout = 5 * time.Second

	// DefaultConnectTimeout is how long an in-progress dial may take
	// before it is reported as failed.
	DefaultConnectTimeout = 10 * time.Second

	// DefaultPollEventsCap is the maximum number of readiness events
	// consumed per poll.
	DefaultPollEventsCap = 256
)

// Option is a function that will set up option.
type Option func(opts *Options)

func loadOptions(options ...Option) *Options {
	opts := new(Options)
	for _, option := range options {
		option(opts)
	}
	opts.normalize()
	return opts
}

// Options are configurations for a Host.
type Options struct {
	// Logger is the customized logger for logging info, if it is not set,
	// a default logger is used.
	Logger *zap.Logger

	// LogPath is the local path where logs will be written, this is the
	// easiest way to set up logging, asnet instantiates a default
	// rotating logger for it. Ignored when Logger is set.
	LogPath string

	// Clock supplies the time source used for idle and dial deadlines.
	// Tests inject a mock clock here; nil means the wall clock.
	Clock clock.Clock

	// MaxFrameLength is the largest payload length accepted from a remote
	// peer and the largest payload Send will take. Frames declaring more
	// than this are malformed and fail the connection.
	MaxFrameLength int

	// ReadBufferCap is the size of the buffer each Service call reads
	// socket data into before decoding.
	ReadBufferCap int

	// WriteBufferCap bounds the framed bytes staged per peer awaiting
	// socket writes. Queued packets beyond the cap wait in the packet
	// queue; the cap only limits the staging buffer.
	WriteBufferCap int

	// IdleTimeout times out connected peers that have neither sent nor
	// received traffic for the duration. Zero means DefaultIdleTimeout,
	// negative disables idle timeouts.
	IdleTimeout time.Duration

	// ConnectTimeout fails dials that have not completed within the
	// duration. Zero means DefaultConnectTimeout, negative disables the
	// deadline.
	ConnectTimeout time.Duration

	// PollEventsCap is the maximum number of readiness events consumed
	// from the kernel per Service call.
	PollEventsCap int

	// ReuseAddr indicates whether to set the SO_REUSEADDR socket option
	// on the listener.
	ReuseAddr bool

	// TCPNoDelay controls whether the operating system should delay
	// packet transmission in hopes of sending fewer packets (Nagle's
	// algorithm).
	//
	// The default is true (no delay), meaning that data is sent
	// as soon as possible after a write operation.
	TCPNoDelay TCPSocketOpt

	// SocketRecvBuffer sets the maximum socket receive buffer of the
	// connection sockets in bytes.
	SocketRecvBuffer int

	// SocketSendBuffer sets the maximum socket send buffer of the
	// connection sockets in bytes.
	SocketSendBuffer int
}

// WithOptions sets up all options.
func WithOptions(options Options) Option {
	return func(opts *Options) {
		*opts = options
	}
}

// WithLogger sets up a customized logger.
func WithLogger(logger *zap.Logger) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithLogPath is an option to set up the local path of log file.
func WithLogPath(fileName string) Option {
	return func(opts *Options) {
		opts.LogPath = fileName
	}
}

// WithClock supplies the clock used for idle and dial deadlines.
func WithClock(c clock.Clock) Option {
	return func(opts *Options) {
		opts.Clock = c
	}
}

// WithMaxFrameLength sets the largest payload length accepted or sent.
func WithMaxFrameLength(n int) Option {
	return func(opts *Options) {
		opts.MaxFrameLength = n
	}
}

// WithReadBufferCap sets up ReadBufferCap, the size of the read scratch
// buffer, rounded up to the closest power of two.
func WithReadBufferCap(readBufferCap int) Option {
	return func(opts *Options) {
		opts.ReadBufferCap = readBufferCap
	}
}

// WithWriteBufferCap sets up WriteBufferCap, the per-peer staging bound,
// rounded up to the closest power of two.
func WithWriteBufferCap(writeBufferCap int) Option {
	return func(opts *Options) {
		opts.WriteBufferCap = writeBufferCap
	}
}

// WithIdleTimeout sets up the timeout for silent peers.
func WithIdleTimeout(d time.Duration) Option {
	return func(opts *Options) {
		opts.IdleTimeout = d
	}
}

// WithConnectTimeout sets up the deadline for in-progress dials.
func WithConnectTimeout(d time.Duration) Option {
	return func(opts *Options) {
		opts.ConnectTimeout = d
	}
}

// WithPollEventsCap sets the readiness events consumed per poll.
func WithPollEventsCap(n int) Option {
	return func(opts *Options) {
		opts.PollEventsCap = n
	}
}

// WithReuseAddr sets up SO_REUSEADDR socket option on the listener.
func WithReuseAddr(reuseAddr bool) Option {
	return func(opts *Options) {
		opts.ReuseAddr = reuseAddr
	}
}

// WithTCPNoDelay enable/disable the TCP_NODELAY socket option.
func WithTCPNoDelay(tcpNoDelay TCPSocketOpt) Option {
	return func(opts *Options) {
		opts.TCPNoDelay = tcpNoDelay
	}
}

// WithSocketRecvBuffer sets the maximum socket receive buffer in bytes.
func WithSocketRecvBuffer(recvBuf int) Option {
	return func(opts *Options) {
		opts.SocketRecvBuffer = recvBuf
	}
}

// WithSocketSendBuffer sets the maximum socket send buffer in bytes.
func WithSocketSendBuffer(sendBuf int) Option {
	return func(opts *Options) {
		opts.SocketSendBuffer = sendBuf
	}
}

func (o *Options) normalize() {
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	// Anything above 1 GiB would make a single hostile header pin the
	// decoder; treat it like an unset value.
	if o.MaxFrameLength <= 0 || o.MaxFrameLength > 1<<30 {
		o.MaxFrameLength = DefaultMaxFrameLength
	}
	if o.ReadBufferCap <= 0 {
		o.ReadBufferCap = DefaultReadBufferCap
	} else {
		o.ReadBufferCap = ceilPow2(o.ReadBufferCap)
	}
	if o.WriteBufferCap <= 0 {
		o.WriteBufferCap = DefaultWriteBufferCap
	} else {
		o.WriteBufferCap = ceilPow2(o.WriteBufferCap)
	}
	if o.IdleTimeout == 0 {
		o.IdleTimeout = DefaultIdleTimeout
	} else if o.IdleTimeout < 0 {
		o.IdleTimeout = 0
	}
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	} else if o.ConnectTimeout < 0 {
		o.ConnectTimeout = 0
	}
	if o.PollEventsCap <= 0 {
		o.PollEventsCap = DefaultPollEventsCap
	}
}

// listenSocketOptions are the socket options applied to the listener fd.
func (o *Options) listenSocketOptions() sockets.SocketOptions {
	return sockets.SocketOptions{
		ReuseAddr: o.ReuseAddr,
	}
}

// connSocketOptions are the socket options applied to dialed and accepted
// connection fds.
func (o *Options) connSocketOptions() sockets.SocketOptions {
	return sockets.SocketOptions{
		TCPNoDelay:       o.TCPNoDelay,
		SocketRecvBuffer: o.SocketRecvBuffer,
		SocketSendBuffer: o.SocketSendBuffer,
	}
}

// ceilPow2 rounds n up to the closest power of two, with a floor of 64 so
// a staging buffer can always hold a frame header and at least one byte.
func ceilPow2(n int) int {
	v := 64
	for v < n {
		v <<= 1
	}
	return v
}
