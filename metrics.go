package asnet

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
)

// hostStats are the Host's lifetime counters. They are atomics only so
// that Stats and the prometheus collector may read them from scrape
// goroutines; the loop goroutine is the sole writer.
type hostStats struct {
	accepted        atomic.Uint64
	dialed          atomic.Uint64
	peers           atomic.Int64
	packetsSent     atomic.Uint64
	packetsReceived atomic.Uint64
	bytesSent       atomic.Uint64
	bytesReceived   atomic.Uint64
	disconnects     atomic.Uint64
}

// HostStats is a point-in-time snapshot of a Host's counters.
type HostStats struct {
	// Accepted counts connections taken off the listener.
	Accepted uint64
	// Dialed counts Connect calls that produced a peer.
	Dialed uint64
	// Peers is the number of currently tracked peers.
	Peers int64
	// PacketsSent counts packets accepted by Send.
	PacketsSent uint64
	// PacketsReceived counts decoded frames delivered as Receive events.
	PacketsReceived uint64
	// BytesSent and BytesReceived count wire bytes, framing included.
	BytesSent     uint64
	BytesReceived uint64
	// Disconnects counts terminal Disconnect events, whatever the reason.
	Disconnects uint64
}

// Stats returns a snapshot of the Host's counters. Unlike the rest of the
// API it is safe to call from any goroutine.
func (h *Host) Stats() HostStats {
	return HostStats{
		Accepted:        h.stats.accepted.Load(),
		Dialed:          h.stats.dialed.Load(),
		Peers:           h.stats.peers.Load(),
		PacketsSent:     h.stats.packetsSent.Load(),
		PacketsReceived: h.stats.packetsReceived.Load(),
		BytesSent:       h.stats.bytesSent.Load(),
		BytesReceived:   h.stats.bytesReceived.Load(),
		Disconnects:     h.stats.disconnects.Load(),
	}
}

type collector struct {
	host *Host

	accepted        *prometheus.Desc
	dialed          *prometheus.Desc
	peers           *prometheus.Desc
	packetsSent     *prometheus.Desc
	packetsReceived *prometheus.Desc
	bytesSent       *prometheus.Desc
	bytesReceived   *prometheus.Desc
	disconnects     *prometheus.Desc
}

// NewCollector returns a prometheus.Collector exposing h's counters. Every
// metric carries a "host" label with the Host's short instance id, so
// several hosts can register against one registry.
func NewCollector(h *Host) prometheus.Collector {
	labels := prometheus.Labels{"host": h.id}
	return &collector{
		host: h,
		accepted: prometheus.NewDesc(
			"asnet_connections_accepted_total",
			"Connections taken off the listener.",
			nil, labels,
		),
		dialed: prometheus.NewDesc(
			"asnet_connections_dialed_total",
			"Outbound dials started.",
			nil, labels,
		),
		peers: prometheus.NewDesc(
			"asnet_peers",
			"Currently tracked peers.",
			nil, labels,
		),
		packetsSent: prometheus.NewDesc(
			"asnet_packets_sent_total",
			"Packets accepted for sending.",
			nil, labels,
		),
		packetsReceived: prometheus.NewDesc(
			"asnet_packets_received_total",
			"Frames decoded and delivered as Receive events.",
			nil, labels,
		),
		bytesSent: prometheus.NewDesc(
			"asnet_bytes_sent_total",
			"Wire bytes written, framing included.",
			nil, labels,
		),
		bytesReceived: prometheus.NewDesc(
			"asnet_bytes_received_total",
			"Wire bytes read, framing included.",
			nil, labels,
		),
		disconnects: prometheus.NewDesc(
			"asnet_disconnects_total",
			"Terminal disconnects, any reason.",
			nil, labels,
		),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.accepted
	ch <- c.dialed
	ch <- c.peers
	ch <- c.packetsSent
	ch <- c.packetsReceived
	ch <- c.bytesSent
	ch <- c.bytesReceived
	ch <- c.disconnects
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	s := c.host.Stats()
	ch <- prometheus.MustNewConstMetric(c.accepted, prometheus.CounterValue, float64(s.Accepted))
	ch <- prometheus.MustNewConstMetric(c.dialed, prometheus.CounterValue, float64(s.Dialed))
	ch <- prometheus.MustNewConstMetric(c.peers, prometheus.GaugeValue, float64(s.Peers))
	ch <- prometheus.MustNewConstMetric(c.packetsSent, prometheus.CounterValue, float64(s.PacketsSent))
	ch <- prometheus.MustNewConstMetric(c.packetsReceived, prometheus.CounterValue, float64(s.PacketsReceived))
	ch <- prometheus.MustNewConstMetric(c.bytesSent, prometheus.CounterValue, float64(s.BytesSent))
	ch <- prometheus.MustNewConstMetric(c.bytesReceived, prometheus.CounterValue, float64(s.BytesReceived))
	ch <- prometheus.MustNewConstMetric(c.disconnects, prometheus.CounterValue, float64(s.Disconnects))
}
