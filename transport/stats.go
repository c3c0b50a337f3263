package transport

import "github.com/prometheus/client_golang/prometheus"

// Stats is the plain-struct view returned by get_stats().
type Stats struct {
	SRTTMs         float64
	RTOMs          uint32
	SendNum        int64
	RecvNum        int64
	PendingCount   uint32
	TotalSentBytes uint64
	TotalRecvBytes uint64
}

// Collector exposes a Session's live state as Prometheus gauges on every
// scrape, supplementing get_stats() rather than replacing it.
type Collector struct {
	session *Session

	srtt           *prometheus.Desc
	rto            *prometheus.Desc
	sendNum        *prometheus.Desc
	recvNum        *prometheus.Desc
	pendingCount   *prometheus.Desc
	totalSentBytes *prometheus.Desc
	totalRecvBytes *prometheus.Desc
}

// NewCollector returns a prometheus.Collector reporting s's live stats on
// every scrape. s must outlive the collector's registration.
func NewCollector(s *Session) *Collector {
	return &Collector{
		session:        s,
		srtt:           prometheus.NewDesc("moshtun_srtt_ms", "Smoothed round-trip time estimate in milliseconds.", nil, nil),
		rto:            prometheus.NewDesc("moshtun_rto_ms", "Current retransmission timeout in milliseconds.", nil, nil),
		sendNum:        prometheus.NewDesc("moshtun_send_num", "Next outgoing instruction sequence number.", nil, nil),
		recvNum:        prometheus.NewDesc("moshtun_recv_num", "Highest in-order instruction sequence number accepted.", nil, nil),
		pendingCount:   prometheus.NewDesc("moshtun_pending_count", "Number of not-yet-acknowledged outbound instructions.", nil, nil),
		totalSentBytes: prometheus.NewDesc("moshtun_total_sent_bytes", "Total application bytes sent.", nil, nil),
		totalRecvBytes: prometheus.NewDesc("moshtun_total_recv_bytes", "Total application bytes delivered.", nil, nil),
	}
}

func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.srtt
	descs <- c.rto
	descs <- c.sendNum
	descs <- c.recvNum
	descs <- c.pendingCount
	descs <- c.totalSentBytes
	descs <- c.totalRecvBytes
}

func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	s := c.session.GetStats()
	metrics <- prometheus.MustNewConstMetric(c.srtt, prometheus.GaugeValue, s.SRTTMs)
	metrics <- prometheus.MustNewConstMetric(c.rto, prometheus.GaugeValue, float64(s.RTOMs))
	metrics <- prometheus.MustNewConstMetric(c.sendNum, prometheus.GaugeValue, float64(s.SendNum))
	metrics <- prometheus.MustNewConstMetric(c.recvNum, prometheus.GaugeValue, float64(s.RecvNum))
	metrics <- prometheus.MustNewConstMetric(c.pendingCount, prometheus.GaugeValue, float64(s.PendingCount))
	metrics <- prometheus.MustNewConstMetric(c.totalSentBytes, prometheus.CounterValue, float64(s.TotalSentBytes))
	metrics <- prometheus.MustNewConstMetric(c.totalRecvBytes, prometheus.CounterValue, float64(s.TotalRecvBytes))
}
