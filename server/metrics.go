// File: server/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus metrics for the server. Registered once per process on the
// default registry; every Server instance shares them.

package server

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/momentics/hioload-tcp/pool"
)

type serverMetrics struct {
	connectionsActive prometheus.Gauge
	connectionsTotal  prometheus.Counter
	connectionsPeak   prometheus.Gauge

	framesIn  prometheus.Counter
	framesOut prometheus.Counter
	bytesIn   prometheus.Counter
	bytesOut  prometheus.Counter

	pooledBytes     prometheus.GaugeFunc
	pooledBytesPeak prometheus.GaugeFunc

	poolFreeBuffers     prometheus.Gauge
	poolAcquiredBuffers prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *serverMetrics
)

func sharedMetrics(tracker *pool.MemoryTracker) *serverMetrics {
	metricsOnce.Do(func() {
		metricsInst = &serverMetrics{
			connectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "hioload_tcp_connections_active",
				Help: "Currently tracked client connections",
			}),
			connectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "hioload_tcp_connections_total",
				Help: "Total accepted client connections",
			}),
			connectionsPeak: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "hioload_tcp_connections_peak",
				Help: "Highest concurrent connection count seen",
			}),
			framesIn: promauto.NewCounter(prometheus.CounterOpts{
				Name: "hioload_tcp_frames_in_total",
				Help: "Complete frames delivered to the handler",
			}),
			framesOut: promauto.NewCounter(prometheus.CounterOpts{
				Name: "hioload_tcp_frames_out_total",
				Help: "Messages enqueued for transmission",
			}),
			bytesIn: promauto.NewCounter(prometheus.CounterOpts{
				Name: "hioload_tcp_bytes_in_total",
				Help: "Bytes drained from client sockets",
			}),
			bytesOut: promauto.NewCounter(prometheus.CounterOpts{
				Name: "hioload_tcp_bytes_out_total",
				Help: "Bytes flushed to client sockets",
			}),
			pooledBytes: promauto.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "hioload_tcp_pooled_bytes",
				Help: "Bytes currently held by pooled buffers",
			}, func() float64 { return float64(tracker.Current()) }),
			pooledBytesPeak: promauto.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "hioload_tcp_pooled_bytes_peak",
				Help: "Peak bytes held by pooled buffers",
			}, func() float64 { return float64(tracker.Peak()) }),
			poolFreeBuffers: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "hioload_tcp_pool_free_buffers",
				Help: "Buffers sitting on outbound pool free-lists",
			}),
			poolAcquiredBuffers: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "hioload_tcp_pool_acquired_buffers",
				Help: "Buffers currently loaned out of outbound pools",
			}),
		}
	})
	return metricsInst
}
