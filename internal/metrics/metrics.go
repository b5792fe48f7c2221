// Package metrics defines Prometheus metrics for the Reactor.
// Directly grounded on the teacher's internal/metrics/metrics.go
// package-level promauto var block idiom, relabeled for this domain.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsActive tracks the current number of live connections.
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reactor_connections_active",
		Help: "Number of currently live connections",
	})

	// ConnectionsTotal counts connections accepted over the process lifetime.
	ConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reactor_connections_total",
		Help: "Total connections accepted",
	})

	// ConnectionsRejected counts connections refused because max_connections was reached.
	ConnectionsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reactor_connections_rejected_total",
		Help: "Total connections refused because the configured max_connections was reached",
	})

	// AcceptErrors counts non-transient accept() failures.
	AcceptErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reactor_accept_errors_total",
		Help: "Total non-transient errors from accept()",
	})

	// ForcedDisconnects counts connections closed for exceeding the read accumulator cap.
	ForcedDisconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reactor_forced_disconnects_total",
		Help: "Total connections forcibly closed for exceeding the read accumulator cap",
	})

	// FramesDecoded counts frames delivered to the message handler.
	FramesDecoded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reactor_frames_decoded_total",
		Help: "Total newline-delimited frames delivered to the handler",
	})

	// BytesIn and BytesOut track cumulative socket I/O.
	BytesIn = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reactor_bytes_in_total",
		Help: "Total bytes read from client sockets",
	})
	BytesOut = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reactor_bytes_out_total",
		Help: "Total bytes written to client sockets",
	})

	// MemoryCurrent and MemoryPeak mirror the MemoryAccountant counters.
	MemoryCurrent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reactor_memory_current_bytes",
		Help: "Current bytes charged against pooled buffers",
	})
	MemoryPeak = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reactor_memory_peak_bytes",
		Help: "Peak bytes ever charged against pooled buffers",
	})
	MemoryCeilingExceeded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reactor_memory_ceiling_exceeded",
		Help: "1 if current memory usage exceeds the configured ceiling, else 0",
	})

	// BufferPoolFree/Acquired/Hits/Misses/Discards are labeled by pool name ("outbound", "scratch").
	BufferPoolFree = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "reactor_buffer_pool_free",
		Help: "Number of free buffers in the pool's free-list",
	}, []string{"pool"})
	BufferPoolAcquired = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "reactor_buffer_pool_acquired",
		Help: "Number of buffers currently loaned out from the pool",
	}, []string{"pool"})
	BufferPoolHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reactor_buffer_pool_hits_total",
		Help: "Total Acquire calls served from the free-list",
	}, []string{"pool"})
	BufferPoolMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reactor_buffer_pool_misses_total",
		Help: "Total Acquire calls that allocated fresh or returned nil",
	}, []string{"pool"})
	BufferPoolDiscards = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reactor_buffer_pool_discards_total",
		Help: "Total buffers destroyed on Release because the free-list was full",
	}, []string{"pool"})
)

// ObserveBufferPool pushes a snapshot of pool counters under the given
// label. It is called from cmd/reactord's periodic metrics sampler,
// not on every pool mutation.
func ObserveBufferPool(poolName string, free, acquired int64) {
	BufferPoolFree.WithLabelValues(poolName).Set(float64(free))
	BufferPoolAcquired.WithLabelValues(poolName).Set(float64(acquired))
}
