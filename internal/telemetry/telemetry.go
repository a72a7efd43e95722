// Package telemetry exposes prometheus counters for the routing and
// pipelining hot paths.  Counters are registered eagerly; if the
// embedding process never serves a metrics endpoint the registration is
// harmless.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CommandsRouted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shardpipe_commands_routed_total",
		Help: "Commands accepted by a mapping client and enqueued on a host buffer",
	})
	FanoutCommands = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shardpipe_fanout_commands_total",
		Help: "Per-host command copies enqueued by fanout clients",
	})
	PipelineFlushes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shardpipe_pipeline_flushes_total",
		Help: "Pipeline payloads written to backend connections",
	})
	CoalescedBatches = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shardpipe_coalesced_batches_total",
		Help: "Batched commands emitted by the coalescer (groups of size 2 or more)",
	})
	CommandsCoalesced = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shardpipe_commands_coalesced_total",
		Help: "Original commands absorbed into coalesced batches",
	})
	InlineRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shardpipe_inline_retries_total",
		Help: "One-shot retries taken by the inline routed execute path",
	})
	BufferFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shardpipe_buffer_failures_total",
		Help: "Command buffers released because of a transport or protocol error",
	})
)

func init() {
	prometheus.MustRegister(
		CommandsRouted,
		FanoutCommands,
		PipelineFlushes,
		CoalescedBatches,
		CommandsCoalesced,
		InlineRetries,
		BufferFailures,
	)
}

// ServeMetrics exposes /metrics on addr in a background goroutine.
func ServeMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		_ = server.ListenAndServe()
	}()
}
